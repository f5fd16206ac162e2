package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Settings holds the admin-tunable business rules. Thresholds are cosine
// similarity fractions in [0,1]; deadlines are wall-clock HH:MM strings.
type Settings struct {
	ArrivalDeadline     string    `json:"arrival_deadline"`
	HalfDayAfter        string    `json:"half_day_after"`
	MatchThreshold      float64   `json:"match_threshold"`
	DuplicateThreshold  float64   `json:"duplicate_threshold"`
	LivenessRequired    bool      `json:"liveness_required"`
	MaxScanAttempts     int       `json:"max_scan_attempts"`
	CheckoutCooldownSec int       `json:"checkout_cooldown_seconds"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Cooldown returns the minimum elapsed time between check-in and check-out.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CheckoutCooldownSec) * time.Second
}

// Defaults returns the settings used when no row exists yet.
func Defaults() Settings {
	return Settings{
		ArrivalDeadline:     "09:30",
		HalfDayAfter:        "13:00",
		MatchThreshold:      0.55,
		DuplicateThreshold:  0.65,
		LivenessRequired:    true,
		MaxScanAttempts:     5,
		CheckoutCooldownSec: 300,
	}
}

// Validate checks a settings payload before it replaces the singleton.
func (s Settings) Validate() error {
	if _, err := ParseClock(s.ArrivalDeadline); err != nil {
		return fmt.Errorf("arrival_deadline: %w", err)
	}
	if _, err := ParseClock(s.HalfDayAfter); err != nil {
		return fmt.Errorf("half_day_after: %w", err)
	}
	if s.MatchThreshold <= 0 || s.MatchThreshold > 1 {
		return errors.New("match_threshold must be in (0,1]")
	}
	if s.DuplicateThreshold <= 0 || s.DuplicateThreshold > 1 {
		return errors.New("duplicate_threshold must be in (0,1]")
	}
	if s.MaxScanAttempts <= 0 {
		return errors.New("max_scan_attempts must be positive")
	}
	if s.CheckoutCooldownSec < 0 {
		return errors.New("checkout_cooldown_seconds must not be negative")
	}
	return nil
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour, Minute int
}

// ParseClock parses an HH:MM string.
func ParseClock(v string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(v, "%d:%d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("invalid HH:MM value %q", v)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("invalid HH:MM value %q", v)
	}
	return c, nil
}

// Exceeded reports whether t's time of day falls strictly after the clock value.
func (c Clock) Exceeded(t time.Time) bool {
	h, m := t.Hour(), t.Minute()
	return h > c.Hour || (h == c.Hour && m > c.Minute)
}

// Provider reads and replaces the settings singleton in Postgres.
type Provider struct {
	db *sql.DB
}

// NewProvider creates a provider.
func NewProvider(db *sql.DB) *Provider {
	return &Provider{db: db}
}

// Get returns the current settings. A missing row is materialized from
// Defaults so callers always observe a valid configuration.
func (p *Provider) Get(ctx context.Context) (Settings, error) {
	s, err := p.read(ctx)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, err
	}
	def := Defaults()
	// Another request may insert concurrently; DO NOTHING keeps the first row.
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO system_settings
			(id, arrival_deadline, half_day_after, match_threshold, duplicate_threshold,
			 liveness_required, max_scan_attempts, checkout_cooldown)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, def.ArrivalDeadline, def.HalfDayAfter, def.MatchThreshold, def.DuplicateThreshold,
		def.LivenessRequired, def.MaxScanAttempts, def.CheckoutCooldownSec)
	if err != nil {
		return Settings{}, err
	}
	return p.read(ctx)
}

// Put replaces the singleton with the provided settings.
func (p *Provider) Put(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO system_settings
			(id, arrival_deadline, half_day_after, match_threshold, duplicate_threshold,
			 liveness_required, max_scan_attempts, checkout_cooldown, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (id) DO UPDATE SET
			arrival_deadline    = EXCLUDED.arrival_deadline,
			half_day_after      = EXCLUDED.half_day_after,
			match_threshold     = EXCLUDED.match_threshold,
			duplicate_threshold = EXCLUDED.duplicate_threshold,
			liveness_required   = EXCLUDED.liveness_required,
			max_scan_attempts   = EXCLUDED.max_scan_attempts,
			checkout_cooldown   = EXCLUDED.checkout_cooldown,
			updated_at          = NOW()
	`, s.ArrivalDeadline, s.HalfDayAfter, s.MatchThreshold, s.DuplicateThreshold,
		s.LivenessRequired, s.MaxScanAttempts, s.CheckoutCooldownSec)
	return err
}

func (p *Provider) read(ctx context.Context) (Settings, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT arrival_deadline, half_day_after, match_threshold, duplicate_threshold,
		       liveness_required, max_scan_attempts, checkout_cooldown, updated_at
		FROM system_settings WHERE id = 1
	`)
	var s Settings
	if err := row.Scan(&s.ArrivalDeadline, &s.HalfDayAfter, &s.MatchThreshold,
		&s.DuplicateThreshold, &s.LivenessRequired, &s.MaxScanAttempts,
		&s.CheckoutCooldownSec, &s.UpdatedAt); err != nil {
		return Settings{}, err
	}
	return s, nil
}
