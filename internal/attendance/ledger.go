package attendance

import (
	"context"
	"fmt"
	"time"

	"facetrack/internal/settings"

	"github.com/google/uuid"
)

// Record statuses, fixed at check-in and never recomputed.
const (
	StatusPresent = "present"
	StatusLate    = "late"
	StatusHalfDay = "half-day"
)

// Mark actions.
const (
	ActionCheckIn  = "check-in"
	ActionCheckOut = "check-out"
)

// Record is one employee's attendance for one calendar day.
type Record struct {
	ID           string     `json:"id"`
	UserID       string     `json:"user_id"`
	Day          time.Time  `json:"day"`
	CheckInAt    time.Time  `json:"check_in_at"`
	CheckInConf  float64    `json:"check_in_confidence"`
	CheckInLive  bool       `json:"check_in_live"`
	CheckOutAt   *time.Time `json:"check_out_at,omitempty"`
	CheckOutConf *float64   `json:"check_out_confidence,omitempty"`
	CheckOutLive *bool      `json:"check_out_live,omitempty"`
	Status       string     `json:"status"`
	Method       string     `json:"method"`
}

// Terminal reports whether the record can no longer be mutated.
func (r *Record) Terminal() bool { return r.CheckOutAt != nil }

// Store is the storage contract the ledger depends on. Implementations must
// make InsertIfAbsent and SetCheckOut atomic under concurrent same-key calls.
type Store interface {
	// InsertIfAbsent writes rec unless a record for (user, day) exists.
	// Returns false without error when the insert lost to an existing record.
	InsertIfAbsent(ctx context.Context, rec Record) (bool, error)
	// Get returns the record for (user, day), nil when absent.
	Get(ctx context.Context, userID string, day time.Time) (*Record, error)
	// SetCheckOut sets the check-out fields only if check-out is still unset.
	// Returns false without error when the record was already terminal.
	SetCheckOut(ctx context.Context, userID string, day, at time.Time, conf float64, live bool) (bool, error)
}

// SettingsSource exposes the current business rules.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Ledger owns the per-(user, day) attendance state machine:
// no record -> checked in -> checked out (terminal).
type Ledger struct {
	store    Store
	settings SettingsSource
	now      func() time.Time
}

// NewLedger creates a ledger.
func NewLedger(store Store, settings SettingsSource) *Ledger {
	return &Ledger{store: store, settings: settings, now: time.Now}
}

// MarkResult is the decision produced by a successful mark.
type MarkResult struct {
	Action string `json:"action"`
	Record Record `json:"record"`
}

// Mark transitions the state machine for userID on the current day. The first
// successful mark checks in; the next one past the cooldown checks out; any
// further mark is rejected. Confidence is a fraction in [0,1].
func (l *Ledger) Mark(ctx context.Context, userID string, confidence float64, live bool) (*MarkResult, error) {
	cfg, err := l.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	now := l.now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	rec, err := l.store.Get(ctx, userID, day)
	if err != nil {
		return nil, err
	}

	if rec == nil {
		candidate := Record{
			ID:          uuid.NewString(),
			UserID:      userID,
			Day:         day,
			CheckInAt:   now,
			CheckInConf: confidence,
			CheckInLive: live,
			Status:      statusAt(now, cfg),
			Method:      "face",
		}
		inserted, err := l.store.InsertIfAbsent(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if inserted {
			return &MarkResult{Action: ActionCheckIn, Record: candidate}, nil
		}
		// Lost the insert race: a concurrent scan created the record first.
		// Treat it as an existing record and continue on the check-out path.
		rec, err = l.store.Get(ctx, userID, day)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("attendance record for %s vanished after insert conflict", userID)
		}
	}

	if rec.Terminal() {
		return nil, ErrAlreadyComplete
	}
	if now.Sub(rec.CheckInAt) < cfg.Cooldown() {
		return nil, ErrTooSoonToCheckOut
	}

	updated, err := l.store.SetCheckOut(ctx, userID, day, now, confidence, live)
	if err != nil {
		return nil, err
	}
	if !updated {
		// A concurrent scan checked out first; the record is terminal now.
		return nil, ErrAlreadyComplete
	}

	rec.CheckOutAt = &now
	rec.CheckOutConf = &confidence
	rec.CheckOutLive = &live
	return &MarkResult{Action: ActionCheckOut, Record: *rec}, nil
}

// statusAt fixes the record status from the check-in wall-clock time.
func statusAt(now time.Time, cfg settings.Settings) string {
	if half, err := settings.ParseClock(cfg.HalfDayAfter); err == nil && half.Exceeded(now) {
		return StatusHalfDay
	}
	if deadline, err := settings.ParseClock(cfg.ArrivalDeadline); err == nil && deadline.Exceeded(now) {
		return StatusLate
	}
	return StatusPresent
}
