package facematch

import (
	"context"
	"errors"
	"fmt"

	"facetrack/internal/employee"
	"facetrack/internal/faceoracle"
	"facetrack/internal/settings"
)

// ErrNoProfilesEnrolled means a scan was attempted with no enrolled faces to
// match against. The oracle is never called in that case.
var ErrNoProfilesEnrolled = errors.New("no face profiles enrolled yet")

// DuplicateFaceError aborts an enrollment whose probe already belongs to
// another employee. A face maps to at most one identity system-wide.
type DuplicateFaceError struct {
	ExistingName string
	Similarity   float64
}

func (e *DuplicateFaceError) Error() string {
	return fmt.Sprintf("face already enrolled for %s", e.ExistingName)
}

// Oracle is the remote scoring service consumed by the orchestrator.
type Oracle interface {
	Embed(ctx context.Context, image string) (*faceoracle.EmbedResult, error)
	Match(ctx context.Context, image string, stored []faceoracle.StoredEmbedding, threshold float64) (*faceoracle.MatchResult, error)
	DuplicateCheck(ctx context.Context, image string, stored []faceoracle.StoredEmbedding, threshold float64) (*faceoracle.DuplicateResult, error)
}

// ProfileSource loads enrolled embeddings.
type ProfileSource interface {
	ActiveProfiles(ctx context.Context, excludeUserID string) ([]employee.Profile, error)
}

// SettingsSource exposes the current business rules. Read per call so admin
// tuning takes effect on the next scan without restart.
type SettingsSource interface {
	Get(ctx context.Context) (settings.Settings, error)
}

// Decision is the outcome of a scan. A non-match is a normal decision, not an
// error. Confidence and BestScore are fractions in [0,1].
type Decision struct {
	Matched    bool
	UserID     string
	Name       string
	Confidence float64
	BestScore  float64
	Live       bool
}

// Enrollment is the embedding payload produced for a new profile; persisting
// it is the caller's concern.
type Enrollment struct {
	Embedding []float32
	Quality   float64
	Thumbnail string
}

// Orchestrator turns probe images into match and duplicate decisions.
type Orchestrator struct {
	oracle   Oracle
	profiles ProfileSource
	settings SettingsSource
}

// New creates an orchestrator.
func New(oracle Oracle, profiles ProfileSource, settings SettingsSource) *Orchestrator {
	return &Orchestrator{oracle: oracle, profiles: profiles, settings: settings}
}

// Enroll checks the probe against every other enrolled face and, if it is not
// a duplicate, produces the embedding for a new profile. No embed call is made
// for a duplicate probe.
func (o *Orchestrator) Enroll(ctx context.Context, userID, probe string) (*Enrollment, error) {
	cfg, err := o.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	others, err := o.profiles.ActiveProfiles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	if len(others) > 0 {
		dup, err := o.oracle.DuplicateCheck(ctx, probe, toStored(others), cfg.DuplicateThreshold)
		if err != nil {
			return nil, err
		}
		if dup.IsDuplicate {
			return nil, &DuplicateFaceError{ExistingName: dup.ExistingName, Similarity: dup.Similarity}
		}
	}

	emb, err := o.oracle.Embed(ctx, probe)
	if err != nil {
		return nil, err
	}
	return &Enrollment{Embedding: emb.Embedding, Quality: emb.Quality, Thumbnail: emb.Thumbnail}, nil
}

// Scan matches a probe against all active enrolled faces using the current
// match threshold.
func (o *Orchestrator) Scan(ctx context.Context, probe string) (*Decision, error) {
	cfg, err := o.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	profiles, err := o.profiles.ActiveProfiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}
	if len(profiles) == 0 {
		return nil, ErrNoProfilesEnrolled
	}

	res, err := o.oracle.Match(ctx, probe, toStored(profiles), cfg.MatchThreshold)
	if err != nil {
		return nil, err
	}
	return &Decision{
		Matched:    res.Matched,
		UserID:     res.UserID,
		Name:       res.Name,
		Confidence: res.Confidence,
		BestScore:  res.BestScore,
		Live:       res.Live,
	}, nil
}

func toStored(profiles []employee.Profile) []faceoracle.StoredEmbedding {
	stored := make([]faceoracle.StoredEmbedding, 0, len(profiles))
	for _, p := range profiles {
		stored = append(stored, faceoracle.StoredEmbedding{
			UserID:    p.UserID,
			Name:      p.Name,
			Embedding: p.Embedding,
		})
	}
	return stored
}
