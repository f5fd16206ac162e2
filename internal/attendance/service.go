package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"facetrack/internal/employee"
	"facetrack/internal/facematch"
	"facetrack/internal/metrics"
	"facetrack/internal/queue"
)

// Matcher produces match and enrollment decisions from probe images.
type Matcher interface {
	Scan(ctx context.Context, probe string) (*facematch.Decision, error)
	Enroll(ctx context.Context, userID, probe string) (*facematch.Enrollment, error)
}

// Directory is the employee/profile storage the service composes with.
type Directory interface {
	Create(ctx context.Context, e *employee.Employee) error
	GetByID(ctx context.Context, id string) (*employee.Employee, error)
	Delete(ctx context.Context, id string) error
	SaveProfile(ctx context.Context, p employee.Profile) error
}

// Limiter bounds scan attempts per user per day.
type Limiter interface {
	Bump(ctx context.Context, userID string, max int) error
}

// ThumbnailStore uploads a face thumbnail and returns its public URL.
type ThumbnailStore interface {
	UploadBase64(data string) (string, error)
}

// Event is published for every successful mark so downstream consumers can
// maintain aggregates without touching the ledger.
type Event struct {
	UserID string    `json:"user_id"`
	Action string    `json:"action"`
	Status string    `json:"status"`
	Day    string    `json:"day"`
	At     time.Time `json:"at"`
}

// Service is the composition root: it turns a probe image into a durable
// attendance decision.
type Service struct {
	matcher  Matcher
	ledger   *Ledger
	dir      Directory
	settings SettingsSource
	limiter  Limiter
	thumbs   ThumbnailStore
	queue    queue.Queue
}

// NewService wires the scan/enroll flow. thumbs and q may be nil.
func NewService(matcher Matcher, ledger *Ledger, dir Directory, settings SettingsSource, limiter Limiter, thumbs ThumbnailStore, q queue.Queue) *Service {
	return &Service{
		matcher:  matcher,
		ledger:   ledger,
		dir:      dir,
		settings: settings,
		limiter:  limiter,
		thumbs:   thumbs,
		queue:    q,
	}
}

// ScanResult is the decision returned for a scan probe.
type ScanResult struct {
	Matched    bool               `json:"matched"`
	BestScore  float64            `json:"best_score,omitempty"`
	Action     string             `json:"action,omitempty"`
	Status     string             `json:"status,omitempty"`
	Confidence float64            `json:"confidence,omitempty"`
	At         time.Time          `json:"at,omitempty"`
	Employee   *employee.Employee `json:"employee,omitempty"`
}

// Scan matches the probe and, on a match, drives the ledger state machine.
// A non-match is a normal result with Matched=false.
func (s *Service) Scan(ctx context.Context, probe string) (*ScanResult, error) {
	decision, err := s.matcher.Scan(ctx, probe)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if !decision.Matched {
		metrics.ScansTotal.WithLabelValues("not_recognized").Inc()
		return &ScanResult{Matched: false, BestScore: decision.BestScore}, nil
	}

	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if cfg.LivenessRequired && !decision.Live {
		metrics.ScansTotal.WithLabelValues("liveness_failed").Inc()
		return nil, ErrLivenessFailed
	}
	if s.limiter != nil {
		if err := s.limiter.Bump(ctx, decision.UserID, cfg.MaxScanAttempts); err != nil {
			metrics.ScansTotal.WithLabelValues("rejected").Inc()
			return nil, err
		}
	}

	mark, err := s.ledger.Mark(ctx, decision.UserID, decision.Confidence, decision.Live)
	if err != nil {
		metrics.ScansTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	metrics.ScansTotal.WithLabelValues("matched").Inc()
	metrics.MarksTotal.WithLabelValues(mark.Action).Inc()

	emp, err := s.dir.GetByID(ctx, decision.UserID)
	if err != nil {
		log.Printf("employee lookup failed for %s: %v", decision.UserID, err)
	}

	at := mark.Record.CheckInAt
	if mark.Action == ActionCheckOut && mark.Record.CheckOutAt != nil {
		at = *mark.Record.CheckOutAt
	}

	s.publish(ctx, Event{
		UserID: decision.UserID,
		Action: mark.Action,
		Status: mark.Record.Status,
		Day:    mark.Record.Day.Format("2006-01-02"),
		At:     at,
	})

	return &ScanResult{
		Matched:    true,
		Action:     mark.Action,
		Status:     mark.Record.Status,
		Confidence: decision.Confidence,
		At:         at,
		Employee:   emp,
	}, nil
}

// EnrollRequest is the payload for enrolling a new employee face.
type EnrollRequest struct {
	Name       string `json:"name" binding:"required"`
	EmployeeID string `json:"employee_id" binding:"required"`
	Department string `json:"department"`
	Image      string `json:"image" binding:"required"`
}

// Enroll runs the duplicate check, produces the embedding, and persists the
// employee with their face profile. A duplicate probe creates nothing.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*employee.Employee, error) {
	emp := &employee.Employee{
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		Name:       strings.TrimSpace(req.Name),
		Department: strings.TrimSpace(req.Department),
	}

	enr, err := s.matcher.Enroll(ctx, "", req.Image)
	if err != nil {
		return nil, err
	}

	thumbnail := enr.Thumbnail
	if s.thumbs != nil && thumbnail != "" {
		url, err := s.thumbs.UploadBase64(thumbnail)
		if err != nil {
			log.Printf("thumbnail upload failed: %v", err)
		} else {
			thumbnail = url
		}
	}

	if err := s.dir.Create(ctx, emp); err != nil {
		return nil, err
	}
	if err := s.dir.SaveProfile(ctx, employee.Profile{
		UserID:    emp.ID,
		Name:      emp.Name,
		Embedding: enr.Embedding,
		Quality:   enr.Quality,
		Thumbnail: thumbnail,
	}); err != nil {
		// The profile insert is the commit point; without it the employee
		// row must not survive.
		if derr := s.dir.Delete(ctx, emp.ID); derr != nil {
			log.Printf("employee cleanup failed for %s: %v", emp.ID, derr)
		}
		return nil, err
	}

	emp.Enrolled = true
	emp.Thumbnail = thumbnail
	now := time.Now().UTC()
	emp.EnrolledAt = &now
	return emp, nil
}

// publish is best effort; a queue outage never fails the mark.
func (s *Service) publish(ctx context.Context, evt Event) {
	if s.queue == nil {
		return
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return
	}
	if err := s.queue.Publish(ctx, queue.Message{Type: "attendance", Body: body}); err != nil {
		log.Printf("queue publish failed: %v", err)
	}
}
