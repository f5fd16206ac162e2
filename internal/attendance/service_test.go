package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"facetrack/internal/employee"
	"facetrack/internal/facematch"
	"facetrack/internal/queue"
	"facetrack/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMatcher struct {
	decision   *facematch.Decision
	enrollment *facematch.Enrollment
	err        error
}

func (m *fakeMatcher) Scan(context.Context, string) (*facematch.Decision, error) {
	return m.decision, m.err
}

func (m *fakeMatcher) Enroll(context.Context, string, string) (*facematch.Enrollment, error) {
	return m.enrollment, m.err
}

type fakeDirectory struct {
	created    []*employee.Employee
	profiles   []employee.Profile
	deleted    []string
	byID       map[string]*employee.Employee
	profileErr error
}

func (d *fakeDirectory) Create(_ context.Context, e *employee.Employee) error {
	e.ID = "emp-" + e.EmployeeID
	d.created = append(d.created, e)
	return nil
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (*employee.Employee, error) {
	return d.byID[id], nil
}

func (d *fakeDirectory) Delete(_ context.Context, id string) error {
	d.deleted = append(d.deleted, id)
	for i, e := range d.created {
		if e.ID == id {
			d.created = append(d.created[:i], d.created[i+1:]...)
			break
		}
	}
	return nil
}

func (d *fakeDirectory) SaveProfile(_ context.Context, p employee.Profile) error {
	if d.profileErr != nil {
		return d.profileErr
	}
	d.profiles = append(d.profiles, p)
	return nil
}

type fakeLimiter struct {
	bumps int
	err   error
}

func (l *fakeLimiter) Bump(context.Context, string, int) error {
	l.bumps++
	return l.err
}

func newTestService(m Matcher, cfg settings.Settings, limiter Limiter, q queue.Queue) (*Service, *fakeDirectory, *Ledger) {
	src := fixedSettings{cfg}
	ledger := NewLedger(newMemStore(), src)
	ledger.now = func() time.Time { return at(9, 0) }
	dir := &fakeDirectory{byID: map[string]*employee.Employee{
		"user-1": {ID: "user-1", EmployeeID: "E001", Name: "Ada", Department: "Engineering"},
	}}
	return NewService(m, ledger, dir, src, limiter, nil, q), dir, ledger
}

func TestScanNotRecognizedIsNormalOutcome(t *testing.T) {
	m := &fakeMatcher{decision: &facematch.Decision{Matched: false, BestScore: 0.41}}
	svc, _, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)

	res, err := svc.Scan(context.Background(), "probe")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, 0.41, res.BestScore)
}

func TestScanRejectsFailedLivenessWhenRequired(t *testing.T) {
	m := &fakeMatcher{decision: &facematch.Decision{Matched: true, UserID: "user-1", Confidence: 0.9, Live: false}}
	svc, _, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)

	_, err := svc.Scan(context.Background(), "probe")
	assert.ErrorIs(t, err, ErrLivenessFailed)
}

func TestScanAllowsFailedLivenessWhenNotRequired(t *testing.T) {
	cfg := settings.Defaults()
	cfg.LivenessRequired = false
	m := &fakeMatcher{decision: &facematch.Decision{Matched: true, UserID: "user-1", Confidence: 0.9, Live: false}}
	svc, _, _ := newTestService(m, cfg, &fakeLimiter{}, nil)

	res, err := svc.Scan(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckIn, res.Action)
}

func TestScanRejectsWhenAttemptBudgetSpent(t *testing.T) {
	m := &fakeMatcher{decision: &facematch.Decision{Matched: true, UserID: "user-1", Confidence: 0.9, Live: true}}
	svc, _, _ := newTestService(m, settings.Defaults(), &fakeLimiter{err: ErrTooManyAttempts}, nil)

	_, err := svc.Scan(context.Background(), "probe")
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestScanMarksAndPublishes(t *testing.T) {
	m := &fakeMatcher{decision: &facematch.Decision{Matched: true, UserID: "user-1", Name: "Ada", Confidence: 0.88, Live: true}}
	q := queue.NewInMemory(4)
	svc, _, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, q)

	res, err := svc.Scan(context.Background(), "probe")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, ActionCheckIn, res.Action)
	assert.Equal(t, StatusPresent, res.Status)
	assert.Equal(t, 0.88, res.Confidence)
	require.NotNil(t, res.Employee)
	assert.Equal(t, "E001", res.Employee.EmployeeID)

	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)
	msg := <-msgs
	assert.Equal(t, "attendance", msg.Type)
	var evt Event
	require.NoError(t, json.Unmarshal(msg.Body, &evt))
	assert.Equal(t, "user-1", evt.UserID)
	assert.Equal(t, ActionCheckIn, evt.Action)
	assert.Equal(t, "2025-03-10", evt.Day)
}

func TestScanCheckOutEventCarriesCheckOutTime(t *testing.T) {
	m := &fakeMatcher{decision: &facematch.Decision{Matched: true, UserID: "user-1", Name: "Ada", Confidence: 0.9, Live: true}}
	q := queue.NewInMemory(4)
	svc, _, ledger := newTestService(m, settings.Defaults(), &fakeLimiter{}, q)

	_, err := svc.Scan(context.Background(), "probe")
	require.NoError(t, err)

	ledger.now = func() time.Time { return at(17, 30) }
	res, err := svc.Scan(context.Background(), "probe")
	require.NoError(t, err)
	assert.Equal(t, ActionCheckOut, res.Action)
	assert.True(t, res.At.Equal(at(17, 30)))

	msgs, err := q.Consume(context.Background())
	require.NoError(t, err)
	<-msgs // check-in event
	msg := <-msgs
	var evt Event
	require.NoError(t, json.Unmarshal(msg.Body, &evt))
	assert.Equal(t, ActionCheckOut, evt.Action)
	assert.True(t, evt.At.Equal(at(17, 30)), "check-out event must carry the check-out time")
}

func TestScanPropagatesMatcherErrors(t *testing.T) {
	oracleDown := errors.New("scorer offline")
	m := &fakeMatcher{err: oracleDown}
	svc, _, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)

	_, err := svc.Scan(context.Background(), "probe")
	assert.ErrorIs(t, err, oracleDown)
}

func TestEnrollPersistsEmployeeAndProfile(t *testing.T) {
	m := &fakeMatcher{enrollment: &facematch.Enrollment{
		Embedding: []float32{0.1, 0.2},
		Quality:   0.9,
		Thumbnail: "data:image/jpeg;base64,xxx",
	}}
	svc, dir, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)

	emp, err := svc.Enroll(context.Background(), EnrollRequest{
		Name:       "Grace",
		EmployeeID: "E002",
		Department: "Research",
		Image:      "probe",
	})
	require.NoError(t, err)
	assert.True(t, emp.Enrolled)
	require.Len(t, dir.created, 1)
	require.Len(t, dir.profiles, 1)
	assert.Equal(t, emp.ID, dir.profiles[0].UserID)
	assert.Equal(t, []float32{0.1, 0.2}, dir.profiles[0].Embedding)
}

func TestEnrollRemovesEmployeeWhenProfileInsertFails(t *testing.T) {
	m := &fakeMatcher{enrollment: &facematch.Enrollment{Embedding: []float32{0.1}}}
	svc, dir, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)
	profileDown := errors.New("profile insert failed")
	dir.profileErr = profileDown

	_, err := svc.Enroll(context.Background(), EnrollRequest{
		Name:       "Grace",
		EmployeeID: "E002",
		Image:      "probe",
	})
	assert.ErrorIs(t, err, profileDown)
	assert.Equal(t, []string{"emp-E002"}, dir.deleted)
	assert.Empty(t, dir.created, "no employee row may survive a failed enrollment")
	assert.Empty(t, dir.profiles)
}

func TestEnrollDuplicateFaceCreatesNothing(t *testing.T) {
	m := &fakeMatcher{err: &facematch.DuplicateFaceError{ExistingName: "Ada", Similarity: 0.8}}
	svc, dir, _ := newTestService(m, settings.Defaults(), &fakeLimiter{}, nil)

	_, err := svc.Enroll(context.Background(), EnrollRequest{
		Name:       "Grace",
		EmployeeID: "E002",
		Image:      "probe",
	})
	var dup *facematch.DuplicateFaceError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Ada", dup.ExistingName)
	assert.Empty(t, dir.created)
	assert.Empty(t, dir.profiles)
}
