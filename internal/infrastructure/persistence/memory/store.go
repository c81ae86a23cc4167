// Package memory provides in-process repositories for the risk monitor.
// They back riskctl, single-node deployments without Postgres, and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// CycleRecord is the stored summary of a committed cycle.
type CycleRecord struct {
	ID          string
	AsOf        time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Evaluated   int
	Failed      int
	Changed     int
	Raised      int
	Refreshed   int
}

// Store keeps records, assessments, alerts and cycles in memory.
// Every value crossing the API is copied, so callers never share state
// with the store.
type Store struct {
	mu          sync.RWMutex
	records     map[string]student.Records
	assessments map[string]risk.Assessment
	alerts      map[string]*notification.Alert
	cycles      []CycleRecord
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		records:     make(map[string]student.Records),
		assessments: make(map[string]risk.Assessment),
		alerts:      make(map[string]*notification.Alert),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// PutRecords inserts or replaces the records of each student.
func (s *Store) PutRecords(records ...student.Records) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r.Student.ID == "" {
			return fmt.Errorf("put records: %w", shared.ErrInvalidStudentID)
		}
		s.records[r.Student.ID] = r
	}
	return nil
}

// ListStudentIDs implements student.RecordRepository.
func (s *Store) ListStudentIDs(ctx context.Context, opts student.ListOptions) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.matchingIDs(opts)
	if opts.Offset >= len(ids) {
		return []string{}, nil
	}
	ids = ids[opts.Offset:]
	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	return ids, nil
}

// CountStudents implements student.RecordRepository.
func (s *Store) CountStudents(ctx context.Context, opts student.ListOptions) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.matchingIDs(opts)), nil
}

func (s *Store) matchingIDs(opts student.ListOptions) []string {
	ids := make([]string, 0, len(s.records))
	for id, r := range s.records {
		if opts.Matches(r.Student.EnrollmentStatus()) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// GetStudent implements student.RecordRepository.
func (s *Store) GetStudent(ctx context.Context, id string) (*student.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	st := r.Student
	return &st, nil
}

// GetRecords implements student.RecordRepository.
func (s *Store) GetRecords(ctx context.Context, id string) (*student.Records, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, shared.ErrStudentNotFound
	}
	return &r, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENTS
// ══════════════════════════════════════════════════════════════════════════════

// GetByStudent implements risk.AssessmentRepository.
func (s *Store) GetByStudent(ctx context.Context, studentID string) (*risk.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.assessments[studentID]
	if !ok {
		return nil, shared.ErrAssessmentNotFound
	}
	c := a.Clone()
	return &c, nil
}

// ListAll implements risk.AssessmentRepository. Results are ordered by student ID.
func (s *Store) ListAll(ctx context.Context) ([]risk.Assessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]risk.Assessment, 0, len(s.assessments))
	for _, a := range s.assessments {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

// ListMatching implements risk.AssessmentRepository.
func (s *Store) ListMatching(ctx context.Context, filter risk.Filter) ([]risk.Assessment, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]risk.Assessment, 0, len(all))
	for _, a := range all {
		if filter.Matches(a) {
			out = append(out, a)
		}
	}
	if filter.Offset >= len(out) {
		return []risk.Assessment{}, nil
	}
	out = out[filter.Offset:]
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CYCLE COMMIT
// ══════════════════════════════════════════════════════════════════════════════

// CommitCycle implements command.BatchCommitter. The batch is checked in
// full before anything is written, so a rejected batch leaves no trace.
func (s *Store) CommitCycle(ctx context.Context, batch command.CycleBatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	openKeys := make(map[notification.Key]string)
	for id, a := range s.alerts {
		if a.IsOpen() {
			openKeys[a.Key()] = id
		}
	}

	for _, a := range batch.Refreshed {
		if _, ok := s.alerts[a.ID]; !ok {
			return fmt.Errorf("refresh alert %s: %w", a.ID, shared.ErrAlertNotFound)
		}
	}
	for _, a := range batch.Raised {
		if _, ok := s.alerts[a.ID]; ok {
			return fmt.Errorf("raise alert %s: %w", a.ID, shared.ErrAlreadyExists)
		}
		if existing, ok := openKeys[a.Key()]; ok {
			return fmt.Errorf("raise alert %s: open alert %s has key %s: %w",
				a.ID, existing, a.Key(), shared.ErrConcurrentModification)
		}
		openKeys[a.Key()] = a.ID
	}

	for _, a := range batch.Assessments {
		s.assessments[a.StudentID] = a.Clone()
	}
	for _, id := range batch.Touched {
		if a, ok := s.assessments[id]; ok {
			a.LastUpdated = batch.AsOf
			s.assessments[id] = a
		}
	}
	for _, a := range batch.Refreshed {
		s.alerts[a.ID] = a.Clone()
	}
	for _, a := range batch.Raised {
		s.alerts[a.ID] = a.Clone()
	}

	s.cycles = append(s.cycles, CycleRecord{
		ID:          batch.CycleID,
		AsOf:        batch.AsOf,
		StartedAt:   batch.StartedAt,
		CompletedAt: batch.CompletedAt,
		Evaluated:   batch.Evaluated,
		Failed:      batch.Failed,
		Changed:     len(batch.Assessments),
		Raised:      len(batch.Raised),
		Refreshed:   len(batch.Refreshed),
	})
	return nil
}

// Cycles returns the committed cycles, oldest first.
func (s *Store) Cycles() []CycleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CycleRecord, len(s.cycles))
	copy(out, s.cycles)
	return out
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERTS
// ══════════════════════════════════════════════════════════════════════════════

// GetByID implements notification.AlertRepository.
func (s *Store) GetByID(ctx context.Context, id string) (*notification.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, shared.ErrAlertNotFound
	}
	return a.Clone(), nil
}

// ListOpenByStudent implements notification.AlertRepository.
func (s *Store) ListOpenByStudent(ctx context.Context, studentID string) ([]*notification.Alert, error) {
	return s.List(ctx, notification.Filter{StudentID: studentID, OnlyOpen: true})
}

// List implements notification.AlertRepository. Newest alerts come first.
func (s *Store) List(ctx context.Context, filter notification.Filter) ([]*notification.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*notification.Alert, 0)
	for _, a := range s.alerts {
		if filter.Matches(a) {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID < matched[j].ID
	})

	if filter.Offset >= len(matched) {
		return []*notification.Alert{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	out := make([]*notification.Alert, len(matched))
	for i, a := range matched {
		out[i] = a.Clone()
	}
	return out, nil
}

// MarkRead implements notification.AlertRepository.
func (s *Store) MarkRead(ctx context.Context, id string) (*notification.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, shared.ErrAlertNotFound
	}
	a.MarkRead()
	return a.Clone(), nil
}

// MarkAllRead implements notification.AlertRepository.
func (s *Store) MarkAllRead(ctx context.Context, filter notification.Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, a := range s.alerts {
		if !a.Read && filter.Matches(a) {
			a.MarkRead()
			n++
		}
	}
	return n, nil
}

// Resolve implements notification.AlertRepository.
func (s *Store) Resolve(ctx context.Context, id, by string, at time.Time) (*notification.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, shared.ErrAlertNotFound
	}
	if err := a.Resolve(by, at); err != nil {
		return nil, shared.ErrAlertAlreadyResolved
	}
	return a.Clone(), nil
}
