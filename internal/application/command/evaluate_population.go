// Package command contains write operations (CQRS - Commands).
// Commands change persisted state: evaluation cycles and alert flags.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
	"github.com/alem-hub/student-risk-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE POPULATION COMMAND
// Re-evaluates every monitored student and reconciles alerts in one cycle.
// ══════════════════════════════════════════════════════════════════════════════

// ErrCycleAborted is returned when too many students failed to evaluate.
var ErrCycleAborted = errors.New("evaluation cycle aborted")

// EvaluatePopulationCommand contains the data needed to run a cycle.
type EvaluatePopulationCommand struct {
	// AsOf is the evaluation time. Zero means now.
	AsOf time.Time

	// StudentIDs restricts the cycle to the given students.
	// Empty means every student returned by the record repository.
	StudentIDs []string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// EvaluatePopulationResult contains the result of a committed cycle.
type EvaluatePopulationResult struct {
	CycleID   string
	AsOf      time.Time
	Evaluated int
	Unchanged int
	Failed    int
	Raised    []*notification.Alert
	Refreshed []*notification.Alert
	Changes   []RiskChange
	Errors    map[string]error
	Attempts  int

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// RiskChange is a move of a student's overall risk between two cycles.
type RiskChange struct {
	StudentID string
	Previous  risk.Level
	Current   risk.Level
}

// Escalated reports whether the overall risk increased.
func (c RiskChange) Escalated() bool {
	return c.Current > c.Previous
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES (Interfaces)
// ══════════════════════════════════════════════════════════════════════════════

// StudentLocker serializes reconcile for one student across workers and processes.
// A cycle acquires its locks in ascending student id order.
type StudentLocker interface {
	// Lock blocks until the student lock is held or ctx is done.
	// The returned function releases the lock.
	Lock(ctx context.Context, studentID string) (unlock func(context.Context) error, err error)
}

// CycleBatch is everything a cycle writes. It is committed atomically or not at all.
type CycleBatch struct {
	CycleID     string
	AsOf        time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	// Assessments are the changed assessments (fingerprint differs from the stored one).
	Assessments []risk.Assessment

	// Touched are students whose stored assessment is unchanged; only its
	// LastUpdated moves to AsOf.
	Touched []string

	Raised    []*notification.Alert
	Refreshed []*notification.Alert

	Evaluated int
	Failed    int
}

// BatchCommitter persists a cycle batch in one transaction.
type BatchCommitter interface {
	CommitCycle(ctx context.Context, batch CycleBatch) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// EvaluatePopulationConfig contains configuration for the handler.
type EvaluatePopulationConfig struct {
	// Workers is the number of students evaluated in parallel.
	Workers int

	// PageSize is the page size used to list student ids.
	PageSize int

	// MaxFailureRate aborts the cycle when exceeded.
	MaxFailureRate float64

	// Timeout is the maximum duration of one cycle attempt.
	Timeout time.Duration

	// RetryAttempts is the number of whole-cycle attempts.
	RetryAttempts int
}

// DefaultEvaluatePopulationConfig returns default configuration.
func DefaultEvaluatePopulationConfig() EvaluatePopulationConfig {
	return EvaluatePopulationConfig{
		Workers:        8,
		PageSize:       500,
		MaxFailureRate: 0.5,
		Timeout:        10 * time.Minute,
		RetryAttempts:  3,
	}
}

// EvaluatePopulationHandler handles the EvaluatePopulationCommand.
type EvaluatePopulationHandler struct {
	records     student.RecordRepository
	assessments risk.AssessmentRepository
	alerts      notification.AlertRepository
	evaluator   risk.Evaluator
	generator   *notification.Generator
	committer   BatchCommitter
	locker      StudentLocker
	publisher   shared.EventPublisher
	logger      *slog.Logger

	config  EvaluatePopulationConfig
	retrier *retry.Retrier
	now     func() time.Time
}

// EvaluatePopulationDeps groups the handler dependencies.
type EvaluatePopulationDeps struct {
	Records     student.RecordRepository
	Assessments risk.AssessmentRepository
	Alerts      notification.AlertRepository
	Evaluator   risk.Evaluator
	Generator   *notification.Generator
	Committer   BatchCommitter
	Locker      StudentLocker
	Publisher   shared.EventPublisher
	Logger      *slog.Logger
	Now         func() time.Time
}

// NewEvaluatePopulationHandler creates a new EvaluatePopulationHandler.
func NewEvaluatePopulationHandler(deps EvaluatePopulationDeps, config EvaluatePopulationConfig) *EvaluatePopulationHandler {
	defaults := DefaultEvaluatePopulationConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.PageSize <= 0 {
		config.PageSize = defaults.PageSize
	}
	if config.MaxFailureRate <= 0 || config.MaxFailureRate > 1 {
		config.MaxFailureRate = defaults.MaxFailureRate
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = defaults.RetryAttempts
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Now().UTC() }
	}

	h := &EvaluatePopulationHandler{
		records:     deps.Records,
		assessments: deps.Assessments,
		alerts:      deps.Alerts,
		evaluator:   deps.Evaluator,
		generator:   deps.Generator,
		committer:   deps.Committer,
		locker:      deps.Locker,
		publisher:   deps.Publisher,
		logger:      deps.Logger.With("command", "evaluate_population"),
		config:      config,
		now:         deps.Now,
	}
	h.retrier = retry.New(
		retry.WithMaxAttempts(config.RetryAttempts),
		retry.WithInitialDelay(200*time.Millisecond),
		retry.WithMaxDelay(5*time.Second),
		retry.WithRetryIf(func(err error) bool {
			return retry.IsRetryable(err) || shared.IsRetryable(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			h.logger.Warn("retrying evaluation cycle",
				"attempt", attempt,
				"delay", delay.String(),
				"error", err,
			)
		}),
	)
	return h
}

// Handle executes one evaluation cycle. On commit failure the whole cycle is
// discarded and re-run, so a committed cycle never contains partial writes.
func (h *EvaluatePopulationHandler) Handle(ctx context.Context, cmd EvaluatePopulationCommand) (*EvaluatePopulationResult, error) {
	asOf := cmd.AsOf
	if asOf.IsZero() {
		asOf = h.now()
	}

	ids, err := h.studentIDs(ctx, cmd.StudentIDs)
	if err != nil {
		return nil, fmt.Errorf("evaluate_population: failed to list students: %w", err)
	}

	var (
		result   *EvaluatePopulationResult
		attempts int
	)
	err = h.retrier.Do(ctx, func(ctx context.Context) error {
		attempts++
		r, runErr := h.runCycle(ctx, ids, asOf)
		if runErr != nil {
			return runErr
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate_population: %w", err)
	}
	result.Attempts = attempts

	h.publishEvents(result, cmd.CorrelationID)

	h.logger.Info("evaluation cycle committed",
		"cycle_id", result.CycleID,
		"evaluated", result.Evaluated,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
		"raised", len(result.Raised),
		"refreshed", len(result.Refreshed),
		"duration", result.Duration.String(),
	)

	return result, nil
}

// studentOutcome is the per-student result of one cycle attempt.
type studentOutcome struct {
	previous   *risk.Assessment
	assessment risk.Assessment
	changed    bool
	rec        notification.Reconciliation
}

func (h *EvaluatePopulationHandler) runCycle(ctx context.Context, ids []string, asOf time.Time) (*EvaluatePopulationResult, error) {
	startedAt := h.now()
	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[string]studentOutcome, len(ids))
		failures = make(map[string]error)
		unlocks  []func(context.Context) error
	)

	// Locks are released only after the batch is committed or discarded.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, unlock := range unlocks {
			if err := unlock(releaseCtx); err != nil {
				h.logger.Warn("failed to release student lock", "error", err)
			}
		}
	}()

	// Every lock is taken before evaluation starts, in ascending id order.
	locked := make([]string, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		unlock, err := h.locker.Lock(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures[id] = err
			h.logger.Warn("student lock not acquired", "student_id", id, "error", err)
			continue
		}
		unlocks = append(unlocks, unlock)
		locked = append(locked, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Workers)

	for _, id := range locked {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := h.evaluateStudent(gctx, id, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[id] = err
				h.logger.Error("failed to evaluate student", "student_id", id, "error", err)
				return nil
			}
			outcomes[id] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := len(ids)
	if total > 0 && float64(len(failures))/float64(total) > h.config.MaxFailureRate {
		return nil, retry.Permanent(fmt.Errorf("%w: %d of %d students failed", ErrCycleAborted, len(failures), total))
	}

	result := &EvaluatePopulationResult{
		CycleID:   uuid.NewString(),
		AsOf:      asOf,
		Evaluated: len(outcomes),
		Failed:    len(failures),
		Errors:    failures,
		StartedAt: startedAt,
	}

	batch := CycleBatch{
		CycleID:   result.CycleID,
		AsOf:      asOf,
		StartedAt: startedAt,
		Evaluated: result.Evaluated,
		Failed:    result.Failed,
	}

	for _, id := range sortedKeys(outcomes) {
		out := outcomes[id]
		if out.changed {
			batch.Assessments = append(batch.Assessments, out.assessment)
		} else {
			batch.Touched = append(batch.Touched, id)
			result.Unchanged++
		}
		if out.previous != nil && out.assessment.OverallRisk != out.previous.OverallRisk {
			result.Changes = append(result.Changes, RiskChange{
				StudentID: id,
				Previous:  out.previous.OverallRisk,
				Current:   out.assessment.OverallRisk,
			})
		}
		batch.Raised = append(batch.Raised, out.rec.Raised...)
		batch.Refreshed = append(batch.Refreshed, out.rec.Refreshed...)
	}

	batch.CompletedAt = h.now()
	if err := h.committer.CommitCycle(ctx, batch); err != nil {
		return nil, retry.Retryable(fmt.Errorf("commit cycle %s: %w", batch.CycleID, err))
	}

	result.Raised = batch.Raised
	result.Refreshed = batch.Refreshed
	result.CompletedAt = batch.CompletedAt
	result.Duration = result.CompletedAt.Sub(startedAt)

	return result, nil
}

// evaluateStudent evaluates one student and reconciles its alerts.
func (h *EvaluatePopulationHandler) evaluateStudent(ctx context.Context, id string, asOf time.Time) (studentOutcome, error) {
	records, err := h.records.GetRecords(ctx, id)
	if err != nil {
		return studentOutcome{}, fmt.Errorf("get records: %w", err)
	}

	var previous *risk.Assessment
	prev, err := h.assessments.GetByStudent(ctx, id)
	switch {
	case err == nil:
		previous = prev
	case shared.IsNotFound(err):
	default:
		return studentOutcome{}, fmt.Errorf("get previous assessment: %w", err)
	}

	current := h.evaluator.Evaluate(*records, previous, asOf)
	current.Fingerprint, err = Fingerprint(current)
	if err != nil {
		return studentOutcome{}, err
	}

	out := studentOutcome{
		previous:   previous,
		assessment: current,
		changed:    previous == nil || previous.Fingerprint != current.Fingerprint,
	}

	if !records.Student.EnrollmentStatus().IsMonitored() {
		return out, nil
	}

	open, err := h.alerts.ListOpenByStudent(ctx, id)
	if err != nil {
		return studentOutcome{}, fmt.Errorf("list open alerts: %w", err)
	}
	out.rec = h.generator.Reconcile(previous, current, open)

	return out, nil
}

// studentIDs returns the de-duplicated ids to evaluate.
func (h *EvaluatePopulationHandler) studentIDs(ctx context.Context, requested []string) ([]string, error) {
	if len(requested) > 0 {
		seen := make(map[string]bool, len(requested))
		ids := make([]string, 0, len(requested))
		for _, id := range requested {
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		return ids, nil
	}

	opts := student.DefaultListOptions()
	opts.Limit = h.config.PageSize

	var ids []string
	seen := make(map[string]bool)
	for {
		page, err := h.records.ListStudentIDs(ctx, opts)
		if err != nil {
			return nil, err
		}
		for _, id := range page {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		if len(page) < opts.Limit {
			return ids, nil
		}
		opts.Offset += opts.Limit
	}
}

// publishEvents publishes events for a committed cycle.
// Delivery failures are logged and never undo the commit.
func (h *EvaluatePopulationHandler) publishEvents(result *EvaluatePopulationResult, correlationID string) {
	if h.publisher == nil {
		return
	}

	publish := func(event shared.Event) {
		if err := h.publisher.Publish(event); err != nil {
			h.logger.Warn("failed to publish event",
				"event_type", event.EventType(),
				"aggregate_id", event.AggregateID(),
				"error", err,
			)
		}
	}

	for _, c := range result.Changes {
		ev := shared.NewRiskChangedEvent(c.StudentID, c.Previous.String(), c.Current.String(), c.Escalated())
		if correlationID != "" {
			ev.EventMeta = ev.EventMeta.WithCorrelationID(correlationID)
		}
		publish(ev)
	}

	for _, a := range result.Raised {
		publish(alertEvent(shared.EventAlertRaised, a, correlationID))
	}
	for _, a := range result.Refreshed {
		publish(alertEvent(shared.EventAlertRefreshed, a, correlationID))
	}

	completed := shared.NewEvaluationCompletedEvent(
		result.CycleID,
		result.Evaluated,
		result.Failed,
		len(result.Raised),
		len(result.Refreshed),
		result.Duration,
	)
	if correlationID != "" {
		completed.EventMeta = completed.EventMeta.WithCorrelationID(correlationID)
	}
	publish(completed)
}

func alertEvent(eventType shared.EventType, a *notification.Alert, correlationID string) shared.AlertEvent {
	ev := shared.NewAlertEvent(
		eventType,
		a.ID,
		a.StudentID,
		a.MentorID,
		string(a.Type),
		a.Priority.String(),
		a.Title,
		a.Message,
		a.ActionRequired,
	)
	if correlationID != "" {
		ev.EventMeta = ev.EventMeta.WithCorrelationID(correlationID)
	}
	return ev
}

func sortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
