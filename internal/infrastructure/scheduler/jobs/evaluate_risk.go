// Package jobs contains the scheduled jobs of the risk monitor worker.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATE RISK JOB
// ══════════════════════════════════════════════════════════════════════════════

// PopulationEvaluator runs one evaluation cycle.
type PopulationEvaluator interface {
	Handle(ctx context.Context, cmd command.EvaluatePopulationCommand) (*command.EvaluatePopulationResult, error)
}

// EvaluateRiskJob evaluates the whole monitored population.
type EvaluateRiskJob struct {
	evaluator PopulationEvaluator
	logger    *slog.Logger
	timeout   time.Duration
	now       func() time.Time

	lastResult atomic.Pointer[command.EvaluatePopulationResult]
}

// EvaluateRiskConfig contains configuration for the job.
type EvaluateRiskConfig struct {
	// Timeout bounds one run including cycle retries.
	Timeout time.Duration

	// Now overrides the evaluation date in tests.
	Now func() time.Time
}

// NewEvaluateRiskJob creates the job.
func NewEvaluateRiskJob(evaluator PopulationEvaluator, logger *slog.Logger, config EvaluateRiskConfig) *EvaluateRiskJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Minute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &EvaluateRiskJob{
		evaluator: evaluator,
		logger:    logger.With("job", "evaluate_risk"),
		timeout:   config.Timeout,
		now:       config.Now,
	}
}

// Name returns the job name.
func (j *EvaluateRiskJob) Name() string {
	return "evaluate_risk"
}

// Description returns a human-readable description.
func (j *EvaluateRiskJob) Description() string {
	return "Evaluates risk for every monitored student and raises alerts"
}

// Run executes one evaluation cycle.
func (j *EvaluateRiskJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	started := time.Now()
	result, err := j.evaluator.Handle(ctx, command.EvaluatePopulationCommand{
		AsOf:          j.now().UTC(),
		CorrelationID: uuid.NewString(),
	})
	if err != nil {
		metrics.ObserveCycle(0, 0, time.Since(started), err)
		return fmt.Errorf("evaluate_risk: %w", err)
	}

	metrics.ObserveCycle(result.Evaluated, result.Failed, result.Duration, nil)
	for _, a := range result.Raised {
		metrics.AlertEmitted("raised", a.Priority.String())
	}
	for _, a := range result.Refreshed {
		metrics.AlertEmitted("refreshed", a.Priority.String())
	}
	j.lastResult.Store(result)

	j.logger.Info("evaluation cycle finished",
		"cycle_id", result.CycleID,
		"evaluated", result.Evaluated,
		"unchanged", result.Unchanged,
		"failed", result.Failed,
		"raised", len(result.Raised),
		"refreshed", len(result.Refreshed),
		"attempts", result.Attempts,
		"duration", result.Duration.String(),
	)
	return nil
}

// LastResult returns the result of the last successful run, or nil.
func (j *EvaluateRiskJob) LastResult() *command.EvaluatePopulationResult {
	return j.lastResult.Load()
}
