package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/metrics"
)

// DashboardRebuilder recomputes and stores dashboard metrics.
type DashboardRebuilder interface {
	Handle(ctx context.Context) (dashboard.Metrics, error)
}

// RebuildDashboardJob refreshes the dashboard independently of evaluation
// cycles so the cached metrics never outlive their TTL for long.
type RebuildDashboardJob struct {
	rebuilder DashboardRebuilder
	logger    *slog.Logger
}

// NewRebuildDashboardJob creates the job.
func NewRebuildDashboardJob(rebuilder DashboardRebuilder, logger *slog.Logger) *RebuildDashboardJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildDashboardJob{
		rebuilder: rebuilder,
		logger:    logger.With("job", "rebuild_dashboard"),
	}
}

// Name returns the job name.
func (j *RebuildDashboardJob) Name() string {
	return "rebuild_dashboard"
}

// Description returns a human-readable description.
func (j *RebuildDashboardJob) Description() string {
	return "Recomputes population dashboard metrics from stored assessments"
}

// Run executes the job.
func (j *RebuildDashboardJob) Run(ctx context.Context) error {
	m, err := j.rebuilder.Handle(ctx)
	if err != nil {
		return fmt.Errorf("rebuild_dashboard: %w", err)
	}
	metrics.SetPopulation(m.HighRisk, m.MediumRisk, m.LowRisk)

	j.logger.Debug("dashboard rebuilt",
		"total", m.TotalStudents,
		"high", m.HighRisk,
		"medium", m.MediumRisk,
		"low", m.LowRisk,
	)
	return nil
}
