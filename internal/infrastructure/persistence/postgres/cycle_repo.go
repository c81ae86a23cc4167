package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// CycleCommitter implements command.BatchCommitter: one evaluation cycle is
// written in a single transaction.
type CycleCommitter struct {
	conn *Connection
}

// NewCycleCommitter creates a new CycleCommitter.
func NewCycleCommitter(conn *Connection) *CycleCommitter {
	return &CycleCommitter{conn: conn}
}

// CommitCycle writes changed assessments, raised and refreshed alerts and the
// cycle row. Unchanged assessments only get last_updated moved to the cycle's
// as-of time. A second open alert for the same key violates the partial unique
// index and rolls the whole batch back.
func (c *CycleCommitter) CommitCycle(ctx context.Context, batch command.CycleBatch) error {
	err := c.conn.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		for _, a := range batch.Assessments {
			if err := upsertAssessment(ctx, tx, batch.CycleID, a); err != nil {
				return fmt.Errorf("upsert assessment %s: %w", a.StudentID, err)
			}
		}
		if len(batch.Touched) > 0 {
			_, err := tx.Exec(ctx,
				`UPDATE risk_assessments SET last_updated = $1 WHERE student_id = ANY($2)`,
				batch.AsOf, batch.Touched)
			if err != nil {
				return fmt.Errorf("touch assessments: %w", err)
			}
		}
		for _, a := range batch.Refreshed {
			if err := refreshAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, a := range batch.Raised {
			if err := insertAlert(ctx, tx, a); err != nil {
				return fmt.Errorf("insert alert %s: %w", a.ID, err)
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO evaluation_cycles (id, as_of, started_at, completed_at, evaluated, failed,
				changed, raised, refreshed)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, batch.CycleID, batch.AsOf, batch.StartedAt, batch.CompletedAt, batch.Evaluated, batch.Failed,
			len(batch.Assessments), len(batch.Raised), len(batch.Refreshed))
		if err != nil {
			return fmt.Errorf("insert cycle: %w", err)
		}
		return nil
	})

	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err), IsSerializationFailure(err):
		return fmt.Errorf("%w: %v", shared.ErrConcurrentModification, err)
	default:
		return err
	}
}
