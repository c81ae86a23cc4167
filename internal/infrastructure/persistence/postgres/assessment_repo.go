package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSESSMENT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AssessmentRepository implements risk.AssessmentRepository for PostgreSQL.
// Factors, recommendations, integrity issues and the snapshot are JSONB columns.
type AssessmentRepository struct {
	conn *Connection
}

// NewAssessmentRepository creates a new AssessmentRepository.
func NewAssessmentRepository(conn *Connection) *AssessmentRepository {
	return &AssessmentRepository{conn: conn}
}

const selectAssessment = `
	SELECT student_id, mentor_id, academic_risk, attendance_risk, financial_risk, overall_risk,
	       factors, recommendations, integrity_issues, snapshot, fingerprint, last_updated
	FROM risk_assessments
`

// GetByStudent returns the stored assessment of one student.
func (r *AssessmentRepository) GetByStudent(ctx context.Context, studentID string) (*risk.Assessment, error) {
	a, err := scanAssessment(r.conn.QueryRow(ctx, selectAssessment+" WHERE student_id = $1", studentID))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to get assessment %s: %w", studentID, err)
	}
	return &a, nil
}

// ListAll returns every stored assessment ordered by student id.
func (r *AssessmentRepository) ListAll(ctx context.Context) ([]risk.Assessment, error) {
	rows, err := r.conn.Query(ctx, selectAssessment+" ORDER BY student_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (risk.Assessment, error) {
		return scanAssessment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assessments: %w", err)
	}
	return out, nil
}

// ListMatching returns stored assessments matching the filter ordered by
// student id. Course is compared case-insensitively against the snapshot.
func (r *AssessmentRepository) ListMatching(ctx context.Context, f risk.Filter) ([]risk.Assessment, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OverallRisk != nil {
		where = append(where, "overall_risk = "+arg(int16(*f.OverallRisk)))
	}
	if f.Course != "" {
		where = append(where, "lower(snapshot->>'course') = lower("+arg(f.Course)+")")
	}
	if f.MentorID != "" {
		where = append(where, "mentor_id = "+arg(f.MentorID))
	}

	query := selectAssessment
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY student_id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (risk.Assessment, error) {
		return scanAssessment(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan assessments: %w", err)
	}
	return out, nil
}

func scanAssessment(row pgx.Row) (risk.Assessment, error) {
	var (
		a                                          risk.Assessment
		academic, attendance, financial, overall   int16
		factors, recommendations, issues, snapshot []byte
	)
	err := row.Scan(&a.StudentID, &a.MentorID, &academic, &attendance, &financial, &overall,
		&factors, &recommendations, &issues, &snapshot, &a.Fingerprint, &a.LastUpdated)
	if err != nil {
		return risk.Assessment{}, err
	}

	a.AcademicRisk = risk.Level(academic)
	a.AttendanceRisk = risk.Level(attendance)
	a.FinancialRisk = risk.Level(financial)
	a.OverallRisk = risk.Level(overall)

	for _, col := range []struct {
		name string
		data []byte
		dst  any
	}{
		{"factors", factors, &a.Factors},
		{"recommendations", recommendations, &a.Recommendations},
		{"integrity_issues", issues, &a.Issues},
		{"snapshot", snapshot, &a.Snapshot},
	} {
		if err := json.Unmarshal(col.data, col.dst); err != nil {
			return risk.Assessment{}, fmt.Errorf("decode %s of %s: %w", col.name, a.StudentID, err)
		}
	}
	a.LastUpdated = a.LastUpdated.UTC()
	return a, nil
}

// upsertAssessment writes one assessment inside the cycle transaction.
func upsertAssessment(ctx context.Context, q Querier, cycleID string, a risk.Assessment) error {
	factors, err := json.Marshal(nonNil(a.Factors))
	if err != nil {
		return err
	}
	recommendations, err := json.Marshal(nonNil(a.Recommendations))
	if err != nil {
		return err
	}
	issues, err := json.Marshal(nonNil(a.Issues))
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(a.Snapshot)
	if err != nil {
		return err
	}

	_, err = q.Exec(ctx, `
		INSERT INTO risk_assessments (student_id, mentor_id, academic_risk, attendance_risk,
			financial_risk, overall_risk, factors, recommendations, integrity_issues, snapshot,
			fingerprint, last_updated, cycle_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (student_id) DO UPDATE SET
			mentor_id = EXCLUDED.mentor_id,
			academic_risk = EXCLUDED.academic_risk,
			attendance_risk = EXCLUDED.attendance_risk,
			financial_risk = EXCLUDED.financial_risk,
			overall_risk = EXCLUDED.overall_risk,
			factors = EXCLUDED.factors,
			recommendations = EXCLUDED.recommendations,
			integrity_issues = EXCLUDED.integrity_issues,
			snapshot = EXCLUDED.snapshot,
			fingerprint = EXCLUDED.fingerprint,
			last_updated = EXCLUDED.last_updated,
			cycle_id = EXCLUDED.cycle_id
	`, a.StudentID, a.MentorID, int16(a.AcademicRisk), int16(a.AttendanceRisk),
		int16(a.FinancialRisk), int16(a.OverallRisk), factors, recommendations, issues, snapshot,
		a.Fingerprint, a.LastUpdated, cycleID)
	return err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
