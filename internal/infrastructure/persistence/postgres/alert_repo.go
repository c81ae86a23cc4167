package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// AlertRepository implements notification.AlertRepository for PostgreSQL.
type AlertRepository struct {
	conn *Connection
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(conn *Connection) *AlertRepository {
	return &AlertRepository{conn: conn}
}

const alertColumns = `id, student_id, mentor_id, type, priority, title, message, rules, impact,
	created_at, last_seen_at, occurrences, read, action_required, resolved_at, resolved_by`

// GetByID returns one alert.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*notification.Alert, error) {
	a, err := scanAlert(r.conn.QueryRow(ctx, "SELECT "+alertColumns+" FROM alerts WHERE id = $1", id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return a, nil
}

// ListOpenByStudent returns the open alerts of one student.
func (r *AlertRepository) ListOpenByStudent(ctx context.Context, studentID string) ([]*notification.Alert, error) {
	return r.List(ctx, notification.Filter{StudentID: studentID, OnlyOpen: true})
}

// alertConditions turns a filter into WHERE clauses; arg binds one value.
func alertConditions(f notification.Filter, arg func(any) string) []string {
	var where []string
	if f.StudentID != "" {
		where = append(where, "student_id = "+arg(f.StudentID))
	}
	if f.MentorID != "" {
		where = append(where, "mentor_id = "+arg(f.MentorID))
	}
	if f.Type != "" {
		where = append(where, "type = "+arg(string(f.Type)))
	}
	if f.MinPriority != 0 {
		where = append(where, "priority >= "+arg(int16(f.MinPriority)))
	}
	if f.OnlyOpen {
		where = append(where, "(NOT read OR action_required)")
	}
	if f.Unread {
		where = append(where, "NOT read")
	}
	if f.ActionRequired {
		where = append(where, "action_required")
	}
	return where
}

// List returns alerts matching the filter, newest first.
func (r *AlertRepository) List(ctx context.Context, f notification.Filter) ([]*notification.Alert, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	where := alertConditions(f, arg)

	query := "SELECT " + alertColumns + " FROM alerts"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += " OFFSET " + arg(f.Offset)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	alerts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*notification.Alert, error) {
		return scanAlert(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan alerts: %w", err)
	}
	return alerts, nil
}

// MarkRead sets the read flag.
func (r *AlertRepository) MarkRead(ctx context.Context, id string) (*notification.Alert, error) {
	a, err := scanAlert(r.conn.QueryRow(ctx,
		"UPDATE alerts SET read = TRUE WHERE id = $1 RETURNING "+alertColumns, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAlertNotFound
		}
		return nil, fmt.Errorf("failed to mark alert %s read: %w", id, err)
	}
	return a, nil
}

// MarkAllRead sets the read flag on every unread alert matching the filter.
func (r *AlertRepository) MarkAllRead(ctx context.Context, f notification.Filter) (int, error) {
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	f.Unread = true
	where := alertConditions(f, arg)

	tag, err := r.conn.Exec(ctx, "UPDATE alerts SET read = TRUE WHERE "+strings.Join(where, " AND "), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to mark alerts read: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Resolve clears the action-required flag. Resolving an alert without a
// pending action returns shared.ErrAlertAlreadyResolved.
func (r *AlertRepository) Resolve(ctx context.Context, id, by string, at time.Time) (*notification.Alert, error) {
	a, err := scanAlert(r.conn.QueryRow(ctx, `
		UPDATE alerts
		SET action_required = FALSE, read = TRUE, resolved_at = $2, resolved_by = $3
		WHERE id = $1 AND action_required
		RETURNING `+alertColumns, id, at, by))
	if err == nil {
		return a, nil
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, shared.ErrAlertAlreadyResolved
}

func scanAlert(row pgx.Row) (*notification.Alert, error) {
	var (
		a        notification.Alert
		kind     string
		priority int16
		rules    []byte
	)
	err := row.Scan(&a.ID, &a.StudentID, &a.MentorID, &kind, &priority, &a.Title, &a.Message,
		&rules, &a.Impact, &a.Timestamp, &a.LastSeenAt, &a.Occurrences, &a.Read,
		&a.ActionRequired, &a.ResolvedAt, &a.ResolvedBy)
	if err != nil {
		return nil, err
	}
	a.Type = notification.AlertType(kind)
	a.Priority = notification.Priority(priority)
	a.Timestamp = a.Timestamp.UTC()
	a.LastSeenAt = a.LastSeenAt.UTC()
	if err := json.Unmarshal(rules, &a.Rules); err != nil {
		return nil, fmt.Errorf("decode rules of alert %s: %w", a.ID, err)
	}
	return &a, nil
}

// insertAlert writes a newly raised alert inside the cycle transaction.
func insertAlert(ctx context.Context, q Querier, a *notification.Alert) error {
	rules, err := json.Marshal(nonNil(a.Rules))
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, a.ID, a.StudentID, a.MentorID, string(a.Type), int16(a.Priority), a.Title, a.Message,
		rules, a.Impact, a.Timestamp, a.LastSeenAt, a.Occurrences, a.Read, a.ActionRequired,
		a.ResolvedAt, a.ResolvedBy)
	return err
}

// refreshAlert writes the refreshed fields of an existing alert. Flags set
// by mentors since the cycle read the alert are kept.
func refreshAlert(ctx context.Context, q Querier, a *notification.Alert) error {
	rules, err := json.Marshal(nonNil(a.Rules))
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx, `
		UPDATE alerts SET
			message = $2,
			rules = $3,
			impact = GREATEST(impact, $4),
			last_seen_at = $5,
			occurrences = $6,
			action_required = action_required OR $7
		WHERE id = $1
	`, a.ID, a.Message, rules, a.Impact, a.LastSeenAt, a.Occurrences, a.ActionRequired)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("refresh alert %s: %w", a.ID, shared.ErrAlertNotFound)
	}
	return nil
}
