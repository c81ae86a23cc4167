package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator applies embedded migrations in version order.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a migrator with the embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (m *Migrator) applied(ctx context.Context) (map[int]time.Time, error) {
	rows, err := m.conn.Query(ctx, fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// Migrate applies all pending migrations, each in its own transaction.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if _, done := applied[mig.Version]; done {
			continue
		}
		err := m.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			_, err := tx.Exec(ctx,
				fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName),
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
	}
	return nil
}

// Status returns every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if at, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = at
		}
	}
	return result, nil
}

// GetMigrations returns all embedded migrations.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_student_records", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_risk_state", UpSQL: migration002Up, DownSQL: migration002Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: STUDENT RECORDS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
CREATE TABLE IF NOT EXISTS students (
    id VARCHAR(64) PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    roll_number TEXT NOT NULL DEFAULT '',
    course TEXT NOT NULL DEFAULT '',
    semester INTEGER NOT NULL DEFAULT 0,
    batch TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    guardian_contact TEXT NOT NULL DEFAULT '',
    mentor_id TEXT NOT NULL DEFAULT '',
    admission_date DATE,
    status VARCHAR(20) NOT NULL DEFAULT 'active',
    dropped_out_at TIMESTAMP WITH TIME ZONE,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_status CHECK (status IN ('active', 'dropped_out', 'graduated', 'suspended'))
);

CREATE INDEX IF NOT EXISTS idx_students_status ON students(status);

CREATE TABLE IF NOT EXISTS attendance_records (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    subject TEXT NOT NULL DEFAULT '',
    date DATE NOT NULL,
    total_classes INTEGER NOT NULL,
    attended_classes INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_attendance_student_date ON attendance_records(student_id, date DESC);

CREATE TABLE IF NOT EXISTS academic_records (
    student_id VARCHAR(64) PRIMARY KEY REFERENCES students(id) ON DELETE CASCADE,
    semester INTEGER NOT NULL DEFAULT 0,
    gpa DOUBLE PRECISION,
    prior_gpa DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS test_scores (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    subject TEXT NOT NULL DEFAULT '',
    marks_obtained DOUBLE PRECISION NOT NULL,
    total_marks DOUBLE PRECISION NOT NULL,
    date DATE NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 1,
    passed BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_test_scores_student ON test_scores(student_id, date DESC);

CREATE TABLE IF NOT EXISTS assignments (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    title TEXT NOT NULL DEFAULT '',
    subject TEXT NOT NULL DEFAULT '',
    due_date DATE,
    submission_date DATE,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    marks DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS idx_assignments_student ON assignments(student_id);

CREATE TABLE IF NOT EXISTS financial_records (
    student_id VARCHAR(64) PRIMARY KEY REFERENCES students(id) ON DELETE CASCADE,
    total_fees BIGINT NOT NULL DEFAULT 0,
    paid_fees BIGINT NOT NULL DEFAULT 0,
    pending_fees BIGINT NOT NULL DEFAULT 0,
    due_date DATE
);

CREATE TABLE IF NOT EXISTS payments (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    amount BIGINT NOT NULL,
    date DATE NOT NULL,
    method TEXT NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL DEFAULT 'completed',
    semester INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_payments_student ON payments(student_id);

CREATE TABLE IF NOT EXISTS scholarships (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    name TEXT NOT NULL DEFAULT '',
    amount BIGINT NOT NULL DEFAULT 0,
    start_date DATE,
    end_date DATE,
    status VARCHAR(20) NOT NULL DEFAULT 'active'
);

CREATE INDEX IF NOT EXISTS idx_scholarships_student ON scholarships(student_id);

CREATE TABLE IF NOT EXISTS behavior_notes (
    id BIGSERIAL PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL REFERENCES students(id) ON DELETE CASCADE,
    date DATE NOT NULL,
    type VARCHAR(20) NOT NULL,
    points INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_behavior_notes_student ON behavior_notes(student_id, date DESC);
`

const migration001Down = `
DROP TABLE IF EXISTS behavior_notes;
DROP TABLE IF EXISTS scholarships;
DROP TABLE IF EXISTS payments;
DROP TABLE IF EXISTS financial_records;
DROP TABLE IF EXISTS assignments;
DROP TABLE IF EXISTS test_scores;
DROP TABLE IF EXISTS academic_records;
DROP TABLE IF EXISTS attendance_records;
DROP TABLE IF EXISTS students;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: RISK STATE
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS risk_assessments (
    student_id VARCHAR(64) PRIMARY KEY,
    mentor_id TEXT NOT NULL DEFAULT '',
    academic_risk SMALLINT NOT NULL,
    attendance_risk SMALLINT NOT NULL,
    financial_risk SMALLINT NOT NULL,
    overall_risk SMALLINT NOT NULL,
    factors JSONB NOT NULL DEFAULT '[]'::jsonb,
    recommendations JSONB NOT NULL DEFAULT '[]'::jsonb,
    integrity_issues JSONB NOT NULL DEFAULT '[]'::jsonb,
    snapshot JSONB NOT NULL DEFAULT '{}'::jsonb,
    fingerprint VARCHAR(64) NOT NULL,
    last_updated TIMESTAMP WITH TIME ZONE NOT NULL,
    cycle_id UUID
);

CREATE INDEX IF NOT EXISTS idx_risk_assessments_overall ON risk_assessments(overall_risk);

CREATE TABLE IF NOT EXISTS alerts (
    id VARCHAR(64) PRIMARY KEY,
    student_id VARCHAR(64) NOT NULL,
    mentor_id TEXT NOT NULL DEFAULT '',
    type VARCHAR(20) NOT NULL,
    priority SMALLINT NOT NULL,
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    rules JSONB NOT NULL DEFAULT '[]'::jsonb,
    impact INTEGER NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_seen_at TIMESTAMP WITH TIME ZONE NOT NULL,
    occurrences INTEGER NOT NULL DEFAULT 1,
    read BOOLEAN NOT NULL DEFAULT FALSE,
    action_required BOOLEAN NOT NULL DEFAULT FALSE,
    resolved_at TIMESTAMP WITH TIME ZONE,
    resolved_by TEXT NOT NULL DEFAULT '',

    CONSTRAINT valid_alert_type CHECK (type IN ('academic', 'attendance', 'financial', 'general')),
    CONSTRAINT valid_priority CHECK (priority BETWEEN 1 AND 4)
);

-- одно открытое уведомление на ключ (student, type, priority)
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_key
    ON alerts(student_id, type, priority)
    WHERE (NOT read OR action_required);

CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at DESC, id);
CREATE INDEX IF NOT EXISTS idx_alerts_student ON alerts(student_id);
CREATE INDEX IF NOT EXISTS idx_alerts_mentor ON alerts(mentor_id) WHERE mentor_id != '';

CREATE TABLE IF NOT EXISTS evaluation_cycles (
    id UUID PRIMARY KEY,
    as_of TIMESTAMP WITH TIME ZONE NOT NULL,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL,
    evaluated INTEGER NOT NULL,
    failed INTEGER NOT NULL,
    changed INTEGER NOT NULL,
    raised INTEGER NOT NULL,
    refreshed INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluation_cycles_completed ON evaluation_cycles(completed_at DESC);
`

const migration002Down = `
DROP TABLE IF EXISTS evaluation_cycles;
DROP TABLE IF EXISTS alerts;
DROP TABLE IF EXISTS risk_assessments;
`
