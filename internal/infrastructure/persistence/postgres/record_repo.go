package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// RecordRepository implements student.RecordRepository for PostgreSQL.
type RecordRepository struct {
	conn *Connection
}

// NewRecordRepository creates a new RecordRepository.
func NewRecordRepository(conn *Connection) *RecordRepository {
	return &RecordRepository{conn: conn}
}

func statusArgs(opts student.ListOptions) []string {
	statuses := opts.Statuses
	if len(statuses) == 0 {
		statuses = []student.EnrollmentStatus{student.EnrollmentActive, student.EnrollmentSuspended}
	}
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// ListStudentIDs returns student ids ordered by id.
func (r *RecordRepository) ListStudentIDs(ctx context.Context, opts student.ListOptions) ([]string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = student.DefaultListOptions().Limit
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id FROM students
		WHERE status = ANY($1)
		ORDER BY id
		OFFSET $2 LIMIT $3
	`, statusArgs(opts), opts.Offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan student ids: %w", err)
	}
	return ids, nil
}

// CountStudents returns the number of students matching the status filter.
func (r *RecordRepository) CountStudents(ctx context.Context, opts student.ListOptions) (int, error) {
	var n int
	err := r.conn.QueryRow(ctx, `SELECT count(*) FROM students WHERE status = ANY($1)`, statusArgs(opts)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count students: %w", err)
	}
	return n, nil
}

const selectStudent = `
	SELECT id, name, email, roll_number, course, semester, batch, phone,
	       guardian_contact, mentor_id, admission_date, status, dropped_out_at
	FROM students WHERE id = $1
`

// GetStudent returns one student.
func (r *RecordRepository) GetStudent(ctx context.Context, id string) (*student.Student, error) {
	s, err := scanStudent(r.conn.QueryRow(ctx, selectStudent, id))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student %s: %w", id, err)
	}
	return s, nil
}

func scanStudent(row pgx.Row) (*student.Student, error) {
	var (
		s         student.Student
		admission *time.Time
		status    string
	)
	err := row.Scan(&s.ID, &s.Name, &s.Email, &s.RollNumber, &s.Course, &s.Semester, &s.Batch,
		&s.Phone, &s.GuardianContact, &s.MentorID, &admission, &status, &s.DroppedOutAt)
	if err != nil {
		return nil, err
	}
	if admission != nil {
		s.AdmissionDate = *admission
	}
	s.Status = student.EnrollmentStatus(status)
	return &s, nil
}

// GetRecords assembles every record of one student in a single round trip.
// Missing academic or financial rows leave the corresponding field nil.
func (r *RecordRepository) GetRecords(ctx context.Context, id string) (*student.Records, error) {
	batch := &pgx.Batch{}
	batch.Queue(selectStudent, id)
	batch.Queue(`SELECT semester, gpa, prior_gpa FROM academic_records WHERE student_id = $1`, id)
	batch.Queue(`SELECT subject, marks_obtained, total_marks, date, attempts, passed
		FROM test_scores WHERE student_id = $1 ORDER BY date DESC, id`, id)
	batch.Queue(`SELECT title, subject, due_date, submission_date, status, marks
		FROM assignments WHERE student_id = $1 ORDER BY id`, id)
	batch.Queue(`SELECT subject, date, total_classes, attended_classes
		FROM attendance_records WHERE student_id = $1 ORDER BY date DESC, id`, id)
	batch.Queue(`SELECT total_fees, paid_fees, pending_fees, due_date
		FROM financial_records WHERE student_id = $1`, id)
	batch.Queue(`SELECT amount, date, method, status, semester
		FROM payments WHERE student_id = $1 ORDER BY date, id`, id)
	batch.Queue(`SELECT name, amount, start_date, end_date, status
		FROM scholarships WHERE student_id = $1 ORDER BY id`, id)
	batch.Queue(`SELECT date, type, points, description
		FROM behavior_notes WHERE student_id = $1 ORDER BY date DESC, id`, id)

	results := r.conn.Pool().SendBatch(ctx, batch)
	defer results.Close()

	s, err := scanStudent(results.QueryRow())
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrStudentNotFound
		}
		return nil, fmt.Errorf("failed to get student %s: %w", id, err)
	}
	rec := &student.Records{Student: *s}

	academic := &student.AcademicRecord{}
	err = results.QueryRow().Scan(&academic.Semester, &academic.GPA, &academic.PriorGPA)
	switch {
	case err == nil:
		rec.Academic = academic
	case IsNoRows(err):
	default:
		return nil, fmt.Errorf("failed to get academic record: %w", err)
	}

	tests, err := collect(results, func(row pgx.CollectableRow) (student.TestScore, error) {
		var t student.TestScore
		err := row.Scan(&t.Subject, &t.MarksObtained, &t.TotalMarks, &t.Date, &t.Attempts, &t.Passed)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get test scores: %w", err)
	}

	assignments, err := collect(results, func(row pgx.CollectableRow) (student.Assignment, error) {
		var (
			a      student.Assignment
			due    *time.Time
			status string
		)
		err := row.Scan(&a.Title, &a.Subject, &due, &a.SubmissionDate, &status, &a.Marks)
		if due != nil {
			a.DueDate = *due
		}
		a.Status = student.AssignmentStatus(status)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get assignments: %w", err)
	}

	// тесты и задания без строки academic_records всё равно учитываются
	if len(tests) > 0 || len(assignments) > 0 {
		if rec.Academic == nil {
			rec.Academic = &student.AcademicRecord{Semester: s.Semester}
		}
		rec.Academic.TestScores = tests
		rec.Academic.Assignments = assignments
	}

	rec.Attendance, err = collect(results, func(row pgx.CollectableRow) (student.AttendanceRecord, error) {
		var a student.AttendanceRecord
		err := row.Scan(&a.Subject, &a.Date, &a.TotalClasses, &a.AttendedClasses)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get attendance: %w", err)
	}

	financial := &student.FinancialRecord{}
	err = results.QueryRow().Scan(&financial.TotalFees, &financial.PaidFees, &financial.PendingFees, &financial.DueDate)
	switch {
	case err == nil:
		rec.Financial = financial
	case IsNoRows(err):
	default:
		return nil, fmt.Errorf("failed to get financial record: %w", err)
	}

	payments, err := collect(results, func(row pgx.CollectableRow) (student.Payment, error) {
		var (
			p      student.Payment
			status string
		)
		err := row.Scan(&p.Amount, &p.Date, &p.Method, &status, &p.Semester)
		p.Status = student.PaymentStatus(status)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}

	scholarships, err := collect(results, func(row pgx.CollectableRow) (student.Scholarship, error) {
		var (
			sc         student.Scholarship
			start, end *time.Time
			status     string
		)
		err := row.Scan(&sc.Name, &sc.Amount, &start, &end, &status)
		if start != nil {
			sc.StartDate = *start
		}
		if end != nil {
			sc.EndDate = *end
		}
		sc.Status = student.ScholarshipStatus(status)
		return sc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get scholarships: %w", err)
	}

	if rec.Financial != nil {
		rec.Financial.PaymentHistory = payments
		rec.Financial.Scholarships = scholarships
	}

	rec.Behavior, err = collect(results, func(row pgx.CollectableRow) (student.BehaviorNote, error) {
		var (
			n    student.BehaviorNote
			kind string
		)
		err := row.Scan(&n.Date, &kind, &n.Points, &n.Description)
		n.Type = student.BehaviorNoteType(kind)
		return n, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get behavior notes: %w", err)
	}

	return rec, nil
}

func collect[T any](results pgx.BatchResults, fn pgx.RowToFunc[T]) ([]T, error) {
	rows, err := results.Query()
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, fn)
}

// ─────────────────────────────────────────────────────────────────────────────
// Import
// ─────────────────────────────────────────────────────────────────────────────

// Import replaces the stored records of every given student in one transaction.
func (r *RecordRepository) Import(ctx context.Context, records []student.Records) error {
	return r.conn.WithTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for _, rec := range records {
			if err := importOne(ctx, tx, rec); err != nil {
				return fmt.Errorf("import %s: %w", rec.Student.ID, err)
			}
		}
		return nil
	})
}

func importOne(ctx context.Context, tx pgx.Tx, rec student.Records) error {
	s := rec.Student
	var admission *time.Time
	if !s.AdmissionDate.IsZero() {
		admission = &s.AdmissionDate
	}
	status := s.EnrollmentStatus()

	_, err := tx.Exec(ctx, `
		INSERT INTO students (id, name, email, roll_number, course, semester, batch, phone,
			guardian_contact, mentor_id, admission_date, status, dropped_out_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, roll_number = EXCLUDED.roll_number,
			course = EXCLUDED.course, semester = EXCLUDED.semester, batch = EXCLUDED.batch,
			phone = EXCLUDED.phone, guardian_contact = EXCLUDED.guardian_contact,
			mentor_id = EXCLUDED.mentor_id, admission_date = EXCLUDED.admission_date,
			status = EXCLUDED.status, dropped_out_at = EXCLUDED.dropped_out_at,
			updated_at = NOW()
	`, s.ID, s.Name, s.Email, s.RollNumber, s.Course, s.Semester, s.Batch, s.Phone,
		s.GuardianContact, s.MentorID, admission, string(status), s.DroppedOutAt)
	if err != nil {
		return err
	}

	for _, table := range []string{
		"academic_records", "test_scores", "assignments", "attendance_records",
		"financial_records", "payments", "scholarships", "behavior_notes",
	} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table+" WHERE student_id = $1", s.ID); err != nil {
			return err
		}
	}

	batch := &pgx.Batch{}
	if a := rec.Academic; a != nil {
		batch.Queue(`INSERT INTO academic_records (student_id, semester, gpa, prior_gpa) VALUES ($1, $2, $3, $4)`,
			s.ID, a.Semester, a.GPA, a.PriorGPA)
		for _, t := range a.TestScores {
			batch.Queue(`INSERT INTO test_scores (student_id, subject, marks_obtained, total_marks, date, attempts, passed)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				s.ID, t.Subject, t.MarksObtained, t.TotalMarks, t.Date, t.Attempts, t.Passed)
		}
		for _, as := range a.Assignments {
			var due *time.Time
			if !as.DueDate.IsZero() {
				due = &as.DueDate
			}
			status := as.Status
			if status == "" {
				status = student.AssignmentPending
			}
			batch.Queue(`INSERT INTO assignments (student_id, title, subject, due_date, submission_date, status, marks)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				s.ID, as.Title, as.Subject, due, as.SubmissionDate, string(status), as.Marks)
		}
	}
	for _, at := range rec.Attendance {
		batch.Queue(`INSERT INTO attendance_records (student_id, subject, date, total_classes, attended_classes)
			VALUES ($1, $2, $3, $4, $5)`, s.ID, at.Subject, at.Date, at.TotalClasses, at.AttendedClasses)
	}
	if f := rec.Financial; f != nil {
		batch.Queue(`INSERT INTO financial_records (student_id, total_fees, paid_fees, pending_fees, due_date)
			VALUES ($1, $2, $3, $4, $5)`, s.ID, f.TotalFees, f.PaidFees, f.PendingFees, f.DueDate)
		for _, p := range f.PaymentHistory {
			status := p.Status
			if status == "" {
				status = student.PaymentCompleted
			}
			batch.Queue(`INSERT INTO payments (student_id, amount, date, method, status, semester)
				VALUES ($1, $2, $3, $4, $5, $6)`, s.ID, p.Amount, p.Date, p.Method, string(status), p.Semester)
		}
		for _, sc := range f.Scholarships {
			var start, end *time.Time
			if !sc.StartDate.IsZero() {
				start = &sc.StartDate
			}
			if !sc.EndDate.IsZero() {
				end = &sc.EndDate
			}
			batch.Queue(`INSERT INTO scholarships (student_id, name, amount, start_date, end_date, status)
				VALUES ($1, $2, $3, $4, $5, $6)`, s.ID, sc.Name, sc.Amount, start, end, string(sc.Status))
		}
	}
	for _, n := range rec.Behavior {
		batch.Queue(`INSERT INTO behavior_notes (student_id, date, type, points, description)
			VALUES ($1, $2, $3, $4, $5)`, s.ID, n.Date, string(n.Type), n.Points, n.Description)
	}

	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}
