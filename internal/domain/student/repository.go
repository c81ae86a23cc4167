package student

import (
	"context"
	"slices"
)

// RecordRepository отдаёт популяцию и записи студентов циклу оценки.
// Реализации: persistence/postgres и persistence/memory.
type RecordRepository interface {
	// ListStudentIDs - ID по возрастанию, страница opts.
	ListStudentIDs(ctx context.Context, opts ListOptions) ([]string, error)
	CountStudents(ctx context.Context, opts ListOptions) (int, error)

	// GetStudent возвращает shared.ErrStudentNotFound для неизвестного ID.
	GetStudent(ctx context.Context, id string) (*Student, error)

	// GetRecords не считает ошибкой отсутствие части записей: пробелы
	// превращаются в факторы качества данных при оценке.
	GetRecords(ctx context.Context, id string) (*Records, error)
}

// ListOptions - страница и фильтр по статусу зачисления.
// Пустой Statuses означает все отслеживаемые статусы.
type ListOptions struct {
	Offset   int
	Limit    int
	Statuses []EnrollmentStatus
}

func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:    500,
		Statuses: []EnrollmentStatus{EnrollmentActive, EnrollmentSuspended, EnrollmentDroppedOut},
	}
}

func (o ListOptions) Matches(status EnrollmentStatus) bool {
	if len(o.Statuses) == 0 {
		return status.IsMonitored()
	}
	return slices.Contains(o.Statuses, status)
}
