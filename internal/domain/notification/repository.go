package notification

import (
	"context"
	"time"
)

// Filter - условия выборки алертов. Нулевые поля не ограничивают.
type Filter struct {
	StudentID   string
	MentorID    string
	Type        AlertType
	MinPriority Priority
	OnlyOpen    bool

	// Unread оставляет только непрочитанные, ActionRequired - только
	// требующие действия наставника.
	Unread         bool
	ActionRequired bool

	Offset int
	Limit  int
}

// Matches применяет условия фильтра к одному алерту; Offset и Limit не учитываются.
func (f Filter) Matches(a *Alert) bool {
	switch {
	case f.StudentID != "" && a.StudentID != f.StudentID,
		f.MentorID != "" && a.MentorID != f.MentorID,
		f.Type != "" && a.Type != f.Type,
		f.MinPriority != 0 && a.Priority < f.MinPriority,
		f.OnlyOpen && !a.IsOpen(),
		f.Unread && a.Read,
		f.ActionRequired && !a.ActionRequired:
		return false
	}
	return true
}

// AlertRepository - хранилище алертов для чтения и действий наставника.
// Новые и обновлённые циклом алерты пишет BatchCommitter вместе с оценками.
type AlertRepository interface {
	GetByID(ctx context.Context, id string) (*Alert, error)

	// ListOpenByStudent - снимок открытых алертов для Reconcile.
	ListOpenByStudent(ctx context.Context, studentID string) ([]*Alert, error)

	// List возвращает алерты по фильтру, новые первыми.
	List(ctx context.Context, filter Filter) ([]*Alert, error)

	MarkRead(ctx context.Context, id string) (*Alert, error)

	// MarkAllRead помечает прочитанными все алерты по фильтру (без Offset и
	// Limit) и возвращает число изменённых.
	MarkAllRead(ctx context.Context, filter Filter) (int, error)

	// Resolve возвращает ErrAlreadyResolved, если действие уже не требуется.
	Resolve(ctx context.Context, id, by string, at time.Time) (*Alert, error)
}
