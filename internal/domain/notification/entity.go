// Package notification содержит доменную модель алертов о рисках студентов.
// Алерт создаётся только генератором при переходе состояния риска
// и никогда не удаляется; изменяются лишь флаги read и actionRequired.
package notification

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ALERT TYPE
// ══════════════════════════════════════════════════════════════════════════════

// AlertType определяет тип алерта.
type AlertType string

const (
	// AlertTypeAcademic - успеваемость.
	AlertTypeAcademic AlertType = "academic"
	// AlertTypeAttendance - посещаемость.
	AlertTypeAttendance AlertType = "attendance"
	// AlertTypeFinancial - задолженность по оплате.
	AlertTypeFinancial AlertType = "financial"
	// AlertTypeGeneral - прочее (в том числе поведение).
	AlertTypeGeneral AlertType = "general"
)

// IsValid проверяет, что тип алерта известен.
func (t AlertType) IsValid() bool {
	switch t {
	case AlertTypeAcademic, AlertTypeAttendance, AlertTypeFinancial, AlertTypeGeneral:
		return true
	default:
		return false
	}
}

// TypeForCategory сопоставляет категорию фактора с типом алерта.
func TypeForCategory(c risk.Category) AlertType {
	switch c {
	case risk.CategoryAcademic:
		return AlertTypeAcademic
	case risk.CategoryAttendance:
		return AlertTypeAttendance
	case risk.CategoryFinancial:
		return AlertTypeFinancial
	default:
		return AlertTypeGeneral
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// PRIORITY
// ══════════════════════════════════════════════════════════════════════════════

// Priority определяет приоритет алерта.
type Priority int

const (
	// PriorityLow - низкий приоритет (генератором не используется).
	PriorityLow Priority = 1
	// PriorityMedium - средний риск, нужен мониторинг.
	PriorityMedium Priority = 2
	// PriorityHigh - высокий риск, нужно действие.
	PriorityHigh Priority = 3
	// PriorityCritical - высокий риск с фактором влияния >= 9.
	PriorityCritical Priority = 4
)

// IsValid проверяет корректность приоритета.
func (p Priority) IsValid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

// String возвращает строковое представление.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RequiresAction возвращает true для high и critical.
func (p Priority) RequiresAction() bool {
	return p >= PriorityHigh
}

// ParsePriority разбирает строковое представление приоритета.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, shared.ErrInvalidPriority
	}
}

// MarshalText сериализует приоритет строкой.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, shared.ErrInvalidPriority
	}
	return []byte(p.String()), nil
}

// UnmarshalText разбирает приоритет из строки.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ALERT ENTITY
// ══════════════════════════════════════════════════════════════════════════════

// Key - ключ дедупликации алертов.
type Key struct {
	StudentID string
	Type      AlertType
	Priority  Priority
}

// String возвращает ключ в виде "student/type/priority".
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.StudentID, k.Type, k.Priority)
}

// Alert - запись о событии риска, связывающая студента и обнаруженное условие.
type Alert struct {
	// ID - уникальный идентификатор алерта.
	ID string `json:"id"`

	// StudentID - студент, к которому относится алерт.
	StudentID string `json:"student_id"`

	// MentorID - наставник, которому адресован алерт.
	MentorID string `json:"mentor_id,omitempty"`

	// Type и Priority вместе со StudentID образуют ключ дедупликации.
	Type     AlertType `json:"type"`
	Priority Priority  `json:"priority"`

	// Title и Message - текст алерта.
	Title   string `json:"title"`
	Message string `json:"message"`

	// Rules - правила, факторы которых вошли в алерт.
	Rules []risk.Rule `json:"rules"`

	// Impact - наибольшее влияние среди факторов алерта.
	Impact int `json:"impact"`

	// Timestamp - когда алерт был создан.
	Timestamp time.Time `json:"timestamp"`

	// LastSeenAt и Occurrences обновляются при повторном срабатывании.
	LastSeenAt  time.Time `json:"last_seen_at"`
	Occurrences int       `json:"occurrences"`

	// Read - прочитан ли алерт (меняется только false → true).
	Read bool `json:"read"`

	// ActionRequired - требуется ли действие (сбрасывается только явным Resolve).
	ActionRequired bool `json:"action_required"`

	// ResolvedAt - когда алерт был закрыт.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// ResolvedBy - кто закрыл алерт.
	ResolvedBy string `json:"resolved_by,omitempty"`
}

// NewAlertParams содержит параметры для создания алерта.
type NewAlertParams struct {
	ID             string
	StudentID      string
	MentorID       string
	Type           AlertType
	Priority       Priority
	Title          string
	Message        string
	Rules          []risk.Rule
	Impact         int
	ActionRequired bool
	At             time.Time
}

// NewAlert создаёт новый алерт с валидацией.
func NewAlert(params NewAlertParams) (*Alert, error) {
	if params.ID == "" {
		return nil, ErrEmptyAlertID
	}
	if params.StudentID == "" {
		return nil, ErrEmptyStudentID
	}
	if !params.Type.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAlertType, params.Type)
	}
	if !params.Priority.IsValid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, params.Priority)
	}
	if params.Title == "" {
		return nil, ErrEmptyTitle
	}

	return &Alert{
		ID:             params.ID,
		StudentID:      params.StudentID,
		MentorID:       params.MentorID,
		Type:           params.Type,
		Priority:       params.Priority,
		Title:          params.Title,
		Message:        params.Message,
		Rules:          params.Rules,
		Impact:         params.Impact,
		Timestamp:      params.At,
		LastSeenAt:     params.At,
		Occurrences:    1,
		ActionRequired: params.ActionRequired,
	}, nil
}

// Key возвращает ключ дедупликации.
func (a *Alert) Key() Key {
	return Key{StudentID: a.StudentID, Type: a.Type, Priority: a.Priority}
}

// IsOpen возвращает true, пока алерт ждёт внимания: не прочитан
// или всё ещё требует действия.
func (a *Alert) IsOpen() bool {
	return !a.Read || a.ActionRequired
}

// MarkRead отмечает алерт прочитанным. Повторный вызов ничего не меняет.
func (a *Alert) MarkRead() {
	a.Read = true
}

// Resolve закрывает требуемое действие. Обратного перехода нет.
func (a *Alert) Resolve(by string, at time.Time) error {
	if !a.ActionRequired {
		return ErrAlreadyResolved
	}
	a.ActionRequired = false
	a.Read = true
	t := at
	a.ResolvedAt = &t
	a.ResolvedBy = by
	return nil
}

// refresh обновляет существующий алерт вместо создания дубликата.
// ActionRequired может только установиться, но не сброситься.
func (a *Alert) refresh(draft *Alert) {
	a.LastSeenAt = draft.LastSeenAt
	a.Occurrences++
	if draft.Impact > a.Impact {
		a.Impact = draft.Impact
	}
	a.Message = draft.Message
	a.Rules = draft.Rules
	if draft.ActionRequired {
		a.ActionRequired = true
	}
}

// Clone создаёт глубокую копию алерта.
func (a *Alert) Clone() *Alert {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Rules != nil {
		clone.Rules = make([]risk.Rule, len(a.Rules))
		copy(clone.Rules, a.Rules)
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		clone.ResolvedAt = &t
	}
	return &clone
}

// String возвращает строковое представление алерта.
func (a *Alert) String() string {
	return fmt.Sprintf("Alert{ID: %s, Key: %s, Impact: %d, Open: %t}",
		a.ID, a.Key(), a.Impact, a.IsOpen())
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrEmptyAlertID     = errors.New("alert id cannot be empty")
	ErrEmptyStudentID   = errors.New("alert student id cannot be empty")
	ErrEmptyTitle       = errors.New("alert title cannot be empty")
	ErrInvalidAlertType = errors.New("invalid alert type")
	ErrInvalidPriority  = shared.ErrInvalidPriority
	ErrAlreadyResolved  = shared.ErrAlertAlreadyResolved
)
