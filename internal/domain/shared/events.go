package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType - тип доменного события.
type EventType string

// События публикуются только после коммита цикла оценки.
const (
	EventRiskEscalated   EventType = "risk.escalated"
	EventRiskDeescalated EventType = "risk.deescalated"

	EventAlertRaised    EventType = "alert.raised"
	EventAlertRefreshed EventType = "alert.refreshed"
	EventAlertResolved  EventType = "alert.resolved"

	EventEvaluationCompleted EventType = "system.evaluation_completed"
)

// Event - общий интерфейс доменных событий.
type Event interface {
	EventType() EventType
	OccurredAt() time.Time
	// AggregateID - студент для событий риска и алертов, цикл для системных.
	AggregateID() string
}

// EventMeta - общая часть всех событий.
type EventMeta struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Aggregate     string    `json:"aggregate_id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func (m EventMeta) EventType() EventType  { return m.Type }
func (m EventMeta) OccurredAt() time.Time { return m.Timestamp }
func (m EventMeta) AggregateID() string   { return m.Aggregate }

func newMeta(t EventType, aggregate string) EventMeta {
	return EventMeta{Type: t, Timestamp: time.Now().UTC(), Aggregate: aggregate}
}

// WithCorrelationID возвращает копию с идентификатором трассировки.
func (m EventMeta) WithCorrelationID(id string) EventMeta {
	m.CorrelationID = id
	return m
}

// ═══════════════════════════════════════════════════════════════════════════
// СОБЫТИЯ
// ═══════════════════════════════════════════════════════════════════════════

// RiskChangedEvent - изменился общий уровень риска студента.
type RiskChangedEvent struct {
	EventMeta
	StudentID     string `json:"student_id"`
	PreviousLevel string `json:"previous_level"`
	NewLevel      string `json:"new_level"`
}

// NewRiskChangedEvent создаёт событие повышения или понижения риска.
func NewRiskChangedEvent(studentID, previous, current string, escalated bool) RiskChangedEvent {
	t := EventRiskDeescalated
	if escalated {
		t = EventRiskEscalated
	}
	return RiskChangedEvent{
		EventMeta:     newMeta(t, studentID),
		StudentID:     studentID,
		PreviousLevel: previous,
		NewLevel:      current,
	}
}

// AlertEvent - алерт создан, обновлён или закрыт.
type AlertEvent struct {
	EventMeta
	AlertID        string `json:"alert_id"`
	StudentID      string `json:"student_id"`
	MentorID       string `json:"mentor_id,omitempty"`
	AlertType      string `json:"alert_type"`
	Priority       string `json:"priority"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	ActionRequired bool   `json:"action_required"`
}

// NewAlertEvent создаёт событие алерта заданного типа.
func NewAlertEvent(t EventType, alertID, studentID, mentorID, alertType, priority, title, message string, actionRequired bool) AlertEvent {
	return AlertEvent{
		EventMeta:      newMeta(t, studentID),
		AlertID:        alertID,
		StudentID:      studentID,
		MentorID:       mentorID,
		AlertType:      alertType,
		Priority:       priority,
		Title:          title,
		Message:        message,
		ActionRequired: actionRequired,
	}
}

// EvaluationCompletedEvent - цикл оценки закоммичен.
type EvaluationCompletedEvent struct {
	EventMeta
	CycleID       string        `json:"cycle_id"`
	Evaluated     int           `json:"evaluated"`
	Failed        int           `json:"failed"`
	AlertsRaised  int           `json:"alerts_raised"`
	AlertsRefresh int           `json:"alerts_refreshed"`
	Duration      time.Duration `json:"duration"`
}

// NewEvaluationCompletedEvent создаёт событие завершения цикла.
func NewEvaluationCompletedEvent(cycleID string, evaluated, failed, raised, refreshed int, duration time.Duration) EvaluationCompletedEvent {
	return EvaluationCompletedEvent{
		EventMeta:     newMeta(EventEvaluationCompleted, cycleID),
		CycleID:       cycleID,
		Evaluated:     evaluated,
		Failed:        failed,
		AlertsRaised:  raised,
		AlertsRefresh: refreshed,
		Duration:      duration,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// СЕРИАЛИЗАЦИЯ
// ═══════════════════════════════════════════════════════════════════════════

// decoders восстанавливают конкретный тип события, чтобы обработчики
// могли делать type assertion и после транспорта.
var decoders = map[EventType]func([]byte) (Event, error){
	EventRiskEscalated:       decodeAs[RiskChangedEvent],
	EventRiskDeescalated:     decodeAs[RiskChangedEvent],
	EventAlertRaised:         decodeAs[AlertEvent],
	EventAlertRefreshed:      decodeAs[AlertEvent],
	EventAlertResolved:       decodeAs[AlertEvent],
	EventEvaluationCompleted: decodeAs[EvaluationCompletedEvent],
}

func decodeAs[E Event](data []byte) (Event, error) {
	var e E
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// EventEnvelope - событие в транспортном виде. Source - экземпляр воркера,
// опубликовавший событие.
type EventEnvelope struct {
	Source string          `json:"source"`
	Type   EventType       `json:"type"`
	Event  json.RawMessage `json:"event"`
}

// EncodeEvent упаковывает событие в конверт.
func EncodeEvent(source string, event Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.EventType(), err)
	}
	return json.Marshal(EventEnvelope{Source: source, Type: event.EventType(), Event: body})
}

// DecodeEvent распаковывает конверт. Неизвестный тип - ошибка.
func DecodeEvent(data []byte) (source string, event Event, err error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	decode, ok := decoders[env.Type]
	if !ok {
		return "", nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	if event, err = decode(env.Event); err != nil {
		return "", nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return env.Source, event, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// ШИНА
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler обрабатывает одно событие.
type EventHandler func(event Event) error

// EventPublisher публикует события.
type EventPublisher interface {
	Publish(event Event) error
}

// EventSubscriber подписывает обработчики.
type EventSubscriber interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
}

// EventBus объединяет публикацию и подписку.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
