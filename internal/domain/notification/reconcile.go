package notification

import (
	"fmt"
	"strings"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// Policy - пороги генератора алертов.
type Policy struct {
	// ReAlertImpactDelta - на сколько должно вырасти влияние фактора с severity high,
	// чтобы алерт сработал повторно.
	ReAlertImpactDelta int `yaml:"realert_impact_delta" json:"realert_impact_delta" validate:"gte=1,lte=9"`

	// CriticalImpact - влияние, при котором high-риск получает приоритет critical.
	CriticalImpact int `yaml:"critical_impact" json:"critical_impact" validate:"gte=1,lte=10"`
}

// DefaultPolicy возвращает пороги по умолчанию.
func DefaultPolicy() Policy {
	return Policy{
		ReAlertImpactDelta: 2,
		CriticalImpact:     9,
	}
}

// Validate проверяет пороги генератора.
func (p Policy) Validate() error {
	var errs []string
	if p.ReAlertImpactDelta < 1 || p.ReAlertImpactDelta > risk.MaxImpact-1 {
		errs = append(errs, fmt.Sprintf("alerts.realert_impact_delta must be in [1, %d] (got %d)", risk.MaxImpact-1, p.ReAlertImpactDelta))
	}
	if p.CriticalImpact < risk.MinImpact || p.CriticalImpact > risk.MaxImpact {
		errs = append(errs, fmt.Sprintf("alerts.critical_impact must be in [%d, %d] (got %d)", risk.MinImpact, risk.MaxImpact, p.CriticalImpact))
	}
	if len(errs) > 0 {
		return shared.WrapError("notification", "ValidatePolicy", shared.ErrValidation,
			"invalid alert policy", fmt.Errorf("%s", strings.Join(errs, "; ")))
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATOR
// ══════════════════════════════════════════════════════════════════════════════

// IDFunc генерирует ID для новых алертов.
type IDFunc func() string

// Generator превращает переходы состояния риска в алерты.
// Состояние открытых алертов передаётся явно, сам генератор ничего не хранит.
type Generator struct {
	policy Policy
	newID  IDFunc
}

// NewGenerator создаёт генератор после проверки политики.
func NewGenerator(policy Policy, newID IDFunc) (*Generator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if newID == nil {
		return nil, shared.NewDomainError("notification", "NewGenerator", shared.ErrInvalidInput, "id generator is required")
	}
	return &Generator{policy: policy, newID: newID}, nil
}

// Reconciliation - результат сверки: новые и обновлённые алерты.
type Reconciliation struct {
	Raised    []*Alert
	Refreshed []*Alert
}

// All возвращает все затронутые алерты: сначала новые, затем обновлённые.
func (r Reconciliation) All() []*Alert {
	all := make([]*Alert, 0, len(r.Raised)+len(r.Refreshed))
	all = append(all, r.Raised...)
	return append(all, r.Refreshed...)
}

// IsEmpty возвращает true, если сверка ничего не породила.
func (r Reconciliation) IsEmpty() bool {
	return len(r.Raised) == 0 && len(r.Refreshed) == 0
}

// PriorityFor сопоставляет общий уровень риска с приоритетом.
// Для low возвращает false: снижение риска алертов не порождает.
func (g *Generator) PriorityFor(a risk.Assessment) (Priority, bool) {
	switch a.OverallRisk {
	case risk.LevelHigh:
		if a.MaxImpact() >= g.policy.CriticalImpact {
			return PriorityCritical, true
		}
		return PriorityHigh, true
	case risk.LevelMedium:
		return PriorityMedium, true
	default:
		return 0, false
	}
}

// Reconcile сравнивает предыдущую и текущую оценку одного студента.
// Алерт порождается, если:
//   - общий риск вырос (первая оценка считается ростом);
//   - появилась категория факторов, которой не было раньше;
//   - влияние фактора с severity high выросло не меньше чем на ReAlertImpactDelta.
//
// Открытый алерт с тем же ключом (студент, тип, приоритет) не дублируется,
// а обновляется. Переданные алерты не изменяются: обновлённые возвращаются копиями.
func (g *Generator) Reconcile(previous *risk.Assessment, current risk.Assessment, open []*Alert) Reconciliation {
	var result Reconciliation

	priority, ok := g.PriorityFor(current)
	if !ok {
		return result
	}

	triggered := g.triggeredCategories(previous, current)
	if len(triggered) == 0 {
		return result
	}

	index := make(map[Key]*Alert, len(open))
	for _, a := range open {
		if a == nil || a.StudentID != current.StudentID || !a.IsOpen() {
			continue
		}
		if existing, dup := index[a.Key()]; dup && existing.Timestamp.Before(a.Timestamp) {
			continue
		}
		index[a.Key()] = a
	}

	for _, category := range risk.AllCategories {
		if !triggered[category] {
			continue
		}
		draft := g.draft(current, category, priority)

		if existing, found := index[draft.Key()]; found {
			refreshed := existing.Clone()
			refreshed.refresh(draft)
			index[draft.Key()] = refreshed
			result.Refreshed = append(result.Refreshed, refreshed)
			continue
		}

		index[draft.Key()] = draft
		result.Raised = append(result.Raised, draft)
	}

	return result
}

// triggeredCategories возвращает категории, по которым нужен алерт.
func (g *Generator) triggeredCategories(previous *risk.Assessment, current risk.Assessment) map[risk.Category]bool {
	triggered := make(map[risk.Category]bool)

	// (a) рост общего риска: алерт по категориям, определившим уровень
	if previous == nil || current.OverallRisk > previous.OverallRisk {
		for _, f := range current.Factors {
			if f.Severity >= current.OverallRisk {
				triggered[f.Category] = true
			}
		}
	}

	if previous == nil {
		return triggered
	}

	// (b) новая категория факторов
	prevCategories := previous.Categories()
	for _, f := range current.Factors {
		if !prevCategories[f.Category] {
			triggered[f.Category] = true
		}
	}

	// (c) рост влияния фактора с severity high
	prevByRule := make(map[risk.Rule]risk.Factor, len(previous.Factors))
	for _, f := range previous.Factors {
		prevByRule[f.Rule] = f
	}
	for _, f := range current.Factors {
		if f.Severity != risk.LevelHigh {
			continue
		}
		prev, existed := prevByRule[f.Rule]
		if existed && f.Impact-prev.Impact >= g.policy.ReAlertImpactDelta {
			triggered[f.Category] = true
		}
	}

	return triggered
}

// draft собирает алерт по одной категории текущей оценки.
func (g *Generator) draft(current risk.Assessment, category risk.Category, priority Priority) *Alert {
	var (
		messages []string
		rules    []risk.Rule
		impact   int
		overdue  bool
		decline  bool
	)
	for _, f := range current.Factors {
		if f.Category != category {
			continue
		}
		messages = append(messages, f.Description)
		rules = append(rules, f.Rule)
		if f.Impact > impact {
			impact = f.Impact
		}
		switch f.Rule {
		case risk.RuleFeesOverdue:
			overdue = true
		case risk.RuleGPADecline:
			decline = true
		}
	}

	alertType := TypeForCategory(category)
	at := current.LastUpdated

	return &Alert{
		ID:             g.newID(),
		StudentID:      current.StudentID,
		MentorID:       current.MentorID,
		Type:           alertType,
		Priority:       priority,
		Title:          titleFor(alertType, priority, overdue, decline),
		Message:        strings.Join(messages, "; "),
		Rules:          rules,
		Impact:         impact,
		Timestamp:      at,
		LastSeenAt:     at,
		Occurrences:    1,
		ActionRequired: priority.RequiresAction() || overdue,
	}
}

func titleFor(t AlertType, p Priority, feesOverdue, gpaDecline bool) string {
	switch {
	case p == PriorityCritical:
		return "Critical Risk Alert"
	case feesOverdue:
		return "Fee Payment Overdue"
	case gpaDecline:
		return "GPA Decline Detected"
	}
	switch t {
	case AlertTypeAcademic:
		return "Academic Risk Alert"
	case AlertTypeAttendance:
		return "Attendance Risk Alert"
	case AlertTypeFinancial:
		return "Financial Risk Alert"
	default:
		return "Behavior Concern"
	}
}
