// Package dashboard сворачивает оценки риска по всей популяции студентов
// в сводные метрики. Агрегация никогда не завершается ошибкой:
// неполные данные исключаются из средних и учитываются отдельными счётчиками.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// DefaultDropoutWindowDays - окно "недавних" отчислений по умолчанию.
const DefaultDropoutWindowDays = 30

// Metrics - сводка по популяции студентов.
type Metrics struct {
	TotalStudents int `json:"total_students"`
	HighRisk      int `json:"high_risk"`
	MediumRisk    int `json:"medium_risk"`
	LowRisk       int `json:"low_risk"`

	// AverageAttendance и OverallGPA считаются только по обучающимся студентам с данными.
	AverageAttendance float64 `json:"average_attendance"`
	OverallGPA        float64 `json:"overall_gpa"`

	PendingFees    int64 `json:"pending_fees"`
	RecentDropouts int   `json:"recent_dropouts"`

	// DroppedOut - отчисленные студенты за всё время. Они входят в
	// TotalStudents и PendingFees, но не в средние.
	DroppedOut int `json:"dropped_out"`

	// AttendanceExcluded и GPAExcluded - сколько обучающихся студентов
	// не вошло в средние из-за отсутствия данных.
	AttendanceExcluded int `json:"attendance_excluded"`
	GPAExcluded        int `json:"gpa_excluded"`

	// InvalidRecords - оценки с нарушениями целостности входных данных.
	InvalidRecords int `json:"invalid_records"`

	AsOf time.Time `json:"as_of"`
}

// RiskShare возвращает долю студентов с указанным уровнем риска.
func (m Metrics) RiskShare(level risk.Level) float64 {
	var n int
	switch level {
	case risk.LevelHigh:
		n = m.HighRisk
	case risk.LevelMedium:
		n = m.MediumRisk
	default:
		n = m.LowRisk
	}
	return shared.Round2(shared.Ratio(float64(n), float64(m.TotalStudents)))
}

// ══════════════════════════════════════════════════════════════════════════════
// ACCUMULATOR
// ══════════════════════════════════════════════════════════════════════════════

// Accumulator накапливает оценки. Порядок Add и Merge не влияет на Result:
// значения для средних хранятся целиком и суммируются после сортировки.
type Accumulator struct {
	asOf    time.Time
	window  shared.TimeRange
	counts  map[risk.Level]int
	att     []float64
	gpa     []float64
	pending int64

	dropouts    int
	droppedOut  int
	attExcluded int
	gpaExcluded int
	invalid     int
}

// NewAccumulator создаёт пустой аккумулятор.
// Окно недавних отчислений: (asOf - dropoutWindowDays, asOf].
func NewAccumulator(asOf time.Time, dropoutWindowDays int) *Accumulator {
	if dropoutWindowDays <= 0 {
		dropoutWindowDays = DefaultDropoutWindowDays
	}
	return &Accumulator{
		asOf:   asOf,
		window: shared.DaysBefore(asOf, dropoutWindowDays),
		counts: make(map[risk.Level]int, len(risk.AllLevels)),
	}
}

// Add учитывает одну оценку.
// Отчисленные студенты входят в общее число, уровни риска и сумму долгов,
// но не в средние посещаемости и GPA.
func (acc *Accumulator) Add(a risk.Assessment) {
	acc.counts[a.OverallRisk]++

	if a.Snapshot.HasFinancial {
		acc.pending += a.Snapshot.PendingFees
	}
	if a.HasIntegrityIssues() {
		acc.invalid++
	}

	if a.Snapshot.Enrollment == student.EnrollmentDroppedOut {
		acc.droppedOut++
		if at := a.Snapshot.DroppedOutAt; at != nil && at.After(acc.window.From) && !at.After(acc.window.To) {
			acc.dropouts++
		}
		return
	}

	if p := a.Snapshot.AttendancePercentage; p != nil {
		acc.att = append(acc.att, *p)
	} else {
		acc.attExcluded++
	}

	if g := a.Snapshot.GPA; g != nil {
		acc.gpa = append(acc.gpa, *g)
	} else {
		acc.gpaExcluded++
	}
}

// Merge добавляет состояние другого аккумулятора. Операция коммутативна.
func (acc *Accumulator) Merge(other *Accumulator) {
	if other == nil {
		return
	}
	for level, n := range other.counts {
		acc.counts[level] += n
	}
	acc.att = append(acc.att, other.att...)
	acc.gpa = append(acc.gpa, other.gpa...)
	acc.pending += other.pending
	acc.dropouts += other.dropouts
	acc.droppedOut += other.droppedOut
	acc.attExcluded += other.attExcluded
	acc.gpaExcluded += other.gpaExcluded
	acc.invalid += other.invalid
}

// Result вычисляет метрики по накопленным оценкам.
func (acc *Accumulator) Result() Metrics {
	high, medium, low := acc.counts[risk.LevelHigh], acc.counts[risk.LevelMedium], acc.counts[risk.LevelLow]
	return Metrics{
		TotalStudents:      high + medium + low,
		HighRisk:           high,
		MediumRisk:         medium,
		LowRisk:            low,
		AverageAttendance:  mean(acc.att),
		OverallGPA:         mean(acc.gpa),
		PendingFees:        acc.pending,
		RecentDropouts:     acc.dropouts,
		DroppedOut:         acc.droppedOut,
		AttendanceExcluded: acc.attExcluded,
		GPAExcluded:        acc.gpaExcluded,
		InvalidRecords:     acc.invalid,
		AsOf:               acc.asOf,
	}
}

// Aggregate сворачивает оценки популяции в метрики.
// Пустой вход даёт нулевые метрики.
func Aggregate(assessments []risk.Assessment, asOf time.Time, dropoutWindowDays int) Metrics {
	acc := NewAccumulator(asOf, dropoutWindowDays)
	for _, a := range assessments {
		acc.Add(a)
	}
	return acc.Result()
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return shared.Round2(sum / float64(len(sorted)))
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store хранит последние вычисленные метрики.
type Store interface {
	// Get возвращает последние метрики или shared.ErrMetricsNotFound.
	Get(ctx context.Context) (*Metrics, error)

	// Save заменяет сохранённые метрики.
	Save(ctx context.Context, m Metrics) error

	// Invalidate удаляет сохранённые метрики.
	Invalidate(ctx context.Context) error
}
