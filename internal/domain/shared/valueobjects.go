package shared

import (
	"math"
	"regexp"
	"strings"
	"time"
)

// StudentID - идентификатор студента: "ST001", UUID и т.п.
type StudentID string

var studentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// NewStudentID проверяет формат и обрезает пробелы.
func NewStudentID(id string) (StudentID, error) {
	id = strings.TrimSpace(id)
	if !studentIDPattern.MatchString(id) {
		return "", ErrInvalidStudentID
	}
	return StudentID(id), nil
}

func (s StudentID) String() string { return string(s) }

// ═══════════════════════════════════════════════════════════════════════════
// ЧИСЛА
// ═══════════════════════════════════════════════════════════════════════════

// Ratio - доля part от whole в процентах; 0, если whole <= 0.
func Ratio(part, whole float64) float64 {
	if whole <= 0 {
		return 0
	}
	return part / whole * 100
}

// ClampInt ограничивает v отрезком [lo, hi].
func ClampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// CeilSteps - сколько шагов step покрывают distance, с округлением вверх.
func CeilSteps(distance, step float64) int {
	if distance <= 0 || step <= 0 {
		return 0
	}
	// 0.8/0.2 даёт 4.000000000000001
	return int(math.Ceil(distance/step - 1e-9))
}

// Round2 округляет до сотых.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ═══════════════════════════════════════════════════════════════════════════
// ОКНО ВРЕМЕНИ
// ═══════════════════════════════════════════════════════════════════════════

// TimeRange - замкнутый интервал [From, To].
type TimeRange struct {
	From time.Time
	To   time.Time
}

// DaysBefore - окно из n суток, заканчивающееся в asOf.
func DaysBefore(asOf time.Time, n int) TimeRange {
	return TimeRange{From: asOf.AddDate(0, 0, -n), To: asOf}
}

// ═══════════════════════════════════════════════════════════════════════════
// ПАГИНАЦИЯ
// ═══════════════════════════════════════════════════════════════════════════

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Pagination - номер страницы с единицы и её размер.
type Pagination struct {
	Page     int
	PageSize int
}

// NewPagination подставляет значения по умолчанию и ограничивает размер.
func NewPagination(page, pageSize int) Pagination {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return Pagination{Page: max(page, 1), PageSize: min(pageSize, MaxPageSize)}
}

func (p Pagination) Limit() int { return NewPagination(p.Page, p.PageSize).PageSize }

func (p Pagination) Offset() int { return (max(p.Page, 1) - 1) * p.Limit() }
