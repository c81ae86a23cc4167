// Package risk содержит движок оценки риска: классификатор по измерениям,
// детектор факторов риска и построение рекомендаций.
// Все функции пакета чистые: одинаковые входные данные дают одинаковый результат.
package risk

import (
	"fmt"
	"strings"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
)

// Level - упорядоченный уровень риска: Low < Medium < High.
// Сравнение идёт по числовому значению, а не по строке.
type Level int

const (
	// LevelLow - риск низкий.
	LevelLow Level = iota
	// LevelMedium - риск средний, нужен мониторинг.
	LevelMedium
	// LevelHigh - риск высокий, нужно вмешательство.
	LevelHigh
)

// AllLevels перечисляет уровни по возрастанию.
var AllLevels = []Level{LevelLow, LevelMedium, LevelHigh}

// String возвращает строковое представление уровня.
func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// IsValid проверяет, что уровень входит в перечисление.
func (l Level) IsValid() bool {
	return l >= LevelLow && l <= LevelHigh
}

// Compare возвращает -1, 0 или 1.
func (l Level) Compare(other Level) int {
	switch {
	case l < other:
		return -1
	case l > other:
		return 1
	default:
		return 0
	}
}

// AtLeast возвращает true, если уровень не ниже other.
func (l Level) AtLeast(other Level) bool {
	return l >= other
}

// Max возвращает больший из двух уровней.
func (l Level) Max(other Level) Level {
	if other > l {
		return other
	}
	return l
}

// MaxLevel возвращает максимальный уровень; для пустого списка - LevelLow.
func MaxLevel(levels ...Level) Level {
	result := LevelLow
	for _, l := range levels {
		result = result.Max(l)
	}
	return result
}

// ParseLevel разбирает строку "low" | "medium" | "high".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return LevelLow, nil
	case "medium":
		return LevelMedium, nil
	case "high":
		return LevelHigh, nil
	default:
		return LevelLow, shared.WrapError("risk", "ParseLevel", shared.ErrInvalidInput,
			"invalid risk level", fmt.Errorf("%q", s))
	}
}

// MarshalText сериализует уровень строкой (JSON, YAML).
func (l Level) MarshalText() ([]byte, error) {
	if !l.IsValid() {
		return nil, shared.ErrInvalidRiskLevel
	}
	return []byte(l.String()), nil
}

// UnmarshalText разбирает уровень из строки.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
