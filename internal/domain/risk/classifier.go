package risk

// Classification - уровни риска по измерениям и общий уровень.
type Classification struct {
	Academic   Level
	Attendance Level
	Financial  Level
	Overall    Level
}

// Classifier сопоставляет очищенные входные данные с уровнями риска.
// Нижняя граница каждой полосы включительна.
type Classifier struct {
	policy Policy
}

// NewClassifier создаёт классификатор с заданной политикой.
func NewClassifier(policy Policy) Classifier {
	return Classifier{policy: policy}
}

// Classify вычисляет все измерения. Общий уровень - максимум из трёх:
// одно измерение с high делает весь риск high.
func (c Classifier) Classify(in Inputs) Classification {
	cls := Classification{
		Academic:   c.AcademicLevel(in.GPA),
		Attendance: c.AttendanceLevel(in.AttendancePercentage),
		Financial:  c.FinancialLevel(in),
	}
	cls.Overall = MaxLevel(cls.Academic, cls.Attendance, cls.Financial)
	return cls
}

// AttendanceLevel: нет данных → high.
func (c Classifier) AttendanceLevel(pct *float64) Level {
	if pct == nil {
		return LevelHigh
	}
	return band(*pct, c.policy.Attendance.HighBelow, c.policy.Attendance.MediumBelow)
}

// AcademicLevel: нет GPA → high.
func (c Classifier) AcademicLevel(gpa *float64) Level {
	if gpa == nil {
		return LevelHigh
	}
	return band(*gpa, c.policy.Academic.HighBelow, c.policy.Academic.MediumBelow)
}

// FinancialLevel: долг > 0 даёт минимум medium; high при превышении доли
// или просрочке дольше льготного периода. Нет финансовой записи → medium.
func (c Classifier) FinancialLevel(in Inputs) Level {
	if !in.HasFinancial {
		return LevelMedium
	}
	if in.PendingFees <= 0 {
		return LevelLow
	}
	if c.exceedsFraction(in) || c.pastGrace(in) {
		return LevelHigh
	}
	return LevelMedium
}

func (c Classifier) exceedsFraction(in Inputs) bool {
	return pendingFraction(in) > c.policy.Financial.OverdueFraction
}

func (c Classifier) pastGrace(in Inputs) bool {
	return in.PendingFees > 0 && in.DaysOverdue > c.policy.Financial.GraceDays
}

// pendingFraction возвращает pending/total; долг при нулевой сумме считается полным.
func pendingFraction(in Inputs) float64 {
	if in.PendingFees <= 0 {
		return 0
	}
	if in.TotalFees <= 0 {
		return 1
	}
	return float64(in.PendingFees) / float64(in.TotalFees)
}

func band(v, highBelow, mediumBelow float64) Level {
	switch {
	case v < highBelow:
		return LevelHigh
	case v < mediumBelow:
		return LevelMedium
	default:
		return LevelLow
	}
}
