// Package student содержит доменную модель студента и его учебных записей.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package student

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// EnrollmentStatus определяет текущий статус студента в программе.
type EnrollmentStatus string

const (
	// EnrollmentActive - студент активно учится.
	EnrollmentActive EnrollmentStatus = "active"
	// EnrollmentDroppedOut - студент отчислился или бросил обучение.
	EnrollmentDroppedOut EnrollmentStatus = "dropped_out"
	// EnrollmentGraduated - студент успешно закончил программу.
	EnrollmentGraduated EnrollmentStatus = "graduated"
	// EnrollmentSuspended - студент временно отстранён.
	EnrollmentSuspended EnrollmentStatus = "suspended"
)

// IsValid проверяет, что статус корректен.
func (s EnrollmentStatus) IsValid() bool {
	switch s {
	case EnrollmentActive, EnrollmentDroppedOut, EnrollmentGraduated, EnrollmentSuspended:
		return true
	default:
		return false
	}
}

// IsMonitored возвращает true, если студента нужно оценивать в цикле.
func (s EnrollmentStatus) IsMonitored() bool {
	return s == EnrollmentActive || s == EnrollmentSuspended
}

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: STUDENT
// ══════════════════════════════════════════════════════════════════════════════

// Student - сведения о студенте и его зачислении.
// Неизменяем после зачисления, кроме административных исправлений.
type Student struct {
	// ID - идентификатор студента (например, "ST001").
	ID string `json:"id" yaml:"id" validate:"required,max=64"`

	// Name - полное имя.
	Name string `json:"name" yaml:"name" validate:"required"`

	// Email - контактный адрес.
	Email string `json:"email,omitempty" yaml:"email" validate:"omitempty,email"`

	// RollNumber - номер в ведомости.
	RollNumber string `json:"roll_number,omitempty" yaml:"roll_number"`

	// Course - программа обучения.
	Course string `json:"course,omitempty" yaml:"course"`

	// Semester - текущий семестр.
	Semester int `json:"semester,omitempty" yaml:"semester" validate:"gte=0,lte=16"`

	// Batch - набор (например, "2022-2026").
	Batch string `json:"batch,omitempty" yaml:"batch"`

	// Phone и GuardianContact - контакты для связи.
	Phone           string `json:"phone,omitempty" yaml:"phone"`
	GuardianContact string `json:"guardian_contact,omitempty" yaml:"guardian_contact"`

	// MentorID - закреплённый наставник, получает алерты.
	MentorID string `json:"mentor_id,omitempty" yaml:"mentor_id"`

	// AdmissionDate - дата зачисления.
	AdmissionDate time.Time `json:"admission_date" yaml:"admission_date"`

	// Status - статус зачисления.
	Status EnrollmentStatus `json:"status" yaml:"status"`

	// DroppedOutAt - дата отчисления (только для dropped_out).
	DroppedOutAt *time.Time `json:"dropped_out_at,omitempty" yaml:"dropped_out_at"`
}

// NewStudentParams содержит параметры для создания студента.
type NewStudentParams struct {
	ID            string
	Name          string
	Email         string
	Course        string
	Semester      int
	MentorID      string
	AdmissionDate time.Time
}

// NewStudent создаёт нового студента с валидацией.
func NewStudent(params NewStudentParams) (*Student, error) {
	if strings.TrimSpace(params.ID) == "" {
		return nil, ErrEmptyStudentID
	}
	if strings.TrimSpace(params.Name) == "" {
		return nil, ErrEmptyName
	}
	if params.Semester < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSemester, params.Semester)
	}

	return &Student{
		ID:            strings.TrimSpace(params.ID),
		Name:          strings.TrimSpace(params.Name),
		Email:         params.Email,
		Course:        params.Course,
		Semester:      params.Semester,
		MentorID:      params.MentorID,
		AdmissionDate: params.AdmissionDate,
		Status:        EnrollmentActive,
	}, nil
}

// EnrollmentStatus возвращает статус зачисления; пустое значение считается active.
func (s *Student) EnrollmentStatus() EnrollmentStatus {
	if s.Status == "" {
		return EnrollmentActive
	}
	return s.Status
}

// MarkDroppedOut фиксирует отчисление студента.
func (s *Student) MarkDroppedOut(at time.Time) error {
	if s.EnrollmentStatus() == EnrollmentDroppedOut {
		return ErrAlreadyDroppedOut
	}
	s.Status = EnrollmentDroppedOut
	t := at
	s.DroppedOutAt = &t
	return nil
}

// String возвращает строковое представление студента.
func (s *Student) String() string {
	return fmt.Sprintf("Student{ID: %s, Name: %s, Course: %s, Status: %s}",
		s.ID, s.Name, s.Course, s.EnrollmentStatus())
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrEmptyStudentID    = errors.New("student id cannot be empty")
	ErrEmptyName         = errors.New("student name cannot be empty")
	ErrInvalidSemester   = errors.New("invalid semester")
	ErrAlreadyDroppedOut = errors.New("student already dropped out")
)
