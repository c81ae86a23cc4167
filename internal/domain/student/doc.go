// Package student содержит доменную модель студента и его учебных записей.
//
// Пакет определяет:
//
//   - Сущность Student и статус зачисления
//   - Записи: AttendanceRecord, AcademicRecord (TestScore, Assignment),
//     FinancialRecord (Payment, Scholarship), BehaviorNote
//   - Records - входной пакет данных для оценки риска одного студента
//   - Интерфейс RecordRepository, реализуемый в infrastructure/persistence
//
// # Архитектурные принципы
//
//  1. Нулевые внешние зависимости - только стандартная библиотека Go
//  2. Dependency Inversion - интерфейсы объявлены здесь, реализации в infrastructure
//  3. Записи не исправляются в домене: нарушения инвариантов обнаруживает
//     пакет risk и прикладывает их к оценке
//
// # Пример
//
//	gpa := 5.2
//	records := student.Records{
//	    Student:  student.Student{ID: "ST001", Name: "Arjun Sharma"},
//	    Academic: &student.AcademicRecord{GPA: &gpa},
//	    Attendance: []student.AttendanceRecord{
//	        {Subject: "Mathematics", TotalClasses: 120, AttendedClasses: 78},
//	    },
//	}
//
// Процент посещаемости считается как attended/total*100 и равен 0 при total = 0.
package student
