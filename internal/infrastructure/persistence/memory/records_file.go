package memory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/student-risk-monitor/internal/domain/shared"
	"github.com/alem-hub/student-risk-monitor/internal/domain/student"
)

// RecordsFile is the on-disk layout of a records snapshot:
//
//	students:
//	  - student: {id: ST001, name: Aigerim, status: active, mentor_id: M01}
//	    academic: {gpa: 5.4, test_scores: [...]}
//	    attendance: [{subject: Math, date: 2024-03-01, total_classes: 20, attended_classes: 12}]
//	    financial: {total_fees: 100000, paid_fees: 40000, pending_fees: 60000}
type RecordsFile struct {
	Students []student.Records `yaml:"students" validate:"dive"`
}

var recordsValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadRecordsFile reads and validates a YAML records snapshot.
func LoadRecordsFile(path string) ([]student.Records, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records file: %w", err)
	}
	return DecodeRecords(bytes.NewReader(data))
}

// DecodeRecords decodes a YAML records snapshot. Unknown fields, duplicate
// student IDs and unknown enrollment statuses are rejected.
func DecodeRecords(r io.Reader) ([]student.Records, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file RecordsFile
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return []student.Records{}, nil
		}
		return nil, fmt.Errorf("%w: decode records: %v", shared.ErrInvalidFormat, err)
	}

	if err := recordsValidator.Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrValidation, err)
	}

	seen := make(map[string]struct{}, len(file.Students))
	for i, rec := range file.Students {
		if _, dup := seen[rec.Student.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate student id %q at index %d",
				shared.ErrValidation, rec.Student.ID, i)
		}
		seen[rec.Student.ID] = struct{}{}

		if rec.Student.Status != "" && !rec.Student.Status.IsValid() {
			return nil, fmt.Errorf("%w: student %s: %q",
				shared.ErrInvalidEnrollment, rec.Student.ID, rec.Student.Status)
		}
	}
	return file.Students, nil
}

// LoadStore builds a store from a records file.
func LoadStore(path string) (*Store, error) {
	records, err := LoadRecordsFile(path)
	if err != nil {
		return nil, err
	}
	s := NewStore()
	if err := s.PutRecords(records...); err != nil {
		return nil, err
	}
	return s, nil
}
