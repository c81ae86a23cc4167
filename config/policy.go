package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

// Policy is the full contents of the risk policy file.
//
//	attendance: {high_below: 75, medium_below: 85}
//	academic:   {high_below: 6.0, medium_below: 7.5, decline_delta: 1.0, ...}
//	financial:  {overdue_fraction: 0.2, grace_days: 14}
//	behavior:   {window_days: 30, negative_notes: 3}
//	rules:      {test_failures: true, assignments: true, gpa_decline: true, behavior: true}
//	alerts:     {realert_impact_delta: 2, critical_impact: 9}
//	dashboard:  {dropout_window_days: 30}
type Policy struct {
	Risk      risk.Policy         `yaml:",inline" json:"risk"`
	Alerts    notification.Policy `yaml:"alerts" json:"alerts"`
	Dashboard DashboardPolicy     `yaml:"dashboard" json:"dashboard"`
}

// DashboardPolicy holds aggregation settings.
type DashboardPolicy struct {
	DropoutWindowDays int `yaml:"dropout_window_days" json:"dropout_window_days" validate:"gte=1,lte=365"`
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Risk:      risk.DefaultPolicy(),
		Alerts:    notification.DefaultPolicy(),
		Dashboard: DashboardPolicy{DropoutWindowDays: 30},
	}
}

var policyValidator = validator.New(validator.WithRequiredStructEnabled())

// LoadPolicy reads a policy file over the defaults. An empty path returns
// the defaults. Any error is fatal for startup.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: %w", err)
	}
	defer f.Close()

	p, err := DecodePolicy(f)
	if err != nil {
		return Policy{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

// DecodePolicy parses YAML over the defaults, then checks field ranges and
// band ordering. Unknown keys are rejected.
func DecodePolicy(r io.Reader) (Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Policy{}, err
	}

	p := DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("parse: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks struct tags first, then cross-field rules.
func (p Policy) Validate() error {
	if err := policyValidator.Struct(p); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid policy: %s", formatValidationErrors(verrs))
		}
		return err
	}
	if err := p.Risk.Validate(); err != nil {
		return err
	}
	return p.Alerts.Validate()
}

// Encode writes the policy as YAML.
func (p Policy) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return err
	}
	return enc.Close()
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	var buf bytes.Buffer
	for i, fe := range verrs {
		if i > 0 {
			buf.WriteString("; ")
		}
		fmt.Fprintf(&buf, "%s must satisfy %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			fmt.Fprintf(&buf, "=%s", fe.Param())
		}
		fmt.Fprintf(&buf, " (got %v)", fe.Value())
	}
	return buf.String()
}
