package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

// FeatureFlags holds runtime toggles read from FEATURE_* environment variables.
type FeatureFlags struct {
	mu       sync.RWMutex
	features map[string]*Feature
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool
}

// Predefined feature flag names.
const (
	// Supplemental risk rules. Attendance, GPA and fee rules are always on.
	FeatureRuleTestFailures = "rules.test_failures"
	FeatureRuleAssignments  = "rules.assignments"
	FeatureRuleGPADecline   = "rules.gpa_decline"
	FeatureRuleBehavior     = "rules.behavior"

	// FeatureAlertDelivery forwards raised alerts to the mentor channel.
	FeatureAlertDelivery = "alerts.delivery"

	// FeatureDistributedLock uses Redis for per-student locks.
	FeatureDistributedLock = "redis.student_lock"
)

// LoadFeatureFlags loads defaults and applies environment overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns flags with defaults only.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{features: make(map[string]*Feature)}
	for _, f := range []Feature{
		{FeatureRuleTestFailures, "Flag consecutive failed tests", true},
		{FeatureRuleAssignments, "Flag overdue assignments", true},
		{FeatureRuleGPADecline, "Flag semester-over-semester GPA decline", true},
		{FeatureRuleBehavior, "Flag repeated negative behavior notes", true},
		{FeatureAlertDelivery, "Deliver raised alerts to mentors", true},
		{FeatureDistributedLock, "Lock students in Redis during evaluation", true},
	} {
		f := f
		ff.features[f.Name] = &f
	}
	return ff
}

// loadFromEnvironment applies FEATURE_RULES_BEHAVIOR=false style overrides.
func (ff *FeatureFlags) loadFromEnvironment() {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	for name, f := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}
		if enabled, err := strconv.ParseBool(val); err == nil {
			f.Enabled = enabled
		}
	}
}

func featureNameToEnvKey(name string) string {
	return "FEATURE_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(name))
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (ff *FeatureFlags) IsEnabled(name string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	f, ok := ff.features[name]
	return ok && f.Enabled
}

// Set toggles a known feature.
func (ff *FeatureFlags) Set(name string, enabled bool) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	f, ok := ff.features[name]
	if !ok {
		return &FeatureFlagError{Feature: name, Message: "unknown feature"}
	}
	f.Enabled = enabled
	return nil
}

// All returns a snapshot of every flag sorted by name.
func (ff *FeatureFlags) All() []Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()
	out := make([]Feature, 0, len(ff.features))
	for _, f := range ff.features {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyRules switches off policy rules whose flags are disabled.
// A flag never enables a rule the policy file turned off.
func (ff *FeatureFlags) ApplyRules(p risk.Policy) risk.Policy {
	p.Rules.TestFailures = p.Rules.TestFailures && ff.IsEnabled(FeatureRuleTestFailures)
	p.Rules.Assignments = p.Rules.Assignments && ff.IsEnabled(FeatureRuleAssignments)
	p.Rules.GPADecline = p.Rules.GPADecline && ff.IsEnabled(FeatureRuleGPADecline)
	p.Rules.Behavior = p.Rules.Behavior && ff.IsEnabled(FeatureRuleBehavior)
	return p
}

// FeatureFlagError represents a feature flag operation error.
type FeatureFlagError struct {
	Feature string
	Message string
}

func (e *FeatureFlagError) Error() string {
	return fmt.Sprintf("feature flag %q: %s", e.Feature, e.Message)
}
