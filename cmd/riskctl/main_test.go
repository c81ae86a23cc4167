package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	color.NoColor = true

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEvaluate_JSONReport(t *testing.T) {
	t.Setenv("RISK_POLICY_PATH", "")

	out, err := execute(t, "evaluate", "--records", "testdata/records.yaml", "--as-of", "2024-03-15", "--json")
	require.NoError(t, err)

	var report evaluationReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))

	assert.Equal(t, 2, report.Evaluated)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Assessments, 2)

	byID := map[string]risk.Assessment{}
	for _, a := range report.Assessments {
		byID[a.StudentID] = a
	}
	assert.Equal(t, risk.LevelHigh, byID["ST001"].OverallRisk)
	assert.Equal(t, risk.LevelHigh, byID["ST001"].AcademicRisk)
	assert.Equal(t, risk.LevelHigh, byID["ST001"].AttendanceRisk)
	assert.Equal(t, risk.LevelLow, byID["ST002"].OverallRisk)

	assert.NotEmpty(t, report.Alerts)
	for _, a := range report.Alerts {
		assert.Equal(t, "ST001", a.StudentID)
	}

	assert.Equal(t, 2, report.Dashboard.TotalStudents)
	assert.Equal(t, 1, report.Dashboard.HighRisk)
	assert.Equal(t, 1, report.Dashboard.LowRisk)
}

func TestEvaluate_TableOutput(t *testing.T) {
	t.Setenv("RISK_POLICY_PATH", "")

	out, err := execute(t, "evaluate", "-r", "testdata/records.yaml", "--as-of", "2024-03-15", "--student", "ST001")
	require.NoError(t, err)

	assert.Contains(t, out, "=== Risk Evaluation ===")
	assert.Contains(t, out, "Evaluated: 1")
	assert.Contains(t, out, "ST001")
	assert.NotContains(t, out, "ST002")
	assert.Contains(t, out, "high")
}

func TestEvaluate_RequiresRecords(t *testing.T) {
	_, err := execute(t, "evaluate")
	require.Error(t, err)
}

func TestEvaluate_RejectsBadDate(t *testing.T) {
	_, err := execute(t, "evaluate", "--records", "testdata/records.yaml", "--as-of", "15.03.2024")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--as-of")
}

func TestPolicyValidate(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("attendance:\n  high_below: 70\n  medium_below: 80\n"), 0o600))
	out, err := execute(t, "policy", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("attendance:\n  high_below: 90\n  medium_below: 80\n"), 0o600))
	_, err = execute(t, "policy", "validate", bad)
	require.Error(t, err)

	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("attendence:\n  high_below: 70\n"), 0o600))
	_, err = execute(t, "policy", "validate", unknown)
	require.Error(t, err)
}

func TestPolicyShow_AppliesFeatureFlags(t *testing.T) {
	t.Setenv("RISK_POLICY_PATH", "")
	t.Setenv("FEATURE_RULES_BEHAVIOR", "false")

	out, err := execute(t, "policy", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "high_below: 75")
	assert.Contains(t, out, "behavior: false")
}

func TestRecordsCheck(t *testing.T) {
	out, err := execute(t, "records", "check", "testdata/records.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "2 students")
}

func TestParseAsOf(t *testing.T) {
	d, err := parseAsOf("2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, 15, d.Day())

	ts, err := parseAsOf("2024-03-15T10:30:00+05:00")
	require.NoError(t, err)
	assert.Equal(t, 5, ts.Hour())

	_, err = parseAsOf("yesterday")
	assert.Error(t, err)
}
