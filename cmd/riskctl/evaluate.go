package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/alem-hub/student-risk-monitor/config"
	"github.com/alem-hub/student-risk-monitor/internal/application/command"
	"github.com/alem-hub/student-risk-monitor/internal/domain/dashboard"
	"github.com/alem-hub/student-risk-monitor/internal/domain/notification"
	"github.com/alem-hub/student-risk-monitor/internal/domain/risk"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/messaging"
	"github.com/alem-hub/student-risk-monitor/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/student-risk-monitor/pkg/timeutil"
)

type evaluateOptions struct {
	recordsPath string
	asOf        string
	students    []string
	jsonOutput  bool
}

// evaluationReport is the --json form of an evaluation.
type evaluationReport struct {
	CycleID     string                `json:"cycle_id"`
	AsOf        time.Time             `json:"as_of"`
	Evaluated   int                   `json:"evaluated"`
	Failed      int                   `json:"failed"`
	Errors      map[string]string     `json:"errors,omitempty"`
	Assessments []risk.Assessment     `json:"assessments"`
	Alerts      []*notification.Alert `json:"alerts"`
	Dashboard   dashboard.Metrics     `json:"dashboard"`
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a records file and print risk levels and alerts",
		Long: `Loads a YAML records snapshot into memory, runs one evaluation cycle
against the policy and prints every assessment, the raised alerts and the
dashboard metrics. Nothing is written to the database.`,
		Example: `  riskctl evaluate --records students.yaml
  riskctl evaluate --records students.yaml --as-of 2024-03-15 --policy policy.yaml
  riskctl evaluate --records students.yaml --student ST001 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.recordsPath, "records", "r", "", "YAML records file (required)")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "evaluation date, YYYY-MM-DD or RFC 3339 (default: now)")
	cmd.Flags().StringSliceVar(&opts.students, "student", nil, "evaluate only these student IDs")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the report as JSON")
	_ = cmd.MarkFlagRequired("records")
	return cmd
}

func runEvaluate(ctx context.Context, out, errOut io.Writer, root *rootOptions, opts *evaluateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	asOf, err := parseAsOf(opts.asOf)
	if err != nil {
		return err
	}

	policy, err := loadPolicy(root.policyPath)
	if err != nil {
		return err
	}
	engine, err := risk.NewEngine(policy.Risk)
	if err != nil {
		return err
	}
	generator, err := notification.NewGenerator(policy.Alerts, uuid.NewString)
	if err != nil {
		return err
	}

	store, err := memory.LoadStore(opts.recordsPath)
	if err != nil {
		return err
	}

	log := root.newLogger(errOut)
	bus := messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: log})
	defer func() { _ = bus.Close() }()

	handler := command.NewEvaluatePopulationHandler(command.EvaluatePopulationDeps{
		Records:     store,
		Assessments: store,
		Alerts:      store,
		Evaluator:   engine,
		Generator:   generator,
		Committer:   store,
		Locker:      memory.NewKeyedLocker(),
		Publisher:   bus,
		Logger:      log,
	}, command.EvaluatePopulationConfig{MaxFailureRate: 1})

	result, err := handler.Handle(ctx, command.EvaluatePopulationCommand{
		AsOf:          asOf,
		StudentIDs:    opts.students,
		CorrelationID: "riskctl-" + uuid.NewString(),
	})
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	assessments, err := store.ListAll(ctx)
	if err != nil {
		return err
	}
	alerts, err := store.List(ctx, notification.Filter{})
	if err != nil {
		return err
	}

	report := evaluationReport{
		CycleID:     result.CycleID,
		AsOf:        result.AsOf,
		Evaluated:   result.Evaluated,
		Failed:      result.Failed,
		Assessments: assessments,
		Alerts:      alerts,
		Dashboard:   dashboard.Aggregate(assessments, result.AsOf, policy.Dashboard.DropoutWindowDays),
	}
	if len(result.Errors) > 0 {
		report.Errors = make(map[string]string, len(result.Errors))
		for id, e := range result.Errors {
			report.Errors[id] = e.Error()
		}
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(out, report)
	return nil
}

// parseAsOf accepts a date or an RFC 3339 timestamp. Empty means now.
func parseAsOf(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	t, err := timeutil.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--as-of: %w", err)
	}
	return t, nil
}

// loadPolicy reads the policy file and switches off rules disabled by
// FEATURE_RULES_* variables.
func loadPolicy(path string) (config.Policy, error) {
	policy, err := config.LoadPolicy(path)
	if err != nil {
		return config.Policy{}, err
	}
	policy.Risk = config.LoadFeatureFlags().ApplyRules(policy.Risk)
	return policy, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTPUT
// ══════════════════════════════════════════════════════════════════════════════

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	dimColor    = color.New(color.FgHiBlack)
)

func levelColor(l risk.Level) *color.Color {
	switch l {
	case risk.LevelHigh:
		return color.New(color.FgRed, color.Bold)
	case risk.LevelMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgGreen)
	}
}

func priorityColor(p notification.Priority) *color.Color {
	switch {
	case p >= notification.PriorityCritical:
		return color.New(color.FgRed, color.Bold)
	case p >= notification.PriorityHigh:
		return color.New(color.FgRed)
	case p >= notification.PriorityMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgHiBlack)
	}
}

// level pads before coloring so escape codes do not break alignment.
func level(l risk.Level, width int) string {
	return levelColor(l).Sprintf("%-*s", width, l.String())
}

func printReport(w io.Writer, r evaluationReport) {
	fmt.Fprintf(w, "\n%s\n", headerColor.Sprint("=== Risk Evaluation ==="))
	fmt.Fprintf(w, "Cycle:     %s\n", r.CycleID)
	fmt.Fprintf(w, "As of:     %s\n", r.AsOf.Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(w, "Evaluated: %d", r.Evaluated)
	if r.Failed > 0 {
		fmt.Fprintf(w, "  %s", color.RedString("failed: %d", r.Failed))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "\n%s\n", headerColor.Sprint("Assessments"))
	if len(r.Assessments) == 0 {
		fmt.Fprintf(w, "  %s\n", dimColor.Sprint("no students"))
	} else {
		fmt.Fprintf(w, "  %-12s %-8s %-8s %-10s %-9s %s\n", "STUDENT", "OVERALL", "ACADEMIC", "ATTENDANCE", "FINANCIAL", "FACTORS")
		for _, a := range r.Assessments {
			fmt.Fprintf(w, "  %-12s %s %s %s %s %s\n",
				a.StudentID,
				level(a.OverallRisk, 8),
				level(a.AcademicRisk, 8),
				level(a.AttendanceRisk, 10),
				level(a.FinancialRisk, 9),
				factorSummary(a.Factors),
			)
			for _, issue := range a.Issues {
				fmt.Fprintf(w, "  %-12s %s\n", "", color.YellowString("! %s", issue))
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", headerColor.Sprint("Alerts"))
	if len(r.Alerts) == 0 {
		fmt.Fprintf(w, "  %s\n", dimColor.Sprint("no alerts"))
	}
	for _, a := range r.Alerts {
		marker := " "
		if a.ActionRequired {
			marker = color.RedString("*")
		}
		fmt.Fprintf(w, "  %s %s %-12s %s\n", marker, priorityColor(a.Priority).Sprintf("%-8s", a.Priority.String()), a.StudentID, a.Title)
	}

	if len(r.Errors) > 0 {
		fmt.Fprintf(w, "\n%s\n", color.New(color.FgRed, color.Bold).Sprint("Errors"))
		ids := make([]string, 0, len(r.Errors))
		for id := range r.Errors {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(w, "  %-12s %s\n", id, r.Errors[id])
		}
	}

	d := r.Dashboard
	fmt.Fprintf(w, "\n%s\n", headerColor.Sprint("Dashboard"))
	fmt.Fprintf(w, "  Students: %d  %s  %s  %s\n", d.TotalStudents,
		levelColor(risk.LevelHigh).Sprintf("high %d", d.HighRisk),
		levelColor(risk.LevelMedium).Sprintf("medium %d", d.MediumRisk),
		levelColor(risk.LevelLow).Sprintf("low %d", d.LowRisk),
	)
	fmt.Fprintf(w, "  Average attendance: %.1f%%  Average GPA: %.2f  Pending fees: %d  Recent dropouts: %d\n\n",
		d.AverageAttendance, d.OverallGPA, d.PendingFees, d.RecentDropouts)
}

func factorSummary(factors []risk.Factor) string {
	if len(factors) == 0 {
		return dimColor.Sprint("-")
	}
	rules := make([]string, len(factors))
	for i, f := range factors {
		rules[i] = string(f.Rule)
	}
	return strings.Join(rules, ", ")
}
