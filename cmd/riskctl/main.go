// Command riskctl runs risk evaluations offline and manages the policy,
// the records database and its schema.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

type rootOptions struct {
	policyPath string
	verbose    bool
	noColor    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "riskctl",
		Short:         "Student risk monitor toolkit",
		Long:          `Evaluate student records against the risk policy, inspect policies and manage the database.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&opts.policyPath, "policy", os.Getenv("RISK_POLICY_PATH"), "risk policy YAML file (default: built-in policy)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log evaluation progress to stderr")
	root.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newEvaluateCmd(opts),
		newPolicyCmd(opts),
		newRecordsCmd(),
		newMigrateCmd(),
	)
	return root
}

// newLogger returns a stderr logger; without --verbose only warnings pass.
func (o *rootOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
