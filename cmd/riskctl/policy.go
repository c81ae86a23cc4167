package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alem-hub/student-risk-monitor/config"
)

func newPolicyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and validate risk policies",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective policy as YAML",
			Long: `Prints the policy from --policy (or the built-in defaults) after
FEATURE_RULES_* overrides have been applied.`,
			Args: cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				p, err := loadPolicy(root.policyPath)
				if err != nil {
					return err
				}
				return p.Encode(cmd.OutOrStdout())
			},
		},
		&cobra.Command{
			Use:   "validate <file>",
			Short: "Check a policy file for unknown keys, ranges and band ordering",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if _, err := config.LoadPolicy(args[0]); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.RedString("✗"), args[0])
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid\n", color.GreenString("✓"), args[0])
				return nil
			},
		},
	)
	return cmd
}
