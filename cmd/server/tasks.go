package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newCleanupCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete completed commands older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			if days == 0 {
				days = a.cfg.CommandRetentionDays
			}
			n, err := a.mdm.CleanupCommands(cmd.Context(), days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d completed commands\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "retention in days (default COMMAND_RETENTION_DAYS)")
	return cmd
}

func newImportPoliciesCmd() *cobra.Command {
	var operatorID, file string
	cmd := &cobra.Command{
		Use:   "import-policies",
		Short: "Create or update an operator's policies from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			a, err := newApp(false)
			if err != nil {
				return err
			}
			defer a.Close()

			policies, err := a.mdm.ImportPolicies(cmd.Context(), operatorID, f)
			if err != nil {
				return err
			}
			for _, p := range policies {
				def := ""
				if p.IsDefault {
					def = " (default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s%s\n", p.ID, p.Name, def)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&operatorID, "operator", "", "operator id that owns the policies")
	cmd.Flags().StringVar(&file, "file", "", "policy YAML file")
	cmd.MarkFlagRequired("operator")
	cmd.MarkFlagRequired("file")
	return cmd
}
