package cmd

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eculver/rvm-breakglass/pkg/state"
)

func newBatchCmd(v *viper.Viper, deps runDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Email console URLs for break-glass roles found in a Terraform state snapshot",
		Long: `Reads the output of 'terraform show -json', selects aws_iam_role resources tagged
principal_type=breakglass whose create_date falls inside the recency window, and
emails each requester a console sign-in URL. Every role is processed even when
an earlier one fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snapshot, err := state.Load(v.GetString("tf-state-path"))
			if err != nil {
				return err
			}
			return runBatch(cmd.Context(), v, deps, snapshot)
		},
	}

	cmd.Flags().String("tf-state-path", state.DefaultPath, "Path to the Terraform state snapshot (terraform show -json)")
	cmd.Flags().Duration("window", state.DefaultWindow, "How recently a break-glass role must have been created")

	return cmd
}

// runBatch processes every break-glass role in snapshot. It returns an error
// when at least one role got no URL; undelivered emails are only reported.
func runBatch(ctx context.Context, v *viper.Viper, deps runDeps, snapshot *state.Snapshot) error {
	log := logr.FromContextOrDiscard(ctx)

	filter := state.Filter{Window: v.GetDuration("window"), Now: deps.now}
	candidates := filter.BreakGlass(ctx, snapshot)
	if len(candidates) == 0 {
		fmt.Fprintln(deps.stdout, "No break-glass roles to process")
		return nil
	}

	sess, _, err := authenticate(ctx, v, deps)
	if err != nil {
		return err
	}

	report := newOrchestrator(v, deps, sess).RunBatch(ctx, candidates)
	printReport(deps.stdout, report)

	if report.NotifyFailed() > 0 {
		log.Info("Some console URLs were generated but not delivered, check the log above", "count", report.NotifyFailed())
	}
	return report.Err()
}
