package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/eculver/rvm-breakglass/pkg/breakglass"
)

func newURLCmd(v *viper.Viper, deps runDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "url",
		Short: "Email a break-glass console URL for a single role",
		Long: `Assumes the given role on behalf of the requester, exchanges the temporary
credentials for a one-time console sign-in URL and emails it to the requester.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runURL(cmd.Context(), v, deps)
		},
	}

	cmd.Flags().String("role-arn", "", "ARN of the break-glass role to assume")
	cmd.Flags().String("requester", "", "Requester the URL is generated for")
	cmd.Flags().String("email", "", "Email address of the requester")

	return cmd
}

func runURL(ctx context.Context, v *viper.Viper, deps runDeps) error {
	req := breakglass.Request{
		RoleARN:   v.GetString("role-arn"),
		Requester: v.GetString("requester"),
		Email:     v.GetString("email"),
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("--role-arn, --requester and --email are required: %w", err)
	}

	sess, _, err := authenticate(ctx, v, deps)
	if err != nil {
		return err
	}

	res, err := newOrchestrator(v, deps, sess).Run(ctx, req)
	if err != nil {
		return err
	}

	if res.Status == breakglass.StatusNotifyFailed {
		fmt.Fprintf(deps.stdout, "Console URL generated for %s but the email to %s was not delivered: %s\n",
			req.RoleARN, req.Email, res.Detail())
		return nil
	}

	fmt.Fprintf(deps.stdout, "Console URL for %s emailed to %s\n", req.RoleARN, req.Email)
	return nil
}
