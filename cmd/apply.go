package cmd

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
	"github.com/eculver/rvm-breakglass/pkg/state"
)

const applySessionPrefix = "rvm-apply"

func newApplyCmd(v *viper.Viper, deps runDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the role vending machine Terraform and optionally process break-glass roles",
		Long: `Updates the role vending machine checkout, assumes the RVM role in the caller's
account and runs 'terraform apply' with those credentials. With --break-glass the
resulting state is read back and every freshly created break-glass role gets a
console URL emailed to its requester.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), v, deps)
		},
	}

	cmd.Flags().String("dir", "role-vending-machine", "Role vending machine Terraform directory")
	cmd.Flags().String("rvm-role", "github-workflow-rvm", "Name of the role Terraform runs as")
	cmd.Flags().String("branch", "main", "Branch to check out before applying")
	cmd.Flags().Bool("skip-git", false, "Apply the directory as-is without checkout or pull")
	cmd.Flags().Bool("break-glass", false, "Process break-glass roles after the apply")
	cmd.Flags().Duration("window", state.DefaultWindow, "How recently a break-glass role must have been created")

	return cmd
}

func runApply(ctx context.Context, v *viper.Viper, deps runDeps) error {
	log := logr.FromContextOrDiscard(ctx)
	dir := v.GetString("dir")

	sess, identity, err := authenticate(ctx, v, deps)
	if err != nil {
		return err
	}

	if !v.GetBool("skip-git") {
		branch := v.GetString("branch")
		if err := runIn(ctx, deps, dir, nil, "git", "checkout", branch); err != nil {
			return fmt.Errorf("failed to check out %s: %w", branch, err)
		}
		if err := runIn(ctx, deps, dir, nil, "git", "pull"); err != nil {
			return fmt.Errorf("failed to pull %s: %w", branch, err)
		}
	}

	roleARN, err := rvmRoleARN(identity, v.GetString("rvm-role"))
	if err != nil {
		return err
	}
	sessionName, err := awslib.SessionName(applySessionPrefix, "")
	if err != nil {
		return err
	}
	creds, err := sess.AssumeRole(ctx, roleARN, sessionName)
	if err != nil {
		return err
	}
	log.Info("Assumed RVM role", "roleARN", roleARN)

	env := []string{
		"AWS_ACCESS_KEY_ID=" + creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + creds.SecretAccessKey,
		"AWS_SESSION_TOKEN=" + creds.SessionToken,
	}
	if err := runIn(ctx, deps, dir, env, "terraform", "apply", "-auto-approve", "-input=false"); err != nil {
		return fmt.Errorf("terraform apply failed: %w", err)
	}

	if !v.GetBool("break-glass") {
		return nil
	}

	var out bytes.Buffer
	err = deps.executor.Run(ctx, Command{
		Name:   "terraform",
		Args:   []string{"show", "-json"},
		Dir:    dir,
		Env:    env,
		Stdout: &out,
		Stderr: deps.stderr,
	})
	if err != nil {
		return fmt.Errorf("terraform show failed: %w", err)
	}

	snapshot, err := state.Parse(&out)
	if err != nil {
		return err
	}
	return runBatch(ctx, v, deps, snapshot)
}

// rvmRoleARN builds the ARN of roleName in the caller's own account and
// partition.
func rvmRoleARN(identity awslib.Identity, roleName string) (string, error) {
	caller, err := arn.Parse(identity.Arn)
	if err != nil {
		return "", fmt.Errorf("failed to parse caller ARN %q: %w", identity.Arn, err)
	}
	account := identity.Account
	if account == "" {
		account = caller.AccountID
	}
	return arn.ARN{
		Partition: caller.Partition,
		Service:   "iam",
		AccountID: account,
		Resource:  "role/" + roleName,
	}.String(), nil
}

func runIn(ctx context.Context, deps runDeps, dir string, env []string, name string, args ...string) error {
	return deps.executor.Run(ctx, Command{
		Name:   name,
		Args:   args,
		Dir:    dir,
		Env:    env,
		Stdin:  deps.stdin,
		Stdout: deps.stdout,
		Stderr: deps.stderr,
	})
}
