package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
	"github.com/eculver/rvm-breakglass/pkg/breakglass"
)

const envPrefix = "RVM"

// awsSession is the one set of AWS capabilities handed down to the workflow.
type awsSession interface {
	awslib.Service
	awslib.Mailer
	Region() string
}

type runDeps struct {
	loadSession   func(ctx context.Context, opts awslib.Options) (awsSession, error)
	newFederation func(federationURL string, issuer string, destination string) awslib.FederationURLBuilder
	newLogger     func(verbosity int, w io.Writer) logr.Logger
	executor      Executor
	now           func() time.Time
	stdin         io.Reader
	stdout        io.Writer
	stderr        io.Writer
}

// NewRootCmd creates the root CLI command.
func NewRootCmd() *cobra.Command {
	return newRootCmd(defaultRunDeps())
}

func newRootCmd(deps runDeps) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "rvm-breakglass",
		Short: "Role vending machine break-glass tooling",
		Long: `Generates one-time AWS console sign-in URLs for break-glass roles provisioned by
the role vending machine and emails them to the requester. Roles can be given
directly, discovered in a Terraform state snapshot, or discovered right after a
terraform apply.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(v, cmd.Flags()); err != nil {
				return err
			}
			logger := deps.newLogger(v.GetInt("verbosity"), deps.stderr)
			cmd.SetContext(logr.NewContext(cmd.Context(), logger))
			return nil
		},
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Configuration file (YAML, JSON or TOML)")
	flags.StringP("profile", "p", "", "AWS profile to use (defaults to AWS_PROFILE env var)")
	flags.String("region", "", "AWS region for STS and SES (defaults to AWS_REGION env var)")
	flags.IntP("verbosity", "v", 0, "Log verbosity level")
	flags.Int("max-attempts", 0, "Maximum attempts per AWS API call (defaults to 10)")
	flags.Bool("sso-login", false, "Run 'aws sso login' when the current credentials are not valid")
	flags.String("federation-url", "", "AWS federation endpoint (defaults to https://signin.aws.amazon.com/federation)")
	flags.String("issuer", "", "Issuer recorded in the console login URL")
	flags.String("destination", "", "Console page the login URL opens (defaults to https://console.aws.amazon.com/)")
	flags.Int32("session-duration", 0, "Console session duration in seconds, 0 leaves it to AWS")

	rootCmd.AddCommand(
		newURLCmd(v, deps),
		newBatchCmd(v, deps),
		newApplyCmd(v, deps),
	)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return rootCmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func defaultRunDeps() runDeps {
	return runDeps{
		loadSession: func(ctx context.Context, opts awslib.Options) (awsSession, error) {
			svc, err := awslib.LoadService(ctx, opts)
			if err != nil {
				return nil, err
			}
			return svc, nil
		},
		newFederation: func(federationURL string, issuer string, destination string) awslib.FederationURLBuilder {
			return awslib.NewFederationClient(federationURL, issuer, destination)
		},
		newLogger: NewLogger,
		executor:  osExecutor{},
		now:       time.Now,
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		stderr:    os.Stderr,
	}
}

// initConfig layers flags, RVM_* environment variables and the optional
// config file. Explicit flags win, then environment, then the file.
func initConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		envs := []string{f.Name, envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))}
		switch f.Name {
		case "profile":
			envs = append(envs, "AWS_PROFILE")
		case "region":
			envs = append(envs, "AWS_REGION")
		}
		if err := v.BindEnv(envs...); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("failed to bind environment for %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return bindErr
	}

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}
	return nil
}

func sessionOptions(v *viper.Viper) awslib.Options {
	return awslib.Options{
		Profile:     v.GetString("profile"),
		Region:      v.GetString("region"),
		MaxAttempts: v.GetInt("max-attempts"),
	}
}

// authenticate loads the shared AWS session and confirms its credentials,
// optionally refreshing them through SSO.
func authenticate(ctx context.Context, v *viper.Viper, deps runDeps) (awsSession, awslib.Identity, error) {
	log := logr.FromContextOrDiscard(ctx)
	opts := sessionOptions(v)

	sess, err := deps.loadSession(ctx, opts)
	if err != nil {
		return nil, awslib.Identity{}, err
	}

	identity, err := sess.GetCallerIdentity(ctx)
	if err != nil {
		if !v.GetBool("sso-login") {
			return nil, awslib.Identity{}, fmt.Errorf("credentials are not valid: %w", err)
		}

		fmt.Fprintln(deps.stderr, "Credentials are not valid, attempting SSO login...")
		if loginErr := ssoLogin(ctx, opts.Profile, deps); loginErr != nil {
			return nil, awslib.Identity{}, fmt.Errorf("SSO login failed: %w", loginErr)
		}

		sess, err = deps.loadSession(ctx, opts)
		if err != nil {
			return nil, awslib.Identity{}, err
		}
		identity, err = sess.GetCallerIdentity(ctx)
		if err != nil {
			return nil, awslib.Identity{}, fmt.Errorf("credentials still invalid after SSO login: %w", err)
		}
	}

	log.Info("Authenticated", "arn", identity.Arn, "region", sess.Region())
	return sess, identity, nil
}

func newOrchestrator(v *viper.Viper, deps runDeps, sess awsSession) *breakglass.Orchestrator {
	federation := deps.newFederation(v.GetString("federation-url"), v.GetString("issuer"), v.GetString("destination"))
	return breakglass.NewOrchestrator(sess, federation, sess, v.GetInt32("session-duration"))
}

// ssoLogin shells out to the AWS CLI to perform an SSO login.
func ssoLogin(ctx context.Context, profile string, deps runDeps) error {
	args := []string{"sso", "login"}
	if profile != "" {
		args = append(args, "--profile", profile)
	}

	return deps.executor.Run(ctx, Command{
		Name:   "aws",
		Args:   args,
		Stdin:  deps.stdin,
		Stdout: deps.stdout,
		Stderr: deps.stderr,
	})
}

func printReport(w io.Writer, report breakglass.Report) {
	for _, res := range report.Results {
		line := fmt.Sprintf("%-14s %s", res.Status, res.Request.RoleARN)
		if res.ErrorKind != breakglass.KindNone {
			line += fmt.Sprintf(" [%s] %s", res.ErrorKind, res.Detail())
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%d succeeded, %d failed, %d generated but not delivered\n",
		report.Succeeded(), report.Failed(), report.NotifyFailed())
}
