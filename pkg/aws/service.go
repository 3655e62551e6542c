package aws

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"
)

const (
	defaultMaxAttempts   = 10
	maxSessionNameLength = 64
	minSessionNameLength = 2
	emailCharset         = "UTF-8"
)

var invalidSessionNameChars = regexp.MustCompile(`[^\w+=,.@-]`)

type configLoader interface {
	LoadDefaultConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (awsv2.Config, error)
}

type defaultConfigLoader struct{}

func (defaultConfigLoader) LoadDefaultConfig(ctx context.Context, optFns ...func(*config.LoadOptions) error) (awsv2.Config, error) {
	return config.LoadDefaultConfig(ctx, optFns...)
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type stsClientFactory interface {
	NewFromConfig(cfg awsv2.Config) stsAPI
}

type defaultSTSClientFactory struct{}

func (defaultSTSClientFactory) NewFromConfig(cfg awsv2.Config) stsAPI {
	return sts.NewFromConfig(cfg)
}

type sesClientFactory interface {
	NewFromConfig(cfg awsv2.Config) sesAPI
}

type defaultSESClientFactory struct{}

func (defaultSESClientFactory) NewFromConfig(cfg awsv2.Config) sesAPI {
	return ses.NewFromConfig(cfg)
}

// Options controls how the shared AWS session is loaded.
type Options struct {
	Profile     string
	Region      string
	MaxAttempts int
}

// SDKService is the concrete implementation backed by AWS SDK v2. A single
// instance holds the STS and SES clients built from one loaded config.
type SDKService struct {
	cfg awsv2.Config
	sts stsAPI
	ses sesAPI
}

// LoadService loads the default AWS config once and builds the clients the
// break-glass workflow needs.
func LoadService(ctx context.Context, opts Options) (*SDKService, error) {
	return loadService(ctx, defaultConfigLoader{}, defaultSTSClientFactory{}, defaultSESClientFactory{}, opts)
}

func loadService(ctx context.Context, loader configLoader, stsFactory stsClientFactory, sesFactory sesClientFactory, opts Options) (*SDKService, error) {
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryer(func() awsv2.Retryer {
			return retry.NewStandard(func(o *retry.StandardOptions) {
				o.MaxAttempts = maxAttempts
			})
		}),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}

	cfg, err := loader.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return newSDKService(cfg, stsFactory.NewFromConfig(cfg), sesFactory.NewFromConfig(cfg)), nil
}

func newSDKService(cfg awsv2.Config, stsClient stsAPI, sesClient sesAPI) *SDKService {
	return &SDKService{
		cfg: cfg,
		sts: stsClient,
		ses: sesClient,
	}
}

// Region reports the region the clients were built for.
func (s *SDKService) Region() string {
	return s.cfg.Region
}

func (s *SDKService) GetCallerIdentity(ctx context.Context) (Identity, error) {
	out, err := s.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return Identity{}, err
	}

	return Identity{
		Arn:     awsv2.ToString(out.Arn),
		Account: awsv2.ToString(out.Account),
	}, nil
}

// AssumeRole exchanges the caller's credentials for temporary credentials
// scoped to roleARN. Rejections are returned as-is, never retried here.
func (s *SDKService) AssumeRole(ctx context.Context, roleARN string, sessionName string) (Credentials, error) {
	if err := validateRoleARN(roleARN); err != nil {
		return Credentials{}, &AssumeRoleError{RoleARN: roleARN, Err: err}
	}
	if err := validateSessionName(sessionName); err != nil {
		return Credentials{}, &AssumeRoleError{RoleARN: roleARN, Err: err}
	}

	out, err := s.sts.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         awsv2.String(roleARN),
		RoleSessionName: awsv2.String(sessionName),
	})
	if err != nil {
		return Credentials{}, &AssumeRoleError{RoleARN: roleARN, Err: err}
	}

	if out.Credentials == nil {
		return Credentials{}, &AssumeRoleError{RoleARN: roleARN, Err: errors.New("STS AssumeRole returned empty credentials")}
	}

	return Credentials{
		AccessKeyID:     awsv2.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: awsv2.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    awsv2.ToString(out.Credentials.SessionToken),
		Expiration:      awsv2.ToTime(out.Credentials.Expiration),
	}, nil
}

// SendEmail submits email through SES using the service's default credentials.
func (s *SDKService) SendEmail(ctx context.Context, email Email) (string, error) {
	if err := s.ensureCredentials(ctx); err != nil {
		return "", err
	}

	out, err := s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source:      awsv2.String(email.From),
		Destination: &sestypes.Destination{ToAddresses: email.To},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Charset: awsv2.String(emailCharset), Data: awsv2.String(email.Subject)},
			Body: &sestypes.Body{
				Html: &sestypes.Content{Charset: awsv2.String(emailCharset), Data: awsv2.String(email.HTMLBody)},
				Text: &sestypes.Content{Charset: awsv2.String(emailCharset), Data: awsv2.String(email.TextBody)},
			},
		},
	})
	if err != nil {
		return "", deliveryError(err)
	}

	return awsv2.ToString(out.MessageId), nil
}

func (s *SDKService) ensureCredentials(ctx context.Context) error {
	if s.cfg.Credentials == nil {
		return &CredentialsUnavailableError{Err: errors.New("no credentials provider configured")}
	}
	if _, err := s.cfg.Credentials.Retrieve(ctx); err != nil {
		return &CredentialsUnavailableError{Err: err}
	}
	return nil
}

func deliveryError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return &DeliveryRejectedError{
			Code:    apiErr.ErrorCode(),
			Message: apiErr.ErrorMessage(),
			Err:     err,
		}
	}
	return &DeliveryRejectedError{Message: err.Error(), Err: err}
}

func validateRoleARN(roleARN string) error {
	parsed, err := arn.Parse(roleARN)
	if err != nil {
		return fmt.Errorf("invalid role ARN: %w", err)
	}
	if parsed.Service != "iam" || !strings.HasPrefix(parsed.Resource, "role/") {
		return fmt.Errorf("not an IAM role ARN: %q", roleARN)
	}
	return nil
}

func validateSessionName(name string) error {
	if len(name) < minSessionNameLength || len(name) > maxSessionNameLength {
		return fmt.Errorf("session name must be %d-%d characters, got %d", minSessionNameLength, maxSessionNameLength, len(name))
	}
	if invalidSessionNameChars.MatchString(name) {
		return fmt.Errorf("session name %q contains invalid characters", name)
	}
	return nil
}

// SessionName builds an STS role session name from a free-form prefix and a
// fixed suffix. Characters STS does not accept become '-', and the prefix is
// truncated so the suffix always survives the 64 character limit.
func SessionName(prefix string, suffix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", errors.New("session name prefix must not be empty")
	}

	prefix = invalidSessionNameChars.ReplaceAllString(prefix, "-")
	suffix = invalidSessionNameChars.ReplaceAllString(suffix, "-")

	room := maxSessionNameLength - len(suffix)
	if room <= 0 {
		return "", fmt.Errorf("session name suffix %q leaves no room for a prefix", suffix)
	}
	if len(prefix) > room {
		prefix = prefix[:room]
	}

	name := prefix + suffix
	if err := validateSessionName(name); err != nil {
		return "", err
	}
	return name, nil
}
