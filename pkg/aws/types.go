package aws

import (
	"context"
	"time"
)

// Identity captures the principal that authenticated with STS.
type Identity struct {
	Arn     string
	Account string
}

// Credentials are temporary AWS credentials minted for a break-glass session.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Email is a message submitted to the transactional email service.
type Email struct {
	From     string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Service handles identity and credential exchange operations against STS.
type Service interface {
	GetCallerIdentity(ctx context.Context) (Identity, error)
	AssumeRole(ctx context.Context, roleARN string, sessionName string) (Credentials, error)
}

// Mailer sends email and returns the provider message ID.
type Mailer interface {
	SendEmail(ctx context.Context, email Email) (string, error)
}

// FederationURLBuilder builds a federated console login URL.
type FederationURLBuilder interface {
	BuildConsoleURL(ctx context.Context, creds Credentials, durationSeconds int32) (string, error)
}
