package mocks

import (
	"context"
	"fmt"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
)

type AssumeRoleCall struct {
	RoleARN     string
	SessionName string
}

type Service struct {
	GetCallerIdentityFunc func(ctx context.Context) (awslib.Identity, error)
	AssumeRoleFunc        func(ctx context.Context, roleARN string, sessionName string) (awslib.Credentials, error)

	GetCallerIdentityCalls int
	AssumeRoleCalls        []AssumeRoleCall
}

func (m *Service) GetCallerIdentity(ctx context.Context) (awslib.Identity, error) {
	m.GetCallerIdentityCalls++
	if m.GetCallerIdentityFunc == nil {
		return awslib.Identity{}, fmt.Errorf("GetCallerIdentityFunc is not set")
	}
	return m.GetCallerIdentityFunc(ctx)
}

func (m *Service) AssumeRole(ctx context.Context, roleARN string, sessionName string) (awslib.Credentials, error) {
	m.AssumeRoleCalls = append(m.AssumeRoleCalls, AssumeRoleCall{RoleARN: roleARN, SessionName: sessionName})
	if m.AssumeRoleFunc == nil {
		return awslib.Credentials{}, fmt.Errorf("AssumeRoleFunc is not set")
	}
	return m.AssumeRoleFunc(ctx, roleARN, sessionName)
}

type FederationBuilder struct {
	BuildConsoleURLFunc func(ctx context.Context, creds awslib.Credentials, durationSeconds int32) (string, error)

	BuildConsoleURLCalls int
	LastCredentials      awslib.Credentials
	LastDurationSeconds  int32
}

func (m *FederationBuilder) BuildConsoleURL(ctx context.Context, creds awslib.Credentials, durationSeconds int32) (string, error) {
	m.BuildConsoleURLCalls++
	m.LastCredentials = creds
	m.LastDurationSeconds = durationSeconds

	if m.BuildConsoleURLFunc == nil {
		return "", fmt.Errorf("BuildConsoleURLFunc is not set")
	}

	return m.BuildConsoleURLFunc(ctx, creds, durationSeconds)
}

type Mailer struct {
	SendEmailFunc func(ctx context.Context, email awslib.Email) (string, error)

	Sent []awslib.Email
}

func (m *Mailer) SendEmail(ctx context.Context, email awslib.Email) (string, error) {
	m.Sent = append(m.Sent, email)
	if m.SendEmailFunc == nil {
		return "", fmt.Errorf("SendEmailFunc is not set")
	}
	return m.SendEmailFunc(ctx, email)
}
