package breakglass

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
	"github.com/eculver/rvm-breakglass/pkg/aws/mocks"
	"github.com/eculver/rvm-breakglass/pkg/state"
)

const (
	aliceRoleARN = "arn:aws:iam::123456789012:role/breakglass-alice"
	bobRoleARN   = "arn:aws:iam::123456789012:role/breakglass-bob"
)

type logCapture struct {
	mu    sync.Mutex
	lines []string
}

func (c *logCapture) context() context.Context {
	logger := funcr.New(func(prefix, args string) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.lines = append(c.lines, args)
	}, funcr.Options{})
	return logr.NewContext(context.Background(), logger)
}

func (c *logCapture) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func tempCredentials(_ context.Context, roleARN string, _ string) (awslib.Credentials, error) {
	return awslib.Credentials{
		AccessKeyID:     "ASIA_" + roleARN[len(roleARN)-3:],
		SecretAccessKey: "secret",
		SessionToken:    "token",
		Expiration:      time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC),
	}, nil
}

func sentOK(_ context.Context, _ awslib.Email) (string, error) {
	return "msg-1", nil
}

func federationServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("Action") != "getSigninToken" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"SigninToken":"signin+token/=="}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestOrchestratorBatchHappyPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	snapshot, err := state.Parse(strings.NewReader(`{
	  "values": {"root_module": {"child_modules": [{"resources": [{
	    "address": "module.rvm.aws_iam_role.alice",
	    "type": "aws_iam_role",
	    "name": "alice",
	    "values": {
	      "arn": "` + aliceRoleARN + `",
	      "name": "breakglass-alice",
	      "tags": {
	        "principal_type": "breakglass",
	        "create_date": "` + now.Format(state.CreateDateLayout) + `",
	        "requester": "alice",
	        "email": "alice@example.com"
	      }
	    }
	  }]}]}}
	}`))
	require.NoError(t, err)

	candidates := state.Filter{Now: func() time.Time { return now }}.BreakGlass(context.Background(), snapshot)
	require.Len(t, candidates, 1)

	server := federationServer(t)
	svc := &mocks.Service{AssumeRoleFunc: tempCredentials}
	mailer := &mocks.Mailer{SendEmailFunc: sentOK}
	orchestrator := NewOrchestrator(svc, awslib.NewFederationClient(server.URL, "", ""), mailer, 0)

	report := orchestrator.RunBatch(context.Background(), candidates)

	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusSucceeded, report.Results[0].Status)
	assert.NoError(t, report.Err())
	assert.Equal(t, 1, report.Succeeded())

	require.Len(t, svc.AssumeRoleCalls, 1)
	assert.Equal(t, mocks.AssumeRoleCall{RoleARN: aliceRoleARN, SessionName: "alicebreakGlass"}, svc.AssumeRoleCalls[0])

	require.Len(t, mailer.Sent, 1)
	sent := mailer.Sent[0]
	assert.Equal(t, []string{"alice@example.com"}, sent.To)
	assert.Equal(t, "alice@example.com", sent.From)

	var loginURL string
	for _, field := range strings.Fields(sent.TextBody) {
		if strings.HasPrefix(field, server.URL) {
			loginURL = field
		}
	}
	require.NotEmpty(t, loginURL, "text body should contain the login URL")

	parsed, err := url.Parse(loginURL)
	require.NoError(t, err)
	assert.Equal(t, "login", parsed.Query().Get("Action"))
	assert.Equal(t, "signin+token/==", parsed.Query().Get("SigninToken"))
}

func TestOrchestratorRun(t *testing.T) {
	t.Parallel()

	req := Request{RoleARN: aliceRoleARN, Requester: "alice", Email: "alice@example.com"}

	testCases := []struct {
		name           string
		req            Request
		assumeRole     func(ctx context.Context, roleARN string, sessionName string) (awslib.Credentials, error)
		buildURL       func(ctx context.Context, creds awslib.Credentials, durationSeconds int32) (string, error)
		sendEmail      func(ctx context.Context, email awslib.Email) (string, error)
		wantStatus     Status
		wantKind       ErrorKind
		wantErrSubstr  string
		wantAssumeCall int
		wantBuildCalls int
		wantSent       int
	}{
		{
			name:           "success",
			req:            req,
			assumeRole:     tempCredentials,
			buildURL:       func(context.Context, awslib.Credentials, int32) (string, error) { return "https://signin.example/login", nil },
			sendEmail:      sentOK,
			wantStatus:     StatusSucceeded,
			wantAssumeCall: 1,
			wantBuildCalls: 1,
			wantSent:       1,
		},
		{
			name: "assume role rejected",
			req:  req,
			assumeRole: func(_ context.Context, roleARN string, _ string) (awslib.Credentials, error) {
				return awslib.Credentials{}, &awslib.AssumeRoleError{
					RoleARN: roleARN,
					Err:     &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized to perform sts:AssumeRole"},
				}
			},
			wantStatus:     StatusFailed,
			wantKind:       KindAssumeRole,
			wantErrSubstr:  aliceRoleARN,
			wantAssumeCall: 1,
		},
		{
			name:       "federation failure",
			req:        req,
			assumeRole: tempCredentials,
			buildURL: func(context.Context, awslib.Credentials, int32) (string, error) {
				return "", &awslib.FederationError{Op: "getSigninToken", Err: errors.New("HTTP 500")}
			},
			wantStatus:     StatusFailed,
			wantKind:       KindFederation,
			wantErrSubstr:  "federation getSigninToken: HTTP 500",
			wantAssumeCall: 1,
			wantBuildCalls: 1,
		},
		{
			name:       "delivery rejected is not fatal",
			req:        req,
			assumeRole: tempCredentials,
			buildURL:   func(context.Context, awslib.Credentials, int32) (string, error) { return "https://signin.example/login", nil },
			sendEmail: func(context.Context, awslib.Email) (string, error) {
				return "", &awslib.DeliveryRejectedError{Code: "MessageRejected", Message: "Email address is not verified."}
			},
			wantStatus:     StatusNotifyFailed,
			wantKind:       KindDeliveryRejected,
			wantAssumeCall: 1,
			wantBuildCalls: 1,
			wantSent:       1,
		},
		{
			name:       "credentials unavailable is not fatal",
			req:        req,
			assumeRole: tempCredentials,
			buildURL:   func(context.Context, awslib.Credentials, int32) (string, error) { return "https://signin.example/login", nil },
			sendEmail: func(context.Context, awslib.Email) (string, error) {
				return "", &awslib.CredentialsUnavailableError{Err: errors.New("no EC2 IMDS role found")}
			},
			wantStatus:     StatusNotifyFailed,
			wantKind:       KindCredentialsUnavailable,
			wantAssumeCall: 1,
			wantBuildCalls: 1,
			wantSent:       1,
		},
		{
			name:          "missing email",
			req:           Request{RoleARN: aliceRoleARN, Requester: "alice"},
			wantStatus:    StatusFailed,
			wantKind:      KindInvalidRequest,
			wantErrSubstr: "email is empty",
		},
		{
			name:          "missing requester",
			req:           Request{RoleARN: aliceRoleARN, Email: "alice@example.com"},
			wantStatus:    StatusFailed,
			wantKind:      KindInvalidRequest,
			wantErrSubstr: "requester is empty",
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc := &mocks.Service{AssumeRoleFunc: tc.assumeRole}
			federation := &mocks.FederationBuilder{BuildConsoleURLFunc: tc.buildURL}
			mailer := &mocks.Mailer{SendEmailFunc: tc.sendEmail}
			orchestrator := NewOrchestrator(svc, federation, mailer, 3600)

			res, err := orchestrator.Run(context.Background(), tc.req)

			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, tc.wantKind, res.ErrorKind)
			assert.Len(t, svc.AssumeRoleCalls, tc.wantAssumeCall)
			assert.Equal(t, tc.wantBuildCalls, federation.BuildConsoleURLCalls)
			assert.Len(t, mailer.Sent, tc.wantSent)

			if tc.wantStatus == StatusFailed {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErrSubstr)

				var reqErr *RequestError
				require.True(t, errors.As(err, &reqErr))
				assert.Equal(t, tc.req, reqErr.Request)
				assert.Contains(t, err.Error(), "role ARN: "+tc.req.RoleARN)
				return
			}

			require.NoError(t, err)
			if tc.wantBuildCalls > 0 {
				assert.Equal(t, int32(3600), federation.LastDurationSeconds)
			}
		})
	}
}

func TestOrchestratorRunAssumeRoleErrorCarriesRole(t *testing.T) {
	t.Parallel()

	svc := &mocks.Service{AssumeRoleFunc: func(_ context.Context, roleARN string, _ string) (awslib.Credentials, error) {
		return awslib.Credentials{}, &awslib.AssumeRoleError{RoleARN: roleARN, Err: errors.New("AccessDenied")}
	}}
	mailer := &mocks.Mailer{SendEmailFunc: sentOK}
	orchestrator := NewOrchestrator(svc, &mocks.FederationBuilder{}, mailer, 0)

	_, err := orchestrator.Run(context.Background(), Request{RoleARN: aliceRoleARN, Requester: "alice", Email: "alice@example.com"})

	var assumeErr *awslib.AssumeRoleError
	require.True(t, errors.As(err, &assumeErr))
	assert.Equal(t, aliceRoleARN, assumeErr.RoleARN)
	assert.Empty(t, mailer.Sent)
}

func TestOrchestratorRunBatchIsolatesFailures(t *testing.T) {
	t.Parallel()

	candidates := []state.Candidate{
		{RoleARN: aliceRoleARN, Requester: "alice", Email: "alice@example.com"},
		{RoleARN: bobRoleARN, Requester: "bob", Email: "bob@example.com"},
		{RoleARN: "arn:aws:iam::123456789012:role/breakglass-carol", Requester: "carol"},
		{RoleARN: "arn:aws:iam::123456789012:role/breakglass-dave", Requester: "dave", Email: "dave@example.com"},
	}

	svc := &mocks.Service{AssumeRoleFunc: func(ctx context.Context, roleARN string, sessionName string) (awslib.Credentials, error) {
		if roleARN == aliceRoleARN {
			return awslib.Credentials{}, &awslib.AssumeRoleError{RoleARN: roleARN, Err: errors.New("AccessDenied")}
		}
		return tempCredentials(ctx, roleARN, sessionName)
	}}
	federation := &mocks.FederationBuilder{BuildConsoleURLFunc: func(context.Context, awslib.Credentials, int32) (string, error) {
		return "https://signin.example/login", nil
	}}
	mailer := &mocks.Mailer{SendEmailFunc: func(_ context.Context, email awslib.Email) (string, error) {
		if email.To[0] == "bob@example.com" {
			return "", &awslib.DeliveryRejectedError{Code: "MessageRejected", Message: "Email address is not verified."}
		}
		return "msg", nil
	}}

	logs := &logCapture{}
	report := NewOrchestrator(svc, federation, mailer, 0).RunBatch(logs.context(), candidates)

	require.Len(t, report.Results, 4)
	assert.Equal(t, []Status{StatusFailed, StatusNotifyFailed, StatusFailed, StatusSucceeded}, []Status{
		report.Results[0].Status, report.Results[1].Status, report.Results[2].Status, report.Results[3].Status,
	})
	assert.Equal(t, []ErrorKind{KindAssumeRole, KindDeliveryRejected, KindInvalidRequest, KindNone}, []ErrorKind{
		report.Results[0].ErrorKind, report.Results[1].ErrorKind, report.Results[2].ErrorKind, report.Results[3].ErrorKind,
	})
	assert.True(t, report.Results[1].URLGenerated)
	assert.False(t, report.Results[2].URLGenerated)
	assert.Equal(t, 1, report.Succeeded())
	assert.Equal(t, 2, report.Failed())
	assert.Equal(t, 1, report.NotifyFailed())

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 4 break-glass requests failed")
	assert.Contains(t, err.Error(), aliceRoleARN)

	assert.Len(t, svc.AssumeRoleCalls, 3, "carol has no email and must not get credentials")
	assert.Len(t, mailer.Sent, 2)

	logged := logs.String()
	assert.Contains(t, logged, "Failed to send break-glass email")
	assert.Contains(t, logged, "Email address is not verified.")
	assert.Contains(t, logged, "Break-glass batch complete")
}

func TestOrchestratorRunBatchDeliveryFailureLogged(t *testing.T) {
	t.Parallel()

	svc := &mocks.Service{AssumeRoleFunc: tempCredentials}
	federation := &mocks.FederationBuilder{BuildConsoleURLFunc: func(context.Context, awslib.Credentials, int32) (string, error) {
		return "https://signin.example/login", nil
	}}
	mailer := &mocks.Mailer{SendEmailFunc: func(context.Context, awslib.Email) (string, error) {
		return "", &awslib.DeliveryRejectedError{Code: "MessageRejected", Message: "Email address is not verified."}
	}}

	logs := &logCapture{}
	report := NewOrchestrator(svc, federation, mailer, 0).RunBatch(logs.context(), []state.Candidate{
		{RoleARN: aliceRoleARN, Requester: "alice", Email: "alice@example.com"},
	})

	assert.NoError(t, report.Err())
	assert.Equal(t, 1, report.NotifyFailed())
	assert.Contains(t, logs.String(), "email delivery rejected (MessageRejected): Email address is not verified.")
}

func TestOrchestratorRunBatchCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	svc := &mocks.Service{AssumeRoleFunc: tempCredentials}
	report := NewOrchestrator(svc, &mocks.FederationBuilder{}, &mocks.Mailer{}, 0).RunBatch(ctx, []state.Candidate{
		{RoleARN: aliceRoleARN, Requester: "alice", Email: "alice@example.com"},
		{RoleARN: bobRoleARN, Requester: "bob", Email: "bob@example.com"},
	})

	require.Len(t, report.Results, 2)
	assert.Equal(t, 2, report.Failed())
	assert.Empty(t, svc.AssumeRoleCalls)
	assert.ErrorIs(t, report.Results[0].Err, context.Canceled)
}

func TestOrchestratorRunBatchEmpty(t *testing.T) {
	t.Parallel()

	report := NewOrchestrator(&mocks.Service{}, &mocks.FederationBuilder{}, &mocks.Mailer{}, 0).RunBatch(context.Background(), nil)
	assert.Empty(t, report.Results)
	assert.NoError(t, report.Err())
}
