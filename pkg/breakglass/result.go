package breakglass

import (
	"errors"
	"fmt"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
	"github.com/eculver/rvm-breakglass/pkg/state"
)

// Request identifies one role to break glass into and who asked for it.
type Request struct {
	RoleARN   string
	Requester string
	Email     string
}

// RequestFromCandidate converts a filtered state role into a request.
func RequestFromCandidate(c state.Candidate) Request {
	return Request{
		RoleARN:   c.RoleARN,
		Requester: c.Requester,
		Email:     c.Email,
	}
}

// Validate checks the fields every step downstream relies on.
func (r Request) Validate() error {
	var errs []error
	if r.RoleARN == "" {
		errs = append(errs, errors.New("role ARN is empty"))
	}
	if r.Requester == "" {
		errs = append(errs, errors.New("requester is empty"))
	}
	if r.Email == "" {
		errs = append(errs, errors.New("email is empty"))
	}
	return errors.Join(errs...)
}

// RequestError attaches the request being processed to the error that
// stopped it.
type RequestError struct {
	Request Request
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("failed to generate console URL (role ARN: %s, requester: %s, email: %s): %v",
		e.Request.RoleARN, e.Request.Requester, e.Request.Email, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

type Status string

const (
	StatusSucceeded    Status = "succeeded"
	StatusFailed       Status = "failed"
	StatusNotifyFailed Status = "notify-failed"
)

type ErrorKind string

const (
	KindNone                   ErrorKind = ""
	KindInvalidRequest         ErrorKind = "invalid-request"
	KindAssumeRole             ErrorKind = "assume-role"
	KindFederation             ErrorKind = "federation"
	KindCredentialsUnavailable ErrorKind = "credentials-unavailable"
	KindDeliveryRejected       ErrorKind = "delivery-rejected"
	KindUnknown                ErrorKind = "unknown"
)

// Result is the outcome of processing one request.
type Result struct {
	Request   Request
	Status    Status
	ErrorKind ErrorKind
	Err       error
	// URLGenerated reports whether a sign-in URL was minted, even if it could
	// not be delivered.
	URLGenerated bool
}

// Detail is a human readable description of the failure, if any.
func (r Result) Detail() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Report collects the results of a batch in input order.
type Report struct {
	Results []Result
}

func (r Report) count(status Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

func (r Report) Succeeded() int    { return r.count(StatusSucceeded) }
func (r Report) Failed() int       { return r.count(StatusFailed) }
func (r Report) NotifyFailed() int { return r.count(StatusNotifyFailed) }

// Err returns an error summarising the requests that produced no URL, or nil.
func (r Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			errs = append(errs, res.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d break-glass requests failed: %w", len(errs), len(r.Results), errors.Join(errs...))
}

func classify(err error) ErrorKind {
	var (
		assumeErr   *awslib.AssumeRoleError
		fedErr      *awslib.FederationError
		credErr     *awslib.CredentialsUnavailableError
		rejectedErr *awslib.DeliveryRejectedError
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &assumeErr):
		return KindAssumeRole
	case errors.As(err, &fedErr):
		return KindFederation
	case errors.As(err, &credErr):
		return KindCredentialsUnavailable
	case errors.As(err, &rejectedErr):
		return KindDeliveryRejected
	default:
		return KindUnknown
	}
}
