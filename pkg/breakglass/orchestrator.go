// Package breakglass turns break-glass role requests into emailed one-time
// console sign-in URLs.
package breakglass

import (
	"context"

	"github.com/go-logr/logr"

	awslib "github.com/eculver/rvm-breakglass/pkg/aws"
	"github.com/eculver/rvm-breakglass/pkg/state"
)

// sessionNameSuffix marks break-glass sessions in CloudTrail.
const sessionNameSuffix = "breakGlass"

// Orchestrator runs assume-role, federation and notification for each request.
// It holds the only AWS clients used; nothing below it builds its own.
type Orchestrator struct {
	service         awslib.Service
	federation      awslib.FederationURLBuilder
	notifier        *Notifier
	sessionDuration int32
}

// NewOrchestrator wires the workflow. A zero sessionDuration leaves the console
// session length to the federation endpoint.
func NewOrchestrator(service awslib.Service, federation awslib.FederationURLBuilder, mailer awslib.Mailer, sessionDuration int32) *Orchestrator {
	return &Orchestrator{
		service:         service,
		federation:      federation,
		notifier:        NewNotifier(mailer),
		sessionDuration: sessionDuration,
	}
}

// Run processes a single request. It returns an error when no URL could be
// generated; a delivery failure is logged and reflected in the Result only.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	res := o.process(ctx, req)
	if res.Status == StatusFailed {
		return res, res.Err
	}
	return res, nil
}

// RunBatch processes every candidate in order and never stops early.
func (o *Orchestrator) RunBatch(ctx context.Context, candidates []state.Candidate) Report {
	log := logr.FromContextOrDiscard(ctx)

	report := Report{Results: make([]Result, 0, len(candidates))}
	for _, c := range candidates {
		req := RequestFromCandidate(c)
		if err := ctx.Err(); err != nil {
			report.Results = append(report.Results, failed(req, KindUnknown, err))
			continue
		}

		log.Info("Running break-glass workflow for role", "roleARN", req.RoleARN, "address", c.Address)
		report.Results = append(report.Results, o.process(ctx, req))
	}

	log.Info("Break-glass batch complete",
		"total", len(report.Results),
		"succeeded", report.Succeeded(),
		"failed", report.Failed(),
		"notifyFailed", report.NotifyFailed(),
	)
	return report
}

func (o *Orchestrator) process(ctx context.Context, req Request) Result {
	log := logr.FromContextOrDiscard(ctx).WithValues("roleARN", req.RoleARN, "requester", req.Requester)

	if err := req.Validate(); err != nil {
		log.Error(err, "Invalid break-glass request")
		return failed(req, KindInvalidRequest, err)
	}

	sessionName, err := awslib.SessionName(req.Requester, sessionNameSuffix)
	if err != nil {
		log.Error(err, "Invalid requester for session name")
		return failed(req, KindInvalidRequest, err)
	}

	creds, err := o.service.AssumeRole(ctx, req.RoleARN, sessionName)
	if err != nil {
		log.Error(err, "Failed to assume break-glass role")
		return failed(req, classify(err), err)
	}

	loginURL, err := o.federation.BuildConsoleURL(ctx, creds, o.sessionDuration)
	if err != nil {
		log.Error(err, "Failed to build console URL")
		return failed(req, classify(err), err)
	}
	log.Info("Generated console sign-in URL", "sessionName", sessionName, "expires", creds.Expiration)

	if err := o.notifier.Notify(ctx, req, loginURL); err != nil {
		return Result{
			Request:      req,
			Status:       StatusNotifyFailed,
			ErrorKind:    classify(err),
			Err:          &RequestError{Request: req, Err: err},
			URLGenerated: true,
		}
	}

	return Result{Request: req, Status: StatusSucceeded, URLGenerated: true}
}

func failed(req Request, kind ErrorKind, err error) Result {
	return Result{
		Request:   req,
		Status:    StatusFailed,
		ErrorKind: kind,
		Err:       &RequestError{Request: req, Err: err},
	}
}
