package state

import (
	"context"
	"time"

	"github.com/go-logr/logr"
)

const (
	RoleResourceType        = "aws_iam_role"
	BreakGlassPrincipalType = "breakglass"
	CreateDateLayout        = "2006-01-02T15:04:05Z"
	DefaultWindow           = 3 * time.Minute

	tagPrincipalType = "principal_type"
	tagCreateDate    = "create_date"
	tagRequester     = "requester"
	tagEmail         = "email"
)

// Candidate is a break-glass role that still needs a sign-in URL.
type Candidate struct {
	Address   string
	RoleARN   string
	RoleName  string
	Requester string
	Email     string
	CreatedAt time.Time
}

// Filter selects break-glass roles created within Window of Now.
type Filter struct {
	Window time.Duration
	Now    func() time.Time
}

// BreakGlass returns the roles tagged principal_type=breakglass whose
// create_date is at most Window old, in snapshot order. Roles without a usable
// create_date are logged and skipped.
func (f Filter) BreakGlass(ctx context.Context, snapshot *Snapshot) []Candidate {
	log := logr.FromContextOrDiscard(ctx)

	window := f.Window
	if window <= 0 {
		window = DefaultWindow
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	current := now().UTC()

	var candidates []Candidate
	for _, resource := range snapshot.Resources() {
		if resource.Type != RoleResourceType {
			continue
		}

		attrs, err := resource.Attributes()
		if err != nil {
			log.Info("Skipping role with unreadable values", "address", resource.Address, "error", err.Error())
			continue
		}
		if attrs.Tags[tagPrincipalType] != BreakGlassPrincipalType {
			continue
		}

		createDate, ok := attrs.Tags[tagCreateDate]
		if !ok || createDate == "" {
			log.Info("Skipping break-glass role without create_date tag", "address", resource.Address)
			continue
		}
		createdAt, err := time.Parse(CreateDateLayout, createDate)
		if err != nil {
			log.Info("Skipping break-glass role with unparseable create_date", "address", resource.Address, "createDate", createDate)
			continue
		}

		age := current.Sub(createdAt)
		if age > window {
			log.V(1).Info("Role is older than the recency window", "role", resource.Name, "age", age.Truncate(time.Second).String(), "window", window.String())
			continue
		}

		roleName := attrs.Name
		if roleName == "" {
			roleName = resource.Name
		}
		candidates = append(candidates, Candidate{
			Address:   resource.Address,
			RoleARN:   attrs.ARN,
			RoleName:  roleName,
			Requester: attrs.Tags[tagRequester],
			Email:     attrs.Tags[tagEmail],
			CreatedAt: createdAt,
		})
	}

	log.Info("Found break-glass roles to process", "count", len(candidates))
	return candidates
}
