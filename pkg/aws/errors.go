package aws

import "fmt"

// AssumeRoleError is returned when STS refuses or fails to issue credentials for a role.
type AssumeRoleError struct {
	RoleARN string
	Err     error
}

func (e *AssumeRoleError) Error() string {
	return fmt.Sprintf("failed to assume role %s: %v", e.RoleARN, e.Err)
}

func (e *AssumeRoleError) Unwrap() error { return e.Err }

// FederationError is returned when the sign-in token exchange fails. Op names
// the step that failed.
type FederationError struct {
	Op  string
	Err error
}

func (e *FederationError) Error() string {
	return fmt.Sprintf("federation %s: %v", e.Op, e.Err)
}

func (e *FederationError) Unwrap() error { return e.Err }

// CredentialsUnavailableError is returned when no credentials could be
// resolved to sign a request.
type CredentialsUnavailableError struct {
	Err error
}

func (e *CredentialsUnavailableError) Error() string {
	return fmt.Sprintf("credentials not available: %v", e.Err)
}

func (e *CredentialsUnavailableError) Unwrap() error { return e.Err }

// DeliveryRejectedError is returned when the email service does not accept a message.
type DeliveryRejectedError struct {
	Code    string
	Message string
	Err     error
}

func (e *DeliveryRejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("email delivery rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("email delivery rejected: %s", e.Message)
}

func (e *DeliveryRejectedError) Unwrap() error { return e.Err }
