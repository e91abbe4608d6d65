package iam

import (
	"errors"
	"fmt"
)

// Cause categorizes an authentication failure. The category decides how the
// HTTP layer responds and whether a fallback authentication strategy may run;
// the detail behind it is only ever logged.
type Cause string

const (
	// CauseInvalidCredentials covers unknown principals and wrong secrets.
	// Deliberately indistinguishable from the outside.
	CauseInvalidCredentials Cause = "INVALID_CREDENTIALS"

	// CauseExpiredCredentials marks a credential that was valid once but has
	// passed its expiry (bearer tokens).
	CauseExpiredCredentials Cause = "EXPIRED_CREDENTIALS"

	// CauseForcePasswordChange marks a managed user whose password must be
	// changed before authentication may complete.
	CauseForcePasswordChange Cause = "FORCE_PASSWORD_CHANGE"

	// CauseSuspended marks a locally suspended account. Suspension overrides
	// any external identity assertion.
	CauseSuspended Cause = "SUSPENDED"

	// CauseUnmappedAccount marks a valid external identity with no local
	// account and provisioning disabled.
	CauseUnmappedAccount Cause = "UNMAPPED_ACCOUNT"

	// CauseOther covers infrastructure errors: unreachable directory,
	// provider discovery failures, storage errors.
	CauseOther Cause = "OTHER"
)

// Failure is a categorized authentication error. Principal carries the
// attempted identity for logs; it must never reach a client response.
type Failure struct {
	Cause     Cause
	Principal string
	Err       error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("authentication failed (%s) for %q: %v", f.Cause, f.Principal, f.Err)
	}
	return fmt.Sprintf("authentication failed (%s) for %q", f.Cause, f.Principal)
}

// Unwrap exposes the underlying error to errors.Is/As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure creates a categorized failure without an underlying error.
func NewFailure(cause Cause, principal string) *Failure {
	return &Failure{Cause: cause, Principal: principal}
}

// WrapFailure creates a categorized failure wrapping an underlying error.
func WrapFailure(cause Cause, principal string, err error) *Failure {
	return &Failure{Cause: cause, Principal: principal, Err: err}
}

// FailureCause extracts the category from an error. The second return is
// false when err is not a categorized authentication failure.
func FailureCause(err error) (Cause, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Cause, true
	}
	return "", false
}

// IsAuthFailure reports whether err is a categorized authentication failure.
func IsAuthFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}
