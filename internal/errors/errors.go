package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the session engine. Transient errors never force a
// sign-out; only ErrInvalidCredential (or an explicit user sign-out) clears
// the session.
var (
	// Provider errors
	ErrProviderUnavailable = errors.New("identity provider unavailable") // network failure or 5xx, transient
	ErrInvalidCredential   = errors.New("invalid credential")            // refresh token rejected, forces sign-out
	ErrRateLimited         = errors.New("rate limited by provider")      // transient, retried after backoff

	// Engine errors
	ErrBootstrapTimeout = errors.New("bootstrap timed out")        // provider did not answer within the budget
	ErrEngineClosed     = errors.New("session engine closed")      // operation after Close
	ErrStaleResult      = errors.New("stale async result dropped") // epoch changed while the operation was in flight

	// Storage errors (provider-owned token storage, gateway internal)
	ErrNoStoredSession  = errors.New("no stored session")
	ErrCorruptedStorage = errors.New("stored session unreadable")

	// Sign-in errors
	ErrSignInFailed = errors.New("sign in rejected")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
