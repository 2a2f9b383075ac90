package sessionstore

import (
	"time"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Session represents one authenticated identity window: the credential pair
// plus expiry proving an authenticated identity. A Session is either fully
// present or entirely absent - the Store rejects partial sessions, so no
// consumer ever observes one.
type Session struct {
	AccessToken  string    // Opaque credential, short-lived (JWT from the provider)
	RefreshToken string    // Opaque credential, longer-lived, single-use-per-rotation
	ExpiresAt    time.Time // Absolute expiry of the access token
	UserID       string    // Stable user identifier (subject claim)
}

// Complete reports whether every field required for a usable session is set.
// ExpiresAt must have been in the future when the session was created; a
// session that has since expired is still complete - expiry is the
// provider's business, not a structural defect.
func (s Session) Complete() bool {
	return s.AccessToken != "" &&
		s.RefreshToken != "" &&
		s.UserID != "" &&
		!s.ExpiresAt.IsZero()
}

// Expired reports whether the access token's expiry has passed.
func (s Session) Expired() bool {
	return NowTimeFunc().After(s.ExpiresAt)
}

// Profile holds derived user attributes, fetched once a Session exists.
// A Profile is only meaningful in the presence of a valid Session; the Store
// clears both atomically on sign-out, never independently.
type Profile struct {
	UserID      string // Matches Session.UserID
	DisplayName string
	IsAdmin     bool
}
