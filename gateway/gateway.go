// Package gateway defines the boundary between the session engine and the
// remote identity provider. The engine only ever talks to the Gateway
// interface; the concrete OIDC adapter lives in gateway/oidcgateway.
package gateway

import (
	"context"

	"github.com/jrsteele09/go-auth-client/sessionstore"
)

// Unsubscribe cancels a change subscription. Safe to call more than once.
type Unsubscribe func()

// Change is pushed by the provider when its own session state moves
// underneath the engine: a token rotation, a sign-in elsewhere, or a remote
// revocation. A nil Session means the provider session ended.
type Change struct {
	Session *sessionstore.Session
	Profile *sessionstore.Profile
}

// Gateway is the adapter contract over the remote identity provider.
//
// FetchSession returns the provider's current session, refreshing the
// access token when needed, or (nil, nil, nil) when no session exists. It
// fails with ErrProviderUnavailable on network errors or 5xx responses,
// ErrInvalidCredential when the provider rejects the refresh token, and
// ErrRateLimited on 429.
//
// Subscribe registers the single push-change callback. The Initialization
// Coordinator - not this component - enforces that exactly one callback is
// ever registered for the lifetime of the process.
//
// SignOut clears the remote session. It always succeeds locally: a failed
// remote call is logged and swallowed, because local sign-out must never be
// blocked by the network.
type Gateway interface {
	FetchSession(ctx context.Context) (*sessionstore.Session, *sessionstore.Profile, error)
	SignIn(ctx context.Context, email, password string) (*sessionstore.Session, *sessionstore.Profile, error)
	SignOut(ctx context.Context)
	Subscribe(onChange func(Change)) Unsubscribe
}
