// Package oidcgateway implements the Gateway contract against any OIDC
// provider that supports discovery, the resource-owner password grant and
// refresh-token rotation. The provider's durable session material lives in
// a sealed token file owned by this package - the engine above it never
// persists anything.
package oidcgateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/jrsteele09/go-auth-client/gateway"
	"github.com/jrsteele09/go-auth-client/internal/config"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Gateway adapts an OIDC provider to the engine's gateway contract.
type Gateway struct {
	oauthConfig *oauth2.Config
	provider    *oidc.Provider
	storage     *TokenStorage
	log         zerolog.Logger
	httpClient  *http.Client

	lock     sync.Mutex
	onChange func(gateway.Change)
}

var _ gateway.Gateway = (*Gateway)(nil)

// Option modifies the Gateway instance.
type Option func(*Gateway)

// WithLogger sets the logger used for provider call diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) {
		g.log = log
	}
}

// WithHTTPClient sets the HTTP client used for revocation calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// New discovers the provider's endpoints and returns a ready Gateway.
// storageSecret seals the token file at rest; it must be stable across
// process restarts or stored sessions become unreadable (and are then
// treated as absent, never as an error).
func New(ctx context.Context, cfg config.ProviderConfig, storageSecret []byte, options ...Option) (*Gateway, error) {
	provider, err := oidc.NewProvider(ctx, cfg.GetIssuerURL())
	if err != nil {
		return nil, errors.Wrapf(err, "[oidcgateway.New] provider discovery for %q", cfg.GetIssuerURL())
	}

	storage, err := NewTokenStorage(cfg.GetTokenFile(), storageSecret)
	if err != nil {
		return nil, errors.Wrapf(err, "[oidcgateway.New] token storage")
	}

	g := &Gateway{
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.GetClientID(),
			ClientSecret: cfg.GetClientSecret(),
			Endpoint:     provider.Endpoint(),
			Scopes:       cfg.GetScopes(),
		},
		provider:   provider,
		storage:    storage,
		log:        zerolog.Nop(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range options {
		opt(g)
	}
	return g, nil
}

// FetchSession returns the provider's current session, refreshing the access
// token when it has expired. A missing or unreadable token file answers
// (nil, nil, nil): no session, not an error.
func (g *Gateway) FetchSession(ctx context.Context) (*sessionstore.Session, *sessionstore.Profile, error) {
	stored, err := g.storage.Load()
	if err != nil {
		if errors.Is(err, errors.ErrCorruptedStorage) {
			g.log.Warn().Err(err).Msg("discarding unreadable token file")
			g.storage.Delete()
		}
		return nil, nil, nil
	}

	token := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		Expiry:       stored.Expiry,
	}

	if token.Valid() {
		return g.sessionFromToken(ctx, token)
	}

	refreshed, err := g.oauthConfig.TokenSource(ctx, token).Token()
	if err != nil {
		mapped := mapProviderError(err)
		if errors.Is(mapped, errors.ErrInvalidCredential) {
			// The refresh token is dead; the stored session is over.
			g.storage.Delete()
		}
		return nil, nil, mapped
	}

	if err := g.persist(refreshed); err != nil {
		g.log.Warn().Err(err).Msg("failed to persist rotated token")
	}

	session, profile, err := g.sessionFromToken(ctx, refreshed)
	if err != nil {
		return nil, nil, err
	}

	// The refresh rotated the credential pair: anyone listening on the
	// change stream needs the new session.
	if refreshed.RefreshToken != stored.RefreshToken || refreshed.AccessToken != stored.AccessToken {
		g.notify(gateway.Change{Session: session, Profile: profile})
	}
	return session, profile, nil
}

// SignIn authenticates with the resource-owner password grant and persists
// the resulting token pair as the provider's stored session.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*sessionstore.Session, *sessionstore.Profile, error) {
	token, err := g.oauthConfig.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		mapped := mapProviderError(err)
		if errors.Is(mapped, errors.ErrInvalidCredential) {
			return nil, nil, errors.Wrapf(errors.ErrSignInFailed, "[Gateway.SignIn] %q", email)
		}
		return nil, nil, mapped
	}

	if err := g.persist(token); err != nil {
		g.log.Warn().Err(err).Msg("failed to persist signed-in token")
	}
	return g.sessionFromToken(ctx, token)
}

// SignOut revokes the refresh token best-effort and removes the stored
// session. It never fails: local sign-out must not be blocked by the
// network.
func (g *Gateway) SignOut(ctx context.Context) {
	stored, err := g.storage.Load()
	if err == nil && stored.RefreshToken != "" {
		g.revoke(ctx, stored.RefreshToken)
	}
	g.storage.Delete()
}

// Subscribe registers the push-change callback. The coordinator guarantees
// a single registration per process; this component just stores it.
func (g *Gateway) Subscribe(onChange func(gateway.Change)) gateway.Unsubscribe {
	g.lock.Lock()
	g.onChange = onChange
	g.lock.Unlock()
	return func() {
		g.lock.Lock()
		g.onChange = nil
		g.lock.Unlock()
	}
}

func (g *Gateway) notify(change gateway.Change) {
	g.lock.Lock()
	onChange := g.onChange
	g.lock.Unlock()
	if onChange != nil {
		onChange(change)
	}
}

func (g *Gateway) persist(token *oauth2.Token) error {
	return g.storage.Save(StoredToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	})
}

// revoke POSTs the refresh token to the provider's revocation endpoint when
// discovery advertises one. Failures are logged and swallowed.
func (g *Gateway) revoke(ctx context.Context, refreshToken string) {
	if g.provider == nil {
		return
	}
	var discovery struct {
		RevocationEndpoint string `json:"revocation_endpoint"`
	}
	if err := g.provider.Claims(&discovery); err != nil || discovery.RevocationEndpoint == "" {
		return
	}

	form := url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
		"client_id":       {g.oauthConfig.ClientID},
	}
	if g.oauthConfig.ClientSecret != "" {
		form.Set("client_secret", g.oauthConfig.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, discovery.RevocationEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Msg("token revocation failed")
		return
	}
	resp.Body.Close()
}

// mapProviderError folds transport and OAuth2 errors into the engine's
// taxonomy. Only an explicit credential rejection (invalid_grant or 401)
// maps to ErrInvalidCredential - that mapping forces a local sign-out, so a
// malformed request or any other 4xx must stay transient.
func mapProviderError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		switch {
		case status == http.StatusTooManyRequests:
			return errors.Wrapf(errors.ErrRateLimited, "provider returned 429")
		case status >= http.StatusInternalServerError:
			return errors.Wrapf(errors.ErrProviderUnavailable, "provider returned %d", status)
		case retrieveErr.ErrorCode == "invalid_grant" || status == http.StatusUnauthorized:
			return errors.Wrapf(errors.ErrInvalidCredential, "provider rejected credential (%s)", retrieveErr.ErrorCode)
		default:
			return errors.Wrapf(errors.ErrProviderUnavailable, "provider error %d (%s)", status, retrieveErr.ErrorCode)
		}
	}
	return errors.Wrapf(errors.ErrProviderUnavailable, "provider call failed: %v", err)
}
