// Package engine implements the client-side session consistency engine: a
// process-wide coordinator that keeps one always-resolving answer to "is
// this process authenticated, and as whom" synchronized with the identity
// provider across bootstraps, environment signals and concurrent callers.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jrsteele09/go-auth-client/gateway"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

const (
	// Tunable defaults, overridable via options. Bootstrap must always
	// resolve; the debounce window coalesces signal bursts; the backoff
	// holds recovery off after the provider rate-limits us.
	DefaultBootstrapTimeout = 8 * time.Second
	DefaultRecoveryDebounce = 2 * time.Second
	DefaultRateLimitBackoff = 30 * time.Second
)

// Engine owns the bootstrap sequence, the single push-change subscription
// and the recovery path. Construct exactly one per process (module-level or
// injected at the application root) and share it; EnsureInitialized is safe
// to call from any number of concurrent callers.
type Engine struct {
	store *sessionstore.Store
	gw    gateway.Gateway
	log   zerolog.Logger

	bootstrapTimeout time.Duration
	rateLimitBackoff time.Duration
	debouncer        *Debouncer
	limiter          *rate.Limiter

	initMu      sync.Mutex
	initDone    bool
	initPending chan struct{}
	unsubscribe gateway.Unsubscribe
	closed      bool

	recoverMu     sync.Mutex
	recovering    bool
	pendingSignal *Signal
}

// Option defines a function type to modify the Engine instance.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithBootstrapTimeout bounds how long the first bootstrap may wait for the
// provider before resolving pessimistically.
func WithBootstrapTimeout(timeout time.Duration) Option {
	return func(e *Engine) {
		if timeout > 0 {
			e.bootstrapTimeout = timeout
		}
	}
}

// WithRecoveryDebounce sets the window within which repeated environment
// signals coalesce into a single re-validation.
func WithRecoveryDebounce(window time.Duration) Option {
	return func(e *Engine) {
		if window > 0 {
			e.debouncer = NewDebouncer(window)
		}
	}
}

// WithRateLimitBackoff sets how long recovery stays off after the provider
// answers 429.
func WithRateLimitBackoff(backoff time.Duration) Option {
	return func(e *Engine) {
		if backoff > 0 {
			e.rateLimitBackoff = backoff
		}
	}
}

// New creates the engine. The gateway is required; state lives in a fresh
// Store owned by the engine and exposed through GetState/OnChange.
func New(gw gateway.Gateway, options ...Option) (*Engine, error) {
	if gw == nil {
		return nil, fmt.Errorf("[engine.New] gateway is required")
	}

	e := &Engine{
		store:            sessionstore.New(),
		gw:               gw,
		log:              zerolog.Nop(),
		bootstrapTimeout: DefaultBootstrapTimeout,
		rateLimitBackoff: DefaultRateLimitBackoff,
		limiter:          rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range options {
		opt(e)
	}
	if e.debouncer == nil {
		e.debouncer = NewDebouncer(DefaultRecoveryDebounce)
	}
	return e, nil
}

// GetState returns the current readiness snapshot.
func (e *Engine) GetState() sessionstore.ReadinessState {
	return e.store.GetState()
}

// OnChange registers a readiness callback; see sessionstore.Store.OnChange.
func (e *Engine) OnChange(callback func(sessionstore.ReadinessState)) sessionstore.Unsubscribe {
	return e.store.OnChange(callback)
}

// Snapshot returns the current session and profile, if any.
func (e *Engine) Snapshot() (sessionstore.Session, sessionstore.Profile, bool) {
	return e.store.Snapshot()
}

// EnsureInitialized runs the bootstrap sequence exactly once per process
// and returns the readiness state. Concurrent callers attach to the same
// in-flight bootstrap instead of starting a second one, so N calls produce
// one provider fetch and one push subscription. ctx only bounds this
// caller's wait: a caller going away never cancels the shared bootstrap,
// which keeps running and resolves the store for everyone else.
func (e *Engine) EnsureInitialized(ctx context.Context) sessionstore.ReadinessState {
	e.initMu.Lock()
	if e.closed {
		e.initMu.Unlock()
		if !e.store.GetState().Status.Resolved() {
			e.store.Fail(errors.ErrEngineClosed)
		}
		return e.store.GetState()
	}
	if e.initDone {
		e.initMu.Unlock()
		return e.store.GetState()
	}
	if e.initPending != nil {
		pending := e.initPending
		e.initMu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
		}
		return e.store.GetState()
	}

	pending := make(chan struct{})
	e.initPending = pending
	e.initMu.Unlock()

	e.bootstrap()

	e.initMu.Lock()
	e.initDone = true
	e.initPending = nil
	e.initMu.Unlock()
	close(pending)

	return e.store.GetState()
}

// bootstrap performs the one-time sequence: fetch the provider's current
// session, populate the store, resolve readiness, subscribe to push
// changes. The timeout races the provider call itself, not just its
// context: even a gateway whose underlying SDK ignores cancellation cannot
// keep readiness pending past the budget.
func (e *Engine) bootstrap() {
	opLog := e.log.With().Str("op", uuid.NewString()).Str("phase", "bootstrap").Logger()

	e.store.BeginBootstrap()
	epoch := e.store.Epoch()

	ctx, cancel := context.WithTimeout(context.Background(), e.bootstrapTimeout)
	defer cancel()

	type fetchOutcome struct {
		session *sessionstore.Session
		profile *sessionstore.Profile
		err     error
	}
	outcome := make(chan fetchOutcome, 1)
	go func() {
		session, profile, err := e.gw.FetchSession(ctx)
		outcome <- fetchOutcome{session: session, profile: profile, err: err}
	}()

	select {
	case result := <-outcome:
		if ctx.Err() != nil || errors.Is(result.err, context.DeadlineExceeded) {
			opLog.Warn().Dur("timeout", e.bootstrapTimeout).Msg("provider did not answer within the bootstrap budget")
			e.applyResult(opLog, epoch, nil, nil, errors.ErrBootstrapTimeout)
		} else {
			e.applyResult(opLog, epoch, result.session, result.profile, result.err)
		}
	case <-ctx.Done():
		opLog.Warn().Dur("timeout", e.bootstrapTimeout).Msg("provider did not answer within the bootstrap budget")
		e.applyResult(opLog, epoch, nil, nil, errors.ErrBootstrapTimeout)
		// The answer, whenever it arrives, carries a stale epoch now; the
		// recovery path re-validates once the environment wakes up.
		e.store.BumpEpoch()
	}

	e.initMu.Lock()
	if e.unsubscribe == nil && !e.closed {
		e.unsubscribe = e.gw.Subscribe(e.handleChange)
	}
	e.initMu.Unlock()
}

// applyResult funnels a provider answer into the store. The epoch was
// captured when the operation was issued; a stale result (sign-out or
// re-sign-in happened in between) is dropped.
func (e *Engine) applyResult(opLog zerolog.Logger, epoch uint64, session *sessionstore.Session, profile *sessionstore.Profile, err error) {
	var applyErr error
	switch {
	case errors.Is(err, errors.ErrInvalidCredential):
		opLog.Info().Msg("credential rejected, signing out")
		applyErr = e.store.ClearSession(epoch, errors.ErrInvalidCredential)
	case err != nil:
		// Transient: keep whatever we knew, record the failure.
		opLog.Warn().Err(err).Msg("provider call failed, keeping last known state")
		applyErr = e.store.KeepLastKnown(epoch, err)
	case session == nil || profile == nil:
		opLog.Info().Msg("no provider session")
		applyErr = e.store.ClearSession(epoch, nil)
	default:
		opLog.Info().Str("userID", session.UserID).Msg("session established")
		applyErr = e.store.InstallSession(epoch, *session, *profile)
	}
	if applyErr != nil {
		opLog.Debug().Err(applyErr).Msg("result not applied")
	}
}

// handleChange receives provider push events: token rotation, sign-in
// elsewhere, remote revocation. Results route through the same store funnel
// as everything else.
func (e *Engine) handleChange(change gateway.Change) {
	opLog := e.log.With().Str("op", uuid.NewString()).Str("phase", "push").Logger()
	epoch := e.store.Epoch()
	if change.Session == nil {
		opLog.Info().Msg("provider session ended remotely")
		e.applyResult(opLog, epoch, nil, nil, nil)
		return
	}
	e.applyResult(opLog, epoch, change.Session, change.Profile, nil)
}

// SignIn authenticates with the provider and installs the new session. The
// epoch bump discards any result of an operation still in flight from
// before the sign-in.
func (e *Engine) SignIn(ctx context.Context, email, password string) error {
	epoch := e.store.BumpEpoch()
	session, profile, err := e.gw.SignIn(ctx, email, password)
	if err != nil {
		return errors.Wrapf(err, "[Engine.SignIn]")
	}
	if session == nil || profile == nil {
		return errors.Wrapf(errors.ErrSignInFailed, "[Engine.SignIn] provider returned no session")
	}
	if err := e.store.InstallSession(epoch, *session, *profile); err != nil {
		return errors.Wrapf(err, "[Engine.SignIn]")
	}
	return nil
}

// SignOut clears session and profile atomically, bumps the epoch so
// in-flight results are discarded, then clears the remote session
// best-effort. Status stays ready: the engine keeps answering, the answer
// is just "no".
func (e *Engine) SignOut(ctx context.Context) {
	e.store.SignOut()
	e.gw.SignOut(ctx)
}

// Close tears the engine down: cancels the push subscription and stops the
// recovery debouncer. The store keeps its last state so consumers reading
// after teardown still see a resolved answer.
func (e *Engine) Close() {
	e.initMu.Lock()
	if e.closed {
		e.initMu.Unlock()
		return
	}
	e.closed = true
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.initMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	e.debouncer.Stop()
}
