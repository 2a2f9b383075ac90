package engine

import (
	"context"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// Signal identifies the environment event that triggered recovery.
type Signal string

const (
	SignalVisibilityRestored Signal = "visibility_restored" // tab/window became visible again
	SignalNetworkRestored    Signal = "network_restored"    // connectivity came back
	SignalFocusRestored      Signal = "focus_restored"      // window regained focus
)

// OnEnvironmentSignal requests a debounced, idempotent re-validation of the
// current session. Signals are ignored until the first bootstrap has
// resolved (initialization owns that transition); bursts within the
// debounce window coalesce into one provider call. A signal landing while
// a re-validation is still unresolved supersedes it: one follow-up
// re-validation runs after the current one finishes.
func (e *Engine) OnEnvironmentSignal(signal Signal) {
	if !e.store.GetState().Status.Resolved() {
		return
	}
	e.log.Debug().Str("signal", string(signal)).Msg("environment signal")
	e.debouncer.Trigger(func() {
		e.revalidate(signal)
	})
}

// revalidate re-checks the session with the provider. While it runs the
// store reports recovering with the previous Authenticated value, so
// consumers keep rendering the last known state instead of flickering back
// to a loading screen on every tab switch.
func (e *Engine) revalidate(signal Signal) {
	e.recoverMu.Lock()
	if e.recovering {
		// Supersede the unresolved re-validation: remember the signal and
		// run one follow-up once the current attempt finishes.
		e.pendingSignal = &signal
		e.recoverMu.Unlock()
		return
	}
	e.recovering = true
	e.recoverMu.Unlock()
	defer func() {
		e.recoverMu.Lock()
		e.recovering = false
		pending := e.pendingSignal
		e.pendingSignal = nil
		e.recoverMu.Unlock()
		if pending != nil {
			e.debouncer.Trigger(func() {
				e.revalidate(*pending)
			})
		}
	}()

	// Still inside a rate-limit backoff window: try again on a later signal.
	if !e.limiter.Allow() {
		e.log.Debug().Str("signal", string(signal)).Msg("recovery deferred by rate-limit backoff")
		return
	}

	if !e.store.BeginRecovery() {
		return
	}

	opLog := e.log.With().Str("op", uuid.NewString()).Str("phase", "recovery").Str("signal", string(signal)).Logger()
	epoch := e.store.Epoch()

	// No hard timeout here: a slow recovery is superseded by the next
	// signal's debounce rather than raced against a clock.
	session, profile, err := e.gw.FetchSession(context.Background())

	if errors.Is(err, errors.ErrRateLimited) {
		now := NowTimeFunc()
		e.limiter.SetLimitAt(now, rate.Every(e.rateLimitBackoff))
		e.limiter.AllowN(now, 1)
	} else if err == nil {
		e.limiter.SetLimit(rate.Inf)
	}

	e.applyResult(opLog, epoch, session, profile, err)
}
