package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/engine"
	"github.com/jrsteele09/go-auth-client/gateway/gatewayfakes"
	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

// setupReadyFixture bootstraps the engine into ready with an authenticated
// session for testUserID.
func setupReadyFixture(t *testing.T, options ...engine.Option) *testFixture {
	t.Helper()
	f := setupTestFixture(t, options...)
	f.gw.QueueFetch(gatewayfakes.FetchResult{Session: testSession(testUserID), Profile: testProfile(testUserID, false)})
	state := f.engine.EnsureInitialized(context.Background())
	require.True(t, state.Authenticated)
	return f
}

func TestSignalsBeforeReadyAreIgnored(t *testing.T) {
	f := setupTestFixture(t)

	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, f.gw.FetchCalls())
	require.Equal(t, sessionstore.StatusUninitialized, f.engine.GetState().Status)
}

func TestRecoveryDebouncesSignalBursts(t *testing.T) {
	f := setupReadyFixture(t, engine.WithRecoveryDebounce(30*time.Millisecond))
	f.gw.QueueFetch(gatewayfakes.FetchResult{Session: testSession(testUserID), Profile: testProfile(testUserID, false)})

	for i := 0; i < 10; i++ {
		f.engine.OnEnvironmentSignal(engine.SignalVisibilityRestored)
	}

	// Exactly one re-validation for the whole burst: one bootstrap fetch
	// plus one recovery fetch.
	require.Eventually(t, func() bool {
		return f.gw.FetchCalls() == 2
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, f.gw.FetchCalls())
	require.True(t, f.engine.GetState().Authenticated)
}

func TestRecoveryReportsPreviousAnswerWhileInFlight(t *testing.T) {
	f := setupReadyFixture(t)

	block := make(chan struct{})
	f.gw.QueueFetch(gatewayfakes.FetchResult{
		Session: testSession(testUserID),
		Profile: testProfile(testUserID, false),
		Block:   block,
	})

	f.engine.OnEnvironmentSignal(engine.SignalVisibilityRestored)

	require.Eventually(t, func() bool {
		return f.engine.GetState().Status == sessionstore.StatusRecovering
	}, time.Second, 5*time.Millisecond)

	// Optimistic continuity: consumers are not forced to re-block.
	require.True(t, f.engine.GetState().Authenticated)

	close(block)
	require.Eventually(t, func() bool {
		return f.engine.GetState().Status == sessionstore.StatusReady
	}, time.Second, 5*time.Millisecond)
	require.True(t, f.engine.GetState().Authenticated)
}

func TestRecoveryWithRevokedSessionClearsState(t *testing.T) {
	f := setupReadyFixture(t)
	f.gw.QueueFetch(gatewayfakes.FetchResult{}) // provider answers: no session

	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)

	require.Eventually(t, func() bool {
		state := f.engine.GetState()
		return state.Status == sessionstore.StatusReady && !state.Authenticated
	}, time.Second, 5*time.Millisecond)

	_, _, ok := f.engine.Snapshot()
	require.False(t, ok)
}

func TestTransientErrorResilience(t *testing.T) {
	f := setupReadyFixture(t)
	f.gw.QueueFetch(gatewayfakes.FetchResult{Err: errors.ErrProviderUnavailable})

	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)

	require.Eventually(t, func() bool {
		return errors.Is(f.engine.GetState().LastError, errors.ErrProviderUnavailable)
	}, time.Second, 5*time.Millisecond)

	// A single transient failure never forces a sign-out.
	state := f.engine.GetState()
	require.Equal(t, sessionstore.StatusReady, state.Status)
	require.True(t, state.Authenticated)
}

func TestInvalidCredentialOnRecoveryForcesSignOut(t *testing.T) {
	f := setupReadyFixture(t)
	f.gw.QueueFetch(gatewayfakes.FetchResult{Err: errors.ErrInvalidCredential})

	f.engine.OnEnvironmentSignal(engine.SignalVisibilityRestored)

	require.Eventually(t, func() bool {
		state := f.engine.GetState()
		return state.Status == sessionstore.StatusReady &&
			!state.Authenticated &&
			errors.Is(state.LastError, errors.ErrInvalidCredential)
	}, time.Second, 5*time.Millisecond)

	_, _, ok := f.engine.Snapshot()
	require.False(t, ok)
}

func TestRateLimitBackoffDefersNextRecovery(t *testing.T) {
	f := setupReadyFixture(t, engine.WithRateLimitBackoff(time.Hour))
	f.gw.QueueFetch(gatewayfakes.FetchResult{Err: errors.ErrRateLimited})

	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)
	require.Eventually(t, func() bool {
		return f.gw.FetchCalls() == 2
	}, time.Second, 5*time.Millisecond)
	require.True(t, f.engine.GetState().Authenticated)

	// Within the backoff window further signals do not reach the provider.
	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 2, f.gw.FetchCalls())
}

func TestSignalDuringRecoveryQueuesOneFollowUp(t *testing.T) {
	f := setupReadyFixture(t)

	block := make(chan struct{})
	f.gw.QueueFetch(gatewayfakes.FetchResult{
		Session: testSession(testUserID),
		Profile: testProfile(testUserID, false),
		Block:   block,
	})
	f.gw.QueueFetch(gatewayfakes.FetchResult{Session: testSession(testUserID), Profile: testProfile(testUserID, false)})

	f.engine.OnEnvironmentSignal(engine.SignalVisibilityRestored)
	require.Eventually(t, func() bool {
		return f.gw.FetchCalls() == 2
	}, time.Second, 5*time.Millisecond)

	// Signals landing while the re-validation is unresolved supersede it:
	// they coalesce into exactly one follow-up, run after it finishes.
	f.engine.OnEnvironmentSignal(engine.SignalNetworkRestored)
	f.engine.OnEnvironmentSignal(engine.SignalFocusRestored)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, f.gw.FetchCalls())

	close(block)
	require.Eventually(t, func() bool {
		return f.gw.FetchCalls() == 3
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 3, f.gw.FetchCalls())
	require.True(t, f.engine.GetState().Authenticated)
}

func TestSignOutDuringRecoveryDiscardsStaleResult(t *testing.T) {
	f := setupReadyFixture(t)

	block := make(chan struct{})
	f.gw.QueueFetch(gatewayfakes.FetchResult{
		Session: testSession(testUserID),
		Profile: testProfile(testUserID, false),
		Block:   block,
	})

	f.engine.OnEnvironmentSignal(engine.SignalVisibilityRestored)
	require.Eventually(t, func() bool {
		return f.gw.FetchCalls() == 2
	}, time.Second, 5*time.Millisecond)

	f.engine.SignOut(context.Background())
	close(block)

	// The in-flight result carries a stale epoch and must not resurrect the
	// signed-out session.
	time.Sleep(50 * time.Millisecond)
	require.False(t, f.engine.GetState().Authenticated)
	_, _, ok := f.engine.Snapshot()
	require.False(t, ok)
}
