package sessionstore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/sessionstore"
)

const (
	testUserID      = "user-1"
	testDisplayName = "John Doe"
)

func testSession() sessionstore.Session {
	return sessionstore.Session{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
		UserID:       testUserID,
	}
}

func testProfile() sessionstore.Profile {
	return sessionstore.Profile{
		UserID:      testUserID,
		DisplayName: testDisplayName,
	}
}

func TestStoreStartsUninitialized(t *testing.T) {
	store := sessionstore.New()

	state := store.GetState()
	require.Equal(t, sessionstore.StatusUninitialized, state.Status)
	require.False(t, state.Authenticated)
	require.False(t, state.IsAdmin)
}

func TestInstallSessionResolvesReady(t *testing.T) {
	store := sessionstore.New()
	store.BeginBootstrap()
	require.Equal(t, sessionstore.StatusInitializing, store.GetState().Status)

	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))

	state := store.GetState()
	require.Equal(t, sessionstore.StatusReady, state.Status)
	require.True(t, state.Authenticated)
	require.False(t, state.IsAdmin)
	require.NoError(t, state.LastError)
}

func TestInstallSessionRejectsPartialSession(t *testing.T) {
	store := sessionstore.New()

	partial := testSession()
	partial.RefreshToken = ""
	err := store.InstallSession(store.Epoch(), partial, testProfile())
	require.Error(t, err)

	// Nothing was stored: all-or-nothing.
	_, _, ok := store.Snapshot()
	require.False(t, ok)
	require.False(t, store.GetState().Authenticated)
}

func TestMonotonicReadiness(t *testing.T) {
	store := sessionstore.New()
	store.BeginBootstrap()
	require.NoError(t, store.ClearSession(store.Epoch(), nil))
	require.Equal(t, sessionstore.StatusReady, store.GetState().Status)

	// Once ready is reached, a second bootstrap attempt never regresses the
	// visible status.
	store.BeginBootstrap()
	require.Equal(t, sessionstore.StatusReady, store.GetState().Status)
}

func TestBeginRecoveryOnlyFromReady(t *testing.T) {
	store := sessionstore.New()
	require.False(t, store.BeginRecovery())

	store.BeginBootstrap()
	require.False(t, store.BeginRecovery())

	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))
	require.True(t, store.BeginRecovery())

	// Previous answer is still reported while recovering.
	state := store.GetState()
	require.Equal(t, sessionstore.StatusRecovering, state.Status)
	require.True(t, state.Authenticated)

	// A second concurrent recovery cannot begin.
	require.False(t, store.BeginRecovery())
}

func TestKeepLastKnownPreservesAuthentication(t *testing.T) {
	store := sessionstore.New()
	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))
	require.True(t, store.BeginRecovery())

	require.NoError(t, store.KeepLastKnown(store.Epoch(), errors.ErrProviderUnavailable))

	state := store.GetState()
	require.Equal(t, sessionstore.StatusReady, state.Status)
	require.True(t, state.Authenticated)
	require.ErrorIs(t, state.LastError, errors.ErrProviderUnavailable)
}

func TestLastErrorClearedOnNextSuccess(t *testing.T) {
	store := sessionstore.New()
	require.NoError(t, store.KeepLastKnown(store.Epoch(), errors.ErrBootstrapTimeout))
	require.ErrorIs(t, store.GetState().LastError, errors.ErrBootstrapTimeout)

	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))
	require.NoError(t, store.GetState().LastError)
}

func TestSignOutAtomicity(t *testing.T) {
	store := sessionstore.New()
	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))

	observed := make([]sessionstore.ReadinessState, 0)
	unsubscribe := store.OnChange(func(state sessionstore.ReadinessState) {
		observed = append(observed, state)
	})
	defer unsubscribe()

	store.SignOut()

	_, _, ok := store.Snapshot()
	require.False(t, ok)

	state := store.GetState()
	require.Equal(t, sessionstore.StatusReady, state.Status)
	require.False(t, state.Authenticated)
	require.False(t, state.IsAdmin)

	// Observers saw exactly one transition, never a half-cleared state.
	require.Len(t, observed, 1)
	require.False(t, observed[0].Authenticated)
}

func TestStaleEpochResultsAreDiscarded(t *testing.T) {
	store := sessionstore.New()
	epoch := store.Epoch()

	// A sign-out happens while a fetch is in flight.
	store.SignOut()

	err := store.InstallSession(epoch, testSession(), testProfile())
	require.ErrorIs(t, err, errors.ErrStaleResult)
	require.False(t, store.GetState().Authenticated)

	require.ErrorIs(t, store.ClearSession(epoch, nil), errors.ErrStaleResult)
	require.ErrorIs(t, store.KeepLastKnown(epoch, errors.ErrProviderUnavailable), errors.ErrStaleResult)
}

func TestOnChangeNotifiesOnlyOnRealChanges(t *testing.T) {
	store := sessionstore.New()

	notifications := 0
	unsubscribe := store.OnChange(func(sessionstore.ReadinessState) {
		notifications++
	})

	store.BeginBootstrap()
	require.Equal(t, 1, notifications)

	// Re-entering the same state is not a visible change.
	store.BeginBootstrap()
	require.Equal(t, 1, notifications)

	require.NoError(t, store.ClearSession(store.Epoch(), nil))
	require.Equal(t, 2, notifications)

	unsubscribe()
	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), testProfile()))
	require.Equal(t, 2, notifications)
}

func TestConcurrentWritesDeliverNewestStateLast(t *testing.T) {
	store := sessionstore.New()

	var lock sync.Mutex
	var delivered sessionstore.ReadinessState
	unsubscribe := store.OnChange(func(state sessionstore.ReadinessState) {
		lock.Lock()
		delivered = state
		lock.Unlock()
	})
	defer unsubscribe()

	// Installs race sign-outs; whatever order the writes land in, the last
	// notification a subscriber sees must match the store's final answer.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			_ = store.InstallSession(store.Epoch(), testSession(), testProfile())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			store.SignOut()
		}
	}()
	wg.Wait()

	lock.Lock()
	last := delivered
	lock.Unlock()
	require.Equal(t, store.GetState(), last)
}

func TestAdminFlagMirrorsProfile(t *testing.T) {
	store := sessionstore.New()
	profile := testProfile()
	profile.IsAdmin = true

	require.NoError(t, store.InstallSession(store.Epoch(), testSession(), profile))
	require.True(t, store.GetState().IsAdmin)

	store.SignOut()
	require.False(t, store.GetState().IsAdmin)
}
