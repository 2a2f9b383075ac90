package sessionstore

import (
	"sync"

	"github.com/jrsteele09/go-auth-client/internal/errors"
)

// Unsubscribe removes a previously registered change callback.
type Unsubscribe func()

// Store is the sole holder of in-memory session state. It is a pure state
// container with no I/O: the Initialization Coordinator and the Recovery
// Controller write through its methods, and every write synchronously
// recomputes the ReadinessState so no consumer ever observes a write without
// the corresponding readiness recomputation.
//
// Durability across process restarts is delegated entirely to the identity
// provider's own storage - the Store never persists anything, by design the
// process must not hold a second durable copy of the session.
//
// Async results are epoch-tagged: callers capture Epoch() when they issue a
// provider call and pass it back with the result. If a sign-out or re-sign-in
// bumped the epoch in the meantime, the result is discarded with
// ErrStaleResult instead of clobbering newer state.
type Store struct {
	mu           sync.Mutex
	status       Status
	session      *Session
	profile      *Profile
	lastErr      error
	reachedReady bool
	epoch        uint64

	// seq stamps each derived snapshot under mu; deliveredSeq tracks the
	// newest snapshot handed to subscribers under notifyMu.
	seq uint64

	notifyMu     sync.Mutex
	subs         map[int]func(ReadinessState)
	nextSub      int
	last         ReadinessState
	deliveredSeq uint64
}

// New returns an empty Store in the uninitialized state.
func New() *Store {
	return &Store{
		status: StatusUninitialized,
		subs:   make(map[int]func(ReadinessState)),
		last:   ReadinessState{Status: StatusUninitialized},
	}
}

// GetState returns a synchronous snapshot of the readiness contract.
func (s *Store) GetState() ReadinessState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deriveLocked()
}

// OnChange registers a callback invoked whenever the derived ReadinessState
// changes. The callback receives the new snapshot and must not call back
// into the Store. The returned Unsubscribe is safe to call more than once.
func (s *Store) OnChange(callback func(ReadinessState)) Unsubscribe {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = callback
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Epoch returns the current generation counter. Capture it before issuing a
// provider call and pass it back with the result.
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// BumpEpoch advances the generation counter so that results of in-flight
// operations issued before the bump are discarded. Used on sign-out and on
// a fresh sign-in.
func (s *Store) BumpEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

// BeginBootstrap moves uninitialized -> initializing. It is a no-op once the
// store has ever reached ready, preserving the at-most-one visible
// transition out of the unknown states.
func (s *Store) BeginBootstrap() {
	s.apply(func() {
		if !s.reachedReady && s.status == StatusUninitialized {
			s.status = StatusInitializing
		}
	})
}

// BeginRecovery moves ready -> recovering. Returns false without touching
// state when the store is not in the ready state: initialization still owns
// the transition. The previous Authenticated value keeps being reported
// during recovery, so consumers are not forced to re-block on every signal.
func (s *Store) BeginRecovery() bool {
	began := false
	s.apply(func() {
		if s.status == StatusReady {
			s.status = StatusRecovering
			began = true
		}
	})
	return began
}

// InstallSession atomically installs a session and its profile and resolves
// status to ready. The session must be complete and the epoch current.
func (s *Store) InstallSession(epoch uint64, session Session, profile Profile) error {
	if !session.Complete() {
		return errors.Wrapf(errors.ErrCorruptedStorage, "[Store.InstallSession] partial session for user %q", session.UserID)
	}
	var stale error
	s.apply(func() {
		if epoch != s.epoch {
			stale = errors.ErrStaleResult
			return
		}
		s.session = &session
		s.profile = &profile
		s.lastErr = nil
		s.resolveLocked()
	})
	return stale
}

// ClearSession atomically removes session and profile and resolves status to
// ready with Authenticated=false. cause records why (nil for a clean "no
// session" answer, ErrInvalidCredential for a rejected refresh, ...).
func (s *Store) ClearSession(epoch uint64, cause error) error {
	var stale error
	s.apply(func() {
		if epoch != s.epoch {
			stale = errors.ErrStaleResult
			return
		}
		s.session = nil
		s.profile = nil
		s.lastErr = cause
		s.resolveLocked()
	})
	return stale
}

// KeepLastKnown resolves status to ready leaving session and profile
// untouched, recording cause as LastError. Used for transient provider
// failures: a network blip is not an invalidation.
func (s *Store) KeepLastKnown(epoch uint64, cause error) error {
	var stale error
	s.apply(func() {
		if epoch != s.epoch {
			stale = errors.ErrStaleResult
			return
		}
		s.lastErr = cause
		s.resolveLocked()
	})
	return stale
}

// SignOut bumps the epoch and clears session and profile in one atomic
// write, so no in-flight result from before the sign-out can be applied and
// no observer sees a half-cleared state. Status stays ready.
func (s *Store) SignOut() uint64 {
	var epoch uint64
	s.apply(func() {
		s.epoch++
		epoch = s.epoch
		s.session = nil
		s.profile = nil
		s.lastErr = nil
		s.resolveLocked()
	})
	return epoch
}

// Fail marks the store fatally errored. Reserved for engine teardown
// misuse; provider failures resolve to ready with LastError instead.
func (s *Store) Fail(cause error) {
	s.apply(func() {
		s.status = StatusError
		s.session = nil
		s.profile = nil
		s.lastErr = cause
	})
}

// Snapshot returns copies of the current session and profile, or false when
// absent. They are always both present or both absent.
func (s *Store) Snapshot() (Session, Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil || s.profile == nil {
		return Session{}, Profile{}, false
	}
	return *s.session, *s.profile, true
}

// resolveLocked moves status to ready, recording that the unknown states
// are now permanently behind us.
func (s *Store) resolveLocked() {
	s.status = StatusReady
	s.reachedReady = true
}

func (s *Store) deriveLocked() ReadinessState {
	authenticated := s.status.Resolved() && s.session != nil && s.profile != nil
	return ReadinessState{
		Status:        s.status,
		Authenticated: authenticated,
		IsAdmin:       authenticated && s.profile.IsAdmin,
		LastError:     s.lastErr,
	}
}

// apply is the single write funnel: mutate under the lock, recompute the
// derived state, then deliver the new snapshot to subscribers. Callbacks
// run outside the state lock so they may read freely, but under the notify
// lock so deliveries never interleave. Each snapshot carries the sequence
// number of the write that produced it; a delivery that lost the race to a
// newer one is dropped, so the last state a subscriber sees is always the
// newest, never an older snapshot arriving late.
func (s *Store) apply(mutate func()) {
	s.mu.Lock()
	mutate()
	state := s.deriveLocked()
	s.seq++
	seq := s.seq
	callbacks := make([]func(ReadinessState), 0, len(s.subs))
	for _, cb := range s.subs {
		callbacks = append(callbacks, cb)
	}
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if seq <= s.deliveredSeq {
		return
	}
	s.deliveredSeq = seq
	if state == s.last {
		return
	}
	s.last = state
	for _, cb := range callbacks {
		cb(state)
	}
}
