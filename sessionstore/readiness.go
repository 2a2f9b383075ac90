package sessionstore

// Status describes how far the engine has progressed towards an answer.
//
// For the first bootstrap of a process, status only moves forward through
// uninitialized -> initializing -> ready. Environment-triggered checks then
// move ready <-> recovering, but never back to uninitialized or
// initializing. Sign-out keeps status at ready: the engine stays ready to
// answer, it just answers "no".
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusInitializing  Status = "initializing"
	StatusReady         Status = "ready"
	StatusRecovering    Status = "recovering"
	StatusError         Status = "error"
)

// Resolved reports whether the engine has reached an answer at least once.
func (s Status) Resolved() bool {
	return s == StatusReady || s == StatusRecovering
}

// ReadinessState is the single externally visible contract. Consumers
// (route guards, navigation, admin checks) read it via Store.GetState or
// Store.OnChange and never touch the gateway directly.
type ReadinessState struct {
	Status        Status
	Authenticated bool  // Meaningful only when Status is ready or recovering
	IsAdmin       bool  // Mirrors Profile.IsAdmin when authenticated, else false
	LastError     error // Most recent failure, cleared on the next successful transition
}
