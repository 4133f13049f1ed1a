package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrSessionNotFound indicates a requested session could not be found.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed indicates the session's terminal has gone away.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionBusy indicates a command capture is already in flight.
	ErrSessionBusy = errors.New("session is busy")
	// ErrRunActive indicates an agent run is already in progress.
	ErrRunActive = errors.New("run already active")
	// ErrNoActiveRun indicates no agent run is in progress.
	ErrNoActiveRun = errors.New("no active run")
	// ErrNoPendingApproval indicates no command is waiting for approval.
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrEmptyTask indicates the task prompt was empty.
	ErrEmptyTask = errors.New("empty task")
	// ErrInvalidModel indicates an invalid model identifier.
	ErrInvalidModel = errors.New("invalid model")
	// ErrInvalidPhaseTransition indicates a disallowed phase transition.
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")
)
