package schema

// Session lifecycle.

// CreateSessionRequest describes a request to open a terminal session.
type CreateSessionRequest struct {
	Cols int
	Rows int
}

// CreateSessionResponse reports the created session.
type CreateSessionResponse struct {
	Session SessionSnapshot
}

// CloseSessionRequest describes a request to close a session.
type CloseSessionRequest struct {
	SessionID SessionID
}

// SendInputRequest forwards interactive keystrokes to the PTY.
type SendInputRequest struct {
	SessionID SessionID
	Text      string
}

// ResizeRequest resizes the session's PTY.
type ResizeRequest struct {
	SessionID SessionID
	Cols      int
	Rows      int
}

// Agent runs.

// StartRunRequest starts an agent run for a task.
type StartRunRequest struct {
	SessionID SessionID
	Task      string
	Model     ModelID
}

// StartRunResponse reports the started run.
type StartRunResponse struct {
	RunID RunID
	Phase Phase
}

// CancelRunRequest cancels the session's active run.
type CancelRunRequest struct {
	SessionID SessionID
}

// ApproveRequest resolves a pending command approval.
type ApproveRequest struct {
	SessionID SessionID
	Approved  bool
}

// File locks.

// LockFileRequest marks a file as held by an external editor.
type LockFileRequest struct {
	Path string
}

// UnlockFileRequest releases a held file.
type UnlockFileRequest struct {
	Path string
}

// Snapshots.

// SnapshotRequest requests a session snapshot.
type SnapshotRequest struct {
	SessionID SessionID
	// BufferLines limits how many scrollback lines the snapshot carries;
	// 0 means all.
	BufferLines int
}
