package schema

// StreamEvent carries decoded PTY output as it arrives, unprocessed.
type StreamEvent struct {
	SessionID SessionID
	Text      string
}

// OutputChunk is one command's isolated output, derived fresh per
// extraction and never mutated. Raw is the chunk as captured; Cleaned has
// markers stripped and the echoed command trimmed.
type OutputChunk struct {
	Raw       string `json:"raw"`
	Cleaned   string `json:"cleaned"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	Cwd       string `json:"cwd,omitempty"`
	StartRow  int    `json:"start_row"`
	LineCount int    `json:"line_count"`
}

// OutputEvent reports a finalized command capture.
type OutputEvent struct {
	SessionID SessionID
	RunID     RunID
	Command   string
	Chunk     OutputChunk
}

// PhaseEvent reports an agent run phase change.
type PhaseEvent struct {
	SessionID SessionID
	RunID     RunID
	Phase     Phase
}

// NoticeEvent carries agent-facing text not tied to a command: direct
// replies, run summaries, and pending blockers.
type NoticeEvent struct {
	SessionID SessionID
	RunID     RunID
	Text      string
}

// CwdEvent reports a working directory change.
type CwdEvent struct {
	SessionID SessionID
	Cwd       string
}

// UpdateEvent reports a coalesced interactive refresh of session state.
type UpdateEvent struct {
	SessionID SessionID
	Buffer    BufferSnapshot
	Cwd       string
}
