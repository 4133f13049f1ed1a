package schema

// BufferSnapshot represents the current scrollback view.
type BufferSnapshot struct {
	SessionID    SessionID `json:"session_id"`
	Lines        []string  `json:"lines"`
	TotalLines   int       `json:"total_lines"`
	ScrollOffset int       `json:"scroll_offset"`
	AtBottom     bool      `json:"at_bottom"`
}

// SessionSnapshot is a read-only view of session state for transports.
// No transport may mutate session state through it.
type SessionSnapshot struct {
	ID        SessionID      `json:"id"`
	Cwd       string         `json:"cwd"`
	Phase     Phase          `json:"phase"`
	RunID     RunID          `json:"run_id,omitempty"`
	Task      string         `json:"task,omitempty"`
	LastChunk *OutputChunk   `json:"last_chunk,omitempty"`
	Buffer    BufferSnapshot `json:"buffer"`
}
