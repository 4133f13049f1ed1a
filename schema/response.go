package schema

// ParsedAgentResponse is the structured record an external parser produces
// from raw model text. Fields are optional; consumers inspect presence
// (nil versus set), not internal structure, to choose the next transition.
type ParsedAgentResponse struct {
	Action            *string        `json:"action,omitempty"`
	Reason            *string        `json:"reason,omitempty"`
	Goal              *string        `json:"goal,omitempty"`
	Step              *string        `json:"step,omitempty"`
	Command           *string        `json:"command,omitempty"`
	Tool              *string        `json:"tool,omitempty"`
	ToolArgs          map[string]any `json:"tool_args,omitempty"`
	Done              *bool          `json:"done,omitempty"`
	Plan              []string       `json:"plan,omitempty"`
	EstimatedCommands *int           `json:"estimated_commands,omitempty"`
	ChecklistItem     *string        `json:"checklist_item,omitempty"`
	ProgressPercent   *int           `json:"progress_percent,omitempty"`
	OnTrack           *bool          `json:"on_track,omitempty"`
	ShouldAdjust      *bool          `json:"should_adjust,omitempty"`
	NewApproach       *string        `json:"new_approach,omitempty"`
	IsStuck           *bool          `json:"is_stuck,omitempty"`
	ShouldStop        *bool          `json:"should_stop,omitempty"`
	Summary           *string        `json:"summary,omitempty"`
}

// HasCommand reports whether the response carries a runnable command.
func (r *ParsedAgentResponse) HasCommand() bool {
	return r != nil && r.Command != nil && *r.Command != ""
}

// IsDone reports whether the response declares the task finished.
func (r *ParsedAgentResponse) IsDone() bool {
	return r != nil && r.Done != nil && *r.Done
}
