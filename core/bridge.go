package core

import (
	"context"

	"pkt.systems/termai/schema"
)

// TerminalBridge attaches one session to a pseudo-terminal. The bridge
// exclusively owns the raw stream; the session only consumes decoded
// events from it. Events is closed when the shell exits.
type TerminalBridge interface {
	Events() <-chan schema.StreamEvent
	Send(ctx context.Context, text string) error
	Resize(cols, rows int) error
	Close() error
}

// BridgeRequest selects a bridge instance.
type BridgeRequest struct {
	SessionID schema.SessionID
	Cols      int
	Rows      int
}

// BridgeProvider creates terminal bridges for new sessions.
type BridgeProvider interface {
	Bridge(ctx context.Context, req BridgeRequest) (TerminalBridge, error)
}

// TranscriptEntry is one executed command plus its isolated output.
type TranscriptEntry struct {
	Command  string
	Output   string
	ExitCode *int
}

// StepRequest describes one model call made while advancing a run.
type StepRequest struct {
	Phase      schema.PhaseKind
	Task       string
	Goal       string
	Plan       []string
	Cwd        string
	Transcript []TranscriptEntry
	Model      schema.ModelID
}

// StepResult is the one-shot outcome of a model call. Err carries the
// classified failure; Parsed is nil when the response could not be
// structured.
type StepResult struct {
	Raw    string
	Parsed *schema.ParsedAgentResponse
	Err    *AgentAPIError
}

// AgentClient performs model steps against an LLM API.
type AgentClient interface {
	Step(ctx context.Context, req StepRequest) StepResult
}
