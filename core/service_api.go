package core

import (
	"context"

	"pkt.systems/termai/schema"
)

// Service is the orchestrator's API surface. All state handed out is a
// read-only snapshot; transports never mutate session internals.
type Service interface {
	CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error)
	CloseSession(ctx context.Context, req schema.CloseSessionRequest) error
	SendInput(ctx context.Context, req schema.SendInputRequest) error
	Resize(ctx context.Context, req schema.ResizeRequest) error
	RunCommand(ctx context.Context, req RunCommandRequest) (schema.OutputChunk, error)
	StartRun(ctx context.Context, req schema.StartRunRequest) (schema.StartRunResponse, error)
	CancelRun(ctx context.Context, req schema.CancelRunRequest) error
	Approve(ctx context.Context, req schema.ApproveRequest) error
	LockFile(ctx context.Context, req schema.LockFileRequest) error
	UnlockFile(ctx context.Context, req schema.UnlockFileRequest) error
	Snapshot(ctx context.Context, req schema.SnapshotRequest) (schema.SessionSnapshot, error)
	Sessions(ctx context.Context) ([]schema.SessionSnapshot, error)
	Close() error
}

// RunCommandRequest executes one command with precise output capture,
// outside of any agent run.
type RunCommandRequest struct {
	SessionID schema.SessionID
	Command   string
}
