package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"pkt.systems/termai/schema"
)

// fakeProvider hands out fakeBridges and remembers them.
type fakeProvider struct {
	auto bool
	fail error

	mu      sync.Mutex
	bridges []*fakeBridge
}

func (p *fakeProvider) Bridge(_ context.Context, req BridgeRequest) (TerminalBridge, error) {
	if p.fail != nil {
		return nil, p.fail
	}
	bridge := newFakeBridge(p.auto)
	p.mu.Lock()
	p.bridges = append(p.bridges, bridge)
	p.mu.Unlock()
	return bridge, nil
}

func newTestService(t *testing.T, provider *fakeProvider, client AgentClient, sink EventSink) Service {
	t.Helper()
	svc, err := NewService(schema.ServiceConfig{HomeDir: "/home/user"}, ServiceDeps{
		Bridges:   provider,
		Client:    client,
		EventSink: sink,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestServiceSessionLifecycle(t *testing.T) {
	provider := &fakeProvider{auto: true}
	svc := newTestService(t, provider, &scriptClient{}, &recordingSink{})
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id := created.Session.ID
	if id == "" {
		t.Fatalf("expected session id")
	}
	if created.Session.Phase.Kind != schema.PhaseIdle {
		t.Fatalf("expected idle phase, got %s", created.Session.Phase.Kind)
	}

	sessions, err := svc.Sessions(ctx)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("expected one session, got %+v", sessions)
	}

	chunk, err := svc.RunCommand(ctx, RunCommandRequest{SessionID: id, Command: "ls"})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if chunk.Cleaned != "ok" {
		t.Fatalf("expected cleaned output, got %q", chunk.Cleaned)
	}

	snap, err := svc.Snapshot(ctx, schema.SnapshotRequest{SessionID: id, BufferLines: 10})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Cwd != "/work" {
		t.Fatalf("expected cwd from capture, got %q", snap.Cwd)
	}

	if err := svc.CloseSession(ctx, schema.CloseSessionRequest{SessionID: id}); err != nil {
		t.Fatalf("close session: %v", err)
	}
	if _, err := svc.Snapshot(ctx, schema.SnapshotRequest{SessionID: id}); err != schema.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound after close, got %v", err)
	}
}

func TestServiceUnknownSession(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, &scriptClient{}, &recordingSink{})
	ctx := context.Background()
	if err := svc.SendInput(ctx, schema.SendInputRequest{SessionID: "nope", Text: "x"}); err != schema.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.CancelRun(ctx, schema.CancelRunRequest{SessionID: "nope"}); err != schema.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceBridgeFailure(t *testing.T) {
	boom := errors.New("pty spawn failed")
	svc := newTestService(t, &fakeProvider{fail: boom}, &scriptClient{}, &recordingSink{})
	if _, err := svc.CreateSession(context.Background(), schema.CreateSessionRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected bridge error surfaced, got %v", err)
	}
}

func TestServiceStartRunLifecycle(t *testing.T) {
	provider := &fakeProvider{auto: true}
	sink := &recordingSink{}
	client := &scriptClient{steps: []func(StepRequest) StepResult{
		respond(&schema.ParsedAgentResponse{Command: strPtr("echo hi")}),
		respond(&schema.ParsedAgentResponse{Done: boolPtr(true)}),
		respond(&schema.ParsedAgentResponse{Done: boolPtr(true), Summary: strPtr("all good")}),
	}}
	svc := newTestService(t, provider, client, sink)
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id := created.Session.ID

	started, err := svc.StartRun(ctx, schema.StartRunRequest{SessionID: id, Task: "say hi"})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if started.RunID == "" {
		t.Fatalf("expected run id")
	}

	waitFor(t, "run completion", func() bool {
		snap, err := svc.Snapshot(ctx, schema.SnapshotRequest{SessionID: id})
		return err == nil && snap.Phase.Kind == schema.PhaseIdle && snap.RunID == ""
	})
	kinds := sink.phaseKinds()
	if len(kinds) == 0 || kinds[len(kinds)-2] != schema.PhaseCompleted {
		t.Fatalf("expected completed run, got %v", kinds)
	}
}

func TestServiceStartRunValidation(t *testing.T) {
	svc := newTestService(t, &fakeProvider{auto: true}, &scriptClient{}, &recordingSink{})
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := svc.StartRun(ctx, schema.StartRunRequest{SessionID: created.Session.ID, Task: "  "}); err != schema.ErrEmptyTask {
		t.Fatalf("expected ErrEmptyTask, got %v", err)
	}
	if _, err := svc.StartRun(ctx, schema.StartRunRequest{SessionID: "nope", Task: "x"}); err != schema.ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestServiceRejectsConcurrentRuns(t *testing.T) {
	provider := &fakeProvider{auto: true}
	block := make(chan struct{})
	client := &blockingClient{release: block}
	svc := newTestService(t, provider, client, &recordingSink{})
	ctx := context.Background()

	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id := created.Session.ID
	if _, err := svc.StartRun(ctx, schema.StartRunRequest{SessionID: id, Task: "one"}); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := svc.StartRun(ctx, schema.StartRunRequest{SessionID: id, Task: "two"}); err != schema.ErrRunActive {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := svc.CancelRun(ctx, schema.CancelRunRequest{SessionID: id}); err != nil {
		t.Fatalf("cancel run: %v", err)
	}
	close(block)
	waitFor(t, "run teardown", func() bool {
		snap, err := svc.Snapshot(ctx, schema.SnapshotRequest{SessionID: id})
		return err == nil && snap.Phase.Kind == schema.PhaseIdle && snap.RunID == ""
	})
	if err := svc.CancelRun(ctx, schema.CancelRunRequest{SessionID: id}); err != schema.ErrNoActiveRun {
		t.Fatalf("expected ErrNoActiveRun after teardown, got %v", err)
	}
}

// blockingClient parks the run inside its first model call until released.
type blockingClient struct {
	release <-chan struct{}
}

func (c *blockingClient) Step(ctx context.Context, _ StepRequest) StepResult {
	select {
	case <-ctx.Done():
	case <-c.release:
	}
	return StepResult{Err: ClassifyTransport(context.Canceled)}
}

func TestServiceFileLocks(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, &scriptClient{}, &recordingSink{})
	ctx := context.Background()
	if err := svc.LockFile(ctx, schema.LockFileRequest{Path: ""}); err != schema.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := svc.LockFile(ctx, schema.LockFileRequest{Path: "/proj/main.go"}); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := svc.UnlockFile(ctx, schema.UnlockFileRequest{Path: "/proj/main.go"}); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestServiceApproveWithoutPending(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, &scriptClient{}, &recordingSink{})
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	err = svc.Approve(ctx, schema.ApproveRequest{SessionID: created.Session.ID, Approved: true})
	if err != schema.ErrNoPendingApproval {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}

func TestServiceResizeValidation(t *testing.T) {
	svc := newTestService(t, &fakeProvider{}, &scriptClient{}, &recordingSink{})
	ctx := context.Background()
	created, err := svc.CreateSession(ctx, schema.CreateSessionRequest{})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	id := created.Session.ID
	if err := svc.Resize(ctx, schema.ResizeRequest{SessionID: id, Cols: 0, Rows: 24}); err != schema.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if err := svc.Resize(ctx, schema.ResizeRequest{SessionID: id, Cols: 80, Rows: 24}); err != nil {
		t.Fatalf("resize: %v", err)
	}
}
