package core

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

func testLogger() pslog.Logger {
	return pslog.NewWithOptions(io.Discard, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.ErrorLevel,
	})
}

func testConfig(t *testing.T) schema.ServiceConfig {
	t.Helper()
	cfg, err := schema.NormalizeServiceConfig(schema.ServiceConfig{
		HomeDir:        "/home/user",
		DebounceWindow: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("normalize config: %v", err)
	}
	return cfg
}

// fakeBridge is an in-memory terminal. With auto set it echoes each
// wrapped command and replies with the marker trailer, standing in for a
// shell that ran the command instantly.
type fakeBridge struct {
	events chan schema.StreamEvent
	auto   bool
	cwd    string
	output string

	mu     sync.Mutex
	sent   []string
	closed bool
}

func newFakeBridge(auto bool) *fakeBridge {
	return &fakeBridge{
		events: make(chan schema.StreamEvent, 64),
		auto:   auto,
		cwd:    "/work",
		output: "ok\n",
	}
}

func (b *fakeBridge) Events() <-chan schema.StreamEvent { return b.events }

func (b *fakeBridge) Send(_ context.Context, text string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return schema.ErrSessionClosed
	}
	b.sent = append(b.sent, text)
	b.mu.Unlock()
	if b.auto && strings.Contains(text, schema.ExitCodeMarker) {
		b.events <- schema.StreamEvent{Text: strings.TrimSuffix(text, "\n") + "\r\n"}
		b.events <- schema.StreamEvent{Text: b.output}
		b.events <- schema.StreamEvent{Text: fmt.Sprintf("\n%s0\n%s%s\n", schema.ExitCodeMarker, schema.CwdMarker, b.cwd)}
	}
	return nil
}

func (b *fakeBridge) Resize(cols, rows int) error { return nil }

func (b *fakeBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.events)
	return nil
}

func (b *fakeBridge) sentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sent)
}

// recordingSink captures every event for assertions.
type recordingSink struct {
	mu      sync.Mutex
	streams []schema.StreamEvent
	outputs []schema.OutputEvent
	phases  []schema.PhaseEvent
	notices []schema.NoticeEvent
	cwds    []schema.CwdEvent
	updates []schema.UpdateEvent
}

func (s *recordingSink) OnStream(ev schema.StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, ev)
}

func (s *recordingSink) OnOutput(ev schema.OutputEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs = append(s.outputs, ev)
}

func (s *recordingSink) OnPhase(ev schema.PhaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, ev)
}

func (s *recordingSink) OnNotice(ev schema.NoticeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, ev)
}

func (s *recordingSink) OnCwd(ev schema.CwdEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cwds = append(s.cwds, ev)
}

func (s *recordingSink) OnUpdate(ev schema.UpdateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, ev)
}

func (s *recordingSink) counts() (streams, outputs, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams), len(s.outputs), len(s.updates)
}

func (s *recordingSink) phaseKinds() []schema.PhaseKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]schema.PhaseKind, len(s.phases))
	for i, ev := range s.phases {
		kinds[i] = ev.Phase.Kind
	}
	return kinds
}

func (s *recordingSink) noticeTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	texts := make([]string, len(s.notices))
	for i, ev := range s.notices {
		texts[i] = ev.Text
	}
	return texts
}

func (s *recordingSink) lastCwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cwds) == 0 {
		return ""
	}
	return s.cwds[len(s.cwds)-1].Cwd
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startTestSession(t *testing.T, bridge *fakeBridge, sink EventSink) *session {
	t.Helper()
	sess := newSession("sess1", testConfig(t), bridge, sink, testLogger())
	go sess.loop()
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

func TestSessionRunCommandCapturesOutput(t *testing.T) {
	bridge := newFakeBridge(true)
	sink := &recordingSink{}
	sess := startTestSession(t, bridge, sink)

	chunk, err := sess.RunCommand(context.Background(), "ls -la")
	if err != nil {
		t.Fatalf("run command: %v", err)
	}
	if chunk.ExitCode == nil || *chunk.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", chunk.ExitCode)
	}
	if chunk.Cleaned != "ok" {
		t.Fatalf("expected cleaned output %q, got %q", "ok", chunk.Cleaned)
	}
	if chunk.Cwd != "/work" {
		t.Fatalf("expected cwd from marker, got %q", chunk.Cwd)
	}
	waitFor(t, "output event", func() bool {
		_, outputs, _ := sink.counts()
		return outputs == 1
	})
	if got := sink.lastCwd(); got != "/work" {
		t.Fatalf("expected cwd event, got %q", got)
	}
}

func TestSessionRunCommandSurvivesScrollbackTrim(t *testing.T) {
	bridge := newFakeBridge(true)
	cfg, err := schema.NormalizeServiceConfig(schema.ServiceConfig{
		HomeDir:        "/home/user",
		DebounceWindow: 20 * time.Millisecond,
		BufferMaxBytes: 256,
	})
	if err != nil {
		t.Fatalf("normalize config: %v", err)
	}
	sess := newSession("sess1", cfg, bridge, &recordingSink{}, testLogger())
	go sess.loop()
	t.Cleanup(func() { _ = sess.Close() })

	// Fill the scrollback so the next mark sits near the byte cap.
	bridge.output = strings.Repeat("a", 200) + "\n"
	if _, err := sess.RunCommand(context.Background(), "fill"); err != nil {
		t.Fatalf("fill command: %v", err)
	}

	// This command's output alone exceeds the cap, trimming the front
	// mid-capture. The capture must still finalize on the retained bytes.
	bridge.output = strings.Repeat("b", 400) + "\nEND\n"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	chunk, err := sess.RunCommand(ctx, "make noise")
	if err != nil {
		t.Fatalf("command after trim: %v", err)
	}
	if chunk.ExitCode == nil || *chunk.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", chunk.ExitCode)
	}
	if !strings.HasSuffix(chunk.Cleaned, "END") {
		t.Fatalf("expected retained tail of the command output, got %q", chunk.Cleaned)
	}
}

func TestSessionRunCommandRejectsConcurrent(t *testing.T) {
	bridge := newFakeBridge(false)
	sess := startTestSession(t, bridge, &recordingSink{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := sess.RunCommand(ctx, "sleep 10")
		errc <- err
	}()
	waitFor(t, "first command sent", func() bool { return bridge.sentCount() == 1 })

	if _, err := sess.RunCommand(context.Background(), "ls"); err != schema.ErrSessionBusy {
		t.Fatalf("expected ErrSessionBusy, got %v", err)
	}
	cancel()
	if err := <-errc; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// The aborted capture must not swallow the next command.
	bridge.auto = true
	if _, err := sess.RunCommand(context.Background(), "ls"); err != nil {
		t.Fatalf("follow-up command failed: %v", err)
	}
}

func TestSessionRunCommandEmptyRejected(t *testing.T) {
	sess := startTestSession(t, newFakeBridge(false), &recordingSink{})
	if _, err := sess.RunCommand(context.Background(), "  "); err != schema.ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestSessionDebounceCoalescesUpdates(t *testing.T) {
	bridge := newFakeBridge(false)
	sink := &recordingSink{}
	startTestSession(t, bridge, sink)

	for i := 0; i < 3; i++ {
		bridge.events <- schema.StreamEvent{Text: "chunk\n"}
	}
	waitFor(t, "coalesced update", func() bool {
		_, _, updates := sink.counts()
		return updates >= 1
	})
	time.Sleep(60 * time.Millisecond)
	streams, _, updates := sink.counts()
	if streams != 3 {
		t.Fatalf("expected 3 stream events, got %d", streams)
	}
	if updates != 1 {
		t.Fatalf("expected 1 coalesced update for the burst, got %d", updates)
	}
}

func TestSessionCwdFromDirSequence(t *testing.T) {
	bridge := newFakeBridge(false)
	sink := &recordingSink{}
	sess := startTestSession(t, bridge, sink)

	bridge.events <- schema.StreamEvent{Text: "\x1b]7;file://host/var/log\x07"}
	waitFor(t, "cwd event", func() bool { return sink.lastCwd() == "/var/log" })
	waitFor(t, "resolver state", func() bool { return sess.cwdValue() == "/var/log" })
}

func TestSessionBridgeClosedFailsWaiter(t *testing.T) {
	bridge := newFakeBridge(false)
	sess := newSession("sess1", testConfig(t), bridge, &recordingSink{}, testLogger())
	go sess.loop()

	errc := make(chan error, 1)
	go func() {
		_, err := sess.RunCommand(context.Background(), "sleep 10")
		errc <- err
	}()
	waitFor(t, "command sent", func() bool { return bridge.sentCount() == 1 })
	_ = bridge.Close()
	if err := <-errc; err != schema.ErrSessionClosed {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	if _, err := sess.RunCommand(context.Background(), "ls"); err != schema.ErrSessionClosed {
		t.Fatalf("expected closed session to reject commands, got %v", err)
	}
}

func TestSessionSnapshot(t *testing.T) {
	bridge := newFakeBridge(true)
	sess := startTestSession(t, bridge, &recordingSink{})

	if _, err := sess.RunCommand(context.Background(), "ls"); err != nil {
		t.Fatalf("run command: %v", err)
	}
	snap := sess.Snapshot(10)
	if snap.ID != "sess1" {
		t.Fatalf("expected session id, got %q", snap.ID)
	}
	if snap.Phase.Kind != schema.PhaseIdle {
		t.Fatalf("expected idle phase, got %s", snap.Phase.Kind)
	}
	if snap.Cwd != "/work" {
		t.Fatalf("expected cwd, got %q", snap.Cwd)
	}
	if snap.LastChunk == nil || snap.LastChunk.Cleaned != "ok" {
		t.Fatalf("expected last chunk, got %+v", snap.LastChunk)
	}
	if len(snap.Buffer.Lines) == 0 {
		t.Fatalf("expected buffer view")
	}
}

func TestWrapCommandCarriesMarkers(t *testing.T) {
	wrapped := wrapCommand("ls")
	if !strings.HasPrefix(wrapped, "ls; ") {
		t.Fatalf("expected command first, got %q", wrapped)
	}
	if !strings.Contains(wrapped, schema.ExitCodeMarker) || !strings.Contains(wrapped, schema.CwdMarker) {
		t.Fatalf("expected both markers in trailer, got %q", wrapped)
	}
	if !strings.Contains(wrapped, `"$?"`) || !strings.Contains(wrapped, `"$PWD"`) {
		t.Fatalf("expected shell expansions, got %q", wrapped)
	}
}
