package core

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

// cwdScanTail bounds how many trailing lines the per-event directory
// scan walks.
const cwdScanTail = 50

// updateSnapshotLines bounds the buffer view carried by coalesced
// interactive updates.
const updateSnapshotLines = 200

// session owns all mutable state for one terminal: the raw buffer, the
// capture state, the working directory, and the run phase. Stream events
// arrive on the bridge's reader goroutine and are drained by a single
// consumer loop; every other entry point serializes through mu, so the
// single-writer rule over CaptureState/WorkingDirectory/Phase holds even
// when events arrive faster than they are processed.
type session struct {
	id     schema.SessionID
	cfg    schema.ServiceConfig
	bridge TerminalBridge
	sink   EventSink
	logger pslog.Logger

	mu        sync.Mutex
	buffer    *rawBuffer
	capture   captureState
	cwd       *cwdResolver
	sched     *updateScheduler
	waiter    *captureWaiter
	lastChunk *schema.OutputChunk
	phases    phaseMachine
	runID     schema.RunID
	task      string
	runCancel context.CancelFunc
	approvals chan bool
	closed    bool

	done chan struct{}
}

type captureWaiter struct {
	result chan captureOutcome
}

type captureOutcome struct {
	chunk schema.OutputChunk
	err   error
}

func newSession(id schema.SessionID, cfg schema.ServiceConfig, bridge TerminalBridge, sink EventSink, logger pslog.Logger) *session {
	s := &session{
		id:     id,
		cfg:    cfg,
		bridge: bridge,
		sink:   sink,
		logger: logger,
		buffer: newRawBufferWithMaxBytes(cfg.BufferMaxBytes),
		cwd:    newCwdResolver(cfg.HomeDir),
		sched:  newUpdateScheduler(cfg.DebounceWindow),
		done:   make(chan struct{}),
	}
	s.capture.reset()
	s.phases = phaseMachine{current: schema.Phase{Kind: schema.PhaseIdle}}
	return s
}

// loop is the session's consumer context. It is the only goroutine that
// appends to the buffer, finalizes captures, and fires debounced
// flushes; the scheduler's timer lives here too.
func (s *session) loop() {
	defer close(s.done)
	defer s.sched.Stop()
	events := s.bridge.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				s.handleBridgeClosed()
				return
			}
			s.handleEvent(ev)
		case <-s.sched.C():
			if s.sched.Fired() {
				s.flushUpdate()
			}
		}
	}
}

type finalizedCapture struct {
	command string
	chunk   schema.OutputChunk
	waiter  *captureWaiter
}

func (s *session) handleEvent(ev schema.StreamEvent) {
	s.mu.Lock()
	if trimmed := s.buffer.Append(ev.Text); trimmed > 0 {
		s.capture.shift(trimmed)
	}
	active := s.capture.mode == captureActive
	immediate := s.sched.Schedule(active)
	var fin *finalizedCapture
	if immediate {
		fin = s.finalizeCaptureLocked()
	}
	markerCwd := ""
	if fin != nil {
		markerCwd = fin.chunk.Cwd
	}
	// Directory extraction runs on every event regardless of mode so
	// interactive tracking is never starved by debouncing.
	cwd, changed := s.cwd.Resolve(markerCwd, s.buffer.Tail(cwdScanTail))
	runID := s.runID
	s.mu.Unlock()

	if s.sink != nil {
		s.sink.OnStream(ev)
		if changed {
			s.sink.OnCwd(schema.CwdEvent{SessionID: s.id, Cwd: cwd})
		}
	}
	if fin != nil {
		if fin.waiter != nil {
			fin.waiter.result <- captureOutcome{chunk: fin.chunk}
		}
		if s.sink != nil {
			s.sink.OnOutput(schema.OutputEvent{
				SessionID: s.id,
				RunID:     runID,
				Command:   fin.command,
				Chunk:     fin.chunk,
			})
		}
	}
}

// finalizeCaptureLocked extracts and cleans the active command's chunk.
// Returns nil while the exit-code marker has not arrived yet.
func (s *session) finalizeCaptureLocked() *finalizedCapture {
	if s.capture.mode != captureActive {
		return nil
	}
	raw := ExtractChunk(s.buffer.String(), s.capture.startOffset)
	cleaned, code, ok := StripExitCodeMarker(raw)
	if !ok {
		return nil
	}
	cleaned, cwd, _ := StripCwdMarker(cleaned)
	cleaned = TrimEcho(s.capture.sent, cleaned)
	exit := code
	chunk := schema.OutputChunk{
		Raw:       raw,
		Cleaned:   cleaned,
		ExitCode:  &exit,
		Cwd:       cwd,
		StartRow:  s.capture.startRow,
		LineCount: visibleLineCount(cleaned),
	}
	fin := &finalizedCapture{
		command: s.capture.command,
		chunk:   chunk,
		waiter:  s.waiter,
	}
	s.waiter = nil
	s.capture.reset()
	s.lastChunk = &chunk
	return fin
}

func visibleLineCount(text string) int {
	if text == "" {
		return 0
	}
	return strings.Count(text, "\n") + 1
}

func (s *session) flushUpdate() {
	s.mu.Lock()
	snap := s.buffer.Snapshot(updateSnapshotLines)
	snap.SessionID = s.id
	cwd := s.cwd.Current()
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.OnUpdate(schema.UpdateEvent{SessionID: s.id, Buffer: snap, Cwd: cwd})
	}
}

func (s *session) handleBridgeClosed() {
	s.mu.Lock()
	s.closed = true
	w := s.waiter
	s.waiter = nil
	s.capture.reset()
	cancel := s.runCancel
	s.mu.Unlock()
	if w != nil {
		w.result <- captureOutcome{err: schema.ErrSessionClosed}
	}
	if cancel != nil {
		cancel()
	}
	if s.logger != nil {
		s.logger.Info("session bridge closed")
	}
}

// RunCommand transmits a command wrapped with the marker trailer, waits
// for its exit-code marker, and returns the isolated cleaned chunk. Only
// one capture may be in flight per session.
func (s *session) RunCommand(ctx context.Context, command string) (schema.OutputChunk, error) {
	if strings.TrimSpace(command) == "" {
		return schema.OutputChunk{}, schema.ErrInvalidRequest
	}
	sent := wrapCommand(command)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return schema.OutputChunk{}, schema.ErrSessionClosed
	}
	if s.capture.mode == captureActive {
		s.mu.Unlock()
		return schema.OutputChunk{}, schema.ErrSessionBusy
	}
	offset, row := MarkOutputStart(s.buffer)
	s.capture.activate(command, offset, row)
	s.capture.sent = sent
	waiter := &captureWaiter{result: make(chan captureOutcome, 1)}
	s.waiter = waiter
	s.mu.Unlock()

	if err := s.bridge.Send(ctx, sent+"\n"); err != nil {
		s.abandonCapture(waiter)
		return schema.OutputChunk{}, err
	}
	select {
	case out := <-waiter.result:
		return out.chunk, out.err
	case <-ctx.Done():
		s.abandonCapture(waiter)
		return schema.OutputChunk{}, ctx.Err()
	}
}

// abandonCapture resets capture state so a subsequent, unrelated command
// is never attributed to an aborted one.
func (s *session) abandonCapture(waiter *captureWaiter) {
	s.mu.Lock()
	if s.waiter == waiter {
		s.waiter = nil
		s.capture.reset()
	}
	s.mu.Unlock()
}

// wrapCommand appends the shell trailer that reports the exit code and
// working directory through the stream. The leading newline guards
// against command output without a trailing one.
func wrapCommand(command string) string {
	return fmt.Sprintf(`%s; printf '\n%s%%d\n%s%%s\n' "$?" "$PWD"`,
		command, schema.ExitCodeMarker, schema.CwdMarker)
}

// SendInput forwards interactive keystrokes untouched.
func (s *session) SendInput(ctx context.Context, text string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return schema.ErrSessionClosed
	}
	return s.bridge.Send(ctx, text)
}

func (s *session) Resize(cols, rows int) error {
	return s.bridge.Resize(cols, rows)
}

func (s *session) cwdValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd.Current()
}

// waitApproval blocks until Approve resolves the pending command or the
// run context ends.
func (s *session) waitApproval(ctx context.Context) (bool, error) {
	ch := make(chan bool, 1)
	s.mu.Lock()
	s.approvals = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.approvals == ch {
			s.approvals = nil
		}
		s.mu.Unlock()
	}()
	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Approve resolves a pending command approval.
func (s *session) Approve(approved bool) error {
	s.mu.Lock()
	ch := s.approvals
	s.approvals = nil
	s.mu.Unlock()
	if ch == nil {
		return schema.ErrNoPendingApproval
	}
	ch <- approved
	return nil
}

func (s *session) setPhase(runID schema.RunID, next schema.Phase) error {
	s.mu.Lock()
	if err := s.phases.Transition(next); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	if s.sink != nil {
		s.sink.OnPhase(schema.PhaseEvent{SessionID: s.id, RunID: runID, Phase: next})
	}
	return nil
}

func (s *session) phase() schema.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phases.Current()
}

// Snapshot returns a read-only view for transports.
func (s *session) Snapshot(bufferLines int) schema.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.buffer.Snapshot(bufferLines)
	snap.SessionID = s.id
	var last *schema.OutputChunk
	if s.lastChunk != nil {
		chunk := *s.lastChunk
		last = &chunk
	}
	return schema.SessionSnapshot{
		ID:        s.id,
		Cwd:       s.cwd.Current(),
		Phase:     s.phases.Current(),
		RunID:     s.runID,
		Task:      s.task,
		LastChunk: last,
		Buffer:    snap,
	}
}

// Close tears down the bridge; the consumer loop drains and exits.
func (s *session) Close() error {
	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	err := s.bridge.Close()
	<-s.done
	return err
}
