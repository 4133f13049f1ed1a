package core

import (
	"context"
	"errors"
	"strings"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termai/internal/logx"
	"pkt.systems/termai/schema"
)

// service implements the core service behavior.
type service struct {
	cfg     schema.ServiceConfig
	bridges BridgeProvider
	client  AgentClient
	sink    EventSink
	locks   *fileLockTable
	logger  pslog.Logger

	mu       sync.Mutex
	sessions map[schema.SessionID]*session
	order    []schema.SessionID
	closed   bool
}

// NewService constructs the core service implementation.
func NewService(cfg schema.ServiceConfig, deps ServiceDeps) (Service, error) {
	normalized, err := schema.NormalizeServiceConfig(cfg)
	if err != nil {
		return nil, err
	}
	cfg = normalized
	if deps.Bridges == nil {
		return nil, errors.New("bridge provider is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &service{
		cfg:      cfg,
		bridges:  deps.Bridges,
		client:   deps.Client,
		sink:     deps.EventSink,
		locks:    newFileLockTable(),
		logger:   logger,
		sessions: make(map[schema.SessionID]*session),
	}, nil
}

func (s *service) CreateSession(ctx context.Context, req schema.CreateSessionRequest) (schema.CreateSessionResponse, error) {
	if ctx == nil {
		return schema.CreateSessionResponse{}, errors.New("missing context")
	}
	sessionID := schema.SessionID(newID())
	log := logx.WithSession(ctx, sessionID)
	bridge, err := s.bridges.Bridge(ctx, BridgeRequest{SessionID: sessionID, Cols: req.Cols, Rows: req.Rows})
	if err != nil {
		log.Warn("session bridge failed", "err", err)
		return schema.CreateSessionResponse{}, err
	}
	sess := newSession(sessionID, s.cfg, bridge, s.sink, log)
	go sess.loop()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = sess.Close()
		return schema.CreateSessionResponse{}, schema.ErrSessionClosed
	}
	s.sessions[sessionID] = sess
	s.order = append(s.order, sessionID)
	s.mu.Unlock()
	log.Info("session created", "cols", req.Cols, "rows", req.Rows)

	return schema.CreateSessionResponse{Session: sess.Snapshot(0)}, nil
}

func (s *service) CloseSession(ctx context.Context, req schema.CloseSessionRequest) error {
	sess, err := s.take(req.SessionID)
	if err != nil {
		return err
	}
	log := logx.WithSession(ctx, req.SessionID)
	if err := sess.Close(); err != nil {
		log.Warn("session close failed", "err", err)
		return err
	}
	log.Info("session closed")
	return nil
}

func (s *service) SendInput(ctx context.Context, req schema.SendInputRequest) error {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	return sess.SendInput(ctx, req.Text)
}

func (s *service) Resize(ctx context.Context, req schema.ResizeRequest) error {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	if req.Cols <= 0 || req.Rows <= 0 {
		return schema.ErrInvalidRequest
	}
	return sess.Resize(req.Cols, req.Rows)
}

func (s *service) RunCommand(ctx context.Context, req RunCommandRequest) (schema.OutputChunk, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.OutputChunk{}, err
	}
	return sess.RunCommand(ctx, req.Command)
}

func (s *service) StartRun(ctx context.Context, req schema.StartRunRequest) (schema.StartRunResponse, error) {
	if strings.TrimSpace(req.Task) == "" {
		return schema.StartRunResponse{}, schema.ErrEmptyTask
	}
	if s.client == nil {
		return schema.StartRunResponse{}, errors.New("agent client is not configured")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.StartRunResponse{}, err
	}
	model := req.Model
	if model == "" {
		model = s.cfg.DefaultModel
	}

	runID := schema.RunID(newID())
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		cancel()
		return schema.StartRunResponse{}, schema.ErrSessionClosed
	}
	if sess.runID != "" || sess.phases.Current().Kind != schema.PhaseIdle {
		sess.mu.Unlock()
		cancel()
		return schema.StartRunResponse{}, schema.ErrRunActive
	}
	sess.runID = runID
	sess.task = req.Task
	sess.runCancel = cancel
	sess.mu.Unlock()

	log := logx.WithSessionRun(ctx, req.SessionID, runID)
	run := &agentRun{
		id:      runID,
		task:    req.Task,
		model:   model,
		cfg:     s.cfg,
		session: sess,
		client:  s.client,
		locks:   s.locks,
		logger:  log,
		sleep:   sleepCtx,
	}
	log.Info("run starting", "model", model, "task_len", len(req.Task))
	go func() {
		defer cancel()
		run.execute(runCtx)
		sess.mu.Lock()
		if sess.runID == runID {
			sess.runID = ""
			sess.task = ""
			sess.runCancel = nil
		}
		sess.mu.Unlock()
	}()

	return schema.StartRunResponse{RunID: runID, Phase: schema.Phase{Kind: schema.PhaseStarting}}, nil
}

func (s *service) CancelRun(ctx context.Context, req schema.CancelRunRequest) error {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	cancel := sess.runCancel
	runID := sess.runID
	sess.mu.Unlock()
	if cancel == nil {
		return schema.ErrNoActiveRun
	}
	logx.WithSessionRun(ctx, req.SessionID, runID).Info("run cancel requested")
	cancel()
	return nil
}

func (s *service) Approve(ctx context.Context, req schema.ApproveRequest) error {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	logx.WithSession(ctx, req.SessionID).Info("approval resolved", "approved", req.Approved)
	return sess.Approve(req.Approved)
}

func (s *service) LockFile(_ context.Context, req schema.LockFileRequest) error {
	if strings.TrimSpace(req.Path) == "" {
		return schema.ErrInvalidRequest
	}
	s.locks.Lock(req.Path)
	return nil
}

func (s *service) UnlockFile(_ context.Context, req schema.UnlockFileRequest) error {
	if strings.TrimSpace(req.Path) == "" {
		return schema.ErrInvalidRequest
	}
	s.locks.Unlock(req.Path)
	return nil
}

func (s *service) Snapshot(_ context.Context, req schema.SnapshotRequest) (schema.SessionSnapshot, error) {
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return schema.SessionSnapshot{}, err
	}
	return sess.Snapshot(req.BufferLines), nil
}

func (s *service) Sessions(_ context.Context) ([]schema.SessionSnapshot, error) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.order))
	for _, id := range s.order {
		if sess, ok := s.sessions[id]; ok {
			sessions = append(sessions, sess)
		}
	}
	s.mu.Unlock()
	snaps := make([]schema.SessionSnapshot, 0, len(sessions))
	for _, sess := range sessions {
		snaps = append(snaps, sess.Snapshot(0))
	}
	return snaps, nil
}

func (s *service) Close() error {
	s.mu.Lock()
	s.closed = true
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[schema.SessionID]*session)
	s.order = nil
	s.mu.Unlock()
	var firstErr error
	for _, sess := range sessions {
		if err := sess.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *service) lookup(id schema.SessionID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, schema.ErrSessionNotFound
	}
	return sess, nil
}

func (s *service) take(id schema.SessionID) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, schema.ErrSessionNotFound
	}
	delete(s.sessions, id)
	for i, sid := range s.order {
		if sid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return sess, nil
}
