package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"pkt.systems/termai/core"
	"pkt.systems/termai/schema"
)

type fakeService struct {
	sessions     []schema.SessionSnapshot
	lastSnapshot schema.SnapshotRequest
}

func (f *fakeService) CreateSession(context.Context, schema.CreateSessionRequest) (schema.CreateSessionResponse, error) {
	return schema.CreateSessionResponse{}, schema.ErrInvalidRequest
}

func (f *fakeService) CloseSession(context.Context, schema.CloseSessionRequest) error {
	return nil
}

func (f *fakeService) SendInput(context.Context, schema.SendInputRequest) error { return nil }

func (f *fakeService) Resize(context.Context, schema.ResizeRequest) error { return nil }

func (f *fakeService) RunCommand(context.Context, core.RunCommandRequest) (schema.OutputChunk, error) {
	return schema.OutputChunk{}, schema.ErrInvalidRequest
}

func (f *fakeService) StartRun(context.Context, schema.StartRunRequest) (schema.StartRunResponse, error) {
	return schema.StartRunResponse{}, schema.ErrInvalidRequest
}

func (f *fakeService) CancelRun(context.Context, schema.CancelRunRequest) error { return nil }

func (f *fakeService) Approve(context.Context, schema.ApproveRequest) error { return nil }

func (f *fakeService) LockFile(context.Context, schema.LockFileRequest) error { return nil }

func (f *fakeService) UnlockFile(context.Context, schema.UnlockFileRequest) error { return nil }

func (f *fakeService) Snapshot(_ context.Context, req schema.SnapshotRequest) (schema.SessionSnapshot, error) {
	f.lastSnapshot = req
	for _, sess := range f.sessions {
		if sess.ID == req.SessionID {
			return sess, nil
		}
	}
	return schema.SessionSnapshot{}, schema.ErrSessionNotFound
}

func (f *fakeService) Sessions(context.Context) ([]schema.SessionSnapshot, error) {
	return f.sessions, nil
}

func (f *fakeService) Close() error { return nil }

func newTestServer(service core.Service) (*Server, *Hub) {
	hub := NewHub(100)
	srv := NewServer(Config{InitialBufferLines: 50}, service, hub)
	return srv, hub
}

func TestServerHealth(t *testing.T) {
	srv, _ := newTestServer(&fakeService{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestServerListsSessions(t *testing.T) {
	service := &fakeService{sessions: []schema.SessionSnapshot{
		{ID: "s1", Cwd: "/work"},
		{ID: "s2", Cwd: "/tmp"},
	}}
	srv, _ := newTestServer(service)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Sessions []schema.SessionSnapshot `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Sessions) != 2 || payload.Sessions[0].ID != "s1" {
		t.Fatalf("unexpected sessions: %+v", payload.Sessions)
	}
}

func TestServerSessionSnapshot(t *testing.T) {
	service := &fakeService{sessions: []schema.SessionSnapshot{
		{ID: "s1", Cwd: "/work", Phase: schema.Phase{Kind: schema.PhaseIdle}},
	}}
	srv, _ := newTestServer(service)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session?session=s1&lines=7", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var snapshot schema.SessionSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snapshot.ID != "s1" || snapshot.Cwd != "/work" {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}
	if service.lastSnapshot.BufferLines != 7 {
		t.Fatalf("expected lines query honored, got %d", service.lastSnapshot.BufferLines)
	}
}

func TestServerSessionDefaultsBufferLines(t *testing.T) {
	service := &fakeService{sessions: []schema.SessionSnapshot{{ID: "s1"}}}
	srv, _ := newTestServer(service)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session?session=s1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if service.lastSnapshot.BufferLines != 50 {
		t.Fatalf("expected configured default, got %d", service.lastSnapshot.BufferLines)
	}
}

func TestServerSessionNotFound(t *testing.T) {
	srv, _ := newTestServer(&fakeService{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session?session=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "session not found") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestServerSessionMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(&fakeService{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/session?session=s1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestServerStreamSnapshotAndReplay(t *testing.T) {
	service := &fakeService{sessions: []schema.SessionSnapshot{
		{ID: "s1", Cwd: "/work"},
	}}
	srv, hub := newTestServer(service)
	hub.OnNotice(schema.NoticeEvent{SessionID: "s1", Text: "one"})
	hub.OnNotice(schema.NoticeEvent{SessionID: "s1", Text: "two"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream?session=s1", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"snapshot"`) {
		t.Fatalf("expected snapshot event, got: %s", body)
	}
	if !strings.Contains(body, `"text":"two"`) {
		t.Fatalf("expected replay of event 2, got: %s", body)
	}
	if strings.Contains(body, `"text":"one"`) {
		t.Fatalf("expected event 1 skipped, got: %s", body)
	}
	if !strings.Contains(body, "id: 2\n") {
		t.Fatalf("expected SSE id line, got: %s", body)
	}
}

func TestServerStreamUnknownSession(t *testing.T) {
	srv, _ := newTestServer(&fakeService{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stream?session=missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestServerBasePathMount(t *testing.T) {
	hub := NewHub(10)
	srv := NewServer(Config{BasePath: "/termai", InitialBufferLines: 10}, &fakeService{}, hub)
	handler := srv.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/termai/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/termai", nil))
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}
