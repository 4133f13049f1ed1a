package httpapi

import (
	"context"
	"sync"
	"time"

	"pkt.systems/termai/internal/logx"
	"pkt.systems/termai/schema"
)

// StreamEvent is sent to SSE clients.
type StreamEvent struct {
	Seq       uint64                 `json:"seq"`
	Type      string                 `json:"type"`
	SessionID schema.SessionID       `json:"session_id,omitempty"`
	RunID     schema.RunID           `json:"run_id,omitempty"`
	Text      string                 `json:"text,omitempty"`
	Command   string                 `json:"command,omitempty"`
	Chunk     *schema.OutputChunk    `json:"chunk,omitempty"`
	Phase     *schema.Phase          `json:"phase,omitempty"`
	Cwd       string                 `json:"cwd,omitempty"`
	Buffer    *schema.BufferSnapshot `json:"buffer,omitempty"`
	Snapshot  *SnapshotPayload       `json:"snapshot,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// SnapshotPayload seeds client state on connect.
type SnapshotPayload struct {
	Session schema.SessionSnapshot `json:"session"`
}

// Hub broadcasts events per session and retains a bounded replay history.
type Hub struct {
	mu          sync.Mutex
	sessions    map[schema.SessionID]*sessionHub
	historySize int
}

// NewHub constructs a hub with the given history size.
func NewHub(historySize int) *Hub {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Hub{
		sessions:    make(map[schema.SessionID]*sessionHub),
		historySize: historySize,
	}
}

// OnStream implements core.EventSink.
func (h *Hub) OnStream(event schema.StreamEvent) {
	h.publish(event.SessionID, StreamEvent{
		Type:      "stream",
		SessionID: event.SessionID,
		Text:      event.Text,
		Timestamp: time.Now(),
	})
}

// OnOutput implements core.EventSink.
func (h *Hub) OnOutput(event schema.OutputEvent) {
	log := logx.WithSession(context.Background(), event.SessionID)
	log.Trace("hub output event", "command", event.Command, "lines", event.Chunk.LineCount)
	chunk := event.Chunk
	h.publish(event.SessionID, StreamEvent{
		Type:      "output",
		SessionID: event.SessionID,
		RunID:     event.RunID,
		Command:   event.Command,
		Chunk:     &chunk,
		Timestamp: time.Now(),
	})
}

// OnPhase implements core.EventSink.
func (h *Hub) OnPhase(event schema.PhaseEvent) {
	log := logx.WithSessionRun(context.Background(), event.SessionID, event.RunID)
	log.Trace("hub phase event", "phase", event.Phase.Kind)
	phase := event.Phase
	h.publish(event.SessionID, StreamEvent{
		Type:      "phase",
		SessionID: event.SessionID,
		RunID:     event.RunID,
		Phase:     &phase,
		Timestamp: time.Now(),
	})
}

// OnNotice implements core.EventSink.
func (h *Hub) OnNotice(event schema.NoticeEvent) {
	h.publish(event.SessionID, StreamEvent{
		Type:      "notice",
		SessionID: event.SessionID,
		RunID:     event.RunID,
		Text:      event.Text,
		Timestamp: time.Now(),
	})
}

// OnCwd implements core.EventSink.
func (h *Hub) OnCwd(event schema.CwdEvent) {
	h.publish(event.SessionID, StreamEvent{
		Type:      "cwd",
		SessionID: event.SessionID,
		Cwd:       event.Cwd,
		Timestamp: time.Now(),
	})
}

// OnUpdate implements core.EventSink.
func (h *Hub) OnUpdate(event schema.UpdateEvent) {
	buffer := event.Buffer
	h.publish(event.SessionID, StreamEvent{
		Type:      "update",
		SessionID: event.SessionID,
		Cwd:       event.Cwd,
		Buffer:    &buffer,
		Timestamp: time.Now(),
	})
}

// Subscribe registers a subscriber for a session.
func (h *Hub) Subscribe(sessionID schema.SessionID) (<-chan StreamEvent, func(), uint64, []StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.getOrCreateSessionHubLocked(sessionID)
	ch := make(chan StreamEvent, 256)
	sh.subs[ch] = struct{}{}
	history := append([]StreamEvent(nil), sh.history...)
	seq := sh.seq
	log := logx.WithSession(context.Background(), sessionID)
	log.Info("hub subscribe", "subs", len(sh.subs), "history", len(history))
	unsub := func() {
		h.mu.Lock()
		if _, ok := sh.subs[ch]; ok {
			delete(sh.subs, ch)
			close(ch)
		}
		remaining := len(sh.subs)
		h.mu.Unlock()
		log.Info("hub unsubscribe", "subs", remaining)
	}
	return ch, unsub, seq, history
}

// Replay returns events after the provided seq.
func (h *Hub) Replay(sessionID schema.SessionID, after uint64) []StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	sh := h.sessions[sessionID]
	if sh == nil {
		return nil
	}
	events := make([]StreamEvent, 0, len(sh.history))
	for _, event := range sh.history {
		if event.Seq > after {
			events = append(events, event)
		}
	}
	logx.WithSession(context.Background(), sessionID).Debug("hub replay", "after", after, "count", len(events))
	return events
}

// Forget drops a closed session's history and subscriber set.
func (h *Hub) Forget(sessionID schema.SessionID) {
	h.mu.Lock()
	sh := h.sessions[sessionID]
	delete(h.sessions, sessionID)
	if sh != nil {
		for sub := range sh.subs {
			delete(sh.subs, sub)
			close(sub)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) publish(sessionID schema.SessionID, event StreamEvent) {
	h.mu.Lock()
	sh := h.getOrCreateSessionHubLocked(sessionID)
	sh.seq++
	event.Seq = sh.seq
	sh.history = append(sh.history, event)
	if len(sh.history) > h.historySize {
		sh.history = sh.history[len(sh.history)-h.historySize:]
	}
	// Sends stay under the lock: unsubscribe and Forget close channels
	// under the same lock, so a send can never race a close. Sends never
	// block; a full channel drops the event.
	dropped := 0
	for sub := range sh.subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	h.mu.Unlock()
	if dropped > 0 {
		logx.WithSession(context.Background(), sessionID).Warn("hub event dropped", "type", event.Type, "dropped", dropped)
	}
}

func (h *Hub) getOrCreateSessionHubLocked(sessionID schema.SessionID) *sessionHub {
	sh := h.sessions[sessionID]
	if sh == nil {
		sh = &sessionHub{
			subs: make(map[chan StreamEvent]struct{}),
		}
		h.sessions[sessionID] = sh
	}
	return sh
}

type sessionHub struct {
	seq     uint64
	history []StreamEvent
	subs    map[chan StreamEvent]struct{}
}
