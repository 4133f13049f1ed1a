package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventStream carries raw terminal output as it arrives.
	EventStream EventType = "stream"
	// EventOutput carries a finalized command capture.
	EventOutput EventType = "output"
	// EventPhase carries an agent run phase change.
	EventPhase EventType = "phase"
	// EventNotice carries agent-facing text.
	EventNotice EventType = "notice"
	// EventCwd carries a working directory change.
	EventCwd EventType = "cwd"
	// EventUpdate carries a coalesced interactive refresh.
	EventUpdate EventType = "update"
)

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type   EventType
	Stream schema.StreamEvent
	Output schema.OutputEvent
	Phase  schema.PhaseEvent
	Notice schema.NoticeEvent
	Cwd    schema.CwdEvent
	Update schema.UpdateEvent
}

// Bus fanouts events to per-session subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.SessionID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.SessionID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan Event]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[sessionID]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("session", sessionID).Debug("eventbus unsubscribe")
		}
	}
}

// OnStream publishes a raw stream event.
func (b *Bus) OnStream(event schema.StreamEvent) {
	b.publish(event.SessionID, Event{Type: EventStream, Stream: event})
}

// OnOutput publishes a command capture event.
func (b *Bus) OnOutput(event schema.OutputEvent) {
	b.publish(event.SessionID, Event{Type: EventOutput, Output: event})
}

// OnPhase publishes a phase change event.
func (b *Bus) OnPhase(event schema.PhaseEvent) {
	b.publish(event.SessionID, Event{Type: EventPhase, Phase: event})
}

// OnNotice publishes a notice event.
func (b *Bus) OnNotice(event schema.NoticeEvent) {
	b.publish(event.SessionID, Event{Type: EventNotice, Notice: event})
}

// OnCwd publishes a working directory change event.
func (b *Bus) OnCwd(event schema.CwdEvent) {
	b.publish(event.SessionID, Event{Type: EventCwd, Cwd: event})
}

// OnUpdate publishes a coalesced refresh event.
func (b *Bus) OnUpdate(event schema.UpdateEvent) {
	b.publish(event.SessionID, Event{Type: EventUpdate, Update: event})
}

// publish sends to every subscriber of the session. Sends stay under the
// lock: unsubscribe closes channels under the same lock, so a send can
// never race a close. Sends never block; a full channel drops the event.
func (b *Bus) publish(sessionID schema.SessionID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	dropped := 0
	for sub := range b.subs[sessionID] {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	b.mu.Unlock()
	if dropped > 0 && b.log != nil {
		b.log.With("session", sessionID).Trace("eventbus dropped", "count", dropped)
	}
}
