package core

import "pkt.systems/termai/schema"

// EventSink receives session events from the core service. All payloads
// are read-only snapshots; sinks must not block.
type EventSink interface {
	OnStream(event schema.StreamEvent)
	OnOutput(event schema.OutputEvent)
	OnPhase(event schema.PhaseEvent)
	OnNotice(event schema.NoticeEvent)
	OnCwd(event schema.CwdEvent)
	OnUpdate(event schema.UpdateEvent)
}
