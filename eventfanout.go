package termai

import (
	"pkt.systems/termai/core"
	"pkt.systems/termai/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnStream(event schema.StreamEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnStream(event)
	}
}

func (f eventFanout) OnOutput(event schema.OutputEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnOutput(event)
	}
}

func (f eventFanout) OnPhase(event schema.PhaseEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnPhase(event)
	}
}

func (f eventFanout) OnNotice(event schema.NoticeEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnNotice(event)
	}
}

func (f eventFanout) OnCwd(event schema.CwdEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnCwd(event)
	}
}

func (f eventFanout) OnUpdate(event schema.UpdateEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnUpdate(event)
	}
}
