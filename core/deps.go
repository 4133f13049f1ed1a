package core

import "pkt.systems/pslog"

// ServiceDeps captures dependencies for the core service.
type ServiceDeps struct {
	Bridges   BridgeProvider
	Client    AgentClient
	EventSink EventSink
	Logger    pslog.Logger
}
