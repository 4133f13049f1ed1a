package persist

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

// Recorder accumulates agent run events and writes one record per
// finished run. It implements core.EventSink and ignores events that are
// not tied to a run.
type Recorder struct {
	store *Store
	log   pslog.Logger

	mu     sync.Mutex
	active map[schema.RunID]*RunRecord
}

// NewRecorder constructs a Recorder persisting to the given directory.
func NewRecorder(dir string, logger pslog.Logger) (*Recorder, error) {
	store, err := NewStoreWithLogger(dir, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Recorder{
		store:  store,
		log:    logger,
		active: make(map[schema.RunID]*RunRecord),
	}, nil
}

// Store exposes the underlying record store.
func (r *Recorder) Store() *Store {
	return r.store
}

// OnStream implements core.EventSink.
func (r *Recorder) OnStream(schema.StreamEvent) {}

// OnOutput implements core.EventSink.
func (r *Recorder) OnOutput(event schema.OutputEvent) {
	if event.RunID == "" {
		return
	}
	r.mu.Lock()
	record := r.recordLocked(event.SessionID, event.RunID)
	record.Commands = append(record.Commands, CommandRecord{
		Command:  event.Command,
		Output:   event.Chunk.Cleaned,
		ExitCode: event.Chunk.ExitCode,
		Cwd:      event.Chunk.Cwd,
	})
	r.mu.Unlock()
}

// OnPhase implements core.EventSink.
func (r *Recorder) OnPhase(event schema.PhaseEvent) {
	if event.RunID == "" {
		return
	}
	r.mu.Lock()
	record := r.recordLocked(event.SessionID, event.RunID)
	if !event.Phase.Kind.Terminal() {
		r.mu.Unlock()
		return
	}
	record.Outcome = event.Phase.Kind
	record.Reason = event.Phase.Reason
	record.FinishedAt = time.Now()
	finished := *record
	delete(r.active, event.RunID)
	r.mu.Unlock()

	if err := r.store.Save(finished); err != nil {
		r.log.Warn("run record not persisted", "run", event.RunID, "err", err)
	}
}

// OnNotice implements core.EventSink.
func (r *Recorder) OnNotice(event schema.NoticeEvent) {
	if event.RunID == "" {
		return
	}
	r.mu.Lock()
	r.recordLocked(event.SessionID, event.RunID).Summary = event.Text
	r.mu.Unlock()
}

// OnCwd implements core.EventSink.
func (r *Recorder) OnCwd(schema.CwdEvent) {}

// OnUpdate implements core.EventSink.
func (r *Recorder) OnUpdate(schema.UpdateEvent) {}

func (r *Recorder) recordLocked(sessionID schema.SessionID, runID schema.RunID) *RunRecord {
	record := r.active[runID]
	if record == nil {
		record = &RunRecord{
			SessionID: sessionID,
			RunID:     runID,
			StartedAt: time.Now(),
		}
		r.active[runID] = record
	}
	return record
}
