package persist

import (
	"testing"

	"pkt.systems/termai/schema"
)

func TestRecorderPersistsFinishedRun(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	exit := 0
	recorder.OnPhase(schema.PhaseEvent{
		SessionID: "s1", RunID: "r1",
		Phase: schema.Phase{Kind: schema.PhaseStarting},
	})
	recorder.OnOutput(schema.OutputEvent{
		SessionID: "s1", RunID: "r1",
		Command: "go test ./...",
		Chunk:   schema.OutputChunk{Cleaned: "ok", ExitCode: &exit, Cwd: "/work"},
	})
	recorder.OnNotice(schema.NoticeEvent{SessionID: "s1", RunID: "r1", Text: "tests pass"})
	recorder.OnPhase(schema.PhaseEvent{
		SessionID: "s1", RunID: "r1",
		Phase: schema.Phase{Kind: schema.PhaseCompleted},
	})

	record, ok, err := recorder.Store().Load("r1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if record.Outcome != schema.PhaseCompleted {
		t.Fatalf("unexpected outcome %q", record.Outcome)
	}
	if record.Summary != "tests pass" {
		t.Fatalf("unexpected summary %q", record.Summary)
	}
	if len(record.Commands) != 1 || record.Commands[0].Command != "go test ./..." {
		t.Fatalf("unexpected commands: %+v", record.Commands)
	}
	if record.FinishedAt.Before(record.StartedAt) {
		t.Fatalf("expected monotonic timestamps: %+v", record)
	}
}

func TestRecorderIgnoresEventsOutsideRuns(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.OnOutput(schema.OutputEvent{SessionID: "s1", Command: "ls"})
	recorder.OnNotice(schema.NoticeEvent{SessionID: "s1", Text: "hello"})
	recorder.OnPhase(schema.PhaseEvent{SessionID: "s1", Phase: schema.Phase{Kind: schema.PhaseCompleted}})

	runs, err := recorder.Store().List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no records, got %v", runs)
	}
}

func TestRecorderRecordsFailureReason(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewRecorder(dir, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	recorder.OnPhase(schema.PhaseEvent{
		SessionID: "s1", RunID: "r2",
		Phase: schema.Phase{Kind: schema.PhaseFailed, Reason: "api_key_invalid: check credentials"},
	})
	record, ok, err := recorder.Store().Load("r2")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if record.Outcome != schema.PhaseFailed || record.Reason == "" {
		t.Fatalf("unexpected record: %+v", record)
	}
}
