package persist

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pkt.systems/termai/schema"
)

func TestStoreLoadMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Load("r1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected missing record")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	exit := 0
	record := RunRecord{
		SessionID: "sess-1",
		RunID:     "run-1",
		Outcome:   schema.PhaseCompleted,
		Summary:   "installed dependencies",
		Commands: []CommandRecord{
			{Command: "npm install", Output: "added 12 packages", ExitCode: &exit, Cwd: "/work"},
		},
		StartedAt:  time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2026, time.March, 1, 10, 1, 30, 0, time.UTC),
	}
	if err := store.Save(record); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.Load("run-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to exist")
	}
	if !reflect.DeepEqual(record, got) {
		t.Fatalf("record mismatch:\nwant: %+v\ngot:  %+v", record, got)
	}
}

func TestStoreList(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, id := range []schema.RunID{"b", "a"} {
		if err := store.Save(RunRecord{SessionID: "s", RunID: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	runs, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 2 || runs[0] != "a" || runs[1] != "b" {
		t.Fatalf("unexpected runs: %v", runs)
	}
}

func TestStoreLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	path := filepath.Join(dir, "r1.json")
	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write bad json: %v", err)
	}
	if _, _, err := store.Load("r1"); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestStoreSanitizesRunID(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.Save(RunRecord{SessionID: "s", RunID: "../escape"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, ".._escape.json")); statErr != nil {
		t.Fatalf("expected sanitized file name: %v", statErr)
	}
}
