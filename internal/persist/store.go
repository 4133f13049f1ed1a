package persist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"pkt.systems/pslog"
	"pkt.systems/termai/schema"
)

// CommandRecord captures one executed command and its isolated output.
type CommandRecord struct {
	Command  string `json:"command"`
	Output   string `json:"output,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Cwd      string `json:"cwd,omitempty"`
}

// RunRecord captures one finished agent run for on-disk history.
type RunRecord struct {
	SessionID  schema.SessionID `json:"session_id"`
	RunID      schema.RunID     `json:"run_id"`
	Outcome    schema.PhaseKind `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	Summary    string           `json:"summary,omitempty"`
	Commands   []CommandRecord  `json:"commands,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Store persists run records to disk.
type Store struct {
	dir string
	log pslog.Logger
}

// NewStore constructs a persistent store at the given directory.
func NewStore(dir string) (*Store, error) {
	return NewStoreWithLogger(dir, nil)
}

// NewStoreWithLogger constructs a persistent store with logging.
func NewStoreWithLogger(dir string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if logger != nil {
		logger = logger.With("state_dir", dir)
	}
	return &Store{dir: dir, log: logger}, nil
}

// Load reads a run record from disk.
func (s *Store) Load(runID schema.RunID) (RunRecord, bool, error) {
	path := s.pathForRun(runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("run record miss", "run", runID)
			}
			return RunRecord{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("run record load failed", "run", runID, "err", err)
		}
		return RunRecord{}, false, err
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		if s.log != nil {
			s.log.Warn("run record load failed", "run", runID, "err", err)
		}
		return RunRecord{}, false, err
	}
	return record, true, nil
}

// List returns the run IDs present in the store, oldest first by name.
func (s *Store) List() ([]schema.RunID, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	runs := make([]schema.RunID, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		runs = append(runs, schema.RunID(strings.TrimSuffix(name, ".json")))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i] < runs[j] })
	return runs, nil
}

// Save writes a run record to disk atomically.
func (s *Store) Save(record RunRecord) error {
	path := s.pathForRun(record.RunID)
	fail := func(err error) error {
		if s.log != nil {
			s.log.Warn("run record save failed", "run", record.RunID, "err", err)
		}
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fail(err)
	}
	tmp, err := os.CreateTemp(s.dir, "run-*.json")
	if err != nil {
		return fail(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail(err)
	}
	if s.log != nil {
		s.log.Trace("run record save ok", "run", record.RunID, "commands", len(record.Commands))
	}
	return nil
}

func (s *Store) pathForRun(runID schema.RunID) string {
	name := sanitize(string(runID))
	if name == "" {
		name = "unknown"
	}
	return filepath.Join(s.dir, name+".json")
}

func sanitize(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		if r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
