// Package progress persists a run's live state as a JSON file so an
// operator can watch a long batch without tailing logs.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crowdsift/attendee-pipeline/internal/attendee"
)

// Phase names the stage a run is in.
type Phase string

const (
	PhaseReading    Phase = "reading"
	PhaseProcessing Phase = "processing"
	PhaseReporting  Phase = "reporting"
	PhaseDone       Phase = "done"
	PhaseFailed     Phase = "failed"
)

// State is the JSON document written after every update.
type State struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Total     int `json:"total"`
	Processed int `json:"processed"`

	EmailsFound   int `json:"emails_found"`
	EmailsMissing int `json:"emails_missing"`

	Buckets map[string]int `json:"buckets"`

	Error string `json:"error,omitempty"`
}

// Tracker accumulates counts and writes the state file atomically on
// every change. Safe for concurrent use from worker callbacks.
type Tracker struct {
	mu    sync.Mutex
	path  string
	state State

	// now is swappable for tests.
	now func() time.Time
}

// New creates a tracker writing to path. The run gets a fresh UUID.
func New(path string) *Tracker {
	now := time.Now
	t := &Tracker{
		path: path,
		now:  now,
		state: State{
			RunID:     uuid.NewString(),
			Phase:     PhaseReading,
			StartedAt: now().UTC(),
			Buckets:   map[string]int{},
		},
	}
	for _, c := range attendee.Classifications() {
		t.state.Buckets[string(c)] = 0
	}
	return t
}

func (t *Tracker) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.RunID
}

// Begin moves to the processing phase with a known total.
func (t *Tracker) Begin(total int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Phase = PhaseProcessing
	t.state.Total = total
	return t.flushLocked()
}

// Record counts one finished attendee.
func (t *Tracker) Record(c attendee.Classification, emailFound bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Processed++
	t.state.Buckets[string(c)]++
	if emailFound {
		t.state.EmailsFound++
	} else {
		t.state.EmailsMissing++
	}
	return t.flushLocked()
}

// Reporting marks the report-writing phase.
func (t *Tracker) Reporting() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Phase = PhaseReporting
	return t.flushLocked()
}

// Done marks the run finished.
func (t *Tracker) Done() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Phase = PhaseDone
	return t.flushLocked()
}

// Failed marks the run failed with a sanitized message.
func (t *Tracker) Failed(msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.Phase = PhaseFailed
	t.state.Error = msg
	return t.flushLocked()
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.state
	s.Buckets = make(map[string]int, len(t.state.Buckets))
	for k, v := range t.state.Buckets {
		s.Buckets[k] = v
	}
	return s
}

// flushLocked writes the state via a temp file and rename so readers
// never observe a torn JSON document.
func (t *Tracker) flushLocked() error {
	t.state.UpdatedAt = t.now().UTC()

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: encode state: %w", err)
	}
	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, ".progress-*.json")
	if err != nil {
		return fmt.Errorf("progress: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: close temp: %w", err)
	}
	if err := os.Rename(tmpName, t.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("progress: replace state file: %w", err)
	}
	return nil
}
