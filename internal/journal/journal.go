// Package journal records solver progress as an append-only sequence of
// JSON-lines entries, gated by SolverConfig.LogSearchProgress. Grounded
// on the teacher's internal/persistence/wal.go (mutex-guarded Append,
// JSON-lines entries) but adapted: the core owns no filesystem layout
// (spec.md §1 Non-goals), so this writes to a caller-supplied io.Writer
// instead of an os.File, trading durability for an in-process progress
// trail a caller can wire to whatever sink it likes.
package journal

import (
	"encoding/json"
	"io"
	"sync"
)

// EntryType enumerates the kinds of progress events the solver emits.
type EntryType string

const (
	EntryPhaseStarted   EntryType = "phase_started"
	EntryPhaseCompleted EntryType = "phase_completed"
	EntryBoundUpdate    EntryType = "bound_update"
	EntryCancelCheck    EntryType = "cancel_check"
)

// Entry is one journal line.
type Entry struct {
	Type  EntryType `json:"type"`
	Phase string    `json:"phase"`
	Note  string    `json:"note,omitempty"`
	Value int       `json:"value,omitempty"`
}

// Journal appends Entry values to an io.Writer as newline-delimited JSON.
type Journal struct {
	w       io.Writer
	mu      sync.Mutex
	enabled bool
}

// New returns a Journal writing to w. When enabled is false, Append is a
// no-op — matching log_search_progress=false.
func New(w io.Writer, enabled bool) *Journal {
	if w == nil {
		w = io.Discard
	}
	return &Journal{w: w, enabled: enabled}
}

// Append writes one entry, if the journal is enabled.
func (j *Journal) Append(e Entry) error {
	if !j.enabled {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = j.w.Write(data)
	return err
}
