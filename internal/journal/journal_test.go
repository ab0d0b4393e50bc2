package journal

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestAppend_DisabledIsNoOp(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, false)
	if err := j.Append(Entry{Type: EntryPhaseStarted, Phase: "phase1"}); err != nil {
		t.Fatalf("Append returned an error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no bytes written when disabled, got %q", buf.String())
	}
}

func TestAppend_EnabledWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, true)
	if err := j.Append(Entry{Type: EntryPhaseCompleted, Phase: "phase2", Value: 676}); err != nil {
		t.Fatalf("Append returned an error: %v", err)
	}

	line := strings.TrimSuffix(buf.String(), "\n")
	var got Entry
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("entry is not valid JSON: %v", err)
	}
	if got.Type != EntryPhaseCompleted || got.Phase != "phase2" || got.Value != 676 {
		t.Fatalf("decoded entry = %+v, want type=%s phase=phase2 value=676", got, EntryPhaseCompleted)
	}
}

func TestAppend_NilWriterDiscardsSilently(t *testing.T) {
	j := New(nil, true)
	if err := j.Append(Entry{Type: EntryCancelCheck, Phase: "phase1"}); err != nil {
		t.Fatalf("Append with a nil writer (defaulting to io.Discard) should not error: %v", err)
	}
}

func TestAppend_MultipleEntriesAreNewlineDelimited(t *testing.T) {
	var buf bytes.Buffer
	j := New(&buf, true)
	j.Append(Entry{Type: EntryPhaseStarted, Phase: "phase1"})
	j.Append(Entry{Type: EntryPhaseStarted, Phase: "phase2"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 journal lines, got %d: %q", len(lines), buf.String())
	}
}
