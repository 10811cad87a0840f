package channels

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/taskmesh/taskmesh/internal/types"
	"github.com/taskmesh/taskmesh/internal/workspace"
)

func newTestChannels(t *testing.T) *Channels {
	t.Helper()
	ws := workspace.At(t.TempDir())
	if err := ws.Init(); err != nil {
		t.Fatalf("workspace init failed: %v", err)
	}
	return New(ws)
}

func TestNoteRoundTrip(t *testing.T) {
	c := newTestChannels(t)
	now := time.Now().UTC().Truncate(time.Second)

	for _, text := range []string{"first thought", "second thought"} {
		err := c.WriteNote(&types.PrivateNote{
			TaskID: "abc12345", AgentID: "alice", Text: text, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("WriteNote failed: %v", err)
		}
	}

	notes, err := c.ReadNotes("abc12345", "alice")
	if err != nil {
		t.Fatalf("ReadNotes failed: %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].Text != "first thought" || notes[1].Text != "second thought" {
		t.Errorf("notes out of order: %q, %q", notes[0].Text, notes[1].Text)
	}
}

func TestNotesArePerAgent(t *testing.T) {
	c := newTestChannels(t)
	err := c.WriteNote(&types.PrivateNote{
		TaskID: "abc12345", AgentID: "alice", Text: "secret", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteNote failed: %v", err)
	}

	notes, err := c.ReadNotes("abc12345", "bob")
	if err != nil {
		t.Fatalf("ReadNotes failed: %v", err)
	}
	if len(notes) != 0 {
		t.Errorf("bob read alice's notes: %v", notes)
	}
}

func TestReadNotesMissingLog(t *testing.T) {
	c := newTestChannels(t)
	notes, err := c.ReadNotes("nothing", "nobody")
	if err != nil || notes != nil {
		t.Errorf("got %v, %v; want nil, nil", notes, err)
	}
}

func TestReadSkipsPartialLines(t *testing.T) {
	ws := workspace.At(t.TempDir())
	if err := ws.Init(); err != nil {
		t.Fatalf("workspace init failed: %v", err)
	}
	c := New(ws)
	err := c.WriteNote(&types.PrivateNote{
		TaskID: "abc12345", AgentID: "alice", Text: "intact", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteNote failed: %v", err)
	}

	// Simulate a crashed writer leaving a truncated trailing line.
	f, err := os.OpenFile(ws.NoteLogPath("abc12345", "alice"), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("opening log failed: %v", err)
	}
	if _, err := f.WriteString(`{"ts":"2026-01-01T00:0`); err != nil {
		t.Fatalf("writing partial line failed: %v", err)
	}
	_ = f.Close()

	notes, err := c.ReadNotes("abc12345", "alice")
	if err != nil {
		t.Fatalf("ReadNotes failed: %v", err)
	}
	if len(notes) != 1 || notes[0].Text != "intact" {
		t.Errorf("notes = %v, want just the intact one", notes)
	}
}

func TestWriteSharedAndBroadcast(t *testing.T) {
	ws := workspace.At(t.TempDir())
	if err := ws.Init(); err != nil {
		t.Fatalf("workspace init failed: %v", err)
	}
	c := New(ws)

	err := c.WriteShared(&types.ContextEntry{
		TaskID: "abc12345", AgentID: "alice", Kind: types.ContextShare,
		Text: "schema uses WAL", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteShared failed: %v", err)
	}
	if _, err := os.Stat(ws.ContextLogPath("abc12345")); err != nil {
		t.Errorf("context log missing: %v", err)
	}

	err = c.WriteBroadcast(&types.Notification{
		TaskID: "abc12345", Kind: types.NotifyUnblocked,
		Payload: "ready to start", CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("WriteBroadcast failed: %v", err)
	}
	data, err := os.ReadFile(ws.BroadcastLogPath())
	if err != nil {
		t.Fatalf("reading broadcast log failed: %v", err)
	}
	if !strings.Contains(string(data), "ready to start") {
		t.Errorf("broadcast log = %q", data)
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"keeps newline and tab", "a\n\tb", "a\n\tb"},
		{"strips control", "a\x00\x08b\x1b[31m", "ab[31m"},
		{"strips del", "a\x7fb", "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Sanitize(tc.in); got != tc.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	// Fill to just under the cap, then a multibyte rune that would cross it.
	in := strings.Repeat("x", MaxEntryBytes-1) + "é"
	got := Sanitize(in)
	if len(got) != MaxEntryBytes-1 {
		t.Errorf("len = %d, want %d", len(got), MaxEntryBytes-1)
	}
	if strings.ContainsRune(got, 'é') {
		t.Error("multibyte rune crossed the cap")
	}
}
