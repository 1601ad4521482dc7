package recording

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func readLines(t *testing.T, data []byte) []string {
	t.Helper()
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

func TestRecorder_HeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer

	rec, err := New(&buf, "bbs.example.com:23")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	rec.Output([]byte("login: "))
	rec.Input([]byte("guest\r"))
	rec.Output(nil)

	lines := readLines(t, buf.Bytes())
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %v", len(lines), lines)
	}

	var header Header
	if err := json.Unmarshal([]byte(lines[0]), &header); err != nil {
		t.Fatalf("invalid header: %v", err)
	}
	if header.Version != 2 || header.Width != DefaultWidth || header.Height != DefaultHeight {
		t.Errorf("unexpected header: %+v", header)
	}
	if header.Title != "bbs.example.com:23" {
		t.Errorf("expected title, got %q", header.Title)
	}

	var out, in Event
	if err := json.Unmarshal([]byte(lines[1]), &out); err != nil {
		t.Fatalf("invalid event: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[2]), &in); err != nil {
		t.Fatalf("invalid event: %v", err)
	}

	if out.Type != EventOutput || out.Data != "login: " {
		t.Errorf("unexpected output event: %+v", out)
	}
	if in.Type != EventInput || in.Data != "guest\r" {
		t.Errorf("unexpected input event: %+v", in)
	}
	if in.Time < out.Time {
		t.Errorf("event times not monotonic: %f < %f", in.Time, out.Time)
	}
}

func TestRecorder_WritesAfterCloseIgnored(t *testing.T) {
	var buf bytes.Buffer
	rec, _ := New(&buf, "")

	rec.Close()
	if err := rec.Output([]byte("late")); err != nil {
		t.Errorf("write after close returned %v", err)
	}
	if strings.Contains(buf.String(), "late") {
		t.Error("write after close reached the stream")
	}
	if err := rec.Close(); err != nil {
		t.Errorf("second close returned %v", err)
	}
}

func TestCreate_File(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "casts")

	rec, err := Create(dir, "session-1", "h:23")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	rec.Output([]byte("hi"))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if rec.Path() != filepath.Join(dir, "session-1.cast") {
		t.Errorf("unexpected path %q", rec.Path())
	}

	data, err := os.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if lines := readLines(t, data); len(lines) != 2 {
		t.Errorf("expected 2 lines, got %d", len(lines))
	}
}

func TestEvent_UnmarshalErrors(t *testing.T) {
	tests := []string{
		`[1.0, "o"]`,
		`["x", "o", "d"]`,
		`[1.0, 2, "d"]`,
		`[1.0, "o", 3]`,
		`{}`,
	}

	for _, input := range tests {
		var e Event
		if err := json.Unmarshal([]byte(input), &e); err == nil {
			t.Errorf("expected error for %s", input)
		}
	}
}

func TestEvent_Property_DataPreserved(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("valid UTF-8 data survives encoding", prop.ForAll(
		func(data string) bool {
			var buf bytes.Buffer
			rec, _ := New(&buf, "")
			rec.Output([]byte(data))

			lines := readLines(t, buf.Bytes())
			if len(data) == 0 {
				return len(lines) == 1
			}
			var e Event
			if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
				return false
			}
			return e.Data == data
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
