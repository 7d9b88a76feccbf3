package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/crimson-sun/swatch/internal/model"
	"github.com/crimson-sun/swatch/internal/output"
)

func testRecord(id string) model.Record {
	return model.Record{
		Item:   model.Item{ID: id, Title: "navy wool coat", Description: "Warm winter coat."},
		Status: model.StatusClassified,
		Attributes: model.Classification{
			"Color":    {Chosen: "Navy", Score: 150, DetailedScores: model.ScoreVector{"Navy": 150, "Blue": 1.2}},
			"Material": {Chosen: "Wool", Score: 150, DetailedScores: model.ScoreVector{"Wool": 150}},
		},
	}
}

func newOutput(t *testing.T, path string, v output.Verbosity, opts ...Option) *Output {
	t.Helper()
	out, err := New(path, v, opts...)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return out
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func TestWriteOneRecordPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	out := newOutput(t, path, output.Standard)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := out.Write(context.Background(), testRecord(id)); err != nil {
			t.Fatalf("Write(%s) error: %v", id, err)
		}
	}
	if got := out.Records(); got != len(ids) {
		t.Errorf("Records() = %d, want %d", got, len(ids))
	}
	if err := out.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != len(ids) {
		t.Fatalf("got %d lines, want %d", len(lines), len(ids))
	}
	for i, line := range lines {
		var rec model.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("line %d: invalid JSON: %v", i, err)
		}
		if rec.Item.ID != ids[i] {
			t.Errorf("line %d: id = %q, want %q", i, rec.Item.ID, ids[i])
		}
		if rec.Attributes["Material"].Chosen != "Wool" {
			t.Errorf("line %d: material = %q, want Wool", i, rec.Attributes["Material"].Chosen)
		}
	}
}

func TestFlushWithoutClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	out := newOutput(t, path, output.Standard)
	defer out.Close()

	out.Write(context.Background(), testRecord("a"))
	if info, _ := os.Stat(path); info.Size() != 0 {
		t.Fatalf("record reached disk before Flush (%d bytes)", info.Size())
	}
	if err := out.Flush(); err != nil {
		t.Fatalf("Flush error: %v", err)
	}
	if n := len(readLines(t, path)); n != 1 {
		t.Errorf("got %d lines after Flush, want 1", n)
	}
}

func TestRotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	// Every record is a few hundred bytes, so each write after the first rotates.
	out := newOutput(t, path, output.Standard, WithMaxSize(100), WithMaxBackups(2))

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := out.Write(context.Background(), testRecord(id)); err != nil {
			t.Fatalf("Write(%s) error: %v", id, err)
		}
	}
	out.Close()

	tests := []struct {
		path string
		id   string
	}{
		{path, "d"},
		{path + ".1", "c"},
		{path + ".2", "b"},
	}
	for _, tt := range tests {
		lines := readLines(t, tt.path)
		if len(lines) != 1 {
			t.Fatalf("%s has %d lines, want 1", filepath.Base(tt.path), len(lines))
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
			t.Fatalf("%s: %v", tt.path, err)
		}
		if rec.Item.ID != tt.id {
			t.Errorf("%s holds %q, want %q", filepath.Base(tt.path), rec.Item.ID, tt.id)
		}
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Error("backup beyond WithMaxBackups was kept")
	}
}

func TestAppendsToExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := newOutput(t, path, output.Minimal)
	out.Write(context.Background(), testRecord("a"))
	out.Close()

	if n := len(readLines(t, path)); n != 2 {
		t.Errorf("got %d lines, want 2", n)
	}
}

func TestMinimalDropsDetailedScores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	out := newOutput(t, path, output.Minimal)
	out.Write(context.Background(), testRecord("a"))
	out.Close()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "detailedScores") {
		t.Error("minimal verbosity kept detailed scores")
	}
}

func TestOpenFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "records.jsonl")
	if _, err := New(path, output.Standard); err == nil {
		t.Fatal("expected error for a path in a missing directory")
	}
}

func TestConcurrentWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	out := newOutput(t, path, output.Standard)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out.Write(context.Background(), testRecord("p"))
		}()
	}
	wg.Wait()
	out.Close()

	if n := len(readLines(t, path)); n != 50 {
		t.Errorf("got %d lines, want 50", n)
	}
}
