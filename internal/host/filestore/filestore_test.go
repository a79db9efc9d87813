package filestore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"battery-tester-go/internal/wire"
)

func TestAdoptFileWritesHeaderAndFlushesEveryTen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tsv")
	f, err := CreateNewFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s := New()
	if err := s.AdoptFile(f); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < flushEvery-1; i++ {
		if err := s.Push(SaveData{T: uint64(i), DurationMs: BatchDurationMillis, VBat: 9000, IBat: 100}); err != nil {
			t.Fatal(err)
		}
	}

	// Not yet flushed: disk should contain only the header.
	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(contents) != header {
		t.Fatalf("expected only the header before the tenth push, got %q", contents)
	}

	if err := s.Push(SaveData{T: 9, DurationMs: BatchDurationMillis, VBat: 9000, IBat: 100}); err != nil {
		t.Fatal(err)
	}

	contents, err = os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(string(contents), "\n"), "\n")
	if len(lines) != flushEvery+1 { // header + 10 rows
		t.Fatalf("expected %d lines, got %d: %q", flushEvery+1, len(lines), contents)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateNewFileRefusesToOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.tsv")
	f, err := CreateNewFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := CreateNewFile(path); err == nil {
		t.Fatal("expected CreateNewFile to fail on an existing path")
	}
}

func TestPushWithoutAFileReportsErrNoFile(t *testing.T) {
	s := New()
	err := s.Push(SaveData{VBat: wire.MilliVolt(1), IBat: wire.MilliAmp(1)})
	if !ErrNoFile(err) {
		t.Fatalf("expected ErrNoFile, got %v", err)
	}
}
