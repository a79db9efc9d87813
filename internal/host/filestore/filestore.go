// Package filestore owns the single output TSV file a test session
// writes to: a buffered writer that flushes every ten records and on
// close, created with create-new-only semantics so a run never
// clobbers a previous battery's data.
package filestore

import (
	"bytes"
	"fmt"
	"os"

	"battery-tester-go/internal/wire"
)

const header = "dt\tduration\tmillivolts\tmilliamps\n"

// flushEvery matches the firmware's ten-sample averaging window: one
// SaveData record is pushed per Measurement, so ten records is one
// flush per ~10s of testing at the nominal DAQ rate.
const flushEvery = 10

// SaveData is one averaged measurement ready to persist. Duration is
// the nominal span the batch's ten samples covered; it is not tracked
// sample-by-sample, so it is always BatchDurationMillis.
type SaveData struct {
	T          uint64
	DurationMs uint64
	VBat       wire.MilliVolt
	IBat       wire.MilliAmp
}

// BatchDurationMillis is the nominal duration of one DaqDataQueue batch:
// ten samples at the 100ms DAQ tick.
const BatchDurationMillis = 10 * 100

// Store buffers TSV rows in memory and flushes them to disk in batches.
// A nil out file means no session is currently open; Push then reports
// an error so the caller can raise a FileError event instead of losing
// data silently.
type Store struct {
	buf     bytes.Buffer
	pending int
	out     *os.File
}

// New returns an empty, fileless Store.
func New() *Store { return &Store{} }

// CreateNewFile opens path with create-new-only semantics: it fails if
// path already exists, so a run never clobbers a previous battery's
// data. The caller hands the returned file to AdoptFile.
func CreateNewFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", path, err)
	}
	return f, nil
}

// AdoptFile makes f the active output file, flushing and closing any
// previously active file first, and writes the header.
func (s *Store) AdoptFile(f *os.File) error {
	if s.out != nil {
		s.flush()
		s.out.Close()
	}
	s.out = f
	s.pending = 0
	if _, err := s.out.WriteString(header); err != nil {
		return fmt.Errorf("filestore: write header: %w", err)
	}
	return nil
}

// Push appends one record to the in-memory buffer, flushing every
// flushEvery records.
func (s *Store) Push(d SaveData) error {
	if s.out == nil {
		return errNoFile
	}
	fmt.Fprintf(&s.buf, "%d\t%d\t%d\t%d\n", d.T, d.DurationMs, d.VBat, d.IBat)
	s.pending++
	if s.pending == flushEvery {
		s.pending = 0
		return s.flushErr()
	}
	return nil
}

// Close flushes any buffered records and closes the active file, if
// any. It is safe to call when no file is open.
func (s *Store) Close() error {
	if s.out == nil {
		return nil
	}
	err := s.flushErr()
	cerr := s.out.Close()
	s.out = nil
	s.pending = 0
	if err != nil {
		return err
	}
	return cerr
}

func (s *Store) flush() { _ = s.flushErr() }

func (s *Store) flushErr() error {
	if s.buf.Len() == 0 || s.out == nil {
		return nil
	}
	if _, err := s.out.Write(s.buf.Bytes()); err != nil {
		return fmt.Errorf("filestore: write: %w", err)
	}
	s.buf.Reset()
	if err := s.out.Sync(); err != nil {
		return fmt.Errorf("filestore: sync: %w", err)
	}
	return nil
}

var errNoFile = fmt.Errorf("filestore: no output file open")

// ErrNoFile reports whether err is the "no file open" condition, which
// callers turn into a FileError session event.
func ErrNoFile(err error) bool { return err == errNoFile }
