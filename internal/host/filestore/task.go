package filestore

import (
	"context"
	"os"
)

// CmdKind tags a Cmd's payload, standing in for the original's
// FileCmd enum variants.
type CmdKind uint8

const (
	CmdNewFile CmdKind = iota
	CmdClose
	CmdShutdown
	CmdPush
)

// Cmd is one instruction to the file task. NewFile carries an already
// opened file (see CreateNewFile) rather than a path: the caller opens
// it synchronously so a create error can be handled immediately
// instead of round-tripping through this channel.
type Cmd struct {
	Kind CmdKind
	File *os.File
	Data SaveData
}

// NewFileCmd, CloseCmd, ShutdownCmd and PushCmd build the Cmd variants.
func NewFileCmd(f *os.File) Cmd { return Cmd{Kind: CmdNewFile, File: f} }
func CloseCmd() Cmd             { return Cmd{Kind: CmdClose} }
func ShutdownCmd() Cmd          { return Cmd{Kind: CmdShutdown} }
func PushCmd(d SaveData) Cmd    { return Cmd{Kind: CmdPush, Data: d} }

// FileError is sent back to the session whenever a push fails so the
// session can end the test rather than silently drop data.
type FileError struct{ Err error }

// Run owns a Store and drains cmdCh until it is closed or a Shutdown
// command arrives; one goroutine is the sole owner of the Store. Errors
// are reported on errCh without blocking: an error that finds errCh
// full (or unbuffered with no reader waiting) is dropped.
func Run(ctx context.Context, cmdCh <-chan Cmd, errCh chan<- FileError) {
	store := New()
	defer store.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-cmdCh:
			if !ok {
				return
			}
			switch cmd.Kind {
			case CmdNewFile:
				if err := store.AdoptFile(cmd.File); err != nil {
					reportErr(errCh, err)
				}
			case CmdClose:
				if err := store.Close(); err != nil {
					reportErr(errCh, err)
				}
			case CmdShutdown:
				store.Close()
				return
			case CmdPush:
				if err := store.Push(cmd.Data); err != nil {
					reportErr(errCh, err)
				}
			}
		}
	}
}

func reportErr(errCh chan<- FileError, err error) {
	select {
	case errCh <- FileError{Err: err}:
	default:
	}
}
