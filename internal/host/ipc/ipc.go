// Package ipc is the host's local control surface: a Unix-domain socket
// accepting one command per connection from the companion CLI client.
package ipc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"

	"battery-tester-go/internal/wire"
)

// ServerName is the well-known endpoint identity both the server and
// the CLI client derive their socket path from.
const ServerName = "battery-tester-server"

// SocketPath returns the Unix-domain socket path for ServerName under
// dir (typically os.TempDir()).
func SocketPath(dir string) string {
	if dir == "" {
		dir = os.TempDir()
	}
	return dir + "/" + ServerName + ".sock"
}

// CmdKind tags a ServerCmd, mirroring the IPC wire enum.
type CmdKind uint8

const (
	CmdSetBatteryID CmdKind = iota
	CmdSetSerialDev
	CmdSetCutoffMillis
	CmdStartTest
	CmdCancelTest
	CmdShutDown
	CmdClearFault
	CmdAllowUndercurrent
	CmdDisallowUndercurrent
)

// BatteryID identifies a battery under test by the year it was
// commissioned and an index within that year.
type BatteryID struct {
	_     struct{} `cbor:",toarray"`
	Year  uint16
	Index uint8
}

// ServerCmd is the single command a client connection sends, CBOR
// encoded and length-prefixed with a 4-byte big-endian count.
type ServerCmd struct {
	_                struct{} `cbor:",toarray"`
	Kind             CmdKind
	BatteryID        BatteryID
	SerialDev        string
	CutoffMillivolts wire.MilliVolt
}

func encodeCmd(c ServerCmd) ([]byte, error) { return wire.EncMode().Marshal(c) }

func decodeCmd(b []byte) (ServerCmd, error) {
	var c ServerCmd
	err := wire.DecMode().Unmarshal(b, &c)
	return c, err
}

// WriteCmd writes one length-prefixed command to conn; used by the CLI
// client.
func WriteCmd(conn io.Writer, cmd ServerCmd) error {
	payload, err := encodeCmd(cmd)
	if err != nil {
		return fmt.Errorf("ipc: encode command: %w", err)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("ipc: write length: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// maxCmdSize caps a decoded command payload; the original capped its
// stack buffer at 512 bytes and spilled to a heap Vec above that, a
// distinction that doesn't matter once every command is this small.
const maxCmdSize = 4096

func readCmd(conn io.Reader) (ServerCmd, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return ServerCmd{}, fmt.Errorf("ipc: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxCmdSize {
		return ServerCmd{}, fmt.Errorf("ipc: command too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return ServerCmd{}, fmt.Errorf("ipc: read payload: %w", err)
	}
	return decodeCmd(buf)
}

// Sink receives the decoded command as a session-facing call; the
// session package implements this by translating each ServerCmd into
// an Event.
type Sink interface {
	BattID(id BatteryID)
	SetSerialDevice(dev string)
	SetCutoff(mv wire.MilliVolt)
	StartTest()
	CancelTest()
	Shutdown()
	ClearFault()
	UnderCurrentResponse(allow bool)
}

func dispatch(sink Sink, cmd ServerCmd) {
	switch cmd.Kind {
	case CmdSetBatteryID:
		sink.BattID(cmd.BatteryID)
	case CmdSetSerialDev:
		sink.SetSerialDevice(cmd.SerialDev)
	case CmdSetCutoffMillis:
		sink.SetCutoff(cmd.CutoffMillivolts)
	case CmdStartTest:
		sink.StartTest()
	case CmdCancelTest:
		sink.CancelTest()
	case CmdShutDown:
		sink.Shutdown()
	case CmdClearFault:
		sink.ClearFault()
	case CmdAllowUndercurrent:
		sink.UnderCurrentResponse(true)
	case CmdDisallowUndercurrent:
		sink.UnderCurrentResponse(false)
	}
}

// Logf is the diagnostic sink; callers wire it to their printer.
type Logf func(format string, args ...any)

// Run listens on path, handling one decoded command per connection
// until ctx is cancelled.
func Run(ctx context.Context, path string, sink Sink, logf Logf) error {
	_ = os.Remove(path) // overwrite a stale socket from a prior run
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", path, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logf("ipc: accept error: %v", err)
			continue
		}
		handleConn(conn, sink, logf)
	}
}

func handleConn(conn net.Conn, sink Sink, logf Logf) {
	defer conn.Close()
	cmd, err := readCmd(conn)
	if err != nil {
		logf("ipc: bad command: %v", err)
		return
	}
	dispatch(sink, cmd)
}
