// Package serialport is the host side of the BI link: it owns the
// serial device, writes one BiCommand per state change (plus a 2Hz
// heartbeat), and decodes incoming BIReply frames into session events.
package serialport

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tarm/serial"

	"battery-tester-go/internal/wire"
)

// DefaultBaud matches the BI firmware's fixed UART configuration.
const DefaultBaud = 230400

// TxInterval is the heartbeat rate: the host resends the last commanded
// BiCommand this often even with no state change.
const TxInterval = 500 * time.Millisecond

func connect(devName string) (io.ReadWriteCloser, error) {
	c := &serial.Config{Name: devName, Baud: DefaultBaud, StopBits: serial.Stop1, Size: 8}
	s, err := serial.OpenPort(c)
	if err != nil {
		return nil, fmt.Errorf("serialport: open %s: %w", devName, err)
	}
	return s, nil
}

// CmdKind tags a Cmd, standing in for the original's ComCmd variants.
type CmdKind uint8

const (
	CmdNewDeviceName CmdKind = iota
	CmdBICommand
	CmdShutdown
	CmdClearFault
)

// Cmd is one instruction to the serial task.
type Cmd struct {
	Kind       CmdKind
	DeviceName string
	Command    wire.BiCommand
}

func NewDeviceNameCmd(name string) Cmd    { return Cmd{Kind: CmdNewDeviceName, DeviceName: name} }
func BICommandCmd(c wire.BiCommand) Cmd   { return Cmd{Kind: CmdBICommand, Command: c} }
func ShutdownCmd() Cmd                    { return Cmd{Kind: CmdShutdown} }
func ClearFaultCmd() Cmd                  { return Cmd{Kind: CmdClearFault} }

// idleCommand and clearFaultCommand mirror the session package's
// command builders; duplicated here (rather than imported) to keep
// this package free of a dependency on session's higher-level state.
func idleCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff}
}

func clearFaultCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff, ClearFault: wire.ClearFaultYes}
}

// Logf is the diagnostic sink; callers wire it to their printer.
type Logf func(format string, args ...any)

// EventSink receives the session-facing events the serial task raises:
// CommDc on any read/write error, Reply for each decoded BIReply.
type EventSink interface {
	CommDc()
	Reply(wire.BIReply)
}

// Run is the serial_com_task equivalent: it blocks until a device name
// is commanded, then owns the port for reads, writes, and the 2Hz
// heartbeat until Shutdown or ctx cancellation.
func Run(ctx context.Context, cmdCh <-chan Cmd, sink EventSink, logf Logf) {
	port, ok := awaitFirstDevice(ctx, cmdCh, logf)
	if !ok {
		return
	}
	defer port.Close()

	ticker := time.NewTicker(TxInterval)
	defer ticker.Stop()

	dec := wire.NewDecoder()
	readCh := make(chan readResult, 1)
	go readLoop(ctx, port, readCh)

	var lastCmd wire.BiCommand

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmdCh:
			switch cmd.Kind {
			case CmdBICommand:
				lastCmd = cmd.Command
				if err := wire.WriteFrame(port, encode(lastCmd)); err != nil {
					logf("serial write error: %v", err)
					sink.CommDc()
				}
			case CmdNewDeviceName:
				newPort, err := connect(cmd.DeviceName)
				if err != nil {
					logf("can't connect to device %s: %v", cmd.DeviceName, err)
					sink.CommDc()
					continue
				}
				port.Close()
				port = newPort
				go readLoop(ctx, port, readCh)
			case CmdShutdown:
				_ = wire.WriteFrame(port, encode(idleCommand()))
				return
			case CmdClearFault:
				lastCmd = clearFaultCommand()
				if err := wire.WriteFrame(port, encode(lastCmd)); err != nil {
					logf("serial write error clearing fault: %v", err)
					sink.CommDc()
				}
			}
		case res := <-readCh:
			if res.err != nil {
				logf("serial read error: %v", res.err)
				sink.CommDc()
				continue
			}
			for _, frame := range dec.Feed(res.data) {
				reply, err := wire.DecodeReply(frame)
				if err != nil {
					logf("bad reply frame: %v", err)
					continue
				}
				sink.Reply(reply)
			}
		case <-ticker.C:
			if err := wire.WriteFrame(port, encode(lastCmd)); err != nil {
				logf("serial heartbeat write error: %v", err)
				sink.CommDc()
			}
		}
	}
}

func encode(c wire.BiCommand) []byte {
	b, err := wire.EncodeCommand(c)
	if err != nil {
		// EncodeCommand only fails on programmer error (unsupported
		// field type); there is nothing a caller could do differently.
		panic(err)
	}
	return b
}

// awaitFirstDevice blocks until the first NewDeviceName command
// succeeds, matching the original's startup loop that refuses to do
// anything else until a device is configured.
func awaitFirstDevice(ctx context.Context, cmdCh <-chan Cmd, logf Logf) (io.ReadWriteCloser, bool) {
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case cmd := <-cmdCh:
			switch cmd.Kind {
			case CmdNewDeviceName:
				port, err := connect(cmd.DeviceName)
				if err != nil {
					logf("can't make initial connection to %s: %v", cmd.DeviceName, err)
					continue
				}
				return port, true
			case CmdShutdown:
				return nil, false
			}
		}
	}
}

type readResult struct {
	data []byte
	err  error
}

func readLoop(ctx context.Context, r io.Reader, out chan<- readResult) {
	buf := make([]byte, 256)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- readResult{data: data}:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case out <- readResult{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
