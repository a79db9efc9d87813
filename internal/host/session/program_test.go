package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"battery-tester-go/internal/host/filestore"
	"battery-tester-go/internal/host/ipc"
	"battery-tester-go/internal/host/printer"
	"battery-tester-go/internal/host/serialport"
	"battery-tester-go/internal/wire"
)

type harness struct {
	prog      *Program
	fileCmds  chan filestore.Cmd
	comCmds   chan serialport.Cmd
	printMsgs chan printer.Msg
	cancelled chan struct{}
}

func newHarness(t *testing.T, dir string) *harness {
	t.Helper()
	fileCmds := make(chan filestore.Cmd, 8)
	comCmds := make(chan serialport.Cmd, 8)
	printMsgs := make(chan printer.Msg, 16)
	events := make(chan Event, 8)
	cancelled := make(chan struct{})
	cancel := func() { close(cancelled) }
	prog := NewProgram(printer.New(printMsgs), events, fileCmds, comCmds, dir, cancel)
	return &harness{prog: prog, fileCmds: fileCmds, comCmds: comCmds, printMsgs: printMsgs, cancelled: cancelled}
}

func (h *harness) run(ctx context.Context) chan struct{} {
	done := make(chan struct{})
	go func() {
		h.prog.Run(ctx)
		close(done)
	}()
	return done
}

func drainCom(t *testing.T, ch <-chan serialport.Cmd, timeout time.Duration) serialport.Cmd {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(timeout):
		t.Fatal("timed out waiting for serial command")
		return serialport.Cmd{}
	}
}

func TestSetupWaitsForConfigThenMovesOn(t *testing.T) {
	h := newHarness(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.run(ctx)

	drainCom(t, h.comCmds, time.Second) // idle command on entry

	h.prog.BattID(ipc.BatteryID{Year: 2026, Index: 3})
	h.prog.SetCutoff(9000)
	h.prog.SetSerialDevice("/dev/ttyACM0")
	drainCom(t, h.comCmds, time.Second) // NewDeviceName command
	h.prog.Reply(wire.BIReply{})

	// allow the loop to settle into WaitForBattery and send volts_command
	drainCom(t, h.comCmds, time.Second)
}

func TestTestingEndsWhenBatteryDropsBelowCutoff(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.run(ctx)

	drainCom(t, h.comCmds, time.Second) // idle on setup entry

	h.prog.BattID(ipc.BatteryID{Year: 2026, Index: 1})
	h.prog.SetCutoff(9000)
	h.prog.SetSerialDevice("/dev/ttyACM0")
	drainCom(t, h.comCmds, time.Second) // NewDeviceName
	h.prog.Reply(wire.BIReply{})

	drainCom(t, h.comCmds, time.Second) // volts_command in wait_for_battery
	h.prog.Reply(wire.BIReply{HasMeasurement: true, Measurement: wire.Measurement{VBat: 9500}})

	h.prog.StartTest()
	drainCom(t, h.comCmds, time.Second) // testing_command

	select {
	case cmd := <-h.fileCmds:
		if cmd.Kind != filestore.CmdNewFile {
			t.Fatalf("expected NewFile command, got %v", cmd.Kind)
		}
		if cmd.File == nil {
			t.Fatal("expected NewFile command to carry an opened file")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for NewFile command")
	}

	h.prog.Reply(wire.BIReply{HasMeasurement: true, Measurement: wire.Measurement{VBat: 9200, IBat: 100, T: 1000}})
	select {
	case cmd := <-h.fileCmds:
		if cmd.Kind != filestore.CmdPush {
			t.Fatalf("expected Push command, got %v", cmd.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for push")
	}

	h.prog.Reply(wire.BIReply{HasMeasurement: true, Measurement: wire.Measurement{VBat: 8000}})
	drainCom(t, h.comCmds, time.Second) // end_test_command (Reset::Yes)

	select {
	case cmd := <-h.fileCmds:
		if cmd.Kind != filestore.CmdClose {
			t.Fatalf("expected Close command, got %v", cmd.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one output file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".tsv" {
		t.Fatalf("unexpected output file name %q", entries[0].Name())
	}
}

func TestShutdownStopsLoopAndCancels(t *testing.T) {
	h := newHarness(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := h.run(ctx)

	drainCom(t, h.comCmds, time.Second) // idle on setup entry
	h.prog.Shutdown()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
	select {
	case <-h.cancelled:
	default:
		t.Fatal("expected cancel to have been called")
	}
}
