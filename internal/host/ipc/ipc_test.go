package ipc

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"battery-tester-go/internal/wire"
)

type fakeSink struct {
	calls chan string
}

func (f *fakeSink) BattID(id BatteryID)         { f.calls <- "battid" }
func (f *fakeSink) SetSerialDevice(dev string)  { f.calls <- "device:" + dev }
func (f *fakeSink) SetCutoff(mv wire.MilliVolt) { f.calls <- "cutoff" }
func (f *fakeSink) StartTest()                  { f.calls <- "start" }
func (f *fakeSink) CancelTest()                 { f.calls <- "cancel" }
func (f *fakeSink) Shutdown()                   { f.calls <- "shutdown" }
func (f *fakeSink) ClearFault()                 { f.calls <- "clear" }
func (f *fakeSink) UnderCurrentResponse(allow bool) {
	if allow {
		f.calls <- "allow"
	} else {
		f.calls <- "disallow"
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cmd := ServerCmd{Kind: CmdSetCutoffMillis, CutoffMillivolts: 9500}
	b, err := encodeCmd(cmd)
	if err != nil {
		t.Fatal(err)
	}
	got, err := decodeCmd(b)
	if err != nil {
		t.Fatal(err)
	}
	if got != cmd {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, cmd)
	}
}

func TestRunDispatchesOneCommandPerConnection(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "test.sock")
	sink := &fakeSink{calls: make(chan string, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go Run(ctx, sock, sink, func(string, ...any) {})
	waitForSocket(t, sock)

	conn, err := net.Dial("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteCmd(conn, ServerCmd{Kind: CmdStartTest}); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case call := <-sink.calls:
		if call != "start" {
			t.Fatalf("expected start, got %s", call)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("unix", path); err == nil {
			conn.Close()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("socket never appeared")
}
