package power

import (
	"context"
	"sync"
	"testing"
	"time"

	"battery-tester-go/internal/bi/pwmctrl"
	"battery-tester-go/internal/bi/sensor"
	"battery-tester-go/internal/wire"
)

// fakeI2C scripts fixed current/voltage register reads, matching the
// sense chip's registers (config, current, voltage, die id).
type fakeI2C struct {
	mu           sync.Mutex
	milliamps    uint16
	millivolts   uint16
	failCurrent  bool
	failVoltage  bool
}

func (f *fakeI2C) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(w) == 0 {
		return nil
	}
	switch w[0] {
	case 0x00: // config write
		return nil
	case 0x01: // current
		if f.failCurrent {
			return errFakeBus
		}
		r[0], r[1] = byte(f.milliamps>>8), byte(f.milliamps)
	case 0x02: // voltage
		if f.failVoltage {
			return errFakeBus
		}
		r[0], r[1] = byte(f.millivolts>>8), byte(f.millivolts)
	case 0xFF: // die id
		r[0], r[1] = 0x12, 0x30
	}
	return nil
}

var errFakeBus = errBus{}

type errBus struct{}

func (errBus) Error() string { return "fake bus error" }

// fakeDigitalIn is a DigitalIn whose level can be flipped by the test and
// whose Edges channel is fed manually.
type fakeDigitalIn struct {
	mu    sync.Mutex
	level bool
	edges chan bool
}

func newFakeDigitalIn(initial bool) *fakeDigitalIn {
	return &fakeDigitalIn{level: initial, edges: make(chan bool, 4)}
}

func (f *fakeDigitalIn) Level() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.level
}

func (f *fakeDigitalIn) set(lvl bool) {
	f.mu.Lock()
	f.level = lvl
	f.mu.Unlock()
	f.edges <- lvl
}

func (f *fakeDigitalIn) Edges() <-chan bool { return f.edges }

func newTestMachine(bus *fakeI2C, bat, btn *fakeDigitalIn) (*Machine, chan wire.BiCommand, chan wire.BIReply) {
	cmdCh := make(chan wire.BiCommand, 4)
	replyCh := make(chan wire.BIReply, 4)
	m := &Machine{
		Sensor:   sensor.New(bus),
		Battery:  bat,
		FaultBtn: btn,
		PWM:      pwmctrl.New(&noopHandle{}),
		CmdCh:    cmdCh,
		ReplyCh:  replyCh,
	}
	return m, cmdCh, replyCh
}

type noopHandle struct{}

func (*noopHandle) SetDuty(channel uint8, duty uint16) {}

func TestRunStartsInRunningStateAfterReconnect(t *testing.T) {
	bus := &fakeI2C{milliamps: 100, millivolts: 12000}
	bat := newFakeDigitalIn(false)
	btn := newFakeDigitalIn(true)
	m, cmdCh, replyCh := newTestMachine(bus, bat, btn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	bat.set(true) // rising edge
	time.Sleep(BatteryDebounce + 50*time.Millisecond)

	select {
	case cmdCh <- wire.BiCommand{Load: wire.LoadOff}:
	case <-time.After(time.Second):
		t.Fatal("power loop never accepted a command after reconnect")
	}

	select {
	case <-replyCh:
	case <-time.After(time.Second):
		t.Fatal("no reply to command")
	}
}

func TestRunFaultsOnNoBatteryDuringDaq(t *testing.T) {
	bus := &fakeI2C{milliamps: 0, millivolts: 0}
	bat := newFakeDigitalIn(false)
	btn := newFakeDigitalIn(true)
	m, cmdCh, replyCh := newTestMachine(bus, bat, btn)
	_ = cmdCh

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	bat.set(true)
	time.Sleep(BatteryDebounce + 50*time.Millisecond)
	bat.set(false) // battery yanked mid-run

	select {
	case r := <-replyCh:
		t.Fatalf("unexpected reply before any command: %+v", r)
	case <-time.After(DAQInterval + 200*time.Millisecond):
		// Fault latches silently (no command was sent, so no reply is
		// expected); clearing now should unblock the fault-wait loop.
	}

	select {
	case cmdCh <- wire.BiCommand{ClearFault: wire.ClearFaultYes}:
	case <-time.After(time.Second):
		t.Fatal("fault-clear command never accepted")
	}
	select {
	case r := <-replyCh:
		if r.HasFault {
			t.Fatalf("expected ok reply after clear, got fault %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply to clear-fault command")
	}
}
