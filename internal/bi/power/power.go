// Package power implements the battery interface's top-level control
// state machine: wait for a battery, bring up the sensor, run the
// measure/watchdog/reply loop, and fall back to a latched fault on any
// abnormal condition.
//
// It owns no transport; callers wire it to the command/reply channels
// that the serial tasks read and write.
package power

import (
	"context"
	"errors"
	"time"

	"battery-tester-go/internal/bi/daq"
	"battery-tester-go/internal/bi/pwmctrl"
	"battery-tester-go/internal/bi/sensor"
	"battery-tester-go/internal/wire"
)

// Timing constants, all taken from the original firmware's debounce and
// watchdog tuning.
const (
	BatteryDebounce    = 250 * time.Millisecond
	DAQInterval        = 100 * time.Millisecond
	ComTimeout         = 1250 * time.Millisecond
	FaultClearHoldTime = 1000 * time.Millisecond
)

// DigitalIn is a digital input exposed as both a synchronous level read
// and an edge stream (the level reported at the edge). Implementations
// are expected to buffer at least one pending edge; debouncing is done
// by this package's wait loops, not by the input.
type DigitalIn interface {
	Level() bool
	Edges() <-chan bool
}

// Machine bundles everything the state machine needs for one run.
type Machine struct {
	Sensor    *sensor.Device
	Battery   DigitalIn
	FaultBtn  DigitalIn
	PWM       *pwmctrl.Ctrl
	CmdCh     <-chan wire.BiCommand
	ReplyCh   chan<- wire.BIReply
}

// Run is the top-level loop: wait for the initial battery connection,
// bring up the sensor, run the control loop until it faults, latch the
// fault until cleared, then wait for a fresh connection and repeat.
func (m *Machine) Run(ctx context.Context) {
	waitBatReconnect(ctx, m.Battery, m.CmdCh, m.ReplyCh, BatteryDebounce)
	for ctx.Err() == nil {
		i2cInitLoop(ctx, m.Sensor, m.FaultBtn, m.CmdCh, m.ReplyCh)
		if ctx.Err() != nil {
			return
		}
		fk, faulted := powerCtrlLoop(ctx, m.Sensor, m.Battery, m.PWM, m.CmdCh, m.ReplyCh)
		if !faulted {
			return
		}
		m.PWM.SetCmd(pwmctrl.HeaterOff)
		fault := wire.Fault{Kind: fk, Time: uint64(daq.NowMs())}
		waitFaultClear(ctx, m.FaultBtn, fault, m.CmdCh, m.ReplyCh, FaultClearHoldTime)
		waitBatReconnect(ctx, m.Battery, m.CmdCh, m.ReplyCh, BatteryDebounce)
	}
}

func sendReply(ctx context.Context, ch chan<- wire.BIReply, r wire.BIReply) {
	select {
	case ch <- r:
	case <-ctx.Done():
	}
}

// okReply acknowledges a command with no measurement and no fault.
func okReply(ctx context.Context, ch chan<- wire.BIReply) {
	sendReply(ctx, ch, wire.BIReply{})
}

func faultReply(ctx context.Context, ch chan<- wire.BIReply, fault wire.Fault) {
	sendReply(ctx, ch, wire.BIReply{HasFault: true, Fault: fault})
}

// waitBatReconnect blocks until the battery input has gone from absent
// to present and stayed present for debounce. It requires an initial
// rising edge even if the input is already high, so a fault or reset
// always forces a physical disconnect/reconnect.
func waitBatReconnect(ctx context.Context, bat DigitalIn, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply, debounce time.Duration) {
	for {
		if !waitRisingEdge(ctx, bat, cmdCh, replyCh) {
			return
		}
		if debounceSustainedHigh(ctx, bat, cmdCh, replyCh, debounce) {
			return
		}
		// input went low before the debounce elapsed; wait for the next
		// rising edge.
	}
}

func waitRisingEdge(ctx context.Context, bat DigitalIn, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case lvl := <-bat.Edges():
			if lvl {
				return true
			}
		case <-cmdCh:
			okReply(ctx, replyCh)
		}
	}
}

// debounceSustainedHigh returns true once the input has stayed high for
// the full debounce window, false if it fell low first.
func debounceSustainedHigh(ctx context.Context, bat DigitalIn, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply, debounce time.Duration) bool {
	timer := time.NewTimer(debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case lvl := <-bat.Edges():
			if !lvl {
				return false
			}
		case <-cmdCh:
			okReply(ctx, replyCh)
		}
	}
}

// waitFaultClear latches a fault, replying Err(fault) to every command
// until ClearFault is requested, or until the fault-clear button is held
// for FaultClearHoldTime.
func waitFaultClear(ctx context.Context, btn DigitalIn, fault wire.Fault, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply, hold time.Duration) {
	for {
		if !waitButtonPress(ctx, btn, fault, cmdCh, replyCh) {
			return
		}
		if waitHeldOrCleared(ctx, btn, fault, cmdCh, replyCh, hold) {
			return
		}
		// button released before the hold time elapsed; go back to
		// waiting for another press.
	}
}

func waitButtonPress(ctx context.Context, btn DigitalIn, fault wire.Fault, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case cmd := <-cmdCh:
			if cmd.ClearFault == wire.ClearFaultYes {
				okReply(ctx, replyCh)
				return false // caller should stop; fault cleared via command
			}
			faultReply(ctx, replyCh, fault)
		case lvl := <-btn.Edges():
			if !lvl { // falling edge: button pressed (active low)
				return true
			}
		}
	}
}

// waitHeldOrCleared returns true if the fault was cleared (by hold or
// command) and the caller should stop; false if the button was released
// early and the outer loop should wait for another press.
func waitHeldOrCleared(ctx context.Context, btn DigitalIn, fault wire.Fault, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply, hold time.Duration) bool {
	timer := time.NewTimer(hold)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-timer.C:
			okReply(ctx, replyCh)
			return true
		case lvl := <-btn.Edges():
			if lvl { // released too soon
				return false
			}
		case cmd := <-cmdCh:
			if cmd.ClearFault == wire.ClearFaultYes {
				okReply(ctx, replyCh)
				return true
			}
			faultReply(ctx, replyCh, fault)
		}
	}
}

func i2cInitLoop(ctx context.Context, dev *sensor.Device, btn DigitalIn, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply) {
	for {
		if fault, err := initI2C(dev); err == nil {
			return
		} else {
			waitFaultClear(ctx, btn, fault, cmdCh, replyCh, FaultClearHoldTime)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func initI2C(dev *sensor.Device) (wire.Fault, error) {
	// 4-sample average * 4.156ms conversion time * 2 (current + voltage)
	// ~= 33ms per measurement.
	cfg := sensor.Config{
		Averaging: sensor.Avg4,
		Mode:      sensor.ModeSCBVC,
		ShuntConv: sensor.ConvTimeMS4_156,
		BusConv:   sensor.ConvTimeMS4_156,
	}
	if err := dev.Configure(cfg); err != nil {
		return wire.Fault{Kind: faultFromBusErr(err), Time: uint64(daq.NowMs())}, err
	}
	// Die ID is read and logged only; no control-flow depends on it.
	if _, _, err := dev.DieID(); err != nil {
		return wire.Fault{Kind: faultFromBusErr(err), Time: uint64(daq.NowMs())}, err
	}
	return wire.Fault{}, nil
}

func faultFromBusErr(err error) wire.FaultKind {
	var be *sensor.BusError
	op := wire.I2COpConfig
	if errors.As(err, &be) {
		op = be.Op
	}
	return wire.FaultKind{Tag: wire.FaultI2C, I2CKind: wire.I2CError{Op: op, Kind: wire.TiwmUnknown}}
}

// powerCtrlLoop runs the measure/command/watchdog loop. It returns
// (fault, true) if a fault condition ended the loop, or (_, false) if
// the context was cancelled.
func powerCtrlLoop(ctx context.Context, dev *sensor.Device, bat DigitalIn, pwm *pwmctrl.Ctrl, cmdCh <-chan wire.BiCommand, replyCh chan<- wire.BIReply) (wire.FaultKind, bool) {
	for {
		var (
			q                 daq.Queue
			pending           *wire.Measurement
			allowUndercurrent bool
		)
		comTimeout := time.NewTicker(ComTimeout)
		daqTicker := time.NewTicker(DAQInterval)

		reset := false
		var faultKind wire.FaultKind
		faulted := false

	inner:
		for {
			select {
			case <-ctx.Done():
				break inner
			case <-daqTicker.C:
				m, fk, didFault := doDaq(dev, bat, pwm, &q, allowUndercurrent)
				if didFault {
					faultKind = fk
					faulted = true
					break inner
				}
				if m != nil {
					pending = m
				}
			case cmd := <-cmdCh:
				switch cmd.Load {
				case wire.LoadOn:
					pwm.SetCmd(pwmctrl.HeaterOn)
				default:
					pwm.SetCmd(pwmctrl.HeaterOff)
				}
				reply := wire.BIReply{}
				if pending != nil {
					reply.HasMeasurement = true
					reply.Measurement = *pending
					pending = nil
				}
				sendReply(ctx, replyCh, reply)
				if cmd.Reset == wire.ResetYes {
					pwm.SetCmd(pwmctrl.HeaterOff)
					reset = true
					break inner
				}
				allowUndercurrent = cmd.AllowUndercurrent == wire.AllowUndercurrentYes
				comTimeout.Reset(ComTimeout)
			case <-comTimeout.C:
				// Lost comms. The BI never raises its own fault for
				// this; the host infers a comm disconnect itself from
				// its own serial read/write errors.
				pwm.SetCmd(pwmctrl.HeaterOff)
			}
		}

		comTimeout.Stop()
		daqTicker.Stop()

		if faulted {
			return faultKind, true
		}
		if ctx.Err() != nil {
			return wire.FaultKind{}, false
		}
		if reset {
			waitBatReconnect(ctx, bat, cmdCh, replyCh, BatteryDebounce)
			if ctx.Err() != nil {
				return wire.FaultKind{}, false
			}
			continue
		}
	}
}

func doDaq(dev *sensor.Device, bat DigitalIn, pwm *pwmctrl.Ctrl, q *daq.Queue, allowUndercurrent bool) (*wire.Measurement, wire.FaultKind, bool) {
	if !bat.Level() {
		return nil, wire.FaultKind{Tag: wire.FaultNoBattery}, true
	}

	ibat, err := dev.ReadCurrent()
	if err != nil {
		return nil, faultFromBusErr(err), true
	}

	if !bat.Level() {
		return nil, wire.FaultKind{Tag: wire.FaultNoBattery}, true
	}

	vbat, err := dev.ReadVoltage()
	if err != nil {
		return nil, faultFromBusErr(err), true
	}

	if tag, didFault := pwm.Watchdog(vbat, ibat, allowUndercurrent); didFault {
		return nil, wire.FaultKind{Tag: tag}, true
	}

	if m, ok := q.Push(daq.NowMs(), ibat, vbat); ok {
		return &m, wire.FaultKind{}, false
	}
	return nil, wire.FaultKind{}, false
}
