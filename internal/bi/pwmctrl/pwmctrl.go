// Package pwmctrl drives the heater switch and enforces the load
// watchdog: the heater is either fully off or fully on, never ramped,
// and every transition is checked against an expected-current envelope
// once the hardware has had time to react.
package pwmctrl

import (
	"time"

	"battery-tester-go/internal/wire"
	"battery-tester-go/x/mathx"
)

// Channel geometry. The driver runs at a fixed 1MHz clock and 50Hz
// (20ms) servo period; PWM_MAX_DUTY is the compare-value ceiling that
// corresponds to one full period.
const (
	pwmClockHz  = 1_000_000
	servoHz     = 50
	PWMMaxDuty  = pwmClockHz / servoHz // 20,000 counts = 20ms
	ZeroOutput  = 1500                // 1.5ms pulse: heater off
	OnOutput    = 2000                // 2.0ms pulse: heater on
	trimCounts  = 16                  // calibrated hardware trim, see Output
	periodMs    = 20
	hwReactMs   = 5
	SettleAfter = (periodMs + hwReactMs) * time.Millisecond // 25ms
)

// HeaterCmd is the commanded heater state.
type HeaterCmd uint8

const (
	HeaterOff HeaterCmd = iota
	HeaterOn
)

// Handle is the minimal PWM peripheral surface pwmctrl needs. A real
// build wires this to the microcontroller's PWM compare register; tests
// use a fake.
type Handle interface {
	SetDuty(channel uint8, duty uint16)
}

// Output computes the hardware compare value for a desired duty,
// subtracting the fixed trim from the period ceiling. The polarity is
// inverted in hardware, which is why this is a subtraction from the max
// rather than the duty itself.
func Output(setpoint uint16) uint16 {
	return PWMMaxDuty - (setpoint + trimCounts)
}

func dutyFor(cmd HeaterCmd) uint16 {
	if cmd == HeaterOn {
		return OnOutput
	}
	return ZeroOutput
}

// Ctrl owns the PWM handle, the last commanded state, and the time of
// the last Off<->On transition (used by Watchdog's settle window).
type Ctrl struct {
	handle     Handle
	cmd        HeaterCmd
	changeTime time.Time
}

// New configures the PWM channel to its idle (heater-off) output and
// returns a ready Ctrl.
func New(h Handle) *Ctrl {
	c := &Ctrl{handle: h, changeTime: time.Now()}
	h.SetDuty(0, Output(dutyFor(HeaterOff)))
	return c
}

// SetCmd drives the heater to the requested state. A transition between
// Off and On (in either direction) resets the watchdog settle window.
func (c *Ctrl) SetCmd(cmd HeaterCmd) {
	c.handle.SetDuty(0, Output(dutyFor(cmd)))
	if cmd != c.cmd {
		c.changeTime = time.Now()
	}
	c.cmd = cmd
}

// Cmd reports the last commanded heater state.
func (c *Ctrl) Cmd() HeaterCmd { return c.cmd }

// testMillivolts and empiricalMilliamp capture the test rig's nominal
// resistance as an integer ratio: a fixed 12V supply driving a heater
// rated for ~8.4A. Both original constants are kept (rather than
// pre-dividing) so the same truncating integer division the firmware
// relies on is reproduced exactly.
const (
	testMillivolts    = 12_000
	empiricalMilliamp = 8_400
	maxDeviation      = 200
)

// ExpectedCurrent returns the nominal heater current for a given battery
// voltage, using the same truncating integer division as the firmware's
// resistance constant (12000/8400 truncates to 1 ohm).
func ExpectedCurrent(vbat wire.MilliVolt) wire.MilliAmp {
	const r = testMillivolts / empiricalMilliamp
	return wire.MilliAmp(uint16(vbat) / r)
}

// CurrentRange classifies a measured current against the expected
// envelope for a heater commanded on.
type CurrentRange int

const (
	RangeOK CurrentRange = iota
	RangeHigh
	RangeLow
)

// CurrentInRange reports where ibat falls relative to ExpectedCurrent(vbat)
// +/- maxDeviation.
func CurrentInRange(vbat wire.MilliVolt, ibat wire.MilliAmp) CurrentRange {
	nom := uint16(ExpectedCurrent(vbat))
	lo := uint16(0)
	if nom > maxDeviation {
		lo = nom - maxDeviation
	}
	hi := nom + maxDeviation
	switch {
	case uint16(ibat) > hi:
		return RangeHigh
	case !mathx.Between(uint16(ibat), lo, hi):
		return RangeLow
	default:
		return RangeOK
	}
}

// overcurrentOffLimit is the ceiling current allowed while the heater is
// commanded off; anything above it means the switch itself is stuck on.
const overcurrentOffLimit = 100

// Watchdog checks the measured current against the commanded heater
// state. It is a no-op until SettleAfter has elapsed since the last
// transition, giving the PWM period and hardware reaction time to
// settle. allowUndercurrent suppresses only the low-side (undercurrent)
// fault; overcurrent is never suppressed.
func (c *Ctrl) Watchdog(vbat wire.MilliVolt, ibat wire.MilliAmp, allowUndercurrent bool) (wire.FaultTag, bool) {
	if time.Since(c.changeTime) <= SettleAfter {
		return 0, false
	}
	switch c.cmd {
	case HeaterOff:
		if uint16(ibat) > overcurrentOffLimit {
			return wire.FaultOvercurrent, true
		}
		return 0, false
	default: // HeaterOn
		switch CurrentInRange(vbat, ibat) {
		case RangeHigh:
			return wire.FaultOvercurrent, true
		case RangeLow:
			if allowUndercurrent {
				return 0, false
			}
			return wire.FaultUndercurrent, true
		default:
			return 0, false
		}
	}
}
