// Package sensor drives the I2C current/voltage sense chip on the load
// path. It follows the two-phase register-access shape used across the
// firmware's other I2C sensor drivers: a Configure step that is safe to
// call repeatedly, and narrow Read* calls with no hidden retries so the
// caller's own control loop owns all timing decisions.
package sensor

import (
	"errors"

	"tinygo.org/x/drivers"

	"battery-tester-go/internal/wire"
)

// Address is the sensor's fixed I2C address: both address pins strapped
// to ground.
const Address = 0x40

// Register offsets on the sense chip.
const (
	regConfig  = 0x00
	regCurrent = 0x01
	regVoltage = 0x02
	regDieID   = 0xFF
)

// Averaging selects the number of ADC samples combined per conversion.
type Averaging uint16

const (
	Avg1  Averaging = 0
	Avg4  Averaging = 1
	Avg16 Averaging = 2
	Avg64 Averaging = 3
)

// ConvTime selects the per-sample conversion time. MS4_156 matches the
// 4.156ms datasheet figure the firmware's init sequence relies on.
type ConvTime uint16

const (
	ConvTimeMS1_1   ConvTime = 0b100
	ConvTimeMS4_156 ConvTime = 0b110
)

// OperMode selects which channels convert continuously.
type OperMode uint16

const (
	ModeShutdown OperMode = 0b000
	ModeSCBVC    OperMode = 0b111 // shunt + bus voltage, continuous
)

// Config mirrors the chip's averaging/mode/timing register fields.
type Config struct {
	Averaging Averaging
	Mode      OperMode
	ShuntConv ConvTime
	BusConv   ConvTime
}

// BusError reports which transaction failed and the bus controller's
// error classification, so callers can build a wire.I2CError without
// this package knowing about the wire format.
type BusError struct {
	Op  wire.I2COp
	Err error
}

func (e *BusError) Error() string { return "sensor: " + opString(e.Op) + ": " + e.Err.Error() }
func (e *BusError) Unwrap() error { return e.Err }

func opString(op wire.I2COp) string {
	switch op {
	case wire.I2COpCurrent:
		return "read current"
	case wire.I2COpVoltage:
		return "read voltage"
	case wire.I2COpConfig:
		return "write config"
	case wire.I2COpDieID:
		return "read die id"
	default:
		return "unknown"
	}
}

// ErrNotConfigured is returned by Read* before Configure has run.
var ErrNotConfigured = errors.New("sensor: not configured")

// Device wraps an I2C bus connection to the sense chip.
type Device struct {
	bus        drivers.I2C
	Address    uint16
	configured bool
}

// New creates a Device. The I2C bus must already be configured by the
// caller; New does not touch the device.
func New(bus drivers.I2C) *Device {
	return &Device{bus: bus, Address: Address}
}

func configWord(c Config) uint16 {
	return uint16(c.Mode) | uint16(c.ShuntConv)<<3 | uint16(c.BusConv)<<6 | uint16(c.Averaging)<<9
}

// Configure writes the averaging/mode/timing configuration register.
func (d *Device) Configure(c Config) error {
	word := configWord(c)
	buf := []byte{regConfig, byte(word >> 8), byte(word)}
	if err := d.bus.Tx(d.Address, buf, nil); err != nil {
		return &BusError{Op: wire.I2COpConfig, Err: err}
	}
	d.configured = true
	return nil
}

func (d *Device) readReg16(reg byte, op wire.I2COp) (uint16, error) {
	if !d.configured {
		return 0, ErrNotConfigured
	}
	var out [2]byte
	if err := d.bus.Tx(d.Address, []byte{reg}, out[:]); err != nil {
		return 0, &BusError{Op: op, Err: err}
	}
	return uint16(out[0])<<8 | uint16(out[1]), nil
}

// lsbMicro is the chip's 1.25 current/voltage LSB, scaled by 1000 so
// the raw register code multiplies out to millivolts/milliamps with an
// integer divide: raw * lsbMicro / lsbDiv == raw * 1.25.
const (
	lsbMicro = 1250
	lsbDiv   = 1000
)

// ReadCurrent returns the shunt current in milliamps. The register is a
// signed two's-complement code; ReadCurrent reports its magnitude since
// the control loop only compares current against unsigned thresholds.
func (d *Device) ReadCurrent() (wire.MilliAmp, error) {
	v, err := d.readReg16(regCurrent, wire.I2COpCurrent)
	if err != nil {
		return 0, err
	}
	raw := int32(int16(v))
	scaled := raw * lsbMicro / lsbDiv
	if scaled < 0 {
		scaled = -scaled
	}
	return wire.MilliAmp(scaled), nil
}

// ReadVoltage returns the bus voltage in millivolts.
func (d *Device) ReadVoltage() (wire.MilliVolt, error) {
	v, err := d.readReg16(regVoltage, wire.I2COpVoltage)
	if err != nil {
		return 0, err
	}
	scaled := int32(v) * lsbMicro / lsbDiv
	return wire.MilliVolt(scaled), nil
}

// DieID reads the chip identification register, split into the chip ID
// (upper 12 bits) and die revision (lower 4 bits). It is logged only; no
// control-flow decision depends on its value.
func (d *Device) DieID() (chipID, dieRev uint16, err error) {
	id, err := d.readReg16(regDieID, wire.I2COpDieID)
	if err != nil {
		return 0, 0, err
	}
	return id >> 4, id & 0b1111, nil
}
