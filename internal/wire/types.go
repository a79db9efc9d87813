// Package wire defines the data exchanged between the battery interface
// (BI) firmware and the host, and the framing/codec used to move it over
// the serial link. Both sides of the link import this package so that a
// single definition governs the bytes on the wire.
package wire

// MilliAmp is a current reading in milliamps. It is a newtype over uint16
// so a raw integer can never be passed where a current is expected.
type MilliAmp uint16

// MilliVolt is a voltage reading in millivolts.
type MilliVolt uint16

// LoadState commands the heater switch.
type LoadState uint8

const (
	LoadOff LoadState = iota
	LoadOn
)

// Reset asks the BI to drop back into AwaitReconnect, forcing the
// operator to disconnect and reconnect the battery before testing again.
type Reset uint8

const (
	ResetNo Reset = iota
	ResetYes
)

// ClearFault acknowledges a latched fault.
type ClearFault uint8

const (
	ClearFaultNo ClearFault = iota
	ClearFaultYes
)

// AllowUndercurrent suppresses the low-side watchdog fault while the
// heater is on. It never suppresses the high-side (overcurrent) fault.
type AllowUndercurrent uint8

const (
	AllowUndercurrentNo AllowUndercurrent = iota
	AllowUndercurrentYes
)

// BiCommand is sent host -> BI once per tick (2Hz heartbeat, or
// immediately on a state change).
type BiCommand struct {
	_                 struct{} `cbor:",toarray"`
	Load              LoadState
	Reset             Reset
	ClearFault        ClearFault
	AllowUndercurrent AllowUndercurrent
}

// Measurement is one averaged batch of ten ADC samples.
type Measurement struct {
	_    struct{} `cbor:",toarray"`
	VBat MilliVolt
	IBat MilliAmp
	T    uint64 // ms, averaged batch timestamp
}

// FaultKind enumerates why the BI stopped the test. Exactly one of the
// fields is meaningful; Tag selects which.
type FaultKind struct {
	_       struct{} `cbor:",toarray"`
	Tag     FaultTag
	I2CKind I2CError // valid only when Tag == FaultI2C
}

type FaultTag uint8

const (
	FaultI2C FaultTag = iota
	FaultUndercurrent
	FaultNoBattery
	FaultOvercurrent
)

// I2CError identifies which I2C transaction failed and how.
type I2CError struct {
	_    struct{} `cbor:",toarray"`
	Op   I2COp
	Kind TiwmError
}

type I2COp uint8

const (
	I2COpCurrent I2COp = iota
	I2COpVoltage
	I2COpConfig
	I2COpDieID
)

// TiwmError mirrors the bus-controller error taxonomy the BI's I2C
// peripheral can report.
type TiwmError uint8

const (
	TiwmTxBufferTooLong TiwmError = iota
	TiwmRxBufferTooLong
	TiwmTransmit
	TiwmReceive
	TiwmRAMBufferTooSmall
	TiwmAddressNack
	TiwmDataNack
	TiwmOverrun
	TiwmTimeout
	TiwmUnknown
)

// Fault is a latched fault condition with the time it was first detected.
type Fault struct {
	_    struct{} `cbor:",toarray"`
	Kind FaultKind
	Time uint64
}

// BIReply is sent BI -> host once per received command, plus once per
// completed Measurement batch. HasMeasurement/HasFault discriminate the
// optional fields (cbor has no native Option; these flags stand in for
// Rust's Option<Measurement> and Result<(), Fault>).
type BIReply struct {
	_              struct{} `cbor:",toarray"`
	HasMeasurement bool
	Measurement    Measurement
	HasFault       bool
	Fault          Fault
}

// Ok reports whether the reply carries no fault.
func (r BIReply) Ok() bool { return !r.HasFault }
