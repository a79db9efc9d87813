// Package birlog is the battery interface firmware's logger: every
// message goes through the MCU-friendly fmtx formatter (no full fmt
// package pulled onto the binary) and is mirrored to a shared-memory
// ring the other core can drain, if one is attached.
package birlog

import (
	"battery-tester-go/x/fmtx"
	"battery-tester-go/x/shmring"

	"battery-tester-go/internal/wire"
)

// Logger writes to the console and, if SetRing has been called, a
// telemetry ring consumed by the other core.
type Logger struct {
	ring *shmring.Ring
}

// SetRing attaches the telemetry ring. Safe to call with nil to detach.
func (l *Logger) SetRing(r *shmring.Ring) { l.ring = r }

func (l *Logger) write(s string) {
	fmtx.Print(s)
	if l.ring != nil {
		l.ring.TryWriteFrom([]byte(s))
	}
}

// Printf formats and logs one line, newline-terminated.
func (l *Logger) Printf(format string, a ...any) {
	l.write(fmtx.Sprintf(format, a...) + "\n")
}

// Println logs a line with no formatting.
func (l *Logger) Println(s string) { l.write(s + "\n") }

// FaultTagName renders a wire.FaultTag as a short label.
func FaultTagName(tag wire.FaultTag) string {
	switch tag {
	case wire.FaultI2C:
		return "i2c"
	case wire.FaultUndercurrent:
		return "undercurrent"
	case wire.FaultNoBattery:
		return "no-battery"
	case wire.FaultOvercurrent:
		return "overcurrent"
	default:
		return "unknown"
	}
}

// Fault logs a latched fault with its timestamp and classification.
func (l *Logger) Fault(f wire.Fault) {
	l.Printf("[fault] %s t=%d", FaultTagName(f.Kind.Tag), f.Time)
}

// Measurement logs one averaged DAQ batch.
func (l *Logger) Measurement(m wire.Measurement) {
	l.Printf("[daq] vbat=%dmV ibat=%dmA t=%d", uint16(m.VBat), uint16(m.IBat), m.T)
}

// Default is the process-wide logger; cmd/bi uses it with no ring
// attached.
var Default Logger
