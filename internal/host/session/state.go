package session

import "battery-tester-go/internal/wire"

// BatteryID identifies the battery under test: the year it was
// commissioned and an index within that year. Distinct from
// ipc.BatteryID, the wire-level twin the IPC client sends; Program
// converts between the two at the Sink boundary.
type BatteryID struct {
	Year  uint16
	Index uint8
}

// TestState is the session's accumulated configuration: which battery
// is under test, which serial device to use, the cutoff voltage, and
// whether the BI link has replied at least once. A battery is ready to
// test only once all three of battery ID, device name and a first
// reply are present.
type TestState struct {
	cutoff            wire.MilliVolt
	batteryID         *BatteryID
	deviceName        *string
	firstReply        bool
	allowUndercurrent wire.AllowUndercurrent
}

// NewCutoff records the operator-selected cutoff voltage.
func (s *TestState) NewCutoff(mv wire.MilliVolt) { s.cutoff = mv }

// NewBattID records the battery under test.
func (s *TestState) NewBattID(id BatteryID) { s.batteryID = &id }

// NewDeviceName records the serial device path.
func (s *TestState) NewDeviceName(name string) { s.deviceName = &name }

// SetFirstReply marks that the BI link has produced at least one reply
// since the device was last (re)configured.
func (s *TestState) SetFirstReply() { s.firstReply = true }

// UnsetFirstReply clears the first-reply flag, used when the device
// name changes and the link must prove itself again.
func (s *TestState) UnsetFirstReply() { s.firstReply = false }

// GotFirstReply reports whether the BI link has replied yet.
func (s *TestState) GotFirstReply() bool { return s.firstReply }

// Cutoff returns the current cutoff voltage.
func (s *TestState) Cutoff() wire.MilliVolt { return s.cutoff }

// BatteryID returns the battery under test, or nil if none is set.
func (s *TestState) BatteryID() *BatteryID { return s.batteryID }

// DeviceName returns the configured serial device, or nil if none.
func (s *TestState) DeviceName() *string { return s.deviceName }

// EndTest clears the per-battery fields so a new battery can be
// configured for the next run; the cutoff, device name and
// allow-undercurrent choice persist across tests.
func (s *TestState) EndTest() {
	s.batteryID = nil
	s.firstReply = false
}

// ReadyForBattery reports whether enough configuration is present to
// move out of setup and start watching the battery voltage.
func (s *TestState) ReadyForBattery() bool {
	return s.batteryID != nil && s.firstReply && s.deviceName != nil
}

// GetAllowUndercurrent returns the operator's undercurrent-fault choice.
func (s *TestState) GetAllowUndercurrent() wire.AllowUndercurrent { return s.allowUndercurrent }

// SetAllowUndercurrent records the operator's undercurrent-fault choice.
func (s *TestState) SetAllowUndercurrent(allow bool) {
	if allow {
		s.allowUndercurrent = wire.AllowUndercurrentYes
	} else {
		s.allowUndercurrent = wire.AllowUndercurrentNo
	}
}
