package session

import "battery-tester-go/internal/wire"

// EventKind tags an Event, standing in for the original's Event enum
// variants.
type EventKind uint8

const (
	EventBattID EventKind = iota
	EventSetSerialDevice
	EventSetCutoff
	EventStartTest
	EventCommDc
	EventComReply
	EventCancelTest
	EventShutdown
	EventFileError
	EventClearFault
	EventUnderCurrentResponse
)

// Event is one input to the session state machine, produced either by
// the IPC command surface or by the serial/file tasks reporting back.
type Event struct {
	Kind              EventKind
	BatteryID         BatteryID
	SerialDevice      string
	CutoffMillivolts  wire.MilliVolt
	Reply             wire.BIReply
	FileErr           error
	AllowUndercurrent bool
}

func BattIDEvent(id BatteryID) Event { return Event{Kind: EventBattID, BatteryID: id} }
func SetSerialDeviceEvent(dev string) Event {
	return Event{Kind: EventSetSerialDevice, SerialDevice: dev}
}
func SetCutoffEvent(mv wire.MilliVolt) Event {
	return Event{Kind: EventSetCutoff, CutoffMillivolts: mv}
}
func StartTestEvent() Event  { return Event{Kind: EventStartTest} }
func CommDcEvent() Event     { return Event{Kind: EventCommDc} }
func ComReplyEvent(r wire.BIReply) Event {
	return Event{Kind: EventComReply, Reply: r}
}
func CancelTestEvent() Event { return Event{Kind: EventCancelTest} }
func ShutdownEvent() Event   { return Event{Kind: EventShutdown} }
func FileErrorEvent(err error) Event {
	return Event{Kind: EventFileError, FileErr: err}
}
func ClearFaultEvent() Event { return Event{Kind: EventClearFault} }
func UnderCurrentResponseEvent(allow bool) Event {
	return Event{Kind: EventUnderCurrentResponse, AllowUndercurrent: allow}
}
