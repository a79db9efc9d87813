package session

import "battery-tester-go/internal/wire"

// idleCommand is sent whenever the heater should be off and the BI
// should make no other state change: setup, fault and shutdown send
// this.
func idleCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff}
}

// voltsCommand is identical to idleCommand; it exists as a separate
// name because wait-for-battery sends it for a different reason (it
// is reading open-circuit voltage, not idling after a fault).
func voltsCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff}
}

// endTestCommand asks the BI to reset back into AwaitReconnect so the
// operator must disconnect and reconnect the battery before the next
// test can start.
func endTestCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff, Reset: wire.ResetYes}
}

// testingCommand turns the heater on for the duration of the test,
// honoring the operator's undercurrent-fault choice.
func testingCommand(allow wire.AllowUndercurrent) wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOn, AllowUndercurrent: allow}
}

// clearFaultCommand acknowledges a latched fault; the BI clears the
// fault on this command alone, as it does on a held fault-clear button.
func clearFaultCommand() wire.BiCommand {
	return wire.BiCommand{Load: wire.LoadOff, ClearFault: wire.ClearFaultYes}
}
