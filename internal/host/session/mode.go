// Package session is the host's test-session state machine: one state
// function per Mode, each consuming events until it decides the next
// Mode, mirroring the original program task's explicit state loop
// rather than a generic FSM library.
package session

// Mode is the session's current state. There is deliberately no Paused
// mode: the original left it an unimplemented stub and nothing in this
// port reaches it.
type Mode uint8

const (
	ModeSetup Mode = iota
	ModeWaitForBattery
	ModeWaitForUsrStart
	ModeTesting
	ModeEndTest
	ModeCommDC
	ModeFault
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeSetup:
		return "setup"
	case ModeWaitForBattery:
		return "wait-for-battery"
	case ModeWaitForUsrStart:
		return "wait-for-usr-start"
	case ModeTesting:
		return "testing"
	case ModeEndTest:
		return "end-test"
	case ModeCommDC:
		return "comm-dc"
	case ModeFault:
		return "fault"
	case ModeShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}
