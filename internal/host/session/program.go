package session

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"battery-tester-go/internal/host/filestore"
	"battery-tester-go/internal/host/ipc"
	"battery-tester-go/internal/host/printer"
	"battery-tester-go/internal/host/serialport"
	"battery-tester-go/internal/wire"
)

// Program is the session task: the sole reader of events and the sole
// writer of commands to the serial and file tasks. It implements
// ipc.Sink and serialport.EventSink, translating both into Events on
// its own queue so every external input funnels through one loop.
type Program struct {
	printer   printer.Printer
	events    chan Event
	fileCmds  chan<- filestore.Cmd
	comCmds   chan<- serialport.Cmd
	outputDir string
	cancel    context.CancelFunc

	state TestState
	batch uint64 // DAQ batches pushed in the current test; DurationMs is always filestore.BatchDurationMillis
}

// NewProgram builds a Program. events must be owned exclusively by the
// caller's Run goroutine; cancel stops the sibling tasks (serial, file,
// ipc, printer) once the session reaches ModeShutdown.
func NewProgram(pr printer.Printer, events chan Event, fileCmds chan<- filestore.Cmd, comCmds chan<- serialport.Cmd, outputDir string, cancel context.CancelFunc) *Program {
	return &Program{
		printer:   pr,
		events:    events,
		fileCmds:  fileCmds,
		comCmds:   comCmds,
		outputDir: outputDir,
		cancel:    cancel,
	}
}

// --- ipc.Sink ---

func (p *Program) BattID(id ipc.BatteryID) {
	p.send(BattIDEvent(BatteryID{Year: id.Year, Index: id.Index}))
}
func (p *Program) SetSerialDevice(dev string)      { p.send(SetSerialDeviceEvent(dev)) }
func (p *Program) SetCutoff(mv wire.MilliVolt)     { p.send(SetCutoffEvent(mv)) }
func (p *Program) StartTest()                      { p.send(StartTestEvent()) }
func (p *Program) CancelTest()                     { p.send(CancelTestEvent()) }
func (p *Program) Shutdown()                       { p.send(ShutdownEvent()) }
func (p *Program) ClearFault()                      { p.send(ClearFaultEvent()) }
func (p *Program) UnderCurrentResponse(allow bool) { p.send(UnderCurrentResponseEvent(allow)) }

// --- serialport.EventSink ---

func (p *Program) CommDc()             { p.send(CommDcEvent()) }
func (p *Program) Reply(r wire.BIReply) { p.send(ComReplyEvent(r)) }

// FileError forwards a file-task error onto the event queue; callers
// wire filestore.Run's error channel to this.
func (p *Program) FileError(err error) { p.send(FileErrorEvent(err)) }

func (p *Program) send(ev Event) { p.events <- ev }

func (p *Program) sendCommand(cmd wire.BiCommand) { p.comCmds <- serialport.BICommandCmd(cmd) }

// Run drives the state machine to completion (ModeShutdown). It owns
// p.events exclusively; callers must not read from it concurrently.
func (p *Program) Run(ctx context.Context) {
	mode := ModeSetup
	for {
		switch mode {
		case ModeSetup:
			mode = p.setup(ctx)
		case ModeWaitForBattery:
			mode = p.waitForBattery(ctx)
		case ModeWaitForUsrStart:
			mode = p.waitForUsrStart(ctx)
		case ModeTesting:
			mode = p.testing(ctx)
		case ModeEndTest:
			mode = p.endTest(ctx)
		case ModeFault:
			mode = p.fault(ctx)
		case ModeCommDC:
			mode = p.commDC(ctx)
		case ModeShutdown:
			p.shutdown(ctx)
			return
		}
	}
}

func (p *Program) next(ctx context.Context) (Event, bool) {
	select {
	case <-ctx.Done():
		return Event{}, false
	case ev := <-p.events:
		return ev, true
	}
}

func (p *Program) setup(ctx context.Context) Mode {
	p.sendCommand(idleCommand())
	for {
		ev, ok := p.next(ctx)
		if !ok {
			return ModeShutdown
		}
		switch ev.Kind {
		case EventBattID:
			p.state.NewBattID(ev.BatteryID)
		case EventSetSerialDevice:
			p.state.NewDeviceName(ev.SerialDevice)
			p.state.UnsetFirstReply()
			p.comCmds <- serialport.NewDeviceNameCmd(ev.SerialDevice)
		case EventSetCutoff:
			p.state.NewCutoff(ev.CutoffMillivolts)
		case EventComReply:
			p.state.SetFirstReply()
		case EventCommDc:
			p.printer.Stat("comm lost while configuring device")
		case EventShutdown:
			return ModeShutdown
		}
		if p.state.ReadyForBattery() {
			return ModeWaitForBattery
		}
	}
}

func (p *Program) waitForBattery(ctx context.Context) Mode {
	p.sendCommand(voltsCommand())
	for {
		ev, ok := p.next(ctx)
		if !ok {
			return ModeShutdown
		}
		switch ev.Kind {
		case EventComReply:
			if ev.Reply.HasFault {
				return ModeFault
			}
			if ev.Reply.HasMeasurement && ev.Reply.Measurement.VBat > p.state.Cutoff() {
				return ModeWaitForUsrStart
			}
		case EventCommDc:
			return ModeCommDC
		case EventSetSerialDevice:
			p.state.NewDeviceName(ev.SerialDevice)
			p.state.UnsetFirstReply()
			p.comCmds <- serialport.NewDeviceNameCmd(ev.SerialDevice)
			return ModeSetup
		case EventSetCutoff:
			p.state.NewCutoff(ev.CutoffMillivolts)
		case EventCancelTest:
			return ModeEndTest
		case EventShutdown:
			return ModeShutdown
		}
	}
}

func (p *Program) waitForUsrStart(ctx context.Context) Mode {
	for {
		ev, ok := p.next(ctx)
		if !ok {
			return ModeShutdown
		}
		switch ev.Kind {
		case EventComReply:
			if ev.Reply.HasFault {
				return ModeFault
			}
			if ev.Reply.HasMeasurement && ev.Reply.Measurement.VBat <= p.state.Cutoff() {
				return ModeWaitForBattery
			}
		case EventCommDc:
			return ModeCommDC
		case EventStartTest:
			if mode, ok := p.beginTest(); !ok {
				return mode
			}
			return ModeTesting
		case EventUnderCurrentResponse:
			p.state.SetAllowUndercurrent(ev.AllowUndercurrent)
		case EventCancelTest:
			return ModeEndTest
		case EventShutdown:
			return ModeShutdown
		}
	}
}

// beginTest opens the output file for the battery under test. On
// failure it reports the mode waitForUsrStart should fall through to
// (EndTest, with the error already printed) and returns ok=false;
// on success it queues the file for the file task and returns ok=true.
func (p *Program) beginTest() (Mode, bool) {
	name := p.fileName()
	path := filepath.Join(p.outputDir, name)
	f, err := filestore.CreateNewFile(path)
	if err != nil {
		p.printer.Linef("could not open output file %s: %v", path, err)
		return ModeEndTest, false
	}
	p.fileCmds <- filestore.NewFileCmd(f)
	p.batch = 0
	p.sendCommand(testingCommand(p.state.GetAllowUndercurrent()))
	return ModeTesting, true
}

func (p *Program) fileName() string {
	id := p.state.BatteryID()
	stamp := time.Now().UTC().Format("20060102_15:04:05") + "UTC"
	if id == nil {
		return fmt.Sprintf("unknown-battery-%s.tsv", stamp)
	}
	return fmt.Sprintf("%d-%d-%s.tsv", id.Year, id.Index, stamp)
}

func (p *Program) testing(ctx context.Context) Mode {
	for {
		ev, ok := p.next(ctx)
		if !ok {
			return ModeShutdown
		}
		switch ev.Kind {
		case EventComReply:
			if ev.Reply.HasFault {
				return ModeFault
			}
			if !ev.Reply.HasMeasurement {
				continue
			}
			m := ev.Reply.Measurement
			if m.VBat > p.state.Cutoff() {
				p.batch++
				p.fileCmds <- filestore.PushCmd(filestore.SaveData{
					T:          m.T,
					DurationMs: filestore.BatchDurationMillis,
					VBat:       m.VBat,
					IBat:       m.IBat,
				})
				continue
			}
			return ModeEndTest
		case EventCommDc:
			return ModeCommDC
		case EventCancelTest:
			return ModeEndTest
		case EventFileError:
			p.printer.Linef("file error, ending test: %v", ev.FileErr)
			return ModeEndTest
		case EventUnderCurrentResponse:
			p.state.SetAllowUndercurrent(ev.AllowUndercurrent)
			p.sendCommand(testingCommand(p.state.GetAllowUndercurrent()))
		case EventShutdown:
			return ModeShutdown
		}
	}
}

func (p *Program) endTest(ctx context.Context) Mode {
	p.sendCommand(endTestCommand())
	p.fileCmds <- filestore.CloseCmd()
	p.state.EndTest()
	return ModeSetup
}

func (p *Program) commDC(ctx context.Context) Mode {
	p.printer.Stat("communication with battery interface lost")
	p.fileCmds <- filestore.CloseCmd()
	p.state.EndTest()
	return ModeSetup
}

func (p *Program) fault(ctx context.Context) Mode {
	p.sendCommand(idleCommand())
	for {
		ev, ok := p.next(ctx)
		if !ok {
			return ModeShutdown
		}
		switch ev.Kind {
		case EventSetSerialDevice:
			p.state.NewDeviceName(ev.SerialDevice)
			p.comCmds <- serialport.NewDeviceNameCmd(ev.SerialDevice)
		case EventSetCutoff:
			p.state.NewCutoff(ev.CutoffMillivolts)
		case EventClearFault:
			p.comCmds <- serialport.ClearFaultCmd()
		case EventComReply:
			if !ev.Reply.HasFault {
				return ModeSetup
			}
		case EventCommDc:
			return ModeSetup
		case EventShutdown:
			return ModeShutdown
		}
	}
}

func (p *Program) shutdown(ctx context.Context) {
	p.sendCommand(idleCommand())
	p.fileCmds <- filestore.CloseCmd()
	p.fileCmds <- filestore.ShutdownCmd()
	p.comCmds <- serialport.ShutdownCmd()
	p.printer.Shutdown()
	if p.cancel != nil {
		p.cancel()
	}
}
