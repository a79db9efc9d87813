// Command bi is the battery interface firmware: it owns the sense chip,
// the heater PWM, the battery-present and fault-clear GPIOs, and the
// length-prefixed serial link to the host.
//
// Build/flash (TinyGo):
//
//	tinygo flash -target pico ./cmd/bi
package main

import (
	"context"
	"machine"
	"time"

	"tinygo.org/x/drivers"

	"github.com/jangala-dev/tinygo-uartx/uartx"

	"battery-tester-go/internal/bi/birlog"
	"battery-tester-go/internal/bi/power"
	"battery-tester-go/internal/bi/pwmctrl"
	"battery-tester-go/internal/bi/sensor"
	"battery-tester-go/internal/wire"
	"battery-tester-go/x/timex"
)

// servoHz is the heater PWM's servo frequency; pwmctrl.PWMMaxDuty is
// derived from the same figure.
const servoHz = 50

// biBaud matches the host's serialport.DefaultBaud.
const biBaud = 230400

// Pin assignments for the battery-interface board.
const (
	batteryPresentPin = machine.GP14
	faultClearPin     = machine.GP15
	heaterPWMPin      = machine.GP16
)

func main() {
	time.Sleep(2 * time.Second) // let the host's USB-serial enumerate first

	i2c := machine.I2C0
	i2c.Configure(machine.I2CConfig{
		Frequency: 400 * machine.KHz,
		SDA:       machine.I2C0_SDA_PIN,
		SCL:       machine.I2C0_SCL_PIN,
	})

	uart := uartx.UART0
	_ = uart.Configure(uartx.UARTConfig{BaudRate: biBaud})

	pwm := machine.PWM4
	pwm.Configure(machine.PWMConfig{Period: timex.PeriodFromHz(servoHz)})
	pwmCh, _ := pwm.Channel(heaterPWMPin)

	cmdCh := make(chan wire.BiCommand, 4)
	replyCh := make(chan wire.BIReply, 4)

	ctx := context.Background()

	m := &power.Machine{
		Sensor:   sensor.New(drivers.I2C(i2c)),
		Battery:  newDigitalIn(batteryPresentPin, machine.PinInputPulldown),
		FaultBtn: newDigitalIn(faultClearPin, machine.PinInputPullup),
		PWM:      pwmctrl.New(&pwmHandle{pwm: pwm, ch: pwmCh}),
		CmdCh:    cmdCh,
		ReplyCh:  replyCh,
	}
	go m.Run(ctx)

	go writeReplies(uart, replyCh)
	readCommands(uart, cmdCh)
}

// writeReplies serializes every reply the control loop produces
// straight onto the wire, one frame per reply.
func writeReplies(uart *uartx.UART, replyCh <-chan wire.BIReply) {
	for r := range replyCh {
		payload, err := wire.EncodeReply(r)
		if err != nil {
			birlog.Default.Println("[bi] encode reply failed")
			continue
		}
		if err := wire.WriteFrame(uart, payload); err != nil {
			birlog.Default.Println("[bi] write frame failed")
		}
	}
}

// readCommands blocks on the UART forever, decoding one BiCommand frame
// at a time and handing it to the control loop. There is no read
// timeout here: the control loop's comm-timeout ticker turns the heater
// off when commands stop, and it is the host's job to declare the link
// lost.
func readCommands(uart *uartx.UART, cmdCh chan<- wire.BiCommand) {
	scratch := make([]byte, 0, wire.MaxFrameLen)
	for {
		frame, err := wire.ReadFrame(uart, scratch)
		if err != nil {
			birlog.Default.Println("[bi] read frame failed")
			continue
		}
		cmd, err := wire.DecodeCommand(frame)
		if err != nil {
			birlog.Default.Println("[bi] decode command failed")
			continue
		}
		cmdCh <- cmd
	}
}

// pwmHandle adapts machine.PWM to pwmctrl.Handle.
type pwmHandle struct {
	pwm *machine.PWM
	ch  uint8
}

func (h *pwmHandle) SetDuty(channel uint8, duty uint16) {
	top := h.pwm.Top()
	h.pwm.Set(h.ch, uint32(duty)*top/pwmctrl.PWMMaxDuty)
}

// digitalIn drives power.DigitalIn from a machine.Pin with an edge
// interrupt; it mirrors gpioirq's ISR-to-channel hand-off (never block
// the interrupt handler).
type digitalIn struct {
	pin   machine.Pin
	edges chan bool
}

func newDigitalIn(pin machine.Pin, mode machine.PinMode) *digitalIn {
	pin.Configure(machine.PinConfig{Mode: mode})
	d := &digitalIn{pin: pin, edges: make(chan bool, 4)}
	pin.SetInterrupt(machine.PinRising|machine.PinFalling, func(machine.Pin) {
		level := d.pin.Get()
		select {
		case d.edges <- level:
		default:
		}
	})
	return d
}

func (d *digitalIn) Level() bool         { return d.pin.Get() }
func (d *digitalIn) Edges() <-chan bool  { return d.edges }
