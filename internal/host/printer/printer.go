// Package printer is the host's println! replacement: every other task
// sends text through a bounded channel instead of writing stdout
// directly, so output stays ordered and no task blocks on a slow
// terminal.
package printer

import (
	"bufio"
	"context"
	"fmt"
	"io"
)

// Msg is one line to print, or the sentinel that ends the task.
type Msg struct {
	text     string
	shutdown bool
}

func Static(s string) Msg       { return Msg{text: s} }
func Shutdown() Msg             { return Msg{shutdown: true} }
func Line(format string, a ...any) Msg { return Msg{text: fmt.Sprintf(format, a...)} }

// Printer is a cheap handle every task clones (by sharing the channel)
// to queue a line for the print task.
type Printer struct {
	ch chan<- Msg
}

// New wraps an already-created channel.
func New(ch chan<- Msg) Printer { return Printer{ch: ch} }

// Stat queues a line, blocking only if the print task's queue is full.
func (p Printer) Stat(s string) { p.ch <- Static(s) }

// Linef queues a formatted line.
func (p Printer) Linef(format string, a ...any) { p.ch <- Line(format, a...) }

// Shutdown queues the sentinel that ends the print task's loop.
func (p Printer) Shutdown() { p.ch <- Shutdown() }

// Run drains msgCh to w, one line per message, until it sees Shutdown
// or msgCh is closed.
func Run(ctx context.Context, msgCh <-chan Msg, w io.Writer) {
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgCh:
			if !ok || msg.shutdown {
				return
			}
			bw.WriteString(msg.text)
			bw.WriteByte('\n')
			bw.Flush()
		}
	}
}
