// Command host is the battery-tester server: it owns the BI serial
// link, the session state machine, the output file and the local IPC
// socket that the tester CLI talks to. One instance per rig; run it as
//
//	battery-tester-host /path/to/output/dir
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"battery-tester-go/internal/host/filestore"
	"battery-tester-go/internal/host/ipc"
	"battery-tester-go/internal/host/printer"
	"battery-tester-go/internal/host/serialport"
	"battery-tester-go/internal/host/session"
	"battery-tester-go/x/strx"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: battery-tester-host <output-directory>")
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	outputDir := flag.Arg(0)
	if info, err := os.Stat(outputDir); err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "host: %s is not a directory\n", outputDir)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printCh := make(chan printer.Msg, 16)
	eventCh := make(chan session.Event, 8)
	fileCmdCh := make(chan filestore.Cmd, 8)
	comCmdCh := make(chan serialport.Cmd, 8)
	fileErrCh := make(chan filestore.FileError, 1)

	ctx, cancel := context.WithCancel(ctx)
	prog := session.NewProgram(printer.New(printCh), eventCh, fileCmdCh, comCmdCh, outputDir, cancel)

	logf := func(format string, args ...any) {
		printer.New(printCh).Linef(format, args...)
	}

	go printer.Run(ctx, printCh, os.Stdout)
	go filestore.Run(ctx, fileCmdCh, fileErrCh)
	go serialport.Run(ctx, comCmdCh, prog, logf)
	socketDir := strx.Coalesce(os.Getenv("BATTERY_TESTER_SOCKET_DIR"), "")
	go ipc.Run(ctx, ipc.SocketPath(socketDir), prog, logf)
	go forwardFileErrors(ctx, fileErrCh, prog)

	prog.Run(ctx)
}

func forwardFileErrors(ctx context.Context, errCh <-chan filestore.FileError, prog *session.Program) {
	for {
		select {
		case <-ctx.Done():
			return
		case fe := <-errCh:
			prog.FileError(fe.Err)
		}
	}
}
