// Command tester is the operator's control surface for a running
// battery-tester host: one subcommand, one IPC command, one connection.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"battery-tester-go/internal/host/ipc"
	"battery-tester-go/internal/wire"
	"battery-tester-go/x/strx"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "tester:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError()
	}
	cmd, err := parse(args[0], args[1:])
	if err != nil {
		return err
	}
	socketDir := strx.Coalesce(os.Getenv("BATTERY_TESTER_SOCKET_DIR"), "")
	conn, err := net.Dial("unix", ipc.SocketPath(socketDir))
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}
	defer conn.Close()
	return ipc.WriteCmd(conn, cmd)
}

func usageError() error {
	return fmt.Errorf("usage: tester <id|device|cutoff|start|cancel|shutdown|clear|undercurrent> [args]")
}

func parse(sub string, rest []string) (ipc.ServerCmd, error) {
	switch sub {
	case "id":
		fs := flag.NewFlagSet("id", flag.ContinueOnError)
		year := fs.Uint("y", 0, "year the battery was commissioned")
		index := fs.Uint("i", 0, "index within that year")
		if err := fs.Parse(rest); err != nil {
			return ipc.ServerCmd{}, err
		}
		return ipc.ServerCmd{
			Kind:      ipc.CmdSetBatteryID,
			BatteryID: ipc.BatteryID{Year: uint16(*year), Index: uint8(*index)},
		}, nil

	case "device":
		if len(rest) != 1 {
			return ipc.ServerCmd{}, fmt.Errorf("usage: tester device <path>")
		}
		return ipc.ServerCmd{Kind: ipc.CmdSetSerialDev, SerialDev: rest[0]}, nil

	case "cutoff":
		if len(rest) != 1 {
			return ipc.ServerCmd{}, fmt.Errorf("usage: tester cutoff <millivolts>")
		}
		mv, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return ipc.ServerCmd{}, fmt.Errorf("bad cutoff millivolts: %w", err)
		}
		return ipc.ServerCmd{Kind: ipc.CmdSetCutoffMillis, CutoffMillivolts: wire.MilliVolt(mv)}, nil

	case "start":
		return ipc.ServerCmd{Kind: ipc.CmdStartTest}, nil

	case "cancel":
		return ipc.ServerCmd{Kind: ipc.CmdCancelTest}, nil

	case "shutdown":
		return ipc.ServerCmd{Kind: ipc.CmdShutDown}, nil

	case "clear":
		return ipc.ServerCmd{Kind: ipc.CmdClearFault}, nil

	case "undercurrent":
		fs := flag.NewFlagSet("undercurrent", flag.ContinueOnError)
		allow := fs.Bool("allow", false, "allow the undercurrent fault to be suppressed")
		fs.BoolVar(allow, "a", false, "shorthand for -allow")
		if err := fs.Parse(rest); err != nil {
			return ipc.ServerCmd{}, err
		}
		if *allow {
			return ipc.ServerCmd{Kind: ipc.CmdAllowUndercurrent}, nil
		}
		return ipc.ServerCmd{Kind: ipc.CmdDisallowUndercurrent}, nil

	default:
		return ipc.ServerCmd{}, usageError()
	}
}
