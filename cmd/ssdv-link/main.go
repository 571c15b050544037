package main

import (
	"fmt"
	"os"
)

// Helper implementations live in dedicated files: version.go, logger.go,
// mdns.go, monitor_init.go, metrics_logger.go, encode.go, decode.go,
// convert.go, send.go, recv.go.

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ssdv-link <encode|decode|convert|send|recv> [flags]")
	fmt.Fprintln(os.Stderr, "       ssdv-link --version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd == "--version" || cmd == "-version" {
		printVersion()
		return
	}

	var err error
	switch cmd {
	case "encode":
		err = runEncode(args)
	case "decode":
		err = runDecode(args)
	case "convert":
		err = runConvert(args)
	case "send":
		err = runSend(args)
	case "recv":
		err = runRecv(args)
	default:
		fmt.Fprintf(os.Stderr, "ssdv-link: unknown command %q\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ssdv-link: %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("ssdv-link %s (commit %s, built %s)\n", version, commit, date)
}
