package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	_ "github.com/heavydiag/cantp/pkg/can/simulator"
	_ "github.com/heavydiag/cantp/pkg/can/slcan"
	_ "github.com/heavydiag/cantp/pkg/can/socketcan"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: cantp <log|server|ping|bandwidth|send|vin|uds|j1939> [flags] [args]")
}

func main() {
	log.SetLevel(log.InfoLevel)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub, args := os.Args[1], os.Args[2:]
	var err error
	switch sub {
	case "log":
		err = cmdLog(args)
	case "server":
		err = cmdServer(args)
	case "ping":
		err = cmdPing(args)
	case "bandwidth":
		err = cmdBandwidth(args)
	case "send":
		err = cmdSend(args)
	case "vin":
		err = cmdVin(args)
	case "uds":
		err = cmdUDS(args)
	case "j1939":
		err = cmdJ1939(args)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
