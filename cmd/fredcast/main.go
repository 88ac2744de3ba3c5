package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const usage = `Usage: fredcast <command> [flags]

Commands:
  run       fetch FRED series, harmonize, store, and forecast every group
  analyze   forecast a wide CSV file offline
  serve     serve stored observations and predictions over HTTP
  export    write the predictions of a run to CSV or XLSX

Run "fredcast <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCmd(ctx, args)
	case "analyze":
		err = analyzeCmd(ctx, args)
	case "serve":
		err = serveCmd(ctx, args)
	case "export":
		err = exportCmd(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "fredcast:", err)
		os.Exit(1)
	}
}
