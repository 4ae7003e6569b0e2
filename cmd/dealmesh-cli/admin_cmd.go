package main

import (
	"fmt"
	"io"
)

func runAdminCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}

	switch args[0] {
	case "pause":
		return runAdminToggle(args[1:], stderr, "admin_pause")
	case "resume":
		return runAdminToggle(args[1:], stderr, "admin_resume")
	default:
		fmt.Fprintf(stderr, "Unknown admin subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, adminUsage())
		return 1
	}
}

func adminUsage() string {
	return `Usage: dealmesh-cli admin <subcommand>

Subcommands:
  pause   Pause a native module (default: market)
  resume  Resume a paused native module`
}

func runAdminToggle(args []string, stderr io.Writer, method string) int {
	fs := newDealFlagSet("admin", stderr)
	var module string
	fs.StringVar(&module, "module", "market", "native module name")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if module == "" {
		return printDealError(stderr, "--module is required")
	}
	result, rpcErr, err := callRPC(method, map[string]interface{}{"module": module}, true)
	return printRPCOutcome(result, rpcErr, err)
}
