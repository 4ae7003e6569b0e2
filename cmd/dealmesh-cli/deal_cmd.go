package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runDealCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, dealUsage())
		return 1
	}

	switch args[0] {
	case "agree":
		return runDealAgree(args[1:], stdout, stderr)
	case "add-result":
		return runDealAddResult(args[1:], stdout, stderr)
	case "refund-timeout":
		return runDealTransition(args[1:], stderr, "market_refundTimeout", "deal refund-timeout")
	case "accept-results":
		return runDealTransition(args[1:], stderr, "market_acceptResults", "deal accept-results")
	case "reject-results":
		return runDealTransition(args[1:], stderr, "market_rejectResults", "deal reject-results")
	case "get":
		return runDealGet(args[1:], stderr, "market_getDeal")
	case "agreement":
		return runDealGet(args[1:], stderr, "market_getAgreement")
	case "result":
		return runDealGet(args[1:], stderr, "market_getResult")
	case "events":
		return runDealEvents(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "Unknown deal subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, dealUsage())
		return 1
	}
}

func dealUsage() string {
	return `Usage: dealmesh-cli deal <subcommand>

Subcommands:
  agree           Agree to deal terms as one of the two parties
  add-result      Submit results for an agreed deal (resource provider)
  refund-timeout  Reclaim job collateral after a timeout (job creator)
  accept-results  Accept submitted results
  reject-results  Reject submitted results
  get             Fetch a deal record by id
  agreement       Fetch the consent record for a deal
  result          Fetch the submitted result for a deal
  events          List journalled deal events`
}

func newDealFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printDealError(stderr io.Writer, msg string) int {
	fmt.Fprintln(stderr, "Error:", msg)
	return 1
}

func runDealAgree(args []string, stdout, stderr io.Writer) int {
	fs := newDealFlagSet("deal agree", stderr)
	var (
		id                string
		provider          string
		creator           string
		caller            string
		instructionPrice  string
		timeout           int64
		timeoutCollateral string
		jobCollateral     string
		resultsCollateral string
	)
	fs.StringVar(&id, "id", "", "deal id as a 0x-prefixed 32-byte hex string")
	fs.StringVar(&provider, "resource-provider", "", "resource provider bech32 address")
	fs.StringVar(&creator, "job-creator", "", "job creator bech32 address")
	fs.StringVar(&caller, "caller", "", "agreeing party bech32 address")
	fs.StringVar(&instructionPrice, "instruction-price", "0", "price per instruction in MESH")
	fs.Int64Var(&timeout, "timeout", 0, "deal timeout in seconds")
	fs.StringVar(&timeoutCollateral, "timeout-collateral", "0", "resource provider timeout collateral in MESH")
	fs.StringVar(&jobCollateral, "job-collateral", "0", "job creator collateral in MESH")
	fs.StringVar(&resultsCollateral, "results-collateral", "0", "resource provider results collateral in MESH")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateDealID(id); err != nil {
		return printDealError(stderr, err.Error())
	}
	if provider == "" {
		return printDealError(stderr, "--resource-provider is required")
	}
	if creator == "" {
		return printDealError(stderr, "--job-creator is required")
	}
	if caller == "" {
		return printDealError(stderr, "--caller is required")
	}
	if timeout <= 0 {
		return printDealError(stderr, "--timeout must be a positive number of seconds")
	}

	params := map[string]interface{}{
		"dealId":            id,
		"resourceProvider":  provider,
		"jobCreator":        creator,
		"caller":            caller,
		"instructionPrice":  instructionPrice,
		"timeout":           timeout,
		"timeoutCollateral": timeoutCollateral,
		"jobCollateral":     jobCollateral,
		"resultsCollateral": resultsCollateral,
	}
	result, rpcErr, err := callRPC("market_agree", params, true)
	return printRPCOutcome(result, rpcErr, err)
}

func runDealAddResult(args []string, stdout, stderr io.Writer) int {
	fs := newDealFlagSet("deal add-result", stderr)
	var (
		id               string
		resultsID        string
		instructionCount uint64
		caller           string
	)
	fs.StringVar(&id, "id", "", "deal id as a 0x-prefixed 32-byte hex string")
	fs.StringVar(&resultsID, "results-id", "", "results content id as a 0x-prefixed 32-byte hex string")
	fs.Uint64Var(&instructionCount, "instructions", 0, "number of instructions executed")
	fs.StringVar(&caller, "caller", "", "resource provider bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateDealID(id); err != nil {
		return printDealError(stderr, err.Error())
	}
	if err := validateDealID(resultsID); err != nil {
		return printDealError(stderr, strings.Replace(err.Error(), "--id", "--results-id", 1))
	}
	if caller == "" {
		return printDealError(stderr, "--caller is required")
	}

	params := map[string]interface{}{
		"dealId":           id,
		"resultsId":        resultsID,
		"instructionCount": instructionCount,
		"caller":           caller,
	}
	result, rpcErr, err := callRPC("market_addResult", params, true)
	return printRPCOutcome(result, rpcErr, err)
}

func runDealTransition(args []string, stderr io.Writer, method, name string) int {
	fs := newDealFlagSet(name, stderr)
	var (
		id     string
		caller string
	)
	fs.StringVar(&id, "id", "", "deal id as a 0x-prefixed 32-byte hex string")
	fs.StringVar(&caller, "caller", "", "calling party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateDealID(id); err != nil {
		return printDealError(stderr, err.Error())
	}
	if caller == "" {
		return printDealError(stderr, "--caller is required")
	}

	result, rpcErr, err := callRPC(method, map[string]interface{}{"dealId": id, "caller": caller}, true)
	return printRPCOutcome(result, rpcErr, err)
}

func runDealGet(args []string, stderr io.Writer, method string) int {
	fs := newDealFlagSet("deal get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "deal id as a 0x-prefixed 32-byte hex string")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := validateDealID(id); err != nil {
		return printDealError(stderr, err.Error())
	}

	result, rpcErr, err := callRPC(method, map[string]interface{}{"dealId": id}, false)
	return printRPCOutcome(result, rpcErr, err)
}

func runDealEvents(args []string, stderr io.Writer) int {
	fs := newDealFlagSet("deal events", stderr)
	var (
		cursor int64
		limit  int
	)
	fs.Int64Var(&cursor, "cursor", 0, "return events with a sequence greater than this")
	fs.IntVar(&limit, "limit", 100, "maximum number of events to return")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	result, rpcErr, err := callRPC("market_listEvents", map[string]interface{}{"cursor": cursor, "limit": limit}, false)
	return printRPCOutcome(result, rpcErr, err)
}

func validateDealID(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("--id is required")
	}
	cleaned := trimmed
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		cleaned = trimmed[2:]
	} else {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if len(cleaned) != 64 {
		return fmt.Errorf("--id must be a 0x-prefixed 32-byte hex string")
	}
	if !isHex(cleaned) {
		return fmt.Errorf("--id must contain only hexadecimal characters")
	}
	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
