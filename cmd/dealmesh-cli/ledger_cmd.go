package main

import (
	"fmt"
	"io"
)

func runLedgerCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, ledgerUsage())
		return 1
	}

	switch args[0] {
	case "balance":
		return runLedgerBalance(args[1:], stderr)
	case "allowance":
		return runLedgerAllowance(args[1:], stderr)
	case "approve":
		return runLedgerApprove(args[1:], stderr)
	case "mint":
		return runLedgerMint(args[1:], stderr)
	default:
		fmt.Fprintf(stderr, "Unknown ledger subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, ledgerUsage())
		return 1
	}
}

func ledgerUsage() string {
	return `Usage: dealmesh-cli ledger <subcommand>

Subcommands:
  balance    Show the MESH balance of an address
  allowance  Show the escrow spend allowance granted by an owner
  approve    Grant a spender an allowance over the owner's MESH
  mint       Mint MESH to an address (operator only)`
}

func runLedgerBalance(args []string, stderr io.Writer) int {
	fs := newDealFlagSet("ledger balance", stderr)
	var address string
	fs.StringVar(&address, "address", "", "bech32 address to query")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if address == "" {
		return printDealError(stderr, "--address is required")
	}
	result, rpcErr, err := callRPC("ledger_getBalance", map[string]interface{}{"address": address}, false)
	return printRPCOutcome(result, rpcErr, err)
}

func runLedgerAllowance(args []string, stderr io.Writer) int {
	fs := newDealFlagSet("ledger allowance", stderr)
	var (
		owner   string
		spender string
	)
	fs.StringVar(&owner, "owner", "", "owner bech32 address")
	fs.StringVar(&spender, "spender", "", "spender bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if owner == "" {
		return printDealError(stderr, "--owner is required")
	}
	if spender == "" {
		return printDealError(stderr, "--spender is required")
	}
	result, rpcErr, err := callRPC("ledger_getAllowance", map[string]interface{}{"owner": owner, "spender": spender}, false)
	return printRPCOutcome(result, rpcErr, err)
}

func runLedgerApprove(args []string, stderr io.Writer) int {
	fs := newDealFlagSet("ledger approve", stderr)
	var (
		owner   string
		spender string
		amount  string
	)
	fs.StringVar(&owner, "owner", "", "owner bech32 address")
	fs.StringVar(&spender, "spender", "", "spender bech32 address")
	fs.StringVar(&amount, "amount", "", "allowance amount in MESH")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if owner == "" {
		return printDealError(stderr, "--owner is required")
	}
	if spender == "" {
		return printDealError(stderr, "--spender is required")
	}
	if amount == "" {
		return printDealError(stderr, "--amount is required")
	}
	params := map[string]interface{}{"owner": owner, "spender": spender, "amount": amount}
	result, rpcErr, err := callRPC("ledger_approve", params, true)
	return printRPCOutcome(result, rpcErr, err)
}

func runLedgerMint(args []string, stderr io.Writer) int {
	fs := newDealFlagSet("ledger mint", stderr)
	var (
		to     string
		amount string
	)
	fs.StringVar(&to, "to", "", "recipient bech32 address")
	fs.StringVar(&amount, "amount", "", "amount of MESH to mint")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if to == "" {
		return printDealError(stderr, "--to is required")
	}
	if amount == "" {
		return printDealError(stderr, "--amount is required")
	}
	result, rpcErr, err := callRPC("ledger_mint", map[string]interface{}{"to": to, "amount": amount}, true)
	return printRPCOutcome(result, rpcErr, err)
}
