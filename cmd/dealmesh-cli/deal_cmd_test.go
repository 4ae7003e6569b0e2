package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestValidateDealID(t *testing.T) {
	valid := "0x" + strings.Repeat("ab", 32)
	if err := validateDealID(valid); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	for _, bad := range []string{
		"",
		strings.Repeat("ab", 32),
		"0x" + strings.Repeat("ab", 16),
		"0x" + strings.Repeat("zz", 32),
	} {
		if err := validateDealID(bad); err == nil {
			t.Fatalf("id %q accepted", bad)
		}
	}
}

func TestApplyGlobalFlags(t *testing.T) {
	original := rpcEndpoint
	defer func() { rpcEndpoint = original }()

	args, err := applyGlobalFlags([]string{"--rpc", "http://example:9999", "deal", "get"})
	if err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if rpcEndpoint != "http://example:9999" {
		t.Fatalf("endpoint = %q", rpcEndpoint)
	}
	if len(args) != 2 || args[0] != "deal" {
		t.Fatalf("remaining args = %v", args)
	}

	if _, err := applyGlobalFlags([]string{"--rpc"}); err == nil {
		t.Fatal("missing --rpc value accepted")
	}
}

func TestDealCommandUsage(t *testing.T) {
	var stderr bytes.Buffer
	if code := runDealCommand(nil, &bytes.Buffer{}, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "agree") {
		t.Fatalf("usage missing subcommands: %s", stderr.String())
	}

	stderr.Reset()
	if code := runDealCommand([]string{"bogus"}, &bytes.Buffer{}, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
}

func TestDealAgreeValidation(t *testing.T) {
	var stderr bytes.Buffer
	code := runDealAgree([]string{"--id", "0x" + strings.Repeat("ab", 32)}, &bytes.Buffer{}, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "--resource-provider is required") {
		t.Fatalf("unexpected error output: %s", stderr.String())
	}
}
