package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"dealmesh/crypto"
)

var rpcEndpoint = defaultRPCEndpoint() // Defaults to localhost, can be overridden via RPC_URL or --rpc flag
var rpcAuthToken = os.Getenv("DEALMESH_RPC_TOKEN")

func main() {
	args := os.Args[1:]
	var err error
	args, err = applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if len(args) < 1 {
		printUsage()
		return
	}

	switch args[0] {
	case "generate-key":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: Please provide an output key file.")
			os.Exit(1)
		}
		generateKey(args[1])
	case "deal":
		os.Exit(runDealCommand(args[1:], os.Stdout, os.Stderr))
	case "ledger":
		os.Exit(runLedgerCommand(args[1:], os.Stdout, os.Stderr))
	case "admin":
		os.Exit(runAdminCommand(args[1:], os.Stdout, os.Stderr))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: dealmesh-cli [--rpc <url>] <command> [args]

Commands:
  generate-key <file>     Generate a new keypair into an encrypted keystore file
  deal <subcommand>       Deal lifecycle operations (agree, add-result, ...)
  ledger <subcommand>     Token ledger operations (balance, approve, mint, ...)
  admin <subcommand>      Operator controls (pause, resume)

Environment:
  RPC_URL                 JSON-RPC endpoint (default http://localhost:8080)
  DEALMESH_RPC_TOKEN      Bearer token for mutating methods`)
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func generateKey(path string) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		fmt.Printf("Error generating key: %v\n", err)
		os.Exit(1)
	}
	pass := os.Getenv("DEALMESH_KEY_PASS")
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Printf("Error saving keystore: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("New key saved to %s\n", path)
	fmt.Printf("Address: %s\n", key.PubKey().Address().String())
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"id":     1,
		"method": method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	} else {
		payload["params"] = []interface{}{}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth {
		token := strings.TrimSpace(rpcAuthToken)
		if token == "" {
			return nil, nil, fmt.Errorf("DEALMESH_RPC_TOKEN must be set for this command")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response: %w", err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func printRPCOutcome(result json.RawMessage, rpcErr *rpcError, err error) int {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(os.Stderr, "RPC error %d: %s\n", rpcErr.Code, rpcErr.Message)
		if len(rpcErr.Data) > 0 {
			fmt.Fprintf(os.Stderr, "%s\n", rpcErr.Data)
		}
		return 1
	}
	var pretty bytes.Buffer
	if indentErr := json.Indent(&pretty, result, "", "  "); indentErr != nil {
		fmt.Println(string(result))
		return 0
	}
	fmt.Println(pretty.String())
	return 0
}
