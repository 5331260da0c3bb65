package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	passphraseEnv = "TINYBANK_PASSPHRASE"
	rpcTokenEnv   = "TINYBANK_RPC_TOKEN"
)

var rpcEndpoint = defaultRPCEndpoint() // Overridden via TINYBANK_RPC_URL or --rpc
var rpcAuthToken = os.Getenv(rpcTokenEnv)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	command, rest := args[0], args[1:]
	switch command {
	case "keygen":
		return runKeygen(rest, stdout, stderr)
	case "address":
		return runAddress(rest, stdout, stderr)
	case "token", "balance", "allowance", "stake-info", "pool", "quorum", "nonce", "height", "events":
		return runQuery(command, rest, stdout, stderr)
	case "transfer", "approve", "transfer-from", "mint", "set-minter",
		"stake", "withdraw", "set-reward", "confirm", "apply-reward", "cancel-reward":
		return runSend(command, rest, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", command)
		printUsage(stderr)
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("TINYBANK_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545/rpc"
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

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Usage: tinybank-cli [--rpc URL] <command> [arguments]

Keys:
  keygen <keystore>                      Create an encrypted keystore
  address <keystore>                     Print the address stored in a keystore

Queries:
  token | pool | quorum | height
  balance <address>
  allowance <owner> <spender>
  stake-info <address>
  nonce <address>
  events [--account A] [--type T] [--from N] [--to N] [--limit N]

Transactions (all take --keystore <path>; amounts are whole tokens, e.g. 0.5):
  transfer <to> <amount>
  approve <spender> <amount>
  transfer-from <owner> <to> <amount>
  mint <to> <amount>
  set-minter <address>
  stake <amount>
  withdraw <amount>
  set-reward <amount>
  confirm | apply-reward | cancel-reward

The keystore passphrase is read from ` + passphraseEnv + ` or prompted for.
Transaction submission sends ` + rpcTokenEnv + ` as a bearer token when set.`)
}
