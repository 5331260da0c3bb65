package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"

	"tinybank/explorer"
	"tinybank/rpc"
)

var queryMethods = map[string]struct {
	method string
	args   int
}{
	"token":      {"tb_getTokenInfo", 0},
	"pool":       {"tb_getPool", 0},
	"quorum":     {"tb_getQuorum", 0},
	"height":     {"tb_getHeight", 0},
	"balance":    {"tb_getBalance", 1},
	"allowance":  {"tb_getAllowance", 2},
	"stake-info": {"tb_getStake", 1},
	"nonce":      {"tb_getNonce", 1},
}

func runQuery(command string, args []string, stdout, stderr io.Writer) int {
	if command == "events" {
		return runEvents(args, stdout, stderr)
	}
	spec := queryMethods[command]
	if len(args) != spec.args {
		fmt.Fprintf(stderr, "Error: %s expects %d argument(s)\n", command, spec.args)
		return 1
	}
	params := make([]interface{}, 0, len(args))
	for _, arg := range args {
		params = append(params, strings.TrimSpace(arg))
	}

	switch command {
	case "balance":
		var res rpc.BalanceResult
		if err := call(spec.method, params, false, &res); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Address: %s\n", res.Address)
		fmt.Fprintf(stdout, "  Balance: %s\n", res.Balance.Formatted)
		fmt.Fprintf(stdout, "  Nonce:   %d\n", res.Nonce)
	case "stake-info":
		var res rpc.StakeResult
		if err := call(spec.method, params, false, &res); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "Stake for %s at height %d\n", res.Address, res.Height)
		fmt.Fprintf(stdout, "  Principal:      %s\n", res.Principal.Formatted)
		fmt.Fprintf(stdout, "  Pending reward: %s\n", res.PendingReward.Formatted)
		fmt.Fprintf(stdout, "  Last accrual:   block %d\n", res.LastAccrualBlock)
	default:
		result, rpcErr, err := rpcCall(spec.method, params, false)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if rpcErr != nil {
			fmt.Fprintf(stderr, "Error from node: %s (code %d)\n", rpcErr.Message, rpcErr.Code)
			return 1
		}
		printJSONResult(stdout, result)
	}
	return 0
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	account := fs.String("account", "", "Only events mentioning this address")
	eventType := fs.String("type", "", "Only events of this type, e.g. staking.reward")
	from := fs.Uint64("from", 0, "First block")
	to := fs.Uint64("to", 0, "Last block")
	limit := fs.Int("limit", 50, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	filter := map[string]interface{}{
		"account":   *account,
		"type":      *eventType,
		"fromBlock": *from,
		"toBlock":   *to,
		"limit":     *limit,
	}
	var entries []explorer.Entry
	if err := call("tb_listEvents", []interface{}{filter}, false, &entries); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(stdout, "No events found")
		return 0
	}
	for _, entry := range entries {
		fmt.Fprintf(stdout, "#%d  %-22s %v\n", entry.BlockNumber, entry.Label, entry.Attributes)
	}
	return 0
}

func printJSONResult(w io.Writer, result json.RawMessage) {
	var pretty interface{}
	if err := json.Unmarshal(result, &pretty); err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	encoded, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Fprintln(w, string(result))
		return
	}
	fmt.Fprintln(w, string(encoded))
}
