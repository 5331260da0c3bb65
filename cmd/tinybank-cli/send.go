package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"tinybank/core/types"
	"tinybank/crypto"
	"tinybank/native/token"
	"tinybank/rpc"
)

// txShape describes the positional arguments of a transaction command.
type txShape struct {
	txType types.TxType
	args   []string // "to", "owner" or "amount", in order
}

var txShapes = map[string]txShape{
	"transfer":      {types.TxTypeTransfer, []string{"to", "amount"}},
	"approve":       {types.TxTypeApprove, []string{"to", "amount"}},
	"transfer-from": {types.TxTypeTransferFrom, []string{"owner", "to", "amount"}},
	"mint":          {types.TxTypeMint, []string{"to", "amount"}},
	"set-minter":    {types.TxTypeSetMinter, []string{"to"}},
	"stake":         {types.TxTypeStake, []string{"amount"}},
	"withdraw":      {types.TxTypeWithdraw, []string{"amount"}},
	"set-reward":    {types.TxTypeSetRewardPerBlock, []string{"amount"}},
	"confirm":       {types.TxTypeConfirm, nil},
	"apply-reward":  {types.TxTypeApplyRewardPerBlock, nil},
	"cancel-reward": {types.TxTypeCancelRewardPerBlock, nil},
}

func runSend(command string, args []string, stdout, stderr io.Writer) int {
	shape, ok := txShapes[command]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown transaction %q\n", command)
		return 1
	}
	fs := flag.NewFlagSet(command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	keystorePath := fs.String("keystore", os.Getenv("TINYBANK_KEYSTORE"), "Path to the sender keystore")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	positional := fs.Args()
	if len(positional) != len(shape.args) {
		fmt.Fprintf(stderr, "Error: %s expects %d argument(s)\n", command, len(shape.args))
		printUsage(stderr)
		return 1
	}

	key, err := loadKey(*keystorePath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	tx, err := buildTransaction(shape, positional)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	receipt, err := signAndSend(key, tx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%s committed in block %s\n", tx.Type, receipt.BlockNumber)
	fmt.Fprintf(stdout, "  Transaction: %s\n", receipt.TransactionHash)
	for _, log := range receipt.Logs {
		fmt.Fprintf(stdout, "  %-22s %v\n", log.Type, log.Attributes)
	}
	return 0
}

func buildTransaction(shape txShape, positional []string) (*types.Transaction, error) {
	tx := &types.Transaction{Type: shape.txType}
	for i, kind := range shape.args {
		raw := positional[i]
		switch kind {
		case "to", "owner":
			addr, err := crypto.ParseAddress(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			if kind == "to" {
				tx.To = append([]byte(nil), addr[:]...)
			} else {
				tx.Owner = append([]byte(nil), addr[:]...)
			}
		case "amount":
			var info rpc.TokenInfoResult
			if err := call("tb_getTokenInfo", nil, false, &info); err != nil {
				return nil, err
			}
			amount, err := token.ParseUnits(raw, info.Decimals)
			if err != nil {
				return nil, err
			}
			tx.Amount = amount.ToBig()
		}
	}
	return tx, nil
}

func signAndSend(key *crypto.PrivateKey, tx *types.Transaction) (*rpc.ReceiptResult, error) {
	var head rpc.HeightResult
	if err := call("tb_getHeight", nil, false, &head); err != nil {
		return nil, err
	}
	var nonce rpc.NonceResult
	if err := call("tb_getNonce", []interface{}{key.PubKey().Address().String()}, false, &nonce); err != nil {
		return nil, err
	}
	tx.ChainID = head.ChainID
	tx.Nonce = nonce.Nonce
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	var receipt rpc.ReceiptResult
	if err := call("tb_sendTransaction", []interface{}{tx}, true, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}
