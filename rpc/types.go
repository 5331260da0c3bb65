package rpc

import (
	"fmt"

	"github.com/holiman/uint256"

	"tinybank/core/types"
	"tinybank/crypto"
	"tinybank/native/token"
)

// Amount carries a value both in base units and in whole tokens.
type Amount struct {
	Raw       string `json:"raw"`
	Formatted string `json:"formatted"`
}

func newAmount(v *uint256.Int, decimals uint8) Amount {
	if v == nil {
		v = new(uint256.Int)
	}
	return Amount{Raw: v.Dec(), Formatted: token.FormatUnits(v, decimals)}
}

type TokenInfoResult struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply Amount `json:"totalSupply"`
	Owner       string `json:"owner"`
	Minter      string `json:"minter,omitempty"`
}

type BalanceResult struct {
	Address string `json:"address"`
	Balance Amount `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

type AllowanceResult struct {
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance Amount `json:"allowance"`
}

type StakeResult struct {
	Address          string `json:"address"`
	Principal        Amount `json:"principal"`
	PendingReward    Amount `json:"pendingReward"`
	LastAccrualBlock uint64 `json:"lastAccrualBlock"`
	Height           uint64 `json:"height"`
}

type PoolResult struct {
	Address        string `json:"address"`
	Owner          string `json:"owner"`
	TotalStaked    Amount `json:"totalStaked"`
	RewardPerBlock Amount `json:"rewardPerBlock"`
	Height         uint64 `json:"height"`
}

type QuorumResult struct {
	Topic       string   `json:"topic"`
	Managers    []string `json:"managers"`
	HasPending  bool     `json:"hasPending"`
	Pending     *Amount  `json:"pending,omitempty"`
	ConfirmedBy []string `json:"confirmedBy"`
	Confirmed   int      `json:"confirmed"`
	Required    int      `json:"required"`
	Reached     bool     `json:"reached"`
}

type NonceResult struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

type HeightResult struct {
	ChainID   string `json:"chainId"`
	Height    uint64 `json:"height"`
	BlockHash string `json:"blockHash"`
	StateRoot string `json:"stateRoot"`
}

// ReceiptResult reflects the final state of a committed transaction.
type ReceiptResult struct {
	TransactionHash string       `json:"transactionHash"`
	From            string       `json:"from"`
	Type            string       `json:"type"`
	BlockHash       string       `json:"blockHash"`
	BlockNumber     string       `json:"blockNumber"`
	StateRoot       string       `json:"stateRoot"`
	Logs            []ReceiptLog `json:"logs"`
}

// ReceiptLog captures a structured event emitted during transaction execution.
type ReceiptLog struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func receiptResult(receipt *types.Receipt) ReceiptResult {
	logs := make([]ReceiptLog, 0, len(receipt.Events))
	for _, evt := range receipt.Events {
		logs = append(logs, ReceiptLog{Type: evt.Type, Attributes: evt.Attributes})
	}
	return ReceiptResult{
		TransactionHash: receipt.TxHash.Hex(),
		From:            receipt.From,
		Type:            receipt.Type,
		BlockHash:       receipt.BlockHash.Hex(),
		BlockNumber:     hexString(receipt.BlockNumber),
		StateRoot:       receipt.StateRoot.Hex(),
		Logs:            logs,
	}
}

// hexString formats a uint64 as a 0x-prefixed hexadecimal string.
func hexString(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func formatAddress(addr [20]byte) string {
	return crypto.FromArray(addr).String()
}

func formatAddresses(addrs [][20]byte) []string {
	out := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, formatAddress(addr))
	}
	return out
}
