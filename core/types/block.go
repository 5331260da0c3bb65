package types

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// Header describes a sealed block. Every successful call is sealed into its
// own block, so a header commits to exactly one transaction.
type Header struct {
	Height     uint64      `json:"height"`
	ParentHash common.Hash `json:"parentHash"`
	StateRoot  common.Hash `json:"stateRoot"`
	TxHash     common.Hash `json:"txHash"`
	Timestamp  uint64      `json:"timestamp"`
}

// Hash returns the keccak256 digest of the RLP-encoded header.
func (h *Header) Hash() (common.Hash, error) {
	encoded, err := rlp.EncodeToBytes(h)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

// Receipt records the outcome of a committed transaction.
type Receipt struct {
	TxHash      common.Hash `json:"transactionHash"`
	From        string      `json:"from"`
	Type        string      `json:"type"`
	BlockNumber uint64      `json:"blockNumber"`
	BlockHash   common.Hash `json:"blockHash"`
	StateRoot   common.Hash `json:"stateRoot"`
	Events      []Event     `json:"events"`
}
