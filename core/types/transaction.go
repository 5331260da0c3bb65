package types

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	tberrors "tinybank/core/errors"
)

// TxType defines the purpose of a transaction.
type TxType byte

const (
	TxTypeTransfer             TxType = 0x01 // Move tokens from the sender to To
	TxTypeApprove              TxType = 0x02 // Overwrite the allowance granted to To
	TxTypeTransferFrom         TxType = 0x03 // Spend Owner's allowance, paying To
	TxTypeMint                 TxType = 0x04 // Minter-only supply increase credited to To
	TxTypeSetMinter            TxType = 0x05 // Ledger owner replaces the minter with To
	TxTypeStake                TxType = 0x10 // Deposit Amount into the staking pool
	TxTypeWithdraw             TxType = 0x11 // Withdraw Amount of principal plus settled reward
	TxTypeSetRewardPerBlock    TxType = 0x12 // Pool owner proposes a new reward rate
	TxTypeConfirm              TxType = 0x13 // Manager confirmation of the pending rate
	TxTypeApplyRewardPerBlock  TxType = 0x14 // Apply a fully confirmed rate
	TxTypeCancelRewardPerBlock TxType = 0x15 // Pool owner discards the pending rate
)

var txTypeNames = map[TxType]string{
	TxTypeTransfer:             "transfer",
	TxTypeApprove:              "approve",
	TxTypeTransferFrom:         "transferFrom",
	TxTypeMint:                 "mint",
	TxTypeSetMinter:            "setMinter",
	TxTypeStake:                "stake",
	TxTypeWithdraw:             "withdraw",
	TxTypeSetRewardPerBlock:    "setRewardPerBlock",
	TxTypeConfirm:              "confirm",
	TxTypeApplyRewardPerBlock:  "applyRewardPerBlock",
	TxTypeCancelRewardPerBlock: "cancelRewardPerBlock",
}

func (t TxType) String() string {
	if name, ok := txTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(t))
}

// Valid reports whether t names a supported call.
func (t TxType) Valid() bool {
	_, ok := txTypeNames[t]
	return ok
}

// ParseTxType resolves a call name such as "stake" into its TxType.
func ParseTxType(name string) (TxType, error) {
	for t, candidate := range txTypeNames {
		if candidate == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transaction type %q", name)
}

var errMissingSignature = errors.New("transaction is not signed")

// Transaction is a signed call into the ledger or the staking pool. The sender
// identity is recovered from the signature.
type Transaction struct {
	ChainID string   `json:"chainId"`
	Type    TxType   `json:"type"`
	Nonce   uint64   `json:"nonce"`
	To      []byte   `json:"to,omitempty"`    // Recipient, spender or new minter depending on Type
	Owner   []byte   `json:"owner,omitempty"` // Allowance owner for TransferFrom
	Amount  *big.Int `json:"amount,omitempty"`

	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from []byte
}

type unsignedTx struct {
	ChainID   string
	Type      TxType
	Nonce     uint64
	To        []byte
	Owner     []byte
	Amount    *big.Int
	HasAmount bool // separates an omitted amount from an explicit zero
}

// Hash returns the keccak256 digest of the RLP-encoded unsigned payload.
// Negative amounts cannot be encoded and are rejected as invalid.
func (tx *Transaction) Hash() (common.Hash, error) {
	amount := tx.Amount
	if amount == nil {
		amount = new(big.Int)
	} else if amount.Sign() < 0 {
		return common.Hash{}, fmt.Errorf("transaction amount: %w", tberrors.ErrInvalidAmount)
	}
	encoded, err := rlp.EncodeToBytes(&unsignedTx{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		Nonce:     tx.Nonce,
		To:        tx.To,
		Owner:     tx.Owner,
		Amount:    amount,
		HasAmount: tx.Amount != nil,
	})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(encoded), nil
}

func (tx *Transaction) Sign(privKey *ecdsa.PrivateKey) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(hash.Bytes(), privKey)
	if err != nil {
		return err
	}
	tx.R = new(big.Int).SetBytes(sig[:32])
	tx.S = new(big.Int).SetBytes(sig[32:64])
	tx.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	tx.from = nil
	return nil
}

// From recovers the sender address from the signature.
func (tx *Transaction) From() ([]byte, error) {
	if tx.from != nil {
		return tx.from, nil
	}
	if tx.R == nil || tx.S == nil || tx.V == nil {
		return nil, errMissingSignature
	}
	if tx.R.BitLen() > 256 || tx.S.BitLen() > 256 || !tx.V.IsUint64() || tx.V.Uint64() < 27 || tx.V.Uint64() > 28 {
		return nil, fmt.Errorf("malformed signature")
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, err
	}
	sig := make([]byte, 65)
	tx.R.FillBytes(sig[:32])
	tx.S.FillBytes(sig[32:64])
	sig[64] = byte(tx.V.Uint64() - 27)
	pubKey, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return nil, err
	}
	tx.from = crypto.PubkeyToAddress(*pubKey).Bytes()
	return tx.from, nil
}
