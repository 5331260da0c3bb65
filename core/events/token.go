package events

import (
	"github.com/holiman/uint256"

	"tinybank/core/types"
)

const (
	// TypeTokenTransfer is emitted for every balance movement between accounts.
	TypeTokenTransfer = "token.transfer"
	// TypeTokenApproval is emitted whenever an allowance is overwritten.
	TypeTokenApproval = "token.approval"
	// TypeTokenMint is emitted when new supply is credited to an account.
	TypeTokenMint = "token.mint"
	// TypeTokenMinterChanged is emitted when the ledger owner replaces the minter.
	TypeTokenMinterChanged = "token.minterChanged"
)

type TokenTransfer struct {
	From   [20]byte
	To     [20]byte
	Amount *uint256.Int
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenTransfer,
		Attributes: map[string]string{
			"from":   formatAddress(e.From),
			"to":     formatAddress(e.To),
			"amount": formatAmount(e.Amount),
		},
	}
}

// TokenApproval records the allowance granted to Spender. Owner is carried
// for indexers; the canonical payload is (spender, amount).
type TokenApproval struct {
	Owner   [20]byte
	Spender [20]byte
	Amount  *uint256.Int
}

func (TokenApproval) EventType() string { return TypeTokenApproval }

func (e TokenApproval) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenApproval,
		Attributes: map[string]string{
			"owner":   formatAddress(e.Owner),
			"spender": formatAddress(e.Spender),
			"amount":  formatAmount(e.Amount),
		},
	}
}

type TokenMint struct {
	To          [20]byte
	Amount      *uint256.Int
	TotalSupply *uint256.Int
}

func (TokenMint) EventType() string { return TypeTokenMint }

func (e TokenMint) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenMint,
		Attributes: map[string]string{
			"to":          formatAddress(e.To),
			"amount":      formatAmount(e.Amount),
			"totalSupply": formatAmount(e.TotalSupply),
		},
	}
}

type TokenMinterChanged struct {
	Previous    [20]byte
	HadPrevious bool
	Minter      [20]byte
}

func (TokenMinterChanged) EventType() string { return TypeTokenMinterChanged }

func (e TokenMinterChanged) Event() *types.Event {
	attrs := map[string]string{"minter": formatAddress(e.Minter)}
	if e.HadPrevious {
		attrs["previous"] = formatAddress(e.Previous)
	}
	return &types.Event{Type: TypeTokenMinterChanged, Attributes: attrs}
}
