package events

import (
	"github.com/holiman/uint256"

	"tinybank/core/types"
)

const (
	// TypeStakingStaked is emitted when a depositor adds principal.
	TypeStakingStaked = "staking.staked"
	// TypeStakingWithdraw is emitted when principal is returned to its owner.
	TypeStakingWithdraw = "staking.withdraw"
	// TypeStakingReward is emitted when an accrued reward is settled and minted.
	TypeStakingReward = "staking.reward"
	// TypeStakingRateProposed is emitted when the owner buffers a new reward rate.
	TypeStakingRateProposed = "staking.rateProposed"
	// TypeStakingRateApplied is emitted when a confirmed rate becomes live.
	TypeStakingRateApplied = "staking.rateApplied"
)

type StakingStaked struct {
	Depositor [20]byte
	Amount    *uint256.Int
}

func (StakingStaked) EventType() string { return TypeStakingStaked }

func (e StakingStaked) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingStaked,
		Attributes: map[string]string{
			"depositor": formatAddress(e.Depositor),
			"amount":    formatAmount(e.Amount),
		},
	}
}

type StakingWithdraw struct {
	Amount    *uint256.Int
	Recipient [20]byte
}

func (StakingWithdraw) EventType() string { return TypeStakingWithdraw }

func (e StakingWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingWithdraw,
		Attributes: map[string]string{
			"amount":    formatAmount(e.Amount),
			"recipient": formatAddress(e.Recipient),
		},
	}
}

// StakingReward captures a settlement covering blocks [FromBlock, ToBlock).
type StakingReward struct {
	Account   [20]byte
	Amount    *uint256.Int
	FromBlock uint64
	ToBlock   uint64
}

func (StakingReward) EventType() string { return TypeStakingReward }

func (e StakingReward) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingReward,
		Attributes: map[string]string{
			"account":   formatAddress(e.Account),
			"amount":    formatAmount(e.Amount),
			"fromBlock": formatUint(e.FromBlock),
			"toBlock":   formatUint(e.ToBlock),
		},
	}
}

type StakingRateProposed struct {
	Proposer [20]byte
	Proposed *uint256.Int
	Current  *uint256.Int
}

func (StakingRateProposed) EventType() string { return TypeStakingRateProposed }

func (e StakingRateProposed) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingRateProposed,
		Attributes: map[string]string{
			"proposer": formatAddress(e.Proposer),
			"proposed": formatAmount(e.Proposed),
			"current":  formatAmount(e.Current),
		},
	}
}

type StakingRateApplied struct {
	Previous *uint256.Int
	Applied  *uint256.Int
}

func (StakingRateApplied) EventType() string { return TypeStakingRateApplied }

func (e StakingRateApplied) Event() *types.Event {
	return &types.Event{
		Type: TypeStakingRateApplied,
		Attributes: map[string]string{
			"previous": formatAmount(e.Previous),
			"applied":  formatAmount(e.Applied),
		},
	}
}
