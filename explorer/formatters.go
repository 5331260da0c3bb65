package explorer

import (
	"strings"

	"tinybank/core/events"
)

var labels = map[string]string{
	events.TypeTokenTransfer:       "Transfer",
	events.TypeTokenApproval:       "Approval",
	events.TypeTokenMint:           "Mint",
	events.TypeTokenMinterChanged:  "Minter changed",
	events.TypeStakingStaked:       "Staked",
	events.TypeStakingWithdraw:     "Withdrawal",
	events.TypeStakingReward:       "Reward paid",
	events.TypeStakingRateProposed: "Reward rate proposed",
	events.TypeStakingRateApplied:  "Reward rate applied",
	events.TypeQuorumConfirmed:     "Manager confirmed",
	events.TypeQuorumReset:         "Pending change cleared",
}

// Label returns the explorer label for an event type. Unknown types are
// shown verbatim.
func Label(eventType string) string {
	normalized := strings.TrimSpace(eventType)
	if label, ok := labels[normalized]; ok {
		return label
	}
	if normalized == "" {
		return "Unknown"
	}
	return normalized
}
