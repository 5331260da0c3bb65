package events

import "tinybank/core/types"

const (
	// TypeQuorumConfirmed is emitted when a manager confirms a pending change.
	TypeQuorumConfirmed = "quorum.confirmed"
	// TypeQuorumReset is emitted when a pending change is discarded unapplied.
	TypeQuorumReset = "quorum.reset"
)

type QuorumConfirmed struct {
	Topic     string
	Manager   [20]byte
	Confirmed int
	Required  int
}

func (QuorumConfirmed) EventType() string { return TypeQuorumConfirmed }

func (e QuorumConfirmed) Event() *types.Event {
	return &types.Event{
		Type: TypeQuorumConfirmed,
		Attributes: map[string]string{
			"topic":     e.Topic,
			"manager":   formatAddress(e.Manager),
			"confirmed": formatUint(uint64(e.Confirmed)),
			"required":  formatUint(uint64(e.Required)),
		},
	}
}

type QuorumReset struct {
	Topic string
}

func (QuorumReset) EventType() string { return TypeQuorumReset }

func (e QuorumReset) Event() *types.Event {
	return &types.Event{Type: TypeQuorumReset, Attributes: map[string]string{"topic": e.Topic}}
}
