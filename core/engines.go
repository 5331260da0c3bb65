package core

import (
	"tinybank/core/events"
	"tinybank/core/genesis"
	"tinybank/core/state"
	"tinybank/native/quorum"
	"tinybank/native/staking"
	"tinybank/native/token"
)

// Engines bundles the native engines bound to one state view.
type Engines struct {
	State      *state.Manager
	Ledger     *token.Ledger
	Quorum     *quorum.Authority
	Pool       *staking.Pool
	Deployment *genesis.Deployment
}

func newEngines(manager *state.Manager, blockIndex uint64, emitter events.Emitter) (*Engines, error) {
	deployment, err := genesis.LoadDeployment(manager)
	if err != nil {
		return nil, err
	}
	ledger := token.NewLedger(manager)
	ledger.SetEmitter(emitter)
	authority := quorum.NewAuthority(manager, staking.RewardTopic)
	authority.SetEmitter(emitter)
	pool := staking.NewPool(manager, ledger, authority, staking.BlockSourceFunc(func() uint64 { return blockIndex }))
	pool.SetEmitter(emitter)
	return &Engines{
		State:      manager,
		Ledger:     ledger,
		Quorum:     authority,
		Pool:       pool,
		Deployment: deployment,
	}, nil
}
