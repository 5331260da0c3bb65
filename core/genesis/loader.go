package genesis

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
	"tinybank/native/quorum"
	"tinybank/native/staking"
	"tinybank/native/token"
)

// Deployment records the identities assigned when the genesis spec was
// applied.
type Deployment struct {
	ChainID string
	Owner   [20]byte
	Token   [20]byte
	Pool    [20]byte
}

// ContractAddress derives the identity of the nonce-th contract created by
// owner, following the usual sender+nonce scheme.
func ContractAddress(owner [20]byte, nonce uint64) [20]byte {
	return [20]byte(ethcrypto.CreateAddress(common.Address(owner), nonce))
}

// Apply deploys the ledger, installs the manager quorum, deploys the staking
// pool and hands the minter role to the pool, in that order. Events raised by
// the deployment go to emitter.
func Apply(spec *GenesisSpec, manager *state.Manager, emitter events.Emitter) (*Deployment, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("state manager must not be nil")
	}
	if spec.initialSupply == nil {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	if ok, err := manager.KVGet(state.DeploymentKey(), nil); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("genesis: %w", tberrors.ErrAlreadyDeployed)
	}

	owner := spec.OwnerAddress()
	deployment := &Deployment{
		ChainID: spec.ChainID,
		Owner:   owner,
		Token:   ContractAddress(owner, 0),
		Pool:    ContractAddress(owner, 1),
	}

	ledger := token.NewLedger(manager)
	ledger.SetEmitter(emitter)
	if err := ledger.Deploy(owner, spec.Token.Name, spec.Token.Symbol, spec.Token.Decimals, spec.InitialSupply()); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	authority := quorum.NewAuthority(manager, staking.RewardTopic)
	authority.SetEmitter(emitter)
	if err := authority.Install(spec.Managers()); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	pool := staking.NewPool(manager, ledger, authority, staking.BlockSourceFunc(func() uint64 { return 0 }))
	pool.SetEmitter(emitter)
	if err := pool.Deploy(owner, deployment.Pool, spec.RewardPerBlock()); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	if err := ledger.SetMinter(owner, deployment.Pool); err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}

	if err := manager.KVPut(state.DeploymentKey(), deployment); err != nil {
		return nil, fmt.Errorf("genesis: persist deployment: %w", err)
	}
	return deployment, nil
}

// LoadDeployment returns the deployment recorded at genesis.
func LoadDeployment(manager *state.Manager) (*Deployment, error) {
	deployment := new(Deployment)
	ok, err := manager.KVGet(state.DeploymentKey(), deployment)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tberrors.ErrNotDeployed
	}
	return deployment, nil
}
