package staking

import (
	"fmt"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
)

// RewardTopic is the quorum topic guarding the reward rate.
const RewardTopic = "staking/rewardPerBlock"

// BlockSource reports the index of the block the current call executes in.
type BlockSource interface {
	CurrentIndex() uint64
}

// BlockSourceFunc adapts a function to BlockSource.
type BlockSourceFunc func() uint64

func (f BlockSourceFunc) CurrentIndex() uint64 { return f() }

// Ledger is the subset of the token ledger the pool drives.
type Ledger interface {
	BalanceOf(addr [20]byte) (*uint256.Int, error)
	Allowance(owner, spender [20]byte) (*uint256.Int, error)
	Transfer(from, to [20]byte, amount *uint256.Int) error
	TransferFrom(spender, owner, to [20]byte, amount *uint256.Int) error
	Mint(caller [20]byte, amount *uint256.Int, to [20]byte) error
}

// Quorum is the confirmation gate for rate changes.
type Quorum interface {
	Propose(value *uint256.Int) error
	Confirm(caller [20]byte) error
	IsQuorumReached() (bool, error)
	Apply() (*uint256.Int, error)
	Reset() error
}

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type poolRecord struct {
	Owner          [20]byte
	Address        [20]byte
	TotalStaked    *uint256.Int
	RewardPerBlock *uint256.Int
}

// StakeRecord is the per-depositor accounting entry. Records are created on
// first stake and kept even once the principal drops to zero.
type StakeRecord struct {
	Principal        *uint256.Int
	LastAccrualBlock uint64
}

// Pool holds deposits of the ledger's asset and pays block-indexed rewards
// through the ledger's minter path. Rewards accrue lazily and are settled
// whenever the depositor's principal changes.
type Pool struct {
	state   engineState
	ledger  Ledger
	quorum  Quorum
	blocks  BlockSource
	emitter events.Emitter
}

// NewPool wires a pool engine to its ledger, rate quorum and block source.
func NewPool(state engineState, ledger Ledger, quorum Quorum, blocks BlockSource) *Pool {
	return &Pool{
		state:   state,
		ledger:  ledger,
		quorum:  quorum,
		blocks:  blocks,
		emitter: events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter used for staking events.
func (p *Pool) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		p.emitter = events.NoopEmitter{}
		return
	}
	p.emitter = emitter
}

// Deploy records the pool's owner, its ledger identity and the initial
// reward rate.
func (p *Pool) Deploy(owner, address [20]byte, rewardPerBlock *uint256.Int) error {
	if p == nil || p.state == nil {
		return fmt.Errorf("staking: state unavailable")
	}
	ok, err := p.state.KVGet(state.StakingPoolKey(), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("staking: deploy: %w", tberrors.ErrAlreadyDeployed)
	}
	if rewardPerBlock == nil {
		rewardPerBlock = new(uint256.Int)
	}
	return p.putPool(&poolRecord{
		Owner:          owner,
		Address:        address,
		TotalStaked:    new(uint256.Int),
		RewardPerBlock: new(uint256.Int).Set(rewardPerBlock),
	})
}

func (p *Pool) pool() (*poolRecord, error) {
	if p == nil || p.state == nil {
		return nil, fmt.Errorf("staking: state unavailable")
	}
	rec := new(poolRecord)
	ok, err := p.state.KVGet(state.StakingPoolKey(), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tberrors.ErrNotDeployed
	}
	if rec.TotalStaked == nil {
		rec.TotalStaked = new(uint256.Int)
	}
	if rec.RewardPerBlock == nil {
		rec.RewardPerBlock = new(uint256.Int)
	}
	return rec, nil
}

func (p *Pool) putPool(rec *poolRecord) error {
	return p.state.KVPut(state.StakingPoolKey(), rec)
}

// StakeRecord returns the accounting entry of addr. Unknown depositors get a
// zero record.
func (p *Pool) StakeRecord(addr [20]byte) (*StakeRecord, error) {
	if p == nil || p.state == nil {
		return nil, fmt.Errorf("staking: state unavailable")
	}
	rec := new(StakeRecord)
	if _, err := p.state.KVGet(state.StakingAccountKey(addr[:]), rec); err != nil {
		return nil, err
	}
	if rec.Principal == nil {
		rec.Principal = new(uint256.Int)
	}
	return rec, nil
}

func (p *Pool) putStakeRecord(addr [20]byte, rec *StakeRecord) error {
	return p.state.KVPut(state.StakingAccountKey(addr[:]), rec)
}

// Address returns the ledger identity that holds staked funds.
func (p *Pool) Address() ([20]byte, error) {
	rec, err := p.pool()
	if err != nil {
		return [20]byte{}, err
	}
	return rec.Address, nil
}

// Owner returns the identity allowed to propose rate changes.
func (p *Pool) Owner() ([20]byte, error) {
	rec, err := p.pool()
	if err != nil {
		return [20]byte{}, err
	}
	return rec.Owner, nil
}

// Staked returns the principal currently deposited by addr.
func (p *Pool) Staked(addr [20]byte) (*uint256.Int, error) {
	rec, err := p.StakeRecord(addr)
	if err != nil {
		return nil, err
	}
	return rec.Principal, nil
}

func (p *Pool) TotalStaked() (*uint256.Int, error) {
	rec, err := p.pool()
	if err != nil {
		return nil, err
	}
	return rec.TotalStaked, nil
}

func (p *Pool) RewardPerBlock() (*uint256.Int, error) {
	rec, err := p.pool()
	if err != nil {
		return nil, err
	}
	return rec.RewardPerBlock, nil
}

// PendingReward returns the reward addr would be paid if it settled at the
// current block.
func (p *Pool) PendingReward(addr [20]byte) (*uint256.Int, error) {
	pool, err := p.pool()
	if err != nil {
		return nil, err
	}
	rec, err := p.StakeRecord(addr)
	if err != nil {
		return nil, err
	}
	return accrued(pool, rec, p.blocks.CurrentIndex())
}

// accrued computes rewardPerBlock * (current - last) * principal / totalStaked
// with truncating division.
func accrued(pool *poolRecord, rec *StakeRecord, current uint64) (*uint256.Int, error) {
	if pool.TotalStaked.IsZero() || rec.Principal.IsZero() || current <= rec.LastAccrualBlock {
		return new(uint256.Int), nil
	}
	blocks := uint256.NewInt(current - rec.LastAccrualBlock)
	gross, overflow := new(uint256.Int).MulOverflow(pool.RewardPerBlock, blocks)
	if overflow {
		return nil, tberrors.ErrOverflow
	}
	weighted, overflow := new(uint256.Int).MulOverflow(gross, rec.Principal)
	if overflow {
		return nil, tberrors.ErrOverflow
	}
	return weighted.Div(weighted, pool.TotalStaked), nil
}

// Stake pulls amount from caller through the allowance granted to the pool.
// Any reward accrued on the previous principal is settled first.
func (p *Pool) Stake(caller [20]byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("staking: stake: %w", tberrors.ErrInvalidAmount)
	}
	pool, err := p.pool()
	if err != nil {
		return fmt.Errorf("staking: stake: %w", err)
	}
	allowance, err := p.ledger.Allowance(caller, pool.Address)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("staking: stake: %w", tberrors.ErrInsufficientAllowance)
	}
	balance, err := p.ledger.BalanceOf(caller)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("staking: stake: %w", tberrors.ErrInsufficientBalance)
	}

	rec, err := p.StakeRecord(caller)
	if err != nil {
		return err
	}
	current := p.blocks.CurrentIndex()
	reward, err := accrued(pool, rec, current)
	if err != nil {
		return fmt.Errorf("staking: stake: reward: %w", err)
	}
	from := rec.LastAccrualBlock

	principal, overflow := new(uint256.Int).AddOverflow(rec.Principal, amount)
	if overflow {
		return fmt.Errorf("staking: stake: principal: %w", tberrors.ErrOverflow)
	}
	total, overflow := new(uint256.Int).AddOverflow(pool.TotalStaked, amount)
	if overflow {
		return fmt.Errorf("staking: stake: total: %w", tberrors.ErrOverflow)
	}
	rec.Principal = principal
	rec.LastAccrualBlock = current
	pool.TotalStaked = total
	if err := p.putStakeRecord(caller, rec); err != nil {
		return err
	}
	if err := p.putPool(pool); err != nil {
		return err
	}

	if err := p.ledger.TransferFrom(pool.Address, caller, pool.Address, amount); err != nil {
		return fmt.Errorf("staking: stake: %w", err)
	}
	if err := p.payReward(pool.Address, caller, reward, from, current); err != nil {
		return fmt.Errorf("staking: stake: %w", err)
	}
	p.emitter.Emit(events.StakingStaked{Depositor: caller, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Withdraw returns amount of principal to caller together with the reward
// accrued since the last settlement. Withdrawing zero only claims the reward.
func (p *Pool) Withdraw(caller [20]byte, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("staking: withdraw: %w", tberrors.ErrInvalidAmount)
	}
	pool, err := p.pool()
	if err != nil {
		return fmt.Errorf("staking: withdraw: %w", err)
	}
	rec, err := p.StakeRecord(caller)
	if err != nil {
		return err
	}
	if rec.Principal.Lt(amount) {
		return fmt.Errorf("staking: withdraw: %w", tberrors.ErrInsufficientStake)
	}
	current := p.blocks.CurrentIndex()
	reward, err := accrued(pool, rec, current)
	if err != nil {
		return fmt.Errorf("staking: withdraw: reward: %w", err)
	}
	from := rec.LastAccrualBlock

	rec.Principal = new(uint256.Int).Sub(rec.Principal, amount)
	rec.LastAccrualBlock = current
	pool.TotalStaked = new(uint256.Int).Sub(pool.TotalStaked, amount)
	if err := p.putStakeRecord(caller, rec); err != nil {
		return err
	}
	if err := p.putPool(pool); err != nil {
		return err
	}

	if !amount.IsZero() {
		if err := p.ledger.Transfer(pool.Address, caller, amount); err != nil {
			return fmt.Errorf("staking: withdraw: %w", err)
		}
	}
	if err := p.payReward(pool.Address, caller, reward, from, current); err != nil {
		return fmt.Errorf("staking: withdraw: %w", err)
	}
	p.emitter.Emit(events.StakingWithdraw{Amount: new(uint256.Int).Set(amount), Recipient: caller})
	return nil
}

func (p *Pool) payReward(minter, to [20]byte, reward *uint256.Int, from, current uint64) error {
	if reward == nil || reward.IsZero() {
		return nil
	}
	if err := p.ledger.Mint(minter, reward, to); err != nil {
		return err
	}
	p.emitter.Emit(events.StakingReward{Account: to, Amount: new(uint256.Int).Set(reward), FromBlock: from, ToBlock: current})
	return nil
}

// SetRewardPerBlock registers value as the pending reward rate. The live rate
// is unchanged until every manager has confirmed it.
func (p *Pool) SetRewardPerBlock(caller [20]byte, value *uint256.Int) error {
	if value == nil {
		return fmt.Errorf("staking: setRewardPerBlock: %w", tberrors.ErrInvalidAmount)
	}
	pool, err := p.pool()
	if err != nil {
		return fmt.Errorf("staking: setRewardPerBlock: %w", err)
	}
	if pool.Owner != caller {
		return fmt.Errorf("staking: setRewardPerBlock: %w", tberrors.ErrUnauthorized)
	}
	if err := p.quorum.Propose(value); err != nil {
		return fmt.Errorf("staking: setRewardPerBlock: %w", err)
	}
	p.emitter.Emit(events.StakingRateProposed{
		Proposer: caller,
		Proposed: new(uint256.Int).Set(value),
		Current:  new(uint256.Int).Set(pool.RewardPerBlock),
	})
	return nil
}

// Confirm records caller's confirmation of the pending rate. When it completes
// the quorum the rate is applied in the same call and applied is true.
func (p *Pool) Confirm(caller [20]byte) (bool, error) {
	if err := p.quorum.Confirm(caller); err != nil {
		return false, fmt.Errorf("staking: confirm: %w", err)
	}
	reached, err := p.quorum.IsQuorumReached()
	if err != nil {
		return false, err
	}
	if !reached {
		return false, nil
	}
	if err := p.ApplyRewardPerBlock(); err != nil {
		return false, err
	}
	return true, nil
}

// ApplyRewardPerBlock makes the fully confirmed pending rate live.
func (p *Pool) ApplyRewardPerBlock() error {
	pool, err := p.pool()
	if err != nil {
		return fmt.Errorf("staking: applyRewardPerBlock: %w", err)
	}
	value, err := p.quorum.Apply()
	if err != nil {
		return fmt.Errorf("staking: applyRewardPerBlock: %w", err)
	}
	previous := pool.RewardPerBlock
	pool.RewardPerBlock = value
	if err := p.putPool(pool); err != nil {
		return err
	}
	p.emitter.Emit(events.StakingRateApplied{Previous: new(uint256.Int).Set(previous), Applied: new(uint256.Int).Set(value)})
	return nil
}

// CancelRewardPerBlock discards the pending rate. Only the pool owner may
// call it.
func (p *Pool) CancelRewardPerBlock(caller [20]byte) error {
	pool, err := p.pool()
	if err != nil {
		return fmt.Errorf("staking: cancelRewardPerBlock: %w", err)
	}
	if pool.Owner != caller {
		return fmt.Errorf("staking: cancelRewardPerBlock: %w", tberrors.ErrUnauthorized)
	}
	if err := p.quorum.Reset(); err != nil {
		return fmt.Errorf("staking: cancelRewardPerBlock: %w", err)
	}
	return nil
}
