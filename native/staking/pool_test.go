package staking

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
	"tinybank/native/quorum"
	"tinybank/native/token"
	"tinybank/storage"
	"tinybank/storage/trie"
)

var (
	owner    = [20]byte{0x01}
	alice    = [20]byte{0x02}
	bob      = [20]byte{0x03}
	poolAddr = [20]byte{0xb0}
	hacker   = [20]byte{0xee}
)

type manualClock struct {
	index uint64
}

func (c *manualClock) CurrentIndex() uint64 { return c.index }

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) types() []string {
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.EventType()
	}
	return out
}

func mt(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), token.Unit(18))
}

type fixture struct {
	ledger   *token.Ledger
	auth     *quorum.Authority
	pool     *Pool
	clock    *manualClock
	emitter  *captureEmitter
	managers [][20]byte
}

func newFixture(t *testing.T, managerCount int) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	mgr := state.NewManager(tr)
	emitter := &captureEmitter{}
	clock := &manualClock{index: 1}

	ledger := token.NewLedger(mgr)
	if err := ledger.Deploy(owner, "MyToken", "MT", 18, uint256.NewInt(100)); err != nil {
		t.Fatalf("deploy ledger: %v", err)
	}
	managers := make([][20]byte, managerCount)
	for i := range managers {
		managers[i] = [20]byte{0xa0, byte(i + 1)}
	}
	auth := quorum.NewAuthority(mgr, RewardTopic)
	if err := auth.Install(managers); err != nil {
		t.Fatalf("install quorum: %v", err)
	}
	pool := NewPool(mgr, ledger, auth, clock)
	if err := pool.Deploy(owner, poolAddr, mt(1)); err != nil {
		t.Fatalf("deploy pool: %v", err)
	}
	if err := ledger.SetMinter(owner, poolAddr); err != nil {
		t.Fatalf("set minter: %v", err)
	}
	ledger.SetEmitter(emitter)
	auth.SetEmitter(emitter)
	pool.SetEmitter(emitter)
	return &fixture{ledger: ledger, auth: auth, pool: pool, clock: clock, emitter: emitter, managers: managers}
}

func (f *fixture) stake(t *testing.T, who [20]byte, amount *uint256.Int) {
	t.Helper()
	if err := f.ledger.Approve(who, poolAddr, amount); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.pool.Stake(who, amount); err != nil {
		t.Fatalf("stake: %v", err)
	}
}

// assertPoolBacked holds for funds that enter through Stake. A plain ledger
// transfer to the pool address adds to its balance without adding stake.
func (f *fixture) assertPoolBacked(t *testing.T) {
	t.Helper()
	total, _ := f.pool.TotalStaked()
	held, _ := f.ledger.BalanceOf(poolAddr)
	if !total.Eq(held) {
		t.Fatalf("total staked %s differs from pool balance %s", total.Dec(), held.Dec())
	}
}

func TestInitialState(t *testing.T) {
	f := newFixture(t, 1)
	total, _ := f.pool.TotalStaked()
	staked, _ := f.pool.Staked(owner)
	if !total.IsZero() || !staked.IsZero() {
		t.Fatalf("expected empty pool, total=%s staked=%s", total.Dec(), staked.Dec())
	}
	rate, _ := f.pool.RewardPerBlock()
	if !rate.Eq(mt(1)) {
		t.Fatalf("unexpected reward rate %s", rate.Dec())
	}
}

func TestStakeMovesFundsIntoPool(t *testing.T) {
	f := newFixture(t, 1)
	f.stake(t, owner, mt(50))

	staked, _ := f.pool.Staked(owner)
	if !staked.Eq(mt(50)) {
		t.Fatalf("unexpected principal %s", staked.Dec())
	}
	f.assertPoolBacked(t)
	last := f.emitter.events[len(f.emitter.events)-1]
	evt, ok := last.(events.StakingStaked)
	if !ok || evt.Depositor != owner || !evt.Amount.Eq(mt(50)) {
		t.Fatalf("unexpected staked event %+v", last)
	}
}

func TestWithdrawAllReturnsPrincipal(t *testing.T) {
	f := newFixture(t, 1)
	f.stake(t, owner, mt(50))
	if err := f.pool.Withdraw(owner, mt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	staked, _ := f.pool.Staked(owner)
	if !staked.IsZero() {
		t.Fatalf("expected zero principal, got %s", staked.Dec())
	}
	last := f.emitter.events[len(f.emitter.events)-1]
	evt, ok := last.(events.StakingWithdraw)
	if !ok || evt.Recipient != owner || !evt.Amount.Eq(mt(50)) {
		t.Fatalf("unexpected withdraw event %+v", last)
	}
	f.assertPoolBacked(t)
}

func TestRewardAccruesPerBlock(t *testing.T) {
	f := newFixture(t, 1)
	f.clock.index = 10
	f.stake(t, owner, mt(50))

	f.clock.index = 16
	pending, _ := f.pool.PendingReward(owner)
	if !pending.Eq(mt(6)) {
		t.Fatalf("pending reward %s, want 6 MT", pending.Dec())
	}
	f.emitter.events = nil
	if err := f.pool.Withdraw(owner, mt(50)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	balance, _ := f.ledger.BalanceOf(owner)
	if !balance.Eq(mt(106)) {
		t.Fatalf("owner balance %s, want 106 MT", balance.Dec())
	}
	supply, _ := f.ledger.TotalSupply()
	if !supply.Eq(mt(106)) {
		t.Fatalf("supply %s, want 106 MT", supply.Dec())
	}
	want := []string{events.TypeTokenTransfer, events.TypeTokenMint, events.TypeStakingReward, events.TypeStakingWithdraw}
	got := f.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected events %v", got)
		}
	}
	reward := f.emitter.events[2].(events.StakingReward)
	if reward.FromBlock != 10 || reward.ToBlock != 16 {
		t.Fatalf("unexpected reward window %d..%d", reward.FromBlock, reward.ToBlock)
	}
}

func TestRewardSplitsByShare(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.ledger.Transfer(owner, alice, mt(30)); err != nil {
		t.Fatalf("fund alice: %v", err)
	}
	if err := f.ledger.Transfer(owner, bob, mt(10)); err != nil {
		t.Fatalf("fund bob: %v", err)
	}
	f.clock.index = 2
	f.stake(t, alice, mt(30))
	f.stake(t, bob, mt(10))

	f.clock.index = 6
	aliceReward, _ := f.pool.PendingReward(alice)
	bobReward, _ := f.pool.PendingReward(bob)
	if !aliceReward.Eq(mt(3)) || !bobReward.Eq(mt(1)) {
		t.Fatalf("unexpected rewards alice=%s bob=%s", aliceReward.Dec(), bobReward.Dec())
	}
}

func TestStakeSettlesBeforeGrowingPrincipal(t *testing.T) {
	f := newFixture(t, 1)
	f.clock.index = 1
	f.stake(t, owner, mt(10))
	f.clock.index = 4
	f.stake(t, owner, mt(10))

	rec, _ := f.pool.StakeRecord(owner)
	if rec.LastAccrualBlock != 4 || !rec.Principal.Eq(mt(20)) {
		t.Fatalf("unexpected record %+v", rec)
	}
	pending, _ := f.pool.PendingReward(owner)
	if !pending.IsZero() {
		t.Fatalf("reward should be settled, %s pending", pending.Dec())
	}
	balance, _ := f.ledger.BalanceOf(owner)
	if !balance.Eq(mt(83)) {
		t.Fatalf("owner balance %s, want 83 MT", balance.Dec())
	}
	f.assertPoolBacked(t)
}

func TestStakeValidation(t *testing.T) {
	f := newFixture(t, 1)
	if err := f.pool.Stake(owner, new(uint256.Int)); !errors.Is(err, tberrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := f.pool.Stake(owner, mt(1)); !errors.Is(err, tberrors.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := f.ledger.Approve(alice, poolAddr, mt(1)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := f.pool.Stake(alice, mt(1)); !errors.Is(err, tberrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	total, _ := f.pool.TotalStaked()
	if !total.IsZero() {
		t.Fatalf("rejected stake changed the pool")
	}
}

func TestWithdrawBeyondPrincipal(t *testing.T) {
	f := newFixture(t, 1)
	f.stake(t, owner, mt(5))
	if err := f.pool.Withdraw(owner, mt(6)); !errors.Is(err, tberrors.ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	staked, _ := f.pool.Staked(owner)
	if !staked.Eq(mt(5)) {
		t.Fatalf("rejected withdraw changed principal")
	}
}

func TestWithdrawZeroClaimsReward(t *testing.T) {
	f := newFixture(t, 1)
	f.clock.index = 1
	f.stake(t, owner, mt(50))
	f.clock.index = 3
	if err := f.pool.Withdraw(owner, new(uint256.Int)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	balance, _ := f.ledger.BalanceOf(owner)
	if !balance.Eq(mt(52)) {
		t.Fatalf("owner balance %s, want 52 MT", balance.Dec())
	}
	staked, _ := f.pool.Staked(owner)
	if !staked.Eq(mt(50)) {
		t.Fatalf("claim changed principal")
	}
}

func TestSetRewardPerBlockRequiresOwner(t *testing.T) {
	f := newFixture(t, 1)
	err := f.pool.SetRewardPerBlock(hacker, mt(10000))
	if !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if _, pending, _ := f.auth.Pending(); pending {
		t.Fatalf("unauthorized proposal was recorded")
	}
}

func TestRateChangeNeedsEveryManager(t *testing.T) {
	f := newFixture(t, 5)
	if err := f.pool.SetRewardPerBlock(owner, mt(5)); err != nil {
		t.Fatalf("set reward: %v", err)
	}
	rate, _ := f.pool.RewardPerBlock()
	if !rate.Eq(mt(1)) {
		t.Fatalf("rate changed before confirmation")
	}
	if _, err := f.pool.Confirm(hacker); !errors.Is(err, tberrors.ErrNotAManager) {
		t.Fatalf("expected ErrNotAManager, got %v", err)
	}
	for i := 0; i < 4; i++ {
		applied, err := f.pool.Confirm(f.managers[i])
		if err != nil {
			t.Fatalf("confirm %d: %v", i, err)
		}
		if applied {
			t.Fatalf("rate applied after %d confirmations", i+1)
		}
	}
	if err := f.pool.ApplyRewardPerBlock(); !errors.Is(err, tberrors.ErrQuorumNotMet) {
		t.Fatalf("expected ErrQuorumNotMet, got %v", err)
	}
	applied, err := f.pool.Confirm(f.managers[4])
	if err != nil || !applied {
		t.Fatalf("final confirm: applied=%v err=%v", applied, err)
	}
	rate, _ = f.pool.RewardPerBlock()
	if !rate.Eq(mt(5)) {
		t.Fatalf("rate %s, want 5 MT", rate.Dec())
	}
	confirmed, _, _ := f.auth.Confirmations()
	if confirmed != 0 {
		t.Fatalf("confirmations should reset after apply")
	}
}

func TestCancelRewardPerBlock(t *testing.T) {
	f := newFixture(t, 2)
	if err := f.pool.CancelRewardPerBlock(owner); !errors.Is(err, tberrors.ErrNoPendingChange) {
		t.Fatalf("expected ErrNoPendingChange, got %v", err)
	}
	_ = f.pool.SetRewardPerBlock(owner, mt(2))
	if err := f.pool.CancelRewardPerBlock(hacker); !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := f.pool.CancelRewardPerBlock(owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := f.pool.Confirm(f.managers[0]); !errors.Is(err, tberrors.ErrNoPendingChange) {
		t.Fatalf("expected ErrNoPendingChange after cancel, got %v", err)
	}
}

func TestRewardZeroWhenPoolEmpty(t *testing.T) {
	f := newFixture(t, 1)
	f.clock.index = 100
	pending, err := f.pool.PendingReward(alice)
	if err != nil {
		t.Fatalf("pending reward: %v", err)
	}
	if !pending.IsZero() {
		t.Fatalf("expected zero reward, got %s", pending.Dec())
	}
}

func TestDirectTransferToPoolIsNotStake(t *testing.T) {
	f := newFixture(t, 1)
	f.stake(t, owner, mt(10))
	if err := f.ledger.Transfer(owner, poolAddr, mt(5)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	total, _ := f.pool.TotalStaked()
	held, _ := f.ledger.BalanceOf(poolAddr)
	if !total.Eq(mt(10)) || !held.Eq(mt(15)) {
		t.Fatalf("total staked %s, pool balance %s", total.Dec(), held.Dec())
	}
	if err := f.pool.Withdraw(owner, mt(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	total, _ = f.pool.TotalStaked()
	held, _ = f.ledger.BalanceOf(poolAddr)
	if !total.IsZero() || !held.Eq(mt(5)) {
		t.Fatalf("after withdraw: total staked %s, pool balance %s", total.Dec(), held.Dec())
	}
}
