package token

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
	"tinybank/storage"
	"tinybank/storage/trie"
)

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) last() events.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

var (
	owner = [20]byte{0x01}
	alice = [20]byte{0x02}
	bob   = [20]byte{0x03}
	pool  = [20]byte{0x04}
)

func mt(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), Unit(18))
}

func newTestLedger(t *testing.T) (*Ledger, *captureEmitter) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	tr, err := trie.NewTrie(db, nil)
	if err != nil {
		t.Fatalf("new trie: %v", err)
	}
	ledger := NewLedger(state.NewManager(tr))
	emitter := &captureEmitter{}
	ledger.SetEmitter(emitter)
	if err := ledger.Deploy(owner, "MyToken", "MT", 18, uint256.NewInt(100)); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	return ledger, emitter
}

func TestDeployCreditsScaledSupply(t *testing.T) {
	ledger, emitter := newTestLedger(t)

	name, _ := ledger.Name()
	symbol, _ := ledger.Symbol()
	decimals, _ := ledger.Decimals()
	if name != "MyToken" || symbol != "MT" || decimals != 18 {
		t.Fatalf("unexpected metadata: %s %s %d", name, symbol, decimals)
	}
	supply, err := ledger.TotalSupply()
	if err != nil {
		t.Fatalf("total supply: %v", err)
	}
	if supply.Dec() != "100000000000000000000" {
		t.Fatalf("unexpected supply %s", supply.Dec())
	}
	balance, _ := ledger.BalanceOf(owner)
	if !balance.Eq(supply) {
		t.Fatalf("owner should hold the whole supply, got %s", balance.Dec())
	}
	if _, ok := emitter.last().(events.TokenMint); !ok {
		t.Fatalf("expected mint event, got %T", emitter.last())
	}
	if _, has, _ := ledger.Minter(); has {
		t.Fatalf("no minter expected right after deploy")
	}

	if err := ledger.Deploy(owner, "Again", "AG", 18, uint256.NewInt(1)); !errors.Is(err, tberrors.ErrAlreadyDeployed) {
		t.Fatalf("expected ErrAlreadyDeployed, got %v", err)
	}
}

func TestDeployRejectsOversizedSupply(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tr, _ := trie.NewTrie(db, nil)
	ledger := NewLedger(state.NewManager(tr))
	huge := new(uint256.Int).Lsh(uint256.NewInt(1), 255)
	if err := ledger.Deploy(owner, "Big", "BIG", 18, huge); !errors.Is(err, tberrors.ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if err := ledger.Deploy(owner, "Big", "BIG", 78, uint256.NewInt(1)); !errors.Is(err, tberrors.ErrOverflow) {
		t.Fatalf("expected decimals overflow, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	half, _ := ParseUnits("0.5", 18)

	if err := ledger.Transfer(owner, alice, half); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, _ := ledger.BalanceOf(alice)
	if !got.Eq(half) {
		t.Fatalf("alice balance %s, want %s", got.Dec(), half.Dec())
	}
	evt, ok := emitter.last().(events.TokenTransfer)
	if !ok || evt.From != owner || evt.To != alice || !evt.Amount.Eq(half) {
		t.Fatalf("unexpected transfer event %+v", emitter.last())
	}

	before, _ := ledger.BalanceOf(owner)
	err := ledger.Transfer(owner, alice, mt(101))
	if !errors.Is(err, tberrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err.Error() != "token: transfer: insufficient balance" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	after, _ := ledger.BalanceOf(owner)
	if !after.Eq(before) {
		t.Fatalf("failed transfer changed the sender balance")
	}
}

func TestSelfTransferKeepsBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Transfer(owner, owner, mt(1)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	balance, _ := ledger.BalanceOf(owner)
	if !balance.Eq(mt(100)) {
		t.Fatalf("self transfer changed balance: %s", balance.Dec())
	}
}

func TestApproveOverwrites(t *testing.T) {
	ledger, emitter := newTestLedger(t)
	if err := ledger.Approve(owner, alice, mt(10)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	evt, ok := emitter.last().(events.TokenApproval)
	if !ok || evt.Spender != alice || !evt.Amount.Eq(mt(10)) {
		t.Fatalf("unexpected approval event %+v", emitter.last())
	}
	if err := ledger.Approve(owner, alice, mt(3)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	allowance, _ := ledger.Allowance(owner, alice)
	if !allowance.Eq(mt(3)) {
		t.Fatalf("allowance should be overwritten, got %s", allowance.Dec())
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	ledger, _ := newTestLedger(t)

	if err := ledger.TransferFrom(alice, owner, alice, mt(1)); !errors.Is(err, tberrors.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := ledger.Approve(owner, alice, mt(5)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(alice, owner, alice, mt(3)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	remaining, _ := ledger.Allowance(owner, alice)
	if !remaining.Eq(mt(2)) {
		t.Fatalf("remaining allowance %s, want 2 MT", remaining.Dec())
	}
	over := new(uint256.Int).AddUint64(mt(2), 1)
	if err := ledger.TransferFrom(alice, owner, alice, over); !errors.Is(err, tberrors.ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := ledger.TransferFrom(alice, owner, alice, mt(2)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	ownerBalance, _ := ledger.BalanceOf(owner)
	aliceBalance, _ := ledger.BalanceOf(alice)
	if !ownerBalance.Eq(mt(95)) || !aliceBalance.Eq(mt(5)) {
		t.Fatalf("unexpected balances owner=%s alice=%s", ownerBalance.Dec(), aliceBalance.Dec())
	}
}

func TestTransferFromChecksAllowanceBeforeBalance(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Approve(bob, alice, mt(1)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.TransferFrom(alice, bob, alice, mt(1)); !errors.Is(err, tberrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	allowance, _ := ledger.Allowance(bob, alice)
	if !allowance.Eq(mt(1)) {
		t.Fatalf("failed transferFrom consumed allowance")
	}
}

func TestMintRequiresMinter(t *testing.T) {
	ledger, emitter := newTestLedger(t)

	if err := ledger.Mint(owner, mt(1), alice); !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without a minter, got %v", err)
	}
	if err := ledger.SetMinter(alice, pool); !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected only the owner to set the minter, got %v", err)
	}
	if err := ledger.SetMinter(owner, pool); err != nil {
		t.Fatalf("set minter: %v", err)
	}
	if changed, ok := emitter.last().(events.TokenMinterChanged); !ok || changed.Minter != pool {
		t.Fatalf("unexpected minter event %+v", emitter.last())
	}
	if err := ledger.Mint(owner, mt(1), alice); !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-minter, got %v", err)
	}
	supply, _ := ledger.TotalSupply()
	if !supply.Eq(mt(100)) {
		t.Fatalf("rejected mint changed supply")
	}

	if err := ledger.Mint(pool, mt(6), alice); err != nil {
		t.Fatalf("mint: %v", err)
	}
	supply, _ = ledger.TotalSupply()
	balance, _ := ledger.BalanceOf(alice)
	if !supply.Eq(mt(106)) || !balance.Eq(mt(6)) {
		t.Fatalf("unexpected supply=%s balance=%s", supply.Dec(), balance.Dec())
	}
}

func TestMintOverflowAborts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.SetMinter(owner, pool); err != nil {
		t.Fatalf("set minter: %v", err)
	}
	max := new(uint256.Int).SetAllOne()
	if err := ledger.Mint(pool, max, alice); !errors.Is(err, tberrors.ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
	balance, _ := ledger.BalanceOf(alice)
	if !balance.IsZero() {
		t.Fatalf("overflowing mint credited %s", balance.Dec())
	}
}

func TestSupplyConservedAcrossTransfers(t *testing.T) {
	ledger, _ := newTestLedger(t)
	steps := []struct {
		from, to [20]byte
		amount   *uint256.Int
	}{
		{owner, alice, mt(30)},
		{alice, bob, mt(10)},
		{bob, owner, mt(4)},
		{alice, alice, mt(5)},
		{bob, alice, mt(100)},
	}
	for _, step := range steps {
		_ = ledger.Transfer(step.from, step.to, step.amount)
	}
	sum := new(uint256.Int)
	for _, addr := range [][20]byte{owner, alice, bob} {
		balance, _ := ledger.BalanceOf(addr)
		sum.Add(sum, balance)
	}
	supply, _ := ledger.TotalSupply()
	if !sum.Eq(supply) {
		t.Fatalf("balances sum to %s, supply is %s", sum.Dec(), supply.Dec())
	}
}

func TestNilAmountRejected(t *testing.T) {
	ledger, _ := newTestLedger(t)
	if err := ledger.Transfer(owner, alice, nil); !errors.Is(err, tberrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestOperationsRequireDeployment(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	tr, _ := trie.NewTrie(db, nil)
	ledger := NewLedger(state.NewManager(tr))
	if err := ledger.Transfer(owner, alice, mt(1)); !errors.Is(err, tberrors.ErrNotDeployed) {
		t.Fatalf("expected ErrNotDeployed, got %v", err)
	}
}
