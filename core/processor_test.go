package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/genesis"
	"tinybank/core/types"
	"tinybank/crypto"
	"tinybank/native/token"
	"tinybank/storage"
)

const testChainID = "tinybank-test"

type harness struct {
	sp       *StateProcessor
	owner    *crypto.PrivateKey
	managers []*crypto.PrivateKey
	alice    *crypto.PrivateKey
	pool     [20]byte
}

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func addrOf(key *crypto.PrivateKey) [20]byte {
	return key.PubKey().Address().Array()
}

func mt(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), token.Unit(18))
}

func testGenesis(owner *crypto.PrivateKey, managers []*crypto.PrivateKey) *genesis.GenesisSpec {
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		ChainID:     testChainID,
		Owner:       owner.PubKey().Address().String(),
		Token:       genesis.TokenSpec{Name: "MyToken", Symbol: "MT", Decimals: 18, InitialSupply: "100"},
		Staking:     genesis.StakingSpec{RewardPerBlock: "1"},
	}
	for _, m := range managers {
		spec.Staking.Managers = append(spec.Staking.Managers, m.PubKey().Address().String())
	}
	return spec
}

func newHarness(t *testing.T, db storage.Database, managerCount int) *harness {
	t.Helper()
	sp, err := NewStateProcessor(db, testChainID, nil)
	if err != nil {
		t.Fatalf("new processor: %v", err)
	}
	h := &harness{sp: sp, owner: mustKey(t), alice: mustKey(t)}
	for i := 0; i < managerCount; i++ {
		h.managers = append(h.managers, mustKey(t))
	}
	if _, err := sp.Genesis(testGenesis(h.owner, h.managers)); err != nil {
		t.Fatalf("genesis: %v", err)
	}
	if err := sp.View(func(e *Engines) error {
		h.pool = e.Deployment.Pool
		return nil
	}); err != nil {
		t.Fatalf("view deployment: %v", err)
	}
	return h
}

func (h *harness) tx(t *testing.T, key *crypto.PrivateKey, txType types.TxType, to []byte, amount *uint256.Int) *types.Transaction {
	t.Helper()
	nonce, err := h.sp.Nonce(addrOf(key))
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	tx := &types.Transaction{ChainID: testChainID, Type: txType, Nonce: nonce, To: to}
	if amount != nil {
		tx.Amount = amount.ToBig()
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func (h *harness) send(t *testing.T, key *crypto.PrivateKey, txType types.TxType, to []byte, amount *uint256.Int) *types.Receipt {
	t.Helper()
	receipt, err := h.sp.Execute(context.Background(), h.tx(t, key, txType, to, amount))
	if err != nil {
		t.Fatalf("%s: %v", txType, err)
	}
	return receipt
}

func (h *harness) balance(t *testing.T, addr [20]byte) *uint256.Int {
	t.Helper()
	var out *uint256.Int
	if err := h.sp.View(func(e *Engines) error {
		var err error
		out, err = e.Ledger.BalanceOf(addr)
		return err
	}); err != nil {
		t.Fatalf("balance: %v", err)
	}
	return out
}

func TestStakeTransferWithdrawEarnsSixBlocks(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 1)
	owner := addrOf(h.owner)

	h.send(t, h.owner, types.TxTypeApprove, h.pool[:], mt(50))
	stakeReceipt := h.send(t, h.owner, types.TxTypeStake, nil, mt(50))
	for i := 0; i < 5; i++ {
		h.send(t, h.owner, types.TxTypeTransfer, owner[:], mt(1))
	}
	withdrawReceipt := h.send(t, h.owner, types.TxTypeWithdraw, nil, mt(50))

	if withdrawReceipt.BlockNumber-stakeReceipt.BlockNumber != 6 {
		t.Fatalf("unexpected block distance %d", withdrawReceipt.BlockNumber-stakeReceipt.BlockNumber)
	}
	if got := h.balance(t, owner); !got.Eq(mt(106)) {
		t.Fatalf("owner balance %s, want 106 MT", got.Dec())
	}
	var sawReward bool
	for _, evt := range withdrawReceipt.Events {
		if evt.Type == events.TypeStakingReward {
			sawReward = true
			if evt.Attributes["amount"] != mt(6).Dec() {
				t.Fatalf("unexpected reward %s", evt.Attributes["amount"])
			}
		}
	}
	if !sawReward {
		t.Fatalf("withdraw receipt carries no reward event: %+v", withdrawReceipt.Events)
	}
	if h.sp.Height() != withdrawReceipt.BlockNumber {
		t.Fatalf("height %d does not match last receipt %d", h.sp.Height(), withdrawReceipt.BlockNumber)
	}
}

func TestFailedCallLeavesStateUntouched(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 1)
	owner := addrOf(h.owner)
	alice := addrOf(h.alice)
	before := h.sp.Head()

	_, err := h.sp.Execute(context.Background(), h.tx(t, h.owner, types.TxTypeTransfer, alice[:], mt(101)))
	if !errors.Is(err, tberrors.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if h.sp.Head() != before {
		t.Fatalf("failed call moved the head")
	}
	if nonce, _ := h.sp.Nonce(owner); nonce != 0 {
		t.Fatalf("failed call consumed nonce %d", nonce)
	}
	if got := h.balance(t, owner); !got.Eq(mt(100)) {
		t.Fatalf("failed call changed balance to %s", got.Dec())
	}

	// Reward minting fails after the pool has already pulled the deposit:
	// nothing of the partial stake may survive.
	h.send(t, h.owner, types.TxTypeSetMinter, owner[:], nil)
	h.send(t, h.owner, types.TxTypeApprove, h.pool[:], mt(20))
	h.send(t, h.owner, types.TxTypeStake, nil, mt(10))
	h.send(t, h.owner, types.TxTypeTransfer, owner[:], mt(1))
	head := h.sp.Head()
	_, err = h.sp.Execute(context.Background(), h.tx(t, h.owner, types.TxTypeStake, nil, mt(10)))
	if !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected reward mint to fail, got %v", err)
	}
	if h.sp.Head() != head {
		t.Fatalf("failed stake moved the head")
	}
	if err := h.sp.View(func(e *Engines) error {
		staked, err := e.Pool.Staked(owner)
		if err != nil {
			return err
		}
		if !staked.Eq(mt(10)) {
			t.Fatalf("partial stake survived: %s", staked.Dec())
		}
		held, _ := e.Ledger.BalanceOf(h.pool)
		if !held.Eq(mt(10)) {
			t.Fatalf("pool balance %s, want 10 MT", held.Dec())
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestReplayAndChainChecks(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 1)
	alice := addrOf(h.alice)

	tx := h.tx(t, h.owner, types.TxTypeTransfer, alice[:], mt(1))
	if _, err := h.sp.Execute(context.Background(), tx); err != nil {
		t.Fatalf("first execution: %v", err)
	}
	if _, err := h.sp.Execute(context.Background(), tx); !errors.Is(err, ErrNonceMismatch) {
		t.Fatalf("expected replay to fail with ErrNonceMismatch, got %v", err)
	}

	foreign := &types.Transaction{ChainID: "other", Type: types.TxTypeTransfer, Nonce: 1, To: alice[:], Amount: big.NewInt(1)}
	if err := foreign.Sign(h.owner.PrivateKey); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := h.sp.Execute(context.Background(), foreign); !errors.Is(err, ErrChainIDMismatch) {
		t.Fatalf("expected ErrChainIDMismatch, got %v", err)
	}

	unsigned := &types.Transaction{ChainID: testChainID, Type: types.TxTypeTransfer, Nonce: 1, To: alice[:], Amount: big.NewInt(1)}
	if _, err := h.sp.Execute(context.Background(), unsigned); err == nil {
		t.Fatalf("expected unsigned transaction to be rejected")
	}

	missing := h.tx(t, h.owner, types.TxTypeTransfer, nil, mt(1))
	if _, err := h.sp.Execute(context.Background(), missing); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestRejectedCallCannotBeRefilledWithZeroAmount(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 2)

	h.send(t, h.owner, types.TxTypeSetRewardPerBlock, nil, mt(5))
	h.send(t, h.managers[0], types.TxTypeConfirm, nil, nil)

	omitted := h.tx(t, h.owner, types.TxTypeSetRewardPerBlock, nil, nil)
	if _, err := h.sp.Execute(context.Background(), omitted); !errors.Is(err, ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	refilled := &types.Transaction{
		ChainID: omitted.ChainID,
		Type:    omitted.Type,
		Nonce:   omitted.Nonce,
		Amount:  new(big.Int),
		R:       omitted.R,
		S:       omitted.S,
		V:       omitted.V,
	}
	if _, err := h.sp.Execute(context.Background(), refilled); err == nil {
		t.Fatalf("zero amount executed under the owner's signature")
	}
	if err := h.sp.View(func(e *Engines) error {
		pending, ok, err := e.Quorum.Pending()
		if err != nil {
			return err
		}
		if !ok || pending.Value == nil || !pending.Value.Eq(mt(5)) {
			t.Fatalf("pending rate changed: %+v", pending)
		}
		confirmed, _, err := e.Quorum.Confirmations()
		if err != nil {
			return err
		}
		if confirmed != 1 {
			t.Fatalf("confirmations %d, want 1", confirmed)
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestNegativeAmountReportsInvalidAmount(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 1)

	tx := h.tx(t, h.owner, types.TxTypeStake, nil, mt(1))
	tx.Amount = big.NewInt(-5)
	if _, err := h.sp.Execute(context.Background(), tx); !errors.Is(err, tberrors.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestRateChangeThroughQuorum(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 3)

	_, err := h.sp.Execute(context.Background(), h.tx(t, h.alice, types.TxTypeSetRewardPerBlock, nil, mt(10000)))
	if !errors.Is(err, tberrors.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	h.send(t, h.owner, types.TxTypeSetRewardPerBlock, nil, mt(5))
	_, err = h.sp.Execute(context.Background(), h.tx(t, h.alice, types.TxTypeConfirm, nil, nil))
	if !errors.Is(err, tberrors.ErrNotAManager) {
		t.Fatalf("expected ErrNotAManager, got %v", err)
	}
	h.send(t, h.managers[0], types.TxTypeConfirm, nil, nil)
	h.send(t, h.managers[1], types.TxTypeConfirm, nil, nil)
	_, err = h.sp.Execute(context.Background(), h.tx(t, h.alice, types.TxTypeApplyRewardPerBlock, nil, nil))
	if !errors.Is(err, tberrors.ErrQuorumNotMet) {
		t.Fatalf("expected ErrQuorumNotMet, got %v", err)
	}
	receipt := h.send(t, h.managers[2], types.TxTypeConfirm, nil, nil)

	var applied bool
	for _, evt := range receipt.Events {
		if evt.Type == events.TypeStakingRateApplied {
			applied = true
		}
	}
	if !applied {
		t.Fatalf("final confirmation did not apply the rate: %+v", receipt.Events)
	}
	if err := h.sp.View(func(e *Engines) error {
		rate, err := e.Pool.RewardPerBlock()
		if err != nil {
			return err
		}
		if !rate.Eq(mt(5)) {
			t.Fatalf("rate %s, want 5 MT", rate.Dec())
		}
		return nil
	}); err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestSubscribersSeeOnlyCommittedReceipts(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	h := newHarness(t, db, 1)
	alice := addrOf(h.alice)

	var received []*types.Receipt
	h.sp.Subscribe(func(r *types.Receipt) { received = append(received, r) })

	_, _ = h.sp.Execute(context.Background(), h.tx(t, h.owner, types.TxTypeTransfer, alice[:], mt(500)))
	h.send(t, h.owner, types.TxTypeTransfer, alice[:], mt(2))
	if len(received) != 1 {
		t.Fatalf("expected one committed receipt, got %d", len(received))
	}
	if received[0].Events[0].Type != events.TypeTokenTransfer {
		t.Fatalf("unexpected events %+v", received[0].Events)
	}
}

func TestStateSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	h := newHarness(t, db, 1)
	alice := addrOf(h.alice)
	h.send(t, h.owner, types.TxTypeTransfer, alice[:], mt(7))
	head := h.sp.Head()
	db.Close()

	reopened, err := storage.NewLevelDB(path)
	if err != nil {
		t.Fatalf("reopen leveldb: %v", err)
	}
	defer reopened.Close()
	sp, err := NewStateProcessor(reopened, testChainID, nil)
	if err != nil {
		t.Fatalf("reopen processor: %v", err)
	}
	if sp.Head() != head {
		t.Fatalf("head not restored: %+v vs %+v", sp.Head(), head)
	}
	if _, err := sp.Genesis(testGenesis(h.owner, h.managers)); !errors.Is(err, tberrors.ErrAlreadyDeployed) {
		t.Fatalf("expected second genesis to fail, got %v", err)
	}
	h.sp = sp
	if got := h.balance(t, alice); !got.Eq(mt(7)) {
		t.Fatalf("alice balance %s after reopen", got.Dec())
	}
	if nonce, _ := sp.Nonce(addrOf(h.owner)); nonce != 1 {
		t.Fatalf("nonce %d after reopen", nonce)
	}
}
