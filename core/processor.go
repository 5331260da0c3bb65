package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/genesis"
	"tinybank/core/state"
	"tinybank/core/types"
	"tinybank/crypto"
	"tinybank/observability"
	"tinybank/observability/metrics"
	tbotel "tinybank/observability/otel"
	"tinybank/storage"
	"tinybank/storage/trie"
)

var (
	ErrChainIDMismatch = errors.New("core: chain id mismatch")
	ErrNonceMismatch   = errors.New("core: nonce mismatch")
	ErrUnknownTxType   = errors.New("core: unknown transaction type")
	ErrMissingField    = errors.New("core: missing transaction field")
)

var headKey = []byte("tinybank/head")

// Head identifies the last sealed block.
type Head struct {
	Height uint64
	Hash   common.Hash
	Root   common.Hash
}

// ReceiptHandler is invoked for every committed transaction, in commit order.
type ReceiptHandler func(*types.Receipt)

// StateProcessor executes signed transactions one at a time. Each transaction
// runs against a copy of the state trie; the copy replaces the live trie only
// when every step succeeded, and events are published only after that commit.
// A successful transaction seals exactly one block.
type StateProcessor struct {
	mu       sync.Mutex
	db       storage.Database
	trie     *trie.Trie
	head     Head
	deployed bool
	chainID  string

	logger   *slog.Logger
	tracer   trace.Tracer
	metrics  *metrics.ChainMetrics
	nowFn    func() time.Time
	handlers []ReceiptHandler
}

// NewStateProcessor opens the state recorded in db. A fresh database starts
// at the empty root and must be initialised with Genesis.
func NewStateProcessor(db storage.Database, chainID string, logger *slog.Logger) (*StateProcessor, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sp := &StateProcessor{
		db:      db,
		chainID: chainID,
		logger:  logger.With(slog.String("component", "processor")),
		tracer:  tbotel.Tracer(),
		metrics: metrics.Chain(),
		nowFn:   time.Now,
	}
	head, found, err := loadHead(db)
	if err != nil {
		return nil, err
	}
	var root []byte
	if found {
		sp.head = *head
		sp.deployed = true
		root = head.Root.Bytes()
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return nil, fmt.Errorf("core: open state at %x: %w", root, err)
	}
	sp.trie = tr
	return sp, nil
}

func loadHead(db storage.Database) (*Head, bool, error) {
	ok, err := db.Has(headKey)
	if err != nil || !ok {
		return nil, false, err
	}
	raw, err := db.Get(headKey)
	if err != nil {
		return nil, false, err
	}
	head := new(Head)
	if err := rlp.DecodeBytes(raw, head); err != nil {
		return nil, false, fmt.Errorf("core: decode head: %w", err)
	}
	return head, true, nil
}

func storeHead(db storage.Database, head Head) error {
	encoded, err := rlp.EncodeToBytes(&head)
	if err != nil {
		return err
	}
	return db.Put(headKey, encoded)
}

// SetNowFunc overrides the clock used for block timestamps.
func (sp *StateProcessor) SetNowFunc(now func() time.Time) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if now == nil {
		now = time.Now
	}
	sp.nowFn = now
}

// Subscribe registers fn to receive every committed receipt.
func (sp *StateProcessor) Subscribe(fn ReceiptHandler) {
	if fn == nil {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	sp.handlers = append(sp.handlers, fn)
}

// ChainID returns the chain identifier transactions must carry.
func (sp *StateProcessor) ChainID() string { return sp.chainID }

// Head returns the last sealed block.
func (sp *StateProcessor) Head() Head {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.head
}

// Deployed reports whether genesis has been applied.
func (sp *StateProcessor) Deployed() bool {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return sp.deployed
}

// Height returns the height of the last sealed block.
func (sp *StateProcessor) Height() uint64 {
	return sp.Head().Height
}

// Genesis applies spec to the empty state and seals it as block zero.
func (sp *StateProcessor) Genesis(spec *genesis.GenesisSpec) (*types.Receipt, error) {
	if spec == nil {
		return nil, fmt.Errorf("core: genesis spec required")
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.deployed {
		return nil, fmt.Errorf("core: genesis: %w", tberrors.ErrAlreadyDeployed)
	}
	if spec.ChainID != sp.chainID {
		return nil, fmt.Errorf("core: genesis chain %q: %w", spec.ChainID, ErrChainIDMismatch)
	}
	work := sp.trie.Copy()
	buf := &events.Buffer{}
	deployment, err := genesis.Apply(spec, state.NewManager(work), buf)
	if err != nil {
		return nil, err
	}
	root, err := work.Commit(0)
	if err != nil {
		return nil, fmt.Errorf("core: commit genesis: %w", err)
	}
	ts := spec.GenesisTimestamp()
	header := &types.Header{Height: 0, StateRoot: root, Timestamp: uint64(ts.Unix())}
	hash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	head := Head{Height: 0, Hash: hash, Root: root}
	if err := storeHead(sp.db, head); err != nil {
		return nil, fmt.Errorf("core: persist head: %w", err)
	}
	sp.trie = work
	sp.head = head
	sp.deployed = true

	receipt := &types.Receipt{
		From:        crypto.FromArray(deployment.Owner).String(),
		Type:        "genesis",
		BlockNumber: 0,
		BlockHash:   hash,
		StateRoot:   root,
		Events:      buf.Rendered(),
	}
	sp.logger.Info("genesis sealed",
		slog.String("root", root.Hex()),
		slog.String("pool", crypto.FromArray(deployment.Pool).String()))
	sp.afterCommit(work, receipt)
	return receipt, nil
}

// Execute verifies and applies tx. On failure no state, nonce or event is
// committed and the error wraps the engine's sentinel.
func (sp *StateProcessor) Execute(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if tx == nil {
		return nil, fmt.Errorf("core: transaction required")
	}
	_, span := sp.tracer.Start(ctx, "tinybank.execute", trace.WithAttributes(
		attribute.String("tx.type", tx.Type.String()),
		attribute.Int64("tx.nonce", int64(tx.Nonce)),
	))
	defer span.End()

	receipt, err := sp.execute(tx)
	outcome := "committed"
	if err != nil {
		outcome = "rejected"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		sp.logger.Warn("transaction rejected",
			slog.String("type", tx.Type.String()),
			slog.String("error", err.Error()))
	} else {
		span.SetAttributes(attribute.Int64("block.height", int64(receipt.BlockNumber)))
	}
	sp.metrics.RecordCall(tx.Type.String(), outcome)
	return receipt, err
}

func (sp *StateProcessor) execute(tx *types.Transaction) (*types.Receipt, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if !sp.deployed {
		return nil, tberrors.ErrNotDeployed
	}
	if tx.ChainID != sp.chainID {
		return nil, fmt.Errorf("%w: got %q want %q", ErrChainIDMismatch, tx.ChainID, sp.chainID)
	}
	if !tx.Type.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
	}
	fromBytes, err := tx.From()
	if errors.Is(err, tberrors.ErrInvalidAmount) {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err != nil {
		return nil, fmt.Errorf("core: recover sender: %w", err)
	}
	from := crypto.MustNewAddress(crypto.TinyBankPrefix, fromBytes).Array()
	txHash, err := tx.Hash()
	if err != nil {
		return nil, err
	}

	work := sp.trie.Copy()
	manager := state.NewManager(work)
	nonce, err := manager.Nonce(from[:])
	if err != nil {
		return nil, err
	}
	if tx.Nonce != nonce {
		return nil, fmt.Errorf("%w: got %d want %d", ErrNonceMismatch, tx.Nonce, nonce)
	}

	height := sp.head.Height + 1
	buf := &events.Buffer{}
	engines, err := newEngines(manager, height, buf)
	if err != nil {
		return nil, err
	}
	if err := dispatch(engines, from, tx); err != nil {
		return nil, err
	}
	if err := manager.SetNonce(from[:], nonce+1); err != nil {
		return nil, err
	}

	root, err := work.Commit(height)
	if err != nil {
		return nil, fmt.Errorf("core: commit block %d: %w", height, err)
	}
	header := &types.Header{
		Height:     height,
		ParentHash: sp.head.Hash,
		StateRoot:  root,
		TxHash:     txHash,
		Timestamp:  uint64(sp.nowFn().Unix()),
	}
	blockHash, err := header.Hash()
	if err != nil {
		return nil, err
	}
	head := Head{Height: height, Hash: blockHash, Root: root}
	if err := storeHead(sp.db, head); err != nil {
		return nil, fmt.Errorf("core: persist head: %w", err)
	}
	sp.trie = work
	sp.head = head

	receipt := &types.Receipt{
		TxHash:      txHash,
		From:        crypto.FromArray(from).String(),
		Type:        tx.Type.String(),
		BlockNumber: height,
		BlockHash:   blockHash,
		StateRoot:   root,
		Events:      buf.Rendered(),
	}
	sp.logger.Debug("block sealed",
		slog.Uint64("height", height),
		slog.String("type", tx.Type.String()),
		slog.String("tx", txHash.Hex()),
		slog.String("root", root.Hex()))
	sp.afterCommit(work, receipt)
	return receipt, nil
}

// afterCommit refreshes metrics and fans the receipt out. Called with mu held.
func (sp *StateProcessor) afterCommit(committed *trie.Trie, receipt *types.Receipt) {
	sp.metrics.SetHeight(receipt.BlockNumber)
	if engines, err := newEngines(state.NewManager(committed.Copy()), sp.head.Height, events.NoopEmitter{}); err == nil {
		supply, _ := engines.Ledger.TotalSupply()
		staked, _ := engines.Pool.TotalStaked()
		sp.metrics.SetTotals(supply, staked)
		if confirmed, _, err := engines.Quorum.Confirmations(); err == nil {
			sp.metrics.SetConfirmations(engines.Quorum.Topic(), confirmed)
		}
	}
	for _, evt := range receipt.Events {
		observability.Events().Record(evt.Type)
	}
	for _, handler := range sp.handlers {
		handler(receipt)
	}
}

// View runs fn against the committed state. Views observe the last sealed
// block as the current block index.
func (sp *StateProcessor) View(fn func(*Engines) error) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if !sp.deployed {
		return tberrors.ErrNotDeployed
	}
	engines, err := newEngines(state.NewManager(sp.trie.Copy()), sp.head.Height, events.NoopEmitter{})
	if err != nil {
		return err
	}
	return fn(engines)
}

// Nonce returns the next nonce expected from addr.
func (sp *StateProcessor) Nonce(addr [20]byte) (uint64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	return state.NewManager(sp.trie.Copy()).Nonce(addr[:])
}

func dispatch(e *Engines, from [20]byte, tx *types.Transaction) error {
	switch tx.Type {
	case types.TxTypeTransfer:
		to, amount, err := targetAndAmount(tx)
		if err != nil {
			return err
		}
		return e.Ledger.Transfer(from, to, amount)
	case types.TxTypeApprove:
		spender, amount, err := targetAndAmount(tx)
		if err != nil {
			return err
		}
		return e.Ledger.Approve(from, spender, amount)
	case types.TxTypeTransferFrom:
		to, amount, err := targetAndAmount(tx)
		if err != nil {
			return err
		}
		owner, err := addressField("owner", tx.Owner)
		if err != nil {
			return err
		}
		return e.Ledger.TransferFrom(from, owner, to, amount)
	case types.TxTypeMint:
		to, amount, err := targetAndAmount(tx)
		if err != nil {
			return err
		}
		return e.Ledger.Mint(from, amount, to)
	case types.TxTypeSetMinter:
		minter, err := addressField("to", tx.To)
		if err != nil {
			return err
		}
		return e.Ledger.SetMinter(from, minter)
	case types.TxTypeStake:
		amount, err := amountField(tx.Amount)
		if err != nil {
			return err
		}
		return e.Pool.Stake(from, amount)
	case types.TxTypeWithdraw:
		amount, err := amountField(tx.Amount)
		if err != nil {
			return err
		}
		return e.Pool.Withdraw(from, amount)
	case types.TxTypeSetRewardPerBlock:
		amount, err := amountField(tx.Amount)
		if err != nil {
			return err
		}
		return e.Pool.SetRewardPerBlock(from, amount)
	case types.TxTypeConfirm:
		_, err := e.Pool.Confirm(from)
		return err
	case types.TxTypeApplyRewardPerBlock:
		return e.Pool.ApplyRewardPerBlock()
	case types.TxTypeCancelRewardPerBlock:
		return e.Pool.CancelRewardPerBlock(from)
	}
	return fmt.Errorf("%w: %s", ErrUnknownTxType, tx.Type)
}

func targetAndAmount(tx *types.Transaction) ([20]byte, *uint256.Int, error) {
	to, err := addressField("to", tx.To)
	if err != nil {
		return [20]byte{}, nil, err
	}
	amount, err := amountField(tx.Amount)
	if err != nil {
		return [20]byte{}, nil, err
	}
	return to, amount, nil
}

func addressField(name string, raw []byte) ([20]byte, error) {
	if len(raw) == 0 {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	addr, err := crypto.NewAddress(crypto.TinyBankPrefix, raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("core: %s: %w", name, err)
	}
	return addr.Array(), nil
}

func amountField(raw *big.Int) (*uint256.Int, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: amount", ErrMissingField)
	}
	amount, overflow := uint256.FromBig(raw)
	if overflow {
		return nil, fmt.Errorf("core: amount: %w", tberrors.ErrOverflow)
	}
	return amount, nil
}
