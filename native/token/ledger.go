package token

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
)

// MaxDecimals is the largest scale whose unit (10^decimals) still fits in 256
// bits.
const MaxDecimals = 77

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Metadata is the persisted descriptor of the ledger.
type Metadata struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *uint256.Int
	Owner       [20]byte
	Minter      [20]byte
	HasMinter   bool
}

// Ledger keeps balances and allowances of a single fungible asset. New supply
// can only be created by the registered minter, and only the owner recorded at
// deployment may replace that minter.
type Ledger struct {
	state   engineState
	emitter events.Emitter
}

// NewLedger constructs a ledger engine over the supplied state.
func NewLedger(state engineState) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for ledger events.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

func (l *Ledger) emit(evt events.Event) {
	if l.emitter != nil {
		l.emitter.Emit(evt)
	}
}

// Deploy initialises the ledger and credits initialSupply whole tokens, scaled
// by 10^decimals, to owner.
func (l *Ledger) Deploy(owner [20]byte, name, symbol string, decimals uint8, initialSupply *uint256.Int) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("token: state unavailable")
	}
	ok, err := l.state.KVGet(state.TokenMetadataKey(), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("token: deploy: %w", tberrors.ErrAlreadyDeployed)
	}
	name = strings.TrimSpace(name)
	symbol = strings.TrimSpace(symbol)
	if name == "" || symbol == "" {
		return fmt.Errorf("token: deploy: name and symbol required")
	}
	if decimals > MaxDecimals {
		return fmt.Errorf("token: deploy: decimals %d exceed %d: %w", decimals, MaxDecimals, tberrors.ErrOverflow)
	}
	if initialSupply == nil {
		initialSupply = new(uint256.Int)
	}
	minted, overflow := new(uint256.Int).MulOverflow(initialSupply, Unit(decimals))
	if overflow {
		return fmt.Errorf("token: deploy: initial supply: %w", tberrors.ErrOverflow)
	}
	meta := &Metadata{
		Name:        name,
		Symbol:      symbol,
		Decimals:    decimals,
		TotalSupply: minted,
		Owner:       owner,
	}
	if err := l.putMetadata(meta); err != nil {
		return err
	}
	if err := l.putBalance(owner, minted); err != nil {
		return err
	}
	l.emit(events.TokenMint{To: owner, Amount: new(uint256.Int).Set(minted), TotalSupply: new(uint256.Int).Set(minted)})
	return nil
}

// Unit returns 10^decimals.
func Unit(decimals uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
}

// Metadata returns a copy of the persisted ledger descriptor.
func (l *Ledger) Metadata() (*Metadata, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: state unavailable")
	}
	meta := new(Metadata)
	ok, err := l.state.KVGet(state.TokenMetadataKey(), meta)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tberrors.ErrNotDeployed
	}
	if meta.TotalSupply == nil {
		meta.TotalSupply = new(uint256.Int)
	}
	return meta, nil
}

func (l *Ledger) putMetadata(meta *Metadata) error {
	return l.state.KVPut(state.TokenMetadataKey(), meta)
}

func (l *Ledger) Name() (string, error) {
	meta, err := l.Metadata()
	if err != nil {
		return "", err
	}
	return meta.Name, nil
}

func (l *Ledger) Symbol() (string, error) {
	meta, err := l.Metadata()
	if err != nil {
		return "", err
	}
	return meta.Symbol, nil
}

func (l *Ledger) Decimals() (uint8, error) {
	meta, err := l.Metadata()
	if err != nil {
		return 0, err
	}
	return meta.Decimals, nil
}

func (l *Ledger) TotalSupply() (*uint256.Int, error) {
	meta, err := l.Metadata()
	if err != nil {
		return nil, err
	}
	return meta.TotalSupply, nil
}

// Owner returns the identity allowed to replace the minter.
func (l *Ledger) Owner() ([20]byte, error) {
	meta, err := l.Metadata()
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Owner, nil
}

// Minter returns the registered minter. The boolean is false when none has
// been set.
func (l *Ledger) Minter() ([20]byte, bool, error) {
	meta, err := l.Metadata()
	if err != nil {
		return [20]byte{}, false, err
	}
	return meta.Minter, meta.HasMinter, nil
}

// BalanceOf returns the balance held by addr. Unknown accounts hold zero.
func (l *Ledger) BalanceOf(addr [20]byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: state unavailable")
	}
	balance := new(uint256.Int)
	if _, err := l.state.KVGet(state.TokenBalanceKey(addr[:]), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

func (l *Ledger) putBalance(addr [20]byte, amount *uint256.Int) error {
	return l.state.KVPut(state.TokenBalanceKey(addr[:]), amount)
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender [20]byte) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, fmt.Errorf("token: state unavailable")
	}
	allowance := new(uint256.Int)
	if _, err := l.state.KVGet(state.TokenAllowanceKey(owner[:], spender[:]), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

func (l *Ledger) putAllowance(owner, spender [20]byte, amount *uint256.Int) error {
	return l.state.KVPut(state.TokenAllowanceKey(owner[:], spender[:]), amount)
}

// Transfer moves amount from the caller's balance to to.
func (l *Ledger) Transfer(from, to [20]byte, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("token: transfer: %w", tberrors.ErrInvalidAmount)
	}
	if _, err := l.Metadata(); err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	if err := l.move(from, to, amount); err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	l.emit(events.TokenTransfer{From: from, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

func (l *Ledger) move(from, to [20]byte, amount *uint256.Int) error {
	fromBalance, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBalance.Lt(amount) {
		return tberrors.ErrInsufficientBalance
	}
	if from == to {
		return nil
	}
	toBalance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(toBalance, amount)
	if overflow {
		return tberrors.ErrOverflow
	}
	if err := l.putBalance(from, new(uint256.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.putBalance(to, credited)
}

// Approve overwrites the allowance owner grants to spender.
func (l *Ledger) Approve(owner, spender [20]byte, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("token: approve: %w", tberrors.ErrInvalidAmount)
	}
	if _, err := l.Metadata(); err != nil {
		return fmt.Errorf("token: approve: %w", err)
	}
	if err := l.putAllowance(owner, spender, amount); err != nil {
		return err
	}
	l.emit(events.TokenApproval{Owner: owner, Spender: spender, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// TransferFrom lets spender move amount from owner to to, consuming the
// allowance owner granted. The allowance is checked before the balance.
func (l *Ledger) TransferFrom(spender, owner, to [20]byte, amount *uint256.Int) error {
	if amount == nil {
		return fmt.Errorf("token: transferFrom: %w", tberrors.ErrInvalidAmount)
	}
	if _, err := l.Metadata(); err != nil {
		return fmt.Errorf("token: transferFrom: %w", err)
	}
	allowance, err := l.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("token: transferFrom: %w", tberrors.ErrInsufficientAllowance)
	}
	if err := l.move(owner, to, amount); err != nil {
		return fmt.Errorf("token: transferFrom: %w", err)
	}
	if err := l.putAllowance(owner, spender, new(uint256.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	l.emit(events.TokenTransfer{From: owner, To: to, Amount: new(uint256.Int).Set(amount)})
	return nil
}

// Mint credits amount of new supply to to. Only the registered minter may
// call it.
func (l *Ledger) Mint(caller [20]byte, amount *uint256.Int, to [20]byte) error {
	if amount == nil {
		return fmt.Errorf("token: mint: %w", tberrors.ErrInvalidAmount)
	}
	meta, err := l.Metadata()
	if err != nil {
		return fmt.Errorf("token: mint: %w", err)
	}
	if !meta.HasMinter || meta.Minter != caller {
		return fmt.Errorf("token: mint: %w", tberrors.ErrUnauthorized)
	}
	supply, overflow := new(uint256.Int).AddOverflow(meta.TotalSupply, amount)
	if overflow {
		return fmt.Errorf("token: mint: supply: %w", tberrors.ErrOverflow)
	}
	balance, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	credited, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("token: mint: balance: %w", tberrors.ErrOverflow)
	}
	meta.TotalSupply = supply
	if err := l.putMetadata(meta); err != nil {
		return err
	}
	if err := l.putBalance(to, credited); err != nil {
		return err
	}
	l.emit(events.TokenMint{To: to, Amount: new(uint256.Int).Set(amount), TotalSupply: new(uint256.Int).Set(supply)})
	return nil
}

// SetMinter replaces the registered minter. Only the ledger owner may call it.
func (l *Ledger) SetMinter(caller, minter [20]byte) error {
	meta, err := l.Metadata()
	if err != nil {
		return fmt.Errorf("token: setMinter: %w", err)
	}
	if meta.Owner != caller {
		return fmt.Errorf("token: setMinter: %w", tberrors.ErrUnauthorized)
	}
	previous, hadPrevious := meta.Minter, meta.HasMinter
	meta.Minter = minter
	meta.HasMinter = true
	if err := l.putMetadata(meta); err != nil {
		return err
	}
	l.emit(events.TokenMinterChanged{Previous: previous, HadPrevious: hadPrevious, Minter: minter})
	return nil
}
