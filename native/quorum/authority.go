package quorum

import (
	"fmt"

	"github.com/holiman/uint256"

	tberrors "tinybank/core/errors"
	"tinybank/core/events"
	"tinybank/core/state"
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Pending is a privileged value awaiting confirmation together with the
// managers that have confirmed it so far, in confirmation order.
type Pending struct {
	Value       *uint256.Int
	ConfirmedBy [][20]byte
}

type record struct {
	Managers    [][20]byte
	HasPending  bool
	Value       *uint256.Int
	ConfirmedBy [][20]byte
}

// Authority gates a single privileged value behind the unanimous confirmation
// of a fixed manager set. Each topic keeps its own manager set and pending
// value.
type Authority struct {
	state   engineState
	topic   string
	emitter events.Emitter
}

// NewAuthority returns the authority guarding topic.
func NewAuthority(state engineState, topic string) *Authority {
	return &Authority{state: state, topic: topic, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter used for confirmation events.
func (a *Authority) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// Topic returns the name of the value this authority guards.
func (a *Authority) Topic() string { return a.topic }

func (a *Authority) load() (*record, error) {
	if a == nil || a.state == nil {
		return nil, fmt.Errorf("quorum: state unavailable")
	}
	rec := new(record)
	ok, err := a.state.KVGet(state.QuorumKey(a.topic), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, tberrors.ErrNotDeployed
	}
	return rec, nil
}

func (a *Authority) store(rec *record) error {
	if rec.Value == nil {
		rec.Value = new(uint256.Int)
	}
	return a.state.KVPut(state.QuorumKey(a.topic), rec)
}

// Install records the manager set. It can only be called once per topic;
// the set is fixed afterwards.
func (a *Authority) Install(managers [][20]byte) error {
	if a == nil || a.state == nil {
		return fmt.Errorf("quorum: state unavailable")
	}
	ok, err := a.state.KVGet(state.QuorumKey(a.topic), nil)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("quorum: install %s: %w", a.topic, tberrors.ErrAlreadyDeployed)
	}
	if len(managers) == 0 {
		return fmt.Errorf("quorum: install %s: at least one manager required", a.topic)
	}
	seen := make(map[[20]byte]struct{}, len(managers))
	set := make([][20]byte, 0, len(managers))
	for _, m := range managers {
		if m == ([20]byte{}) {
			return fmt.Errorf("quorum: install %s: zero address is not a valid manager", a.topic)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("quorum: install %s: duplicate manager %x", a.topic, m)
		}
		seen[m] = struct{}{}
		set = append(set, m)
	}
	return a.store(&record{Managers: set})
}

// Managers returns the installed manager set in installation order.
func (a *Authority) Managers() ([][20]byte, error) {
	rec, err := a.load()
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), rec.Managers...), nil
}

// IsManager reports whether addr belongs to the manager set.
func (a *Authority) IsManager(addr [20]byte) (bool, error) {
	rec, err := a.load()
	if err != nil {
		return false, err
	}
	return rec.isManager(addr), nil
}

func (r *record) isManager(addr [20]byte) bool {
	for _, m := range r.Managers {
		if m == addr {
			return true
		}
	}
	return false
}

func (r *record) confirmed(addr [20]byte) bool {
	for _, c := range r.ConfirmedBy {
		if c == addr {
			return true
		}
	}
	return false
}

func (r *record) reached() bool {
	return r.HasPending && len(r.ConfirmedBy) == len(r.Managers)
}

// Pending returns the value awaiting confirmation. The boolean is false when
// nothing is pending.
func (a *Authority) Pending() (*Pending, bool, error) {
	rec, err := a.load()
	if err != nil {
		return nil, false, err
	}
	if !rec.HasPending {
		return nil, false, nil
	}
	return &Pending{
		Value:       new(uint256.Int).Set(rec.Value),
		ConfirmedBy: append([][20]byte(nil), rec.ConfirmedBy...),
	}, true, nil
}

// Confirmations returns how many managers confirmed the pending value and
// how many are required.
func (a *Authority) Confirmations() (int, int, error) {
	rec, err := a.load()
	if err != nil {
		return 0, 0, err
	}
	return len(rec.ConfirmedBy), len(rec.Managers), nil
}

// IsQuorumReached reports whether a value is pending and every manager has
// confirmed it.
func (a *Authority) IsQuorumReached() (bool, error) {
	rec, err := a.load()
	if err != nil {
		return false, err
	}
	return rec.reached(), nil
}

// Propose registers value as pending. Any previous pending value and its
// confirmations are discarded.
func (a *Authority) Propose(value *uint256.Int) error {
	if value == nil {
		return fmt.Errorf("quorum: propose: %w", tberrors.ErrInvalidAmount)
	}
	rec, err := a.load()
	if err != nil {
		return fmt.Errorf("quorum: propose: %w", err)
	}
	rec.HasPending = true
	rec.Value = new(uint256.Int).Set(value)
	rec.ConfirmedBy = nil
	return a.store(rec)
}

// Confirm marks the pending value as confirmed by caller. Confirming twice is
// a no-op.
func (a *Authority) Confirm(caller [20]byte) error {
	rec, err := a.load()
	if err != nil {
		return fmt.Errorf("quorum: confirm: %w", err)
	}
	if !rec.isManager(caller) {
		return fmt.Errorf("quorum: confirm: %w", tberrors.ErrNotAManager)
	}
	if !rec.HasPending {
		return fmt.Errorf("quorum: confirm: %w", tberrors.ErrNoPendingChange)
	}
	if rec.confirmed(caller) {
		return nil
	}
	rec.ConfirmedBy = append(rec.ConfirmedBy, caller)
	if err := a.store(rec); err != nil {
		return err
	}
	a.emitter.Emit(events.QuorumConfirmed{
		Topic:     a.topic,
		Manager:   caller,
		Confirmed: len(rec.ConfirmedBy),
		Required:  len(rec.Managers),
	})
	return nil
}

// Apply consumes the pending value once every manager has confirmed it and
// clears the confirmation set.
func (a *Authority) Apply() (*uint256.Int, error) {
	rec, err := a.load()
	if err != nil {
		return nil, fmt.Errorf("quorum: apply: %w", err)
	}
	if !rec.reached() {
		return nil, fmt.Errorf("quorum: apply: %w", tberrors.ErrQuorumNotMet)
	}
	value := new(uint256.Int).Set(rec.Value)
	rec.HasPending = false
	rec.Value = nil
	rec.ConfirmedBy = nil
	if err := a.store(rec); err != nil {
		return nil, err
	}
	return value, nil
}

// Reset discards the pending value without applying it.
func (a *Authority) Reset() error {
	rec, err := a.load()
	if err != nil {
		return fmt.Errorf("quorum: reset: %w", err)
	}
	if !rec.HasPending {
		return fmt.Errorf("quorum: reset: %w", tberrors.ErrNoPendingChange)
	}
	rec.HasPending = false
	rec.Value = nil
	rec.ConfirmedBy = nil
	if err := a.store(rec); err != nil {
		return err
	}
	a.emitter.Emit(events.QuorumReset{Topic: a.topic})
	return nil
}
