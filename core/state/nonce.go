package state

import "fmt"

// Nonce returns the next transaction nonce expected from addr.
func (m *Manager) Nonce(addr []byte) (uint64, error) {
	if m == nil {
		return 0, fmt.Errorf("state manager unavailable")
	}
	var nonce uint64
	if _, err := m.KVGet(AccountNonceKey(addr), &nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}

// SetNonce records the next transaction nonce expected from addr.
func (m *Manager) SetNonce(addr []byte, nonce uint64) error {
	if m == nil {
		return fmt.Errorf("state manager unavailable")
	}
	return m.KVPut(AccountNonceKey(addr), nonce)
}
