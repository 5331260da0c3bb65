package config

import (
	"fmt"
	"net/netip"
	"strings"

	"tinybank/crypto"
	"tinybank/native/token"
)

// Validate rejects configurations the node cannot start from.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("DataDir must be set")
	}
	if strings.TrimSpace(cfg.ChainID) == "" {
		return fmt.Errorf("ChainID must be set")
	}
	if cfg.RPC.RequestsPerMinute < 0 || cfg.RPC.Burst < 0 {
		return fmt.Errorf("rpc: rate limits must not be negative")
	}
	for i, raw := range cfg.RPC.TrustedProxies {
		entry := strings.TrimSpace(raw)
		var err error
		if strings.Contains(entry, "/") {
			_, err = netip.ParsePrefix(entry)
		} else {
			_, err = netip.ParseAddr(entry)
		}
		if err != nil {
			return fmt.Errorf("rpc: TrustedProxies[%d]: %w", i, err)
		}
	}
	if strings.TrimSpace(cfg.GenesisFile) != "" {
		return nil
	}
	if cfg.Token.Decimals > token.MaxDecimals {
		return fmt.Errorf("token: Decimals must be <= %d", token.MaxDecimals)
	}
	if strings.TrimSpace(cfg.Token.Name) == "" || strings.TrimSpace(cfg.Token.Symbol) == "" {
		return fmt.Errorf("token: Name and Symbol must be set")
	}
	if _, err := token.ParseUnits(cfg.Token.InitialSupply, 0); err != nil {
		return fmt.Errorf("token: InitialSupply: %w", err)
	}
	if _, err := token.ParseUnits(cfg.Staking.RewardPerBlock, cfg.Token.Decimals); err != nil {
		return fmt.Errorf("staking: RewardPerBlock: %w", err)
	}
	if len(cfg.Staking.Managers) == 0 {
		return fmt.Errorf("staking: at least one manager required")
	}
	seen := make(map[[20]byte]struct{}, len(cfg.Staking.Managers))
	for i, raw := range cfg.Staking.Managers {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("staking: Managers[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("staking: Managers[%d]: duplicate manager %s", i, raw)
		}
		seen[addr] = struct{}{}
	}
	return nil
}
