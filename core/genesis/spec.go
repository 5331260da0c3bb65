package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"tinybank/crypto"
	"tinybank/native/token"
)

// GenesisSpec describes the initial deployment of the ledger, the staking
// pool and its manager quorum.
type GenesisSpec struct {
	GenesisTime string      `json:"genesisTime"`
	ChainID     string      `json:"chainId"`
	Owner       string      `json:"owner"`
	Token       TokenSpec   `json:"token"`
	Staking     StakingSpec `json:"staking"`

	genesisTimestamp time.Time
	ownerAddr        [20]byte
	initialSupply    *uint256.Int
	rewardPerBlock   *uint256.Int
	managers         [][20]byte
}

type TokenSpec struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
	// InitialSupply is expressed in whole tokens and scaled by 10^decimals.
	InitialSupply string `json:"initialSupply"`
}

type StakingSpec struct {
	// RewardPerBlock is expressed in whole tokens and may carry a fraction.
	RewardPerBlock string   `json:"rewardPerBlock"`
	Managers       []string `json:"managers"`
}

// LoadGenesisSpec reads and validates a JSON genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }
func (s *GenesisSpec) OwnerAddress() [20]byte      { return s.ownerAddr }

// InitialSupply returns the whole-token supply minted to the owner.
func (s *GenesisSpec) InitialSupply() *uint256.Int {
	if s.initialSupply == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(s.initialSupply)
}

// RewardPerBlock returns the initial reward rate in base units.
func (s *GenesisSpec) RewardPerBlock() *uint256.Int {
	if s.rewardPerBlock == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(s.rewardPerBlock)
}

func (s *GenesisSpec) Managers() [][20]byte {
	return append([][20]byte(nil), s.managers...)
}

// Validate checks every field and resolves the typed values used when the
// spec is applied.
func (s *GenesisSpec) Validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	if strings.TrimSpace(s.ChainID) == "" {
		return fmt.Errorf("chainId must be provided")
	}
	owner, err := crypto.ParseAddress(s.Owner)
	if err != nil {
		return fmt.Errorf("owner: %w", err)
	}
	s.ownerAddr = owner

	if strings.TrimSpace(s.Token.Name) == "" || strings.TrimSpace(s.Token.Symbol) == "" {
		return fmt.Errorf("token: name and symbol must be provided")
	}
	if s.Token.Decimals > token.MaxDecimals {
		return fmt.Errorf("token: decimals must be <= %d", token.MaxDecimals)
	}
	supply, err := token.ParseUnits(s.Token.InitialSupply, 0)
	if err != nil {
		return fmt.Errorf("token.initialSupply: %w", err)
	}
	if _, overflow := new(uint256.Int).MulOverflow(supply, token.Unit(s.Token.Decimals)); overflow {
		return fmt.Errorf("token.initialSupply: scaled supply exceeds 256 bits")
	}
	s.initialSupply = supply

	reward, err := token.ParseUnits(s.Staking.RewardPerBlock, s.Token.Decimals)
	if err != nil {
		return fmt.Errorf("staking.rewardPerBlock: %w", err)
	}
	s.rewardPerBlock = reward

	if len(s.Staking.Managers) == 0 {
		return fmt.Errorf("staking.managers: at least one manager required")
	}
	seen := make(map[[20]byte]struct{}, len(s.Staking.Managers))
	managers := make([][20]byte, 0, len(s.Staking.Managers))
	for i, raw := range s.Staking.Managers {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("staking.managers[%d]: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("staking.managers[%d]: duplicate manager %q", i, raw)
		}
		seen[addr] = struct{}{}
		managers = append(managers, addr)
	}
	s.managers = managers
	return nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
