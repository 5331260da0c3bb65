package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tinybank/core/genesis"
	"tinybank/crypto"
)

const (
	DefaultChainID     = "tinybank-local"
	DefaultGenesisTime = "2024-01-01T00:00:00Z"
)

type Config struct {
	RPCAddress        string `toml:"RPCAddress"`
	DataDir           string `toml:"DataDir"`
	ChainID           string `toml:"ChainID"`
	Environment       string `toml:"Environment"`
	LogLevel          string `toml:"LogLevel"`
	GenesisFile       string `toml:"GenesisFile"`
	GenesisTime       string `toml:"GenesisTime"`
	OwnerKeystorePath string `toml:"OwnerKeystorePath"`

	Token     TokenConfig     `toml:"token"`
	Staking   StakingConfig   `toml:"staking"`
	RPC       RPCConfig       `toml:"rpc"`
	Indexer   IndexerConfig   `toml:"indexer"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// TokenConfig describes the ledger deployed at genesis.
type TokenConfig struct {
	Name          string `toml:"Name"`
	Symbol        string `toml:"Symbol"`
	Decimals      uint8  `toml:"Decimals"`
	InitialSupply string `toml:"InitialSupply"` // whole tokens
}

// StakingConfig describes the pool deployed at genesis.
type StakingConfig struct {
	RewardPerBlock string   `toml:"RewardPerBlock"` // whole tokens, fractions allowed
	Managers       []string `toml:"Managers"`
}

type RPCConfig struct {
	// JWTSecret signs bearer tokens accepted by tb_sendTransaction. An empty
	// secret together with an empty JWTSecretEnv disables authentication.
	JWTSecret         string  `toml:"JWTSecret"`
	JWTSecretEnv      string  `toml:"JWTSecretEnv"`
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
	ReadHeaderTimeout int     `toml:"ReadHeaderTimeout"` // seconds
	// TrustedProxies lists reverse proxy IPs or CIDRs allowed to report the
	// client address in X-Forwarded-For.
	TrustedProxies []string `toml:"TrustedProxies"`
}

type IndexerConfig struct {
	// DSN selects the event index database. postgres:// URLs use the
	// postgres driver; anything else is treated as a sqlite path. Empty
	// defaults to events.db inside DataDir.
	DSN string `toml:"DSN"`
}

type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Traces   bool   `toml:"Traces"`
	Metrics  bool   `toml:"Metrics"`
}

// Load loads the configuration from the given path, creating a default one
// with a freshly generated owner keystore when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.ChainID) == "" {
		cfg.ChainID = DefaultChainID
	}
	if strings.TrimSpace(cfg.GenesisTime) == "" {
		cfg.GenesisTime = DefaultGenesisTime
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RPC.RequestsPerMinute == 0 {
		cfg.RPC.RequestsPerMinute = 120
	}
	if cfg.RPC.Burst == 0 {
		cfg.RPC.Burst = 20
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.Staking.Managers == nil {
		cfg.Staking.Managers = []string{}
	}
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.OwnerKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.OwnerKeystorePath != keystorePath {
		cfg.OwnerKeystorePath = keystorePath
		return persist(configPath, cfg)
	}
	return nil
}

// createDefault creates and saves a default configuration file. The freshly
// generated owner is also the sole quorum manager.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:        ":8545",
		DataDir:           "./tinybank-data",
		ChainID:           DefaultChainID,
		Environment:       "local",
		LogLevel:          "info",
		GenesisTime:       DefaultGenesisTime,
		OwnerKeystorePath: keystorePath,
		Token: TokenConfig{
			Name:          "MyToken",
			Symbol:        "MT",
			Decimals:      18,
			InitialSupply: "100",
		},
		Staking: StakingConfig{
			RewardPerBlock: "1",
			Managers:       []string{key.PubKey().Address().String()},
		},
		RPC: RPCConfig{
			RequestsPerMinute: 120,
			Burst:             20,
			ReadHeaderTimeout: 5,
		},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}

// JWTSecretValue resolves the RPC signing secret, preferring the environment
// variable named by JWTSecretEnv.
func (cfg *Config) JWTSecretValue() string {
	if env := strings.TrimSpace(cfg.RPC.JWTSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(cfg.RPC.JWTSecret)
}

// IndexerDSN returns the configured event index DSN or the default sqlite
// file under DataDir.
func (cfg *Config) IndexerDSN() string {
	if dsn := strings.TrimSpace(cfg.Indexer.DSN); dsn != "" {
		return dsn
	}
	return filepath.Join(cfg.DataDir, "events.db")
}

// GenesisSpec returns the genesis to apply on an empty data directory. A
// configured GenesisFile takes precedence over the token and staking
// sections; otherwise the owner is the identity stored in the keystore.
func (cfg *Config) GenesisSpec() (*genesis.GenesisSpec, error) {
	if strings.TrimSpace(cfg.GenesisFile) != "" {
		spec, err := genesis.LoadGenesisSpec(cfg.GenesisFile)
		if err != nil {
			return nil, err
		}
		if spec.ChainID != cfg.ChainID {
			return nil, fmt.Errorf("genesis chainId %q does not match config ChainID %q", spec.ChainID, cfg.ChainID)
		}
		return spec, nil
	}
	owner, err := crypto.KeystoreAddress(cfg.OwnerKeystorePath)
	if err != nil {
		return nil, fmt.Errorf("owner keystore: %w", err)
	}
	spec := &genesis.GenesisSpec{
		GenesisTime: cfg.GenesisTime,
		ChainID:     cfg.ChainID,
		Owner:       owner.String(),
		Token: genesis.TokenSpec{
			Name:          cfg.Token.Name,
			Symbol:        cfg.Token.Symbol,
			Decimals:      cfg.Token.Decimals,
			InitialSupply: cfg.Token.InitialSupply,
		},
		Staking: genesis.StakingSpec{
			RewardPerBlock: cfg.Staking.RewardPerBlock,
			Managers:       append([]string(nil), cfg.Staking.Managers...),
		},
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}
