package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dealmesh/crypto"

	"github.com/BurntSushi/toml"
)

// GenesisAccount seeds a MESH balance at first boot so deals can be funded
// on a fresh network.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress           string           `toml:"RPCAddress"`
	DataDir              string           `toml:"DataDir"`
	NetworkName          string           `toml:"NetworkName"`
	Environment          string           `toml:"Environment"`
	OperatorKeystorePath string           `toml:"OperatorKeystorePath"`
	EscrowAddress        string           `toml:"EscrowAddress"`
	GenesisAccounts      []GenesisAccount `toml:"GenesisAccounts"`
}

// Load loads the configuration from the given path, creating a default file
// (plus an operator keystore) on first run.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.OperatorKeystorePath == "" {
		if err := ensureKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "dealmesh-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8080"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./dealmesh-data"
	}
	if strings.TrimSpace(cfg.EscrowAddress) != "" {
		if _, err := crypto.DecodeAddress(cfg.EscrowAddress); err != nil {
			return nil, fmt.Errorf("config: invalid EscrowAddress: %w", err)
		}
	}
	for i, acct := range cfg.GenesisAccounts {
		if _, err := crypto.DecodeAddress(acct.Address); err != nil {
			return nil, fmt.Errorf("config: invalid genesis address at index %d: %w", i, err)
		}
	}

	return cfg, nil
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := defaultKeystorePath(configPath)
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
	cfg.OperatorKeystorePath = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
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
		RPCAddress:           ":8080",
		DataDir:              "./dealmesh-data",
		NetworkName:          "dealmesh-local",
		OperatorKeystorePath: keystorePath,
		EscrowAddress:        key.PubKey().Address().String(),
		GenesisAccounts:      []GenesisAccount{},
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
	return filepath.Join(dir, "operator.keystore")
}
