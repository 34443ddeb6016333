package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

// ChainConfig holds the escrow ledger connection settings.
type ChainConfig struct {
	RPC             string
	ChainID         int64
	ContractAddress string
	TokenAddress    string
	PaymentMedium   string // "native" or "erc20"
	TokenSymbol     string
	TokenDecimals   int
	KeystorePath    string
	KeyPassphrase   string
	StalenessBound  time.Duration
	ConfirmTimeout  time.Duration
	ApproveTimeout  time.Duration
}

// LoadChainConfig returns chain configuration with defaults.
func LoadChainConfig() (*ChainConfig, error) {
	viper.SetDefault("chain.rpc", "http://localhost:8545")
	viper.SetDefault("chain.id", 31337)
	viper.SetDefault("chain.payment_medium", "native")
	viper.SetDefault("chain.token_symbol", "ETH")
	viper.SetDefault("chain.token_decimals", 18)
	viper.SetDefault("chain.keystore_path", "./keystore/operator.key")
	viper.SetDefault("chain.staleness_bound", 30*time.Second)
	viper.SetDefault("chain.confirm_timeout", 3*time.Minute)
	viper.SetDefault("chain.approve_timeout", 2*time.Minute)

	cfg := &ChainConfig{
		RPC:             viper.GetString("chain.rpc"),
		ChainID:         viper.GetInt64("chain.id"),
		ContractAddress: viper.GetString("chain.contract_address"),
		TokenAddress:    viper.GetString("chain.token_address"),
		PaymentMedium:   viper.GetString("chain.payment_medium"),
		TokenSymbol:     viper.GetString("chain.token_symbol"),
		TokenDecimals:   viper.GetInt("chain.token_decimals"),
		KeystorePath:    viper.GetString("chain.keystore_path"),
		KeyPassphrase:   viper.GetString("chain.key_passphrase"),
		StalenessBound:  viper.GetDuration("chain.staleness_bound"),
		ConfirmTimeout:  viper.GetDuration("chain.confirm_timeout"),
		ApproveTimeout:  viper.GetDuration("chain.approve_timeout"),
	}

	if cfg.ContractAddress == "" {
		return nil, errors.New("chain.contract_address is required")
	}
	if cfg.PaymentMedium != "native" && cfg.PaymentMedium != "erc20" {
		return nil, errors.New("chain.payment_medium must be \"native\" or \"erc20\"")
	}
	if cfg.PaymentMedium == "erc20" && cfg.TokenAddress == "" {
		return nil, errors.New("chain.token_address is required for erc20 medium")
	}
	if cfg.KeyPassphrase == "" {
		return nil, errors.New("chain.key_passphrase is required")
	}
	return cfg, nil
}

// PinataConfig holds the evidence store credentials.
type PinataConfig struct {
	JWT     string
	Gateway string
}

func LoadPinataConfig() *PinataConfig {
	viper.SetDefault("pinata.gateway", "https://gateway.pinata.cloud/ipfs")
	return &PinataConfig{
		JWT:     viper.GetString("pinata.jwt"),
		Gateway: viper.GetString("pinata.gateway"),
	}
}
