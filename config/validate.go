package config

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"peleon/core/identity"
	"peleon/crypto"
	"peleon/native/wallet"
	"peleon/services/reconcile"
)

// Validate reports the first configuration value the daemon cannot run with.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil configuration")
	}
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	switch c.Storage.Backend {
	case "leveldb", "bolt":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage: path required for %s backend", c.Storage.Backend)
		}
	case "memory":
	default:
		return fmt.Errorf("storage: unsupported backend %q", c.Storage.Backend)
	}
	if err := identity.ValidateAccountID(c.Contract.ID); err != nil {
		return fmt.Errorf("contract: ID: %w", err)
	}
	if err := identity.ValidateAccountID(c.Contract.GatewayContractID); err != nil {
		return fmt.Errorf("contract: GatewayContractID: %w", err)
	}
	if _, err := wallet.PolicyFor(wallet.Variant(c.Contract.Variant)); err != nil {
		return fmt.Errorf("contract: Variant: %w", err)
	}
	if _, err := wallet.NewHasher(c.Contract.HashAlgorithm); err != nil {
		return fmt.Errorf("contract: HashAlgorithm: %w", err)
	}
	if c.Contract.SingleCallGas == 0 {
		return fmt.Errorf("contract: SingleCallGas must be positive")
	}
	if strings.TrimSpace(c.Token.Symbol) == "" {
		return fmt.Errorf("token: Symbol must not be empty")
	}
	for i, alloc := range c.Token.Genesis {
		if err := identity.ValidateAccountID(alloc.Account); err != nil {
			return fmt.Errorf("token: Genesis[%d].Account: %w", i, err)
		}
		amount, err := uint256.FromDecimal(strings.TrimSpace(alloc.Amount))
		if err != nil || amount.IsZero() {
			return fmt.Errorf("token: Genesis[%d].Amount must be a positive decimal", i)
		}
		if strings.TrimSpace(alloc.Credential) != "" {
			if _, err := crypto.ParseCredential(alloc.Credential); err != nil {
				return fmt.Errorf("token: Genesis[%d].Credential: %w", i, err)
			}
		}
	}
	if c.Dispatcher.QueueSize <= 0 {
		return fmt.Errorf("dispatcher: QueueSize must be positive")
	}
	if c.Dispatcher.RatePerSecond < 0 || c.Dispatcher.Burst < 0 {
		return fmt.Errorf("dispatcher: rate limit must not be negative")
	}
	q := c.Dispatcher.Quota
	if (q.MaxCallsPerEpoch > 0 || q.MaxGasPerEpoch > 0) && q.EpochSeconds == 0 {
		return fmt.Errorf("dispatcher: quota requires EpochSeconds")
	}
	if c.Gateway.NonceTTLSeconds <= 0 || c.Gateway.MaxSkewSeconds <= 0 {
		return fmt.Errorf("gateway: NonceTTLSeconds and MaxSkewSeconds must be positive")
	}
	if c.Gateway.MaxSkewSeconds > c.Gateway.NonceTTLSeconds {
		return fmt.Errorf("gateway: MaxSkewSeconds must not exceed NonceTTLSeconds")
	}
	switch c.Journal.Driver {
	case "", reconcile.DriverSQLite:
	case reconcile.DriverPostgres:
		if strings.TrimSpace(c.Journal.DSN) == "" {
			return fmt.Errorf("journal: DSN required for postgres")
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", c.Journal.Driver)
	}
	return nil
}
