package config

// Storage selects the key-value backend holding contract state.
type Storage struct {
	Backend string `toml:"Backend" yaml:"backend"` // leveldb, bolt or memory
	Path    string `toml:"Path" yaml:"path"`
}

// Contract carries the deployment parameters of the hosted wallet contract.
type Contract struct {
	ID                string `toml:"ID" yaml:"id"`
	Variant           string `toml:"Variant" yaml:"variant"`
	HashAlgorithm     string `toml:"HashAlgorithm" yaml:"hashAlgorithm"`
	SingleCallGas     uint64 `toml:"SingleCallGas" yaml:"singleCallGas"`
	GatewayContractID string `toml:"GatewayContractID" yaml:"gatewayContractId"`
}

// Allocation credits a ledger account at genesis. Credential, when set, is
// registered as the account's access key; an allocation without one can only
// be reached after an operator adds a key.
type Allocation struct {
	Account    string `toml:"Account" yaml:"account"`
	Amount     string `toml:"Amount" yaml:"amount"` // decimal
	Credential string `toml:"Credential" yaml:"credential"`
}

// Token configures the in-process token ledger the contract calls into.
type Token struct {
	Symbol  string       `toml:"Symbol" yaml:"symbol"`
	Genesis []Allocation `toml:"Genesis" yaml:"genesis"`
}

// Quota defines remote call limits per originating account and epoch.
type Quota struct {
	MaxCallsPerEpoch uint32 `toml:"MaxCallsPerEpoch" yaml:"maxCallsPerEpoch"`
	MaxGasPerEpoch   uint64 `toml:"MaxGasPerEpoch" yaml:"maxGasPerEpoch"`
	EpochSeconds     uint32 `toml:"EpochSeconds" yaml:"epochSeconds"` // e.g., 3600
}

// Dispatcher tunes the intent dispatcher.
type Dispatcher struct {
	QueueSize     int     `toml:"QueueSize" yaml:"queueSize"`
	RatePerSecond float64 `toml:"RatePerSecond" yaml:"ratePerSecond"`
	Burst         int     `toml:"Burst" yaml:"burst"`
	Quota         Quota   `toml:"Quota" yaml:"quota"`
}

// Gateway configures the HTTP surface.
type Gateway struct {
	ReadTimeoutSeconds  int     `toml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeoutSeconds int     `toml:"WriteTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	RateLimitPerSecond  float64 `toml:"RateLimitPerSecond" yaml:"rateLimitPerSecond"`
	RateLimitBurst      int     `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	NonceTTLSeconds     int     `toml:"NonceTTLSeconds" yaml:"nonceTtlSeconds"`
	MaxSkewSeconds      int     `toml:"MaxSkewSeconds" yaml:"maxSkewSeconds"`
	NonceCapacity       int     `toml:"NonceCapacity" yaml:"nonceCapacity"`
	JWTSecretEnv        string  `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer           string  `toml:"JWTIssuer" yaml:"jwtIssuer"`
	JWTAudience         string  `toml:"JWTAudience" yaml:"jwtAudience"`
}

// Journal configures the reconciliation journal.
type Journal struct {
	Driver    string `toml:"Driver" yaml:"driver"` // sqlite or postgres
	DSN       string `toml:"DSN" yaml:"dsn"`
	ReportDir string `toml:"ReportDir" yaml:"reportDir"`
}

// Logging configures the process logger.
type Logging struct {
	Level      string `toml:"Level" yaml:"level"`
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMb"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// Telemetry configures OpenTelemetry exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Headers  string `toml:"Headers" yaml:"headers"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
}
