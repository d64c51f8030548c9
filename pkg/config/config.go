// Package config loads exchanged's runtime configuration through a
// viper + godotenv layered loader: environment variables take
// precedence over a .env file, which takes precedence over defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every externally-tunable setting for the exchanged
// daemon.
type Config struct {
	// ListenAddr is the REST+WebSocket API bind address.
	ListenAddr string
	// House is the hex-encoded 20-byte house account that custodies
	// every deposited token.
	House string
	// PaymentToken is the hex-encoded 20-byte id of the designated
	// payment token every order reserves/settles against.
	PaymentToken string
	// LedgerBaseURL is the base URL of the external token ledger's HTTP
	// gateway (pkg/ledger.HTTPClient).
	LedgerBaseURL string
	// OracleBaseURL is the base URL of the USD rate feed (pkg/oracle.HTTPClient).
	OracleBaseURL string
	// SnapshotPath is the on-disk pebble store path for engine snapshots.
	SnapshotPath string
	// SnapshotInterval is how often the engine re-snapshots.
	SnapshotInterval time.Duration
	// HousekeepingInterval is how often the daily cleanup runs.
	HousekeepingInterval time.Duration
	// RequestTimeout bounds every external ledger/oracle call.
	RequestTimeout time.Duration
	// LogLevel is one of debug/info/warn/error.
	LogLevel string
}

// Load reads configuration from, in increasing priority: built-in
// defaults, a .env file at envPath (if present; a missing file is not an
// error), then process environment variables prefixed EXCHANGED_.
func Load(envPath string) (*Config, error) {
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: loading %s: %w", envPath, err)
	}

	v := viper.New()
	v.SetEnvPrefix("EXCHANGED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("house", "0x0000000000000000000000000000000000000000")
	v.SetDefault("payment_token", "0x0000000000000000000000000000000000000000")
	v.SetDefault("ledger_base_url", "http://localhost:9090")
	v.SetDefault("oracle_base_url", "http://localhost:9091")
	v.SetDefault("snapshot_path", "./data/snapshot.pebble")
	v.SetDefault("snapshot_interval", "1h")
	v.SetDefault("housekeeping_interval", "24h")
	v.SetDefault("request_timeout", "10s")
	v.SetDefault("log_level", "info")

	snapInt, err := time.ParseDuration(v.GetString("snapshot_interval"))
	if err != nil {
		return nil, fmt.Errorf("config: snapshot_interval: %w", err)
	}
	houseInt, err := time.ParseDuration(v.GetString("housekeeping_interval"))
	if err != nil {
		return nil, fmt.Errorf("config: housekeeping_interval: %w", err)
	}
	reqTimeout, err := time.ParseDuration(v.GetString("request_timeout"))
	if err != nil {
		return nil, fmt.Errorf("config: request_timeout: %w", err)
	}

	return &Config{
		ListenAddr:           v.GetString("listen_addr"),
		House:                v.GetString("house"),
		PaymentToken:         v.GetString("payment_token"),
		LedgerBaseURL:        v.GetString("ledger_base_url"),
		OracleBaseURL:        v.GetString("oracle_base_url"),
		SnapshotPath:         v.GetString("snapshot_path"),
		SnapshotInterval:     snapInt,
		HousekeepingInterval: houseInt,
		RequestTimeout:       reqTimeout,
		LogLevel:             v.GetString("log_level"),
	}, nil
}
