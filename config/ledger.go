package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LedgerNetwork holds the connection settings of one chain.
type LedgerNetwork struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	// ABIPath points at a contract ABI JSON; empty uses the embedded ABI.
	ABIPath string
}

type LedgerConfig struct {
	Mode       LedgerMode
	Accounts   LedgerNetwork
	Operations LedgerNetwork
	PrivateKey string
	GasLimit   uint64
	// ConfirmTimeout bounds the wait for a receipt; zero waits indefinitely.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// RawEventSignatures overrides the event signature per entity kind for raw log scans,
	// e.g. "Farmer=FarmerRegistered(string)".
	RawEventSignatures map[string]string
}

// LoadLedgerConfig reads LEDGER_* env vars.
//
//   - LEDGER_ACCOUNTS_RPC_URL (default http://127.0.0.1:8545)
//   - LEDGER_OPERATIONS_RPC_URL (default http://127.0.0.1:8546)
//   - LEDGER_ACCOUNTS_CONTRACT / LEDGER_OPERATIONS_CONTRACT
//   - LEDGER_ACCOUNTS_CHAIN_ID / LEDGER_OPERATIONS_CHAIN_ID (default 1337)
//   - LEDGER_ACCOUNTS_ABI / LEDGER_OPERATIONS_ABI
//   - LEDGER_PRIVATE_KEY (hex, no 0x required)
//   - LEDGER_GAS_LIMIT (default 2000000)
//   - LEDGER_CONFIRM_TIMEOUT_SECONDS (default 0)
//   - LEDGER_POLL_INTERVAL_MS (default 1000)
//   - LEDGER_RAW_EVENT_SIGNATURES (comma separated Kind=Signature pairs)
func LoadLedgerConfig() (LedgerConfig, error) {
	cfg := LedgerConfig{
		Mode: GetLedgerMode(),
		Accounts: LedgerNetwork{
			RPCURL:          envDefault("LEDGER_ACCOUNTS_RPC_URL", "http://127.0.0.1:8545"),
			ChainID:         int64(intFromEnv("LEDGER_ACCOUNTS_CHAIN_ID", 1337)),
			ContractAddress: strings.TrimSpace(os.Getenv("LEDGER_ACCOUNTS_CONTRACT")),
			ABIPath:         strings.TrimSpace(os.Getenv("LEDGER_ACCOUNTS_ABI")),
		},
		Operations: LedgerNetwork{
			RPCURL:          envDefault("LEDGER_OPERATIONS_RPC_URL", "http://127.0.0.1:8546"),
			ChainID:         int64(intFromEnv("LEDGER_OPERATIONS_CHAIN_ID", 1337)),
			ContractAddress: strings.TrimSpace(os.Getenv("LEDGER_OPERATIONS_CONTRACT")),
			ABIPath:         strings.TrimSpace(os.Getenv("LEDGER_OPERATIONS_ABI")),
		},
		PrivateKey:         strings.TrimPrefix(strings.TrimSpace(os.Getenv("LEDGER_PRIVATE_KEY")), "0x"),
		ConfirmTimeout:     time.Duration(intFromEnv("LEDGER_CONFIRM_TIMEOUT_SECONDS", 0)) * time.Second,
		PollInterval:       time.Duration(intFromEnv("LEDGER_POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		RawEventSignatures: parseSignatures(os.Getenv("LEDGER_RAW_EVENT_SIGNATURES")),
	}

	gas, err := strconv.ParseUint(envDefault("LEDGER_GAS_LIMIT", "2000000"), 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("LEDGER_GAS_LIMIT: %w", err)
	}
	cfg.GasLimit = gas

	if cfg.Mode == LedgerModeLocalOnly {
		return cfg, nil
	}
	if cfg.Accounts.ContractAddress == "" || cfg.Operations.ContractAddress == "" {
		return cfg, errors.New("LEDGER_ACCOUNTS_CONTRACT and LEDGER_OPERATIONS_CONTRACT are required unless LEDGER_MODE=local_only")
	}
	if cfg.PrivateKey == "" {
		return cfg, errors.New("LEDGER_PRIVATE_KEY is required unless LEDGER_MODE=local_only")
	}
	return cfg, nil
}

func parseSignatures(raw string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func envDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
