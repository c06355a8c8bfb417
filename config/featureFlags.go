package config

import (
	"os"
	"strings"
	"time"
)

// LedgerMode selects the dual-write ordering.
type LedgerMode string

const (
	// Ledger is written and confirmed before the local commit.
	LedgerModeLedgerFirst LedgerMode = "ledger_first"
	// Local commit first; the ledger is mirrored afterwards.
	LedgerModeLocalFirst LedgerMode = "local_first"
	// No ledger at all.
	LedgerModeLocalOnly LedgerMode = "local_only"
)

// GetLedgerMode reads LEDGER_MODE. Unknown values fall back to ledger_first.
func GetLedgerMode() LedgerMode {
	switch LedgerMode(strings.ToLower(strings.TrimSpace(os.Getenv("LEDGER_MODE")))) {
	case LedgerModeLocalFirst:
		return LedgerModeLocalFirst
	case LedgerModeLocalOnly:
		return LedgerModeLocalOnly
	default:
		return LedgerModeLedgerFirst
	}
}

// DriftCheckOnReconcile runs a drift comparison after every reconciliation read.
//
// Set via env:
// - DRIFT_CHECK_ON_RECONCILE=true
func DriftCheckOnReconcile() bool {
	return envBoolDefault("DRIFT_CHECK_ON_RECONCILE", false)
}

// SnapshotOnReconcile persists a ledger_snapshots row for each reconciliation read.
func SnapshotOnReconcile() bool {
	return envBoolDefault("SNAPSHOT_ON_RECONCILE", true)
}

// ListingCacheTTL controls the Redis TTL for party listings. Zero disables the cache.
func ListingCacheTTL() time.Duration {
	return time.Duration(intFromEnv("LISTING_CACHE_TTL_SECONDS", 30)) * time.Second
}

// SkipMigrations skips AutoMigrate on boot.
func SkipMigrations() bool {
	return envBoolDefault("SKIP_MIGRATIONS", false)
}

// DefaultPhoneRegion is the region used to parse contact numbers without a country code.
func DefaultPhoneRegion() string {
	if v := strings.TrimSpace(os.Getenv("DEFAULT_PHONE_REGION")); v != "" {
		return strings.ToUpper(v)
	}
	return "LK"
}

func envBoolDefault(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
