package utils

import (
	"os"
	"strings"
)

const (
	StorageProviderFile = "file"
	StorageProviderGCS  = "gcs"
	StorageProviderS3   = "s3"
	StorageProviderXLSX = "xlsx"
	StorageProviderNone = "none"
)

// GetStorageProvider selects where reconciliation snapshots are exported (SNAPSHOT_SINK).
func GetStorageProvider() string {
	provider := strings.TrimSpace(strings.ToLower(os.Getenv("SNAPSHOT_SINK")))
	if provider == "" {
		return StorageProviderNone
	}
	return provider
}
