package downloader

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// GenerateInstanceID returns an id unique to this process, built from the
// hostname, the pid and a random suffix. Artifact ledger records carry it so
// the next start can tell its own files from leftovers.
func GenerateInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return fmt.Sprintf("%s-%d-%s", host, os.Getpid(), hex.EncodeToString(suffix))
}
