package ledger

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveKey expands a master secret into a 32-byte ledger signing key via
// HKDF-SHA256. Deployments share one master secret; the salt separates
// keel's ledger key from any other key derived from the same secret.
func DeriveKey(master []byte, deploymentID string) ([]byte, error) {
	if len(master) < 16 {
		return nil, fmt.Errorf("ledger: master secret too short")
	}
	reader := hkdf.New(sha256.New, master, []byte("keel-ledger-kdf"), []byte(deploymentID))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("ledger: derive key: %w", err)
	}
	return key, nil
}
