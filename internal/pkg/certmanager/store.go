package certmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vpn-sentinel/sentinel/internal/pkg/env"
)

// CredentialStore persists exported credential bundles. Entries are never
// deleted on revocation (kept for audit); access control is enforced by the
// certificate state, not by the store.
type CredentialStore interface {
	Write(commonName string, bundle []byte) (ref string, err error)
	Read(ref string) ([]byte, error)
}

// DiskStore writes bundles under a mode-0700 directory, matching the
// PKI_CERTIFICATES_PATH layout of the deployment host.
type DiskStore struct {
	dir string
}

func NewDiskStoreFromEnv() *DiskStore {
	return &DiskStore{dir: env.GetEnv("PKI_CERTIFICATES_PATH", "/var/certificates")}
}

func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

func (s *DiskStore) Write(commonName string, bundle []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", fmt.Errorf("credential store: %w", err)
	}
	path := filepath.Join(s.dir, commonName+".p12")
	if err := os.WriteFile(path, bundle, 0o600); err != nil {
		return "", fmt.Errorf("credential store: %w", err)
	}
	return path, nil
}

func (s *DiskStore) Read(ref string) ([]byte, error) {
	return os.ReadFile(ref)
}
