package storage

import (
	"context"

	downloadapp "github.com/fiscaldesk/backend/internal/application/download"
)

// NoopArchive discards packages. Used when archival is disabled in
// configuration; the lifecycle engine treats archival as best-effort either way.
type NoopArchive struct{}

// NewNoopArchive creates a NoopArchive
func NewNoopArchive() *NoopArchive {
	return &NoopArchive{}
}

var _ downloadapp.PackageArchiver = (*NoopArchive)(nil)

// StorePackage discards the package bytes
func (NoopArchive) StorePackage(ctx context.Context, requestID, packageID string, data []byte) error {
	return nil
}
