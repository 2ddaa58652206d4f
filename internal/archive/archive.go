// Package archive keeps per-run reports and change journals in an object store.
package archive

import (
	"context"
	"fmt"

	"annotprop/internal/archive/core"
	"annotprop/internal/config"
	fsstore "annotprop/internal/infra/archive/fs"
	memstore "annotprop/internal/infra/archive/memory"
	s3store "annotprop/internal/infra/archive/s3"
)

type (
	Store      = core.Store
	Info       = core.Info
	PutOptions = core.PutOptions
	Driver     = core.Driver
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	// DriverNone disables archiving.
	DriverNone Driver = "none"
)

var (
	ErrExists   = core.ErrExists
	ErrNotFound = core.ErrNotFound
)

// NewMemory returns an in-memory store.
func NewMemory() Store { return memstore.New() }

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root string) (Store, error) { return fsstore.New(root) }

// NewS3 returns a bucket-backed store.
func NewS3(ctx context.Context, cfg config.S3Config) (Store, error) {
	return s3store.New(ctx, s3store.Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
}

// Open selects the store named by cfg.Driver. A nil Store with a nil error
// means archiving is disabled.
func Open(ctx context.Context, cfg config.ArchiveConfig) (Store, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverNone:
		return nil, nil
	case DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
