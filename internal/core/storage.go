package core

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"annotprop/internal/config"
	"annotprop/internal/infra/persistence/memory"
	"annotprop/internal/infra/persistence/postgres"
	"annotprop/internal/infra/persistence/sqlite"
	"annotprop/pkg/domain"
)

// StorageDriver identifies a concrete record store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / dry runs)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// seeder is implemented by the SQL stores.
type seeder interface {
	Empty(ctx context.Context) (bool, error)
	Seed(ctx context.Context, seed domain.Seed) error
}

// OpenStore opens the backend named by cfg.Driver (sqlite when empty) and,
// when cfg.SeedFile is set, loads it. SQL stores are only seeded while they
// hold no reference data, so repeated runs against one database are safe.
func OpenStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (domain.Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var seed *domain.Seed
	if cfg.SeedFile != "" {
		s, err := LoadSeed(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		seed = &s
	}

	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		st := memory.NewStore()
		if seed != nil {
			if err := st.Import(*seed); err != nil {
				return nil, fmt.Errorf("import seed %s: %w", cfg.SeedFile, err)
			}
		}
		return st, nil
	case StorageSQLite:
		st, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return applySeed(ctx, st, st, seed, cfg.SeedFile, logger)
	case StoragePostgres:
		st, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return applySeed(ctx, st, st, seed, cfg.SeedFile, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

func applySeed(ctx context.Context, st domain.Store, sd seeder, seed *domain.Seed, path string, logger *zap.Logger) (domain.Store, error) {
	if seed == nil {
		return st, nil
	}
	empty, err := sd.Empty(ctx)
	if err == nil && !empty {
		logger.Info("store already populated, seed skipped", zap.String("seed", path))
		return st, nil
	}
	if err == nil {
		err = sd.Seed(ctx, *seed)
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("seed %s: %w", path, err), st.Close())
	}
	logger.Info("store seeded", zap.String("seed", path),
		zap.Int("annotations", len(seed.Annotations)), zap.Int("genes", len(seed.Genes)), zap.Int("strains", len(seed.Strains)))
	return st, nil
}

// LoadSeed reads a YAML (or JSON) seed file.
func LoadSeed(path string) (domain.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed domain.Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return domain.Seed{}, fmt.Errorf("parse seed %s: %w", path, err)
	}
	return seed, nil
}
