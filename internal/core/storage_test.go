package core

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"annotprop/internal/config"
	"annotprop/internal/infra/persistence/memory"
	"annotprop/internal/infra/persistence/sqlite"
	"annotprop/internal/infra/persistence/storetest"
	"annotprop/pkg/domain"
)

func writeSeed(t *testing.T) string {
	t.Helper()
	data, err := yaml.Marshal(storetest.Seed())
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestLoadSeedRoundTrip(t *testing.T) {
	seed, err := LoadSeed(writeSeed(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := storetest.Seed()
	if len(seed.Annotations) != len(want.Annotations) || len(seed.Orthologs) != len(want.Orthologs) {
		t.Fatalf("seed lost rows: %+v", seed)
	}
	if !seed.Annotations[0].LastModifiedAt.Equal(storetest.Epoch) {
		t.Fatalf("timestamps not preserved: %v", seed.Annotations[0].LastModifiedAt)
	}
	if _, err := LoadSeed(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing seed error")
	}
}

func TestOpenStoreMemoryImportsSeed(t *testing.T) {
	st, err := OpenStore(context.Background(), config.StorageConfig{Driver: "memory", SeedFile: writeSeed(t)}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	mem, ok := st.(*memory.Store)
	if !ok {
		t.Fatalf("expected memory store, got %T", st)
	}
	if got := len(mem.Annotations()); got != len(storetest.Seed().Annotations) {
		t.Fatalf("expected seeded annotations, got %d", got)
	}
}

func TestOpenStoreSQLiteSeedsOnce(t *testing.T) {
	ctx := context.Background()
	cfg := config.StorageConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "annotprop.db"), SeedFile: writeSeed(t)}
	count := func() int {
		st, err := OpenStore(ctx, cfg, nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		defer func() { _ = st.Close() }()
		if _, ok := st.(*sqlite.Store); !ok {
			t.Fatalf("expected sqlite store, got %T", st)
		}
		annots, err := st.BaseAnnotations(ctx, domain.BaseQuery{Source: domain.SubjectStrain, Aspect: domain.AspectDisease})
		if err != nil {
			t.Fatalf("base: %v", err)
		}
		return len(annots)
	}
	first := count()
	if first == 0 {
		t.Fatalf("expected seeded strain annotations")
	}
	if second := count(); second != first {
		t.Fatalf("reopening reseeded the store: %d -> %d", first, second)
	}
}

func TestOpenStoreErrors(t *testing.T) {
	ctx := context.Background()
	if _, err := OpenStore(ctx, config.StorageConfig{Driver: "oracle"}, nil); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := OpenStore(ctx, config.StorageConfig{Driver: "memory", SeedFile: filepath.Join(t.TempDir(), "nope.yaml")}, nil); err == nil {
		t.Fatalf("expected missing seed error")
	}
}
