package archive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"annotprop/internal/archive"
	"annotprop/internal/config"
	s3store "annotprop/internal/infra/archive/s3"
	"annotprop/internal/pipeline"
	"annotprop/internal/reconcile"
	"annotprop/pkg/domain"
)

func stores(t *testing.T) map[string]archive.Store {
	t.Helper()
	fsStore, err := archive.NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("filesystem: %v", err)
	}
	return map[string]archive.Store{
		"memory": archive.NewMemory(),
		"fs":     fsStore,
		"s3":     s3store.NewMockForTests(1),
	}
}

func TestStoresCreateOnlyAndList(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"runs/b.json", "runs/a.json", "other/c.json"} {
				if _, err := store.Put(ctx, key, bytes.NewReader([]byte(`{"k":"`+key+`"}`)), archive.PutOptions{ContentType: "application/json"}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			if _, err := store.Put(ctx, "runs/a.json", bytes.NewReader([]byte("x")), archive.PutOptions{}); err == nil {
				t.Fatalf("expected duplicate put to fail")
			}
			infos, err := store.List(ctx, "runs/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			var keys []string
			for _, info := range infos {
				keys = append(keys, info.Key)
			}
			if diff := cmp.Diff([]string{"runs/a.json", "runs/b.json"}, keys); diff != "" {
				t.Fatalf("list keys (-want +got):\n%s", diff)
			}
			_, rc, err := store.Get(ctx, "runs/a.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			body, _ := io.ReadAll(rc)
			_ = rc.Close()
			if string(body) != `{"k":"runs/a.json"}` {
				t.Fatalf("unexpected body %q", body)
			}
			if _, _, err := store.Get(ctx, "runs/missing.json"); !errors.Is(err, archive.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func sampleReport() pipeline.Report {
	started := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	annot := domain.Annotation{Key: 9, TermAcc: "DOID:9352", SubjectID: 200, RefID: 1, Evidence: "IMP", Aspect: domain.AspectDisease}
	return pipeline.Report{
		RunID:      "run-1",
		Chain:      "strain2allele",
		Aspect:     domain.AspectDisease,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		State:      pipeline.StateReport,
		Counts:     map[string]int{pipeline.CounterBase: 1},
		Inserted:   1,
		Changes: []reconcile.Change{
			{Action: reconcile.ActionInsert, Level: "allele", Annotation: annot, At: started},
		},
	}
}

func TestWriterLayoutAndList(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			w := archive.NewWriter(store, "")
			rep := sampleReport()
			keys, err := w.Write(ctx, rep)
			if err != nil {
				t.Fatalf("write: %v", err)
			}
			want := []string{
				"runs/2024-05-06/run-1/strain2allele-D.report.json",
				"runs/2024-05-06/run-1/strain2allele-D.journal.ndjson",
			}
			if diff := cmp.Diff(want, keys); diff != "" {
				t.Fatalf("keys (-want +got):\n%s", diff)
			}
			if _, err := w.Write(ctx, rep); !errors.Is(err, archive.ErrExists) {
				t.Fatalf("expected rewrite to fail with ErrExists, got %v", err)
			}

			entries, err := archive.List(ctx, store, "runs")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(entries) != 1 {
				t.Fatalf("expected 1 entry, got %d", len(entries))
			}
			got := entries[0]
			if got.Key != want[0] || got.JournalKey != want[1] {
				t.Fatalf("unexpected entry keys %+v", got)
			}
			if got.Report.Inserted != 1 || got.Report.Chain != "strain2allele" || !got.Report.StartedAt.Equal(rep.StartedAt) {
				t.Fatalf("unexpected report %+v", got.Report)
			}

			changes, err := archive.ReadJournal(ctx, store, got.JournalKey)
			if err != nil {
				t.Fatalf("read journal: %v", err)
			}
			if len(changes) != 1 || changes[0].Annotation.NaturalKey() != rep.Changes[0].Annotation.NaturalKey() {
				t.Fatalf("unexpected journal %+v", changes)
			}
		})
	}
}

func TestListOrdersByStart(t *testing.T) {
	ctx := context.Background()
	store := archive.NewMemory()
	w := archive.NewWriter(store, "reports/")
	late := sampleReport()
	late.RunID = "a-late"
	late.StartedAt = late.StartedAt.Add(time.Hour)
	early := sampleReport()
	early.RunID = "z-early"
	for _, rep := range []pipeline.Report{late, early} {
		if _, err := w.Write(ctx, rep); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	entries, err := archive.List(ctx, store, "reports")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Report.RunID != "z-early" || entries[1].Report.RunID != "a-late" {
		t.Fatalf("unexpected order %+v", entries)
	}
}

func TestWriterRejectsEmptyRunID(t *testing.T) {
	rep := sampleReport()
	rep.RunID = ""
	if _, err := archive.NewWriter(archive.NewMemory(), "").Write(context.Background(), rep); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	st, err := archive.Open(ctx, config.ArchiveConfig{Driver: "none"})
	if err != nil || st != nil {
		t.Fatalf("none driver: %v %v", st, err)
	}
	st, err = archive.Open(ctx, config.ArchiveConfig{Driver: "memory"})
	if err != nil || st.Driver() != archive.DriverMemory {
		t.Fatalf("memory driver: %v %v", st, err)
	}
	st, err = archive.Open(ctx, config.ArchiveConfig{Root: t.TempDir()})
	if err != nil || st.Driver() != archive.DriverFilesystem {
		t.Fatalf("default driver: %v %v", st, err)
	}
	if _, err := archive.Open(ctx, config.ArchiveConfig{Driver: "s3"}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
	if _, err := archive.Open(ctx, config.ArchiveConfig{Driver: "ftp"}); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
}
