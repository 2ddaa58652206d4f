package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"annotprop/internal/infra/persistence/memory"
	"annotprop/internal/infra/persistence/storetest"
	"annotprop/pkg/domain"
)

var runAt = storetest.Epoch.Add(48 * time.Hour)

type harness struct {
	store   *memory.Store
	snap    *Snapshot
	journal *Journal
	logs    *observer.ObservedLogs
	rec     *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.NewStore()
	if err := st.Import(storetest.Seed()); err != nil {
		t.Fatalf("import: %v", err)
	}
	snap := NewSnapshot(storetest.Pipeline, domain.AspectDisease)
	n, err := snap.Load(context.Background(), st, runAt)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the stale pipeline row in the snapshot, got %d", n)
	}
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	journal := &Journal{}
	rec := New(Config{
		Store:    st,
		Snapshot: snap,
		Owner:    storetest.Pipeline,
		Journal:  journal,
		Audit:    AuditLoggers{Inserted: logger.Named("inserted"), Updated: logger.Named("updated"), Deleted: logger.Named("deleted")},
		Now:      func() time.Time { return runAt },
	})
	return &harness{store: st, snap: snap, journal: journal, logs: logs, rec: rec}
}

// staleGene is the desired form of the pipeline row seeded on the gene.
func staleGene(notes string) domain.Annotation {
	return domain.Annotation{
		TermAcc: "DOID:9352", SubjectID: storetest.GeneID, RefID: 7, Evidence: "IMP", Aspect: domain.AspectDisease,
		Notes: notes, CreatedBy: storetest.Pipeline, LastModifiedBy: storetest.Pipeline,
	}
}

func (h *harness) find(t *testing.T, key domain.NaturalKey) domain.Annotation {
	t.Helper()
	for _, a := range h.store.Annotations() {
		if a.NaturalKey() == key {
			return a
		}
	}
	t.Fatalf("annotation %s not in store", key)
	return domain.Annotation{}
}

func TestReconcileInsertsNewAnnotations(t *testing.T) {
	h := newHarness(t)
	desired := domain.Annotation{
		TermAcc: "DOID:9352", SubjectID: storetest.AlleleID, RefID: 7, Evidence: "IMP", Aspect: domain.AspectDisease,
		CreatedBy: storetest.Pipeline, LastModifiedBy: storetest.Pipeline, CreatedAt: runAt, LastModifiedAt: runAt,
	}
	st, err := h.rec.Reconcile(context.Background(), "allele", []domain.Annotation{desired})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff(Stats{Inserted: 1}, st); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
	got := h.find(t, desired.NaturalKey())
	if got.Key == 0 || got.CreatedBy != storetest.Pipeline {
		t.Fatalf("unexpected stored row %+v", got)
	}
	if !h.snap.touched(desired.NaturalKey()) {
		t.Fatalf("inserted row not marked touched")
	}
	changes := h.journal.Changes()
	if len(changes) != 1 || changes[0].Action != ActionInsert || changes[0].Annotation.Key != got.Key || changes[0].Level != "allele" {
		t.Fatalf("unexpected journal %+v", changes)
	}
	if h.logs.FilterLoggerName("inserted").Len() != 1 {
		t.Fatalf("expected one inserted audit line")
	}
}

func TestReconcileUpdatesChangedContent(t *testing.T) {
	h := newHarness(t)
	st, err := h.rec.Reconcile(context.Background(), "gene", []domain.Annotation{staleGene("")})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff(Stats{Updated: 1}, st); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
	got := h.find(t, staleGene("").NaturalKey())
	if got.Notes != "" || got.LastModifiedBy != storetest.Pipeline || !got.LastModifiedAt.Equal(runAt) {
		t.Fatalf("row not refreshed: %+v", got)
	}
	changes := h.journal.Changes()
	want := []domain.FieldChange{{Field: "NOTES", Old: "stale", New: ""}}
	if len(changes) != 1 || changes[0].Action != ActionUpdate {
		t.Fatalf("unexpected journal %+v", changes)
	}
	if diff := cmp.Diff(want, changes[0].Fields); diff != "" {
		t.Fatalf("field diff (-want +got):\n%s", diff)
	}
	updated := h.logs.FilterLoggerName("updated").All()
	if len(updated) != 1 || !strings.Contains(updated[0].Message, "NOTES  OLD[stale]  NEW[]") {
		t.Fatalf("unexpected update audit %+v", updated)
	}
}

func TestReconcileTouchesUnchangedOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, level := range []string{"gene", "ortholog"} {
		st, err := h.rec.Reconcile(ctx, level, []domain.Annotation{staleGene("stale")})
		if err != nil {
			t.Fatalf("reconcile: %v", err)
		}
		if diff := cmp.Diff(Stats{UpToDate: 1}, st); diff != "" {
			t.Fatalf("stats (-want +got):\n%s", diff)
		}
	}
	if n := h.store.Calls(memory.OpTouch); n != 1 {
		t.Fatalf("expected a single touch, got %d", n)
	}
	if got := h.find(t, staleGene("").NaturalKey()); !got.LastModifiedAt.Equal(runAt) || got.LastModifiedBy != storetest.Pipeline {
		t.Fatalf("row not touched: %+v", got)
	}
	if len(h.journal.Changes()) != 0 {
		t.Fatalf("touches must not be journaled")
	}
}

func TestReconcileForeignRowsCountAsUpToDate(t *testing.T) {
	h := newHarness(t)
	curated := domain.Annotation{TermAcc: "DOID:4", SubjectID: storetest.AlleleID, RefID: 7, Evidence: "IMP", Aspect: domain.AspectDisease}
	st, err := h.rec.Reconcile(context.Background(), "allele", []domain.Annotation{curated})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if diff := cmp.Diff(Stats{UpToDate: 1, Foreign: 1}, st); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
	if h.store.Calls(memory.OpInsert) != 0 {
		t.Fatalf("foreign row must not be duplicated")
	}
}

func TestSweepDeletesUntouched(t *testing.T) {
	h := newHarness(t)
	deleted, err := h.rec.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(deleted) != 1 || deleted[0].Notes != "stale" {
		t.Fatalf("unexpected orphans %+v", deleted)
	}
	for _, a := range h.store.Annotations() {
		if a.Key == deleted[0].Key {
			t.Fatalf("orphan still stored")
		}
	}
	if h.snap.Len() != 0 || h.journal.Count(ActionDelete) != 1 {
		t.Fatalf("snapshot %d entries, journal %+v", h.snap.Len(), h.journal.Changes())
	}
	again, err := h.rec.Sweep(context.Background())
	if err != nil || len(again) != 0 {
		t.Fatalf("second sweep: %v %v", again, err)
	}
}

func TestSweepKeepsTouchedRows(t *testing.T) {
	h := newHarness(t)
	if _, err := h.rec.Reconcile(context.Background(), "gene", []domain.Annotation{staleGene("stale")}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	deleted, err := h.rec.Sweep(context.Background())
	if err != nil || len(deleted) != 0 {
		t.Fatalf("touched row swept: %v %v", deleted, err)
	}
}

func TestSweepStopsOnStoreError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection reset")
	h.store.FailOn(memory.OpDelete, boom)
	deleted, err := h.rec.Sweep(context.Background())
	if !errors.Is(err, boom) || len(deleted) != 0 {
		t.Fatalf("expected store error, got %v %v", deleted, err)
	}
	if h.snap.Len() != 1 {
		t.Fatalf("failed delete must stay in the snapshot")
	}
}

func TestSweepRefusesRowsNewerThanCutoff(t *testing.T) {
	snap := NewSnapshot(storetest.Pipeline, domain.AspectDisease)
	snap.cutoff = runAt
	late := staleGene("late")
	late.Key = 9
	late.LastModifiedAt = runAt
	snap.entries[late.NaturalKey()] = &entry{annot: late}
	if _, err := snap.SweepOrphans(context.Background(), memory.NewStore()); err == nil {
		t.Fatalf("expected cutoff violation")
	}
}

func TestReconcileStoreErrorsAreFatal(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("connection reset")
	h.store.FailOn(memory.OpFind, boom)
	desired := staleGene("")
	desired.SubjectID = storetest.AlleleID
	if _, err := h.rec.Reconcile(context.Background(), "allele", []domain.Annotation{desired}); !errors.Is(err, boom) {
		t.Fatalf("expected find error, got %v", err)
	}
	h.store.FailOn(memory.OpFind, nil)
	h.store.FailOn(memory.OpUpdate, boom)
	if _, err := h.rec.Reconcile(context.Background(), "gene", []domain.Annotation{staleGene("")}); !errors.Is(err, boom) {
		t.Fatalf("expected update error, got %v", err)
	}
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	j.record(Change{Action: ActionInsert})
	if j.Changes() != nil || j.Count(ActionInsert) != 0 {
		t.Fatalf("nil journal should be empty")
	}
}

func TestStatsAdd(t *testing.T) {
	s := Stats{Inserted: 1, UpToDate: 2, Foreign: 1}
	s.Add(Stats{Inserted: 2, Updated: 3, UpToDate: 1})
	if diff := cmp.Diff(Stats{Inserted: 3, Updated: 3, UpToDate: 3, Foreign: 1}, s); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
}
