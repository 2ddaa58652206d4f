package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"annotprop/internal/archive"
	"annotprop/internal/config"
	"annotprop/internal/infra/persistence/memory"
	"annotprop/internal/infra/persistence/storetest"
	"annotprop/pkg/domain"
)

// tickingClock advances one second per call so every run sees a later cutoff.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := storetest.Epoch.Add(24 * time.Hour)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type fixture struct {
	store   *memory.Store
	archive archive.Store
	logs    *observer.ObservedLogs
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.NewStore()
	if err := st.Import(storetest.Seed()); err != nil {
		t.Fatalf("import: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Storage.Driver = "memory"
	cfg.Archive.Driver = "memory"
	cfg.Pipeline.Workers = 4
	core, logs := observer.New(zapcore.DebugLevel)
	arch := archive.NewMemory()
	runs := 0
	svc := NewService(Options{
		Config:  cfg,
		Store:   st,
		Archive: arch,
		Logger:  zap.New(core),
		NewRunID: func() string {
			runs++
			return fmt.Sprintf("run-%d", runs)
		},
		Now: tickingClock(),
	})
	return &fixture{store: st, archive: arch, logs: logs, svc: svc}
}

type outcome struct {
	Chain    string
	Aspect   domain.Aspect
	Inserted int
	Updated  int
	Deleted  int
}

func outcomes(sum Summary) []outcome {
	out := make([]outcome, 0, len(sum.Reports))
	for _, r := range sum.Reports {
		out = append(out, outcome{Chain: r.Chain, Aspect: r.Aspect, Inserted: r.Inserted, Updated: r.Updated, Deleted: r.Deleted})
	}
	return out
}

func TestServiceRunsEveryChainAndAspectInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sum, err := f.svc.Run(ctx, Selection{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []outcome{
		{Chain: "strain2allele", Aspect: domain.AspectDisease, Inserted: 3, Updated: 1},
		{Chain: "strain2allele", Aspect: domain.AspectPhenotype, Inserted: 2},
		{Chain: "allele2gene", Aspect: domain.AspectDisease, Inserted: 3},
		{Chain: "allele2gene", Aspect: domain.AspectPhenotype},
	}
	if diff := cmp.Diff(want, outcomes(sum)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	for _, r := range sum.Reports {
		if r.RunID != "run-1" {
			t.Fatalf("report %s/%s carries run id %q", r.Chain, r.Aspect, r.RunID)
		}
	}
	if len(sum.Archived) != 8 {
		t.Fatalf("expected report+journal per run, got %v", sum.Archived)
	}
	entries, err := archive.List(ctx, f.archive, "")
	if err != nil {
		t.Fatalf("list archive: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("expected 4 archived reports, got %d", len(entries))
	}

	var human []domain.Annotation
	for _, a := range f.store.Annotations() {
		if a.SubjectID == storetest.HumanGeneID {
			human = append(human, a)
		}
	}
	if len(human) != 2 {
		t.Fatalf("expected two human ortholog annotations, got %+v", human)
	}
	for _, a := range human {
		if a.Evidence != domain.EvidenceISO || a.WithInfo != "RGD:300" {
			t.Fatalf("unexpected ortholog annotation %+v", a)
		}
	}
	owners := map[string]int{}
	for _, a := range human {
		owners[a.TermAcc] = a.CreatedBy
	}
	if owners["DOID:9352"] != storetest.Pipeline || owners["DOID:4"] != storetest.OtherPipe {
		t.Fatalf("ortholog rows not stamped with their chain owner: %v", owners)
	}

	for _, a := range f.store.Annotations() {
		if a.CreatedBy == storetest.OtherPipe && a.TermAcc == "DOID:9352" {
			t.Fatalf("allele2gene re-propagated a strain chain row: %+v", a)
		}
	}

	if got := f.logs.FilterMessage("annotprop started").All(); len(got) != 1 || got[0].ContextMap()["store"] != "memory store" {
		t.Fatalf("expected run header with store info, got %+v", got)
	}
	if f.logs.FilterMessage("annotprop finished").Len() != 1 {
		t.Fatalf("expected run footer")
	}
}

func TestServiceSecondRunChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Run(ctx, Selection{}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := f.store.Annotations()
	sum, err := f.svc.Run(ctx, Selection{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, o := range outcomes(sum) {
		if o.Inserted != 0 || o.Updated != 0 || o.Deleted != 0 {
			t.Fatalf("second run mutated the store: %+v", o)
		}
	}
	after := f.store.Annotations()
	if len(before) != len(after) {
		t.Fatalf("annotation count changed: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i].NaturalKey() != after[i].NaturalKey() || before[i].Key != after[i].Key {
			t.Fatalf("row %d changed identity: %+v -> %+v", i, before[i], after[i])
		}
	}
	if sum.RunID != "run-2" {
		t.Fatalf("expected a fresh run id, got %q", sum.RunID)
	}
}

func TestServiceSelection(t *testing.T) {
	f := newFixture(t)
	sum, err := f.svc.Run(context.Background(), Selection{Chains: []string{"allele2gene"}, Aspects: []string{"D"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []outcome{{Chain: "allele2gene", Aspect: domain.AspectDisease, Inserted: 3}}
	if diff := cmp.Diff(want, outcomes(sum)); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	if got := f.store.Calls(memory.OpBase); got != 1 {
		t.Fatalf("expected a single base fetch, got %d", got)
	}
}

func TestServiceRejectsBadSelection(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Run(context.Background(), Selection{Chains: []string{"gene2strain"}}); err == nil {
		t.Fatalf("expected unknown chain error")
	}
	if _, err := f.svc.Run(context.Background(), Selection{Aspects: []string{"dd"}}); err == nil {
		t.Fatalf("expected invalid aspect error")
	}
	if f.store.Calls(memory.OpBase) != 0 {
		t.Fatalf("no run should start on a bad selection")
	}
}

func TestServiceStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("connection reset")
	f.store.FailOn(memory.OpOwned, boom)
	sum, err := f.svc.Run(context.Background(), Selection{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(sum.Reports) != 1 || sum.Reports[0].Error == "" {
		t.Fatalf("expected one failed report, got %+v", sum.Reports)
	}
	if got := f.store.Calls(memory.OpBase); got != 1 {
		t.Fatalf("later runs must not start, base fetched %d times", got)
	}
	entries, err := archive.List(context.Background(), f.archive, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Report.Error == "" {
		t.Fatalf("expected failed report archived, got %+v", entries)
	}
}

func TestServiceWithoutArchive(t *testing.T) {
	st := memory.NewStore()
	if err := st.Import(storetest.Seed()); err != nil {
		t.Fatalf("import: %v", err)
	}
	cfg := config.DefaultConfig()
	svc := NewService(Options{Config: cfg, Store: st})
	sum, err := svc.Run(context.Background(), Selection{Aspects: []string{"N"}})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sum.Archived) != 0 || len(sum.Reports) != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.RunID == "" || svc.Recorder() == nil {
		t.Fatalf("expected default run id and recorder")
	}
}
