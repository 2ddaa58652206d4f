// Package pipeline drives one chain over one ontology aspect: fetch the base
// annotations, snapshot what the pipeline already owns, derive concurrently,
// reconcile level by level and sweep orphans.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"annotprop/internal/derive"
	"annotprop/internal/metrics"
	"annotprop/internal/reconcile"
	"annotprop/pkg/domain"
)

// Options parameterise a chain run.
type Options struct {
	Chain derive.Chain
	// Owner is the pipeline id stamped on every row this chain creates.
	Owner                int
	Workers              int
	EvidenceCodes        []string
	RestrictedQualifiers []string
	AllowedSpecies       []int
	DiseaseAspect        domain.Aspect
	// ExcludeOwners lists other pipelines whose rows are not propagated again.
	ExcludeOwners []int
}

// Config wires a Runner.
type Config struct {
	Store    domain.Store
	Options  Options
	Logger   *zap.Logger
	Audit    reconcile.AuditLoggers
	Recorder *metrics.Recorder
	// Shuffle randomises dispatch order. Defaults to math/rand.
	Shuffle func([]domain.Annotation)
	Now     func() time.Time
}

// Runner executes chain runs. Each Run is independent.
type Runner struct {
	store    domain.Store
	opts     Options
	logger   *zap.Logger
	audit    reconcile.AuditLoggers
	recorder *metrics.Recorder
	shuffle  func([]domain.Annotation)
	nowFn    func() time.Time
}

// NewRunner constructs a Runner, filling defaults for optional collaborators.
func NewRunner(cfg Config) *Runner {
	r := &Runner{
		store:    cfg.Store,
		opts:     cfg.Options,
		logger:   cfg.Logger,
		audit:    cfg.Audit,
		recorder: cfg.Recorder,
		shuffle:  cfg.Shuffle,
		nowFn:    cfg.Now,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.recorder == nil {
		r.recorder = metrics.NewRecorder()
	}
	if r.shuffle == nil {
		r.shuffle = func(a []domain.Annotation) {
			rand.Shuffle(len(a), func(i, j int) { a[i], a[j] = a[j], a[i] })
		}
	}
	if r.nowFn == nil {
		r.nowFn = func() time.Time { return time.Now().UTC() }
	}
	if r.opts.Workers <= 0 {
		r.opts.Workers = runtime.GOMAXPROCS(0)
	}
	if r.opts.DiseaseAspect == "" {
		r.opts.DiseaseAspect = domain.AspectDisease
	}
	if r.opts.AllowedSpecies == nil {
		r.opts.AllowedSpecies = domain.DefaultAllowedSpecies()
	}
	return r
}

// Run reconciles the chain for one aspect. On error the partially filled
// report is returned together with the error and no orphan is deleted.
func (r *Runner) Run(ctx context.Context, aspect domain.Aspect) (Report, error) {
	chain := r.opts.Chain
	report := Report{Chain: chain.Name, Aspect: aspect, StartedAt: r.nowFn()}
	counters := metrics.NewCounters()
	log := r.logger.With(zap.String("chain", chain.Name), zap.String("aspect", string(aspect)))

	fail := func(state State, err error) (Report, error) {
		report.State = state
		report.FinishedAt = r.nowFn()
		report.Counts = counters.Snapshot()
		report.Error = err.Error()
		r.recorder.Failure(chain.Name, string(aspect))
		log.Error("run aborted", zap.String("state", string(state)), zap.Error(err))
		return report, fmt.Errorf("%s aspect %s: %s: %w", chain.Name, aspect, state, err)
	}

	base, err := r.store.BaseAnnotations(ctx, domain.BaseQuery{
		Source:        chain.Source,
		Aspect:        aspect,
		EvidenceCodes: r.opts.EvidenceCodes,
		ExcludeOwners: append([]int{r.opts.Owner}, r.opts.ExcludeOwners...),
	})
	if err != nil {
		return fail(StateFetchBase, fmt.Errorf("fetch base annotations: %w", err))
	}
	counters.Add(CounterBase, len(base))

	snap := reconcile.NewSnapshot(r.opts.Owner, aspect)
	initial, err := snap.Load(ctx, r.store, r.nowFn())
	if err != nil {
		return fail(StateLoadSnapshot, err)
	}
	counters.Add(CounterInitial, initial)

	warnings := derive.NewWarnings(log)
	engine := derive.NewEngine(derive.Config{
		Chain:     chain,
		Relations: r.store,
		Orthologs: derive.NewOrthologCache(r.store, r.opts.AllowedSpecies),
		Rules:     derive.NewRules(r.opts.Owner, r.opts.RestrictedQualifiers, r.opts.DiseaseAspect),
		Warnings:  warnings,
		Now:       r.nowFn,
	})
	r.shuffle(base)
	derivations, err := r.deriveAll(ctx, engine, base)
	if err != nil {
		return fail(StateDerive, err)
	}
	buffers := collect(chain, derivations, counters)
	counters.Add(CounterWarnings, warnings.Count())

	journal := &reconcile.Journal{}
	rec := reconcile.New(reconcile.Config{
		Store:    r.store,
		Snapshot: snap,
		Owner:    r.opts.Owner,
		Journal:  journal,
		Audit:    r.audit,
		Now:      r.nowFn,
	})
	var total reconcile.Stats
	for _, level := range chain.Levels {
		st, err := rec.Reconcile(ctx, string(level), buffers[level])
		if err != nil {
			return fail(StateReconcile, fmt.Errorf("reconcile %s level: %w", level, err))
		}
		total.Add(st)
		counters.Add(levelCounter(string(level), "inserted"), st.Inserted)
		counters.Add(levelCounter(string(level), "updated"), st.Updated)
		counters.Add(levelCounter(string(level), "up-to-date"), st.UpToDate)
		if st.Foreign > 0 {
			counters.Add(levelCounter(string(level), "owned by other pipelines"), st.Foreign)
		}
	}

	deleted, err := rec.Sweep(ctx)
	if err != nil {
		report.Changes = journal.Changes()
		return fail(StateSweep, err)
	}
	counters.Add(CounterDeleted, len(deleted))
	counters.Add(CounterFinal, snap.Len())

	report.State = StateReport
	report.FinishedAt = r.nowFn()
	report.Counts = counters.Snapshot()
	report.Inserted = total.Inserted
	report.Updated = total.Updated
	report.UpToDate = total.UpToDate
	report.Deleted = len(deleted)
	report.Changes = journal.Changes()

	r.record(chain.Name, string(aspect), report, snap.Len())
	log.Info("run complete\n"+counters.DumpAlphabetically(), zap.Duration("elapsed", report.Elapsed()))
	return report, nil
}

// deriveAll fans the engine out over base. Results are written to per-task
// slots so no buffer is shared between goroutines. Once a task fails no
// further tasks start; tasks already running finish on the parent context.
func (r *Runner) deriveAll(ctx context.Context, engine *derive.Engine, base []domain.Annotation) ([]derive.Derivation, error) {
	results := make([]derive.Derivation, len(base))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Workers)
	for i := range base {
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			d, err := engine.Derive(ctx, base[i])
			if err != nil {
				return fmt.Errorf("derive from %s: %w", base[i].NaturalKey(), err)
			}
			results[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	// Tasks skipped because the caller cancelled leave empty slots behind.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// collect merges per-task derivations into per-level buffers and folds skip
// outcomes into counters. Each buffer is ordered by natural key and holds one
// annotation per key, so reconciliation does not depend on dispatch order.
func collect(chain derive.Chain, derivations []derive.Derivation, counters *metrics.Counters) map[derive.Level][]domain.Annotation {
	buffers := make(map[derive.Level][]domain.Annotation, len(chain.Levels))
	for _, d := range derivations {
		for _, level := range d.Resolved {
			counters.Increment(relationCounter(string(level), "one relation"))
		}
		for _, s := range d.Skips {
			counters.Increment(relationCounter(string(s.Level), string(s.Reason)))
		}
		for level, annots := range d.Levels {
			buffers[level] = append(buffers[level], annots...)
		}
	}
	for level, annots := range buffers {
		deduped, dropped := dedupe(annots)
		buffers[level] = deduped
		counters.Add(levelCounter(string(level), "derived"), len(deduped))
		if dropped > 0 {
			counters.Add(CounterDuplicateDrops, dropped)
		}
	}
	return buffers
}

// dedupe sorts annots canonically and keeps the first annotation of each natural key.
func dedupe(annots []domain.Annotation) ([]domain.Annotation, int) {
	sort.Slice(annots, func(i, j int) bool { return lessAnnotation(annots[i], annots[j]) })
	out := annots[:0]
	dropped := 0
	for i, a := range annots {
		if i > 0 && a.NaturalKey() == out[len(out)-1].NaturalKey() {
			dropped++
			continue
		}
		out = append(out, a)
	}
	return out, dropped
}

func lessAnnotation(a, b domain.Annotation) bool {
	ka, kb := a.NaturalKey(), b.NaturalKey()
	switch {
	case ka.TermAcc != kb.TermAcc:
		return ka.TermAcc < kb.TermAcc
	case ka.SubjectID != kb.SubjectID:
		return ka.SubjectID < kb.SubjectID
	case ka.RefID != kb.RefID:
		return ka.RefID < kb.RefID
	case ka.Evidence != kb.Evidence:
		return ka.Evidence < kb.Evidence
	case ka.WithInfo != kb.WithInfo:
		return ka.WithInfo < kb.WithInfo
	case ka.Qualifier != kb.Qualifier:
		return ka.Qualifier < kb.Qualifier
	case ka.XrefSource != kb.XrefSource:
		return ka.XrefSource < kb.XrefSource
	case a.Notes != b.Notes:
		return a.Notes < b.Notes
	case a.Extension != b.Extension:
		return a.Extension < b.Extension
	default:
		return a.GeneProductFormID < b.GeneProductFormID
	}
}

func (r *Runner) record(chain, aspect string, rep Report, final int) {
	r.recorder.Annotations(chain, aspect, metrics.OutcomeBase, rep.Counts[CounterBase])
	r.recorder.Annotations(chain, aspect, metrics.OutcomeInserted, rep.Inserted)
	r.recorder.Annotations(chain, aspect, metrics.OutcomeUpdated, rep.Updated)
	r.recorder.Annotations(chain, aspect, metrics.OutcomeUpToDate, rep.UpToDate)
	r.recorder.Annotations(chain, aspect, metrics.OutcomeDeleted, rep.Deleted)
	r.recorder.Annotations(chain, aspect, metrics.OutcomeWarnings, rep.Counts[CounterWarnings])
	skipped := 0
	for _, reason := range []derive.SkipReason{derive.SkipNoRelation, derive.SkipAmbiguous, derive.SkipNotVariant} {
		for _, level := range []derive.Level{derive.LevelAllele, derive.LevelGene} {
			skipped += rep.Counts[relationCounter(string(level), string(reason))]
		}
	}
	r.recorder.Annotations(chain, aspect, metrics.OutcomeSkipped, skipped)
	r.recorder.ObserveRun(chain, aspect, rep.Elapsed())
	r.recorder.SnapshotSize(chain, aspect, final)
}
