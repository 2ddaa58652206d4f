package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"annotprop/pkg/domain"
)

// Stats summarises one Reconcile call.
type Stats struct {
	Inserted int
	Updated  int
	// UpToDate counts desired annotations that needed no content change,
	// including those already present under another owner.
	UpToDate int
	// Foreign is the part of UpToDate that exists under a different owner.
	Foreign int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Inserted += other.Inserted
	s.Updated += other.Updated
	s.UpToDate += other.UpToDate
	s.Foreign += other.Foreign
}

// AuditLoggers are the per-mutation audit channels.
type AuditLoggers struct {
	Inserted *zap.Logger
	Updated  *zap.Logger
	Deleted  *zap.Logger
}

func (l AuditLoggers) withDefaults() AuditLoggers {
	nop := zap.NewNop()
	if l.Inserted == nil {
		l.Inserted = nop
	}
	if l.Updated == nil {
		l.Updated = nop
	}
	if l.Deleted == nil {
		l.Deleted = nop
	}
	return l
}

// Config wires a Reconciler.
type Config struct {
	Store    domain.AnnotationStore
	Snapshot *Snapshot
	Owner    int
	Journal  *Journal
	Audit    AuditLoggers
	Now      func() time.Time
}

// Reconciler applies desired annotations against a snapshot. It is not safe
// for concurrent use; reconciliation runs after derivation has drained.
type Reconciler struct {
	store   domain.AnnotationStore
	snap    *Snapshot
	owner   int
	journal *Journal
	audit   AuditLoggers
	nowFn   func() time.Time
}

// New constructs a Reconciler.
func New(cfg Config) *Reconciler {
	r := &Reconciler{
		store:   cfg.Store,
		snap:    cfg.Snapshot,
		owner:   cfg.Owner,
		journal: cfg.Journal,
		audit:   cfg.Audit.withDefaults(),
		nowFn:   cfg.Now,
	}
	if r.nowFn == nil {
		r.nowFn = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// Reconcile inserts, updates or touches each desired annotation of one level.
func (r *Reconciler) Reconcile(ctx context.Context, level string, desired []domain.Annotation) (Stats, error) {
	var st Stats
	for _, a := range desired {
		key := a.NaturalKey()
		if existing, ok := r.snap.Lookup(key); ok {
			if err := r.refresh(ctx, level, key, existing, a, &st); err != nil {
				return st, err
			}
			continue
		}

		foreignKey, err := r.store.FindKey(ctx, a)
		if err != nil {
			return st, fmt.Errorf("find %s: %w", key, err)
		}
		if foreignKey != 0 {
			st.UpToDate++
			st.Foreign++
			continue
		}

		a.Key = 0
		newKey, err := r.store.Insert(ctx, a)
		if err != nil {
			return st, fmt.Errorf("insert %s: %w", key, err)
		}
		a.Key = newKey
		r.snap.MarkTouched(key, a)
		st.Inserted++
		r.audit.Inserted.Debug(a.Dump("|"), zap.String("level", level))
		r.journal.record(Change{Action: ActionInsert, Level: level, Annotation: a, At: r.nowFn()})
	}
	return st, nil
}

// refresh handles a desired annotation already owned by the pipeline.
func (r *Reconciler) refresh(ctx context.Context, level string, key domain.NaturalKey, existing, desired domain.Annotation, st *Stats) error {
	now := r.nowFn()
	changes := domain.MutableDiff(existing, desired)
	if len(changes) == 0 {
		if !r.snap.touched(key) {
			if err := r.store.Touch(ctx, existing.Key, r.owner, now); err != nil {
				return fmt.Errorf("touch KEY:%d: %w", existing.Key, err)
			}
			existing.LastModifiedBy = r.owner
			existing.LastModifiedAt = now
			r.snap.MarkTouched(key, existing)
		}
		st.UpToDate++
		return nil
	}

	updated := existing
	updated.Notes = desired.Notes
	updated.Extension = desired.Extension
	updated.GeneProductFormID = desired.GeneProductFormID
	updated.LastModifiedBy = r.owner
	updated.LastModifiedAt = now
	if err := r.store.Update(ctx, updated); err != nil {
		return fmt.Errorf("update KEY:%d: %w", existing.Key, err)
	}
	r.snap.MarkTouched(key, updated)
	st.Updated++
	r.audit.Updated.Info(updateMessage(updated, changes), zap.String("level", level))
	r.journal.record(Change{Action: ActionUpdate, Level: level, Annotation: updated, Fields: changes, At: now})
	return nil
}

// Sweep deletes the snapshot entries not touched during the run.
func (r *Reconciler) Sweep(ctx context.Context) ([]domain.Annotation, error) {
	deleted, err := r.snap.SweepOrphans(ctx, r.store)
	now := r.nowFn()
	for _, a := range deleted {
		r.audit.Deleted.Debug(a.Dump("|"))
		r.journal.record(Change{Action: ActionDelete, Annotation: a, At: now})
	}
	return deleted, err
}

func updateMessage(a domain.Annotation, changes []domain.FieldChange) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KEY:%d %s RGD:%d RefRGD:%d %s W:%s", a.Key, a.TermAcc, a.SubjectID, a.RefID, a.Evidence, a.WithInfo)
	for _, c := range changes {
		b.WriteString("\n   ")
		b.WriteString(c.String())
	}
	return b.String()
}
