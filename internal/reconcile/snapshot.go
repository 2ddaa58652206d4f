// Package reconcile diffs freshly derived annotations against the annotations a
// pipeline already owns and applies the inserts, updates and orphan deletes.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"annotprop/pkg/domain"
)

type entry struct {
	annot   domain.Annotation
	touched bool
}

// Snapshot indexes the annotations owned by one pipeline for one aspect, as of
// the cutoff captured by Load. It is used from a single goroutine.
type Snapshot struct {
	owner   int
	aspect  domain.Aspect
	cutoff  time.Time
	entries map[domain.NaturalKey]*entry
}

// NewSnapshot returns an empty snapshot for owner and aspect.
func NewSnapshot(owner int, aspect domain.Aspect) *Snapshot {
	return &Snapshot{owner: owner, aspect: aspect, entries: make(map[domain.NaturalKey]*entry)}
}

// Load fixes the cutoff at now and indexes every owned annotation last
// modified before it. It returns the number of indexed annotations.
func (s *Snapshot) Load(ctx context.Context, store domain.AnnotationStore, now time.Time) (int, error) {
	s.cutoff = now
	annots, err := store.OwnedBefore(ctx, s.owner, s.aspect, now)
	if err != nil {
		return 0, fmt.Errorf("load owned annotations (owner %d, aspect %s): %w", s.owner, s.aspect, err)
	}
	for _, a := range annots {
		s.entries[a.NaturalKey()] = &entry{annot: a}
	}
	return len(s.entries), nil
}

// Cutoff returns the timestamp captured by Load.
func (s *Snapshot) Cutoff() time.Time { return s.cutoff }

// Len returns the number of indexed annotations.
func (s *Snapshot) Len() int { return len(s.entries) }

// Lookup returns the indexed annotation for key.
func (s *Snapshot) Lookup(key domain.NaturalKey) (domain.Annotation, bool) {
	e, ok := s.entries[key]
	if !ok {
		return domain.Annotation{}, false
	}
	return e.annot, true
}

func (s *Snapshot) touched(key domain.NaturalKey) bool {
	e, ok := s.entries[key]
	return ok && e.touched
}

// MarkTouched records that key is justified by this run, storing a as its current state.
func (s *Snapshot) MarkTouched(key domain.NaturalKey, a domain.Annotation) {
	if e, ok := s.entries[key]; ok {
		e.annot = a
		e.touched = true
		return
	}
	s.entries[key] = &entry{annot: a, touched: true}
}

// Untouched returns the entries not yet touched, ordered by persistence key.
func (s *Snapshot) Untouched() []domain.Annotation {
	var out []domain.Annotation
	for _, e := range s.entries {
		if !e.touched {
			out = append(out, e.annot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SweepOrphans deletes every entry that was never touched and drops it from the
// index. It must only run after every level of the aspect has been reconciled.
// On error the entries deleted so far are returned along with it.
func (s *Snapshot) SweepOrphans(ctx context.Context, store domain.AnnotationStore) ([]domain.Annotation, error) {
	orphans := s.Untouched()
	deleted := make([]domain.Annotation, 0, len(orphans))
	for _, a := range orphans {
		if !a.LastModifiedAt.Before(s.cutoff) {
			return deleted, fmt.Errorf("orphan KEY:%d modified at %s, not before cutoff %s", a.Key, a.LastModifiedAt, s.cutoff)
		}
		if err := store.Delete(ctx, a.Key); err != nil {
			return deleted, fmt.Errorf("delete orphan KEY:%d: %w", a.Key, err)
		}
		delete(s.entries, a.NaturalKey())
		deleted = append(deleted, a)
	}
	return deleted, nil
}
