// Package memory implements the record store adapter in process memory. It is
// used by tests and by the "memory" storage driver for dry runs over a seed file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"annotprop/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// Operation names accepted by FailOn and Calls.
const (
	OpBase      = "base"
	OpFind      = "find"
	OpOwned     = "owned"
	OpInsert    = "insert"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpTouch     = "touch"
	OpAlleles   = "alleles"
	OpGenes     = "genes"
	OpSubject   = "subject"
	OpOrthologs = "orthologs"
)

type strainRecord struct {
	subject    domain.Subject
	strainType string
}

// Store is a mutex-guarded in-memory record store.
type Store struct {
	mu       sync.RWMutex
	annots   map[int64]domain.Annotation
	byKey    map[domain.NaturalKey]int64
	nextKey  int64
	strains  map[int]strainRecord
	genes    map[int]domain.Subject
	markers  map[int][]domain.SeedStrainMarker
	variants map[int][]int
	orthos   map[int][]domain.Ortholog
	failOn   map[string]error
	calls    map[string]int
	nowFn    func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		annots:   make(map[int64]domain.Annotation),
		byKey:    make(map[domain.NaturalKey]int64),
		strains:  make(map[int]strainRecord),
		genes:    make(map[int]domain.Subject),
		markers:  make(map[int][]domain.SeedStrainMarker),
		variants: make(map[int][]int),
		orthos:   make(map[int][]domain.Ortholog),
		failOn:   make(map[string]error),
		calls:    make(map[string]int),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Import loads reference data and annotations. Annotations without a key get one.
func (s *Store) Import(seed domain.Seed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range seed.Strains {
		s.strains[st.ID] = strainRecord{
			subject:    domain.Subject{ID: st.ID, Kind: domain.SubjectStrain, Symbol: st.Symbol, Name: st.Name, SpeciesType: domain.SpeciesRat},
			strainType: st.Type,
		}
	}
	for _, g := range seed.Genes {
		if g.Kind == "" {
			g.Kind = domain.SubjectGene
			if g.Variant {
				g.Kind = domain.SubjectAllele
			}
		}
		s.genes[g.ID] = g
	}
	for _, m := range seed.StrainMarkers {
		s.markers[m.StrainID] = append(s.markers[m.StrainID], m)
	}
	for _, v := range seed.GeneVariants {
		s.variants[v.VariantID] = append(s.variants[v.VariantID], v.GeneID)
	}
	for _, o := range seed.Orthologs {
		s.orthos[o.SourceID] = append(s.orthos[o.SourceID], o)
	}
	for _, a := range seed.Annotations {
		if _, err := s.insertLocked(a); err != nil {
			return err
		}
	}
	return nil
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Annotations returns every stored annotation ordered by key.
func (s *Store) Annotations() []domain.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Annotation, 0, len(s.annots))
	for _, a := range s.annots {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// SetClock overrides the clock used by Touch defaults and Import.
func (s *Store) SetClock(fn func() time.Time) {
	s.mu.Lock()
	s.nowFn = fn
	s.mu.Unlock()
}

// Info describes the backend.
func (s *Store) Info() string { return "memory store" }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// enter counts op and returns its injected failure, if any. Callers hold mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	return s.failOn[op]
}

func (s *Store) BaseAnnotations(_ context.Context, q domain.BaseQuery) ([]domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpBase); err != nil {
		return nil, err
	}
	evidence := toSet(q.EvidenceCodes)
	excluded := make(map[int]struct{}, len(q.ExcludeOwners))
	for _, o := range q.ExcludeOwners {
		excluded[o] = struct{}{}
	}
	var out []domain.Annotation
	for _, a := range s.annots {
		if a.Aspect != q.Aspect || !s.isSource(q.Source, a.SubjectID) {
			continue
		}
		if len(evidence) > 0 {
			if _, ok := evidence[a.Evidence]; !ok {
				continue
			}
		}
		if _, ok := excluded[a.CreatedBy]; ok {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) isSource(kind domain.SubjectKind, id int) bool {
	switch kind {
	case domain.SubjectStrain:
		st, ok := s.strains[id]
		return ok && st.strainType == domain.StrainTypeMutant
	case domain.SubjectAllele:
		g, ok := s.genes[id]
		return ok && g.Variant
	default:
		_, ok := s.genes[id]
		return ok
	}
}

func (s *Store) FindKey(_ context.Context, a domain.Annotation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpFind); err != nil {
		return 0, err
	}
	return s.byKey[a.NaturalKey()], nil
}

func (s *Store) OwnedBefore(_ context.Context, owner int, aspect domain.Aspect, cutoff time.Time) ([]domain.Annotation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpOwned); err != nil {
		return nil, err
	}
	var out []domain.Annotation
	for _, a := range s.annots {
		if a.CreatedBy == owner && a.Aspect == aspect && a.LastModifiedAt.Before(cutoff) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Insert(_ context.Context, a domain.Annotation) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpInsert); err != nil {
		return 0, err
	}
	return s.insertLocked(a)
}

func (s *Store) insertLocked(a domain.Annotation) (int64, error) {
	key := a.NaturalKey()
	if existing, ok := s.byKey[key]; ok {
		return 0, fmt.Errorf("unique constraint violated: %s already stored as KEY:%d", key, existing)
	}
	if a.Key == 0 {
		s.nextKey++
		a.Key = s.nextKey
	} else if a.Key > s.nextKey {
		s.nextKey = a.Key
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.nowFn()
	}
	if a.LastModifiedAt.IsZero() {
		a.LastModifiedAt = a.CreatedAt
	}
	s.annots[a.Key] = a
	s.byKey[key] = a.Key
	return a.Key, nil
}

func (s *Store) Update(_ context.Context, a domain.Annotation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpUpdate); err != nil {
		return err
	}
	cur, ok := s.annots[a.Key]
	if !ok {
		return fmt.Errorf("KEY:%d: %w", a.Key, domain.ErrNotFound)
	}
	cur.Notes = a.Notes
	cur.Extension = a.Extension
	cur.GeneProductFormID = a.GeneProductFormID
	cur.LastModifiedBy = a.LastModifiedBy
	cur.LastModifiedAt = a.LastModifiedAt
	s.annots[a.Key] = cur
	return nil
}

func (s *Store) Delete(_ context.Context, key int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpDelete); err != nil {
		return err
	}
	cur, ok := s.annots[key]
	if !ok {
		return fmt.Errorf("KEY:%d: %w", key, domain.ErrNotFound)
	}
	delete(s.byKey, cur.NaturalKey())
	delete(s.annots, key)
	return nil
}

func (s *Store) Touch(_ context.Context, key int64, by int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpTouch); err != nil {
		return err
	}
	cur, ok := s.annots[key]
	if !ok {
		return fmt.Errorf("KEY:%d: %w", key, domain.ErrNotFound)
	}
	if at.IsZero() {
		at = s.nowFn()
	}
	cur.LastModifiedBy = by
	cur.LastModifiedAt = at
	s.annots[key] = cur
	return nil
}

func (s *Store) StrainAlleles(_ context.Context, strainID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpAlleles); err != nil {
		return nil, err
	}
	var ids []int
	for _, m := range s.markers[strainID] {
		if m.IsAllele() {
			ids = append(ids, m.MarkerID)
		}
	}
	return ids, nil
}

func (s *Store) ParentGenes(_ context.Context, alleleID int) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpGenes); err != nil {
		return nil, err
	}
	return append([]int(nil), s.variants[alleleID]...), nil
}

func (s *Store) Subject(_ context.Context, id int) (domain.Subject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSubject); err != nil {
		return domain.Subject{}, err
	}
	if g, ok := s.genes[id]; ok {
		return g, nil
	}
	if st, ok := s.strains[id]; ok {
		return st.subject, nil
	}
	return domain.Subject{}, fmt.Errorf("RGD:%d: %w", id, domain.ErrNotFound)
}

func (s *Store) Orthologs(_ context.Context, geneID int) ([]domain.Ortholog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpOrthologs); err != nil {
		return nil, err
	}
	return append([]domain.Ortholog(nil), s.orthos[geneID]...), nil
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
