package domain

import (
	"context"
	"time"
)

// BaseQuery selects the source annotations a chain propagates from.
type BaseQuery struct {
	Source SubjectKind
	Aspect Aspect
	// EvidenceCodes restricts results to approved evidence codes. Empty means all.
	EvidenceCodes []string
	// ExcludeOwners drops annotations created by these pipelines.
	ExcludeOwners []int
}

// AnnotationStore is the persistence surface the reconciler needs.
type AnnotationStore interface {
	BaseAnnotations(ctx context.Context, q BaseQuery) ([]Annotation, error)
	// FindKey returns the persistence key of any annotation (any owner) sharing
	// the natural key of a, or 0 when there is none.
	FindKey(ctx context.Context, a Annotation) (int64, error)
	OwnedBefore(ctx context.Context, owner int, aspect Aspect, cutoff time.Time) ([]Annotation, error)
	Insert(ctx context.Context, a Annotation) (int64, error)
	// Update rewrites the mutable fields and last-modified audit columns of a.Key.
	Update(ctx context.Context, a Annotation) error
	Delete(ctx context.Context, key int64) error
	Touch(ctx context.Context, key int64, by int, at time.Time) error
}

// RelationSource resolves the reference-data relations of the derivation chain.
type RelationSource interface {
	// StrainAlleles returns allele marker ids associated with a strain.
	StrainAlleles(ctx context.Context, strainID int) ([]int, error)
	// ParentGenes returns the gene ids an allele is a variant of.
	ParentGenes(ctx context.Context, alleleID int) ([]int, error)
	Subject(ctx context.Context, id int) (Subject, error)
	// Orthologs returns all orthologs of a gene, unfiltered.
	Orthologs(ctx context.Context, geneID int) ([]Ortholog, error)
}

// Store is the full record store adapter.
type Store interface {
	AnnotationStore
	RelationSource
	// Info describes the connection for the run header.
	Info() string
	Close() error
}
