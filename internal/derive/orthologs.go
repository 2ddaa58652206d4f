package derive

import (
	"context"
	"fmt"
	"sync"

	"annotprop/pkg/domain"
)

// OrthologCache is a per-run read-through cache of species-filtered orthologs.
// Concurrent misses for the same gene may both hit the store; the filtered
// result is identical so whichever is stored first wins.
type OrthologCache struct {
	src     domain.RelationSource
	allowed map[int]struct{}
	byGene  sync.Map // int -> []domain.Ortholog
}

// NewOrthologCache builds an empty cache restricted to the allowed species.
func NewOrthologCache(src domain.RelationSource, allowedSpecies []int) *OrthologCache {
	allowed := make(map[int]struct{}, len(allowedSpecies))
	for _, s := range allowedSpecies {
		allowed[s] = struct{}{}
	}
	return &OrthologCache{src: src, allowed: allowed}
}

// Get returns the whitelisted orthologs of geneID.
func (c *OrthologCache) Get(ctx context.Context, geneID int) ([]domain.Ortholog, error) {
	if v, ok := c.byGene.Load(geneID); ok {
		return v.([]domain.Ortholog), nil
	}
	all, err := c.src.Orthologs(ctx, geneID)
	if err != nil {
		return nil, fmt.Errorf("orthologs for RGD:%d: %w", geneID, err)
	}
	filtered := make([]domain.Ortholog, 0, len(all))
	for _, o := range all {
		if _, ok := c.allowed[o.DestSpeciesType]; ok {
			filtered = append(filtered, o)
		}
	}
	v, _ := c.byGene.LoadOrStore(geneID, filtered)
	return v.([]domain.Ortholog), nil
}
