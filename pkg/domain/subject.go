package domain

import "fmt"

// Species type keys as used by the reference data.
const (
	SpeciesHuman = 1
	SpeciesMouse = 2
	SpeciesRat   = 3
)

// DefaultAllowedSpecies is the ortholog species whitelist used when none is configured.
func DefaultAllowedSpecies() []int { return []int{SpeciesHuman, SpeciesMouse} }

// Subject is the current record of an annotated entity.
type Subject struct {
	ID          int         `json:"rgd_id" yaml:"rgd_id"`
	Kind        SubjectKind `json:"kind" yaml:"kind"`
	Symbol      string      `json:"symbol" yaml:"symbol"`
	Name        string      `json:"name" yaml:"name"`
	SpeciesType int         `json:"species_type_key" yaml:"species_type_key"`
	// Variant is set for allele/variant gene records.
	Variant bool `json:"is_variant" yaml:"is_variant"`
}

func (s Subject) String() string { return fmt.Sprintf("%s RGD:%d", s.Symbol, s.ID) }

// Ortholog links a source gene to an orthologous gene in another species.
type Ortholog struct {
	SourceID        int `json:"src_rgd_id" yaml:"src_rgd_id"`
	DestID          int `json:"dest_rgd_id" yaml:"dest_rgd_id"`
	DestSpeciesType int `json:"dest_species_type_key" yaml:"dest_species_type_key"`
}
