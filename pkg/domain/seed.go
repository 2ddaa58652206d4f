package domain

// MarkerTypeAllele is the strain marker type propagated to alleles. A marker
// without a type is treated as an allele.
const MarkerTypeAllele = "allele"

// StrainTypeMutant selects the strains whose annotations seed the strain chain.
const StrainTypeMutant = "mutant"

// Seed is a reference-data and annotation fixture that every store adapter can import.
type Seed struct {
	Strains       []SeedStrain       `json:"strains" yaml:"strains"`
	Genes         []Subject          `json:"genes" yaml:"genes"`
	StrainMarkers []SeedStrainMarker `json:"strain_markers" yaml:"strain_markers"`
	GeneVariants  []SeedGeneVariant  `json:"gene_variants" yaml:"gene_variants"`
	Orthologs     []Ortholog         `json:"orthologs" yaml:"orthologs"`
	Annotations   []Annotation       `json:"annotations" yaml:"annotations"`
}

// SeedStrain is a strain record.
type SeedStrain struct {
	ID     int    `json:"rgd_id" yaml:"rgd_id"`
	Symbol string `json:"symbol" yaml:"symbol"`
	Name   string `json:"name" yaml:"name"`
	Type   string `json:"strain_type" yaml:"strain_type"`
}

// SeedStrainMarker associates a strain with a marker (allele or gene).
type SeedStrainMarker struct {
	StrainID   int    `json:"strain_rgd_id" yaml:"strain_rgd_id"`
	MarkerID   int    `json:"marker_rgd_id" yaml:"marker_rgd_id"`
	MarkerType string `json:"marker_type,omitempty" yaml:"marker_type,omitempty"`
}

// IsAllele reports whether the association points at an allele marker.
func (m SeedStrainMarker) IsAllele() bool {
	return m.MarkerType == "" || m.MarkerType == MarkerTypeAllele
}

// SeedGeneVariant links an allele (variant) to its parent gene.
type SeedGeneVariant struct {
	VariantID int `json:"variant_rgd_id" yaml:"variant_rgd_id"`
	GeneID    int `json:"gene_rgd_id" yaml:"gene_rgd_id"`
}
