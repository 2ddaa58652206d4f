package derive

import (
	"fmt"

	"annotprop/pkg/domain"
)

// Level is one tier of derived annotations.
type Level string

const (
	LevelAllele   Level = "allele"
	LevelGene     Level = "gene"
	LevelOrtholog Level = "ortholog"
)

// Chain describes which levels are derived from which kind of source annotation.
type Chain struct {
	Name   string
	Source domain.SubjectKind
	Levels []Level
}

// Built-in chains.
var (
	// StrainToAllele propagates mutant strain annotations to the strain's allele,
	// the allele's parent gene and the gene's orthologs.
	StrainToAllele = Chain{
		Name:   "strain2allele",
		Source: domain.SubjectStrain,
		Levels: []Level{LevelAllele, LevelGene, LevelOrtholog},
	}
	// AlleleToGene propagates annotations curated directly on alleles to the
	// parent gene and its orthologs.
	AlleleToGene = Chain{
		Name:   "allele2gene",
		Source: domain.SubjectAllele,
		Levels: []Level{LevelGene, LevelOrtholog},
	}
)

// ChainByName resolves a built-in chain.
func ChainByName(name string) (Chain, error) {
	switch name {
	case StrainToAllele.Name:
		return StrainToAllele, nil
	case AlleleToGene.Name:
		return AlleleToGene, nil
	default:
		return Chain{}, fmt.Errorf("unknown chain %q", name)
	}
}
