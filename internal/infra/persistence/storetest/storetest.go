// Package storetest holds the behavioural contract every record store adapter
// must satisfy, plus the reference fixture it runs against.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"annotprop/pkg/domain"
)

// Factory opens a fresh store loaded with seed.
type Factory func(t *testing.T, seed domain.Seed) domain.Store

// Fixture owners and times.
const (
	Curator     = 70
	Pipeline    = 501
	OtherPipe   = 502
	MutantID    = 100
	WildID      = 101
	AlleleID    = 200
	GeneID      = 300
	HumanGeneID = 400
	MouseGeneID = 500
	DogGeneID   = 600
)

// Epoch is the base timestamp of the fixture. All fixture times are whole microseconds.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Seed returns the reference fixture: a mutant strain carrying one allele of a
// rat gene with human, mouse and dog orthologs.
func Seed() domain.Seed {
	return domain.Seed{
		Strains: []domain.SeedStrain{
			{ID: MutantID, Symbol: "SS-Mut1", Name: "mutant strain", Type: domain.StrainTypeMutant},
			{ID: WildID, Symbol: "SS-Wild", Name: "inbred strain", Type: "inbred"},
		},
		Genes: []domain.Subject{
			{ID: AlleleID, Symbol: "Lepr<m1>", Name: "leptin receptor; mutant 1", SpeciesType: domain.SpeciesRat, Variant: true},
			{ID: GeneID, Symbol: "Lepr", Name: "leptin receptor", SpeciesType: domain.SpeciesRat},
			{ID: HumanGeneID, Symbol: "LEPR", Name: "leptin receptor", SpeciesType: domain.SpeciesHuman},
			{ID: MouseGeneID, Symbol: "Lepr", Name: "leptin receptor", SpeciesType: domain.SpeciesMouse},
			{ID: DogGeneID, Symbol: "LEPR", Name: "leptin receptor", SpeciesType: 6},
		},
		StrainMarkers: []domain.SeedStrainMarker{
			{StrainID: MutantID, MarkerID: AlleleID},
			{StrainID: MutantID, MarkerID: GeneID, MarkerType: "gene"},
		},
		GeneVariants: []domain.SeedGeneVariant{{VariantID: AlleleID, GeneID: GeneID}},
		Orthologs: []domain.Ortholog{
			{SourceID: GeneID, DestID: HumanGeneID, DestSpeciesType: domain.SpeciesHuman},
			{SourceID: GeneID, DestID: MouseGeneID, DestSpeciesType: domain.SpeciesMouse},
			{SourceID: GeneID, DestID: DogGeneID, DestSpeciesType: 6},
		},
		Annotations: []domain.Annotation{
			curated("DOID:9352", MutantID, "IMP", domain.AspectDisease),
			curated("DOID:9351", WildID, "IMP", domain.AspectDisease),
			curated("DOID:1", MutantID, "IEA", domain.AspectDisease),
			curated("MP:0001", MutantID, "IAGP", domain.AspectPhenotype),
			curated("DOID:4", AlleleID, "IMP", domain.AspectDisease),
			{
				TermAcc: "DOID:9352", SubjectID: GeneID, RefID: 7, Evidence: "IMP", Aspect: domain.AspectDisease,
				Notes: "stale", CreatedBy: Pipeline, CreatedAt: Epoch, LastModifiedBy: Pipeline, LastModifiedAt: Epoch,
			},
		},
	}
}

func curated(term string, subject int, evidence string, aspect domain.Aspect) domain.Annotation {
	return domain.Annotation{
		TermAcc: term, Term: term + " term", SubjectID: subject, RefID: 7, Evidence: evidence, Aspect: aspect,
		CreatedBy: Curator, CreatedAt: Epoch, LastModifiedBy: Curator, LastModifiedAt: Epoch,
	}
}

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open Factory) {
	t.Run("BaseAnnotationsStrainSource", func(t *testing.T) { testBaseStrains(t, open) })
	t.Run("BaseAnnotationsAlleleSource", func(t *testing.T) { testBaseAlleles(t, open) })
	t.Run("InsertFindKeyUnique", func(t *testing.T) { testInsertFind(t, open) })
	t.Run("OwnedBeforeCutoff", func(t *testing.T) { testOwnedBefore(t, open) })
	t.Run("UpdateTouchDelete", func(t *testing.T) { testMutations(t, open) })
	t.Run("Relations", func(t *testing.T) { testRelations(t, open) })
}

func testBaseStrains(t *testing.T, open Factory) {
	store := open(t, Seed())
	ctx := context.Background()
	got, err := store.BaseAnnotations(ctx, domain.BaseQuery{
		Source:        domain.SubjectStrain,
		Aspect:        domain.AspectDisease,
		EvidenceCodes: []string{"IMP", "IAGP"},
		ExcludeOwners: []int{Pipeline},
	})
	if err != nil {
		t.Fatalf("BaseAnnotations: %v", err)
	}
	if len(got) != 1 || got[0].TermAcc != "DOID:9352" || got[0].SubjectID != MutantID {
		t.Fatalf("expected only the mutant strain IMP annotation, got %+v", got)
	}
	if got[0].Key == 0 || got[0].Term != "DOID:9352 term" || !got[0].LastModifiedAt.Equal(Epoch) {
		t.Fatalf("expected full row round trip, got %+v", got[0])
	}

	all, err := store.BaseAnnotations(ctx, domain.BaseQuery{Source: domain.SubjectStrain, Aspect: domain.AspectDisease})
	if err != nil {
		t.Fatalf("BaseAnnotations: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both mutant strain disease annotations without an evidence filter, got %d", len(all))
	}
	if all[0].Key >= all[1].Key {
		t.Fatalf("expected key order, got %d then %d", all[0].Key, all[1].Key)
	}

	excluded, err := store.BaseAnnotations(ctx, domain.BaseQuery{Source: domain.SubjectStrain, Aspect: domain.AspectDisease, ExcludeOwners: []int{Curator}})
	if err != nil {
		t.Fatalf("BaseAnnotations: %v", err)
	}
	if len(excluded) != 0 {
		t.Fatalf("expected curator rows excluded, got %+v", excluded)
	}
}

func testBaseAlleles(t *testing.T, open Factory) {
	store := open(t, Seed())
	got, err := store.BaseAnnotations(context.Background(), domain.BaseQuery{Source: domain.SubjectAllele, Aspect: domain.AspectDisease})
	if err != nil {
		t.Fatalf("BaseAnnotations: %v", err)
	}
	if len(got) != 1 || got[0].SubjectID != AlleleID {
		t.Fatalf("expected the allele annotation only, got %+v", got)
	}
}

func testInsertFind(t *testing.T, open Factory) {
	store := open(t, domain.Seed{})
	ctx := context.Background()
	a := domain.Annotation{
		TermAcc: "DOID:1", SubjectID: HumanGeneID, RefID: 7, Evidence: domain.EvidenceISO, WithInfo: "RGD:300",
		Aspect: domain.AspectDisease, CreatedBy: Pipeline, CreatedAt: Epoch, LastModifiedBy: Pipeline, LastModifiedAt: Epoch,
	}
	key, err := store.Insert(ctx, a)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if key == 0 {
		t.Fatalf("expected assigned key")
	}
	found, err := store.FindKey(ctx, a)
	if err != nil || found != key {
		t.Fatalf("FindKey = %d, %v; want %d", found, err, key)
	}
	if _, err := store.Insert(ctx, a); err == nil {
		t.Fatalf("expected natural key violation on duplicate insert")
	}

	nullParts := domain.Annotation{TermAcc: "DOID:2", SubjectID: GeneID, RefID: 7, Evidence: "IMP", Aspect: domain.AspectDisease, CreatedBy: Pipeline}
	k2, err := store.Insert(ctx, nullParts)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if found, err := store.FindKey(ctx, nullParts); err != nil || found != k2 {
		t.Fatalf("expected absent with-info/qualifier/xref to match, got %d, %v", found, err)
	}
	if _, err := store.Insert(ctx, nullParts); err == nil {
		t.Fatalf("expected NULL natural key parts to collide as equal")
	}
	other := nullParts
	other.Qualifier = "NOT"
	if found, err := store.FindKey(ctx, other); err != nil || found != 0 {
		t.Fatalf("expected miss for different qualifier, got %d, %v", found, err)
	}
}

func testOwnedBefore(t *testing.T, open Factory) {
	store := open(t, Seed())
	ctx := context.Background()
	owned, err := store.OwnedBefore(ctx, Pipeline, domain.AspectDisease, Epoch.Add(time.Hour))
	if err != nil {
		t.Fatalf("OwnedBefore: %v", err)
	}
	if len(owned) != 1 || owned[0].SubjectID != GeneID || owned[0].Notes != "stale" {
		t.Fatalf("expected the pipeline-owned gene annotation, got %+v", owned)
	}
	none, err := store.OwnedBefore(ctx, Pipeline, domain.AspectDisease, Epoch)
	if err != nil {
		t.Fatalf("OwnedBefore: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected cutoff to be exclusive, got %+v", none)
	}
	if other, _ := store.OwnedBefore(ctx, OtherPipe, domain.AspectDisease, Epoch.Add(time.Hour)); len(other) != 0 {
		t.Fatalf("expected nothing for another owner, got %+v", other)
	}
	if pheno, _ := store.OwnedBefore(ctx, Pipeline, domain.AspectPhenotype, Epoch.Add(time.Hour)); len(pheno) != 0 {
		t.Fatalf("expected nothing for another aspect, got %+v", pheno)
	}
}

func testMutations(t *testing.T, open Factory) {
	store := open(t, Seed())
	ctx := context.Background()
	cutoff := Epoch.Add(time.Hour)
	owned, err := store.OwnedBefore(ctx, Pipeline, domain.AspectDisease, cutoff)
	if err != nil || len(owned) != 1 {
		t.Fatalf("OwnedBefore: %v (%d rows)", err, len(owned))
	}
	row := owned[0]

	row.Notes = "fresh"
	row.Extension = "occurs_in(UBERON:1)"
	row.LastModifiedAt = Epoch.Add(time.Minute)
	if err := store.Update(ctx, row); err != nil {
		t.Fatalf("Update: %v", err)
	}
	owned, _ = store.OwnedBefore(ctx, Pipeline, domain.AspectDisease, cutoff)
	if len(owned) != 1 || owned[0].Notes != "fresh" || owned[0].Extension != "occurs_in(UBERON:1)" {
		t.Fatalf("expected updated content, got %+v", owned)
	}

	if err := store.Touch(ctx, row.Key, Pipeline, cutoff.Add(time.Minute)); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if owned, _ := store.OwnedBefore(ctx, Pipeline, domain.AspectDisease, cutoff); len(owned) != 0 {
		t.Fatalf("expected touched row to move past the cutoff, got %+v", owned)
	}

	if err := store.Delete(ctx, row.Key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, row.Key); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting twice, got %v", err)
	}
	if err := store.Touch(ctx, row.Key, Pipeline, cutoff); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound touching a deleted row, got %v", err)
	}
	if found, err := store.FindKey(ctx, row); err != nil || found != 0 {
		t.Fatalf("expected deleted key to be gone, got %d, %v", found, err)
	}
}

func testRelations(t *testing.T, open Factory) {
	store := open(t, Seed())
	ctx := context.Background()

	alleles, err := store.StrainAlleles(ctx, MutantID)
	if err != nil || len(alleles) != 1 || alleles[0] != AlleleID {
		t.Fatalf("StrainAlleles = %v, %v; want [%d]", alleles, err, AlleleID)
	}
	if none, err := store.StrainAlleles(ctx, WildID); err != nil || len(none) != 0 {
		t.Fatalf("expected no alleles for wild strain, got %v, %v", none, err)
	}
	genes, err := store.ParentGenes(ctx, AlleleID)
	if err != nil || len(genes) != 1 || genes[0] != GeneID {
		t.Fatalf("ParentGenes = %v, %v; want [%d]", genes, err, GeneID)
	}

	allele, err := store.Subject(ctx, AlleleID)
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	if !allele.Variant || allele.Kind != domain.SubjectAllele || allele.Symbol != "Lepr<m1>" {
		t.Fatalf("unexpected allele subject %+v", allele)
	}
	gene, err := store.Subject(ctx, GeneID)
	if err != nil || gene.Variant || gene.Kind != domain.SubjectGene {
		t.Fatalf("unexpected gene subject %+v, %v", gene, err)
	}
	strain, err := store.Subject(ctx, MutantID)
	if err != nil || strain.Kind != domain.SubjectStrain {
		t.Fatalf("unexpected strain subject %+v, %v", strain, err)
	}
	if _, err := store.Subject(ctx, 999); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown subject, got %v", err)
	}

	orthologs, err := store.Orthologs(ctx, GeneID)
	if err != nil || len(orthologs) != 3 {
		t.Fatalf("expected unfiltered orthologs, got %v, %v", orthologs, err)
	}
}
