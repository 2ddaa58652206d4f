// Package domain defines the annotation model shared by the derivation engine,
// the reconciler and the record store adapters.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Aspect is the single-letter ontology axis an annotation belongs to.
type Aspect string

const (
	// AspectDisease tags disease ontology annotations. Only these fan out to orthologs.
	AspectDisease Aspect = "D"
	// AspectPhenotype tags mammalian phenotype annotations.
	AspectPhenotype Aspect = "N"
)

// ParseAspect validates a one-letter upper-case aspect tag.
func ParseAspect(s string) (Aspect, error) {
	s = strings.TrimSpace(s)
	if len(s) != 1 || s[0] < 'A' || s[0] > 'Z' {
		return "", fmt.Errorf("invalid aspect %q", s)
	}
	return Aspect(s), nil
}

// SubjectKind identifies the kind of biological entity an annotation is attached to.
type SubjectKind string

const (
	SubjectStrain SubjectKind = "strain"
	SubjectAllele SubjectKind = "allele"
	SubjectGene   SubjectKind = "gene"
)

// EvidenceISO is the evidence code for "inferred from sequence orthology".
const EvidenceISO = "ISO"

// Annotation links a biological subject to an ontology term.
//
// Nullable text fields use the empty string for "absent"; adapters persist
// empty values as SQL NULL and read NULL back as empty.
type Annotation struct {
	Key               int64       `json:"key" yaml:"key"`
	TermAcc           string      `json:"term_acc" yaml:"term_acc"`
	Term              string      `json:"term,omitempty" yaml:"term,omitempty"`
	SubjectID         int         `json:"subject_id" yaml:"subject_id"`
	SubjectKind       SubjectKind `json:"subject_kind,omitempty" yaml:"subject_kind,omitempty"`
	SubjectSymbol     string      `json:"subject_symbol,omitempty" yaml:"subject_symbol,omitempty"`
	SubjectName       string      `json:"subject_name,omitempty" yaml:"subject_name,omitempty"`
	RefID             int         `json:"ref_id" yaml:"ref_id"`
	Evidence          string      `json:"evidence" yaml:"evidence"`
	WithInfo          string      `json:"with_info,omitempty" yaml:"with_info,omitempty"`
	Qualifier         string      `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
	XrefSource        string      `json:"xref_source,omitempty" yaml:"xref_source,omitempty"`
	Notes             string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	Extension         string      `json:"annotation_extension,omitempty" yaml:"annotation_extension,omitempty"`
	GeneProductFormID string      `json:"gene_product_form_id,omitempty" yaml:"gene_product_form_id,omitempty"`
	Aspect            Aspect      `json:"aspect" yaml:"aspect"`
	DataSource        string      `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	CreatedBy         int         `json:"created_by" yaml:"created_by"`
	CreatedAt         time.Time   `json:"created_at" yaml:"created_at"`
	LastModifiedBy    int         `json:"last_modified_by" yaml:"last_modified_by"`
	LastModifiedAt    time.Time   `json:"last_modified_at" yaml:"last_modified_at"`
}

// NaturalKey identifies one logical annotation regardless of its persistence key.
type NaturalKey struct {
	TermAcc    string
	SubjectID  int
	RefID      int
	Evidence   string
	WithInfo   string
	Qualifier  string
	XrefSource string
}

// NaturalKey returns the composite key of the annotation.
func (a Annotation) NaturalKey() NaturalKey {
	return NaturalKey{
		TermAcc:    a.TermAcc,
		SubjectID:  a.SubjectID,
		RefID:      a.RefID,
		Evidence:   a.Evidence,
		WithInfo:   a.WithInfo,
		Qualifier:  a.Qualifier,
		XrefSource: a.XrefSource,
	}
}

func (k NaturalKey) String() string {
	return fmt.Sprintf("%s RGD:%d RefRGD:%d %s W:%s Q:%s X:%s",
		k.TermAcc, k.SubjectID, k.RefID, k.Evidence, k.WithInfo, k.Qualifier, k.XrefSource)
}

// Persisted reports whether the annotation has a store-assigned key.
func (a Annotation) Persisted() bool { return a.Key != 0 }

// Dump renders the annotation as a single sep-joined line for audit logs.
func (a Annotation) Dump(sep string) string {
	fields := []string{
		fmt.Sprintf("KEY:%d", a.Key),
		a.TermAcc,
		a.Term,
		fmt.Sprintf("RGD:%d", a.SubjectID),
		a.SubjectSymbol,
		fmt.Sprintf("REF:%d", a.RefID),
		a.Evidence,
		"W:" + a.WithInfo,
		"Q:" + a.Qualifier,
		"X:" + a.XrefSource,
		"NOTES:" + a.Notes,
		"EXT:" + a.Extension,
		"GPF:" + a.GeneProductFormID,
		string(a.Aspect),
		fmt.Sprintf("BY:%d", a.CreatedBy),
	}
	return strings.Join(fields, sep)
}

// MutableDiff lists the mutable content fields (notes, annotation extension,
// gene product form) that differ between a and b. Natural-key fields are never
// compared here.
func MutableDiff(a, b Annotation) []FieldChange {
	var out []FieldChange
	if a.Extension != b.Extension {
		out = append(out, FieldChange{Field: "ANNOT_EXT", Old: a.Extension, New: b.Extension})
	}
	if a.GeneProductFormID != b.GeneProductFormID {
		out = append(out, FieldChange{Field: "GENE_FORM", Old: a.GeneProductFormID, New: b.GeneProductFormID})
	}
	if a.Notes != b.Notes {
		out = append(out, FieldChange{Field: "NOTES", Old: a.Notes, New: b.Notes})
	}
	return out
}

// FieldChange records an old/new pair for one mutable field.
type FieldChange struct {
	Field string `json:"field" yaml:"field"`
	Old   string `json:"old" yaml:"old"`
	New   string `json:"new" yaml:"new"`
}

func (c FieldChange) String() string {
	return fmt.Sprintf("%s  OLD[%s]  NEW[%s]", c.Field, c.Old, c.New)
}
