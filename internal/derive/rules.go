// Package derive turns one source annotation into the allele, gene and ortholog
// annotations implied by the strain → allele → gene → ortholog chain.
package derive

import (
	"fmt"
	"strings"
	"time"

	"annotprop/pkg/domain"
)

// modelQualifierPrefix marks qualifiers that only make sense on a model organism strain.
const modelQualifierPrefix = "MODEL"

// Rules holds the field-rewrite parameters applied at every derivation step.
type Rules struct {
	Owner int
	// RestrictedQualifiers are strain-restricted: they, and the with-info that
	// accompanies them, are never propagated.
	RestrictedQualifiers map[string]struct{}
	DiseaseAspect        domain.Aspect
}

// NewRules builds Rules from a list of restricted qualifiers.
func NewRules(owner int, restricted []string, disease domain.Aspect) Rules {
	set := make(map[string]struct{}, len(restricted))
	for _, q := range restricted {
		set[q] = struct{}{}
	}
	if disease == "" {
		disease = domain.AspectDisease
	}
	return Rules{Owner: owner, RestrictedQualifiers: set, DiseaseAspect: disease}
}

// suppressesQualifier reports whether a parent's qualifier must not propagate.
func (r Rules) suppressesQualifier(q string) bool {
	if q == "" {
		return false
	}
	if _, ok := r.RestrictedQualifiers[q]; ok {
		return true
	}
	return strings.HasPrefix(q, modelQualifierPrefix)
}

// Build constructs the annotation derived from parent for subject. The parent is
// never modified. evidenceOverride is empty unless the step forces a code.
func Build(parent domain.Annotation, subject domain.Subject, rules Rules, evidenceOverride string, now time.Time) domain.Annotation {
	qualifier, withInfo := parent.Qualifier, parent.WithInfo
	if rules.suppressesQualifier(parent.Qualifier) {
		qualifier, withInfo = "", ""
	}

	evidence := parent.Evidence
	if evidenceOverride != "" {
		evidence = evidenceOverride
	}
	if evidence == domain.EvidenceISO {
		withInfo = appendWithInfo(withInfo, parent.SubjectID)
	}

	return domain.Annotation{
		TermAcc:           parent.TermAcc,
		Term:              parent.Term,
		SubjectID:         subject.ID,
		SubjectKind:       subject.Kind,
		SubjectSymbol:     subject.Symbol,
		SubjectName:       subject.Name,
		RefID:             parent.RefID,
		Evidence:          evidence,
		WithInfo:          withInfo,
		Qualifier:         qualifier,
		XrefSource:        parent.XrefSource,
		Notes:             parent.Notes,
		Extension:         parent.Extension,
		GeneProductFormID: parent.GeneProductFormID,
		Aspect:            parent.Aspect,
		DataSource:        parent.DataSource,
		CreatedBy:         rules.Owner,
		CreatedAt:         now,
		LastModifiedBy:    rules.Owner,
		LastModifiedAt:    now,
	}
}

// appendWithInfo adds an RGD reference to a pipe-separated with-info list.
func appendWithInfo(withInfo string, subjectID int) string {
	ref := fmt.Sprintf("RGD:%d", subjectID)
	if withInfo == "" {
		return ref
	}
	return withInfo + "|" + ref
}
