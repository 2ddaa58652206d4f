package derive

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"annotprop/pkg/domain"
)

// SkipReason explains why a branch of the chain stopped early. Skips are not errors.
type SkipReason string

const (
	SkipNoRelation SkipReason = "no relation"
	SkipAmbiguous  SkipReason = "multiple relations"
	SkipNotVariant SkipReason = "not a variant"
)

// Skip records one abandoned branch.
type Skip struct {
	Level     Level
	Reason    SkipReason
	SubjectID int
}

// Derivation is everything derived from a single source annotation.
type Derivation struct {
	Levels map[Level][]domain.Annotation
	Skips  []Skip
	// Resolved lists the relation levels that resolved to exactly one subject.
	Resolved []Level
}

// Count returns the total number of derived annotations.
func (d Derivation) Count() int {
	n := 0
	for _, annots := range d.Levels {
		n += len(annots)
	}
	return n
}

// Config wires an Engine.
type Config struct {
	Chain     Chain
	Relations domain.RelationSource
	Orthologs *OrthologCache
	Rules     Rules
	Warnings  *Warnings
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Engine derives downstream annotations for one chain. It is safe for
// concurrent use; all per-run shared state lives in the ortholog cache and the
// warning set, both of which tolerate concurrent population.
type Engine struct {
	chain     Chain
	rel       domain.RelationSource
	orthologs *OrthologCache
	rules     Rules
	warnings  *Warnings
	nowFn     func() time.Time
}

// NewEngine constructs an engine from cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		chain:     cfg.Chain,
		rel:       cfg.Relations,
		orthologs: cfg.Orthologs,
		rules:     cfg.Rules,
		warnings:  cfg.Warnings,
		nowFn:     cfg.Now,
	}
	if e.orthologs == nil {
		e.orthologs = NewOrthologCache(cfg.Relations, domain.DefaultAllowedSpecies())
	}
	if e.warnings == nil {
		e.warnings = NewWarnings(nil)
	}
	if e.nowFn == nil {
		e.nowFn = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Chain returns the chain the engine walks.
func (e *Engine) Chain() Chain { return e.chain }

// Derive walks the chain from src. A returned error is a store failure or an
// invariant violation and must abort the run.
func (e *Engine) Derive(ctx context.Context, src domain.Annotation) (Derivation, error) {
	d := Derivation{Levels: make(map[Level][]domain.Annotation, len(e.chain.Levels))}

	if e.chain.Source == domain.SubjectAllele {
		subj, err := e.subject(ctx, src.SubjectID)
		if err != nil {
			return d, err
		}
		if !subj.Variant {
			return d, domain.InvariantError{SubjectID: src.SubjectID, Reason: "base annotation subject is not an allele"}
		}
	}

	parent := src
	for _, level := range e.chain.Levels {
		switch level {
		case LevelAllele, LevelGene:
			next, ok, err := e.relate(ctx, level, parent, &d)
			if err != nil || !ok {
				return d, err
			}
			d.Levels[level] = append(d.Levels[level], next)
			parent = next
		case LevelOrtholog:
			annots, err := e.orthologAnnotations(ctx, parent)
			if err != nil {
				return d, err
			}
			if len(annots) > 0 {
				d.Levels[level] = append(d.Levels[level], annots...)
			}
		default:
			return d, fmt.Errorf("chain %s: unsupported level %q", e.chain.Name, level)
		}
	}
	return d, nil
}

// relate resolves the single related subject for a relation level and builds
// the derived annotation. ok is false when the branch is abandoned.
func (e *Engine) relate(ctx context.Context, level Level, parent domain.Annotation, d *Derivation) (domain.Annotation, bool, error) {
	var (
		ids []int
		err error
	)
	switch level {
	case LevelAllele:
		ids, err = e.rel.StrainAlleles(ctx, parent.SubjectID)
	default:
		ids, err = e.rel.ParentGenes(ctx, parent.SubjectID)
	}
	if err != nil {
		return domain.Annotation{}, false, fmt.Errorf("%s relation for RGD:%d: %w", level, parent.SubjectID, err)
	}

	switch {
	case len(ids) == 0:
		d.Skips = append(d.Skips, Skip{Level: level, Reason: SkipNoRelation, SubjectID: parent.SubjectID})
		if level == LevelGene {
			e.warnings.Warn(fmt.Sprintf("Allele %s RGD:%d does NOT have a parent gene associated!", parent.SubjectSymbol, parent.SubjectID))
		}
		return domain.Annotation{}, false, nil
	case len(ids) > 1:
		d.Skips = append(d.Skips, Skip{Level: level, Reason: SkipAmbiguous, SubjectID: parent.SubjectID})
		if level == LevelGene {
			e.warnings.Warn(fmt.Sprintf("Allele %s RGD:%d has multiple parent genes associated!", parent.SubjectSymbol, parent.SubjectID))
		}
		return domain.Annotation{}, false, nil
	}

	subj, err := e.subject(ctx, ids[0])
	if err != nil {
		return domain.Annotation{}, false, err
	}
	if level == LevelAllele && !subj.Variant {
		e.warnings.Warn(
			fmt.Sprintf("WARNING! %s RGD:%d  is associated with a gene: %s RGD:%d", parent.SubjectSymbol, parent.SubjectID, subj.Symbol, subj.ID),
			zap.Int("strain_rgd_id", parent.SubjectID), zap.Int("gene_rgd_id", subj.ID))
		d.Skips = append(d.Skips, Skip{Level: level, Reason: SkipNotVariant, SubjectID: parent.SubjectID})
		return domain.Annotation{}, false, nil
	}
	d.Resolved = append(d.Resolved, level)
	return Build(parent, subj, e.rules, "", e.nowFn()), true, nil
}

// orthologAnnotations fans a gene-level annotation out to whitelisted orthologs.
// Only disease annotations are propagated across species.
func (e *Engine) orthologAnnotations(ctx context.Context, gene domain.Annotation) ([]domain.Annotation, error) {
	if gene.Aspect != e.rules.DiseaseAspect {
		return nil, nil
	}
	orthologs, err := e.orthologs.Get(ctx, gene.SubjectID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Annotation, 0, len(orthologs))
	for _, o := range orthologs {
		subj, err := e.subject(ctx, o.DestID)
		if err != nil {
			return nil, err
		}
		out = append(out, Build(gene, subj, e.rules, domain.EvidenceISO, e.nowFn()))
	}
	return out, nil
}

func (e *Engine) subject(ctx context.Context, id int) (domain.Subject, error) {
	subj, err := e.rel.Subject(ctx, id)
	if err != nil {
		return domain.Subject{}, fmt.Errorf("subject RGD:%d: %w", id, err)
	}
	return subj, nil
}
