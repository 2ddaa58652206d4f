package sqlstore

import (
	"context"
	"fmt"

	"annotprop/pkg/domain"
)

// Seed loads reference data in one transaction and then inserts the seed
// annotations. Annotation keys in the seed are ignored; the database assigns them.
func (s *Store) Seed(ctx context.Context, seed domain.Seed) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	exec := func(table, q string, args ...any) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(q), args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	}
	for _, st := range seed.Strains {
		if err := exec("strains", `INSERT INTO strains (rgd_id, symbol, name, strain_type) VALUES (?,?,?,?)`,
			st.ID, st.Symbol, nullable(st.Name), nullable(st.Type)); err != nil {
			return err
		}
	}
	for _, g := range seed.Genes {
		if err := exec("genes", `INSERT INTO genes (rgd_id, symbol, name, species_type_key, is_variant) VALUES (?,?,?,?,?)`,
			g.ID, g.Symbol, nullable(g.Name), g.SpeciesType, g.Variant); err != nil {
			return err
		}
	}
	for _, m := range seed.StrainMarkers {
		if err := exec("strain_markers", `INSERT INTO strain_markers (strain_rgd_id, marker_rgd_id, marker_type) VALUES (?,?,?)`,
			m.StrainID, m.MarkerID, nullable(m.MarkerType)); err != nil {
			return err
		}
	}
	for _, v := range seed.GeneVariants {
		if err := exec("gene_variants", `INSERT INTO gene_variants (variant_rgd_id, gene_rgd_id) VALUES (?,?)`,
			v.VariantID, v.GeneID); err != nil {
			return err
		}
	}
	for _, o := range seed.Orthologs {
		if err := exec("orthologs", `INSERT INTO orthologs (src_rgd_id, dest_rgd_id, dest_species_type_key) VALUES (?,?,?)`,
			o.SourceID, o.DestID, o.DestSpeciesType); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true

	for _, a := range seed.Annotations {
		if _, err := s.Insert(ctx, a); err != nil {
			return fmt.Errorf("seed %s: %w", a.NaturalKey(), err)
		}
	}
	return nil
}

// Empty reports whether the store holds no reference data yet.
func (s *Store) Empty(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT (SELECT COUNT(*) FROM genes) + (SELECT COUNT(*) FROM strains)`).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count reference rows: %w", err)
	}
	return n == 0, nil
}
