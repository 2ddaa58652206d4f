// Package sqlstore implements the record store adapter over database/sql. The
// sqlite and postgres packages open the connection and pick a Dialect; every
// query lives here.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"annotprop/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.Store = (*Store)(nil)

// BatchSize bounds the number of subject ids per base annotation query.
const BatchSize = 1000

const annotColumns = `full_annot_key, term_acc, term, annotated_object_rgd_id, rgd_object_kind,
	object_symbol, object_name, ref_rgd_id, evidence, with_info, qualifier, xref_source, notes,
	annotation_extension, gene_product_form_id, aspect, data_src, created_by, created_date,
	last_modified_by, last_modified_date`

// Store is a SQL-backed record store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	info    string
	nowFn   func() time.Time
}

// New wraps an open connection. info is reported by Info and should not carry credentials.
func New(db *sql.DB, dialect Dialect, info string) *Store {
	return &Store{db: db, dialect: dialect, info: info, nowFn: func() time.Time { return time.Now().UTC() }}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Info describes the backend.
func (s *Store) Info() string { return s.info }

// Close closes the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(q), args...)
}

func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(q), args...)
}

// BaseAnnotations resolves the candidate subjects for q.Source and fetches
// their annotations in batches of BatchSize ids.
func (s *Store) BaseAnnotations(ctx context.Context, q domain.BaseQuery) ([]domain.Annotation, error) {
	ids, err := s.sourceSubjects(ctx, q.Source)
	if err != nil {
		return nil, err
	}
	var out []domain.Annotation
	for start := 0; start < len(ids); start += BatchSize {
		end := min(start+BatchSize, len(ids))
		batch, err := s.baseBatch(ctx, q, ids[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) sourceSubjects(ctx context.Context, source domain.SubjectKind) ([]int, error) {
	var (
		q   string
		arg any
	)
	switch source {
	case domain.SubjectStrain:
		q, arg = `SELECT rgd_id FROM strains WHERE strain_type = ? ORDER BY rgd_id`, domain.StrainTypeMutant
	case domain.SubjectAllele:
		q, arg = `SELECT rgd_id FROM genes WHERE is_variant = ? ORDER BY rgd_id`, true
	case domain.SubjectGene:
		q, arg = `SELECT rgd_id FROM genes WHERE is_variant = ? ORDER BY rgd_id`, false
	default:
		return nil, fmt.Errorf("unsupported base source %q", source)
	}
	ids, err := s.queryInts(ctx, q, arg)
	if err != nil {
		return nil, fmt.Errorf("select %s subjects: %w", source, err)
	}
	return ids, nil
}

func (s *Store) baseBatch(ctx context.Context, q domain.BaseQuery, ids []int) ([]domain.Annotation, error) {
	query := `SELECT ` + annotColumns + ` FROM full_annot WHERE aspect = ? AND annotated_object_rgd_id IN (` + placeholders(len(ids)) + `)`
	args := make([]any, 0, 1+len(ids)+len(q.EvidenceCodes)+len(q.ExcludeOwners))
	args = append(args, string(q.Aspect))
	for _, id := range ids {
		args = append(args, id)
	}
	if len(q.EvidenceCodes) > 0 {
		query += ` AND evidence IN (` + placeholders(len(q.EvidenceCodes)) + `)`
		for _, e := range q.EvidenceCodes {
			args = append(args, e)
		}
	}
	if len(q.ExcludeOwners) > 0 {
		query += ` AND created_by NOT IN (` + placeholders(len(q.ExcludeOwners)) + `)`
		for _, o := range q.ExcludeOwners {
			args = append(args, o)
		}
	}
	query += ` ORDER BY full_annot_key`
	annots, err := s.queryAnnotations(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select base annotations: %w", err)
	}
	return annots, nil
}

// FindKey returns the key of the stored annotation with a's natural key, or 0.
func (s *Store) FindKey(ctx context.Context, a domain.Annotation) (int64, error) {
	var key int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT full_annot_key FROM full_annot
		WHERE term_acc = ? AND annotated_object_rgd_id = ? AND ref_rgd_id = ? AND evidence = ?
		AND COALESCE(with_info, '') = ? AND COALESCE(qualifier, '') = ? AND COALESCE(xref_source, '') = ?`),
		a.TermAcc, a.SubjectID, a.RefID, a.Evidence, a.WithInfo, a.Qualifier, a.XrefSource,
	).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("find annotation key: %w", err)
	}
	return key, nil
}

func (s *Store) OwnedBefore(ctx context.Context, owner int, aspect domain.Aspect, cutoff time.Time) ([]domain.Annotation, error) {
	annots, err := s.queryAnnotations(ctx,
		`SELECT `+annotColumns+` FROM full_annot WHERE created_by = ? AND aspect = ? AND last_modified_date < ? ORDER BY full_annot_key`,
		owner, string(aspect), s.dialect.encodeTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("select owned annotations: %w", err)
	}
	return annots, nil
}

func (s *Store) Insert(ctx context.Context, a domain.Annotation) (int64, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.nowFn()
	}
	if a.LastModifiedAt.IsZero() {
		a.LastModifiedAt = a.CreatedAt
	}
	var key int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`INSERT INTO full_annot (term_acc, term,
		annotated_object_rgd_id, rgd_object_kind, object_symbol, object_name, ref_rgd_id, evidence,
		with_info, qualifier, xref_source, notes, annotation_extension, gene_product_form_id, aspect,
		data_src, created_by, created_date, last_modified_by, last_modified_date)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING full_annot_key`),
		a.TermAcc, nullable(a.Term), a.SubjectID, nullable(string(a.SubjectKind)), nullable(a.SubjectSymbol),
		nullable(a.SubjectName), a.RefID, a.Evidence, nullable(a.WithInfo), nullable(a.Qualifier),
		nullable(a.XrefSource), nullable(a.Notes), nullable(a.Extension), nullable(a.GeneProductFormID),
		string(a.Aspect), nullable(a.DataSource), a.CreatedBy, s.dialect.encodeTime(a.CreatedAt),
		a.LastModifiedBy, s.dialect.encodeTime(a.LastModifiedAt),
	).Scan(&key)
	if err != nil {
		return 0, fmt.Errorf("insert annotation: %w", err)
	}
	return key, nil
}

func (s *Store) Update(ctx context.Context, a domain.Annotation) error {
	res, err := s.exec(ctx, `UPDATE full_annot SET notes = ?, annotation_extension = ?, gene_product_form_id = ?,
		last_modified_by = ?, last_modified_date = ? WHERE full_annot_key = ?`,
		nullable(a.Notes), nullable(a.Extension), nullable(a.GeneProductFormID),
		a.LastModifiedBy, s.dialect.encodeTime(a.LastModifiedAt), a.Key)
	if err != nil {
		return fmt.Errorf("update annotation: %w", err)
	}
	return affectedOne(res, a.Key)
}

func (s *Store) Delete(ctx context.Context, key int64) error {
	res, err := s.exec(ctx, `DELETE FROM full_annot WHERE full_annot_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete annotation: %w", err)
	}
	return affectedOne(res, key)
}

func (s *Store) Touch(ctx context.Context, key int64, by int, at time.Time) error {
	if at.IsZero() {
		at = s.nowFn()
	}
	res, err := s.exec(ctx, `UPDATE full_annot SET last_modified_by = ?, last_modified_date = ? WHERE full_annot_key = ?`,
		by, s.dialect.encodeTime(at), key)
	if err != nil {
		return fmt.Errorf("touch annotation: %w", err)
	}
	return affectedOne(res, key)
}

func affectedOne(res sql.Result, key int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("KEY:%d: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) StrainAlleles(ctx context.Context, strainID int) ([]int, error) {
	ids, err := s.queryInts(ctx, `SELECT marker_rgd_id FROM strain_markers
		WHERE strain_rgd_id = ? AND (marker_type IS NULL OR marker_type = ?) ORDER BY marker_rgd_id`,
		strainID, domain.MarkerTypeAllele)
	if err != nil {
		return nil, fmt.Errorf("select strain markers: %w", err)
	}
	return ids, nil
}

func (s *Store) ParentGenes(ctx context.Context, alleleID int) ([]int, error) {
	ids, err := s.queryInts(ctx, `SELECT gene_rgd_id FROM gene_variants WHERE variant_rgd_id = ? ORDER BY gene_rgd_id`, alleleID)
	if err != nil {
		return nil, fmt.Errorf("select gene variants: %w", err)
	}
	return ids, nil
}

func (s *Store) Subject(ctx context.Context, id int) (domain.Subject, error) {
	var (
		subj domain.Subject
		name sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT rgd_id, symbol, name, species_type_key, is_variant FROM genes WHERE rgd_id = ?`), id).
		Scan(&subj.ID, &subj.Symbol, &name, &subj.SpeciesType, &subj.Variant)
	switch {
	case err == nil:
		subj.Name = name.String
		subj.Kind = domain.SubjectGene
		if subj.Variant {
			subj.Kind = domain.SubjectAllele
		}
		return subj, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.Subject{}, fmt.Errorf("select gene: %w", err)
	}

	err = s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT rgd_id, symbol, name FROM strains WHERE rgd_id = ?`), id).
		Scan(&subj.ID, &subj.Symbol, &name)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Subject{}, fmt.Errorf("RGD:%d: %w", id, domain.ErrNotFound)
	case err != nil:
		return domain.Subject{}, fmt.Errorf("select strain: %w", err)
	}
	subj.Name = name.String
	subj.Kind = domain.SubjectStrain
	subj.SpeciesType = domain.SpeciesRat
	return subj, nil
}

func (s *Store) Orthologs(ctx context.Context, geneID int) ([]domain.Ortholog, error) {
	rows, err := s.query(ctx, `SELECT src_rgd_id, dest_rgd_id, dest_species_type_key FROM orthologs
		WHERE src_rgd_id = ? ORDER BY dest_rgd_id`, geneID)
	if err != nil {
		return nil, fmt.Errorf("select orthologs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Ortholog
	for rows.Next() {
		var o domain.Ortholog
		if err := rows.Scan(&o.SourceID, &o.DestID, &o.DestSpeciesType); err != nil {
			return nil, fmt.Errorf("scan ortholog: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orthologs: %w", err)
	}
	return out, nil
}

func (s *Store) queryInts(ctx context.Context, q string, args ...any) ([]int, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) queryAnnotations(ctx context.Context, q string, args ...any) ([]domain.Annotation, error) {
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Annotation
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAnnotation(rows *sql.Rows) (domain.Annotation, error) {
	var (
		a                                          domain.Annotation
		term, kind, symbol, name, withInfo, qualif sql.NullString
		xref, notes, ext, gpf, dataSrc             sql.NullString
		aspect                                     string
		created, modified                          timeValue
	)
	if err := rows.Scan(&a.Key, &a.TermAcc, &term, &a.SubjectID, &kind, &symbol, &name, &a.RefID,
		&a.Evidence, &withInfo, &qualif, &xref, &notes, &ext, &gpf, &aspect, &dataSrc,
		&a.CreatedBy, &created, &a.LastModifiedBy, &modified); err != nil {
		return domain.Annotation{}, fmt.Errorf("scan annotation: %w", err)
	}
	a.Term = term.String
	a.SubjectKind = domain.SubjectKind(kind.String)
	a.SubjectSymbol = symbol.String
	a.SubjectName = name.String
	a.WithInfo = withInfo.String
	a.Qualifier = qualif.String
	a.XrefSource = xref.String
	a.Notes = notes.String
	a.Extension = ext.String
	a.GeneProductFormID = gpf.String
	a.Aspect = domain.Aspect(aspect)
	a.DataSource = dataSrc.String
	a.CreatedAt = created.t
	a.LastModifiedAt = modified.t
	return a, nil
}
