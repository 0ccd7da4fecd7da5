package scale

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mentis/mentis/internal/platform/db"
	"github.com/mentis/mentis/internal/platform/fhir"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type scaleRepoPG struct{ pool *pgxpool.Pool }

func NewScaleRepoPG(pool *pgxpool.Pool) ScaleRepository {
	return &scaleRepoPG{pool: pool}
}

func (r *scaleRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const scaleCols = `id, name, abbreviation, category, description, items, subscales,
	interpretation_rules, min_score, max_score, reverse_items, administration_mode,
	administration_time, difficulty, professional_levels, target_population, authors,
	publication_year, version, active, created_at, updated_at`

func (r *scaleRepoPG) scanScale(row pgx.Row) (*Scale, error) {
	var s Scale
	err := row.Scan(&s.ID, &s.Name, &s.Abbreviation, &s.Category, &s.Description, &s.Items, &s.Subscales,
		&s.Rules, &s.MinScore, &s.MaxScore, &s.ReverseItems, &s.AdministrationMode,
		&s.AdministrationTime, &s.Difficulty, &s.ProfessionalLevels, &s.TargetPopulation, &s.Authors,
		&s.PublicationYear, &s.Version, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *scaleRepoPG) Create(ctx context.Context, s *Scale) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scale (id, name, abbreviation, category, description, items, subscales,
			interpretation_rules, min_score, max_score, reverse_items, administration_mode,
			administration_time, difficulty, professional_levels, target_population, authors,
			publication_year, version, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
		s.ID, s.Name, s.Abbreviation, s.Category, s.Description, s.Items, s.Subscales,
		s.Rules, s.MinScore, s.MaxScore, s.ReverseItems, s.AdministrationMode,
		s.AdministrationTime, s.Difficulty, s.ProfessionalLevels, s.TargetPopulation, s.Authors,
		s.PublicationYear, s.Version, s.Active)
	return err
}

func (r *scaleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Scale, error) {
	return r.scanScale(r.conn(ctx).QueryRow(ctx, `SELECT `+scaleCols+` FROM scale WHERE id = $1`, id))
}

func (r *scaleRepoPG) GetByAbbreviation(ctx context.Context, abbreviation string) (*Scale, error) {
	return r.scanScale(r.conn(ctx).QueryRow(ctx,
		`SELECT `+scaleCols+` FROM scale WHERE UPPER(abbreviation) = UPPER($1)`, abbreviation))
}

func (r *scaleRepoPG) Update(ctx context.Context, s *Scale) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE scale SET name=$2, abbreviation=$3, category=$4, description=$5, items=$6,
			subscales=$7, interpretation_rules=$8, min_score=$9, max_score=$10, reverse_items=$11,
			administration_mode=$12, administration_time=$13, difficulty=$14, professional_levels=$15,
			target_population=$16, authors=$17, publication_year=$18, version=$19, active=$20,
			updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.Name, s.Abbreviation, s.Category, s.Description, s.Items,
		s.Subscales, s.Rules, s.MinScore, s.MaxScore, s.ReverseItems,
		s.AdministrationMode, s.AdministrationTime, s.Difficulty, s.ProfessionalLevels,
		s.TargetPopulation, s.Authors, s.PublicationYear, s.Version, s.Active)
	return err
}

func (r *scaleRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `UPDATE scale SET active=FALSE, updated_at=NOW() WHERE id = $1`, id)
	return err
}

func (r *scaleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM scale WHERE id = $1`, id)
	return err
}

func (r *scaleRepoPG) List(ctx context.Context, limit, offset int) ([]*Scale, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM scale`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+scaleCols+` FROM scale ORDER BY abbreviation LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Scale
	for rows.Next() {
		s, err := r.scanScale(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}

var scaleSearchParams = map[string]fhir.SearchParamConfig{
	"name":         {Type: fhir.SearchParamString, Column: "name"},
	"abbreviation": {Type: fhir.SearchParamToken, Column: "abbreviation"},
	"category":     {Type: fhir.SearchParamToken, Column: "category"},
	"difficulty":   {Type: fhir.SearchParamToken, Column: "difficulty"},
	"max_score":    {Type: fhir.SearchParamNumber, Column: "max_score"},
	"active":       {Type: fhir.SearchParamToken, Column: "active"},
}

func (r *scaleRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Scale, int, error) {
	qb := fhir.NewSearchQuery("scale", scaleCols)
	qb.ApplyParams(params, scaleSearchParams)
	qb.OrderBy("abbreviation")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Scale
	for rows.Next() {
		s, err := r.scanScale(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, nil
}
