package assessment

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

type assessmentRepoPG struct{ pool *pgxpool.Pool }

func NewAssessmentRepoPG(pool *pgxpool.Pool) AssessmentRepository {
	return &assessmentRepoPG{pool: pool}
}

func (r *assessmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const assessmentCols = `id, scale_id, patient_id, assigned_by, status, responses, total_score,
	subscale_scores, completion_percentage, valid_responses, skipped_items, interpretation_id,
	interpretation_label, severity, review_note, reviewed_by, completed_at, reviewed_at,
	created_at, updated_at`

func scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.ScaleID, &a.PatientID, &a.AssignedBy, &a.Status, &a.Responses, &a.TotalScore,
		&a.SubscaleScores, &a.CompletionPercentage, &a.ValidResponses, &a.SkippedItems, &a.InterpretationID,
		&a.InterpretationLabel, &a.Severity, &a.ReviewNote, &a.ReviewedBy, &a.CompletedAt, &a.ReviewedAt,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *assessmentRepoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO assessment (id, scale_id, patient_id, assigned_by, status, responses, total_score,
			subscale_scores, completion_percentage, valid_responses, skipped_items, interpretation_id,
			interpretation_label, severity, review_note, reviewed_by, completed_at, reviewed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
		a.ID, a.ScaleID, a.PatientID, a.AssignedBy, a.Status, a.Responses, a.TotalScore,
		a.SubscaleScores, a.CompletionPercentage, a.ValidResponses, a.SkippedItems, a.InterpretationID,
		a.InterpretationLabel, a.Severity, a.ReviewNote, a.ReviewedBy, a.CompletedAt, a.ReviewedAt)
	return err
}

func (r *assessmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return scanAssessment(r.conn(ctx).QueryRow(ctx, `SELECT `+assessmentCols+` FROM assessment WHERE id = $1`, id))
}

func (r *assessmentRepoPG) Update(ctx context.Context, a *Assessment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE assessment SET scale_id=$2, patient_id=$3, assigned_by=$4, status=$5, responses=$6,
			total_score=$7, subscale_scores=$8, completion_percentage=$9, valid_responses=$10,
			skipped_items=$11, interpretation_id=$12, interpretation_label=$13, severity=$14,
			review_note=$15, reviewed_by=$16, completed_at=$17, reviewed_at=$18, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.ScaleID, a.PatientID, a.AssignedBy, a.Status, a.Responses,
		a.TotalScore, a.SubscaleScores, a.CompletionPercentage, a.ValidResponses,
		a.SkippedItems, a.InterpretationID, a.InterpretationLabel, a.Severity,
		a.ReviewNote, a.ReviewedBy, a.CompletedAt, a.ReviewedAt)
	return err
}

func (r *assessmentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM assessment WHERE id = $1`, id)
	return err
}

func (r *assessmentRepoPG) List(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM assessment`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assessmentCols+` FROM assessment ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAssessments(rows, total)
}

func (r *assessmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assessment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assessmentCols+` FROM assessment WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAssessments(rows, total)
}

func (r *assessmentRepoPG) ListByScale(ctx context.Context, scaleID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assessment WHERE scale_id = $1`, scaleID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+assessmentCols+` FROM assessment WHERE scale_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		scaleID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAssessments(rows, total)
}

var assessmentSearchParams = map[string]fhir.SearchParamConfig{
	"patient":  {Type: fhir.SearchParamReference, Column: "patient_id"},
	"scale":    {Type: fhir.SearchParamReference, Column: "scale_id"},
	"status":   {Type: fhir.SearchParamToken, Column: "status"},
	"severity": {Type: fhir.SearchParamToken, Column: "severity"},
	"authored": {Type: fhir.SearchParamDate, Column: "completed_at"},
}

func (r *assessmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	qb := fhir.NewSearchQuery("assessment", assessmentCols)
	qb.ApplyParams(params, assessmentSearchParams)
	qb.OrderBy("created_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, qb.CountSQL(), qb.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, qb.DataSQL(limit, offset), qb.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectAssessments(rows, total)
}

func collectAssessments(rows pgx.Rows, total int) ([]*Assessment, int, error) {
	var items []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}
