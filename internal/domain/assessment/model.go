package assessment

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mentis/mentis/internal/domain/scale"
	"github.com/mentis/mentis/internal/platform/fhir"
)

// Assessment lifecycle statuses. An assessment starts assigned, collects
// responses while in progress, becomes completed when submitted and scored,
// and reviewed once a clinician signs off on the result.
const (
	StatusAssigned   = "assigned"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusReviewed   = "reviewed"
)

// Assessment maps to the assessment table. It records one administration of a
// scale to a patient together with the scoring outcome captured at submit
// time, so historical results stay stable even if the scale definition is
// later revised.
type Assessment struct {
	ID                   uuid.UUID           `db:"id" json:"id"`
	ScaleID              uuid.UUID           `db:"scale_id" json:"scale_id"`
	PatientID            uuid.UUID           `db:"patient_id" json:"patient_id"`
	AssignedBy           *uuid.UUID          `db:"assigned_by" json:"assigned_by,omitempty"`
	Status               string              `db:"status" json:"status"`
	Responses            map[int]interface{} `db:"responses" json:"responses,omitempty"`
	TotalScore           *float64            `db:"total_score" json:"total_score,omitempty"`
	SubscaleScores       map[string]float64  `db:"subscale_scores" json:"subscale_scores,omitempty"`
	CompletionPercentage *int                `db:"completion_percentage" json:"completion_percentage,omitempty"`
	ValidResponses       *int                `db:"valid_responses" json:"valid_responses,omitempty"`
	SkippedItems         []scale.SkippedItem `db:"skipped_items" json:"skipped_items,omitempty"`
	InterpretationID     *string             `db:"interpretation_id" json:"interpretation_id,omitempty"`
	InterpretationLabel  *string             `db:"interpretation_label" json:"interpretation_label,omitempty"`
	Severity             *string             `db:"severity" json:"severity,omitempty"`
	ReviewNote           *string             `db:"review_note" json:"review_note,omitempty"`
	ReviewedBy           *uuid.UUID          `db:"reviewed_by" json:"reviewed_by,omitempty"`
	CompletedAt          *time.Time          `db:"completed_at" json:"completed_at,omitempty"`
	ReviewedAt           *time.Time          `db:"reviewed_at" json:"reviewed_at,omitempty"`
	CreatedAt            time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time           `db:"updated_at" json:"updated_at"`
}

// fhirStatus maps the internal lifecycle onto the QuestionnaireResponse
// status value set, which has no distinct reviewed state.
func (a *Assessment) fhirStatus() string {
	switch a.Status {
	case StatusCompleted, StatusReviewed:
		return "completed"
	default:
		return "in-progress"
	}
}

func (a *Assessment) ToFHIR() map[string]interface{} {
	result := map[string]interface{}{
		"resourceType":  "QuestionnaireResponse",
		"id":            a.ID.String(),
		"status":        a.fhirStatus(),
		"questionnaire": fhir.FormatReference("Questionnaire", a.ScaleID.String()),
		"subject":       fhir.Reference{Reference: fhir.FormatReference("Patient", a.PatientID.String())},
		"meta":          fhir.Meta{LastUpdated: a.UpdatedAt},
	}
	if a.AssignedBy != nil {
		result["author"] = fhir.Reference{Reference: fhir.FormatReference("Practitioner", a.AssignedBy.String())}
	}
	if a.CompletedAt != nil {
		result["authored"] = a.CompletedAt.Format(time.RFC3339)
	}
	if len(a.Responses) > 0 {
		result["item"] = a.fhirItems()
	}
	return result
}

func (a *Assessment) fhirItems() []map[string]interface{} {
	numbers := make([]int, 0, len(a.Responses))
	for n := range a.Responses {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	items := make([]map[string]interface{}, 0, len(numbers))
	for _, n := range numbers {
		items = append(items, map[string]interface{}{
			"linkId": strconv.Itoa(n),
			"answer": []map[string]interface{}{fhirAnswer(a.Responses[n])},
		})
	}
	return items
}

func fhirAnswer(v interface{}) map[string]interface{} {
	switch val := v.(type) {
	case bool:
		return map[string]interface{}{"valueBoolean": val}
	case float64:
		return map[string]interface{}{"valueDecimal": val}
	case int:
		return map[string]interface{}{"valueDecimal": float64(val)}
	case string:
		return map[string]interface{}{"valueString": val}
	default:
		return map[string]interface{}{"valueString": fmt.Sprint(val)}
	}
}
