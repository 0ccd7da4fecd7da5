package assessment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mentis/mentis/internal/domain/scale"
)

type Service struct {
	assessments AssessmentRepository
	scales      *scale.Service
}

func NewService(assessments AssessmentRepository, scales *scale.Service) *Service {
	return &Service{assessments: assessments, scales: scales}
}

var validAssessmentStatuses = map[string]bool{
	StatusAssigned:   true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusReviewed:   true,
}

// statusTransitions constrains direct status edits. SaveResponses, Submit and
// Review drive the normal lifecycle themselves; a plain update may only move
// the status forward one step, never backwards.
var statusTransitions = map[string]map[string]bool{
	StatusAssigned:   {StatusAssigned: true, StatusInProgress: true},
	StatusInProgress: {StatusInProgress: true, StatusCompleted: true},
	StatusCompleted:  {StatusCompleted: true, StatusReviewed: true},
	StatusReviewed:   {StatusReviewed: true},
}

func (s *Service) CreateAssessment(ctx context.Context, a *Assessment) error {
	if a.ScaleID == uuid.Nil {
		return fmt.Errorf("scale_id is required")
	}
	if a.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	sc, err := s.scales.GetScale(ctx, a.ScaleID)
	if err != nil {
		return fmt.Errorf("scale not found")
	}
	if !sc.Active {
		return fmt.Errorf("scale %s is retired", sc.Abbreviation)
	}
	if a.Status == "" {
		a.Status = StatusAssigned
	}
	if !validAssessmentStatuses[a.Status] {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	return s.assessments.Create(ctx, a)
}

func (s *Service) GetAssessment(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return s.assessments.GetByID(ctx, id)
}

func (s *Service) UpdateAssessment(ctx context.Context, a *Assessment) error {
	if a.Status != "" && !validAssessmentStatuses[a.Status] {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	current, err := s.assessments.GetByID(ctx, a.ID)
	if err != nil {
		return err
	}
	if a.Status != "" && !statusTransitions[current.Status][a.Status] {
		return fmt.Errorf("cannot move assessment from %s to %s", current.Status, a.Status)
	}
	return s.assessments.Update(ctx, a)
}

func (s *Service) DeleteAssessment(ctx context.Context, id uuid.UUID) error {
	return s.assessments.Delete(ctx, id)
}

func (s *Service) ListAssessments(ctx context.Context, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.List(ctx, limit, offset)
}

func (s *Service) ListAssessmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListAssessmentsByScale(ctx context.Context, scaleID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.ListByScale(ctx, scaleID, limit, offset)
}

func (s *Service) SearchAssessments(ctx context.Context, params map[string]string, limit, offset int) ([]*Assessment, int, error) {
	return s.assessments.Search(ctx, params, limit, offset)
}

// SaveResponses merges a batch of answers into the assessment. The first
// saved batch moves it from assigned to in_progress. Answers for an item
// already present are overwritten.
func (s *Service) SaveResponses(ctx context.Context, id uuid.UUID, responses map[int]interface{}) (*Assessment, error) {
	a, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusAssigned && a.Status != StatusInProgress {
		return nil, fmt.Errorf("assessment is %s and no longer accepts responses", a.Status)
	}
	if a.Responses == nil {
		a.Responses = make(map[int]interface{}, len(responses))
	}
	for n, v := range responses {
		a.Responses[n] = v
	}
	a.Status = StatusInProgress
	if err := s.assessments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// SubmissionError reports a submission rejected because the collected
// responses do not validate against the scale definition.
type SubmissionError struct {
	Report scale.ValidationReport
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submission rejected: %d invalid responses", len(e.Report.Errors))
}

// Submit finalizes the assessment: any responses passed in are merged first,
// the full set is validated against the scale, and on success the scoring
// result and resolved interpretation are persisted with status completed.
// Validation failures surface as a *SubmissionError carrying the report.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, responses map[int]interface{}) (*Assessment, error) {
	a, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted || a.Status == StatusReviewed {
		return nil, fmt.Errorf("assessment already %s", a.Status)
	}
	if len(responses) > 0 {
		if a.Responses == nil {
			a.Responses = make(map[int]interface{}, len(responses))
		}
		for n, v := range responses {
			a.Responses[n] = v
		}
	}

	report, err := s.scales.Validate(ctx, a.ScaleID, a.Responses)
	if err != nil {
		return nil, err
	}
	if !report.IsValid {
		return nil, &SubmissionError{Report: *report}
	}

	summary, err := s.scales.Score(ctx, a.ScaleID, a.Responses)
	if err != nil {
		return nil, err
	}
	a.TotalScore = &summary.TotalScore
	a.SubscaleScores = summary.SubscaleScores
	a.CompletionPercentage = &summary.CompletionPercentage
	a.ValidResponses = &summary.ValidResponses
	a.SkippedItems = summary.SkippedItems
	if rule := summary.Interpretation; rule != nil {
		ruleID, label, severity := rule.ID, rule.Label, string(rule.Severity)
		a.InterpretationID = &ruleID
		a.InterpretationLabel = &label
		a.Severity = &severity
	}

	now := time.Now().UTC()
	a.Status = StatusCompleted
	a.CompletedAt = &now
	if err := s.assessments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Review records a clinician sign-off on a completed assessment.
func (s *Service) Review(ctx context.Context, id uuid.UUID, note string, reviewerID uuid.UUID) (*Assessment, error) {
	a, err := s.assessments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusCompleted {
		return nil, fmt.Errorf("only completed assessments can be reviewed")
	}
	if note != "" {
		a.ReviewNote = &note
	}
	if reviewerID != uuid.Nil {
		a.ReviewedBy = &reviewerID
	}
	now := time.Now().UTC()
	a.Status = StatusReviewed
	a.ReviewedAt = &now
	if err := s.assessments.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}
