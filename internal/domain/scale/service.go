package scale

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Service owns catalog CRUD and the scoring entry points. Validated
// definitions are cached per scale id so repeated scoring calls skip both
// the catalog read and re-validation; ids are unique across tenants, and the
// cache is invalidated on any write.
type Service struct {
	scales ScaleRepository

	mu   sync.RWMutex
	defs map[uuid.UUID]*Scale
}

func NewService(scales ScaleRepository) *Service {
	return &Service{
		scales: scales,
		defs:   make(map[uuid.UUID]*Scale),
	}
}

var validAdministrationModes = map[string]bool{
	AdministrationSelfReport: true, AdministrationProfessional: true,
}

var validDifficulties = map[string]bool{
	DifficultyBeginner: true, DifficultyIntermediate: true, DifficultyAdvanced: true,
}

// -- Catalog CRUD --

func (s *Service) CreateScale(ctx context.Context, sc *Scale) error {
	if err := s.checkFields(sc); err != nil {
		return err
	}
	if _, err := NewScale(*sc); err != nil {
		return err
	}
	sc.Active = true
	return s.scales.Create(ctx, sc)
}

func (s *Service) GetScale(ctx context.Context, id uuid.UUID) (*Scale, error) {
	return s.scales.GetByID(ctx, id)
}

func (s *Service) GetScaleByAbbreviation(ctx context.Context, abbreviation string) (*Scale, error) {
	return s.scales.GetByAbbreviation(ctx, abbreviation)
}

func (s *Service) UpdateScale(ctx context.Context, sc *Scale) error {
	if err := s.checkFields(sc); err != nil {
		return err
	}
	if _, err := NewScale(*sc); err != nil {
		return err
	}
	if err := s.scales.Update(ctx, sc); err != nil {
		return err
	}
	s.invalidate(sc.ID)
	return nil
}

func (s *Service) DeactivateScale(ctx context.Context, id uuid.UUID) error {
	if err := s.scales.Deactivate(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *Service) DeleteScale(ctx context.Context, id uuid.UUID) error {
	if err := s.scales.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidate(id)
	return nil
}

func (s *Service) ListScales(ctx context.Context, limit, offset int) ([]*Scale, int, error) {
	return s.scales.List(ctx, limit, offset)
}

func (s *Service) SearchScales(ctx context.Context, params map[string]string, limit, offset int) ([]*Scale, int, error) {
	return s.scales.Search(ctx, params, limit, offset)
}

// ImportScale upserts a definition by abbreviation. Used by the seed loader,
// which re-runs against already-seeded catalogs.
func (s *Service) ImportScale(ctx context.Context, sc *Scale) (created bool, err error) {
	existing, err := s.scales.GetByAbbreviation(ctx, sc.Abbreviation)
	if err == nil {
		sc.ID = existing.ID
		return false, s.UpdateScale(ctx, sc)
	}
	return true, s.CreateScale(ctx, sc)
}

func (s *Service) checkFields(sc *Scale) error {
	if sc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if sc.Abbreviation == "" {
		return fmt.Errorf("abbreviation is required")
	}
	if sc.AdministrationMode == "" {
		sc.AdministrationMode = AdministrationSelfReport
	}
	if !validAdministrationModes[sc.AdministrationMode] {
		return fmt.Errorf("invalid administration mode: %s", sc.AdministrationMode)
	}
	if sc.Difficulty == "" {
		sc.Difficulty = DifficultyBeginner
	}
	if !validDifficulties[sc.Difficulty] {
		return fmt.Errorf("invalid difficulty: %s", sc.Difficulty)
	}
	return nil
}

// -- Definition cache --

func (s *Service) definition(ctx context.Context, id uuid.UUID) (*Scale, error) {
	s.mu.RLock()
	def, ok := s.defs[id]
	s.mu.RUnlock()
	if ok {
		return def, nil
	}

	sc, err := s.scales.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err = NewScale(*sc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.defs[id] = def
	s.mu.Unlock()
	return def, nil
}

func (s *Service) invalidate(id uuid.UUID) {
	s.mu.Lock()
	delete(s.defs, id)
	s.mu.Unlock()
}

// -- Scoring entry points --

// ScoreSummary is one scoring pass plus the resolved interpretation bands.
type ScoreSummary struct {
	ScoringResult
	Interpretation          *InterpretationRule            `json:"interpretation,omitempty"`
	SubscaleInterpretations map[string]*InterpretationRule `json:"subscale_interpretations,omitempty"`
}

func (s *Service) Score(ctx context.Context, id uuid.UUID, responses map[int]interface{}) (*ScoreSummary, error) {
	def, err := s.definition(ctx, id)
	if err != nil {
		return nil, err
	}
	summary := &ScoreSummary{ScoringResult: def.CalculateScore(responses)}
	summary.Interpretation = def.Interpretation(summary.TotalScore)
	for subID, subScore := range summary.SubscaleScores {
		if rule := def.SubscaleInterpretation(subID, subScore); rule != nil {
			if summary.SubscaleInterpretations == nil {
				summary.SubscaleInterpretations = make(map[string]*InterpretationRule)
			}
			summary.SubscaleInterpretations[subID] = rule
		}
	}
	return summary, nil
}

func (s *Service) Validate(ctx context.Context, id uuid.UUID, responses map[int]interface{}) (*ValidationReport, error) {
	def, err := s.definition(ctx, id)
	if err != nil {
		return nil, err
	}
	report := def.ValidateResponses(responses)
	return &report, nil
}

// Interpret resolves a score against the scale's bands, or against one
// subscale's bands when subscaleID is set. A nil rule means no band matched.
func (s *Service) Interpret(ctx context.Context, id uuid.UUID, score float64, subscaleID string) (*InterpretationRule, error) {
	def, err := s.definition(ctx, id)
	if err != nil {
		return nil, err
	}
	if subscaleID != "" {
		return def.SubscaleInterpretation(subscaleID, score), nil
	}
	return def.Interpretation(score), nil
}

// ScaleMetrics bundles the administration heuristics for one instrument.
type ScaleMetrics struct {
	ItemCount            int             `json:"item_count"`
	EstimatedMinutesMin  int             `json:"estimated_minutes_min"`
	EstimatedMinutesMax  int             `json:"estimated_minutes_max"`
	ComplexityScore      int             `json:"complexity_score"`
	RequiresProfessional bool            `json:"requires_professional"`
	Demographic          *DemographicFit `json:"demographic,omitempty"`
}

// Metrics computes the instrument's administration metrics. When age is
// non-nil the advisory demographic fit for that age (and optional population
// hint) is included.
func (s *Service) Metrics(ctx context.Context, id uuid.UUID, age *int, populationHint string) (*ScaleMetrics, error) {
	def, err := s.definition(ctx, id)
	if err != nil {
		return nil, err
	}
	m := &ScaleMetrics{
		ItemCount:            len(def.Items),
		ComplexityScore:      def.ComplexityScore(),
		RequiresProfessional: def.RequiresProfessionalAdministration(),
	}
	m.EstimatedMinutesMin, m.EstimatedMinutesMax = def.EstimatedTime()
	if age != nil {
		fit := def.AppropriateForDemographic(*age, populationHint)
		m.Demographic = &fit
	}
	return m, nil
}
