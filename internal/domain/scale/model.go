package scale

import (
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ResponseType identifies how an item is answered and therefore how its raw
// response is turned into a numeric score.
type ResponseType string

const (
	ResponseLikert         ResponseType = "likert"
	ResponseYesNo          ResponseType = "yes_no"
	ResponseMultipleChoice ResponseType = "multiple_choice"
	ResponseRating         ResponseType = "rating"
	ResponseSlider         ResponseType = "slider"
	ResponseBoolean        ResponseType = "boolean"
	ResponseNumeric        ResponseType = "numeric"
	ResponseFreeText       ResponseType = "free_text"
)

var validResponseTypes = map[ResponseType]bool{
	ResponseLikert:         true,
	ResponseYesNo:          true,
	ResponseMultipleChoice: true,
	ResponseRating:         true,
	ResponseSlider:         true,
	ResponseBoolean:        true,
	ResponseNumeric:        true,
	ResponseFreeText:       true,
}

// hasOptions reports whether the response type requires declared options.
func (t ResponseType) hasOptions() bool {
	return t == ResponseLikert || t == ResponseRating || t == ResponseMultipleChoice
}

// Severity is the clinical-significance tier of an interpretation band,
// ordered minimal < mild < moderate < severe < very_severe.
type Severity string

const (
	SeverityMinimal    Severity = "minimal"
	SeverityMild       Severity = "mild"
	SeverityModerate   Severity = "moderate"
	SeveritySevere     Severity = "severe"
	SeverityVerySevere Severity = "very_severe"
)

var severityRank = map[Severity]int{
	SeverityMinimal:    1,
	SeverityMild:       2,
	SeverityModerate:   3,
	SeveritySevere:     4,
	SeverityVerySevere: 5,
}

// Rank returns the ordering of the severity (1 = minimal). Unknown
// severities rank 0.
func (s Severity) Rank() int { return severityRank[s] }

// Administration modes and difficulty levels.
const (
	AdministrationSelfReport   = "self_report"
	AdministrationProfessional = "professional"

	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
)

// ResponseOption is one selectable answer on an option-bearing item.
type ResponseOption struct {
	Value string  `json:"value"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Item is one prompt within a scale.
type Item struct {
	Number        int              `json:"number"`
	Prompt        string           `json:"prompt"`
	ResponseType  ResponseType     `json:"response_type"`
	Options       []ResponseOption `json:"options,omitempty"`
	ReverseScored bool             `json:"reverse_scored,omitempty"`
	Required      bool             `json:"required,omitempty"`
	MinValue      *float64         `json:"min_value,omitempty"`
	MaxValue      *float64         `json:"max_value,omitempty"`
	Pattern       string           `json:"pattern,omitempty"`
	Subscale      string           `json:"subscale,omitempty"`
}

// Subscale is a named subset of items scored and interpreted independently
// of the scale total.
type Subscale struct {
	ID       string               `json:"id"`
	Name     string               `json:"name"`
	Items    []int                `json:"items"`
	MinScore float64              `json:"min_score"`
	MaxScore float64              `json:"max_score"`
	Rules    []InterpretationRule `json:"rules,omitempty"`
}

// InterpretationRule maps an inclusive score band to a clinical label.
type InterpretationRule struct {
	ID              string   `json:"id"`
	Label           string   `json:"label"`
	MinScore        float64  `json:"min_score"`
	MaxScore        float64  `json:"max_score"`
	Severity        Severity `json:"severity"`
	Description     string   `json:"description,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Contains reports whether the rule's inclusive band contains score.
func (r *InterpretationRule) Contains(score float64) bool {
	return score >= r.MinScore && score <= r.MaxScore
}

// Scale maps to the scale table. Items, subscales and interpretation rules
// are stored as JSONB.
//
// A Scale returned by NewScale is a validated definition and must be treated
// as read-only: it is shared across concurrent scoring calls without locking,
// and any revision is modeled as constructing a new value. Unvalidated
// instances exist only as construction or decoding input.
type Scale struct {
	ID                 uuid.UUID            `db:"id" json:"id"`
	Name               string               `db:"name" json:"name"`
	Abbreviation       string               `db:"abbreviation" json:"abbreviation"`
	Category           *string              `db:"category" json:"category,omitempty"`
	Description        *string              `db:"description" json:"description,omitempty"`
	Items              []Item               `db:"items" json:"items"`
	Subscales          []Subscale           `db:"subscales" json:"subscales,omitempty"`
	Rules              []InterpretationRule `db:"interpretation_rules" json:"interpretation_rules,omitempty"`
	MinScore           float64              `db:"min_score" json:"min_score"`
	MaxScore           float64              `db:"max_score" json:"max_score"`
	ReverseItems       []int                `db:"reverse_items" json:"reverse_items,omitempty"`
	AdministrationMode string               `db:"administration_mode" json:"administration_mode,omitempty"`
	AdministrationTime *string              `db:"administration_time" json:"administration_time,omitempty"`
	Difficulty         string               `db:"difficulty" json:"difficulty,omitempty"`
	ProfessionalLevels []string             `db:"professional_levels" json:"professional_levels,omitempty"`
	TargetPopulation   *string              `db:"target_population" json:"target_population,omitempty"`
	Authors            []string             `db:"authors" json:"authors,omitempty"`
	PublicationYear    *int                 `db:"publication_year" json:"publication_year,omitempty"`
	Version            *string              `db:"version" json:"version,omitempty"`
	Active             bool                 `db:"active" json:"active"`
	CreatedAt          time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `db:"updated_at" json:"updated_at"`
}

// NewScale validates raw definition fields and returns the canonical,
// immutable form: items sorted by number and reverse-scoring normalized so
// the per-item flags and the scale-level list agree. The input is deep-copied
// so later caller mutations cannot reach the returned value. Any violated
// invariant yields a *ConfigurationError and no Scale.
func NewScale(raw Scale) (*Scale, error) {
	s := raw.clone()

	if len(s.Items) == 0 {
		return nil, configErrorf(ConfigNoItems, "scale must define at least one item")
	}

	sort.Slice(s.Items, func(i, j int) bool { return s.Items[i].Number < s.Items[j].Number })
	for i := range s.Items {
		if s.Items[i].Number != i+1 {
			return nil, configErrorf(ConfigItemNumbering,
				"item numbers must be sequential starting at 1: expected %d, found %d", i+1, s.Items[i].Number)
		}
	}

	for i := range s.Items {
		if err := validateItem(&s.Items[i]); err != nil {
			return nil, err
		}
	}

	if s.MinScore >= s.MaxScore {
		return nil, configErrorf(ConfigScoreRange,
			"score range minimum (%g) must be less than maximum (%g)", s.MinScore, s.MaxScore)
	}

	itemCount := len(s.Items)
	seenSubscales := make(map[string]bool, len(s.Subscales))
	for i := range s.Subscales {
		sub := &s.Subscales[i]
		if sub.ID == "" {
			return nil, configErrorf(ConfigSubscale, "subscale %d: id is required", i+1)
		}
		if seenSubscales[sub.ID] {
			return nil, configErrorf(ConfigSubscale, "duplicate subscale id %q", sub.ID)
		}
		seenSubscales[sub.ID] = true
		for _, num := range sub.Items {
			if num < 1 || num > itemCount {
				return nil, configErrorf(ConfigSubscale, "subscale %q references unknown item %d", sub.ID, num)
			}
		}
		if sub.MinScore >= sub.MaxScore {
			return nil, configErrorf(ConfigSubscaleRange,
				"subscale %q: score range minimum (%g) must be less than maximum (%g)", sub.ID, sub.MinScore, sub.MaxScore)
		}
		if sub.MinScore < s.MinScore || sub.MaxScore > s.MaxScore {
			return nil, configErrorf(ConfigSubscaleRange,
				"subscale %q: score range [%g, %g] exceeds scale range [%g, %g]",
				sub.ID, sub.MinScore, sub.MaxScore, s.MinScore, s.MaxScore)
		}
		if err := validateRules(sub.Rules, sub.MinScore, sub.MaxScore, "subscale "+sub.ID); err != nil {
			return nil, err
		}
	}

	if err := validateRules(s.Rules, s.MinScore, s.MaxScore, "scale"); err != nil {
		return nil, err
	}

	for _, num := range s.ReverseItems {
		if num < 1 || num > itemCount {
			return nil, configErrorf(ConfigReverseItems, "reverse-scored list references unknown item %d", num)
		}
	}

	if s.PublicationYear != nil {
		year := *s.PublicationYear
		maxYear := time.Now().Year() + 5
		if year < 1900 || year > maxYear {
			return nil, configErrorf(ConfigPublicationYear,
				"publication year %d outside [1900, %d]", year, maxYear)
		}
	}

	s.normalizeReverse()
	return &s, nil
}

// validateItem checks the per-item field invariants.
func validateItem(it *Item) error {
	if it.Prompt == "" {
		return configErrorf(ConfigItem, "item %d: prompt is required", it.Number)
	}
	if !validResponseTypes[it.ResponseType] {
		return configErrorf(ConfigItem, "item %d: unknown response type %q", it.Number, it.ResponseType)
	}
	if it.ResponseType.hasOptions() && len(it.Options) == 0 {
		return configErrorf(ConfigItem, "item %d: %s items require at least one response option", it.Number, it.ResponseType)
	}
	for _, opt := range it.Options {
		if opt.Value == "" {
			return configErrorf(ConfigItem, "item %d: option %q: value is required", it.Number, opt.Label)
		}
		if opt.Label == "" {
			return configErrorf(ConfigItem, "item %d: option %q: label is required", it.Number, opt.Value)
		}
		if opt.Score < 0 {
			return configErrorf(ConfigItem, "item %d: option %q: score must be non-negative", it.Number, opt.Value)
		}
	}
	if it.MinValue != nil && it.MaxValue != nil && *it.MinValue >= *it.MaxValue {
		return configErrorf(ConfigItem, "item %d: min_value (%g) must be less than max_value (%g)",
			it.Number, *it.MinValue, *it.MaxValue)
	}
	if it.Pattern != "" {
		if _, err := regexp.Compile(it.Pattern); err != nil {
			return configErrorf(ConfigItem, "item %d: invalid response pattern: %v", it.Number, err)
		}
	}
	return nil
}

// validateRules checks one interpretation-rule list against its owning range.
func validateRules(rules []InterpretationRule, min, max float64, owner string) error {
	for i := range rules {
		r := &rules[i]
		name := r.ID
		if name == "" {
			name = r.Label
		}
		if r.Label == "" {
			return configErrorf(ConfigRule, "%s: interpretation rule %q: label is required", owner, r.ID)
		}
		if r.MinScore > r.MaxScore {
			return configErrorf(ConfigRule, "%s: interpretation rule %q: min_score (%g) exceeds max_score (%g)",
				owner, name, r.MinScore, r.MaxScore)
		}
		if r.MinScore < min || r.MaxScore > max {
			return configErrorf(ConfigRule, "%s: interpretation rule %q: range [%g, %g] outside [%g, %g]",
				owner, name, r.MinScore, r.MaxScore, min, max)
		}
		if r.Severity != "" && r.Severity.Rank() == 0 {
			return configErrorf(ConfigRule, "%s: interpretation rule %q: unknown severity %q", owner, name, r.Severity)
		}
	}
	return nil
}

// normalizeReverse reconciles the per-item reverse flags with the scale-level
// list: an item is reverse-scored if either marks it, and the list is rebuilt
// as the sorted numbers of all flagged items.
func (s *Scale) normalizeReverse() {
	flagged := make(map[int]bool, len(s.ReverseItems))
	for _, num := range s.ReverseItems {
		flagged[num] = true
	}
	s.ReverseItems = s.ReverseItems[:0]
	for i := range s.Items {
		it := &s.Items[i]
		if flagged[it.Number] {
			it.ReverseScored = true
		}
		if it.ReverseScored {
			s.ReverseItems = append(s.ReverseItems, it.Number)
		}
	}
}

// itemByNumber returns the item with the given number, or nil. On a
// validated scale items are sorted 1..n so this is an index lookup.
func (s *Scale) itemByNumber(num int) *Item {
	if num < 1 || num > len(s.Items) {
		return nil
	}
	it := &s.Items[num-1]
	if it.Number != num {
		for i := range s.Items {
			if s.Items[i].Number == num {
				return &s.Items[i]
			}
		}
		return nil
	}
	return it
}

// clone deep-copies the scale so the validated definition shares no slice or
// pointer storage with the construction input.
func (s Scale) clone() Scale {
	out := s
	out.Items = make([]Item, len(s.Items))
	for i, it := range s.Items {
		out.Items[i] = it
		out.Items[i].Options = append([]ResponseOption(nil), it.Options...)
		out.Items[i].MinValue = cloneFloat(it.MinValue)
		out.Items[i].MaxValue = cloneFloat(it.MaxValue)
	}
	out.Subscales = make([]Subscale, len(s.Subscales))
	for i, sub := range s.Subscales {
		out.Subscales[i] = sub
		out.Subscales[i].Items = append([]int(nil), sub.Items...)
		out.Subscales[i].Rules = cloneRules(sub.Rules)
	}
	out.Rules = cloneRules(s.Rules)
	out.ReverseItems = append([]int(nil), s.ReverseItems...)
	out.ProfessionalLevels = append([]string(nil), s.ProfessionalLevels...)
	out.Authors = append([]string(nil), s.Authors...)
	out.Category = cloneString(s.Category)
	out.Description = cloneString(s.Description)
	out.AdministrationTime = cloneString(s.AdministrationTime)
	out.TargetPopulation = cloneString(s.TargetPopulation)
	out.Version = cloneString(s.Version)
	out.PublicationYear = cloneInt(s.PublicationYear)
	return out
}

func cloneRules(rules []InterpretationRule) []InterpretationRule {
	if rules == nil {
		return nil
	}
	out := make([]InterpretationRule, len(rules))
	for i, r := range rules {
		out[i] = r
		out[i].Recommendations = append([]string(nil), r.Recommendations...)
	}
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
