package scale

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DemographicFit is the advisory result of a demographic-appropriateness
// check. It is keyword-based and best-effort, never a clinical gate.
type DemographicFit struct {
	Appropriate bool     `json:"appropriate"`
	Reasons     []string `json:"reasons"`
}

// timeRangePattern matches stored administration times like "10-15 min".
var timeRangePattern = regexp.MustCompile(`(\d+)\s*[-–]\s*(\d+)`)

// EstimatedTime returns the expected administration time in minutes as a
// (min, max) pair. It is parsed from the stored "N-M min" string when one is
// present; otherwise a per-item heuristic of a quarter to half a minute per
// item applies, rounded up.
func (s *Scale) EstimatedTime() (int, int) {
	if s.AdministrationTime != nil {
		if m := timeRangePattern.FindStringSubmatch(*s.AdministrationTime); m != nil {
			lo, _ := strconv.Atoi(m[1])
			hi, _ := strconv.Atoi(m[2])
			if lo > 0 && hi >= lo {
				return lo, hi
			}
		}
	}
	n := len(s.Items)
	return (n + 3) / 4, (n + 1) / 2
}

// ComplexityScore is a heuristic 0-100 difficulty estimate: item count
// (capped), subscale count, reverse-scored count, response-type variety and
// a difficulty modifier.
func (s *Scale) ComplexityScore() int {
	score := len(s.Items) * 2
	if score > 40 {
		score = 40
	}
	score += len(s.Subscales) * 5
	score += len(s.ReverseItems) * 2

	types := make(map[ResponseType]bool, len(s.Items))
	for i := range s.Items {
		types[s.Items[i].ResponseType] = true
	}
	score += len(types) * 3

	switch s.Difficulty {
	case DifficultyIntermediate:
		score += 10
	case DifficultyAdvanced:
		score += 20
	}

	if score > 100 {
		score = 100
	}
	return score
}

// RequiresProfessionalAdministration reports whether the instrument should
// only be administered by a clinician: professional administration mode,
// advanced difficulty, or a doctoral/specialist professional level.
func (s *Scale) RequiresProfessionalAdministration() bool {
	if s.AdministrationMode == AdministrationProfessional {
		return true
	}
	if s.Difficulty == DifficultyAdvanced {
		return true
	}
	for _, level := range s.ProfessionalLevels {
		l := strings.ToLower(level)
		if strings.Contains(l, "doctor") || strings.Contains(l, "specialist") || strings.Contains(l, "especialista") {
			return true
		}
	}
	return false
}

// ageBrackets are the coarse demographic groups matched against the
// free-text target population. Catalog entries are predominantly Spanish, so
// both Spanish and English keywords are recognized.
var ageBrackets = []struct {
	name     string
	minAge   int
	maxAge   int
	keywords []string
}{
	{"child", 0, 12, []string{"niño", "niña", "nino", "infantil", "child"}},
	{"adolescent", 13, 17, []string{"adolescente", "adolescent"}},
	{"adult", 18, 64, []string{"adulto", "adult"}},
	{"geriatric", 65, 1<<31 - 1, []string{"geriátric", "geriatric", "adulto mayor", "adultos mayores", "older adult"}},
}

// AppropriateForDemographic keyword-matches the instrument's free-text
// target population against the age's coarse bracket and an optional
// free-text population hint. The result is advisory: an unclassifiable or
// undeclared target population is reported as appropriate.
func (s *Scale) AppropriateForDemographic(age int, populationHint string) DemographicFit {
	fit := DemographicFit{Appropriate: true}

	population := ""
	if s.TargetPopulation != nil {
		population = strings.ToLower(strings.TrimSpace(*s.TargetPopulation))
	}
	if population == "" {
		fit.Reasons = append(fit.Reasons, "no target population declared; assuming appropriate")
		return fit
	}

	bracketName := ""
	matchesBracket := false
	matchesOther := false
	for _, b := range ageBrackets {
		mentioned := containsAny(population, b.keywords)
		if age >= b.minAge && age <= b.maxAge {
			bracketName = b.name
			matchesBracket = mentioned
		} else if mentioned {
			matchesOther = true
		}
	}

	switch {
	case matchesBracket:
		fit.Reasons = append(fit.Reasons,
			fmt.Sprintf("target population mentions the %s range (age %d)", bracketName, age))
	case matchesOther:
		fit.Appropriate = false
		fit.Reasons = append(fit.Reasons,
			fmt.Sprintf("target population does not mention the %s range (age %d)", bracketName, age))
	default:
		fit.Reasons = append(fit.Reasons, "target population is not age-classified; assuming appropriate")
	}

	if hint := strings.ToLower(strings.TrimSpace(populationHint)); hint != "" {
		if strings.Contains(population, hint) {
			fit.Reasons = append(fit.Reasons, fmt.Sprintf("target population mentions %q", populationHint))
		} else {
			fit.Reasons = append(fit.Reasons, fmt.Sprintf("target population does not mention %q", populationHint))
		}
	}

	return fit
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
