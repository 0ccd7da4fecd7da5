package scale

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ScoringResult is the outcome of one scoring pass. It is produced fresh per
// call and owned entirely by the caller.
type ScoringResult struct {
	TotalScore           float64            `json:"total_score"`
	SubscaleScores       map[string]float64 `json:"subscale_scores,omitempty"`
	CompletionPercentage int                `json:"completion_percentage"`
	ValidResponses       int                `json:"valid_responses"`
	SkippedItems         []SkippedItem      `json:"skipped_items,omitempty"`
}

// SkippedItem records an item whose response was present but could not be
// scored. Skipped items are excluded from totals, never aborting the pass.
type SkippedItem struct {
	ItemNumber int    `json:"item_number"`
	Reason     string `json:"reason"`
}

// ValidationReport is the outcome of checking a response set against the
// definition. Errors block submission; warnings are informational.
type ValidationReport struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// ScoreResponse converts one raw response into the item's numeric score.
// Option-bearing items fail with ErrInvalidResponseValue when the response
// matches no declared option; numeric items fail with ErrNotANumber when the
// response cannot be parsed. Free-text and unrecognized types always score 0:
// text items are excluded from quantitative scoring.
func ScoreResponse(item *Item, raw interface{}) (float64, error) {
	switch item.ResponseType {
	case ResponseLikert, ResponseRating, ResponseMultipleChoice:
		opt := item.optionFor(raw)
		if opt == nil {
			return 0, fmt.Errorf("item %d: %v: %w", item.Number, raw, ErrInvalidResponseValue)
		}
		score := opt.Score
		if item.ReverseScored {
			score = item.reverseScore(score)
		}
		return score, nil

	case ResponseYesNo, ResponseBoolean:
		score := 0.0
		if truthy(raw) {
			score = 1
		}
		if item.ReverseScored {
			score = 1 - score
		}
		return score, nil

	case ResponseNumeric, ResponseSlider:
		val, ok := toFloat(raw)
		if !ok {
			return 0, fmt.Errorf("item %d: %v: %w", item.Number, raw, ErrNotANumber)
		}
		if item.ReverseScored {
			val = item.reverseScore(val)
		}
		return val, nil

	default:
		return 0, nil
	}
}

// reverseScore flips a score within the item's effective range. Items with
// declared options use the option-score range; all others use the numeric
// validation bounds, defaulting to 0-10.
func (it *Item) reverseScore(score float64) float64 {
	if len(it.Options) > 0 {
		min, max := it.Options[0].Score, it.Options[0].Score
		for _, opt := range it.Options[1:] {
			if opt.Score < min {
				min = opt.Score
			}
			if opt.Score > max {
				max = opt.Score
			}
		}
		return max + min - score
	}
	lo, hi := 0.0, 10.0
	if it.MinValue != nil {
		lo = *it.MinValue
	}
	if it.MaxValue != nil {
		hi = *it.MaxValue
	}
	return hi + lo - score
}

// optionFor matches a raw response to a declared option by value. Values are
// compared as normalized strings, with a numeric fallback so "3" and 3.0
// select the same option.
func (it *Item) optionFor(raw interface{}) *ResponseOption {
	val, ok := normalizeValue(raw)
	if !ok {
		return nil
	}
	for i := range it.Options {
		if it.Options[i].Value == val {
			return &it.Options[i]
		}
	}
	if num, ok := toFloat(raw); ok {
		for i := range it.Options {
			if optNum, err := strconv.ParseFloat(it.Options[i].Value, 64); err == nil && optNum == num {
				return &it.Options[i]
			}
		}
	}
	return nil
}

// ValidateResponse checks one raw response against one item. A required item
// with an empty response yields a single "required" issue and no further
// checks; an optional empty response yields none. Otherwise the checks are
// type-specific: option membership, numeric parseability and bounds, or
// pattern match for free text.
func ValidateResponse(item *Item, raw interface{}) []ValidationIssue {
	if isEmptyResponse(raw) {
		if item.Required {
			return []ValidationIssue{{
				ItemNumber: item.Number,
				Code:       IssueRequired,
				Message:    fmt.Sprintf("item %d is required", item.Number),
			}}
		}
		return nil
	}

	var issues []ValidationIssue
	switch item.ResponseType {
	case ResponseLikert, ResponseRating, ResponseMultipleChoice:
		if item.optionFor(raw) == nil {
			issues = append(issues, ValidationIssue{
				ItemNumber: item.Number,
				Code:       IssueInvalidOption,
				Message:    fmt.Sprintf("item %d: %v is not a valid option", item.Number, raw),
			})
		}

	case ResponseNumeric, ResponseSlider:
		val, ok := toFloat(raw)
		if !ok {
			issues = append(issues, ValidationIssue{
				ItemNumber: item.Number,
				Code:       IssueNotANumber,
				Message:    fmt.Sprintf("item %d: %v is not a number", item.Number, raw),
			})
			break
		}
		if item.MinValue != nil && val < *item.MinValue {
			issues = append(issues, ValidationIssue{
				ItemNumber: item.Number,
				Code:       IssueOutOfBounds,
				Message:    fmt.Sprintf("item %d: %g is below minimum %g", item.Number, val, *item.MinValue),
			})
		}
		if item.MaxValue != nil && val > *item.MaxValue {
			issues = append(issues, ValidationIssue{
				ItemNumber: item.Number,
				Code:       IssueOutOfBounds,
				Message:    fmt.Sprintf("item %d: %g is above maximum %g", item.Number, val, *item.MaxValue),
			})
		}

	case ResponseFreeText:
		if item.Pattern != "" {
			text, _ := normalizeValue(raw)
			if re, err := regexp.Compile(item.Pattern); err == nil && !re.MatchString(text) {
				issues = append(issues, ValidationIssue{
					ItemNumber: item.Number,
					Code:       IssuePatternMismatch,
					Message:    fmt.Sprintf("item %d: response does not match expected format", item.Number),
				})
			}
		}
	}
	return issues
}

// CalculateScore runs one scoring pass over the full response set. A scoring
// failure on one item is recovered locally: the item is recorded as skipped
// and excluded from the sum. Each subscale total is recomputed independently
// from its own item list rather than reusing per-item results, keeping
// subscale scoring self-contained.
func (s *Scale) CalculateScore(responses map[int]interface{}) ScoringResult {
	result := ScoringResult{}
	for i := range s.Items {
		item := &s.Items[i]
		raw, present := responses[item.Number]
		if !present || isEmptyResponse(raw) {
			continue
		}
		score, err := ScoreResponse(item, raw)
		if err != nil {
			result.SkippedItems = append(result.SkippedItems, SkippedItem{
				ItemNumber: item.Number,
				Reason:     err.Error(),
			})
			continue
		}
		result.TotalScore += score
		result.ValidResponses++
	}

	if len(s.Subscales) > 0 {
		result.SubscaleScores = make(map[string]float64, len(s.Subscales))
		for si := range s.Subscales {
			sub := &s.Subscales[si]
			total := 0.0
			for _, num := range sub.Items {
				item := s.itemByNumber(num)
				if item == nil {
					continue
				}
				raw, present := responses[num]
				if !present || isEmptyResponse(raw) {
					continue
				}
				score, err := ScoreResponse(item, raw)
				if err != nil {
					continue
				}
				total += score
			}
			result.SubscaleScores[sub.ID] = total
		}
	}

	result.CompletionPercentage = completionPercentage(result.ValidResponses, len(s.Items))
	return result
}

// completionPercentage is the rounded share of scoreable items. A zero-item
// definition cannot pass construction, so the zero case is handled explicitly
// rather than left to divide.
func completionPercentage(valid, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(valid) / float64(total)))
}

// biasThreshold is the minimum number of identical non-empty responses before
// a response-bias warning is raised.
const biasThreshold = 3

// ValidateResponses checks the full response set and returns a structured
// report; it never fails. Item issues become Errors (any error means the set
// is not submittable). Incomplete data and uniform answering are surfaced as
// Warnings only.
func (s *Scale) ValidateResponses(responses map[int]interface{}) ValidationReport {
	report := ValidationReport{IsValid: true}

	for i := range s.Items {
		item := &s.Items[i]
		issues := ValidateResponse(item, responses[item.Number])
		report.Errors = append(report.Errors, issues...)
	}
	if len(report.Errors) > 0 {
		report.IsValid = false
	}

	result := s.CalculateScore(responses)
	if result.CompletionPercentage < 100 {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("only %d%% of items have a valid response", result.CompletionPercentage))
	}

	if uniform, count := uniformResponses(responses); count > biasThreshold && uniform {
		report.Warnings = append(report.Warnings,
			"possible response bias: all answers are identical")
	}

	return report
}

// uniformResponses reports whether every non-empty response carries the same
// raw value, and how many there are.
func uniformResponses(responses map[int]interface{}) (bool, int) {
	var first string
	count := 0
	uniform := true
	for _, raw := range responses {
		if isEmptyResponse(raw) {
			continue
		}
		val, _ := normalizeValue(raw)
		if count == 0 {
			first = val
		} else if val != first {
			uniform = false
		}
		count++
	}
	return uniform, count
}

// isEmptyResponse reports whether a raw response counts as absent.
func isEmptyResponse(raw interface{}) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// normalizeValue renders a raw response as a canonical comparison string.
// Numbers drop trailing zeros so 3, 3.0 and "3" compare equal.
func normalizeValue(raw interface{}) (string, bool) {
	switch v := raw.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case int:
		return strconv.Itoa(v), true
	case int32:
		return strconv.FormatInt(int64(v), 10), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case json.Number:
		return v.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// toFloat parses a raw response as a number.
func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// truthy coerces a raw response to a boolean. Coercion never fails:
// unrecognized values are false.
func truthy(raw interface{}) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "yes", "y", "true", "1", "si", "sí":
			return true
		}
		return false
	case float64:
		return v != 0
	case float32:
		return v != 0
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case json.Number:
		f, err := v.Float64()
		return err == nil && f != 0
	default:
		return false
	}
}
