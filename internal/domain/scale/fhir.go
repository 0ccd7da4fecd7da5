package scale

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mentis/mentis/internal/platform/fhir"
)

// ordinalValueURL is the standard extension carrying an answer option's
// numeric score on a FHIR Questionnaire.
const ordinalValueURL = "http://hl7.org/fhir/StructureDefinition/ordinalValue"

func (s *Scale) ToFHIR() map[string]interface{} {
	status := "retired"
	if s.Active {
		status = "active"
	}
	items := make([]map[string]interface{}, 0, len(s.Items))
	for i := range s.Items {
		it := &s.Items[i]
		entry := map[string]interface{}{
			"linkId": strconv.Itoa(it.Number),
			"text":   it.Prompt,
			"type":   fhirItemType(it.ResponseType),
		}
		if it.Required {
			entry["required"] = true
		}
		if len(it.Options) > 0 {
			opts := make([]map[string]interface{}, 0, len(it.Options))
			for _, opt := range it.Options {
				opts = append(opts, map[string]interface{}{
					"valueCoding": fhir.Coding{Code: opt.Value, Display: opt.Label},
					"extension": []map[string]interface{}{
						{"url": ordinalValueURL, "valueDecimal": opt.Score},
					},
				})
			}
			entry["answerOption"] = opts
		}
		items = append(items, entry)
	}

	result := map[string]interface{}{
		"resourceType": "Questionnaire",
		"id":           s.ID.String(),
		"name":         s.Abbreviation,
		"title":        s.Name,
		"status":       status,
		"subjectType":  []string{"Patient"},
		"meta":         fhir.Meta{LastUpdated: s.UpdatedAt},
		"item":         items,
	}
	if s.Description != nil {
		result["description"] = *s.Description
	}
	if s.Version != nil {
		result["version"] = *s.Version
	}
	if s.PublicationYear != nil {
		result["date"] = strconv.Itoa(*s.PublicationYear)
	}
	if len(s.Authors) > 0 {
		result["publisher"] = strings.Join(s.Authors, ", ")
	}
	return result
}

func fhirItemType(t ResponseType) string {
	switch t {
	case ResponseLikert, ResponseMultipleChoice, ResponseRating:
		return "choice"
	case ResponseYesNo, ResponseBoolean:
		return "boolean"
	case ResponseNumeric, ResponseSlider:
		return "decimal"
	default:
		return "text"
	}
}

// QuestionnaireResource is the subset of a FHIR R4 Questionnaire accepted on
// the FHIR write surface.
type QuestionnaireResource struct {
	ResourceType string                      `json:"resourceType"`
	Name         string                      `json:"name"`
	Title        string                      `json:"title"`
	Status       string                      `json:"status"`
	Description  string                      `json:"description"`
	Version      string                      `json:"version"`
	Item         []QuestionnaireResourceItem `json:"item"`
}

type QuestionnaireResourceItem struct {
	LinkID       string                      `json:"linkId"`
	Text         string                      `json:"text"`
	Type         string                      `json:"type"`
	Required     bool                        `json:"required"`
	AnswerOption []QuestionnaireAnswerOption `json:"answerOption,omitempty"`
}

type QuestionnaireAnswerOption struct {
	ValueCoding *fhir.Coding             `json:"valueCoding,omitempty"`
	ValueString string                   `json:"valueString,omitempty"`
	Extension   []QuestionnaireExtension `json:"extension,omitempty"`
}

type QuestionnaireExtension struct {
	URL          string   `json:"url"`
	ValueDecimal *float64 `json:"valueDecimal,omitempty"`
}

// ScaleFromFHIR maps an inbound Questionnaire to a catalog definition.
// Option scores come from the ordinalValue extension, defaulting to the
// option's position; the scale score range is derived by summing per-item
// extremes (option items use their option range, booleans contribute 0-1,
// numeric items 0-10). The result still has to pass NewScale.
func ScaleFromFHIR(q *QuestionnaireResource) (*Scale, error) {
	if q.ResourceType != "" && q.ResourceType != "Questionnaire" {
		return nil, fmt.Errorf("unexpected resource type %q", q.ResourceType)
	}
	if q.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	sc := &Scale{
		Name:         q.Title,
		Abbreviation: q.Name,
		Active:       q.Status != "retired",
	}
	if sc.Name == "" {
		sc.Name = q.Name
	}
	if q.Description != "" {
		sc.Description = &q.Description
	}
	if q.Version != "" {
		sc.Version = &q.Version
	}

	var minTotal, maxTotal float64
	for i, src := range q.Item {
		num := i + 1
		if n, err := strconv.Atoi(src.LinkID); err == nil && n > 0 {
			num = n
		}
		it := Item{Number: num, Prompt: src.Text, Required: src.Required}

		switch src.Type {
		case "choice", "open-choice":
			it.ResponseType = ResponseMultipleChoice
			for oi, opt := range src.AnswerOption {
				ro := ResponseOption{Score: float64(oi)}
				if opt.ValueCoding != nil {
					ro.Value = opt.ValueCoding.Code
					ro.Label = opt.ValueCoding.Display
				} else if opt.ValueString != "" {
					ro.Value = opt.ValueString
					ro.Label = opt.ValueString
				}
				if ro.Label == "" {
					ro.Label = ro.Value
				}
				for _, ext := range opt.Extension {
					if ext.URL == ordinalValueURL && ext.ValueDecimal != nil {
						ro.Score = *ext.ValueDecimal
					}
				}
				it.Options = append(it.Options, ro)
			}
			lo, hi := optionRange(it.Options)
			minTotal += lo
			maxTotal += hi
		case "boolean":
			it.ResponseType = ResponseBoolean
			maxTotal++
		case "integer", "decimal", "quantity":
			it.ResponseType = ResponseNumeric
			maxTotal += 10
		case "string", "text":
			it.ResponseType = ResponseFreeText
		default:
			return nil, fmt.Errorf("item %q: unsupported type %q", src.LinkID, src.Type)
		}

		sc.Items = append(sc.Items, it)
	}
	sc.MinScore = minTotal
	sc.MaxScore = maxTotal
	return sc, nil
}

func optionRange(opts []ResponseOption) (float64, float64) {
	if len(opts) == 0 {
		return 0, 0
	}
	lo, hi := opts[0].Score, opts[0].Score
	for _, opt := range opts[1:] {
		if opt.Score < lo {
			lo = opt.Score
		}
		if opt.Score > hi {
			hi = opt.Score
		}
	}
	return lo, hi
}
