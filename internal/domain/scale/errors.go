package scale

import (
	"errors"
	"fmt"
)

// ConfigKind identifies which structural invariant a scale definition
// violated. The set is closed so callers can branch on the failure.
type ConfigKind string

const (
	ConfigNoItems         ConfigKind = "no_items"
	ConfigItemNumbering   ConfigKind = "item_numbering"
	ConfigItem            ConfigKind = "item"
	ConfigScoreRange      ConfigKind = "score_range"
	ConfigSubscale        ConfigKind = "subscale"
	ConfigSubscaleRange   ConfigKind = "subscale_range"
	ConfigRule            ConfigKind = "interpretation_rule"
	ConfigReverseItems    ConfigKind = "reverse_items"
	ConfigPublicationYear ConfigKind = "publication_year"
)

// ConfigurationError reports a violated construction invariant. A scale that
// fails construction is rejected entirely; there is no partially valid state.
type ConfigurationError struct {
	Kind    ConfigKind
	Message string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid scale definition (%s): %s", e.Kind, e.Message)
}

func configErrorf(kind ConfigKind, format string, args ...interface{}) error {
	return &ConfigurationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Scoring failures are per-item and recoverable: the aggregation layer skips
// the offending item instead of aborting the pass.
var (
	// ErrInvalidResponseValue marks a response that matches none of the
	// item's declared options.
	ErrInvalidResponseValue = errors.New("response does not match any option")

	// ErrNotANumber marks a response to a numeric item that cannot be
	// parsed as a number.
	ErrNotANumber = errors.New("response is not numeric")
)

// Validation issue codes returned by ValidateResponse.
const (
	IssueRequired        = "required"
	IssueInvalidOption   = "invalid_option"
	IssueNotANumber      = "not_a_number"
	IssueOutOfBounds     = "out_of_bounds"
	IssuePatternMismatch = "pattern_mismatch"
)

// ValidationIssue describes one problem with one item's response.
type ValidationIssue struct {
	ItemNumber int    `json:"item_number"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}
