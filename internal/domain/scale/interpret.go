package scale

// Interpretation returns the first rule in definition order whose inclusive
// band contains score, or nil when no band matches. Instrument authors are
// expected to declare non-overlapping bands, but overlap is not rejected:
// first match wins, and resolution order is never changed.
func (s *Scale) Interpretation(score float64) *InterpretationRule {
	return firstMatch(s.Rules, score)
}

// SubscaleInterpretation resolves score against the named subscale's own
// rule list. An unknown subscale, an empty rule list, or an unmatched score
// all yield nil: unclassified is a valid outcome, not a failure.
func (s *Scale) SubscaleInterpretation(subscaleID string, score float64) *InterpretationRule {
	for i := range s.Subscales {
		if s.Subscales[i].ID == subscaleID {
			return firstMatch(s.Subscales[i].Rules, score)
		}
	}
	return nil
}

func firstMatch(rules []InterpretationRule, score float64) *InterpretationRule {
	for i := range rules {
		if rules[i].Contains(score) {
			return &rules[i]
		}
	}
	return nil
}
