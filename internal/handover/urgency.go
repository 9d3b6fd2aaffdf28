package handover

import (
	"strings"

	"dealerpilot/internal/domain"
)

// Immediate-urgency terms and week/soon terms, used by both urgency
// tiers. Matching is case-insensitive substring.
var (
	highUrgencyTerms = []string{
		"today", "right now", "immediately", "asap", "urgent",
		"this afternoon", "this evening", "tonight",
	}
	mediumUrgencyTerms = []string{
		"this week", "next week", "soon", "few days", "couple of days",
		"this weekend", "this month",
	}
)

// DetermineUrgency applies the two-level urgency policy. An explicit
// urgency/timeline insight decides first, based on its value alone. Only
// when no such insight exists do we fall back to scanning raw customer
// messages, counting matches across both tiers.
func DetermineUrgency(insights []domain.CustomerInsight, customerMessages []string) string {
	for _, insight := range insights {
		key := strings.ToLower(insight.Key)
		if !strings.Contains(key, "urgency") && !strings.Contains(key, "timeline") {
			continue
		}
		value := strings.ToLower(insight.Value)
		if containsAny(value, highUrgencyTerms) {
			return domain.UrgencyHigh
		}
		if containsAny(value, mediumUrgencyTerms) {
			return domain.UrgencyMedium
		}
		return domain.UrgencyLow
	}

	highHits, mediumHits := 0, 0
	for _, msg := range customerMessages {
		lowered := strings.ToLower(msg)
		for _, term := range highUrgencyTerms {
			if strings.Contains(lowered, term) {
				highHits++
			}
		}
		for _, term := range mediumUrgencyTerms {
			if strings.Contains(lowered, term) {
				mediumHits++
			}
		}
	}
	if highHits > 0 {
		return domain.UrgencyHigh
	}
	if mediumHits > 0 {
		return domain.UrgencyMedium
	}
	return domain.UrgencyLow
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
