package composer

import "strings"

type Classification string

const (
	ClassGeneric     Classification = "generic"
	ClassTherapeutic Classification = "therapeutic"
	ClassUnknown     Classification = "unknown"
)

var (
	genericHints     = []string{"generic", "brand to", "ab rated", "ab-rated", "multisource"}
	therapeuticHints = []string{"therapeutic", "alternative", "formulary", "interchange", "class switch", "step therapy"}
)

// Classify infers the kind of change from the free-text opportunity type.
// Generic hints win when both kinds match.
func Classify(opportunityType string) Classification {
	t := strings.ToLower(strings.TrimSpace(opportunityType))
	if t == "" {
		return ClassUnknown
	}
	for _, h := range genericHints {
		if strings.Contains(t, h) {
			return ClassGeneric
		}
	}
	for _, h := range therapeuticHints {
		if strings.Contains(t, h) {
			return ClassTherapeutic
		}
	}
	return ClassUnknown
}
