package engine

import "strings"

// normalizeCategory maps a model-returned label onto the configured
// taxonomy, ignoring case and surrounding whitespace. Unmatched labels
// fall back to the idle label, then to the first allowed label.
func normalizeCategory(raw string, allowed []string, idle string) string {
	cleaned := strings.TrimSpace(raw)
	for _, a := range allowed {
		if strings.EqualFold(cleaned, strings.TrimSpace(a)) {
			return a
		}
	}
	if idle != "" {
		return idle
	}
	if len(allowed) > 0 {
		return allowed[0]
	}
	return cleaned
}
