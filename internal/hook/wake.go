package hook

import "strings"

// WakeMatches reports whether text contains the wake word or one of its
// aliases, ignoring case.
func WakeMatches(text, word string, aliases []string) bool {
	lower := strings.ToLower(text)
	for _, v := range wakeVariants(word, aliases) {
		if strings.Contains(lower, v) {
			return true
		}
	}
	return false
}

// RemoveWakeWord drops the first word of text that is the wake word or an
// alias.
func RemoveWakeWord(text, word string, aliases []string) string {
	variants := wakeVariants(word, aliases)
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	skipped := false
	for _, f := range fields {
		if !skipped && matchesAny(stripPunct(f), variants) {
			skipped = true
			continue
		}
		out = append(out, f)
	}
	return strings.Join(out, " ")
}

func stripPunct(s string) string {
	return strings.Trim(s, " ,.!?;:\"'")
}

func wakeVariants(word string, aliases []string) []string {
	v := []string{strings.ToLower(word)}
	for _, a := range aliases {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		v = append(v, a)
	}
	return v
}

func matchesAny(token string, variants []string) bool {
	for _, v := range variants {
		if strings.EqualFold(token, v) {
			return true
		}
	}
	return false
}
