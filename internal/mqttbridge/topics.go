package mqttbridge

import "strings"

// StatusTopic names the per-composition status topic,
// {prefix}/status/{composition}. Composition names are sanitized so an
// operator-chosen name cannot introduce topic levels or wildcards.
func StatusTopic(prefix, composition string) string {
	return strings.TrimSuffix(prefix, "/") + "/status/" + sanitizeLevel(composition)
}

func sanitizeLevel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '/', '+', '#', 0:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
