package natsbridge

import "strings"

// StatusSubject names the per-composition status subject,
// {prefix}.status.{composition}. Composition names are sanitized so an
// operator-chosen name cannot add subject tokens.
func StatusSubject(prefix, composition string) string {
	return prefix + ".status." + sanitizeToken(composition)
}

func sanitizeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
