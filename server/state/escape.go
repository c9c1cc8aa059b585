package state

import "strings"

var (
	likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
)

// EscapeLike makes s match literally inside a LIKE pattern using ESCAPE '\'.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// EscapeGlob makes s match literally inside a redis MATCH pattern.
func EscapeGlob(s string) string {
	return globEscaper.Replace(s)
}
