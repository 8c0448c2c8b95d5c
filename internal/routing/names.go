package routing

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DisplayName derives a human label from a bus key:
// "vsink.voice-chat" becomes "Voice Chat".
func DisplayName(key, managedPrefix string) string {
	words := keyWords(key, managedPrefix)
	if len(words) == 0 {
		return key
	}
	return cases.Title(language.Und).String(strings.Join(words, " "))
}

// VariableName derives the camelCase identifier external consumers key bus
// values by: "vsink.voice-chat" becomes "voiceChat". Only the first letter
// of later words is changed.
func VariableName(key, managedPrefix string) string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), managedPrefix)
	words := strings.FieldsFunc(trimmed, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) == 0 {
		return "sink"
	}
	var b strings.Builder
	b.WriteString(strings.ToLower(words[0]))
	for _, w := range words[1:] {
		r, size := utf8.DecodeRuneInString(w)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(w[size:])
	}
	return b.String()
}

func keyWords(key, managedPrefix string) []string {
	trimmed := strings.TrimPrefix(strings.TrimSpace(key), managedPrefix)
	return strings.FieldsFunc(trimmed, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
}
