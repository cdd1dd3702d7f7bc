package memory

import (
	"strings"
	"unicode/utf8"
)

// SpecialKind names a slash command recognised in chat text.
type SpecialKind string

const (
	SpecialRemember SpecialKind = "remember"
	SpecialForget   SpecialKind = "forget"
	SpecialCreate   SpecialKind = "create"
)

// Special is a parsed slash command.
type Special struct {
	Kind SpecialKind
	Arg  string
}

var specialPrefixes = []struct {
	prefix string
	kind   SpecialKind
}{
	{"/remember", SpecialRemember},
	{"/forget", SpecialForget},
	{"/create", SpecialCreate},
}

// ParseSpecial recognises "/remember <text>", "/forget <key>" and
// "/create <prompt>" by prefix. The prefix must be followed by whitespace or
// end the text.
func ParseSpecial(text string) (Special, bool) {
	trimmed := strings.TrimSpace(text)
	for _, p := range specialPrefixes {
		if !strings.HasPrefix(trimmed, p.prefix) {
			continue
		}
		rest := trimmed[len(p.prefix):]
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			continue
		}
		return Special{Kind: p.kind, Arg: strings.TrimSpace(rest)}, true
	}
	return Special{}, false
}

const maxFactKeyRunes = 48

// FactFromText splits "/remember" text into a key and value. "key: value"
// and "key = value" name the key explicitly; otherwise the text is its own
// value and the key is derived from its first runes.
func FactFromText(text string) (string, string) {
	text = strings.TrimSpace(text)
	for _, sep := range []string{":", "="} {
		if k, v, ok := strings.Cut(text, sep); ok {
			k, v = strings.TrimSpace(k), strings.TrimSpace(v)
			if k != "" && v != "" {
				return strings.ToLower(k), v
			}
		}
	}
	key := strings.ToLower(text)
	if utf8.RuneCountInString(key) > maxFactKeyRunes {
		key = string([]rune(key)[:maxFactKeyRunes])
	}
	return "fact:" + key, text
}
