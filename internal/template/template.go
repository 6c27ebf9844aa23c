// Package template handles the {{id}} placeholders that embed variable ids
// in free text. Ids are stored without an entity prefix and carry the full
// variable key while loaded.
package template

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/report-variables-server/internal/derivation"
	"github.com/report-variables-server/internal/domain"
)

// placeholderRe matches {{ id }} and {{ id.form }}.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_\-:]+)(?:\.([A-Za-z]+))?\s*\}\}`)

// Lookup resolves a variable key.
type Lookup func(key string) (*domain.Variable, bool)

type placeholder struct {
	id   string
	form string
}

func parse(match string) placeholder {
	sub := placeholderRe.FindStringSubmatch(match)
	return placeholder{id: sub[1], form: sub[2]}
}

func (p placeholder) String() string {
	if p.form == "" {
		return "{{" + p.id + "}}"
	}
	return "{{" + p.id + "." + p.form + "}}"
}

// ExtractIDs returns the distinct ids referenced by text in order of first
// appearance.
func ExtractIDs(text string) []string {
	var ids []string
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			ids = append(ids, m[1])
		}
	}
	return ids
}

// PrefixIDs qualifies every unprefixed id in text with prefix, normally
// VariableIDToken.EntityPrefix of the owning set.
func PrefixIDs(text, prefix string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		p := parse(match)
		if !strings.Contains(p.id, ":") {
			p.id = prefix + p.id
		}
		return p.String()
	})
}

// StripIDs shortens ids in the entity named by prefix to bare ids. Ids in
// other entities keep their full key so that PrefixIDs restores text exactly.
func StripIDs(text, prefix string) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		p := parse(match)
		p.id = strings.TrimPrefix(p.id, prefix)
		return p.String()
	})
}

// Render substitutes placeholders with variable values. A form selects a
// pronoun form ("subject", "possessive", ...); a capitalized form
// capitalizes the result. Placeholders that cannot be resolved, or whose
// variable has no value, are left as written.
func Render(text string, lookup Lookup) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		p := parse(match)
		v, ok := resolve(p.id, lookup)
		if !ok || v.Value.IsEmpty() {
			return match
		}
		if p.form == "" {
			return v.Value.Text()
		}
		pronouns, ok := derivation.ParsePronouns(v.Value.Text())
		if !ok {
			return match
		}
		form, ok := pronouns.Form(p.form)
		if !ok {
			return match
		}
		if r, _ := utf8.DecodeRuneInString(p.form); unicode.IsUpper(r) {
			form = capitalize(form)
		}
		return form
	})
}

func resolve(id string, lookup Lookup) (*domain.Variable, bool) {
	if v, ok := lookup(id); ok {
		return v, true
	}
	if !strings.Contains(id, ":") {
		return lookup(domain.NewToken(id, "", "").Key())
	}
	return nil, false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
