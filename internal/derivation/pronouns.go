package derivation

import (
	"strings"
)

// PronounSet holds the grammatical forms used when rendering report text.
type PronounSet struct {
	Subject             string `json:"subject"`
	Object              string `json:"object"`
	PossessiveAdjective string `json:"possessive"`
	PossessivePronoun   string `json:"possessivePronoun"`
	Reflexive           string `json:"reflexive"`
}

var (
	pronounsHe   = PronounSet{"he", "him", "his", "his", "himself"}
	pronounsShe  = PronounSet{"she", "her", "her", "hers", "herself"}
	pronounsThey = PronounSet{"they", "them", "their", "theirs", "themselves"}
)

// ParsePronouns resolves a pronoun variable's value ("she/her", "Male",
// "they") to its forms.
func ParsePronouns(value string) (PronounSet, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if i := strings.IndexAny(v, "/ "); i > 0 {
		v = v[:i]
	}
	switch v {
	case "he", "him", "male", "m", "boy":
		return pronounsHe, true
	case "she", "her", "female", "f", "girl":
		return pronounsShe, true
	case "they", "them":
		return pronounsThey, true
	default:
		return PronounSet{}, false
	}
}

// Form returns a named form: subject, object, possessive, possessivePronoun
// or reflexive.
func (p PronounSet) Form(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "subject":
		return p.Subject, true
	case "object":
		return p.Object, true
	case "possessive":
		return p.PossessiveAdjective, true
	case "possessivepronoun":
		return p.PossessivePronoun, true
	case "reflexive":
		return p.Reflexive, true
	default:
		return "", false
	}
}
