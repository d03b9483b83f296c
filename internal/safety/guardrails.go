package safety

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Blocklist for minor-referencing terms.
var childKeywords = []string{
	"child", "children", "kid", "kids", "minor", "minors",
	"teenager", "teen", "teenage", "adolescent", "youth",
	"youngster", "baby", "babies", "infant", "toddler",
	"underage", "under-aged", "nieletni", "dziecko", "dzieci",
}

// Blocklist for explicit-content terms.
var nsfwKeywords = []string{
	"nude", "naked", "nudity", "porn", "pornography",
	"explicit", "sexual", "sex", "xxx", "nsfw",
	"erotic", "adult content",
}

var (
	ErrConsentNotConfirmed = errors.New("consent_confirmed must be true")
	ErrSubjectNotAdult     = errors.New("subject_is_adult must be true")
)

type blockedTerm struct {
	keyword  string
	category string
	re       *regexp.Regexp
}

var blockedTerms = compileBlocklists()

func compileBlocklists() []blockedTerm {
	terms := make([]blockedTerm, 0, len(childKeywords)+len(nsfwKeywords))
	add := func(keywords []string, category string) {
		for _, kw := range keywords {
			terms = append(terms, blockedTerm{
				keyword:  kw,
				category: category,
				re:       regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`),
			})
		}
	}
	add(childKeywords, "child")
	add(nsfwKeywords, "nsfw")
	return terms
}

// Violation is one blocked keyword found in a prompt.
type Violation struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
	Message  string `json:"message"`
}

// CheckPrompt screens the prompt pair against the blocklists using
// whole-word, case-insensitive matching. It returns every violation,
// not just the first; an empty slice means the prompt is safe.
func CheckPrompt(prompt, negativePrompt string) []Violation {
	text := strings.ToLower(prompt + " " + negativePrompt)

	var violations []Violation
	for _, term := range blockedTerms {
		if term.re.MatchString(text) {
			msg := fmt.Sprintf("Blocked NSFW keyword: '%s'", term.keyword)
			if term.category == "child" {
				msg = fmt.Sprintf("Blocked keyword related to children: '%s'", term.keyword)
			}
			violations = append(violations, Violation{
				Keyword:  term.keyword,
				Category: term.category,
				Message:  msg,
			})
		}
	}
	return violations
}

// ValidateConsent checks both required consent flags and reports the
// first missing one.
func ValidateConsent(consentConfirmed, subjectIsAdult bool) error {
	if !consentConfirmed {
		return ErrConsentNotConfirmed
	}
	if !subjectIsAdult {
		return ErrSubjectNotAdult
	}
	return nil
}
