// Package textnorm canonicalizes raw post text before pattern matching.
// Normalization is a pure function: same input, same output, no side
// effects.
package textnorm

import (
	"regexp"
	"strings"
)

// Canonical is the normalized form of one post's text. Display keeps the
// original casing for extraction of capitalized phrases; Matching is the
// lowercased twin used for keyword checks. URLs and mentions are stripped
// from both but kept for downstream use (ticket links, author hints).
type Canonical struct {
	Display  string
	Matching string
	URLs     []string
	Mentions []string
}

var (
	urlExpr        = regexp.MustCompile(`https?://\S+`)
	mentionExpr    = regexp.MustCompile(`@[A-Za-z0-9_]+`)
	whitespaceExpr = regexp.MustCompile(`\s+`)

	// Unicode punctuation folded to ASCII so one pattern set covers both.
	punctReplacer = strings.NewReplacer(
		"–", "-", // en dash
		"—", "-", // em dash
		"−", "-", // minus sign
		"‘", "'",
		"’", "'",
		"“", `"`,
		"”", `"`,
		" ", " ",
	)
)

// Weekday short forms are the only abbreviations expanded: they sit next
// to dates and would otherwise split date phrases during matching.
// Content abbreviations ("ft", "w/") are left alone on purpose. The
// optional period sits outside the word boundary so "Fri." is consumed
// whole; longer alternatives come before their prefixes.
var weekdayExpr = regexp.MustCompile(`\b(Mon|Tues|Tue|Wed|Thurs|Thur|Thu|Fri|Sat|Sun)\b\.?`)

var weekdayFull = map[string]string{
	"mon": "Monday", "tue": "Tuesday", "tues": "Tuesday",
	"wed": "Wednesday", "thu": "Thursday", "thur": "Thursday",
	"thurs": "Thursday", "fri": "Friday", "sat": "Saturday",
	"sun": "Sunday",
}

// Normalize canonicalizes raw text for pattern matching.
func Normalize(raw string) Canonical {
	urls := urlExpr.FindAllString(raw, -1)

	text := urlExpr.ReplaceAllString(raw, " ")
	mentions := mentionExpr.FindAllString(text, -1)
	text = mentionExpr.ReplaceAllString(text, " ")

	text = punctReplacer.Replace(text)

	text = weekdayExpr.ReplaceAllStringFunc(text, func(m string) string {
		key := strings.ToLower(strings.TrimSuffix(m, "."))
		if full, ok := weekdayFull[key]; ok {
			return full
		}
		return m
	})

	text = whitespaceExpr.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	return Canonical{
		Display:  text,
		Matching: strings.ToLower(text),
		URLs:     urls,
		Mentions: mentions,
	}
}
