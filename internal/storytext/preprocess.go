// Package storytext normalizes generated story text before it is handed to
// the speech generation service. Story models decorate their output with
// markdown emphasis and typographic punctuation that synthesis engines read
// aloud or stumble over; this strips the decoration while leaving the prose
// untouched.
package storytext

import (
	"regexp"
	"strings"
)

// Regex patterns compiled once per Preprocessor.
const (
	emphasisRegexPattern   = `[*_]{1,3}([^*_]+)[*_]{1,3}`
	headingRegexPattern    = `(?m)^#{1,6}\s+`
	whitespaceRegexPattern = `\s+`
)

// Typographic punctuation normalized to plain ASCII forms.
const (
	emDash       = "—"
	enDash       = "–"
	ellipsisRune = "…"
	leftQuote    = "“"
	rightQuote   = "”"
	apostrophe   = "’"
)

// Preprocessor cleans story text for speech synthesis.
type Preprocessor struct {
	emphasisPattern   *regexp.Regexp
	headingPattern    *regexp.Regexp
	whitespacePattern *regexp.Regexp
	punctuation       *strings.Replacer
}

// NewPreprocessor creates a preprocessor with its patterns and replacers
// compiled upfront.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{
		emphasisPattern:   regexp.MustCompile(emphasisRegexPattern),
		headingPattern:    regexp.MustCompile(headingRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		punctuation: strings.NewReplacer(
			emDash, ", ",
			enDash, ", ",
			ellipsisRune, "...",
			leftQuote, `"`,
			rightQuote, `"`,
			apostrophe, "'",
		),
	}
}

// Prepare normalizes generated story text: markdown emphasis and headings are
// stripped, typographic punctuation is flattened, and whitespace is collapsed
// to single spaces. Empty input stays empty.
func (p *Preprocessor) Prepare(text string) string {
	if text == "" {
		return text
	}

	cleaned := p.headingPattern.ReplaceAllString(text, "")
	cleaned = p.emphasisPattern.ReplaceAllString(cleaned, "$1")
	cleaned = p.punctuation.Replace(cleaned)
	cleaned = p.whitespacePattern.ReplaceAllString(cleaned, " ")

	return strings.TrimSpace(cleaned)
}
