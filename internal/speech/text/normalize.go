// Package text prepares generated replies for speech synthesis.
//
// Replies are written for the screen: they carry stage directions, links,
// typographic quotes, and emphatic punctuation. Normalizer rewrites them into
// plain sentences a synthesizer reads naturally.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for speech normalization.
const (
	stageDirectionPattern  = `\*[^*\n]{1,80}\*`
	urlPattern             = `https?://\S+|www\.\S+`
	emailPattern           = `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`
	repeatedMarkPattern    = `([!?,;:])[!?,;:]+`
	longEllipsisPattern    = `\.{4,}`
	whitespacePattern      = `\s+`
	spaceBeforeMarkPattern = `\s+([.,!?;:])`
)

// Spoken replacements for tokens a synthesizer would spell out.
const (
	spokenLink  = "a link"
	spokenEmail = "an email address"
	ellipsis    = "..."
)

// Normalizer rewrites display text into speakable text.
type Normalizer struct {
	stageDirection  *regexp.Regexp
	url             *regexp.Regexp
	email           *regexp.Regexp
	repeatedMark    *regexp.Regexp
	longEllipsis    *regexp.Regexp
	whitespace      *regexp.Regexp
	spaceBeforeMark *regexp.Regexp

	abbreviations *strings.Replacer
	typography    *strings.Replacer
}

// NewNormalizer compiles the normalization patterns.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		stageDirection:  regexp.MustCompile(stageDirectionPattern),
		url:             regexp.MustCompile(urlPattern),
		email:           regexp.MustCompile(emailPattern),
		repeatedMark:    regexp.MustCompile(repeatedMarkPattern),
		longEllipsis:    regexp.MustCompile(longEllipsisPattern),
		whitespace:      regexp.MustCompile(whitespacePattern),
		spaceBeforeMark: regexp.MustCompile(spaceBeforeMarkPattern),
		abbreviations: strings.NewReplacer(
			"Mr.", "Mister",
			"Mrs.", "Misses",
			"Dr.", "Doctor",
			"St.", "Saint",
			"vs.", "versus",
			"e.g.", "for example",
			"i.e.", "that is",
		),
		typography: strings.NewReplacer(
			"—", ", ",
			"–", "-",
			"‒", "-",
			"…", ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
		),
	}
}

// Normalize returns text ready for synthesis. It returns an empty string
// when nothing speakable remains.
func (n *Normalizer) Normalize(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	out := n.stageDirection.ReplaceAllString(text, " ")
	out = n.url.ReplaceAllString(out, spokenLink)
	out = n.email.ReplaceAllString(out, spokenEmail)
	out = n.abbreviations.Replace(out)
	out = n.typography.Replace(out)
	out = dropUnspeakable(out)
	out = n.repeatedMark.ReplaceAllString(out, "$1")
	out = n.longEllipsis.ReplaceAllString(out, ellipsis)
	out = n.whitespace.ReplaceAllString(out, " ")
	out = n.spaceBeforeMark.ReplaceAllString(out, "$1")
	out = strings.TrimSpace(out)

	if !hasLetterOrDigit(out) {
		return ""
	}

	return endSentence(out)
}

// dropUnspeakable removes emoji and other symbols that synthesizers read literally.
func dropUnspeakable(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.So, r) || unicode.Is(unicode.Cs, r) || r == '\uFE0F' || r == '\u200D' {
			return -1
		}

		return r
	}, text)
}

func hasLetterOrDigit(text string) bool {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	}) >= 0
}

// endSentence terminates text with a full stop unless it already ends a sentence.
func endSentence(text string) string {
	last, _ := utf8.DecodeLastRuneInString(text)

	switch last {
	case '.', '!', '?', '"', '\'', ')':
		return text
	case ',', ';', ':', '-':
		return strings.TrimRight(text, ",;:- ") + "."
	default:
		return text + "."
	}
}
