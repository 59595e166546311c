package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/book-expert/performer-service/internal/core"
)

const (
	soundDirectivePattern = `@sound\s*\(\s*["']([^"']+)["']\s*(?:,\s*["']?(\d+)["']?)?\s*\)`
	singDirectivePattern  = `@sing\s*\(\s*["']([^"']+)["']\s*(?:,\s*["']?([^"']+)["']?)?\s*\)`
)

// Extractor pulls @sound and @sing directives out of generated text.
type Extractor struct {
	sound      *regexp.Regexp
	sing       *regexp.Regexp
	whitespace *regexp.Regexp
}

// NewExtractor compiles the directive patterns.
func NewExtractor() *Extractor {
	return &Extractor{
		sound:      regexp.MustCompile(soundDirectivePattern),
		sing:       regexp.MustCompile(singDirectivePattern),
		whitespace: regexp.MustCompile(whitespacePattern),
	}
}

// Extract returns the directives found in text, in order of appearance, and
// the text with every directive removed and whitespace collapsed.
func (e *Extractor) Extract(text string) core.Directives {
	directives := core.Directives{CleanText: "", Sounds: nil, Songs: nil}

	for _, match := range e.sound.FindAllStringSubmatch(text, -1) {
		directives.Sounds = append(directives.Sounds, core.SoundCall{
			Name:  strings.TrimSpace(match[1]),
			Times: repeatCount(match[2]),
		})
	}

	for _, match := range e.sing.FindAllStringSubmatch(text, -1) {
		directives.Songs = append(directives.Songs, core.SongCall{
			Song:   strings.TrimSpace(match[1]),
			Artist: strings.TrimSpace(match[2]),
		})
	}

	clean := e.sound.ReplaceAllString(text, "")
	clean = e.sing.ReplaceAllString(clean, "")
	directives.CleanText = strings.TrimSpace(e.whitespace.ReplaceAllString(clean, " "))

	return directives
}

func repeatCount(raw string) int {
	if raw == "" {
		return 1
	}

	times, err := strconv.Atoi(raw)
	if err != nil || times < 1 {
		return 1
	}

	return times
}
