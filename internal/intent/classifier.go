// Package intent recognises song requests in chat messages and action
// directives in generated replies.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/book-expert/performer-service/internal/core"
)

// Regex patterns for song requests. All of them are case-insensitive.
const (
	genericAskPattern    = `(?i)^(?:can|could)\s+you\s+(?:sing|play)(?:\s+a|\s+the)?\s+song\??$`
	transposePattern     = `(?i)transpose[:\s]+([+-]?\d+)`
	commandPattern       = `(?i)^!(?:sing|play)\s+(.+)$`
	youtubePattern       = `(?i)(?:https?://)?(?:www\.)?(?:youtube\.com/(?:watch\?v=|embed/|shorts/)|youtu\.be/|music\.youtube\.com/watch\?v=)([a-zA-Z0-9_-]+)(?:&\S*)?`
	sfxPattern           = `(?i)\bsound\s+effects?\b|\bsfx\b`
	artistOnlyPattern    = `(?i)\b(?:can\s+you\s+)?(?:sing|play)(?:\s+a)?\s+(?:song|track)\s+(?:by|from)\s+["']?([^"'?]+)["']?`
	titleArtistPattern   = `(?i)\b(?:sing|cover|perform|play)\s+(?:the\s+song\s+)?["']?([^"']+?)["']?\s+(?:by|from)\s+["']?([^"'?]+)["']?`
	titleOnlyPattern     = `(?i)\b(?:sing|cover|perform)\s+(?:the\s+)?(?:song\s+)?["']?([^"'?]+)["']?`
	playSongPattern      = `(?i)\bplay\s+(?:the\s+)?song\s+["']?([^"'?]+)["']?`
	whitespacePattern    = `\s+`
	videoDisplayName     = "YouTube Video"
	videoURLPrefix       = "https://www.youtube.com/watch?v="
	minArtistLength      = 3
	minSongNameLength    = 2
	artistOnlyNameFmt    = "A song by "
	artistOnlyQueryFmt   = "popular song by "
	titleArtistSeparator = " by "
)

var (
	fillerArtists = map[string]bool{"the": true, "an": true, "a": true}
	fillerTitles  = map[string]bool{"a": true, "the": true, "song": true}
)

// Classifier decides whether a chat message asks the performer to sing.
type Classifier struct {
	transposeLimit int

	genericAsk  *regexp.Regexp
	transpose   *regexp.Regexp
	command     *regexp.Regexp
	youtube     *regexp.Regexp
	sfx         *regexp.Regexp
	artistOnly  *regexp.Regexp
	titleArtist *regexp.Regexp
	titleOnly   *regexp.Regexp
	playSong    *regexp.Regexp
	whitespace  *regexp.Regexp
}

// NewClassifier compiles the request patterns. Transpose values are clamped to ±transposeLimit.
func NewClassifier(transposeLimit int) *Classifier {
	return &Classifier{
		transposeLimit: transposeLimit,
		genericAsk:     regexp.MustCompile(genericAskPattern),
		transpose:      regexp.MustCompile(transposePattern),
		command:        regexp.MustCompile(commandPattern),
		youtube:        regexp.MustCompile(youtubePattern),
		sfx:            regexp.MustCompile(sfxPattern),
		artistOnly:     regexp.MustCompile(artistOnlyPattern),
		titleArtist:    regexp.MustCompile(titleArtistPattern),
		titleOnly:      regexp.MustCompile(titleOnlyPattern),
		playSong:       regexp.MustCompile(playSongPattern),
		whitespace:     regexp.MustCompile(whitespacePattern),
	}
}

// Classify extracts a song request from text. Anything that is not a
// request yields an intent of kind IntentNone.
func (c *Classifier) Classify(text string) core.SongIntent {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || c.genericAsk.MatchString(trimmed) {
		return none()
	}

	transpose, remainder := c.extractTranspose(trimmed)

	if match := c.command.FindStringSubmatch(remainder); match != nil {
		return c.fromCommand(match[1], transpose)
	}

	if media, ok := c.videoRequest(remainder, transpose); ok {
		return media
	}

	if c.sfx.MatchString(remainder) {
		return none()
	}

	if match := c.artistOnly.FindStringSubmatch(remainder); match != nil {
		artist := cleanName(match[1])
		if len(artist) >= minArtistLength && !fillerArtists[strings.ToLower(artist)] {
			return song(artistOnlyNameFmt+artist, artistOnlyQueryFmt+artist, artist, transpose)
		}
	}

	if match := c.titleArtist.FindStringSubmatch(remainder); match != nil {
		title, artist := cleanName(match[1]), cleanName(match[2])
		if validTitle(title) && artist != "" {
			name := title + titleArtistSeparator + artist

			return song(name, name, artist, transpose)
		}
	}

	for _, pattern := range []*regexp.Regexp{c.titleOnly, c.playSong} {
		match := pattern.FindStringSubmatch(remainder)
		if match == nil {
			continue
		}

		title := cleanName(match[1])
		if validTitle(title) {
			return song(title, title, "", transpose)
		}
	}

	return none()
}

// extractTranspose reads a transpose instruction and returns the text without it.
func (c *Classifier) extractTranspose(text string) (*int, string) {
	loc := c.transpose.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil, text
	}

	value, err := strconv.Atoi(text[loc[2]:loc[3]])
	if err != nil {
		return nil, text
	}

	value = min(max(value, -c.transposeLimit), c.transposeLimit)
	remainder := c.whitespace.ReplaceAllString(text[:loc[0]]+" "+text[loc[1]:], " ")

	return &value, strings.TrimSpace(remainder)
}

func (c *Classifier) fromCommand(request string, transpose *int) core.SongIntent {
	if media, ok := c.videoRequest(request, transpose); ok {
		return media
	}

	name := cleanName(request)
	if name == "" {
		return none()
	}

	artist := ""
	if _, after, found := strings.Cut(name, titleArtistSeparator); found {
		artist = strings.TrimSpace(after)
	}

	return song(name, name, artist, transpose)
}

// videoRequest recognises a YouTube locator anywhere in text.
func (c *Classifier) videoRequest(text string, transpose *int) (core.SongIntent, bool) {
	match := c.youtube.FindStringSubmatch(text)
	if match == nil {
		return core.SongIntent{}, false
	}

	return core.SongIntent{
		Kind:          core.IntentDirectMedia,
		DisplayName:   videoDisplayName,
		Query:         "",
		Artist:        "",
		MediaURL:      videoURLPrefix + match[1],
		MediaID:       match[1],
		UseMediaTitle: true,
		Transpose:     transpose,
	}, true
}

func song(name, query, artist string, transpose *int) core.SongIntent {
	return core.SongIntent{
		Kind:          core.IntentSong,
		DisplayName:   name,
		Query:         query,
		Artist:        artist,
		MediaURL:      "",
		MediaID:       "",
		UseMediaTitle: false,
		Transpose:     transpose,
	}
}

func none() core.SongIntent {
	return core.SongIntent{
		Kind:          core.IntentNone,
		DisplayName:   "",
		Query:         "",
		Artist:        "",
		MediaURL:      "",
		MediaID:       "",
		UseMediaTitle: false,
		Transpose:     nil,
	}
}

func cleanName(raw string) string {
	return strings.Trim(strings.TrimSpace(raw), ` "'.,!?`)
}

func validTitle(title string) bool {
	return len(title) >= minSongNameLength && !fillerTitles[strings.ToLower(title)]
}
