package core

import (
	"strings"
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the prompt conversation.
type Turn struct {
	Role    Role
	Content string
}

// RecordKind classifies a durable record.
type RecordKind string

// Record kinds.
const (
	RecordUser      RecordKind = "user"
	RecordAssistant RecordKind = "assistant"
	RecordError     RecordKind = "error"
)

// Record is a single durable message entry.
type Record struct {
	Kind         RecordKind
	Username     string
	Content      string
	InResponseTo string
	AutoTalk     bool
	CreatedAt    time.Time
}

// IntentKind tags the result of classifying a chat message.
type IntentKind int

// Intent kinds.
const (
	IntentNone IntentKind = iota
	IntentSong
	IntentDirectMedia
)

// SongIntent is a classified song request.
type SongIntent struct {
	Kind        IntentKind
	DisplayName string
	Query       string
	Artist      string
	// MediaURL and MediaID are set for IntentDirectMedia.
	MediaURL string
	MediaID  string
	// UseMediaTitle asks the pipeline to replace DisplayName with the media's own title.
	UseMediaTitle bool
	// Transpose is nil when the request did not specify a pitch shift.
	Transpose *int
}

// IsSong reports whether the intent carries a song request.
func (i SongIntent) IsSong() bool {
	return i.Kind != IntentNone
}

// SoundCall requests a sound effect to be played Times times.
type SoundCall struct {
	Name  string
	Times int
}

// SongCall requests a song from inside generated text.
type SongCall struct {
	Song   string
	Artist string
}

// Query renders the call as a search query.
func (c SongCall) Query() string {
	if strings.TrimSpace(c.Artist) == "" {
		return c.Song
	}

	return c.Song + " by " + c.Artist
}

// Directives is the result of scanning generated text.
type Directives struct {
	CleanText string
	Sounds    []SoundCall
	Songs     []SongCall
}

// Media is a located media item.
type Media struct {
	Title string
	URL   string
}

// ConversionRequest describes a voice-conversion job.
type ConversionRequest struct {
	AudioPath    string
	VoiceModelID string
	Transpose    int
}

// Job is a submitted conversion job.
type Job struct {
	ID   string
	Type string
}

// Conversion job states reported by the service.
const (
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// JobStatus is one progress report of a conversion job.
type JobStatus struct {
	Status     string
	Percent    int
	Message    string
	OutputPath string
	Error      string
}

// Failed reports whether the job ended without a result.
func (s JobStatus) Failed() bool {
	return s.Status == JobStatusFailed || s.Error != ""
}

// Completed reports whether the job finished.
func (s JobStatus) Completed() bool {
	return s.Status == JobStatusCompleted
}

// CachedFile is an audio file stored in the song cache.
type CachedFile struct {
	Name    string
	Path    string
	WebPath string
}
