// Package core defines the collaborator contracts and shared types of the performer service.
package core

import "context"

// Completer produces a streamed completion for a conversation.
// onDelta receives every non-empty fragment as it arrives; the accumulated text is returned.
type Completer interface {
	Stream(ctx context.Context, turns []Turn, onDelta func(delta string)) (string, error)
}

// Speaker synthesizes text and plays it locally. It returns only after playback ends.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// MediaSearcher locates a piece of media for a free text query.
type MediaSearcher interface {
	Search(ctx context.Context, query string) (Media, error)
}

// MediaFetcher retrieves located media as a local audio asset.
type MediaFetcher interface {
	Fetch(ctx context.Context, media Media) (string, error)
	ResolveTitle(ctx context.Context, url string) (string, error)
}

// Converter submits and tracks voice-conversion jobs.
// Submit returns ErrConversionUnavailable when the service cannot be reached at all.
type Converter interface {
	Submit(ctx context.Context, req ConversionRequest) (Job, error)
	Progress(ctx context.Context, jobID string) (JobStatus, error)
}

// MessageStore is the durable record of conversation traffic.
type MessageStore interface {
	Append(ctx context.Context, record Record) error
	Recent(ctx context.Context, username string, limit int) ([]Record, error)
}

// Emitter publishes UI events. Delivery is fire-and-forget.
type Emitter interface {
	Emit(event string, payload any)
}

// Player plays a local audio file to completion.
type Player interface {
	Play(ctx context.Context, path string) error
}

// SoundBoard resolves sound-effect names to playable files.
type SoundBoard interface {
	Names() []string
	Lookup(name string) (string, bool)
}

// SongCache stores finished audio under a stable name.
type SongCache interface {
	Store(ctx context.Context, srcPath, name string) (CachedFile, error)
}

// Classifier recognizes song requests in raw chat text.
type Classifier interface {
	Classify(text string) SongIntent
}

// DirectiveExtractor pulls embedded sound and song directives out of generated text.
type DirectiveExtractor interface {
	Extract(text string) Directives
}
