package core

// UI event names.
const (
	EventSubtitle         = "subtitle-update"
	EventResetAudio       = "reset-audio"
	EventSongUpdate       = "song-update"
	EventPlaySong         = "play-converted-song"
	EventSongFinished     = "song-finished"
	EventSoundEffect      = "play-sound-effect"
	EventSoundEffectsList = "sound-effects-updated"
	EventAudioChunk       = "audio-chunk"
	EventAudioFinished    = "audio-finished"
	EventSystemMessage    = "system-message"
)

// SongUpdate reports song pipeline progress.
type SongUpdate struct {
	Title    string `json:"title"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	Error    bool   `json:"error,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

// NowPlaying announces the start of song playback.
type NowPlaying struct {
	Path   string `json:"path"`
	Title  string `json:"title"`
	Direct bool   `json:"direct,omitempty"`
}

// SongFinished announces the end of song playback.
type SongFinished struct {
	Title string `json:"title"`
}

// SoundEffectPlayed mirrors one sound-effect playback.
type SoundEffectPlayed struct {
	SoundName string `json:"soundName"`
	Timestamp int64  `json:"timestamp"`
}

// SoundEffectList carries the current sound library.
type SoundEffectList struct {
	Sounds []string `json:"sounds"`
}

// AudioChunk carries base64 encoded speech audio.
type AudioChunk struct {
	Chunk     string `json:"chunk"`
	Timestamp int64  `json:"timestamp"`
}

// SystemMessage is a connection-level notice.
type SystemMessage struct {
	Text string `json:"text"`
	Time string `json:"time"`
}

// UIEvent is a named UI event with its payload.
type UIEvent struct {
	Name    string
	Payload any
}
