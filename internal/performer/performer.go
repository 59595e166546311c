// Package performer implements the orchestration engine of the performer service.
//
// A Performer owns the single shared performer context: who is speaking, which
// song is being prepared or sung, the FIFO request queue, and the timers that
// drive idle chatter and stall commentary. Every check-and-mutate sequence on
// that context runs under one mutex; collaborator calls never do.
package performer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
)

// SystemUser is the username attached to lines the performer generates for itself.
const SystemUser = "System"

// ErrMissingDependency indicates that a required collaborator was not supplied.
var ErrMissingDependency = errors.New("missing performer dependency")

var (
	// ErrUnknownSound is returned when a requested sound effect is not in the library.
	ErrUnknownSound = errors.New("unknown sound effect")
	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("performer is closed")
)

// Deps bundles the collaborators of a Performer.
type Deps struct {
	Completer  core.Completer
	Speaker    core.Speaker
	Searcher   core.MediaSearcher
	Fetcher    core.MediaFetcher
	Converter  core.Converter
	Store      core.MessageStore
	Emitter    core.Emitter
	Player     core.Player
	Sounds     core.SoundBoard
	Cache      core.SongCache
	Classifier core.Classifier
	Directives core.DirectiveExtractor
}

func (d Deps) validate() error {
	required := map[string]any{
		"completer":  d.Completer,
		"speaker":    d.Speaker,
		"searcher":   d.Searcher,
		"fetcher":    d.Fetcher,
		"converter":  d.Converter,
		"store":      d.Store,
		"emitter":    d.Emitter,
		"player":     d.Player,
		"sounds":     d.Sounds,
		"cache":      d.Cache,
		"classifier": d.Classifier,
		"directives": d.Directives,
	}

	for name, dep := range required {
		if dep == nil {
			return fmt.Errorf("%w: %s", ErrMissingDependency, name)
		}
	}

	return nil
}

// CurrentSong is the song being sung.
type CurrentSong struct {
	Title string
	Path  string
}

type readySong struct {
	jobID      string
	title      string
	username   string
	outputPath string
	direct     bool
	cached     *core.CachedFile
}

// Performer is the shared performer context plus the pipelines that mutate it.
type Performer struct {
	deps     Deps
	settings Settings
	log      *logger.Logger

	mu                 sync.Mutex
	voices             int
	processingSong     bool
	singing            bool
	queueDraining      bool
	lastSpokeAt        time.Time
	lastChatAt         time.Time
	autoTalk           AutoTalkSettings
	processingTitle    string
	processingProgress int
	songStartedAt      time.Time
	currentSong        *CurrentSong
	pendingSong        *readySong
	stallTimer         *timer
	stallGen           uint64
	autoTalkTimer      *timer
	queue              []Request
	window             []core.Turn
	subtitle           string

	// voice serializes actual speech between concurrently admitted lines.
	voice chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	lifeMu   sync.Mutex
	closed   bool
	routines sync.WaitGroup
}

// New creates a Performer. Start must be called to begin autonomous chatter.
func New(deps Deps, settings Settings, log *logger.Logger) (*Performer, error) {
	err := deps.validate()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Performer{
		deps:     deps,
		settings: settings,
		log:      log,
		autoTalk: settings.AutoTalk,
		voice:    make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start arms the autonomous chatter chain when it is enabled.
func (p *Performer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scheduleAutoTalkLocked()
}

// Close cancels every timer and waits for in-flight work to finish.
func (p *Performer) Close() {
	p.lifeMu.Lock()
	p.closed = true
	p.lifeMu.Unlock()

	p.mu.Lock()
	p.stallTimer.cancel()
	p.stallTimer = nil
	p.autoTalkTimer.cancel()
	p.autoTalkTimer = nil
	p.mu.Unlock()

	p.cancel()
	p.routines.Wait()
}

// Snapshot is a copy of the performer context.
type Snapshot struct {
	Speaking           bool
	ProcessingSong     bool
	Singing            bool
	QueueDraining      bool
	AutoTalkEnabled    bool
	ProcessingTitle    string
	ProcessingProgress int
	CurrentSong        *CurrentSong
	PendingSong        string
	StallScheduled     bool
	Queue              []Request
	Window             []core.Turn
	Subtitle           string
	LastSpokeAt        time.Time
	LastChatAt         time.Time
}

// Snapshot returns a consistent copy of the performer context.
func (p *Performer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := Snapshot{
		Speaking:           p.voices > 0,
		ProcessingSong:     p.processingSong,
		Singing:            p.singing,
		QueueDraining:      p.queueDraining,
		AutoTalkEnabled:    p.autoTalk.Enabled,
		ProcessingTitle:    p.processingTitle,
		ProcessingProgress: p.processingProgress,
		StallScheduled:     p.stallTimer != nil,
		Queue:              append([]Request(nil), p.queue...),
		Window:             append([]core.Turn(nil), p.window...),
		Subtitle:           p.subtitle,
		LastSpokeAt:        p.lastSpokeAt,
		LastChatAt:         p.lastChatAt,
	}

	if p.currentSong != nil {
		song := *p.currentSong
		snap.CurrentSong = &song
	}

	if p.pendingSong != nil {
		snap.PendingSong = p.pendingSong.title
	}

	return snap
}

// ReplayEvents returns the events a newly connected UI needs to catch up.
func (p *Performer) ReplayEvents() []core.UIEvent {
	snap := p.Snapshot()

	replay := []core.UIEvent{{
		Name: core.EventSystemMessage,
		Payload: core.SystemMessage{
			Text: "Connected to server",
			Time: time.Now().Format(time.TimeOnly),
		},
	}}

	if snap.Subtitle != "" {
		replay = append(replay, core.UIEvent{Name: core.EventSubtitle, Payload: snap.Subtitle})
	}

	if snap.Singing && snap.CurrentSong != nil {
		replay = append(replay, core.UIEvent{
			Name:    core.EventPlaySong,
			Payload: core.NowPlaying{Path: snap.CurrentSong.Path, Title: snap.CurrentSong.Title},
		})
	}

	if snap.ProcessingSong && snap.ProcessingTitle != "" {
		replay = append(replay, core.UIEvent{
			Name: core.EventSongUpdate,
			Payload: core.SongUpdate{
				Title:    snap.ProcessingTitle,
				Status:   "Processing...",
				Progress: snap.ProcessingProgress,
			},
		})
	}

	return replay
}

// emit publishes a UI event. It must never be called with p.mu held.
func (p *Performer) emit(event string, payload any) {
	p.deps.Emitter.Emit(event, payload)
}

func (p *Performer) setSubtitle(text string) {
	p.mu.Lock()
	p.subtitle = text
	p.mu.Unlock()

	p.emit(core.EventSubtitle, text)
}

// songBusyLocked reports whether a song occupies the performer.
func (p *Performer) songBusyLocked() bool {
	return p.processingSong || p.singing || p.pendingSong != nil
}

func (p *Performer) songPhaseLocked() string {
	switch {
	case p.singing:
		return "singing"
	case p.pendingSong != nil:
		return "waiting to play"
	case p.processingSong:
		return "processing"
	default:
		return "idle"
	}
}

// busyLocked is the admission test for chat and queue draining.
func (p *Performer) busyLocked() bool {
	return p.voices > 0 || p.queueDraining || p.songBusyLocked()
}

// goTracked runs fn on a goroutine that Close waits for.
func (p *Performer) goTracked(fn func(ctx context.Context)) bool {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()

	if p.closed {
		return false
	}

	p.routines.Add(1)

	go func() {
		defer p.routines.Done()

		fn(p.ctx)
	}()

	return true
}

// sleep waits for d or until ctx ends. It reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
