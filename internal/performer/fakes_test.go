package performer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/intent"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/stretchr/testify/require"
)

var (
	errMockSpeak   = errors.New("mock speak error")
	errMockStore   = errors.New("mock store error")
	errMockConvert = errors.New("mock convert error")
)

// mockCompleter answers every request through reply and records the last user turn of each call.
type mockCompleter struct {
	mu       sync.Mutex
	reply    func(lastTurn string) (string, error)
	requests []string
	prompts  []string
}

func (m *mockCompleter) Stream(_ context.Context, turns []core.Turn, onDelta func(string)) (string, error) {
	last := turns[len(turns)-1].Content

	m.mu.Lock()
	m.requests = append(m.requests, last)
	m.prompts = append(m.prompts, turns[0].Content)
	reply := m.reply
	m.mu.Unlock()

	text := "Sure thing!"

	if reply != nil {
		var err error

		text, err = reply(last)
		if err != nil {
			return "", err
		}
	}

	half := len(text) / 2
	onDelta(text[:half])
	onDelta(text[half:])

	return text, nil
}

func (m *mockCompleter) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.requests...)
}

func (m *mockCompleter) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.prompts...)
}

func (m *mockCompleter) RequestIndex(fragment string) int {
	for i, request := range m.Requests() {
		if strings.Contains(request, fragment) {
			return i
		}
	}

	return -1
}

// mockSpeaker records spoken lines. hold, when set, blocks speech until closed.
type mockSpeaker struct {
	mu        sync.Mutex
	hold      chan struct{}
	failTimes int
	calls     int
	spoken    []string
}

func (m *mockSpeaker) Speak(ctx context.Context, text string) error {
	if m.hold != nil {
		select {
		case <-m.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.failTimes < 0 || m.calls <= m.failTimes {
		return errMockSpeak
	}

	m.spoken = append(m.spoken, text)

	return nil
}

func (m *mockSpeaker) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.spoken...)
}

func (m *mockSpeaker) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.calls
}

func (m *mockSpeaker) SpokeContaining(fragment string) bool {
	for _, line := range m.Spoken() {
		if strings.Contains(line, fragment) {
			return true
		}
	}

	return false
}

// mockMedia serves both search and retrieval.
type mockMedia struct {
	mu          sync.Mutex
	dir         string
	searchErr   error
	fetchErr    error
	resolved    string
	queries     []string
	fetchedURLs []string
}

func (m *mockMedia) Search(_ context.Context, query string) (core.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queries = append(m.queries, query)
	if m.searchErr != nil {
		return core.Media{}, m.searchErr
	}

	title, _, _ := strings.Cut(query, " by ")

	return core.Media{Title: title, URL: "https://www.youtube.com/watch?v=abc123"}, nil
}

func (m *mockMedia) Fetch(_ context.Context, media core.Media) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchedURLs = append(m.fetchedURLs, media.URL)
	if m.fetchErr != nil {
		return "", m.fetchErr
	}

	path := filepath.Join(m.dir, "download.webm")

	err := os.WriteFile(path, []byte("audio"), 0o600)
	if err != nil {
		return "", err
	}

	return path, nil
}

func (m *mockMedia) ResolveTitle(_ context.Context, _ string) (string, error) {
	return m.resolved, nil
}

func (m *mockMedia) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.queries...)
}

// mockConverter hands out one job and reports whatever progress returns.
type mockConverter struct {
	mu            sync.Mutex
	submitErr     error
	submitPanics  bool
	progressPanic bool
	progress      func(polls int) (core.JobStatus, error)
	polls         int
	requests      []core.ConversionRequest
}

func (m *mockConverter) Submit(_ context.Context, req core.ConversionRequest) (core.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)
	if m.submitPanics {
		panic("converter crashed on submit")
	}

	if m.submitErr != nil {
		return core.Job{}, m.submitErr
	}

	return core.Job{ID: "job-1", Type: "song"}, nil
}

func (m *mockConverter) Progress(_ context.Context, _ string) (core.JobStatus, error) {
	m.mu.Lock()
	m.polls++
	polls := m.polls
	progress := m.progress
	panics := m.progressPanic
	m.mu.Unlock()

	if panics {
		panic("converter crashed while polling")
	}

	if progress == nil {
		return core.JobStatus{Status: "processing", Percent: 10}, nil
	}

	return progress(polls)
}

func (m *mockConverter) Requests() []core.ConversionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]core.ConversionRequest(nil), m.requests...)
}

// mockStore keeps records in memory.
type mockStore struct {
	mu         sync.Mutex
	appendFail bool
	records    []core.Record
}

func (m *mockStore) Append(_ context.Context, record core.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.appendFail {
		return errMockStore
	}

	m.records = append(m.records, record)

	return nil
}

func (m *mockStore) Recent(_ context.Context, username string, limit int) ([]core.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []core.Record

	for _, record := range m.records {
		if record.Kind == core.RecordUser && record.Username == username {
			matched = append(matched, record)
		}
	}

	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	return matched, nil
}

func (m *mockStore) Kinds() []core.RecordKind {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := make([]core.RecordKind, 0, len(m.records))
	for _, record := range m.records {
		kinds = append(kinds, record.Kind)
	}

	return kinds
}

type emitted struct {
	name    string
	payload any
}

// mockEmitter records UI events.
type mockEmitter struct {
	mu     sync.Mutex
	events []emitted
}

func (m *mockEmitter) Emit(event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, emitted{name: event, payload: payload})
}

func (m *mockEmitter) Payloads(name string) []any {
	m.mu.Lock()
	defer m.mu.Unlock()

	var payloads []any

	for _, event := range m.events {
		if event.name == name {
			payloads = append(payloads, event.payload)
		}
	}

	return payloads
}

func (m *mockEmitter) SongUpdates() []core.SongUpdate {
	var updates []core.SongUpdate

	for _, payload := range m.Payloads(core.EventSongUpdate) {
		updates = append(updates, payload.(core.SongUpdate))
	}

	return updates
}

// mockPlayer records playback.
type mockPlayer struct {
	mu     sync.Mutex
	err    error
	played []string
}

func (m *mockPlayer) Play(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.played = append(m.played, path)

	return nil
}

func (m *mockPlayer) Played() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.played...)
}

type mockSounds map[string]string

func (m mockSounds) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}

	return names
}

func (m mockSounds) Lookup(name string) (string, bool) {
	path, ok := m[name]

	return path, ok
}

// mockCache pretends to copy files into a cache directory.
type mockCache struct {
	dir string
}

func (m *mockCache) Store(_ context.Context, _ string, name string) (core.CachedFile, error) {
	return core.CachedFile{
		Name:    name,
		Path:    filepath.Join(m.dir, name),
		WebPath: "/song-cache/" + name,
	}, nil
}

type harness struct {
	performer *performer.Performer
	completer *mockCompleter
	speaker   *mockSpeaker
	media     *mockMedia
	converter *mockConverter
	store     *mockStore
	emitter   *mockEmitter
	player    *mockPlayer
}

func fastSettings() performer.Settings {
	settings := performer.DefaultSettings()
	settings.Owner = "streamer"
	settings.AutoTalk.Enabled = false
	settings.QuietPeriod = 0
	settings.SpeechSettle = 5 * time.Millisecond
	settings.PendingHandoff = 5 * time.Millisecond
	settings.DrainSettle = 10 * time.Millisecond
	settings.RecoveryDrain = 5 * time.Millisecond
	settings.PollInterval = 5 * time.Millisecond
	settings.FirstStall = time.Hour
	settings.StallMin = time.Hour
	settings.StallMax = time.Hour
	settings.SpeechBackoff = time.Millisecond
	settings.SoundRepeatGap = time.Millisecond

	return settings
}

func newHarness(t *testing.T, settings performer.Settings, configure func(h *harness)) *harness {
	t.Helper()

	dir := t.TempDir()

	h := &harness{
		performer: nil,
		completer: &mockCompleter{},
		speaker:   &mockSpeaker{},
		media:     &mockMedia{dir: dir},
		converter: &mockConverter{},
		store:     &mockStore{},
		emitter:   &mockEmitter{},
		player:    &mockPlayer{},
	}

	if configure != nil {
		configure(h)
	}

	testLogger, err := logger.New(dir, "performer-test.log")
	require.NoError(t, err)

	p, err := performer.New(performer.Deps{
		Completer:  h.completer,
		Speaker:    h.speaker,
		Searcher:   h.media,
		Fetcher:    h.media,
		Converter:  h.converter,
		Store:      h.store,
		Emitter:    h.emitter,
		Player:     h.player,
		Sounds:     mockSounds{"vineboom": filepath.Join(dir, "vineboom.mp3")},
		Cache:      &mockCache{dir: dir},
		Classifier: intent.NewClassifier(settings.TransposeLimit),
		Directives: intent.NewExtractor(),
	}, settings, testLogger)
	require.NoError(t, err)

	h.performer = p

	t.Cleanup(func() {
		p.Close()

		closeErr := testLogger.Close()
		if closeErr != nil {
			t.Logf("closing test logger: %v", closeErr)
		}
	})

	return h
}

// watchExclusion samples the context and fails the test if speaking and
// singing, or processing and singing, are ever observed together.
func watchExclusion(t *testing.T, p *performer.Performer) func() {
	t.Helper()

	done := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		for {
			select {
			case <-done:
				return
			default:
			}

			snap := p.Snapshot()
			if snap.Speaking && snap.Singing {
				t.Errorf("speaking and singing observed together")
			}

			if snap.ProcessingSong && snap.Singing {
				t.Errorf("processing and singing observed together")
			}

			time.Sleep(200 * time.Microsecond)
		}
	}()

	return func() {
		close(done)
		<-finished
	}
}

func outputFile(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "converted.mp3")
	require.NoError(t, os.WriteFile(path, []byte("converted"), 0o600))

	return path
}

func isIdle(p *performer.Performer) bool {
	snap := p.Snapshot()

	return !snap.Speaking && !snap.ProcessingSong && !snap.Singing && !snap.QueueDraining &&
		snap.PendingSong == "" && len(snap.Queue) == 0
}
