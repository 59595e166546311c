package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/audio"
	"github.com/book-expert/performer-service/internal/broadcast"
	"github.com/book-expert/performer-service/internal/cache"
	"github.com/book-expert/performer-service/internal/completion"
	"github.com/book-expert/performer-service/internal/config"
	"github.com/book-expert/performer-service/internal/conversion"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/intent"
	"github.com/book-expert/performer-service/internal/media"
	"github.com/book-expert/performer-service/internal/objectstore"
	"github.com/book-expert/performer-service/internal/performer"
	"github.com/book-expert/performer-service/internal/soundboard"
	"github.com/book-expert/performer-service/internal/speech"
	"github.com/book-expert/performer-service/internal/store"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultSpeechTimeout = 60 * time.Second

// ErrUnknownSpeechBackend is returned when [speech].backend names no known synthesizer.
var ErrUnknownSpeechBackend = errors.New("unknown speech backend")

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// soundTrigger plays a named sound effect on request.
type soundTrigger interface {
	PlaySound(name string, times int) error
}

type playSoundRequest struct {
	Sound string `json:"sound"`
	Times int    `json:"times"`
}

type playSoundReply struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// services holds every collaborator the performer is built from.
type services struct {
	natsConnection *nats.Conn
	store          *store.SQLiteStore
	hub            *broadcast.Hub
	emitter        core.Emitter
	songs          *cache.SongCache
	sounds         *soundboard.Board
	player         *audio.Player
	speaker        *speech.Speaker
	downloader     *media.Downloader
	converter      *conversion.Client
	completer      *completion.Client
	trigger        soundTrigger
	log            *logger.Logger
}

func buildServices(ctx context.Context, cfg *config.Config, log *logger.Logger) (*services, error) {
	svc := &services{log: log}

	err := svc.connect(ctx, cfg)
	if err != nil {
		svc.Close()

		return nil, err
	}

	err = svc.buildMedia(ctx, cfg)
	if err != nil {
		svc.Close()

		return nil, err
	}

	return svc, nil
}

// connect opens the message store, NATS and the UI channels.
func (s *services) connect(ctx context.Context, cfg *config.Config) error {
	var err error

	s.store, err = store.Open(ctx, cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open message store: %w", err)
	}

	userCount, countErr := s.store.Count(ctx, core.RecordUser)
	if countErr == nil {
		s.log.Info("Message store ready with %d chat messages", userCount)
	}

	s.natsConnection, err = nats.Connect(cfg.NATS.URL, nats.Name("performer-service"))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	var archive cache.Archive

	if cfg.NATS.SongArchiveBucket != "" {
		songArchive, archiveErr := s.openArchive(ctx, cfg.NATS.SongArchiveBucket)
		if archiveErr != nil {
			return archiveErr
		}

		archive = songArchive
	}

	s.songs, err = cache.New(cfg.Paths.SongCacheDir, archive, s.log)
	if err != nil {
		return err
	}

	workflowID := cfg.UI.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	s.hub = broadcast.NewHub(workflowID, s.log)
	s.emitter = s.hub

	if cfg.NATS.EventsSubject != "" {
		s.emitter = broadcast.Fanout{s.hub, broadcast.NewPublisher(s.natsConnection, cfg.NATS.EventsSubject, workflowID, s.log)}
	}

	return nil
}

func (s *services) openArchive(ctx context.Context, bucket string) (*objectstore.SongArchive, error) {
	jetstreamContext, err := s.natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	songArchive, err := objectstore.New(jetstreamContext, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open song archive: %w", err)
	}

	archived, listErr := songArchive.List(ctx)
	if listErr == nil {
		s.log.Info("Song archive %s holds %d songs", bucket, len(archived))
	}

	return songArchive, nil
}

// buildMedia creates playback, speech, sound, download, conversion and completion clients.
func (s *services) buildMedia(ctx context.Context, cfg *config.Config) error {
	var err error

	s.player, err = audio.NewPlayer(cfg.Audio.PlayerBinary, cfg.Audio.PlayerArgs)
	if err != nil {
		return fmt.Errorf("failed to create audio player: %w", err)
	}

	synth, err := newSynthesizer(cfg.Speech)
	if err != nil {
		return err
	}

	if checker, ok := synth.(healthChecker); ok {
		healthErr := checker.HealthCheck(ctx)
		if healthErr != nil {
			s.log.Warn("Speech service is not healthy yet: %v", healthErr)
		}
	}

	s.speaker, err = speech.NewSpeaker(synth, s.player, s.emitter, cfg.Paths.AudioCacheDir, s.log)
	if err != nil {
		return err
	}

	s.log.Info("Removed %d stale speech clips", s.speaker.CleanStale())

	s.sounds, err = soundboard.New(cfg.Paths.SoundEffectsDir, s.emitter, s.log)
	if err != nil {
		return err
	}

	s.downloader, err = media.New(media.Config{
		Binary:  cfg.Media.Binary,
		Dir:     cfg.Media.DownloadsDir,
		Timeout: config.Seconds(cfg.Media.TimeoutSeconds, 0),
	}, s.log)
	if err != nil {
		return err
	}

	if cfg.Media.RetentionHours > 0 {
		purged := s.downloader.Purge(time.Duration(cfg.Media.RetentionHours) * time.Hour)
		s.log.Info("Purged %d old downloads", purged)
	}

	s.converter = conversion.New(conversion.Config{
		BaseURL:     cfg.Conversion.APIURL,
		Device:      cfg.Conversion.Device,
		ModelsPath:  cfg.Conversion.ModelsPath,
		OutputDir:   cfg.Conversion.OutputDir,
		WeightsPath: cfg.Conversion.WeightsPath,
		Timeout:     config.Seconds(cfg.Conversion.TimeoutSeconds, 0),
	}, s.log)

	s.completer = completion.New(completion.Config{
		BaseURL:     cfg.Completion.BaseURL,
		APIKey:      config.Secret(cfg.Completion.APIKeyEnv),
		Model:       cfg.Completion.Model,
		MaxTokens:   cfg.Completion.MaxTokens,
		Temperature: float32(cfg.Completion.Temperature),
		Timeout:     config.Seconds(cfg.Completion.TimeoutSeconds, 0),
	}, s.log)

	return nil
}

func newSynthesizer(cfg config.SpeechConfig) (speech.Synthesizer, error) {
	timeout := config.Seconds(cfg.TimeoutSeconds, defaultSpeechTimeout)

	switch cfg.Backend {
	case "", config.SpeechBackendHTTP:
		return speech.NewHTTPClient(cfg.ServiceURL, cfg.SpeakerRefPath, cfg.Language, timeout), nil
	case config.SpeechBackendElevenLabs:
		synth, err := speech.NewElevenLabs(config.Secret(cfg.APIKeyEnv), cfg.VoiceID, cfg.ModelID, timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create ElevenLabs synthesizer: %w", err)
		}

		return synth, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSpeechBackend, cfg.Backend)
	}
}

func (s *services) deps(settings performer.Settings) performer.Deps {
	return performer.Deps{
		Completer:  s.completer,
		Speaker:    s.speaker,
		Searcher:   s.downloader,
		Fetcher:    s.downloader,
		Converter:  s.converter,
		Store:      s.store,
		Emitter:    s.emitter,
		Player:     s.player,
		Sounds:     s.sounds,
		Cache:      s.songs,
		Classifier: intent.NewClassifier(settings.TransposeLimit),
		Directives: intent.NewExtractor(),
	}
}

// routes serves the overlay websocket, cached songs, the sound board and metrics.
func (s *services) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.Handle(cache.WebPrefix, s.songs.Handler())
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/sound-effects", s.handleSoundEffects)
	mux.HandleFunc("/sound-effects/play", s.handlePlaySound)

	return mux
}

func (s *services) handleSoundEffects(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	err := json.NewEncoder(w).Encode(core.SoundEffectList{Sounds: s.sounds.Names()})
	if err != nil {
		s.log.Warn("Failed to write sound-effect list: %v", err)
	}
}

// handlePlaySound plays {sound, times} from the overlay's sound board.
func (s *services) handlePlaySound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		s.writePlayReply(w, http.StatusMethodNotAllowed, "method not allowed")

		return
	}

	var req playSoundRequest

	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil || req.Sound == "" {
		s.writePlayReply(w, http.StatusBadRequest, "sound name is required")

		return
	}

	if req.Times <= 0 {
		req.Times = 1
	}

	err = s.trigger.PlaySound(req.Sound, req.Times)

	switch {
	case errors.Is(err, performer.ErrUnknownSound):
		s.writePlayReply(w, http.StatusNotFound, fmt.Sprintf("sound %q not found", req.Sound))
	case err != nil:
		s.log.Warn("Failed to play sound effect %q: %v", req.Sound, err)
		s.writePlayReply(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.writePlayReply(w, http.StatusOK, "")
	}
}

func (s *services) writePlayReply(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(playSoundReply{Success: status == http.StatusOK, Error: message})
	if err != nil {
		s.log.Warn("Failed to write play-sound reply: %v", err)
	}
}

// Close releases the store and the NATS connection.
func (s *services) Close() {
	if s.natsConnection != nil {
		drainErr := s.natsConnection.Drain()
		if drainErr != nil {
			s.log.Warn("Failed to drain NATS connection: %v", drainErr)
		}
	}

	if s.store != nil {
		closeErr := s.store.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close message store: %v", closeErr)
		}
	}
}
