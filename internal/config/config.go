// Package config provides the configuration structure for the performer-service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/performer"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL               string `toml:"url"`
	ChatSubject       string `toml:"chat_subject"`
	EventsSubject     string `toml:"events_subject"`
	SongArchiveBucket string `toml:"song_archive_bucket"`
}

// PerformerConfig holds the persona and conversation settings.
type PerformerConfig struct {
	PersonaPath  string `toml:"persona_path"`
	Owner        string `toml:"owner"`
	VoiceModelID string `toml:"voice_model_id"`
	WindowSize   int    `toml:"window_size"`
	HistoryLimit int    `toml:"history_limit"`
}

// AutoTalkConfig controls autonomous chatter.
type AutoTalkConfig struct {
	Enabled              bool `toml:"enabled"`
	IntervalSeconds      int  `toml:"interval_seconds"`
	VarianceSeconds      int  `toml:"variance_seconds"`
	IdleThresholdSeconds int  `toml:"idle_threshold_seconds"`
}

// TimingsConfig overrides performer delays, in milliseconds. Zero keeps the default.
type TimingsConfig struct {
	SpeechSettleMS   int `toml:"speech_settle_ms"`
	PendingHandoffMS int `toml:"pending_handoff_ms"`
	DrainSettleMS    int `toml:"drain_settle_ms"`
	RecoveryDrainMS  int `toml:"recovery_drain_ms"`
	FirstStallMS     int `toml:"first_stall_ms"`
	StallMinMS       int `toml:"stall_min_ms"`
	StallMaxMS       int `toml:"stall_max_ms"`
}

// CompletionConfig holds the language-model settings. The API key is read
// from the environment variable named by APIKeyEnv.
type CompletionConfig struct {
	BaseURL        string  `toml:"base_url"`
	Model          string  `toml:"model"`
	APIKeyEnv      string  `toml:"api_key_env"`
	MaxTokens      int     `toml:"max_tokens"`
	Temperature    float64 `toml:"temperature"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// Speech backends.
const (
	SpeechBackendHTTP       = "http"
	SpeechBackendElevenLabs = "elevenlabs"
)

// SpeechConfig selects and configures the speech synthesizer.
type SpeechConfig struct {
	Backend        string `toml:"backend"`
	ServiceURL     string `toml:"service_url"`
	SpeakerRefPath string `toml:"speaker_ref_path"`
	Language       string `toml:"language"`
	VoiceID        string `toml:"voice_id"`
	ModelID        string `toml:"model_id"`
	APIKeyEnv      string `toml:"api_key_env"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// MediaConfig configures song search and download.
type MediaConfig struct {
	Binary         string `toml:"binary"`
	DownloadsDir   string `toml:"downloads_dir"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetentionHours int    `toml:"retention_hours"`
}

// ConversionConfig configures the voice-conversion service client.
type ConversionConfig struct {
	APIURL         string `toml:"api_url"`
	Device         string `toml:"device"`
	ModelsPath     string `toml:"models_path"`
	OutputDir      string `toml:"output_dir"`
	WeightsPath    string `toml:"weights_path"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	PollIntervalMS int    `toml:"poll_interval_ms"`
	TransposeLimit int    `toml:"transpose_limit"`
}

// AudioConfig configures local playback.
type AudioConfig struct {
	PlayerBinary string   `toml:"player_binary"`
	PlayerArgs   []string `toml:"player_args"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir     string `toml:"base_logs_dir"`
	AudioCacheDir   string `toml:"audio_cache_dir"`
	SongCacheDir    string `toml:"song_cache_dir"`
	SoundEffectsDir string `toml:"sound_effects_dir"`
	DatabasePath    string `toml:"database_path"`
}

// UIConfig configures the overlay HTTP server.
type UIConfig struct {
	ListenAddr string `toml:"listen_addr"`
	WorkflowID string `toml:"workflow_id"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Performer  PerformerConfig  `toml:"performer"`
	AutoTalk   AutoTalkConfig   `toml:"autotalk"`
	Timings    TimingsConfig    `toml:"timings"`
	Completion CompletionConfig `toml:"completion"`
	Speech     SpeechConfig     `toml:"speech"`
	Media      MediaConfig      `toml:"media"`
	Conversion ConversionConfig `toml:"conversion"`
	Audio      AudioConfig      `toml:"audio"`
	Paths      PathsConfig      `toml:"paths"`
	UI         UIConfig         `toml:"ui"`
}

// Load loads the configuration for the performer-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}

// PerformerSettings converts the configuration into performer settings,
// keeping the defaults for every zero value. The persona is read from
// PersonaPath when one is configured.
func (c *Config) PerformerSettings() (performer.Settings, error) {
	settings := performer.DefaultSettings()

	if c.Performer.PersonaPath != "" {
		persona, err := os.ReadFile(c.Performer.PersonaPath)
		if err != nil {
			return settings, fmt.Errorf("failed to read persona from %s: %w", c.Performer.PersonaPath, err)
		}

		if text := strings.TrimSpace(string(persona)); text != "" {
			settings.Persona = text
		}
	}

	settings.Owner = c.Performer.Owner
	settings.VoiceModelID = c.Performer.VoiceModelID
	setInt(&settings.WindowSize, c.Performer.WindowSize)
	setInt(&settings.HistoryLimit, c.Performer.HistoryLimit)
	setInt(&settings.TransposeLimit, c.Conversion.TransposeLimit)

	settings.AutoTalk.Enabled = c.AutoTalk.Enabled
	setDuration(&settings.AutoTalk.BaseInterval, c.AutoTalk.IntervalSeconds, time.Second)
	setDuration(&settings.AutoTalk.Variance, c.AutoTalk.VarianceSeconds, time.Second)
	setDuration(&settings.AutoTalk.IdleThreshold, c.AutoTalk.IdleThresholdSeconds, time.Second)

	setDuration(&settings.SpeechSettle, c.Timings.SpeechSettleMS, time.Millisecond)
	setDuration(&settings.PendingHandoff, c.Timings.PendingHandoffMS, time.Millisecond)
	setDuration(&settings.DrainSettle, c.Timings.DrainSettleMS, time.Millisecond)
	setDuration(&settings.RecoveryDrain, c.Timings.RecoveryDrainMS, time.Millisecond)
	setDuration(&settings.FirstStall, c.Timings.FirstStallMS, time.Millisecond)
	setDuration(&settings.StallMin, c.Timings.StallMinMS, time.Millisecond)
	setDuration(&settings.StallMax, c.Timings.StallMaxMS, time.Millisecond)
	setDuration(&settings.PollInterval, c.Conversion.PollIntervalMS, time.Millisecond)

	return settings, nil
}

// Secret returns the value of the environment variable envName, or an empty string.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}

	return strings.TrimSpace(os.Getenv(envName))
}

// Seconds converts a whole number of seconds into a duration, or returns fallback for zero.
func Seconds(value int, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}

	return time.Duration(value) * time.Second
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}

func setDuration(dst *time.Duration, value int, unit time.Duration) {
	if value > 0 {
		*dst = time.Duration(value) * unit
	}
}
