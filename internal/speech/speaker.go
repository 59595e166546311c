// Package speech turns reply text into audible speech.
//
// A Speaker normalizes the text, asks a Synthesizer for a clip, writes the
// clip into the audio cache, mirrors it to the UI, and plays it locally.
// Synthesizers are the HTTP TTS service client and the ElevenLabs backend.
package speech

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/fileutil"
	"github.com/book-expert/performer-service/internal/speech/text"
)

const (
	clipPrefix  = "tts_"
	clipNameFmt = clipPrefix + "%d_%d%s"
)

// Clip is synthesized audio and the file extension matching its encoding.
type Clip struct {
	Audio []byte
	Ext   string
}

// Synthesizer produces audio for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Clip, error)
}

// Speaker implements core.Speaker.
type Speaker struct {
	synth      Synthesizer
	normalizer *text.Normalizer
	player     core.Player
	emitter    core.Emitter
	dir        string
	clips      atomic.Uint64
	log        *logger.Logger
}

// NewSpeaker creates a Speaker that keeps its clips in dir.
func NewSpeaker(synth Synthesizer, player core.Player, emitter core.Emitter, dir string, log *logger.Logger) (*Speaker, error) {
	err := fileutil.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare audio cache: %w", err)
	}

	return &Speaker{
		synth:      synth,
		normalizer: text.NewNormalizer(),
		player:     player,
		emitter:    emitter,
		dir:        dir,
		log:        log,
	}, nil
}

// Speak synthesizes and plays text. It returns after playback ends.
func (s *Speaker) Speak(ctx context.Context, line string) error {
	spoken := s.normalizer.Normalize(line)
	if spoken == "" {
		s.log.Info("Nothing speakable in %q", line)

		return nil
	}

	clip, err := s.synth.Synthesize(ctx, spoken)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSpeechSynthesisFailed, err)
	}

	name := fmt.Sprintf(clipNameFmt, time.Now().UnixMilli(), s.clips.Add(1), clip.Ext)
	path := filepath.Join(s.dir, name)

	err = os.WriteFile(path, clip.Audio, 0o600)
	if err != nil {
		return fmt.Errorf("%w: writing clip: %w", core.ErrSpeechSynthesisFailed, err)
	}

	s.emitter.Emit(core.EventAudioChunk, core.AudioChunk{
		Chunk:     base64.StdEncoding.EncodeToString(clip.Audio),
		Timestamp: time.Now().UnixMilli(),
	})

	err = s.player.Play(ctx, path)

	s.emitter.Emit(core.EventAudioFinished, nil)

	if err != nil {
		return fmt.Errorf("%w: playing clip: %w", core.ErrSpeechSynthesisFailed, err)
	}

	return nil
}

// CleanStale removes clips left behind by a previous run and returns how many were removed.
func (s *Speaker) CleanStale() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log.Warn("Failed to list audio cache %s: %v", s.dir, err)

		return 0
	}

	removed := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), clipPrefix) {
			continue
		}

		removeErr := os.Remove(filepath.Join(s.dir, entry.Name()))
		if removeErr != nil {
			s.log.Warn("Failed to remove stale clip %s: %v", entry.Name(), removeErr)

			continue
		}

		removed++
	}

	return removed
}
