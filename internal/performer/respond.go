package performer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/performer-service/internal/core"
	"github.com/book-expert/performer-service/internal/metrics"
)

const (
	thinkingSubtitle  = "Thinking..."
	speechErrorNote   = "Audio playback error. Please see the text response."
	completionFailFmt = "Please tell %s there's a problem with my AI"
)

// Reply is the result of one pass through the response pipeline.
type Reply struct {
	Text    string
	Outcome Outcome
}

// Respond runs one request through the response pipeline.
// Requests that arrive while a song occupies the performer are queued, or
// dropped when they are autonomous. Stall lines may speak while a song is
// still processing.
func (p *Performer) Respond(ctx context.Context, req Request) (Reply, error) {
	return p.respond(ctx, req, false, false)
}

// respond is the response pipeline. reserved means the caller already holds a
// speaking slot; fromQueue puts a bounced request back at the head of the queue.
func (p *Performer) respond(ctx context.Context, req Request, reserved, fromQueue bool) (Reply, error) {
	p.mu.Lock()

	stallAllowed := req.Kind == KindStall && p.processingSong && !p.singing && p.pendingSong == nil
	staleStall := req.Kind == KindStall && !p.processingSong

	if staleStall || (p.songBusyLocked() && !stallAllowed) {
		outcome := Dropped
		if !req.Kind.autonomous() {
			outcome = Queued
			p.enqueueLocked(req, fromQueue)
		}

		phase := p.songPhaseLocked()
		p.mu.Unlock()

		if reserved {
			p.releaseVoice()
		}

		p.log.Info("%s message from %s %s while the song pipeline is %s", req.Kind, req.Username, outcome, phase)
		metrics.Responses.WithLabelValues(outcome.String()).Inc()

		return Reply{Text: "", Outcome: outcome}, nil
	}

	if !reserved {
		p.voices++
	}

	p.lastSpokeAt = time.Now()
	p.mu.Unlock()

	defer p.releaseVoice()

	if !p.acquireVoice(ctx) {
		return Reply{}, fmt.Errorf("waiting to speak: %w", ctx.Err())
	}
	defer p.releaseVoiceLock()

	text, err := p.generate(ctx, req)
	if err != nil {
		metrics.Responses.WithLabelValues("failed").Inc()
		p.recoverFromCompletion(ctx, req, err)

		return Reply{Text: "", Outcome: Admitted}, err
	}

	metrics.Responses.WithLabelValues(Admitted.String()).Inc()

	return Reply{Text: text, Outcome: Admitted}, nil
}

func (p *Performer) acquireVoice(ctx context.Context) bool {
	select {
	case p.voice <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Performer) releaseVoiceLock() {
	<-p.voice
}

// generate streams a completion, acts on its directives, and speaks the clean text.
func (p *Performer) generate(ctx context.Context, req Request) (string, error) {
	contextLine := req.Username + " says: " + req.Text
	p.remember(core.RoleUser, contextLine)
	p.persist(ctx, core.Record{
		Kind:         core.RecordUser,
		Username:     req.Username,
		Content:      req.Text,
		InResponseTo: "",
		AutoTalk:     false,
		CreatedAt:    time.Now(),
	})

	history := p.userHistory(ctx, req)
	turns := p.buildTurns(req, history)

	p.setSubtitle(thinkingSubtitle)
	p.emit(core.EventResetAudio, nil)

	var partial strings.Builder

	full, err := p.deps.Completer.Stream(ctx, turns, func(delta string) {
		partial.WriteString(delta)
		p.setSubtitle(partial.String())
	})
	if err != nil {
		if !errors.Is(err, core.ErrEmptyCompletion) && !errors.Is(err, core.ErrStreamError) {
			err = fmt.Errorf("%w: %w", core.ErrStreamError, err)
		}

		return "", err
	}

	if strings.TrimSpace(full) == "" {
		return "", core.ErrEmptyCompletion
	}

	directives := p.deps.Directives.Extract(full)
	clean := directives.CleanText

	p.setSubtitle(clean)
	p.persist(ctx, core.Record{
		Kind:         core.RecordAssistant,
		Username:     "AI",
		Content:      clean,
		InResponseTo: req.Username,
		AutoTalk:     req.Kind.autonomous(),
		CreatedAt:    time.Now(),
	})
	p.remember(core.RoleAssistant, clean)

	for _, call := range directives.Sounds {
		p.playSound(ctx, call)
	}

	if len(directives.Songs) > 0 {
		p.launchSongCall(directives.Songs[0], req.Username)
	}

	if strings.TrimSpace(clean) != "" {
		speakErr := p.speak(ctx, clean)
		if speakErr != nil {
			p.log.Warn("Continuing with text only: %v", speakErr)
		}
	}

	return clean, nil
}

// recoverFromCompletion records a failed completion and tells the audience.
func (p *Performer) recoverFromCompletion(ctx context.Context, req Request, cause error) {
	p.log.Error("Error generating response for %s: %v", req.Username, cause)
	p.persist(ctx, core.Record{
		Kind:         core.RecordError,
		Username:     req.Username,
		Content:      "response error: " + cause.Error(),
		InResponseTo: req.Text,
		AutoTalk:     req.Kind.autonomous(),
		CreatedAt:    time.Now(),
	})

	owner := p.settings.Owner
	if owner == "" {
		owner = "the streamer"
	}

	line := fmt.Sprintf(completionFailFmt, owner)
	p.setSubtitle(line)

	err := p.deps.Speaker.Speak(ctx, line)
	if err != nil {
		p.log.Error("Error speaking failure notice: %v", err)
	}
}

// launchSongCall starts the song pipeline for a directive found in generated text.
func (p *Performer) launchSongCall(call core.SongCall, username string) {
	intent := core.SongIntent{
		Kind:          core.IntentSong,
		DisplayName:   call.Song,
		Query:         call.Query(),
		Artist:        call.Artist,
		MediaURL:      "",
		MediaID:       "",
		UseMediaTitle: false,
		Transpose:     nil,
	}

	p.goTracked(func(ctx context.Context) {
		result := p.RequestSong(ctx, intent, username)
		if !result.Success {
			p.log.Warn("Song directive %q did not complete: %v", intent.Query, result.Err)
		}
	})
}

// speak synthesizes text with retries. A final failure is recorded and the
// text stays on screen with a note.
func (p *Performer) speak(ctx context.Context, text string) error {
	attempts := max(p.settings.SpeechAttempts, 1)

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = p.deps.Speaker.Speak(ctx, text)
		if lastErr == nil {
			return nil
		}

		p.log.Warn("Speech attempt %d/%d failed: %v", attempt, attempts, lastErr)

		if attempt < attempts && !sleep(ctx, p.settings.SpeechBackoff) {
			break
		}
	}

	metrics.SpeechFailures.Inc()
	p.log.Error("All speech attempts failed: %v", lastErr)
	p.persist(ctx, core.Record{
		Kind:         core.RecordError,
		Username:     "",
		Content:      fmt.Sprintf("speech failed after %d attempts: %v", attempts, lastErr),
		InResponseTo: truncate(text, 100),
		AutoTalk:     false,
		CreatedAt:    time.Now(),
	})
	p.setSubtitle(text + "\n\n(" + speechErrorNote + ")")

	return fmt.Errorf("%w: %w", core.ErrSpeechSynthesisFailed, lastErr)
}

// say shows and speaks a fixed line without the completion service.
func (p *Performer) say(ctx context.Context, text string) {
	if !p.acquireVoice(ctx) {
		return
	}
	defer p.releaseVoiceLock()

	p.setSubtitle(text)

	err := p.speak(ctx, text)
	if err != nil {
		p.log.Warn("Line shown as text only: %v", err)
	}
}

// PlaySound plays a named sound effect in the background with the same
// repetition bound as sound directives in generated text.
func (p *Performer) PlaySound(name string, times int) error {
	_, ok := p.deps.Sounds.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSound, name)
	}

	started := p.goTracked(func(ctx context.Context) {
		p.playSound(ctx, core.SoundCall{Name: name, Times: times})
	})
	if !started {
		return ErrClosed
	}

	return nil
}

// playSound plays one sound directive, bounded to SoundRepeatLimit repetitions.
func (p *Performer) playSound(ctx context.Context, call core.SoundCall) {
	path, ok := p.deps.Sounds.Lookup(call.Name)
	if !ok {
		p.log.Warn("Sound effect %q not found", call.Name)

		return
	}

	times := min(max(call.Times, 1), p.settings.SoundRepeatLimit)

	for i := range times {
		if i > 0 && !sleep(ctx, p.settings.SoundRepeatGap) {
			return
		}

		err := p.deps.Player.Play(ctx, path)
		if err != nil {
			p.log.Error("Error playing sound effect %q: %v", call.Name, err)

			return
		}

		metrics.SoundEffects.Inc()
		p.emit(core.EventSoundEffect, core.SoundEffectPlayed{
			SoundName: call.Name,
			Timestamp: time.Now().UnixMilli(),
		})
	}
}

// remember appends a turn to the conversation window, dropping the oldest past WindowSize.
func (p *Performer) remember(role core.Role, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.window = append(p.window, core.Turn{Role: role, Content: content})
	if excess := len(p.window) - p.settings.WindowSize; excess > 0 {
		p.window = append([]core.Turn(nil), p.window[excess:]...)
	}
}

// persist writes a record. Store failures are logged and swallowed.
func (p *Performer) persist(ctx context.Context, record core.Record) {
	err := p.deps.Store.Append(ctx, record)
	if err != nil {
		p.log.Warn("%v: %v", core.ErrPersistenceFailed, err)
	}
}

func (p *Performer) userHistory(ctx context.Context, req Request) []core.Record {
	if req.Kind != KindChat || req.Username == SystemUser {
		return nil
	}

	history, err := p.deps.Store.Recent(ctx, req.Username, p.settings.HistoryLimit)
	if err != nil {
		p.log.Warn("Skipping history for %s: %v", req.Username, err)

		return nil
	}

	return history
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}

	return string(runes[:limit])
}
