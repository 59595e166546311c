package performer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/performer-service/internal/core"
)

// ChatMessage is one incoming chat event.
type ChatMessage struct {
	Username  string
	Text      string
	Moderator bool
}

const (
	helpText            = "I'm an AI performer for this stream. Chat with me normally, ask me to sing with !sing <song>, or try !hello."
	autoTalkOnText      = "Auto-talk feature enabled. I will speak on my own occasionally."
	autoTalkOffText     = "Auto-talk feature disabled. I will only speak when spoken to."
	autoTalkDeniedFmt   = "Sorry %s, only moderators can control the auto-talk feature."
	clearQueueFmt       = "Message queue cleared. %d messages removed."
	clearQueueDeniedFmt = "Sorry %s, only moderators can clear the message queue."
)

// HandleChat admits a chat message. A busy performer queues it; otherwise the
// message is dispatched on its own goroutine while holding a speaking slot
// reserved here, so nothing else can be admitted in between.
func (p *Performer) HandleChat(msg ChatMessage) Outcome {
	p.mu.Lock()
	p.lastChatAt = time.Now()

	if p.busyLocked() {
		p.enqueueLocked(Request{Text: msg.Text, Username: msg.Username, Kind: KindChat}, false)
		p.mu.Unlock()

		p.log.Info("%s's message queued because the performer is busy", msg.Username)

		return Queued
	}

	p.voices++
	p.mu.Unlock()

	started := p.goTracked(func(ctx context.Context) {
		p.dispatch(ctx, msg)
	})
	if !started {
		p.releaseVoice()

		return Dropped
	}

	return Admitted
}

// dispatch routes an admitted message: song requests first, then control
// commands, then the response pipeline. It owns one reserved speaking slot.
func (p *Performer) dispatch(ctx context.Context, msg ChatMessage) {
	intent := p.deps.Classifier.Classify(msg.Text)
	if intent.IsSong() {
		p.handleSongIntent(ctx, msg, intent)

		return
	}

	if strings.HasPrefix(strings.TrimSpace(msg.Text), "!") && p.handleCommand(ctx, msg) {
		return
	}

	_, err := p.respond(ctx, Request{Text: msg.Text, Username: msg.Username, Kind: KindChat}, true, false)
	if err != nil {
		p.log.Error("Response to %s failed: %v", msg.Username, err)
	}
}

func (p *Performer) handleSongIntent(ctx context.Context, msg ChatMessage, intent core.SongIntent) {
	title := songTitle(intent)
	directMedia := intent.Kind == core.IntentDirectMedia

	p.log.Info("Detected song request %q from %s", title, msg.Username)

	// A second slot keeps the floor between the acknowledgement and the
	// moment the song pipeline marks itself as processing.
	p.mu.Lock()
	p.voices++
	p.mu.Unlock()

	var claimOnce sync.Once

	claimed := func() { claimOnce.Do(p.releaseVoice) }
	defer claimed()

	if directMedia {
		p.setSubtitle(msg.Username + " requested a YouTube video")
	} else {
		p.setSubtitle(fmt.Sprintf("%s requested a song: %s", msg.Username, title))
	}

	_, err := p.respond(ctx, Request{Text: songAckLine(title, directMedia), Username: SystemUser, Kind: KindSystem}, true, false)
	if err != nil {
		p.log.Warn("Song acknowledgement failed: %v", err)
	}

	result := p.requestSong(ctx, intent, msg.Username, claimed)
	if !result.Success {
		p.log.Warn("Song request %q from %s failed: %v", title, msg.Username, result.Err)
		p.setSubtitle("Song request failed")
	}
}

// handleCommand runs a control command and reports whether it was recognised.
func (p *Performer) handleCommand(ctx context.Context, msg ChatMessage) bool {
	fields := strings.Fields(msg.Text)
	command := strings.ToLower(fields[0])

	switch command {
	case "!hello":
		p.sayReserved(ctx, fmt.Sprintf("Hello, %s!", msg.Username))
	case "!help":
		p.sayReserved(ctx, helpText)
	case "!autotalk":
		if !p.authorized(msg) {
			p.sayReserved(ctx, fmt.Sprintf(autoTalkDeniedFmt, msg.Username))

			return true
		}

		enabled := p.applyAutoTalk(fields[1:])
		if enabled {
			p.sayReserved(ctx, autoTalkOnText)
		} else {
			p.sayReserved(ctx, autoTalkOffText)
		}
	case "!clearqueue":
		if !p.authorized(msg) {
			p.sayReserved(ctx, fmt.Sprintf(clearQueueDeniedFmt, msg.Username))

			return true
		}

		removed := p.ClearQueue()
		p.log.Info("%s cleared the queue (%d removed)", msg.Username, removed)
		p.sayReserved(ctx, fmt.Sprintf(clearQueueFmt, removed))
	default:
		return false
	}

	return true
}

func (p *Performer) applyAutoTalk(args []string) bool {
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "on":
			p.SetAutoTalk(true)

			return true
		case "off":
			p.SetAutoTalk(false)

			return false
		}
	}

	return p.ToggleAutoTalk()
}

func (p *Performer) authorized(msg ChatMessage) bool {
	if msg.Moderator {
		return true
	}

	return p.settings.Owner != "" && strings.EqualFold(msg.Username, p.settings.Owner)
}

// sayReserved speaks a fixed line on the slot reserved at admission, then releases it.
func (p *Performer) sayReserved(ctx context.Context, text string) {
	defer p.releaseVoice()

	p.say(ctx, text)
}
