package performer

import (
	"context"
	"math/rand/v2"
	"time"
)

// SetAutoTalk enables or disables autonomous chatter. Disabling cancels the
// pending timer; enabling starts a fresh chain.
func (p *Performer) SetAutoTalk(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.autoTalk.Enabled = enabled
	if enabled {
		p.scheduleAutoTalkLocked()

		return
	}

	p.autoTalkTimer.cancel()
	p.autoTalkTimer = nil
}

// ToggleAutoTalk flips autonomous chatter and returns the new state.
func (p *Performer) ToggleAutoTalk() bool {
	p.mu.Lock()
	enabled := !p.autoTalk.Enabled
	p.mu.Unlock()

	p.SetAutoTalk(enabled)

	return enabled
}

func (p *Performer) scheduleAutoTalkLocked() {
	p.autoTalkTimer.cancel()
	p.autoTalkTimer = nil

	if !p.autoTalk.Enabled {
		return
	}

	delay := p.autoTalk.BaseInterval
	if spread := p.autoTalk.Variance; spread > 0 {
		delay += rand.N(2*spread) - spread
	}

	p.autoTalkTimer = p.after(max(delay, 0), p.autoTalkFired)
}

// autoTalkFired decides whether idle chatter should happen now. While a song
// is processing it produces a stall line instead.
func (p *Performer) autoTalkFired(ctx context.Context) {
	p.mu.Lock()

	now := time.Now()
	skip := p.singing ||
		(p.processingSong && p.processingTitle == "") ||
		p.voices > 0 ||
		p.pendingSong != nil ||
		!p.autoTalk.Enabled ||
		now.Sub(p.lastChatAt) < p.autoTalk.IdleThreshold ||
		now.Sub(p.lastSpokeAt) < p.settings.QuietPeriod

	if skip {
		p.scheduleAutoTalkLocked()
		p.mu.Unlock()

		return
	}

	stalling := p.processingSong
	title := p.processingTitle
	elapsed := now.Sub(p.songStartedAt)
	p.mu.Unlock()

	if stalling {
		p.runStall(ctx, title, elapsed)
	} else {
		p.log.Info("Generating autonomous speech")

		_, err := p.Respond(ctx, Request{Text: autoTalkLine(), Username: SystemUser, Kind: KindAutonomous})
		if err != nil {
			p.log.Warn("Autonomous line failed: %v", err)
		}
	}

	p.mu.Lock()
	p.scheduleAutoTalkLocked()
	p.mu.Unlock()
}

// armStallLocked replaces the stall timer. Callbacks of replaced timers are
// recognised by their generation and do nothing.
func (p *Performer) armStallLocked(d time.Duration) {
	p.stallTimer.cancel()
	p.stallGen++

	gen := p.stallGen
	p.stallTimer = p.after(d, func(ctx context.Context) {
		p.stallFired(ctx, gen)
	})
}

func (p *Performer) nextStallDelay() time.Duration {
	spread := p.settings.StallMax - p.settings.StallMin
	if spread <= 0 {
		return p.settings.StallMin
	}

	return p.settings.StallMin + rand.N(spread)
}

func (p *Performer) stallFired(ctx context.Context, gen uint64) {
	p.mu.Lock()
	if gen != p.stallGen || p.stallTimer == nil {
		p.mu.Unlock()

		return
	}

	p.stallTimer = nil

	if !p.processingSong || p.pendingSong != nil {
		p.mu.Unlock()

		return
	}

	if p.voices > 0 {
		p.armStallLocked(p.nextStallDelay())
		p.mu.Unlock()

		return
	}

	title := p.processingTitle
	elapsed := time.Since(p.songStartedAt)
	p.mu.Unlock()

	p.runStall(ctx, title, elapsed)
}

// runStall speaks one stall line and re-arms the chain while the song is still processing.
func (p *Performer) runStall(ctx context.Context, title string, elapsed time.Duration) {
	p.log.Info("Sending stall message for %q, %s into processing", title, elapsed.Round(time.Second))

	_, err := p.Respond(ctx, Request{Text: p.stallLine(title, elapsed), Username: SystemUser, Kind: KindStall})
	if err != nil {
		p.log.Warn("Stall line failed: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.processingSong && p.pendingSong == nil {
		p.armStallLocked(p.nextStallDelay())
	}
}
