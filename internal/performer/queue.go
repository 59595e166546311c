package performer

import (
	"context"
	"time"

	"github.com/book-expert/performer-service/internal/metrics"
)

// Kind classifies a request to the response pipeline.
type Kind int

// Request kinds.
const (
	// KindChat is a viewer message.
	KindChat Kind = iota
	// KindSystem is a line the performer was told to say about its own activity.
	KindSystem
	// KindAutonomous is idle chatter. It is dropped, never queued, when the performer is busy.
	KindAutonomous
	// KindStall fills dead air while a song is being prepared and may speak during processing.
	KindStall
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSystem:
		return "system"
	case KindAutonomous:
		return "autonomous"
	case KindStall:
		return "stall"
	default:
		return "unknown"
	}
}

func (k Kind) autonomous() bool {
	return k == KindAutonomous || k == KindStall
}

// Request is one unit of work for the response pipeline.
type Request struct {
	Text     string
	Username string
	Kind     Kind
}

// Outcome reports what happened to a request at admission.
type Outcome int

// Admission outcomes.
const (
	Admitted Outcome = iota
	Queued
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Admitted:
		return "admitted"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// QueueLen returns the number of waiting requests.
func (p *Performer) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.queue)
}

// ClearQueue discards every waiting request and returns how many were removed.
func (p *Performer) ClearQueue() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	removed := len(p.queue)
	p.queue = nil
	metrics.QueueDepth.Set(0)

	return removed
}

func (p *Performer) enqueueLocked(req Request, atHead bool) {
	if atHead {
		p.queue = append([]Request{req}, p.queue...)
	} else {
		p.queue = append(p.queue, req)
	}

	metrics.QueueDepth.Set(float64(len(p.queue)))
}

// drainNext dispatches the head of the queue when the performer is free.
// Drains are serialized by queueDraining; a non-empty queue afterwards is
// resumed after DrainSettle rather than synchronously.
func (p *Performer) drainNext(ctx context.Context) {
	p.mu.Lock()
	if p.busyLocked() || len(p.queue) == 0 {
		p.mu.Unlock()

		return
	}

	p.queueDraining = true
	next := p.queue[0]
	p.queue = p.queue[1:]
	p.voices++
	metrics.QueueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()

	p.log.Info("Processing queued message from %s", next.Username)

	_, err := p.respond(ctx, next, true, true)
	if err != nil {
		p.log.Error("Queued message from %s failed: %v", next.Username, err)
	}

	p.mu.Lock()
	p.queueDraining = false
	more := len(p.queue) > 0
	p.mu.Unlock()

	if more {
		p.scheduleDrain(p.settings.DrainSettle)
	}
}

// scheduleDrain arms a one-shot queue drain. The drain re-checks every busy flag when it fires.
func (p *Performer) scheduleDrain(d time.Duration) {
	p.after(d, p.drainNext)
}

// releaseVoice ends one speaking slot. When the last voice goes quiet a
// pending song is handed to playback, otherwise the queue is resumed.
func (p *Performer) releaseVoice() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.voices--
	if p.voices > 0 {
		return
	}

	p.lastSpokeAt = time.Now()

	if p.pendingSong != nil {
		pending := p.pendingSong
		p.log.Info("Speaking finished, playing pending song %q", pending.title)
		p.after(p.settings.PendingHandoff, func(ctx context.Context) {
			p.handOff(ctx, pending)
		})

		return
	}

	p.after(p.settings.SpeechSettle, p.drainNext)
}
