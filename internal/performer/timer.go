package performer

import (
	"context"
	"sync"
	"time"
)

// timer is a cancellable one-shot callback. A cancelled timer never fires.
type timer struct {
	stop chan struct{}
	once sync.Once
}

func (t *timer) cancel() {
	if t == nil {
		return
	}

	t.once.Do(func() { close(t.stop) })
}

// after schedules fn to run once d has elapsed. The returned handle is nil
// when the performer is already closed.
func (p *Performer) after(d time.Duration, fn func(ctx context.Context)) *timer {
	t := &timer{stop: make(chan struct{})}

	started := p.goTracked(func(ctx context.Context) {
		wait := time.NewTimer(d)
		defer wait.Stop()

		select {
		case <-wait.C:
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		}

		// A cancel racing with expiry still wins.
		select {
		case <-t.stop:
			return
		default:
		}

		fn(ctx)
	})
	if !started {
		return nil
	}

	return t
}
