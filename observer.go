package bufferpool

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc"
)

// StartObserver launches a background goroutine that logs Available()
// and the current hit rate every interval, until ctx is canceled. It
// samples via peekHitRate rather than the public HitRate, since the
// latter resets its counters on every read and would otherwise corrupt
// the window for any other caller of Pool.HitRate while the observer
// runs. It returns a stop function that blocks until the goroutine has
// exited (or recovered from a panic, which conc.WaitGroup converts into
// a panic re-raised from stop rather than a silently dead goroutine).
func (p *Pool) StartObserver(ctx context.Context, interval time.Duration) (stop func()) {
	var wg conc.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				slog.Info(logPrefix+"observer",
					"available", p.Available(),
					"hitRate", p.peekHitRate())
			}
		}
	})
	return wg.Wait
}
