// internal/telemetry/runner.go
package telemetry

import (
	"context"
	"time"
)

// Run starts the ticker loop and emits one Result per tick.
// Single goroutine; polls never overlap.
func (p *Poller) Run(ctx context.Context, out chan<- Result) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			select {
			case out <- p.PollOnce(now):
			case <-ctx.Done():
				return
			}
		}
	}
}
