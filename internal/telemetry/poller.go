// internal/telemetry/poller.go
package telemetry

import (
	"errors"
	"time"
)

// Source produces one telemetry snapshot per call.
// The poller depends on this contract only.
type Source interface {
	ReadTelemetry(at time.Time) (Snapshot, error)
}

// Config is the minimal runtime config the poller needs.
type Config struct {
	Interval time.Duration

	// MaxMissed consecutive failed polls mark the link as suspect.
	MaxMissed int
}

// Poller is a clock-driven reader with stale-value carry-over.
type Poller struct {
	cfg    Config
	src    Source
	latest Snapshot
	have   bool
	missed int
}

// New creates a poller with immutable config.
func New(cfg Config, src Source) (*Poller, error) {
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.MaxMissed <= 0 {
		return nil, errors.New("poller: max missed must be > 0")
	}
	if src == nil {
		return nil, errors.New("poller: source required")
	}
	return &Poller{cfg: cfg, src: src}, nil
}

// Interval returns the configured poll period.
func (p *Poller) Interval() time.Duration { return p.cfg.Interval }

// MaxMissed returns the missed-poll budget. Consumers compare it
// against Result.Missed rather than asking the poller for a verdict:
// the poller's own counters belong to its goroutine alone.
func (p *Poller) MaxMissed() int { return p.cfg.MaxMissed }

// PollOnce performs exactly one poll cycle.
// On failure the last-known snapshot is returned with Stale set.
func (p *Poller) PollOnce(now time.Time) Result {
	snap, err := p.src.ReadTelemetry(now)
	if err != nil {
		p.missed++
		return Result{
			At:       now,
			Snapshot: p.latest,
			Stale:    true,
			Missed:   p.missed,
			Err:      err,
		}
	}

	p.latest = snap
	p.have = true
	p.missed = 0
	return Result{At: now, Snapshot: snap}
}

// Latest returns the last successful snapshot, if any.
func (p *Poller) Latest() (Snapshot, bool) {
	return p.latest, p.have
}
