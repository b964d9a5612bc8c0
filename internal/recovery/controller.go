// internal/recovery/controller.go
package recovery

import (
	"errors"
	"log"
	"time"

	"github.com/tamzrod/clutch-rig/internal/faults"
)

// Stage is one tier of the escalating retry schedule.
type Stage struct {
	Attempts int
	Interval time.Duration
}

// DefaultSchedule is the 4-stage escalation: 5 attempts each at
// 60 s, 5 min, 15 min and 30 min. 20 attempts total before the
// recovery is declared terminal.
func DefaultSchedule() []Stage {
	return []Stage{
		{Attempts: 5, Interval: time.Minute},
		{Attempts: 5, Interval: 5 * time.Minute},
		{Attempts: 5, Interval: 15 * time.Minute},
		{Attempts: 5, Interval: 30 * time.Minute},
	}
}

// Ops is what the controller needs from the register client.
type Ops interface {
	ClearFaults() error
	ReadFaults() (faults.Set, error)
}

// Status is the result of one recovery tick.
type Status int

const (
	StatusIdle Status = iota
	StatusActive
	StatusCleared
	StatusExhausted
)

// State is the externally visible recovery state; it exists only
// while recovery is active.
type State struct {
	Stage      int        `json:"stage"`   // 1-based
	Attempt    int        `json:"attempt"` // 1-based within the stage
	Since      time.Time  `json:"since"`
	NextAction time.Time  `json:"next_action"`
	Faults     faults.Set `json:"faults"`
}

type mode int

const (
	modeInitialWait mode = iota
	modeSettling
	modeIntervalWait
)

// Controller executes the escalating fault-clear schedule.
// It is tick-driven: all waiting is deadline checks against the
// caller's clock, so a stop request is never stuck behind a
// 30-minute interval.
type Controller struct {
	schedule    []Stage
	initialWait time.Duration
	settle      time.Duration
	ops         Ops

	active   bool
	stageIdx int
	attempt  int // 0-based attempts already begun in this stage
	mode     mode
	deadline time.Time
	since    time.Time
	current  faults.Set
}

// New builds an inactive controller.
func New(schedule []Stage, initialWait, settle time.Duration, ops Ops) (*Controller, error) {
	if len(schedule) == 0 {
		return nil, errors.New("recovery: schedule required")
	}
	for _, s := range schedule {
		if s.Attempts <= 0 || s.Interval <= 0 {
			return nil, errors.New("recovery: stage attempts and interval must be positive")
		}
	}
	if ops == nil {
		return nil, errors.New("recovery: ops required")
	}
	if settle <= 0 {
		settle = time.Second
	}
	return &Controller{
		schedule:    schedule,
		initialWait: initialWait,
		settle:      settle,
		ops:         ops,
	}, nil
}

// Active reports whether recovery currently holds command authority.
func (c *Controller) Active() bool { return c.active }

// State returns the current escalation state while active.
func (c *Controller) State() (State, bool) {
	if !c.active {
		return State{}, false
	}
	return State{
		Stage:      c.stageIdx + 1,
		Attempt:    c.attempt + 1,
		Since:      c.since,
		NextAction: c.deadline,
		Faults:     c.current,
	}, true
}

// Begin activates recovery for a debounced fault set.
func (c *Controller) Begin(now time.Time, fs faults.Set) {
	c.active = true
	c.stageIdx = 0
	c.attempt = 0
	c.mode = modeInitialWait
	c.deadline = now.Add(c.initialWait)
	c.since = now
	c.current = fs
	log.Printf("[recovery] started for faults: %s (first attempt in %v)", fs, c.initialWait)
}

// Tick advances the schedule. latest is the fault set decoded from
// the most recent poll; a clean poll observed during an interval
// wait ends recovery early, exactly like a clean re-read.
func (c *Controller) Tick(now time.Time, latest faults.Set) (Status, error) {
	if !c.active {
		return StatusIdle, nil
	}

	if !latest.Empty() {
		c.current = latest
	}

	switch c.mode {
	case modeInitialWait:
		if now.Before(c.deadline) {
			return StatusActive, nil
		}
		return c.attemptClear(now)

	case modeSettling:
		if now.Before(c.deadline) {
			return StatusActive, nil
		}
		fs, err := c.ops.ReadFaults()
		if err != nil {
			// Could not verify; treat as still faulted and wait out
			// the stage interval before the next attempt.
			log.Printf("[recovery] fault re-read failed: %v", err)
			c.armInterval(now)
			return StatusActive, nil
		}
		if fs.Empty() {
			return c.succeed(), nil
		}
		c.current = fs
		c.armInterval(now)
		return StatusActive, nil

	case modeIntervalWait:
		if latest.Empty() {
			return c.succeed(), nil
		}
		if now.Before(c.deadline) {
			return StatusActive, nil
		}
		c.attempt++
		if c.attempt >= c.schedule[c.stageIdx].Attempts {
			c.stageIdx++
			c.attempt = 0
			if c.stageIdx >= len(c.schedule) {
				c.active = false
				log.Printf("[recovery] schedule exhausted, faults persist: %s", c.current)
				return StatusExhausted, nil
			}
			log.Printf("[recovery] escalating to stage %d", c.stageIdx+1)
		}
		return c.attemptClear(now)
	}

	return StatusActive, nil
}

// attemptClear issues the fault-clear command and arms the settle
// window before re-reading.
func (c *Controller) attemptClear(now time.Time) (Status, error) {
	log.Printf("[recovery] stage %d attempt %d: clearing faults",
		c.stageIdx+1, c.attempt+1)

	err := c.ops.ClearFaults()
	if err != nil {
		log.Printf("[recovery] clear command failed: %v", err)
	}

	c.mode = modeSettling
	c.deadline = now.Add(c.settle)
	return StatusActive, err
}

func (c *Controller) armInterval(now time.Time) {
	interval := c.schedule[c.stageIdx].Interval
	c.mode = modeIntervalWait
	c.deadline = now.Add(interval)
	log.Printf("[recovery] faults persist (%s), next attempt in %v", c.current, interval)
}

func (c *Controller) succeed() Status {
	log.Printf("[recovery] faults cleared at stage %d attempt %d",
		c.stageIdx+1, c.attempt+1)
	c.active = false
	return StatusCleared
}
