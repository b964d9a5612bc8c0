// internal/recordlog/recordlog.go
package recordlog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/tamzrod/clutch-rig/internal/cycle"
	"github.com/tamzrod/clutch-rig/internal/session"
)

// Writer persists cycle records and fault events as CSV, one pair of
// files per test run. It is a session sink: the core emits, this
// formats and writes.
type Writer struct {
	mu     sync.Mutex
	cycles *os.File
	events *os.File
	cycW   *csv.Writer
	evW    *csv.Writer
}

var cycleHeader = []string{
	"cycle", "outcome", "peak_motor_current_a", "peak_motor_temp_c",
	"target_reached", "started", "ended",
}

var eventHeader = []string{
	"at", "event", "stage", "attempt", "faults",
}

// New creates the record directory and opens timestamped files.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("recordlog: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")

	cycles, err := os.Create(filepath.Join(dir, "cycles_"+stamp+".csv"))
	if err != nil {
		return nil, fmt.Errorf("recordlog: %w", err)
	}
	events, err := os.Create(filepath.Join(dir, "events_"+stamp+".csv"))
	if err != nil {
		cycles.Close()
		return nil, fmt.Errorf("recordlog: %w", err)
	}

	w := &Writer{
		cycles: cycles,
		events: events,
		cycW:   csv.NewWriter(cycles),
		evW:    csv.NewWriter(events),
	}

	w.cycW.Write(cycleHeader)
	w.cycW.Flush()
	w.evW.Write(eventHeader)
	w.evW.Flush()
	// Headerless files help nobody; report a dead disk here instead
	// of failing row by row mid-run.
	if err := w.cycW.Error(); err != nil {
		w.Close()
		return nil, fmt.Errorf("recordlog: cycle header: %w", err)
	}
	if err := w.evW.Error(); err != nil {
		w.Close()
		return nil, fmt.Errorf("recordlog: event header: %w", err)
	}

	return w, nil
}

// CommitCycle appends one cycle record. Flushed immediately: the rig
// may run for days and power can drop at any point.
func (w *Writer) CommitCycle(rec cycle.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := []string{
		strconv.Itoa(rec.Cycle),
		rec.Outcome.String(),
		strconv.FormatFloat(rec.PeakMotorCurrent, 'f', 2, 64),
		strconv.Itoa(rec.PeakMotorTemp),
		strconv.FormatBool(rec.TargetReached),
		rec.Started.Format(time.RFC3339),
		rec.Ended.Format(time.RFC3339),
	}
	if err := w.cycW.Write(row); err != nil {
		log.Printf("[recordlog] cycle write failed: %v", err)
		return
	}
	w.cycW.Flush()
}

// FaultTransition appends one fault event.
func (w *Writer) FaultTransition(ev session.FaultEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	row := []string{
		ev.At.Format(time.RFC3339),
		ev.Kind.String(),
		strconv.Itoa(ev.Stage),
		strconv.Itoa(ev.Attempt),
		ev.Faults.String(),
	}
	if err := w.evW.Write(row); err != nil {
		log.Printf("[recordlog] event write failed: %v", err)
		return
	}
	w.evW.Flush()
}

// Close flushes and closes both files.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.cycW.Flush()
	w.evW.Flush()
	err1 := w.cycles.Close()
	err2 := w.events.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
