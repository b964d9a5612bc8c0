// internal/telemetry/poller_test.go
package telemetry

import (
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	snap Snapshot
	err  error
}

func (f *fakeSource) ReadTelemetry(at time.Time) (Snapshot, error) {
	if f.err != nil {
		return Snapshot{}, f.err
	}
	s := f.snap
	s.At = at
	return s, nil
}

func newTestPoller(t *testing.T, src Source) *Poller {
	t.Helper()
	p, err := New(Config{Interval: 500 * time.Millisecond, MaxMissed: 3}, src)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return p
}

func TestPollOnce_Success(t *testing.T) {
	src := &fakeSource{snap: Snapshot{RPM: 300}}
	p := newTestPoller(t, src)

	res := p.PollOnce(time.Now())
	if res.Err != nil {
		t.Fatalf("PollOnce err=%v", res.Err)
	}
	if res.Stale {
		t.Errorf("fresh poll marked stale")
	}
	if res.Snapshot.RPM != 300 {
		t.Errorf("RPM = %d, want 300", res.Snapshot.RPM)
	}
}

func TestPollOnce_StaleCarryOver(t *testing.T) {
	src := &fakeSource{snap: Snapshot{RPM: 300}}
	p := newTestPoller(t, src)

	p.PollOnce(time.Now())

	src.err = errors.New("timeout")
	res := p.PollOnce(time.Now())
	if res.Err == nil {
		t.Fatalf("expected error on failed poll")
	}
	if !res.Stale {
		t.Errorf("failed poll not marked stale")
	}
	if res.Snapshot.RPM != 300 {
		t.Errorf("stale snapshot RPM = %d, want last-known 300", res.Snapshot.RPM)
	}
	if res.Missed != 1 {
		t.Errorf("missed = %d, want 1", res.Missed)
	}
}

func TestMissedPollCounting(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	p := newTestPoller(t, src)

	for i := 1; i <= 3; i++ {
		res := p.PollOnce(time.Now())
		if res.Missed != i {
			t.Fatalf("missed = %d after %d failures, want %d", res.Missed, i, i)
		}
	}
	if p.MaxMissed() != 3 {
		t.Fatalf("MaxMissed() = %d, want configured 3", p.MaxMissed())
	}

	// one good poll resets the count
	src.err = nil
	if res := p.PollOnce(time.Now()); res.Missed != 0 {
		t.Fatalf("missed = %d after successful poll, want 0", res.Missed)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{Interval: 0, MaxMissed: 3}, &fakeSource{}); err == nil {
		t.Errorf("expected error for zero interval")
	}
	if _, err := New(Config{Interval: time.Second, MaxMissed: 0}, &fakeSource{}); err == nil {
		t.Errorf("expected error for zero max missed")
	}
	if _, err := New(Config{Interval: time.Second, MaxMissed: 3}, nil); err == nil {
		t.Errorf("expected error for nil source")
	}
}
