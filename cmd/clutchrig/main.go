// cmd/clutchrig/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tamzrod/clutch-rig/internal/config"
	"github.com/tamzrod/clutch-rig/internal/cycle"
	"github.com/tamzrod/clutch-rig/internal/discovery"
	"github.com/tamzrod/clutch-rig/internal/recordlog"
	"github.com/tamzrod/clutch-rig/internal/recovery"
	"github.com/tamzrod/clutch-rig/internal/registers"
	"github.com/tamzrod/clutch-rig/internal/session"
	"github.com/tamzrod/clutch-rig/internal/statusserver"
	"github.com/tamzrod/clutch-rig/internal/telemetry"
	"github.com/tamzrod/clutch-rig/internal/transport"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	portFlag := flag.String("port", "", "serial port (skips auto-discovery)")
	cyclesFlag := flag.Int("cycles", 0, "override target cycle count (-1 = unbounded)")
	listenFlag := flag.String("listen", "", "override status server listen address")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Println("[main] clutch rig starting")

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Printf("[main] no config at %s, using defaults", *configPath)
			cfg = config.Default()
		} else {
			log.Fatalf("config load failed: %v", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}
	config.Normalize(cfg)

	if *portFlag != "" {
		cfg.Rig.Serial.Port = *portFlag
	}
	if *cyclesFlag != 0 {
		cfg.Rig.Test.TargetCycles = *cyclesFlag
	}
	if *listenFlag != "" {
		cfg.Rig.Status.Listen = *listenFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- sinks ----

	var sinks []session.Sink
	if cfg.Rig.Records.Enabled {
		rl, err := recordlog.New(cfg.Rig.Records.Dir)
		if err != nil {
			log.Fatalf("record log: %v", err)
		}
		defer rl.Close()
		sinks = append(sinks, rl)
	}

	// ---- status server ----

	r := &rig{cfg: sessionConfig(cfg)}
	if cfg.Rig.Status.Listen != "" {
		srv := statusserver.New(cfg.Rig.Status.Listen, r)
		go func() {
			if err := srv.Run(ctx); err != nil {
				log.Printf("[main] status server: %v", err)
			}
		}()
	}

	// ---- discovery / session loop ----
	//
	// Link loss ends a session; the loop re-runs discovery and
	// rebuilds the stack without a process restart. Only the very
	// first discovery failing is fatal: once a controller has been
	// seen, the rig keeps retrying with backoff until it comes back.

	backoff := time.Second
	linked := false
	for ctx.Err() == nil {
		port, err := resolvePort(ctx, cfg)
		if err != nil {
			if !linked {
				log.Fatalf("port discovery failed: %v", err)
			}
			log.Printf("[main] discovery failed: %v, retrying in %v", err, backoff)
			if !sleepCtx(ctx, backoff) {
				break
			}
			backoff = nextBackoff(backoff)
			continue
		}

		tr, err := transport.Open(serialConfig(cfg, port))
		if err != nil {
			log.Printf("[main] open %s failed: %v, retrying in %v", port, err, backoff)
			if !sleepCtx(ctx, backoff) {
				break
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = time.Second
		linked = true

		relost, err := runOnLink(ctx, cfg, tr, r, sinks)
		tr.Close()
		if err != nil {
			log.Fatalf("session failed: %v", err)
		}
		if relost && ctx.Err() == nil {
			log.Println("[main] link lost, re-acquiring controller")
			continue
		}
		break
	}

	log.Println("[main] shutdown complete")
}

// nextBackoff doubles the retry delay up to a 30 s ceiling.
func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// sleepCtx waits out d unless the process is shutting down.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// runOnLink drives one link's worth of test sessions. Returns true
// when the link died and discovery must re-run.
func runOnLink(ctx context.Context, cfg *config.Config, tr *transport.RTU, r *rig, sinks []session.Sink) (bool, error) {
	client, err := registers.NewClient(tr, cfg.Rig.Registers)
	if err != nil {
		return false, err
	}

	poller, err := telemetry.New(telemetry.Config{
		Interval:  time.Duration(cfg.Rig.Poll.IntervalMs) * time.Millisecond,
		MaxMissed: cfg.Rig.Poll.MaxMissed,
	}, client)
	if err != nil {
		return false, err
	}

	sess, err := session.New(client, poller, sinks...)
	if err != nil {
		return false, err
	}
	r.set(sess)

	if err := sess.Start(r.cfg); err != nil {
		return false, err
	}

	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			return false, nil
		case <-sess.Done():
		}

		if errors.Is(sess.Err(), session.ErrLinkLost) {
			return true, nil
		}

		// Test finished on a healthy link. Without a status server
		// there is nobody left to start another run.
		if cfg.Rig.Status.Listen == "" {
			return false, nil
		}

		// Keep serving status; the operator may start another run
		// through the API, which re-arms sess.Done().
		if !waitRestart(ctx, sess) {
			return false, nil
		}
	}
}

// waitRestart blocks until the operator starts a new run or the
// process is told to shut down. Returns false on shutdown.
func waitRestart(ctx context.Context, sess *session.Session) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Second):
			if sess.Status().Running {
				return true
			}
		}
	}
}

func resolvePort(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.Rig.Serial.Port != "" {
		return cfg.Rig.Serial.Port, nil
	}

	probe := discovery.RegisterProbe(serialConfig(cfg, ""), cfg.Rig.Registers.Fault1)
	return discovery.Discover(ctx, discovery.Config{
		Timeout: time.Duration(cfg.Rig.Serial.DiscoveryTimeoutMs) * time.Millisecond,
	}, probe)
}

func serialConfig(cfg *config.Config, port string) transport.Config {
	return transport.Config{
		Port:     port,
		BaudRate: cfg.Rig.Serial.BaudRate,
		SlaveID:  cfg.Rig.Serial.SlaveID,
		Timeout:  time.Duration(cfg.Rig.Serial.TimeoutMs) * time.Millisecond,
		Retries:  cfg.Rig.Serial.Retries,
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	t := cfg.Rig.Test
	rec := cfg.Rig.Recovery

	schedule := make([]recovery.Stage, 0, len(rec.Stages))
	for _, st := range rec.Stages {
		schedule = append(schedule, recovery.Stage{
			Attempts: st.Attempts,
			Interval: time.Duration(st.IntervalS) * time.Second,
		})
	}

	return session.Config{
		Params: cycle.Params{
			TargetRPM:           t.TargetRPM,
			ForwardTorquePct:    t.ForwardTorquePct,
			ReverseTorquePct:    t.ReverseTorquePct,
			ForwardDuration:     time.Duration(t.ForwardDurationMs) * time.Millisecond,
			ReverseDuration:     time.Duration(t.ReverseDurationMs) * time.Millisecond,
			TargetCycles:        t.TargetCycles,
			RPMTolerance:        t.RPMTolerance,
			ReverseRPMThreshold: t.ReverseRPMThreshold,
			HaltOnClutchFailure: t.OnClutchFailure == "halt",
		},
		Limits: session.Limits{
			MaxMotorCurrentA:     t.MaxMotorCurrentA,
			MaxBrakeCurrentA:     t.MaxBrakeCurrentA,
			MaxBatteryCurrentA:   t.MaxBatteryCurrentA,
			RegenBatteryCurrentA: t.RegenBatteryCurrentA,
		},
		Schedule:      schedule,
		InitialWait:   time.Duration(rec.InitialWaitS) * time.Second,
		Settle:        time.Duration(rec.SettleMs) * time.Millisecond,
		DebouncePolls: rec.DebouncePolls,
	}
}

// rig bridges the status server to the currently active session.
type rig struct {
	mu   sync.Mutex
	sess *session.Session
	cfg  session.Config
}

func (r *rig) set(s *session.Session) {
	r.mu.Lock()
	r.sess = s
	r.mu.Unlock()
}

func (r *rig) current() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *rig) Status() session.Status {
	if s := r.current(); s != nil {
		return s.Status()
	}
	return session.Status{}
}

func (r *rig) StartTest() error {
	s := r.current()
	if s == nil {
		return errors.New("rig: no controller link")
	}
	return s.Start(r.cfg)
}

func (r *rig) StopTest() {
	if s := r.current(); s != nil {
		s.Stop()
	}
}
