// internal/discovery/discovery.go
package discovery

import (
	"context"
	"errors"
	"log"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/tamzrod/clutch-rig/internal/transport"
)

// ErrNoControllerFound means no enumerated port answered the probe
// within the discovery timeout.
var ErrNoControllerFound = errors.New("discovery: no controller found")

// Probe opens one candidate port, performs a minimal read, and closes
// it again. A nil return accepts the candidate.
type Probe func(port string) error

// Config controls one discovery pass.
type Config struct {
	// Preferred is tried first when set (configured or last-known port).
	Preferred string

	// Timeout bounds the whole pass across all candidates.
	Timeout time.Duration
}

// listPorts is swappable for tests; hardware enumeration otherwise.
var listPorts = enumerator.GetDetailedPortsList

// Discover enumerates serial-capable devices and returns the first
// port whose probe yields a well-formed response. It is stateless and
// safe to re-run after link loss.
func Discover(ctx context.Context, cfg Config, probe Probe) (string, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	candidates, err := candidatePorts(cfg.Preferred)
	if err != nil {
		return "", err
	}

	for _, port := range candidates {
		if err := ctx.Err(); err != nil {
			return "", ErrNoControllerFound
		}

		if err := probe(port); err != nil {
			log.Printf("[discovery] probe %s failed: %v", port, err)
			continue
		}

		log.Printf("[discovery] controller found on %s", port)
		return port, nil
	}

	return "", ErrNoControllerFound
}

// candidatePorts orders enumerated ports: preferred first, then USB
// devices, then the rest.
func candidatePorts(preferred string) ([]string, error) {
	details, err := listPorts()
	if err != nil {
		return nil, err
	}

	var usb, other []string
	for _, d := range details {
		if d.Name == preferred {
			continue
		}
		if d.IsUSB {
			usb = append(usb, d.Name)
		} else {
			other = append(other, d.Name)
		}
	}

	var out []string
	if preferred != "" {
		out = append(out, preferred)
	}
	out = append(out, usb...)
	out = append(out, other...)
	return out, nil
}

// RegisterProbe builds a Probe that opens the port with the rig's
// serial settings and reads a single known register (the fault
// register is always readable). Low risk: no state is written.
func RegisterProbe(base transport.Config, faultReg uint16) Probe {
	return func(port string) error {
		cfg := base
		cfg.Port = port
		cfg.Retries = 0 // one shot per candidate

		tr, err := transport.Open(cfg)
		if err != nil {
			return err
		}
		defer tr.Close()

		_, err = tr.ReadRegisters(faultReg, 1)
		return err
	}
}
