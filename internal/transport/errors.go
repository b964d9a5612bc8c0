// internal/transport/errors.go
package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"
)

// Kind partitions transport failures by how callers must react:
// timeouts and checksum mismatches are retryable, a dead link is not.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindChecksum
	KindLinkUnavailable

	// KindException is a controller-reported Modbus exception.
	// It is a well-formed response, not a link problem.
	KindException
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindChecksum:
		return "checksum mismatch"
	case KindLinkUnavailable:
		return "link unavailable"
	case KindException:
		return "controller exception"
	default:
		return "unknown"
	}
}

// Error wraps a low-level serial/Modbus failure with its kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a bounded-wait expiry.
func IsTimeout(err error) bool { return hasKind(err, KindTimeout) }

// IsChecksum reports whether err is a rejected malformed frame.
func IsChecksum(err error) bool { return hasKind(err, KindChecksum) }

// IsLinkDown reports whether err means the serial link is gone
// and the session must return to port discovery.
func IsLinkDown(err error) bool { return hasKind(err, KindLinkUnavailable) }

func hasKind(err error, k Kind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == k
}

func retryable(err error) bool {
	return IsTimeout(err) || IsChecksum(err)
}

// classify maps goburrow/serial and goburrow/modbus failures onto the
// transport taxonomy. Unknown errors are treated as a dead link: the
// safe reaction to anything unexplained is re-discovery.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	kind := KindLinkUnavailable

	var mbErr *modbus.ModbusError
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, serial.ErrTimeout), strings.Contains(msg, "timeout"):
		kind = KindTimeout
	case errors.As(err, &mbErr):
		kind = KindException
	case strings.Contains(msg, "crc"):
		kind = KindChecksum
	case strings.Contains(msg, "modbus:"):
		// Malformed but decodable frame (length/count mismatch).
		// Rejected, never corrected; retry like a checksum failure.
		kind = KindChecksum
	case errors.Is(err, io.EOF),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, syscall.ENXIO),
		errors.Is(err, syscall.EIO):
		kind = KindLinkUnavailable
	}

	return &Error{Kind: kind, Op: op, Err: err}
}
