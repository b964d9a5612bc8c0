// internal/transport/rtu.go
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"
)

// Config is the serial link configuration.
// The controller speaks Modbus RTU at 115200 8N1, slave address 1.
type Config struct {
	Port     string
	BaudRate int
	SlaveID  uint8
	Timeout  time.Duration

	// Retries is the number of immediate re-sends on timeout or
	// checksum mismatch before the failure surfaces. This is local
	// frame-level retry, unrelated to controller fault recovery.
	Retries int
}

// RTU is the exclusive owner of one serial link.
// All request/response exchanges are serialized through its mutex,
// so telemetry reads and command writes never overlap on the wire.
type RTU struct {
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
	retries int
}

// Open opens the serial port and builds the Modbus RTU client.
func Open(cfg Config) (*RTU, error) {
	if cfg.Port == "" {
		return nil, errors.New("transport: port required")
	}
	if cfg.BaudRate <= 0 {
		return nil, errors.New("transport: baud rate required")
	}

	h := modbus.NewRTUClientHandler(cfg.Port)
	h.BaudRate = cfg.BaudRate
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.SlaveId = cfg.SlaveID
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, &Error{Kind: KindLinkUnavailable, Op: "open " + cfg.Port, Err: err}
	}

	return &RTU{
		handler: h,
		client:  modbus.NewClient(h),
		retries: cfg.Retries,
	}, nil
}

// Close releases the serial port.
func (t *RTU) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler.Close()
}

// Port returns the device path of the underlying link.
func (t *RTU) Port() string {
	return t.handler.Address
}

// ReadRegisters reads qty holding registers starting at addr.
func (t *RTU) ReadRegisters(addr, qty uint16) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := fmt.Sprintf("read %d+%d", addr, qty)

	var raw []byte
	err := t.exchange(op, func() error {
		var e error
		raw, e = t.client.ReadHoldingRegisters(addr, qty)
		return e
	})
	if err != nil {
		return nil, err
	}

	if len(raw) != int(qty)*2 {
		return nil, &Error{
			Kind: KindChecksum,
			Op:   op,
			Err:  fmt.Errorf("payload length %d, want %d", len(raw), qty*2),
		}
	}

	regs := make([]uint16, qty)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return regs, nil
}

// WriteRegister writes one holding register.
func (t *RTU) WriteRegister(addr, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := fmt.Sprintf("write %d", addr)
	return t.exchange(op, func() error {
		_, e := t.client.WriteSingleRegister(addr, value)
		return e
	})
}

// exchange runs one framed request/response with bounded local retry.
// Holding the mutex across retries keeps the exchange atomic with
// respect to other link users.
func (t *RTU) exchange(op string, do func() error) error {
	var err error
	for attempt := 0; attempt <= t.retries; attempt++ {
		err = classify(op, do())
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
	}
	return err
}
