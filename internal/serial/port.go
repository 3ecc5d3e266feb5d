// Package serial binds a gimbal link to a serial device.
package serial

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	tarm "github.com/tarm/serial"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 2 * time.Second
)

// ErrTransportUnavailable is returned when no serial connection is bound.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Config for a serial port
type Config struct {
	Device      string        // e.g. "/dev/ttyUSB0"
	Baud        int           // default 115200
	ReadTimeout time.Duration // default 2s
}

// Port is a byte-oriented serial connection with a fixed read timeout.
type Port struct {
	name    string
	timeout time.Duration

	mu sync.Mutex
	rw io.ReadWriteCloser
}

// Open opens the configured device.
func Open(cfg Config) (*Port, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("%w: no serial device configured", ErrTransportUnavailable)
	}
	if cfg.Baud == 0 {
		cfg.Baud = DefaultBaud
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	p, err := tarm.OpenPort(&tarm.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		Parity:      tarm.ParityNone,
		ReadTimeout: cfg.ReadTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrTransportUnavailable, cfg.Device, err)
	}
	return NewPort(cfg.Device, p, cfg.ReadTimeout), nil
}

// NewPort wraps an already open connection. rw may be nil, in which case
// every operation reports ErrTransportUnavailable.
func NewPort(name string, rw io.ReadWriteCloser, timeout time.Duration) *Port {
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	return &Port{name: name, rw: rw, timeout: timeout}
}

// Name returns the device path.
func (p *Port) Name() string { return p.name }

// Transmit writes the whole buffer.
func (p *Port) Transmit(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rw == nil {
		return fmt.Errorf("%w: %s is not open", ErrTransportUnavailable, p.name)
	}
	for len(b) > 0 {
		n, err := p.rw.Write(b)
		if err != nil {
			return fmt.Errorf("serial write %s: %w", p.name, err)
		}
		b = b[n:]
	}
	return nil
}

// Receive reads until n bytes arrived or the read timeout elapsed, and
// returns whatever was read. A short result is not an error.
func (p *Port) Receive(n int) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rw == nil {
		return nil, fmt.Errorf("%w: %s is not open", ErrTransportUnavailable, p.name)
	}
	if n < 0 {
		return nil, fmt.Errorf("serial read %s: negative length %d", p.name, n)
	}

	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(p.timeout)
	for got < n {
		m, err := p.rw.Read(buf[got:])
		got += m
		if err != nil {
			// the driver reports an expired read timeout as EOF
			if errors.Is(err, io.EOF) {
				break
			}
			return buf[:got], fmt.Errorf("serial read %s: %w", p.name, err)
		}
		if time.Now().After(deadline) {
			break
		}
	}
	return buf[:got], nil
}

// Close closes the underlying connection.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.rw == nil {
		return nil
	}
	err := p.rw.Close()
	p.rw = nil
	return err
}
