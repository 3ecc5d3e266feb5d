package gimbal

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/metrics"
	"gimbal-remote/internal/serial"
	"gimbal-remote/internal/tpu"
)

// ErrShortRead matches a *ShortReadError.
var ErrShortRead = errors.New("short read")

// ShortReadError reports a reply that ended before the expected length.
type ShortReadError struct {
	Want int
	Got  int
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: got %d of %d bytes", e.Got, e.Want)
}

func (e *ShortReadError) Is(target error) bool { return target == ErrShortRead }

// Transport is the byte pipe to the gimbal. Receive blocks until n bytes
// arrived or the transport's read timeout elapsed and may return fewer.
type Transport interface {
	Transmit(p []byte) error
	Receive(n int) ([]byte, error)
}

// Config tunes the request/reply exchange.
type Config struct {
	// Settle is the wait between transmitting a frame and reading the reply.
	Settle time.Duration
	// QueryReplyLen is the number of bytes read after a query command.
	QueryReplyLen int
	// ControlReplyLen is the number of bytes drained after a control
	// command. Zero skips the read.
	ControlReplyLen int
}

// Validate rejects negative timings and reply lengths.
func (c Config) Validate() error {
	switch {
	case c.Settle < 0:
		return fmt.Errorf("negative settle interval %s", c.Settle)
	case c.QueryReplyLen < 0:
		return fmt.Errorf("negative query reply length %d", c.QueryReplyLen)
	case c.ControlReplyLen < 0:
		return fmt.Errorf("negative control reply length %d", c.ControlReplyLen)
	}
	return nil
}

// DefaultConfig returns the timings the gimbal firmware expects.
func DefaultConfig() Config {
	return Config{
		Settle:          50 * time.Millisecond,
		QueryReplyLen:   4,
		ControlReplyLen: 32,
	}
}

// Link drives one gimbal over one transport.
type Link struct {
	mu        sync.Mutex
	transport Transport
	cfg       Config
	log       *zap.Logger
	metrics   *metrics.LinkMetrics
	sleep     func(time.Duration)

	lastChecksum string
}

// Option configures a Link.
type Option func(*Link)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(k *Link) { k.log = logging.OrNop(l) }
}

// WithMetrics records link traffic in m.
func WithMetrics(m *metrics.LinkMetrics) Option {
	return func(k *Link) { k.metrics = m }
}

// WithConfig overrides DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(k *Link) { k.cfg = cfg }
}

// NewLink binds a link to a transport. A nil transport yields a link whose
// sends fail with serial.ErrTransportUnavailable.
func NewLink(t Transport, opts ...Option) *Link {
	l := &Link{
		transport: t,
		cfg:       DefaultConfig(),
		log:       zap.NewNop(),
		sleep:     time.Sleep,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial opens the serial device and binds a link to it.
func Dial(cfg serial.Config, opts ...Option) (*Link, error) {
	l := NewLink(nil, opts...)
	if err := l.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("link config: %w", err)
	}
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	l.transport = port
	return l, nil
}

// Close closes the transport when it can be closed.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.transport.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Connected reports whether a transport is bound.
func (l *Link) Connected() bool {
	return l.transport != nil
}

// LastChecksum returns the checksum of the most recently encoded frame.
func (l *Link) LastChecksum() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastChecksum
}

// Encode builds the frame for cmd without sending it.
func (l *Link) Encode(cmd tpu.Command) (tpu.Frame, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.encode(cmd)
}

func (l *Link) encode(cmd tpu.Command) (tpu.Frame, error) {
	l.log.Debug("pack command", zap.Stringer("cmd", cmd))

	f, err := tpu.Build(cmd)
	if err != nil {
		l.log.Error("pack command failed", zap.Stringer("cmd", cmd), zap.Error(err))
		if l.metrics != nil {
			l.metrics.EncodeErrors.WithLabelValues(string(cmd.Family)).Inc()
		}
		return tpu.Frame{}, err
	}
	l.lastChecksum = f.Checksum()

	l.log.Debug("pack message", zap.Stringer("frame", f))
	return f, nil
}

// Send encodes and transmits cmd, waits the settle interval and reads the
// reply. Query commands return the raw reply bytes; a reply shorter than
// QueryReplyLen is returned together with a *ShortReadError. Control
// commands drain and log their reply and return nil bytes.
func (l *Link) Send(cmd tpu.Command) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("link config: %w", err)
	}

	f, err := l.encode(cmd)
	if err != nil {
		return nil, err
	}

	if err := l.transmit(f); err != nil {
		return nil, err
	}
	if l.metrics != nil {
		l.metrics.FramesSent.WithLabelValues(string(cmd.Family), cmd.Mode).Inc()
	}

	l.sleep(l.cfg.Settle)

	if cmd.IsQuery() {
		return l.query(f)
	}
	return nil, l.control(f)
}

func (l *Link) transmit(f tpu.Frame) error {
	if l.transport == nil {
		l.log.Error("send but no serial port available", zap.Stringer("frame", f))
		return fmt.Errorf("send %s: %w", f, serial.ErrTransportUnavailable)
	}
	if err := l.transport.Transmit(f.Bytes()); err != nil {
		l.log.Error("transmit failed", zap.Stringer("frame", f), zap.Error(err))
		l.countTransportError("transmit")
		return fmt.Errorf("send %s: %w", f, err)
	}
	l.log.Info("send done", zap.Stringer("frame", f))
	return nil
}

func (l *Link) query(f tpu.Frame) ([]byte, error) {
	want := l.cfg.QueryReplyLen
	data, err := l.transport.Receive(want)
	if err != nil {
		l.log.Error("receive failed", zap.Stringer("frame", f), zap.Error(err))
		l.countTransportError("receive")
		return data, fmt.Errorf("reply to %s: %w", f, err)
	}
	l.observeReply(len(data))

	if len(data) < want {
		l.log.Warn("short reply", zap.Stringer("frame", f), zap.ByteString("reply", data), zap.Int("want", want))
		if l.metrics != nil {
			l.metrics.ShortReads.WithLabelValues("query").Inc()
		}
		return data, &ShortReadError{Want: want, Got: len(data)}
	}
	l.log.Debug("get done", zap.Stringer("frame", f), zap.ByteString("reply", data))
	return data, nil
}

func (l *Link) control(f tpu.Frame) error {
	want := l.cfg.ControlReplyLen
	if want <= 0 {
		return nil
	}
	data, err := l.transport.Receive(want)
	if err != nil {
		l.log.Error("receive failed", zap.Stringer("frame", f), zap.Error(err))
		l.countTransportError("receive")
		return fmt.Errorf("reply to %s: %w", f, err)
	}
	l.observeReply(len(data))

	if len(data) < want && l.metrics != nil {
		l.metrics.ShortReads.WithLabelValues("control").Inc()
	}
	l.log.Debug("get done", zap.Stringer("frame", f), zap.ByteString("reply", data))
	return nil
}

func (l *Link) observeReply(n int) {
	if l.metrics != nil {
		l.metrics.ReplyBytes.Observe(float64(n))
	}
}

func (l *Link) countTransportError(op string) {
	if l.metrics != nil {
		l.metrics.TransportErrors.WithLabelValues(op).Inc()
	}
}
