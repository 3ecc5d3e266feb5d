// Package rtsp pulls the gimbal camera's video stream for the browser preview.
package rtsp

import (
	"errors"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4"
	"github.com/bluenviron/gortsplib/v4/pkg/base"
	"github.com/bluenviron/gortsplib/v4/pkg/description"
	"github.com/bluenviron/gortsplib/v4/pkg/format"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"gimbal-remote/internal/logging"
)

var (
	// ErrNoVideo is returned when the stream has no usable video media.
	ErrNoVideo = errors.New("no video media in stream")
	// ErrClosed is returned by Connect after Close.
	ErrClosed = errors.New("rtsp client closed")
)

// Config for the RTSP client
type Config struct {
	URL        string
	Timeout    time.Duration // read/write timeout, default 10s
	MaxBackoff time.Duration // reconnect backoff ceiling, default 30s
	Buffer     int           // queued RTP packets, default 500
}

// Client receives RTP packets from the camera and reconnects when the
// stream drops.
type Client struct {
	cfg     Config
	log     *zap.Logger
	rtpChan chan []byte
	stopCh  chan struct{}

	mu      sync.Mutex
	client  *gortsplib.Client
	stopped bool
}

// NewClient validates the URL and prepares a client.
func NewClient(cfg Config, log *zap.Logger) (*Client, error) {
	if _, err := base.ParseURL(cfg.URL); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 500
	}

	return &Client{
		cfg:     cfg,
		log:     logging.OrNop(log).Named("rtsp"),
		rtpChan: make(chan []byte, cfg.Buffer),
		stopCh:  make(chan struct{}),
	}, nil
}

// Connect establishes the RTSP session and starts streaming.
func (c *Client) Connect() error {
	return c.connect()
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrClosed
	}

	transport := gortsplib.TransportTCP
	client := &gortsplib.Client{
		Transport:    &transport,
		ReadTimeout:  c.cfg.Timeout,
		WriteTimeout: c.cfg.Timeout,
		OnDecodeError: func(err error) {
			c.log.Debug("decode error", zap.Error(err))
		},
	}

	u, err := base.ParseURL(c.cfg.URL)
	if err != nil {
		return err
	}
	if err := client.Start(u.Scheme, u.Host); err != nil {
		return err
	}

	desc, _, err := client.Describe(u)
	if err != nil {
		client.Close()
		return err
	}

	media, err := pickVideo(desc)
	if err != nil {
		client.Close()
		return err
	}

	if _, err := client.Setup(desc.BaseURL, media, 0, 0); err != nil {
		client.Close()
		return err
	}

	client.OnPacketRTPAny(func(_ *description.Media, _ format.Format, pkt *rtp.Packet) {
		buf, err := pkt.Marshal()
		if err != nil {
			return
		}
		select {
		case c.rtpChan <- buf:
		case <-c.stopCh:
		default:
			// preview lags; drop
		}
	})

	if _, err := client.Play(nil); err != nil {
		client.Close()
		return err
	}

	c.client = client
	c.log.Info("connected and playing", zap.String("url", c.cfg.URL))

	go c.monitorConnection(client)
	return nil
}

// pickVideo prefers H264/H265 media and falls back to the first video media.
func pickVideo(desc *description.Session) (*description.Media, error) {
	for _, media := range desc.Medias {
		for _, f := range media.Formats {
			switch f.(type) {
			case *format.H264, *format.H265:
				return media, nil
			}
		}
	}
	for _, media := range desc.Medias {
		if media.Type == description.MediaTypeVideo && len(media.Formats) > 0 {
			return media, nil
		}
	}
	return nil, ErrNoVideo
}

// monitorConnection waits for the session to end and reconnects with
// exponential backoff until Close.
func (c *Client) monitorConnection(client *gortsplib.Client) {
	err := client.Wait()
	if c.isStopped() {
		return
	}
	c.log.Warn("connection lost", zap.Error(err))

	for attempt := 1; ; attempt++ {
		delay := backoff(attempt, c.cfg.MaxBackoff)
		c.log.Info("reconnecting", zap.Int("attempt", attempt), zap.Duration("delay", delay))

		select {
		case <-c.stopCh:
			return
		case <-time.After(delay):
		}

		if err := c.connect(); err != nil {
			c.log.Warn("reconnect failed", zap.Error(err))
			continue
		}
		c.log.Info("reconnected")
		return
	}
}

func backoff(attempt int, ceiling time.Duration) time.Duration {
	if attempt > 16 {
		return ceiling
	}
	return min(time.Duration(1<<uint(attempt-1))*time.Second, ceiling)
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// RTPChannel returns the channel of marshaled RTP packets.
func (c *Client) RTPChannel() <-chan []byte {
	return c.rtpChan
}

// Close stops streaming and reconnection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	client := c.client
	close(c.stopCh)
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	close(c.rtpChan)
	return nil
}
