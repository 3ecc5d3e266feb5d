package gimbal

import (
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/tpu"
)

// ErrThrottled is returned when an update was dropped by the rate limiter.
var ErrThrottled = errors.New("update throttled")

// Sender is the part of Link the controller needs.
type Sender interface {
	Send(cmd tpu.Command) ([]byte, error)
}

// ControllerConfig for the joystick controller
type ControllerConfig struct {
	MinInterval time.Duration // minimum spacing of pan/tilt updates
	MaxSpeed    int           // gimbal speed at full deflection, at most 127
	Deadzone    float64       // deflection treated as zero
}

// DefaultControllerConfig returns 20 updates/s, speed 100 and a 5% deadzone.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinInterval: 50 * time.Millisecond,
		MaxSpeed:    100,
		Deadzone:    0.05,
	}
}

// motor direction of the zoom or focus drive
type motor int8

const (
	motorStop motor = 0
	motorPos  motor = 1
	motorNeg  motor = -1
)

// Controller maps normalized joystick input onto gimbal commands. It
// implements ptz.Controller.
type Controller struct {
	link   Sender
	cfg    ControllerConfig
	log    *zap.Logger
	closer func() error

	mu      sync.Mutex
	limiter *rate.Limiter
	yaw     int
	pitch   int
	zoom    motor
	focus   motor
}

// NewController creates a controller on top of a link.
func NewController(link *Link, cfg ControllerConfig, log *zap.Logger) *Controller {
	c := newController(link, cfg, log)
	c.closer = link.Close
	return c
}

func newController(s Sender, cfg ControllerConfig, log *zap.Logger) *Controller {
	def := DefaultControllerConfig()
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = def.MinInterval
	}
	if cfg.MaxSpeed <= 0 || cfg.MaxSpeed > math.MaxInt8 {
		cfg.MaxSpeed = def.MaxSpeed
	}
	if cfg.Deadzone < 0 || cfg.Deadzone >= 1 {
		cfg.Deadzone = def.Deadzone
	}
	return &Controller{
		link:    s,
		cfg:     cfg,
		log:     logging.OrNop(log),
		limiter: rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// PanTilt sends a yaw/pitch speed command with rate limiting. Updates that
// arrive faster than MinInterval are dropped with ErrThrottled unless they
// bring the gimbal to rest.
func (c *Controller) PanTilt(pan, tilt float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	yaw := c.speed(pan)
	pitch := c.speed(tilt)
	if yaw == c.yaw && pitch == c.pitch {
		return nil
	}
	resting := yaw == 0 && pitch == 0
	if !resting && !c.limiter.Allow() {
		return ErrThrottled
	}

	_, err := c.link.Send(tpu.Command{
		Family: tpu.FamilyPTZControl,
		Mode:   "yaw_pitch_speed",
		Params: tpu.Params{"yaw_value": yaw, "pitch_value": pitch},
	})
	if err != nil {
		return err
	}
	c.yaw, c.pitch = yaw, pitch
	return nil
}

// Zoom drives the zoom motor in, out or to a stop. Only direction changes
// are sent.
func (c *Controller) Zoom(zoom float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.direction(zoom)
	if dir == c.zoom {
		return nil
	}
	mode := map[motor]string{motorPos: "in", motorNeg: "out", motorStop: "stop"}[dir]
	if _, err := c.link.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: mode}); err != nil {
		return err
	}
	c.zoom = dir
	return nil
}

// Focus drives the focus motor. Only direction changes are sent.
func (c *Controller) Focus(focus float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := c.direction(focus)
	if dir == c.focus {
		return nil
	}
	mode := map[motor]string{motorPos: "+", motorNeg: "-", motorStop: "stop"}[dir]
	if _, err := c.link.Send(tpu.Command{Family: tpu.FamilyFocus, Mode: mode}); err != nil {
		return err
	}
	c.focus = dir
	return nil
}

// Stop halts yaw/pitch, zoom and focus regardless of the tracked state.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds := []tpu.Command{
		{Family: tpu.FamilyPTZControl, Mode: "yaw_pitch_speed", Params: tpu.Params{"yaw_value": 0, "pitch_value": 0}},
		{Family: tpu.FamilyZoom, Mode: "stop"},
		{Family: tpu.FamilyFocus, Mode: "stop"},
	}
	var errs []error
	for _, cmd := range cmds {
		if _, err := c.link.Send(cmd); err != nil {
			c.log.Warn("stop command failed", zap.Stringer("cmd", cmd), zap.Error(err))
			errs = append(errs, err)
		}
	}
	c.yaw, c.pitch = 0, 0
	c.zoom, c.focus = motorStop, motorStop
	return errors.Join(errs...)
}

// Center returns the gimbal to its home attitude.
func (c *Controller) Center() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.link.Send(tpu.Command{
		Family: tpu.FamilyPTZControl,
		Mode:   "set_mode",
		Params: tpu.Params{"value": "center"},
	})
	if err == nil {
		c.yaw, c.pitch = 0, 0
	}
	return err
}

// Close closes the underlying link.
func (c *Controller) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

// speed scales a -1..1 deflection onto a signed gimbal speed.
func (c *Controller) speed(v float64) int {
	v = clamp(v, -1, 1)
	if math.Abs(v) < c.cfg.Deadzone {
		return 0
	}
	return int(math.Round(v * float64(c.cfg.MaxSpeed)))
}

func (c *Controller) direction(v float64) motor {
	switch {
	case v > c.cfg.Deadzone:
		return motorPos
	case v < -c.cfg.Deadzone:
		return motorNeg
	}
	return motorStop
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
