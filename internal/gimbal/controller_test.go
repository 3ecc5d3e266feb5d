package gimbal

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gimbal-remote/internal/ptz"
	"gimbal-remote/internal/tpu"
)

var _ ptz.Controller = (*Controller)(nil)

type recordingSender struct {
	cmds []tpu.Command
	err  error
}

func (r *recordingSender) Send(cmd tpu.Command) ([]byte, error) {
	r.cmds = append(r.cmds, cmd)
	return nil, r.err
}

func (r *recordingSender) frames(t *testing.T) []string {
	t.Helper()
	out := make([]string, 0, len(r.cmds))
	for _, c := range r.cmds {
		f, err := tpu.Build(c)
		require.NoError(t, err)
		out = append(out, f.String())
	}
	return out
}

func TestPanTilt_ScalesAndThrottles(t *testing.T) {
	rs := &recordingSender{}
	c := newController(rs, ControllerConfig{MinInterval: time.Hour, MaxSpeed: 50, Deadzone: 0.05}, nil)

	require.NoError(t, c.PanTilt(1, -0.5))
	require.Len(t, rs.cmds, 1)
	assert.Equal(t, "yaw_pitch_speed", rs.cmds[0].Mode)
	assert.Equal(t, tpu.Params{"yaw_value": 50, "pitch_value": -25}, rs.cmds[0].Params)
	assert.Equal(t, []string{"#tpUG4wGSM32E716"}, rs.frames(t))

	// same speeds are not resent
	require.NoError(t, c.PanTilt(1, -0.5))
	assert.Len(t, rs.cmds, 1)

	// a new speed inside the interval is dropped
	assert.ErrorIs(t, c.PanTilt(0.5, 0.5), ErrThrottled)
	assert.Len(t, rs.cmds, 1)

	// returning to rest always goes through
	require.NoError(t, c.PanTilt(0.01, -0.02))
	require.Len(t, rs.cmds, 2)
	assert.Equal(t, "#tpUG4wGSM0000F5", rs.frames(t)[1])
}

func TestPanTilt_ClampsDeflection(t *testing.T) {
	rs := &recordingSender{}
	c := newController(rs, ControllerConfig{MaxSpeed: 100}, nil)

	require.NoError(t, c.PanTilt(3, -7))
	assert.Equal(t, tpu.Params{"yaw_value": 100, "pitch_value": -100}, rs.cmds[0].Params)
}

func TestZoomFocus_DirectionChangesOnly(t *testing.T) {
	rs := &recordingSender{}
	c := newController(rs, DefaultControllerConfig(), nil)

	require.NoError(t, c.Zoom(0.8))
	require.NoError(t, c.Zoom(0.9))
	require.NoError(t, c.Zoom(-0.4))
	require.NoError(t, c.Zoom(0))
	require.NoError(t, c.Focus(-1))
	require.NoError(t, c.Focus(0.02))

	assert.Equal(t, []string{
		"#TPUM2wZMC015D",
		"#TPUM2wZMC025E",
		"#TPUM2wZMC005C",
		"#TPUM2wFCC0240",
		"#TPUM2wFCC003E",
	}, rs.frames(t))
}

func TestStop_SendsEverythingAndResets(t *testing.T) {
	rs := &recordingSender{}
	c := newController(rs, DefaultControllerConfig(), nil)

	require.NoError(t, c.Zoom(1))
	require.NoError(t, c.Stop())
	assert.Equal(t, []string{
		"#TPUM2wZMC015D",
		"#tpUG4wGSM0000F5",
		"#TPUM2wZMC005C",
		"#TPUM2wFCC003E",
	}, rs.frames(t))

	// after Stop the next zoom-in is sent again
	require.NoError(t, c.Zoom(1))
	assert.Len(t, rs.cmds, 5)
}

func TestStop_CollectsErrors(t *testing.T) {
	boom := errors.New("boom")
	rs := &recordingSender{err: boom}
	c := newController(rs, DefaultControllerConfig(), nil)

	err := c.Stop()
	require.ErrorIs(t, err, boom)
	assert.Len(t, rs.cmds, 3)
}

func TestCenter(t *testing.T) {
	rs := &recordingSender{}
	c := newController(rs, DefaultControllerConfig(), nil)

	require.NoError(t, c.Center())
	assert.Equal(t, []string{"#TPUP2wPTZ0578"}, rs.frames(t))
	assert.NoError(t, c.Close())
}

func TestSendError_KeepsState(t *testing.T) {
	rs := &recordingSender{err: errors.New("unplugged")}
	c := newController(rs, DefaultControllerConfig(), nil)

	require.Error(t, c.Zoom(1))
	rs.err = nil
	require.NoError(t, c.Zoom(1))
	assert.Len(t, rs.cmds, 2)
}
