package gimbal

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gimbal-remote/internal/metrics"
	"gimbal-remote/internal/serial"
	"gimbal-remote/internal/tpu"
)

type fakeTransport struct {
	sent    []string
	asked   []int
	reply   []byte
	sendErr error
	recvErr error
	closed  bool
}

func (f *fakeTransport) Transmit(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, string(p))
	return nil
}

func (f *fakeTransport) Receive(n int) ([]byte, error) {
	f.asked = append(f.asked, n)
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if len(f.reply) > n {
		return f.reply[:n], nil
	}
	return f.reply, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

func newTestLink(t *fakeTransport, opts ...Option) (*Link, *[]time.Duration) {
	var slept []time.Duration
	var l *Link
	if t == nil {
		l = NewLink(nil, opts...)
	} else {
		l = NewLink(t, opts...)
	}
	l.sleep = func(d time.Duration) { slept = append(slept, d) }
	return l, &slept
}

func TestSend_QueryPath(t *testing.T) {
	ft := &fakeTransport{reply: []byte("#TPUM2rZOM0063")}
	l, slept := newTestLink(ft)

	data, err := l.Send(tpu.Command{Family: tpu.FamilyFocus, Mode: "get"})
	require.NoError(t, err)

	assert.Equal(t, []string{"#TPUM2rFOC0045"}, ft.sent)
	assert.Equal(t, []int{4}, ft.asked)
	assert.Equal(t, []byte("#TPU"), data)
	assert.Equal(t, []time.Duration{50 * time.Millisecond}, *slept)
	assert.Equal(t, "45", l.LastChecksum())
}

func TestSend_QueryShortRead(t *testing.T) {
	ft := &fakeTransport{reply: []byte("#T")}
	l, _ := newTestLink(ft)

	data, err := l.Send(tpu.Command{Family: tpu.FamilyPTZControl, Mode: "angle_get"})
	require.ErrorIs(t, err, ErrShortRead)
	assert.Equal(t, []byte("#T"), data)

	var sr *ShortReadError
	require.ErrorAs(t, err, &sr)
	assert.Equal(t, 4, sr.Want)
	assert.Equal(t, 2, sr.Got)
}

func TestSend_ControlPath(t *testing.T) {
	ft := &fakeTransport{reply: []byte("#TPUM2wZMC015D")}
	l, slept := newTestLink(ft)

	data, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "in"})
	require.NoError(t, err, "short control reply is drained, not reported")
	assert.Nil(t, data)
	assert.Equal(t, []string{"#TPUM2wZMC015D"}, ft.sent)
	assert.Equal(t, []int{32}, ft.asked)
	assert.Len(t, *slept, 1)
}

func TestSend_ControlSkipsDrain(t *testing.T) {
	ft := &fakeTransport{}
	cfg := DefaultConfig()
	cfg.ControlReplyLen = 0
	l, _ := newTestLink(ft, WithConfig(cfg))

	_, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "stop"})
	require.NoError(t, err)
	assert.Empty(t, ft.asked)
}

func TestSend_UnsupportedModeNeverTransmits(t *testing.T) {
	for _, fam := range tpu.Families() {
		ft := &fakeTransport{}
		l, slept := newTestLink(ft)

		_, err := l.Send(tpu.Command{Family: fam, Mode: "warp"})
		require.ErrorIs(t, err, tpu.ErrUnsupportedMode)
		assert.Empty(t, ft.sent)
		assert.Empty(t, ft.asked)
		assert.Empty(t, *slept)
	}

	ft := &fakeTransport{}
	l, _ := newTestLink(ft)
	_, err := l.Send(tpu.Command{Family: "iris", Mode: "open"})
	require.ErrorIs(t, err, tpu.ErrUnsupportedCommand)
	assert.Empty(t, ft.sent)
}

func TestSend_NoTransport(t *testing.T) {
	l, slept := newTestLink(nil)

	_, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "in"})
	require.ErrorIs(t, err, serial.ErrTransportUnavailable)
	assert.Empty(t, *slept)
	assert.False(t, l.Connected())
}

func TestSend_TransportErrors(t *testing.T) {
	boom := errors.New("boom")

	ft := &fakeTransport{sendErr: boom}
	l, _ := newTestLink(ft)
	_, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "in"})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, ft.asked)

	ft = &fakeTransport{recvErr: boom}
	l, _ = newTestLink(ft)
	_, err = l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "get"})
	require.ErrorIs(t, err, boom)
}

func TestSend_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewLinkMetrics(reg)
	ft := &fakeTransport{reply: []byte("#T")}
	l, _ := newTestLink(ft, WithMetrics(m))

	_, _ = l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "in"})
	_, _ = l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "get"})
	_, _ = l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "sideways"})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("zoom", "in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("zoom", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShortReads.WithLabelValues("query")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ShortReads.WithLabelValues("control")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EncodeErrors.WithLabelValues("zoom")))
}

func TestEncode_DoesNotTransmit(t *testing.T) {
	ft := &fakeTransport{}
	l, _ := newTestLink(ft)

	f, err := l.Encode(tpu.Command{Family: tpu.FamilyPTZControl, Mode: "yaw_speed", Params: tpu.Params{"value": -30}})
	require.NoError(t, err)
	assert.Equal(t, "#TPUG2wGSYE276", f.String())
	assert.Empty(t, ft.sent)
}

func TestClose(t *testing.T) {
	ft := &fakeTransport{}
	l, _ := newTestLink(ft)
	require.NoError(t, l.Close())
	assert.True(t, ft.closed)

	l, _ = newTestLink(nil)
	assert.NoError(t, l.Close())
}

func TestSend_RejectsInvalidConfig(t *testing.T) {
	tests := []Config{
		{Settle: 0, QueryReplyLen: -1, ControlReplyLen: 32},
		{Settle: 0, QueryReplyLen: 4, ControlReplyLen: -32},
		{Settle: -time.Millisecond, QueryReplyLen: 4, ControlReplyLen: 32},
	}
	for _, cfg := range tests {
		require.Error(t, cfg.Validate(), "%+v", cfg)

		ft := &fakeTransport{reply: []byte("#TPU")}
		l, slept := newTestLink(ft, WithConfig(cfg))
		_, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "get"})
		require.Error(t, err, "%+v", cfg)
		assert.Empty(t, ft.sent)
		assert.Empty(t, ft.asked)
		assert.Empty(t, *slept)
	}
	assert.NoError(t, DefaultConfig().Validate())
}

func TestSend_NegativeLengthOverSerialPort(t *testing.T) {
	l := NewLink(serial.NewPort("/dev/fake", nopConn{}, time.Second),
		WithConfig(Config{QueryReplyLen: -1, ControlReplyLen: 32}))

	assert.NotPanics(t, func() {
		_, err := l.Send(tpu.Command{Family: tpu.FamilyZoom, Mode: "get"})
		assert.Error(t, err)
	})
}

type nopConn struct{}

func (nopConn) Read(p []byte) (int, error) { return 0, io.EOF }
func (nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (nopConn) Close() error { return nil }

func TestDial_InvalidConfig(t *testing.T) {
	_, err := Dial(serial.Config{Device: "/dev/does-not-exist-gimbal"}, WithConfig(Config{ControlReplyLen: -1}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, serial.ErrTransportUnavailable)
}

func TestDial_NoDevice(t *testing.T) {
	_, err := Dial(serial.Config{})
	require.ErrorIs(t, err, serial.ErrTransportUnavailable)
}
