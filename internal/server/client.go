package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	pwebrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"gimbal-remote/internal/gimbal"
	"gimbal-remote/internal/protocol"
	"gimbal-remote/internal/serial"
	"gimbal-remote/internal/tpu"
	"gimbal-remote/internal/webrtc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// Client represents a connected WebSocket client
type Client struct {
	id      string
	conn    *websocket.Conn
	server  *Server
	log     *zap.Logger
	send    chan []byte
	rtpChan chan []byte // per-client RTP queue
	stopRTP chan struct{}

	mu     sync.Mutex
	webrtc *webrtc.Session
	closed bool
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		conn:    conn,
		server:  s,
		log:     s.log.With(zap.String("client", id)),
		send:    make(chan []byte, 256),
		rtpChan: make(chan []byte, 500),
		stopRTP: make(chan struct{}),
	}
}

func (c *Client) initWebRTC() error {
	session, err := webrtc.NewSession(c.server.cfg.WebRTC, func(ice pwebrtc.ICECandidateInit) {
		payload := protocol.ICECandidatePayload{Candidate: ice.Candidate}
		if ice.SDPMid != nil {
			payload.SDPMid = *ice.SDPMid
		}
		if ice.SDPMLineIndex != nil {
			payload.SDPMLineIndex = *ice.SDPMLineIndex
		}
		c.sendMessage(protocol.TypeICECandidate, payload)
	}, c.log)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return session.Close()
	}
	c.webrtc = session
	c.mu.Unlock()

	if err := session.AddH264Track(); err != nil {
		return err
	}

	offer, err := session.CreateOffer()
	if err != nil {
		return err
	}
	c.sendMessage(protocol.TypeOffer, protocol.SDPPayload{SDP: offer})

	go c.forwardRTP(session)
	return nil
}

func (c *Client) forwardRTP(session *webrtc.Session) {
	for {
		select {
		case <-c.stopRTP:
			return
		case packet := <-c.rtpChan:
			if err := session.WriteRTP(packet); err != nil {
				c.log.Debug("rtp forward stopped", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) session() *webrtc.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.webrtc
}

func (c *Client) sendStatus() {
	s := c.server
	status := protocol.StatusPayload{
		ClientID:        c.id,
		GimbalConnected: s.link.Connected(),
		SerialDevice:    s.cfg.SerialDevice,
		VideoEnabled:    s.videoEnabled(),
		ControlProtocol: "tpu",
	}
	if status.VideoEnabled {
		status.VideoProtocol = "rtsp"
	}
	c.sendMessage(protocol.TypeStatus, status)
}

func (c *Client) sendMessage(msgType string, payload any) {
	msg, err := protocol.NewMessage(msgType, payload)
	if err != nil {
		c.log.Error("failed to create message", zap.String("type", msgType), zap.Error(err))
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("failed to marshal message", zap.String("type", msgType), zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("client send buffer full, dropping message", zap.String("type", msgType))
	}
}

func (c *Client) sendError(id, code string, err error) {
	c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
		ID:      id,
		Code:    code,
		Message: err.Error(),
	})
}

func (c *Client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.Close()
		c.log.Info("client disconnected")
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendMessage(protocol.TypeError, protocol.ErrorPayload{
			Code:    protocol.ErrInvalidMessage,
			Message: "failed to parse message",
		})
		return
	}
	c.server.metrics.Messages.WithLabelValues(msg.Type).Inc()

	switch msg.Type {
	case protocol.TypePing:
		var payload protocol.PingPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		c.sendMessage(protocol.TypePong, protocol.PongPayload{
			ClientTimestamp: payload.Timestamp,
			ServerTimestamp: time.Now().UnixMilli(),
		})

	case protocol.TypeStatus:
		c.sendStatus()

	case protocol.TypeAnswer:
		var payload protocol.SDPPayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.SetAnswer(payload.SDP); err != nil {
				c.log.Warn("failed to set answer", zap.Error(err))
			}
		}

	case protocol.TypeICECandidate:
		var payload protocol.ICECandidatePayload
		if err := msg.ParsePayload(&payload); err != nil {
			return
		}
		if session := c.session(); session != nil {
			if err := session.AddICECandidate(payload.Candidate, payload.SDPMid, payload.SDPMLineIndex); err != nil {
				c.log.Warn("failed to add ice candidate", zap.Error(err))
			}
		}

	case protocol.TypePTZCommand:
		var payload protocol.PTZCommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError("", protocol.ErrInvalidMessage, err)
			return
		}
		c.handlePTZCommand(payload)

	case protocol.TypePTZStop:
		if err := c.server.ctrl.Stop(); err != nil {
			c.log.Warn("failed to stop", zap.Error(err))
			c.sendError("", errorCode(err), err)
		}

	case protocol.TypePTZCenter:
		if err := c.server.ctrl.Center(); err != nil {
			c.log.Warn("failed to center", zap.Error(err))
			c.sendError("", errorCode(err), err)
		}

	case protocol.TypeGimbalCommand:
		var payload protocol.GimbalCommandPayload
		if err := msg.ParsePayload(&payload); err != nil {
			c.sendError("", protocol.ErrInvalidMessage, err)
			return
		}
		c.handleGimbalCommand(payload)

	default:
		c.log.Debug("unknown message type", zap.String("type", msg.Type))
	}
}

func (c *Client) handlePTZCommand(cmd protocol.PTZCommandPayload) {
	if !c.server.link.Connected() {
		return
	}
	ctrl := c.server.ctrl

	if err := ctrl.PanTilt(cmd.Pan, cmd.Tilt); err != nil {
		if errors.Is(err, gimbal.ErrThrottled) {
			c.server.metrics.DroppedUpdates.Inc()
		} else {
			c.log.Warn("pan/tilt error", zap.Error(err))
		}
	}
	if err := ctrl.Zoom(cmd.Zoom); err != nil {
		c.log.Warn("zoom error", zap.Error(err))
	}
	if err := ctrl.Focus(cmd.Focus); err != nil {
		c.log.Warn("focus error", zap.Error(err))
	}
}

func (c *Client) handleGimbalCommand(p protocol.GimbalCommandPayload) {
	cmd := p.Command()
	frame, err := tpu.Build(cmd)
	if err != nil {
		c.sendError(p.ID, errorCode(err), err)
		return
	}

	reply, err := c.server.link.Send(cmd)
	short := errors.Is(err, gimbal.ErrShortRead)
	if err != nil && !short {
		c.log.Warn("gimbal command failed", zap.Stringer("cmd", cmd), zap.Error(err))
		c.sendError(p.ID, errorCode(err), err)
		return
	}

	c.sendMessage(protocol.TypeGimbalReply, protocol.GimbalReplyPayload{
		ID:    p.ID,
		Frame: frame.String(),
		Reply: fmt.Sprintf("%X", reply),
		Query: cmd.IsQuery(),
		Short: short,
	})
}

// errorCode maps a command error onto the code reported to the browser.
func errorCode(err error) string {
	switch {
	case errors.Is(err, tpu.ErrUnsupportedCommand), errors.Is(err, tpu.ErrUnsupportedMode):
		return protocol.ErrUnsupported
	case errors.Is(err, serial.ErrTransportUnavailable):
		return protocol.ErrGimbalDisconnected
	default:
		return protocol.ErrTransport
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the client connection
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopRTP)
	close(c.send)
	session := c.webrtc
	c.webrtc = nil
	c.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			c.log.Debug("webrtc close", zap.Error(err))
		}
	}
}
