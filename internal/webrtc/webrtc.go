// Package webrtc relays the camera's RTP stream to a browser peer.
package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"gimbal-remote/internal/logging"
)

// ErrNoTrack is returned by WriteRTP before a video track was added.
var ErrNoTrack = errors.New("no video track")

// Config for WebRTC sessions
type Config struct {
	ICEServers []string // STUN/TURN server URLs
	// ICEIPs are the server's public addresses. When set the session runs
	// ICE-lite and advertises only these host candidates.
	ICEIPs []string
}

// DefaultConfig returns a configuration using a public STUN server.
func DefaultConfig() Config {
	return Config{
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
	}
}

// Session represents a WebRTC session with a client
type Session struct {
	pc    *webrtc.PeerConnection
	log   *zap.Logger
	onICE func(webrtc.ICECandidateInit)

	mu         sync.Mutex
	videoTrack *webrtc.TrackLocalStaticRTP
	closed     bool
}

// NewSession creates a peer connection. onICE receives every local
// candidate as it is gathered.
func NewSession(cfg Config, onICE func(webrtc.ICECandidateInit), log *zap.Logger) (*Session, error) {
	api, err := newAPI(cfg)
	if err != nil {
		return nil, err
	}

	config := webrtc.Configuration{}
	if len(cfg.ICEIPs) == 0 {
		for _, url := range cfg.ICEServers {
			config.ICEServers = append(config.ICEServers, webrtc.ICEServer{
				URLs: []string{url},
			})
		}
	}

	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	s := &Session{
		pc:    pc,
		log:   logging.OrNop(log).Named("webrtc"),
		onICE: onICE,
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c != nil && s.onICE != nil {
			s.onICE(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Info("connection state", zap.Stringer("state", state))
	})

	return s, nil
}

func newAPI(cfg Config) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	se := webrtc.SettingEngine{}
	if len(cfg.ICEIPs) > 0 {
		se.SetLite(true)
		se.SetNAT1To1IPs(cfg.ICEIPs, webrtc.ICECandidateTypeHost)
	}

	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se)), nil
}

// AddH264Track adds an H264 video track to the session
func (s *Session) AddH264Track() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		"video",
		"gimbal-camera",
	)
	if err != nil {
		return fmt.Errorf("failed to create video track: %w", err)
	}

	sender, err := s.pc.AddTrack(videoTrack)
	if err != nil {
		return fmt.Errorf("failed to add video track: %w", err)
	}

	// RTCP has to be read for interceptors to run
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	s.videoTrack = videoTrack
	return nil
}

// CreateOffer creates the local offer and waits for candidate gathering.
func (s *Session) CreateOffer() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create offer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(s.pc)
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}
	<-gatherComplete

	return s.pc.LocalDescription().SDP, nil
}

// SetAnswer sets the remote SDP answer
func (s *Session) SetAnswer(sdp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	if err := s.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	return nil
}

// AddICECandidate adds a remote ICE candidate
func (s *Session) AddICECandidate(candidate string, sdpMid string, sdpMLineIndex uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ice := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &sdpMLineIndex,
	}
	if err := s.pc.AddICECandidate(ice); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// WriteRTP forwards one marshaled RTP packet to the video track.
func (s *Session) WriteRTP(packet []byte) error {
	s.mu.Lock()
	track := s.videoTrack
	s.mu.Unlock()

	if track == nil {
		return ErrNoTrack
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(packet); err != nil {
		return fmt.Errorf("bad rtp packet: %w", err)
	}
	return track.WriteRTP(&pkt)
}

// Close closes the WebRTC session
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.pc.Close()
}
