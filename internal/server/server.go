// Package server serves the browser remote: static UI, WebSocket control
// channel, optional video preview and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"gimbal-remote/internal/gimbal"
	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/metrics"
	"gimbal-remote/internal/protocol"
	"gimbal-remote/internal/ptz"
	"gimbal-remote/internal/rtsp"
	"gimbal-remote/internal/webrtc"
)

// Config for the server
type Config struct {
	ListenAddr   string
	SerialDevice string // reported in status messages
	MetricsPath  string // empty disables /metrics
	Control      gimbal.ControllerConfig
	RTSP         rtsp.Config // empty URL disables the preview
	WebRTC       webrtc.Config
}

// Server is the gimbal remote server
type Server struct {
	cfg      Config
	log      *zap.Logger
	link     *gimbal.Link
	ctrl     ptz.Controller
	registry *prometheus.Registry
	metrics  *metrics.ServerMetrics
	upgrader websocket.Upgrader
	staticFS fs.FS

	clientsMu  sync.RWMutex
	clients    map[*Client]bool
	rtspClient *rtsp.Client
	httpSrv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.log = logging.OrNop(l) }
}

// WithRegistry registers the server metrics in reg and serves it on the
// metrics path.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// New creates a server driving link. staticFS must hold the UI under web/.
func New(cfg Config, link *gimbal.Link, staticFS fs.FS, opts ...Option) (*Server, error) {
	webFS, err := fs.Sub(staticFS, "web")
	if err != nil {
		return nil, fmt.Errorf("failed to access embedded web files: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		log:      zap.NewNop(),
		link:     link,
		clients:  make(map[*Client]bool),
		staticFS: webFS,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local network tool
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.NewServerMetrics(s.registry)
	s.ctrl = gimbal.NewController(link, cfg.Control, s.log.Named("controller"))
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	if s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, metrics.Handler(s.registry))
	}
	mux.Handle("/", http.FileServer(http.FS(s.staticFS)))
	return mux
}

// Start connects the video source, if any, and serves until Stop.
func (s *Server) Start() error {
	if s.cfg.RTSP.URL != "" {
		s.startVideo()
	}

	s.clientsMu.Lock()
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.clientsMu.Unlock()

	s.log.Info("server starting", zap.String("addr", s.cfg.ListenAddr))
	return srv.ListenAndServe()
}

func (s *Server) startVideo() {
	client, err := rtsp.NewClient(s.cfg.RTSP, s.log)
	if err != nil {
		s.log.Warn("failed to create rtsp client", zap.Error(err))
		return
	}
	if err := client.Connect(); err != nil {
		s.log.Warn("failed to connect to rtsp", zap.String("url", s.cfg.RTSP.URL), zap.Error(err))
		client.Close()
		return
	}

	s.clientsMu.Lock()
	s.rtspClient = client
	s.clientsMu.Unlock()
	go s.broadcastRTP(client)
}

// broadcastRTP fans packets out to every client. A client whose buffer is
// full misses the packet.
func (s *Server) broadcastRTP(src *rtsp.Client) {
	for packet := range src.RTPChannel() {
		s.clientsMu.RLock()
		for client := range s.clients {
			select {
			case client.rtpChan <- packet:
			default:
			}
		}
		s.clientsMu.RUnlock()
	}
}

func (s *Server) videoEnabled() bool {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return s.rtspClient != nil
}

// Stop closes all clients, the video source and the gimbal link.
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	srv := s.httpSrv
	rtspClient := s.rtspClient
	s.clientsMu.Unlock()

	for _, client := range clients {
		client.Close()
	}

	var errs []error
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}
	if rtspClient != nil {
		errs = append(errs, rtspClient.Close())
	}
	if err := s.ctrl.Stop(); err != nil {
		s.log.Debug("stop on shutdown", zap.Error(err))
	}
	errs = append(errs, s.ctrl.Close())
	return errors.Join(errs...)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	client := newClient(s, conn)

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()
	s.metrics.Clients.Inc()
	client.log.Info("client connected", zap.String("remote", r.RemoteAddr))

	go client.writePump()
	go client.readPump()

	client.sendStatus()

	if s.videoEnabled() {
		if err := client.initWebRTC(); err != nil {
			client.log.Warn("failed to initialize webrtc", zap.Error(err))
			client.sendError("", protocol.ErrVideo, err)
		}
	}
}

func (s *Server) removeClient(c *Client) {
	s.clientsMu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.clientsMu.Unlock()
	if ok {
		s.metrics.Clients.Dec()
	}
}
