package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gimbal-remote/internal/config"
	"gimbal-remote/internal/gimbal"
	"gimbal-remote/internal/logging"
	"gimbal-remote/internal/metrics"
	"gimbal-remote/internal/rtsp"
	"gimbal-remote/internal/serial"
	"gimbal-remote/internal/server"
	"gimbal-remote/internal/webrtc"
)

//go:embed web/*
var staticFiles embed.FS

func main() {
	flags := pflag.NewFlagSet("gimbal-remote", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "config file (default ./gimbal.yaml or ./configs/gimbal.yaml)")
	flags.String("serial", "", "gimbal serial device, e.g. /dev/ttyUSB0")
	flags.Int("baud", serial.DefaultBaud, "serial baud rate")
	flags.String("listen", ":8080", "HTTP listen address")
	flags.String("rtsp", "", "RTSP URL for the camera stream")
	flags.StringSlice("ice-ips", nil, "static server IPs (enables ICE-lite mode)")
	flags.String("log-level", "info", "log level")
	flags.Duration("settle", 50*time.Millisecond, "wait between a frame and its reply")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	reg := metrics.NewRegistry()
	linkOpts := []gimbal.Option{
		gimbal.WithLogger(logger.Named("link")),
		gimbal.WithMetrics(metrics.NewLinkMetrics(reg)),
		gimbal.WithConfig(gimbal.Config{
			Settle:          cfg.Link.Settle,
			QueryReplyLen:   cfg.Link.QueryReplyLen,
			ControlReplyLen: cfg.Link.ControlReplyLen,
		}),
	}

	link, err := gimbal.Dial(serial.Config{
		Device:      cfg.Serial.Device,
		Baud:        cfg.Serial.Baud,
		ReadTimeout: cfg.Serial.ReadTimeout,
	}, linkOpts...)
	if err != nil {
		logger.Warn("gimbal not connected, commands will fail", zap.Error(err))
		link = gimbal.NewLink(nil, linkOpts...)
	}

	srvCfg := server.Config{
		ListenAddr:   cfg.HTTP.Addr,
		SerialDevice: cfg.Serial.Device,
		Control: gimbal.ControllerConfig{
			MinInterval: cfg.Control.MinInterval,
			MaxSpeed:    cfg.Control.MaxSpeed,
			Deadzone:    cfg.Control.Deadzone,
		},
		RTSP: rtsp.Config{URL: cfg.Video.RTSPURL},
		WebRTC: webrtc.Config{
			ICEServers: cfg.Video.ICEServers,
			ICEIPs:     cfg.Video.ICEIPs,
		},
	}
	if cfg.Metrics.Enable {
		srvCfg.MetricsPath = cfg.Metrics.Path
	}

	srv, err := server.New(srvCfg, link, staticFiles, server.WithLogger(logger), server.WithRegistry(reg))
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-sigCh
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	logger.Info("gimbal remote control server",
		zap.String("listen", srvCfg.ListenAddr),
		zap.String("serial", cfg.Serial.Device),
		zap.Bool("gimbal_connected", link.Connected()),
		zap.String("rtsp", cfg.Video.RTSPURL),
		zap.Strings("ice_ips", cfg.Video.ICEIPs),
	)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
	<-stopped
}
