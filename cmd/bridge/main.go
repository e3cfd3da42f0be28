package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xiaot623/gogo/bridge/internal/audio"
	"github.com/xiaot623/gogo/bridge/internal/capture"
	"github.com/xiaot623/gogo/bridge/internal/config"
	"github.com/xiaot623/gogo/bridge/internal/eventloop"
	internalhttp "github.com/xiaot623/gogo/bridge/internal/http"
	"github.com/xiaot623/gogo/bridge/internal/hub"
	"github.com/xiaot623/gogo/bridge/internal/media"
	"github.com/xiaot623/gogo/bridge/internal/metrics"
	"github.com/xiaot623/gogo/bridge/internal/policy"
	"github.com/xiaot623/gogo/bridge/internal/session"
	"github.com/xiaot623/gogo/bridge/internal/store"
	"github.com/xiaot623/gogo/bridge/internal/transport"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting bridge client...")
	log.Printf("Brain URL: %s", cfg.BrainURL)
	log.Printf("Control Port: %d", cfg.ControlPort)
	log.Printf("Audio Output: %s", cfg.AudioOutput)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("bridge")

	// Initialize cache
	cache, err := store.NewSQLiteStore(cfg.CacheDSN)
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cache.Close()

	// Initialize action policy
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	// Initialize event loop and hub
	loop := eventloop.New()
	go loop.Run(ctx)

	eventHub := hub.NewHub()
	go eventHub.Run(ctx)

	analyser := audio.NewAnalyser()
	newOutput := func() (audio.Output, error) {
		if cfg.AudioOutput == "null" {
			return audio.NewNullOutput(analyser), nil
		}
		return audio.NewFFplayOutput(cfg.FFplayPath, analyser)
	}

	sess := session.New(session.Options{
		BrainURL: cfg.BrainURL,
		Scan: capture.Options{
			Interval:    cfg.ScanInterval,
			MaxAttempts: cfg.ScanMaxAttempts,
			Timeout:     cfg.ScanTimeout,
			Quality:     cfg.JPEGQuality,
		},
		PlaybackHighWater: cfg.PlaybackHighWater,
		VisualizerFPS:     cfg.VisualizerFPS,
		StreamVoice:       cfg.VoiceUplink,
	}, session.Deps{
		Loop:    loop,
		Devices: media.NewFFmpegDevices(cfg.FFmpegPath, cfg.CameraDevice, cfg.MicDevice),
		Dial: session.TransportDialer(transport.Options{
			PingInterval:   cfg.PingInterval,
			WriteTimeout:   cfg.WriteTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
			Debug:          cfg.Debug(),
			Metrics:        m,
		}),
		NewOutput: newOutput,
		Analyser:  analyser,
		Store:     cache,
		Policy:    engine,
		Metrics:   m,
		Sink:      eventHub,
	})

	// Initialize control server
	server := internalhttp.NewServer(sess, loop, eventHub, m, internalhttp.Options{
		PingInterval: cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.ControlPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start control server: %v", err)
		}
	}()

	log.Printf("Control server started on port %d, POST /session/start to begin", cfg.ControlPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down bridge...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown control server gracefully: %v", err)
	}
	if err := loop.Call(shutdownCtx, func() error {
		sess.Teardown()
		return nil
	}); err != nil {
		log.Printf("Failed to tear down session: %v", err)
	}
	cancel()
	<-loop.Done()

	log.Println("Bridge stopped")
}
