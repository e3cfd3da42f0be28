// Package config provides configuration for the bridge client.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config holds the bridge client configuration.
type Config struct {
	// Brain settings
	BrainURL string

	// Control API settings
	ControlPort int

	// Scan settings
	ScanInterval    time.Duration
	ScanMaxAttempts int
	ScanTimeout     time.Duration
	JPEGQuality     int

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Playback settings
	AudioOutput       string // "ffplay" or "null"
	PlaybackHighWater int
	VisualizerFPS     int

	// Voice settings
	VoiceUplink bool

	// Devices
	CameraDevice string
	MicDevice    string
	FFmpegPath   string
	FFplayPath   string

	// Cache
	CacheDSN string

	// Logging
	LogLevel string
}

// fileConfig mirrors the optional TOML file. Zero values mean "not set".
type fileConfig struct {
	Brain struct {
		URL string `toml:"url"`
	} `toml:"brain"`
	Control struct {
		Port int `toml:"port"`
	} `toml:"control"`
	Scan struct {
		IntervalMS  int `toml:"interval_ms"`
		MaxAttempts int `toml:"max_attempts"`
		TimeoutMS   int `toml:"timeout_ms"`
		JPEGQuality int `toml:"jpeg_quality"`
	} `toml:"scan"`
	Audio struct {
		Output    string `toml:"output"`
		HighWater int    `toml:"high_water"`
		FFplay    string `toml:"ffplay_path"`
	} `toml:"audio"`
	Devices struct {
		Camera string `toml:"camera"`
		Mic    string `toml:"mic"`
		FFmpeg string `toml:"ffmpeg_path"`
	} `toml:"devices"`
	Voice struct {
		Uplink bool `toml:"uplink"`
	} `toml:"voice"`
	Cache struct {
		DSN string `toml:"dsn"`
	} `toml:"cache"`
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BrainURL:          "ws://localhost:8765",
		ControlPort:       8095,
		ScanInterval:      2 * time.Second,
		ScanMaxAttempts:   5,
		ScanTimeout:       10 * time.Second,
		JPEGQuality:       80,
		PingInterval:      30 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadTimeout:       60 * time.Second,
		MaxMessageSize:    16 << 20,
		AudioOutput:       "ffplay",
		PlaybackHighWater: 64,
		VisualizerFPS:     30,
		CameraDevice:      "/dev/video0",
		MicDevice:         "default",
		FFmpegPath:        "ffmpeg",
		FFplayPath:        "ffplay",
		CacheDSN:          "file:bridge_cache?mode=memory&cache=shared",
		LogLevel:          "info",
	}
}

// Load loads configuration from an optional .env file, an optional TOML file
// named by BRIDGE_CONFIG_FILE and environment variables, in increasing
// priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("WARN: failed to load .env: %v", err)
	}

	cfg := Default()
	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted safely.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BrainURL, "ws://") && !strings.HasPrefix(c.BrainURL, "wss://") {
		return fmt.Errorf("invalid BRAIN_URL %q: must be a ws:// or wss:// URL", c.BrainURL)
	}
	if c.ScanMaxAttempts <= 0 {
		return fmt.Errorf("SCAN_MAX_ATTEMPTS must be positive, got %d", c.ScanMaxAttempts)
	}
	if c.ScanInterval <= 0 || c.ScanTimeout <= 0 {
		return fmt.Errorf("scan interval and timeout must be positive")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("JPEG_QUALITY must be within 1..100, got %d", c.JPEGQuality)
	}
	switch c.AudioOutput {
	case "ffplay", "null":
	default:
		return fmt.Errorf("AUDIO_OUTPUT must be ffplay or null, got %q", c.AudioOutput)
	}
	return nil
}

// Debug reports whether debug logging is enabled.
func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func (c *Config) applyFile(path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	setString(&c.BrainURL, fc.Brain.URL)
	setInt(&c.ControlPort, fc.Control.Port)
	setDurationMS(&c.ScanInterval, fc.Scan.IntervalMS)
	setInt(&c.ScanMaxAttempts, fc.Scan.MaxAttempts)
	setDurationMS(&c.ScanTimeout, fc.Scan.TimeoutMS)
	setInt(&c.JPEGQuality, fc.Scan.JPEGQuality)
	setString(&c.AudioOutput, fc.Audio.Output)
	setInt(&c.PlaybackHighWater, fc.Audio.HighWater)
	setString(&c.FFplayPath, fc.Audio.FFplay)
	setString(&c.CameraDevice, fc.Devices.Camera)
	setString(&c.MicDevice, fc.Devices.Mic)
	setString(&c.FFmpegPath, fc.Devices.FFmpeg)
	if fc.Voice.Uplink {
		c.VoiceUplink = true
	}
	setString(&c.CacheDSN, fc.Cache.DSN)
	setString(&c.LogLevel, fc.LogLevel)
	return nil
}

func (c *Config) applyEnv() {
	c.BrainURL = getEnv("BRAIN_URL", c.BrainURL)
	c.ControlPort = getEnvInt("CONTROL_PORT", c.ControlPort)
	c.ScanInterval = getEnvDurationMS("SCAN_INTERVAL_MS", c.ScanInterval)
	c.ScanMaxAttempts = getEnvInt("SCAN_MAX_ATTEMPTS", c.ScanMaxAttempts)
	c.ScanTimeout = getEnvDurationMS("SCAN_TIMEOUT_MS", c.ScanTimeout)
	c.JPEGQuality = getEnvInt("JPEG_QUALITY", c.JPEGQuality)
	c.PingInterval = getEnvDurationMS("WS_PING_INTERVAL_MS", c.PingInterval)
	c.WriteTimeout = getEnvDurationMS("WS_WRITE_TIMEOUT_MS", c.WriteTimeout)
	c.ReadTimeout = getEnvDurationMS("WS_READ_TIMEOUT_MS", c.ReadTimeout)
	c.MaxMessageSize = int64(getEnvInt("WS_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.AudioOutput = getEnv("AUDIO_OUTPUT", c.AudioOutput)
	c.PlaybackHighWater = getEnvInt("PLAYBACK_HIGH_WATER", c.PlaybackHighWater)
	c.VisualizerFPS = getEnvInt("VISUALIZER_FPS", c.VisualizerFPS)
	c.VoiceUplink = getEnvBool("VOICE_UPLINK", c.VoiceUplink)
	c.CameraDevice = getEnv("CAMERA_DEVICE", c.CameraDevice)
	c.MicDevice = getEnv("MIC_DEVICE", c.MicDevice)
	c.FFmpegPath = getEnv("FFMPEG_PATH", c.FFmpegPath)
	c.FFplayPath = getEnv("FFPLAY_PATH", c.FFplayPath)
	c.CacheDSN = getEnv("CACHE_DSN", c.CacheDSN)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvDurationMS(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDurationMS(dst *time.Duration, ms int) {
	if ms != 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
