package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_FILE", "")
	t.Setenv("BRAIN_URL", "")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "ws://localhost:8765", cfg.BrainURL)
	assert.Equal(t, 2*time.Second, cfg.ScanInterval)
	assert.Equal(t, 5, cfg.ScanMaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 80, cfg.JPEGQuality)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	content := `
log_level = "debug"

[brain]
url = "ws://brain.local:9000"

[scan]
max_attempts = 3
timeout_ms = 4000

[audio]
output = "null"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BRIDGE_CONFIG_FILE", path)
	t.Setenv("SCAN_MAX_ATTEMPTS", "7")
	t.Setenv("BRAIN_URL", "")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, "ws://brain.local:9000", cfg.BrainURL)
	assert.Equal(t, 7, cfg.ScanMaxAttempts)
	assert.Equal(t, 4*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "null", cfg.AudioOutput)
	assert.True(t, cfg.Debug())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.BrainURL = "http://localhost:8765"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ScanMaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.AudioOutput = "alsa"
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestVoiceUplinkFromEnv(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_FILE", "")
	t.Setenv("BRAIN_URL", "")
	t.Setenv("VOICE_UPLINK", "true")

	cfg, err := Load()
	assert.NoError(t, err)
	assert.True(t, cfg.VoiceUplink)

	t.Setenv("VOICE_UPLINK", "not-a-bool")
	cfg, err = Load()
	assert.NoError(t, err)
	assert.False(t, cfg.VoiceUplink)
}
