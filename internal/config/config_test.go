package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 115200, cfg.Serial.Baud)
	assert.Equal(t, 2*time.Second, cfg.Serial.ReadTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.Link.Settle)
	assert.Equal(t, 4, cfg.Link.QueryReplyLen)
	assert.Equal(t, 32, cfg.Link.ControlReplyLen)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.True(t, cfg.Metrics.Enable)
}

func TestLoad_FileEnvAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gimbal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
serial:
  device: /dev/ttyUSB1
  baud: 9600
link:
  controlReplyLen: 0
control:
  maxSpeed: 60
`), 0o644))

	t.Setenv("GIMBAL_HTTP_ADDR", ":9090")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("serial", "", "")
	flags.Int("baud", 0, "")
	require.NoError(t, flags.Parse([]string{"--serial", "/dev/ttyACM0"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Device, "flag wins over file")
	assert.Equal(t, 9600, cfg.Serial.Baud, "unset flag keeps file value")
	assert.Equal(t, 0, cfg.Link.ControlReplyLen)
	assert.Equal(t, 60, cfg.Control.MaxSpeed)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_RejectsNegativeLink(t *testing.T) {
	tests := map[string]string{
		"query reply":   "link:\n  queryReplyLen: -1\n",
		"control reply": "link:\n  controlReplyLen: -32\n",
		"settle":        "link:\n  settle: -50ms\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "gimbal.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

			_, err := Load(path, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "negative")
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}
