package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mav-lite.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 30, cfg.StatsIntervalSecs)
	assert.Equal(t, uint16(5760), cfg.TCP.ListenPort)
	assert.Equal(t, "0.0.0.0", cfg.TCP.BindAddr)
	assert.Equal(t, "0.0.0.0:5760", cfg.TCPAddr())
	assert.Empty(t, cfg.UART)
	assert.False(t, cfg.UARTDiscovery.Enabled)
	assert.Equal(t, "/dev/ttyACM*", cfg.UARTDiscovery.DevicePattern)
	assert.Equal(t, 57600, cfg.UARTDiscovery.BaudRate)
	assert.Equal(t, 5, cfg.UARTDiscovery.DetectionTimeoutSecs)
	assert.Equal(t, 30, cfg.UARTDiscovery.RescanIntervalSecs)
	assert.False(t, cfg.Routing.AllowUARTToUART)
	assert.True(t, cfg.Routing.AllowTCPToTCP)
	assert.True(t, cfg.Routing.AllowUARTToTCP)
	assert.True(t, cfg.Routing.AllowTCPToUART)
	assert.Empty(t, cfg.Metrics.ListenAddr)
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
log_level = "debug"
stats_interval_secs = 0

[tcp]
listen_port = 14550
bind_addr = "127.0.0.1"

[[uart]]
path = "/dev/ttyUSB0"
baud_rate = 115200
name = "Drone 1"

[[uart]]
path = "/dev/ttyUSB1"

[uart_discovery]
enabled = true
device_pattern = "/dev/ttyACM*"
baud_rate = 57600
detection_timeout_secs = 3
rescan_interval_secs = 10

[routing]
allow_uart_to_uart = true
allow_tcp_to_tcp = false

[metrics]
listen_addr = ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Zero(t, cfg.StatsIntervalSecs)
	assert.Equal(t, "127.0.0.1:14550", cfg.TCPAddr())

	require.Len(t, cfg.UART, 2)
	assert.Equal(t, "/dev/ttyUSB0", cfg.UART[0].Path)
	assert.Equal(t, 115200, cfg.UART[0].BaudRate)
	assert.Equal(t, "Drone 1", cfg.UART[0].Name)
	// baud defaults when omitted
	assert.Equal(t, 57600, cfg.UART[1].BaudRate)

	assert.True(t, cfg.UARTDiscovery.Enabled)
	assert.Equal(t, 3, cfg.UARTDiscovery.DetectionTimeoutSecs)

	assert.True(t, cfg.Routing.AllowUARTToUART)
	assert.False(t, cfg.Routing.AllowTCPToTCP)
	// untouched directions keep their defaults
	assert.True(t, cfg.Routing.AllowUARTToTCP)
	assert.True(t, cfg.Routing.AllowTCPToUART)

	assert.Equal(t, ":9090", cfg.Metrics.ListenAddr)
}

func TestLoadErrors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"malformed toml", `log_level = `},
		{"bad log level", `log_level = "verbose"`},
		{"uart missing path", "[[uart]]\nbaud_rate = 57600\n"},
		{"discovery without pattern", "[uart_discovery]\nenabled = true\ndevice_pattern = \"\"\n"},
		{"discovery zero timeout", "[uart_discovery]\nenabled = true\ndetection_timeout_secs = 0\n"},
		{"zero port", "[tcp]\nlisten_port = 0\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}
