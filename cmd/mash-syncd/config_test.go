package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/discovery"
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/transport"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

const sampleConfig = `
device:
  id: 4097
  name: wallbox
listen: ":9100"
data_dir: /var/lib/mash
eventlog:
  level: production
  buffers:
    critical: 1024
    debug: 512
upload:
  collector: 10.0.0.5:8765
  interval: 5m
  compression: zstd
  levels: [critical, production]
collector:
  enabled: true
subscriptions:
  - address: 10.0.0.7:8765
    device_id: 8194
    profiles: [0x00010002]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint64(4097), cfg.Device.ID)
	assert.Equal(t, "SN-0000000000001001", cfg.Device.Serial)
	assert.Equal(t, "MASH Reference", cfg.Device.Vendor, "defaults survive")
	assert.Equal(t, uint16(9100), cfg.Port())
	assert.Equal(t, 5*time.Minute, cfg.Upload.Interval)
	assert.Equal(t, filepath.Join("/var/lib/mash", "archives"), cfg.Collector.ArchiveDir)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, eventlog.Production, level)

	buffers, err := cfg.BufferSizes()
	require.NoError(t, err)
	assert.Equal(t, 1024, buffers[eventlog.ProductionCritical])
	assert.Equal(t, 512, buffers[eventlog.Debug])
	assert.Equal(t, 8192, buffers[eventlog.Info], "unlisted levels keep the default")

	comp, err := cfg.Compression()
	require.NoError(t, err)
	assert.Equal(t, wire.CompressionZstd, comp)

	levels, err := cfg.UploadLevels()
	require.NoError(t, err)
	assert.Equal(t, []eventlog.Importance{eventlog.ProductionCritical, eventlog.Production}, levels)

	assert.Equal(t, []discovery.Role{discovery.RolePublisher, discovery.RoleSubscriber, discovery.RoleCollector}, cfg.Roles())
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadConfig(writeConfig(t, "device: [1, 2"))
	assert.ErrorContains(t, err, "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"missing device id", func(c *Config) { c.Device.ID = 0 }, "device.id"},
		{"bad level", func(c *Config) { c.EventLog.Level = "loud" }, "loud"},
		{"bad buffer name", func(c *Config) { c.EventLog.Buffers = map[string]int{"huge": 1} }, "eventlog.buffers"},
		{"zero buffer", func(c *Config) { c.EventLog.Buffers = map[string]int{"info": 0} }, "size must be positive"},
		{"bad compression", func(c *Config) { c.Upload.Compression = "gzip" }, "unknown codec"},
		{"bad upload level", func(c *Config) { c.Upload.Levels = []string{"trace"} }, "upload.levels"},
		{"subscription without address", func(c *Config) {
			c.Subscriptions = []RemoteSubscription{{DeviceID: 1}}
		}, "address must be set"},
		{"unknown profile", func(c *Config) {
			c.Subscriptions = []RemoteSubscription{{Address: "a:1", DeviceID: 1, Profiles: []uint32{0xdead}}}
		}, "unknown profile 0x0000dead"},
		{"simulate interval", func(c *Config) { c.Simulate = true; c.SimulateInterval = 0 }, "simulate_interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Device.ID = 1
			tc.modify(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.errMsg)
		})
	}

	cfg := DefaultConfig()
	cfg.Device.ID = 1
	assert.NoError(t, cfg.Validate())
	assert.Empty(t, cfg.Collector.ArchiveDir)
	assert.Equal(t, []discovery.Role{discovery.RolePublisher}, cfg.Roles())
}

func TestPort(t *testing.T) {
	for listen, want := range map[string]uint16{
		":9000":          9000,
		"127.0.0.1:0":    transport.DefaultPort,
		"[::1]:8800":     8800,
		"no-port":        transport.DefaultPort,
		"localhost:http": transport.DefaultPort,
	} {
		c := Config{Listen: listen}
		assert.Equal(t, want, c.Port(), listen)
	}
}

func TestLoadConfigFlags(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	cfg, err := loadConfig([]string{
		"-c", path,
		"--name", "garage",
		"--listen", "127.0.0.1:9200",
		"--discovery=false",
		"--serve-uploads=false",
		"-i",
	})
	require.NoError(t, err)

	assert.Equal(t, "garage", cfg.Device.Name)
	assert.Equal(t, uint64(4097), cfg.Device.ID, "unset flags keep file values")
	assert.Equal(t, "127.0.0.1:9200", cfg.Listen)
	assert.False(t, cfg.Discovery.Enabled)
	assert.False(t, cfg.Collector.Enabled)
	assert.True(t, cfg.Interactive)
	assert.Equal(t, "10.0.0.5:8765", cfg.Upload.Collector)

	_, err = loadConfig([]string{"--name", "x"})
	assert.ErrorContains(t, err, "device.id")

	_, err = loadConfig([]string{"--no-such-flag"})
	assert.Error(t, err)
}
