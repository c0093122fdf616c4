package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/mash-sync/pkg/discovery"
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/transport"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

// Config holds the daemon configuration. It is read from a YAML file and
// selected fields can be overridden with flags.
type Config struct {
	Device   DeviceConfig `yaml:"device"`
	Listen   string       `yaml:"listen"`
	DataDir  string       `yaml:"data_dir"`
	LogLevel string       `yaml:"log_level"`

	// TraceFile receives protocol trace events. Empty disables tracing.
	TraceFile string `yaml:"trace_file"`

	// MetricsAddress serves /metrics. Empty disables the endpoint.
	MetricsAddress string `yaml:"metrics_address"`

	Discovery     DiscoveryConfig      `yaml:"discovery"`
	Subscription  SubscriptionConfig   `yaml:"subscription"`
	EventLog      EventLogConfig       `yaml:"eventlog"`
	Upload        UploadConfig         `yaml:"upload"`
	Collector     CollectorConfig      `yaml:"collector"`
	Subscriptions []RemoteSubscription `yaml:"subscriptions"`

	Simulate         bool          `yaml:"simulate"`
	SimulateInterval time.Duration `yaml:"simulate_interval"`
	Interactive      bool          `yaml:"-"`
}

// DeviceConfig identifies the local device.
type DeviceConfig struct {
	ID       uint64 `yaml:"id"`
	Name     string `yaml:"name"`
	Vendor   string `yaml:"vendor"`
	Serial   string `yaml:"serial"`
	Firmware string `yaml:"firmware"`
}

// DiscoveryConfig controls mDNS advertisement.
type DiscoveryConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interface string        `yaml:"interface"`
	TTL       time.Duration `yaml:"ttl"`
}

// SubscriptionConfig tunes the subscription engine.
type SubscriptionConfig struct {
	MaxHandlers       int           `yaml:"max_handlers"`
	MaxClients        int           `yaml:"max_clients"`
	PathStoreCapacity int           `yaml:"path_store_capacity"`
	MaxNotifySize     int           `yaml:"max_notify_size"`
	LivenessTimeout   time.Duration `yaml:"liveness_timeout"`
	ResponseTimeout   time.Duration `yaml:"response_timeout"`
}

// EventLogConfig sizes the event log.
type EventLogConfig struct {
	Level string `yaml:"level"`

	// Buffers maps importance names to ring sizes in bytes.
	Buffers map[string]int `yaml:"buffers"`
	Epoch   uint32         `yaml:"epoch"`
}

// UploadConfig controls periodic event log uploads.
type UploadConfig struct {
	// Collector is the collector address. Empty looks one up via mDNS
	// when discovery is enabled.
	Collector    string        `yaml:"collector"`
	Interval     time.Duration `yaml:"interval"`
	MaxBlockSize uint32        `yaml:"max_block_size"`
	Compression  string        `yaml:"compression"`
	Levels       []string      `yaml:"levels"`
}

// CollectorConfig enables the collector role.
type CollectorConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ArchiveDir  string        `yaml:"archive_dir"`
	MaxSessions int           `yaml:"max_sessions"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// RemoteSubscription mirrors profiles of a remote publisher.
type RemoteSubscription struct {
	Address  string   `yaml:"address"`
	DeviceID uint64   `yaml:"device_id"`
	Profiles []uint32 `yaml:"profiles"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Name:     "MASH sync device",
			Vendor:   "MASH Reference",
			Firmware: "1.0.0",
		},
		Listen:   fmt.Sprintf(":%d", transport.DefaultPort),
		DataDir:  "mash-sync-data",
		LogLevel: "info",
		Discovery: DiscoveryConfig{
			Enabled: true,
			TTL:     120 * time.Second,
		},
		EventLog: EventLogConfig{
			Level: eventlog.Info.String(),
			Buffers: map[string]int{
				eventlog.ProductionCritical.String(): 2048,
				eventlog.Production.String():         4096,
				eventlog.Info.String():               8192,
				eventlog.Debug.String():              4096,
			},
			Epoch: 256,
		},
		Upload: UploadConfig{
			Interval:    15 * time.Minute,
			Compression: "lz4",
		},
		Collector: CollectorConfig{
			MaxSessions: 4,
			IdleTimeout: time.Minute,
		},
		SimulateInterval: 5 * time.Second,
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills derived defaults.
func (c *Config) Validate() error {
	var errs []error
	if c.Device.ID == 0 {
		errs = append(errs, errors.New("device.id must be set"))
	}
	if c.Device.Serial == "" {
		c.Device.Serial = fmt.Sprintf("SN-%016x", c.Device.ID)
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.BufferSizes(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Compression(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.UploadLevels(); err != nil {
		errs = append(errs, err)
	}
	if c.Collector.Enabled && c.Collector.ArchiveDir == "" {
		c.Collector.ArchiveDir = c.DataDir + string(os.PathSeparator) + "archives"
	}
	for i, s := range c.Subscriptions {
		if s.Address == "" {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: address must be set", i))
		}
		if s.DeviceID == 0 {
			errs = append(errs, fmt.Errorf("subscriptions[%d]: device_id must be set", i))
		}
		for _, p := range s.Profiles {
			if _, ok := model.Lookup(p); !ok {
				errs = append(errs, fmt.Errorf("subscriptions[%d]: unknown profile 0x%08x", i, p))
			}
		}
	}
	if c.Simulate && c.SimulateInterval <= 0 {
		errs = append(errs, errors.New("simulate_interval must be positive"))
	}
	return errors.Join(errs...)
}

// Level returns the configured event log level.
func (c *Config) Level() (eventlog.Importance, error) {
	if c.EventLog.Level == "" {
		return eventlog.Info, nil
	}
	return eventlog.ParseImportance(c.EventLog.Level)
}

// BufferSizes returns the ring sizes keyed by importance.
func (c *Config) BufferSizes() (map[eventlog.Importance]int, error) {
	out := make(map[eventlog.Importance]int, len(c.EventLog.Buffers))
	for name, size := range c.EventLog.Buffers {
		imp, err := eventlog.ParseImportance(name)
		if err != nil {
			return nil, fmt.Errorf("eventlog.buffers: %w", err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("eventlog.buffers.%s: size must be positive", name)
		}
		out[imp] = size
	}
	return out, nil
}

// Compression returns the preferred upload block compression.
func (c *Config) Compression() (wire.Compression, error) {
	switch strings.ToLower(c.Upload.Compression) {
	case "", "none":
		return wire.CompressionNone, nil
	case "lz4":
		return wire.CompressionLZ4, nil
	case "zstd":
		return wire.CompressionZstd, nil
	default:
		return 0, fmt.Errorf("upload.compression: unknown codec %q", c.Upload.Compression)
	}
}

// UploadLevels returns the levels included in uploads. Empty means all.
func (c *Config) UploadLevels() ([]eventlog.Importance, error) {
	var out []eventlog.Importance
	for _, name := range c.Upload.Levels {
		imp, err := eventlog.ParseImportance(name)
		if err != nil {
			return nil, fmt.Errorf("upload.levels: %w", err)
		}
		out = append(out, imp)
	}
	return out, nil
}

// Roles returns the discovery roles the configuration enables.
func (c *Config) Roles() []discovery.Role {
	roles := []discovery.Role{discovery.RolePublisher}
	if len(c.Subscriptions) > 0 {
		roles = append(roles, discovery.RoleSubscriber)
	}
	if c.Collector.Enabled {
		roles = append(roles, discovery.RoleCollector)
	}
	return roles
}

// Port returns the TCP port of the listen address.
func (c *Config) Port() uint16 {
	i := strings.LastIndex(c.Listen, ":")
	if i < 0 {
		return transport.DefaultPort
	}
	p, err := strconv.ParseUint(c.Listen[i+1:], 10, 16)
	if err != nil || p == 0 {
		return transport.DefaultPort
	}
	return uint16(p)
}

// flagValues holds flag targets until they are merged into a Config.
type flagValues struct {
	configFile  string
	deviceID    uint64
	name        string
	listen      string
	dataDir     string
	logLevel    string
	trace       string
	metrics     string
	collector   string
	serve       bool
	discovery   bool
	simulate    bool
	interactive bool
}

func registerFlags(fs *pflag.FlagSet) *flagValues {
	v := &flagValues{}
	fs.StringVarP(&v.configFile, "config", "c", "", "Configuration file path (YAML)")
	fs.Uint64Var(&v.deviceID, "device-id", 0, "Numeric device id")
	fs.StringVar(&v.name, "name", "", "Device name")
	fs.StringVarP(&v.listen, "listen", "l", "", "Listen address")
	fs.StringVar(&v.dataDir, "data-dir", "", "Directory for counters and archives")
	fs.StringVar(&v.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&v.trace, "trace", "", "Write protocol trace events to this file")
	fs.StringVar(&v.metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&v.collector, "collector", "", "Upload the event log to this collector address")
	fs.BoolVar(&v.serve, "serve-uploads", false, "Accept event log uploads (collector role)")
	fs.BoolVar(&v.discovery, "discovery", true, "Advertise the sync endpoint via mDNS")
	fs.BoolVar(&v.simulate, "simulate", false, "Drive the local measurement object with synthetic data")
	fs.BoolVarP(&v.interactive, "interactive", "i", false, "Start the interactive console")
	return v
}

// apply overrides cfg with every flag that was set on the command line.
func (v *flagValues) apply(fs *pflag.FlagSet, cfg *Config) {
	if fs.Changed("device-id") {
		cfg.Device.ID = v.deviceID
	}
	if fs.Changed("name") {
		cfg.Device.Name = v.name
	}
	if fs.Changed("listen") {
		cfg.Listen = v.listen
	}
	if fs.Changed("data-dir") {
		cfg.DataDir = v.dataDir
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = v.logLevel
	}
	if fs.Changed("trace") {
		cfg.TraceFile = v.trace
	}
	if fs.Changed("metrics") {
		cfg.MetricsAddress = v.metrics
	}
	if fs.Changed("collector") {
		cfg.Upload.Collector = v.collector
	}
	if fs.Changed("serve-uploads") {
		cfg.Collector.Enabled = v.serve
	}
	if fs.Changed("discovery") {
		cfg.Discovery.Enabled = v.discovery
	}
	if fs.Changed("simulate") {
		cfg.Simulate = v.simulate
	}
	cfg.Interactive = v.interactive
}

// loadConfig parses args into a validated Config.
func loadConfig(args []string) (Config, error) {
	fs := pflag.NewFlagSet("mash-syncd", pflag.ContinueOnError)
	v := registerFlags(fs)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if v.configFile != "" {
		var err error
		cfg, err = LoadConfig(v.configFile)
		if err != nil {
			return Config{}, err
		}
	}
	v.apply(fs, &cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
