package config

import (
	"strings"
	"time"

	"github.com/meowith/meowith/internal/bytesize"
	"github.com/meowith/meowith/pkg/ledger"
	"github.com/meowith/meowith/pkg/storagemap"
	"github.com/meowith/meowith/pkg/transfer"
)

// ApplyDefaults fills any zero-valued fields with sensible defaults, after
// a config file and environment variables have already been applied.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	applyNodeDefaults(&cfg.Node)
	applyControllerDefaults(&cfg.Controller)
	applyMetadataDefaults(&cfg.Metadata)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"}
	}
}

// applyNodeDefaults fills the transfer and ledger tunables from the same
// defaults those packages apply internally when left unconfigured, so the
// config file only needs to name an override.
func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.MdsftpPort == 0 {
		cfg.MdsftpPort = DefaultMdsftpPort
	}
	if cfg.MgppPort == 0 {
		cfg.MgppPort = DefaultMgppPort
	}
	if cfg.FragmentSize == 0 {
		cfg.FragmentSize = bytesize.DefaultFragmentSize
	}
	if cfg.ChunkBuffer == 0 {
		cfg.ChunkBuffer = transfer.DefaultWindow
	}
	if cfg.MaxReaders == 0 {
		cfg.MaxReaders = ledger.DefaultMaxReaders
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = storagemap.DefaultHeartbeatInterval
	}
}

// DefaultMdsftpPort and DefaultMgppPort are the cluster's conventional
// internode ports, shared by both the node and controller roles.
const (
	DefaultMdsftpPort = 21101
	DefaultMgppPort   = 21102
)

func applyControllerDefaults(cfg *ControllerConfig) {
	if cfg.MdsftpPort == 0 {
		cfg.MdsftpPort = DefaultMdsftpPort
	}
	if cfg.MgppPort == 0 {
		cfg.MgppPort = DefaultMgppPort
	}
	if cfg.LivenessFloor == 0 {
		cfg.LivenessFloor = storagemap.DefaultLivenessFloor
	}
	if cfg.LivenessMultiplier == 0 {
		cfg.LivenessMultiplier = storagemap.LivenessMultiplier
	}
	if cfg.AccessTokenValidity == 0 {
		cfg.AccessTokenValidity = 24 * time.Hour
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Consistency == "" {
		cfg.Consistency = "QUORUM"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config with every section defaulted, useful
// for tests and for generating a sample config file.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Node: NodeConfig{
			DataDir:           "/var/lib/meowith/node",
			MaxSpace:          10 * bytesize.ByteSize(1<<30),
			InternalPort:      9901,
			ControllerBaseURL: "http://localhost:8080",
		},
		Controller: ControllerConfig{
			APIPort: 8080,
		},
		Metadata: MetadataConfig{
			Hosts:    []string{"127.0.0.1"},
			Keyspace: "meowith",
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
