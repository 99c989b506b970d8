package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/meowith/meowith/internal/bytesize"
)

// Config is the root configuration for a node or controller binary.
//
// Configuration sources, in order of precedence (highest first):
//  1. CLI flags
//  2. Environment variables (MEOWITH prefix)
//  3. YAML configuration file
//  4. Compiled-in defaults
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Node configures the storage-node role. Zero value if this process
	// never runs as a node.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Controller configures the controller role. Zero value if this
	// process never runs as a controller.
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`

	// Metadata configures the Cassandra/Scylla-backed metadata store.
	Metadata MetadataConfig `mapstructure:"metadata" yaml:"metadata"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior. Its fields line up with
// logger.Config so a loaded section can be passed straight to logger.Init.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log encoding.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry tracing and Pyroscope profiling.
type TelemetryConfig struct {
	Enabled    bool            `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string          `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool            `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64         `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
	Profiling  ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// NodeConfig configures the storage-node role: where it keeps chunk data,
// what it listens on, and the transfer tunables it applies to every
// placement plan it participates in.
type NodeConfig struct {
	// DataDir is the directory the ledger's badger instance and chunk
	// blobs live under. Required when this process runs the node role.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// MaxSpace bounds how much of DataDir the node will fill, fed to the
	// ledger at open time and reported in every heartbeat.
	MaxSpace bytesize.ByteSize `mapstructure:"max_space" yaml:"max_space"`

	// AdvertiseAddr is the host:port other nodes and the controller dial
	// to reach this node's MDSFTP listener. Required when this process
	// runs the node role, since the controller has no other way to learn
	// an address it did not bind itself.
	AdvertiseAddr string `mapstructure:"advertise_addr" yaml:"advertise_addr"`

	// MdsftpPort is the TCP port the node's MDSFTP listener binds.
	MdsftpPort int `mapstructure:"mdsftp_port" validate:"omitempty,min=1,max=65535" yaml:"mdsftp_port"`

	// MgppPort is the TCP port the node's MGPP listener/dial-out target binds.
	MgppPort int `mapstructure:"mgpp_port" validate:"omitempty,min=1,max=65535" yaml:"mgpp_port"`

	// InternalPort is the HTTP port serving this node's internal endpoints.
	InternalPort int `mapstructure:"internal_port" validate:"omitempty,min=1,max=65535" yaml:"internal_port"`

	// FragmentSize is the size of one FileChunk frame during transfer.
	FragmentSize bytesize.ByteSize `mapstructure:"fragment_size" yaml:"fragment_size"`

	// ChunkBuffer is the flow-control window size offered in ReserveOk/PutOk.
	ChunkBuffer int `mapstructure:"chunk_buffer" validate:"omitempty,min=1" yaml:"chunk_buffer"`

	// MaxReaders bounds concurrent readers of a single chunk id.
	MaxReaders int `mapstructure:"max_readers" validate:"omitempty,min=1" yaml:"max_readers"`

	// HeartbeatInterval is how often this node posts its capacity to the
	// controller.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`

	// ControllerBaseURL is the controller's internal API base URL, used
	// for heartbeat posts and storage-map fetches. Required when this
	// process runs the node role.
	ControllerBaseURL string `mapstructure:"controller_base_url" yaml:"controller_base_url"`

	// AccessToken authenticates this node to the controller's internal API.
	AccessToken string `mapstructure:"access_token" yaml:"access_token"`
}

// ControllerConfig configures the controller role: liveness accounting and
// the ports its MDSFTP/MGPP and HTTP listeners bind.
type ControllerConfig struct {
	// MdsftpPort is the TCP port the controller's MDSFTP listener binds,
	// used for accepting inter-node connections relayed for validation.
	MdsftpPort int `mapstructure:"mdsftp_port" validate:"omitempty,min=1,max=65535" yaml:"mdsftp_port"`

	// MgppPort is the TCP port the controller's MGPP listener binds, the
	// hub every node connects to for cache-invalidation relay.
	MgppPort int `mapstructure:"mgpp_port" validate:"omitempty,min=1,max=65535" yaml:"mgpp_port"`

	// APIPort is the HTTP port serving internal + public control-plane
	// endpoints.
	APIPort int `mapstructure:"api_port" validate:"omitempty,min=1,max=65535" yaml:"api_port"`

	// LivenessFloor is the minimum liveness threshold regardless of how
	// fast every registered node claims to heartbeat.
	LivenessFloor time.Duration `mapstructure:"liveness_floor" yaml:"liveness_floor"`

	// LivenessMultiplier scales the slowest registered heartbeat interval
	// to derive the liveness threshold.
	LivenessMultiplier int `mapstructure:"liveness_multiplier" validate:"omitempty,min=1" yaml:"liveness_multiplier"`

	// MaxReaders bounds concurrent readers of a single chunk id, reported
	// to every node via the autoconfigure/config exchange so the whole
	// cluster applies the same limit.
	MaxReaders int `mapstructure:"max_readers" validate:"omitempty,min=1" yaml:"max_readers"`

	// DefaultUserQuota is the storage quota, in bytes, a newly created app
	// user gets absent an explicit override.
	DefaultUserQuota int64 `mapstructure:"default_user_quota" yaml:"default_user_quota"`

	// LoginMethods lists the client authentication mechanisms this
	// cluster accepts, reported to nodes/dashboards via autoconfigure/config.
	LoginMethods []string `mapstructure:"login_methods" yaml:"login_methods"`

	// AppTokenSecret is the HMAC signing key shared with every node for
	// app-token JWTs (see pkg/peerauth.AppTokenConfig).
	AppTokenSecret string `mapstructure:"app_token_secret" validate:"omitempty,min=32" yaml:"app_token_secret"`

	// AccessTokenValidity bounds how long a node's access token (minted by
	// POST /api/internal/initialize/authenticate) remains valid before it
	// must re-authenticate with its renewal token.
	AccessTokenValidity time.Duration `mapstructure:"access_token_validity" yaml:"access_token_validity"`

	// CACertFile/CAKeyFile locate the PEM-encoded internal CA the
	// controller uses to sign node CSRs (POST /api/internal/security/csr).
	CACertFile string `mapstructure:"ca_cert_file" yaml:"ca_cert_file"`
	CAKeyFile  string `mapstructure:"ca_key_file" yaml:"ca_key_file"`
}

// MetadataConfig configures the Cassandra/Scylla-backed metadata store.
type MetadataConfig struct {
	// Hosts is the cluster's contact points.
	Hosts []string `mapstructure:"hosts" validate:"required,min=1" yaml:"hosts"`

	// Keyspace is the keyspace holding all tables.
	Keyspace string `mapstructure:"keyspace" validate:"required" yaml:"keyspace"`

	// Consistency is the default gocql consistency level name
	// (e.g. "QUORUM", "LOCAL_QUORUM", "ONE").
	Consistency string `mapstructure:"consistency" validate:"required" yaml:"consistency"`

	// ConnectTimeout bounds cluster connection setup.
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`

	// Username/Password authenticate against the cluster when set.
	Username string `mapstructure:"username" yaml:"username,omitempty"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults, applying
// precedence CLI flags > env vars > YAML file > defaults.
//
// flags, when non-nil, is bound above viper's env/file layers so any flag
// the caller actually set on the command line wins.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound && flags == nil {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with a helpful error if no config file is
// found at the default location and none was specified explicitly.
func MustLoad(configPath string, flags *pflag.FlagSet) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first, or pass --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath, flags)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML with restricted permissions, since
// it may carry an access token or Cassandra credentials.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires environment variable and config-file discovery.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("MEOWITH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks composes the custom mapstructure decode hooks used to
// unmarshal human-readable sizes and durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings/numbers to bytesize.ByteSize, so
// config files can say "64Ki" or "1Gi" instead of a raw byte count.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration ("30s", "5m", "1h").
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "meowith")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "meowith")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
