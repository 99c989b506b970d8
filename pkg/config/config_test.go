package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigPassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	require.NoError(t, Validate(cfg))
}

func TestApplyDefaultsNormalizesLogLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "debug", Format: "json", Output: "stderr"}}
	ApplyDefaults(cfg)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestApplyDefaultsFillsNodeTunablesFromPackageDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.EqualValues(t, 65535, cfg.Node.FragmentSize)
	assert.Equal(t, 8, cfg.Node.ChunkBuffer)
	assert.Equal(t, 256, cfg.Node.MaxReaders)
	assert.Equal(t, 2*time.Second, cfg.Node.HeartbeatInterval)
}

func TestApplyDefaultsFillsControllerLiveness(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	assert.Equal(t, 5*time.Second, cfg.Controller.LivenessFloor)
	assert.Equal(t, 3, cfg.Controller.LivenessMultiplier)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "TRACE"
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oneof")
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Controller.APIPort = 70000
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APIPort")
}

func TestValidateRejectsMissingMetadataHosts(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metadata.Hosts = nil
	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Hosts")
}
