package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, version, err := ParseFlags(nil)
	require.NoError(t, err)
	require.False(t, version)
	require.Equal(t, "loop://", cfg.SerialPort)
	require.Equal(t, 9600, cfg.Baud)
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 25*time.Second, cfg.AckTimeout)
	require.Equal(t, "drop", cfg.MonitorPolicy)
	require.Equal(t, -1, cfg.ExplicitLength)
	require.False(t, cfg.Progress)
}

func TestParseFlags_FileAndExplicitLength(t *testing.T) {
	cfg, _, err := ParseFlags([]string{"--ssdv", "image.ssdv", "--explicit-length", "12345", "--progress"})
	require.NoError(t, err)
	require.Equal(t, "image.ssdv", cfg.File)
	require.Equal(t, 12345, cfg.ExplicitLength)
	require.True(t, cfg.Progress)
}

func TestParseFlags_FlagOverridesDefault(t *testing.T) {
	cfg, _, err := ParseFlags([]string{"--baud", "57600", "--batch-size", "50"})
	require.NoError(t, err)
	require.Equal(t, 57600, cfg.Baud)
	require.Equal(t, 50, cfg.BatchSize)
}

func TestParseFlags_EnvOverridesYAMLButNotFlag(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ssdv-link.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("baud: 4800\nbatch_size: 10\n"), 0o644))

	t.Setenv("SSDV_LINK_BAUD", "19200")

	cfg, _, err := ParseFlags([]string{"--config", yamlPath, "--batch-size", "20"})
	require.NoError(t, err)
	// env outranks yaml for baud (not flag-set)
	require.Equal(t, 19200, cfg.Baud)
	// flag outranks both yaml and env for batch-size
	require.Equal(t, 20, cfg.BatchSize)
}

func TestParseFlags_YAMLAppliesWhenNoFlagOrEnv(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "ssdv-link.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("ack_timeout: 5s\nmonitor_addr: \":9999\"\n"), 0o644))

	cfg, _, err := ParseFlags([]string{"--config", yamlPath})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.AckTimeout)
	require.Equal(t, ":9999", cfg.MonitorAddr)
}

func TestValidate_RejectsBadLogFormat(t *testing.T) {
	cfg, _, err := ParseFlags([]string{"--log-format", "xml"})
	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestValidate_RejectsOutOfRangeBatchSize(t *testing.T) {
	cfg, _, err := ParseFlags([]string{"--batch-size", "0"})
	require.Error(t, err)
	require.Nil(t, cfg)

	cfg, _, err = ParseFlags([]string{"--batch-size", "256"})
	require.Error(t, err)
	require.Nil(t, cfg)
}

func TestParseFlags_VersionFlag(t *testing.T) {
	cfg, version, err := ParseFlags([]string{"--version"})
	require.NoError(t, err)
	require.True(t, version)
	require.NotNil(t, cfg)
}
