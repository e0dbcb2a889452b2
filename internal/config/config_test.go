package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pcap")
	b := filepath.Join(dir, "b.pcapng")
	require.NoError(t, os.WriteFile(a, []byte{0xd4, 0xc3, 0xb2, 0xa1}, 0o644))
	require.NoError(t, os.WriteFile(b, []byte{0x0a, 0x0d, 0x0d, 0x0a}, 0o644))

	v := viper.New()
	SetDefaults(v)
	v.Set("input.capture_a", a)
	v.Set("input.capture_b", b)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "a", cfg.Input.LabelA)
	assert.Equal(t, "b", cfg.Input.LabelB)
	assert.Equal(t, []string{"192.168.0.0/16"}, cfg.Network.LocalSubnets)
	assert.Empty(t, cfg.Filter.UDPPorts)
	assert.Equal(t, 0.5, cfg.Compare.RateThreshold)
	assert.Equal(t, "local", cfg.Compare.StreamDirection)
	assert.Equal(t, 50, cfg.Compare.SequenceWindow)
	assert.Equal(t, "json", cfg.Output.Format)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 100, cfg.Logging.MaxSizeMB)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
input:
  capture_a: neolink.pcapng
  capture_b: scrypted.json
  label_a: neolink
network:
  local_subnets: ["10.10.0.0/16", "192.168.1.0/24"]
filter:
  udp_ports: [32100, 32108]
compare:
  rate_threshold: 0.25
  stream_direction: remote
output:
  format: yaml
logging:
  level: debug
  file: /tmp/bcudp-compare.log
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "neolink.pcapng", cfg.Input.CaptureA)
	assert.Equal(t, "neolink", cfg.Input.LabelA)
	assert.Equal(t, "b", cfg.Input.LabelB)
	assert.Equal(t, []string{"10.10.0.0/16", "192.168.1.0/24"}, cfg.Network.LocalSubnets)
	assert.Equal(t, []int{32100, 32108}, cfg.Filter.UDPPorts)
	assert.Equal(t, []uint16{32100, 32108}, cfg.Ports())
	assert.Equal(t, 0.25, cfg.Compare.RateThreshold)
	assert.Equal(t, "remote", cfg.Compare.StreamDirection)
	assert.Equal(t, 50, cfg.Compare.SequenceWindow)
	assert.Equal(t, "yaml", cfg.Output.Format)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, validConfig(t).Validate())
}

func TestValidate_BareAddressSubnet(t *testing.T) {
	cfg := validConfig(t)
	cfg.Network.LocalSubnets = []string{"192.168.1.20"}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing capture", func(c *Config) { c.Input.CaptureA = "" }, "input.capture_a must be specified"},
		{"absent capture", func(c *Config) { c.Input.CaptureB = "/nonexistent/b.pcap" }, "capture file not found"},
		{"bad subnet", func(c *Config) { c.Network.LocalSubnets = []string{"192.168.0.0/99"} }, "invalid local subnet"},
		{"no subnets", func(c *Config) { c.Network.LocalSubnets = nil }, "at least one CIDR"},
		{"bad port", func(c *Config) { c.Filter.UDPPorts = []int{0} }, "between 1 and 65535"},
		{"threshold", func(c *Config) { c.Compare.RateThreshold = 1.5 }, "compare.rate_threshold"},
		{"direction", func(c *Config) { c.Compare.StreamDirection = "camera" }, "compare.stream_direction"},
		{"window", func(c *Config) { c.Compare.SequenceWindow = -1 }, "compare.sequence_window"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"rotation", func(c *Config) { c.Logging.File = "x.log"; c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Output.Format = "xml"
	cfg.Logging.Level = "verbose"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "output.format")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestSummary(t *testing.T) {
	cfg := validConfig(t)
	s := cfg.Summary()
	assert.Contains(t, s, "192.168.0.0/16")
	assert.Contains(t, s, "UDP Ports:     all")
	assert.Contains(t, s, "stdout (json)")
}
