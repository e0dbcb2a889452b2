package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the capture comparator.
type Config struct {
	Input   InputConfig   `yaml:"input"   mapstructure:"input"`
	Network NetworkConfig `yaml:"network" mapstructure:"network"`
	Filter  FilterConfig  `yaml:"filter"  mapstructure:"filter"`
	Compare CompareConfig `yaml:"compare" mapstructure:"compare"`
	Output  OutputConfig  `yaml:"output"  mapstructure:"output"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

type InputConfig struct {
	CaptureA string `yaml:"capture_a" mapstructure:"capture_a"`
	CaptureB string `yaml:"capture_b" mapstructure:"capture_b"`
	LabelA   string `yaml:"label_a"   mapstructure:"label_a"`
	LabelB   string `yaml:"label_b"   mapstructure:"label_b"`
}

type NetworkConfig struct {
	// LocalSubnets are the CIDR ranges of the local endpoint.
	LocalSubnets []string `yaml:"local_subnets" mapstructure:"local_subnets"`
}

type FilterConfig struct {
	// UDPPorts restricts decoding to these ports; empty decodes every datagram.
	UDPPorts []int `yaml:"udp_ports" mapstructure:"udp_ports"`
}

type CompareConfig struct {
	RateThreshold   float64 `yaml:"rate_threshold"   mapstructure:"rate_threshold"`
	StreamDirection string  `yaml:"stream_direction" mapstructure:"stream_direction"`
	SequenceWindow  int     `yaml:"sequence_window"  mapstructure:"sequence_window"`
}

type OutputConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
	File   string `yaml:"file"   mapstructure:"file"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"        mapstructure:"level"`
	File       string `yaml:"file"         mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"  mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"  mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress"     mapstructure:"compress"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.label_a", "a")
	v.SetDefault("input.label_b", "b")
	v.SetDefault("network.local_subnets", []string{"192.168.0.0/16"})
	v.SetDefault("filter.udp_ports", []int{})
	v.SetDefault("compare.rate_threshold", 0.5)
	v.SetDefault("compare.stream_direction", "local")
	v.SetDefault("compare.sequence_window", 50)
	v.SetDefault("output.format", "json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Ports returns the filter ports as uint16. Call after Validate.
func (c *Config) Ports() []uint16 {
	ports := make([]uint16, 0, len(c.Filter.UDPPorts))
	for _, p := range c.Filter.UDPPorts {
		ports = append(ports, uint16(p))
	}
	return ports
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	ports := "all"
	if len(c.Filter.UDPPorts) > 0 {
		ports = fmt.Sprint(c.Filter.UDPPorts)
	}
	output := c.Output.File
	if output == "" {
		output = "stdout"
	}

	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Capture A:     %s (%s)\n", c.Input.CaptureA, c.Input.LabelA))
	sb.WriteString(fmt.Sprintf("  Capture B:     %s (%s)\n", c.Input.CaptureB, c.Input.LabelB))
	sb.WriteString(fmt.Sprintf("  Local:         %s\n", strings.Join(c.Network.LocalSubnets, ", ")))
	sb.WriteString(fmt.Sprintf("  UDP Ports:     %s\n", ports))
	sb.WriteString(fmt.Sprintf("  Threshold:     %.2f (%s data stream)\n", c.Compare.RateThreshold, c.Compare.StreamDirection))
	sb.WriteString(fmt.Sprintf("  Sequence:      %d packets after discovery\n", c.Compare.SequenceWindow))
	sb.WriteString(fmt.Sprintf("  Output:        %s (%s)\n", output, c.Output.Format))
	return sb.String()
}
