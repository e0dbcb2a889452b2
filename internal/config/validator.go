package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
)

// maxFilterPorts matches the port filter's limit.
const maxFilterPorts = 64

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Both captures must exist
	inputs := []struct{ key, path string }{
		{"input.capture_a", c.Input.CaptureA},
		{"input.capture_b", c.Input.CaptureB},
	}
	for _, in := range inputs {
		if in.path == "" {
			errs = append(errs, fmt.Sprintf("%s must be specified", in.key))
		} else if _, err := os.Stat(in.path); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("capture file not found: %s", in.path))
		}
	}

	// Local subnets must be valid CIDRs
	if len(c.Network.LocalSubnets) == 0 {
		errs = append(errs, "network.local_subnets must list at least one CIDR")
	}
	for _, s := range c.Network.LocalSubnets {
		if _, err := netip.ParsePrefix(strings.TrimSpace(s)); err != nil {
			if _, addrErr := netip.ParseAddr(strings.TrimSpace(s)); addrErr != nil {
				errs = append(errs, fmt.Sprintf("invalid local subnet CIDR %q: %v", s, err))
			}
		}
	}

	if len(c.Filter.UDPPorts) > maxFilterPorts {
		errs = append(errs, fmt.Sprintf("filter.udp_ports supports at most %d ports, got %d", maxFilterPorts, len(c.Filter.UDPPorts)))
	}
	for _, p := range c.Filter.UDPPorts {
		if p <= 0 || p > 65535 {
			errs = append(errs, fmt.Sprintf("filter.udp_ports entries must be between 1 and 65535, got %d", p))
		}
	}

	if c.Compare.RateThreshold <= 0 || c.Compare.RateThreshold > 1 {
		errs = append(errs, fmt.Sprintf("compare.rate_threshold must be in (0, 1], got %g", c.Compare.RateThreshold))
	}
	if c.Compare.StreamDirection != "local" && c.Compare.StreamDirection != "remote" {
		errs = append(errs, fmt.Sprintf("compare.stream_direction must be 'local' or 'remote', got %q", c.Compare.StreamDirection))
	}
	if c.Compare.SequenceWindow < 0 {
		errs = append(errs, "compare.sequence_window must be >= 0")
	}

	switch c.Output.Format {
	case "json", "yaml", "text":
	default:
		errs = append(errs, fmt.Sprintf("output.format must be one of json/yaml/text, got %q", c.Output.Format))
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		errs = append(errs, "logging.max_size_mb must be > 0 when logging.file is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
