// Package report renders comparison results.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"bcudp-compare/internal/bcudp"
	"bcudp-compare/internal/compare"
	"bcudp-compare/internal/flow"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatText = "text"
)

// Formats lists the supported output formats.
var Formats = []string{FormatJSON, FormatYAML, FormatText}

// Reporter writes a comparison result to stdout or a file.
type Reporter struct {
	format     string
	exportFile string
	stdout     io.Writer
}

// NewReporter creates a reporter. An empty exportFile writes to stdout.
func NewReporter(format, exportFile string) *Reporter {
	return &Reporter{
		format:     format,
		exportFile: exportFile,
		stdout:     os.Stdout,
	}
}

// Write renders r in the configured format.
func (rp *Reporter) Write(r *compare.Result) error {
	if rp.exportFile == "" {
		return Encode(rp.stdout, rp.format, r)
	}

	f, err := os.Create(rp.exportFile)
	if err != nil {
		return fmt.Errorf("failed to create report file %s: %w", rp.exportFile, err)
	}
	if err := Encode(f, rp.format, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file %s: %w", rp.exportFile, err)
	}

	log.WithFields(log.Fields{
		"file":   rp.exportFile,
		"format": rp.format,
	}).Info("Comparison report written")
	return nil
}

// Encode writes r to w as JSON, YAML or a text summary.
func Encode(w io.Writer, format string, r *compare.Result) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal report JSON: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to marshal report YAML: %w", err)
		}
		return enc.Close()
	case FormatText:
		_, err := io.WriteString(w, FormatSummary(r))
		return err
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

// FormatSummary generates a short text summary of r.
func FormatSummary(r *compare.Result) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n=== BCUDP Capture Comparison (run %s) ===\n", r.RunID))
	sb.WriteString(fmt.Sprintf("A: %s  |  B: %s\n", r.A.Name, r.B.Name))

	sb.WriteString("Packets:\n")
	for _, s := range []*flow.Session{r.A, r.B} {
		sb.WriteString(fmt.Sprintf("  %-12s discovery=%-5d data=%-6d ack=%-6d frames=%-6d truncated=%t\n",
			s.Name+":", s.Count(bcudp.KindDiscovery), s.Count(bcudp.KindData), s.Count(bcudp.KindAck),
			s.Counters.Frames, s.Counters.Truncated))
	}

	sb.WriteString("Streams:\n")
	for _, sc := range r.Streams {
		flag := ""
		if sc.RateDegraded {
			flag = "  RATE DEGRADED"
		}
		sb.WriteString(fmt.Sprintf("  %-12s %-5s count %d/%d (%.1f%%)  rate %.2f/%.2f pkt/s%s\n",
			sc.Direction, sc.Kind, sc.CountA, sc.CountB, sc.Ratio*100, sc.RateA, sc.RateB, flag))
	}

	sb.WriteString("First packets:\n")
	for _, pc := range r.FirstPackets {
		switch {
		case !pc.FoundA || !pc.FoundB:
			sb.WriteString(fmt.Sprintf("  %-10s missing (a=%t, b=%t)\n", pc.Kind, pc.FoundA, pc.FoundB))
		case pc.Identical:
			sb.WriteString(fmt.Sprintf("  %-10s identical (%d bytes)\n", pc.Kind, pc.LengthA))
		default:
			sb.WriteString(fmt.Sprintf("  %-10s different at byte %d (%d vs %d bytes)\n",
				pc.Kind, pc.FirstDifference, pc.LengthA, pc.LengthB))
		}
	}

	sb.WriteString(fmt.Sprintf("Discovery completed: a=#%d  b=#%d\n", r.SequenceA.DiscoveryIndex, r.SequenceB.DiscoveryIndex))
	sb.WriteString(fmt.Sprintf("Stream rate degraded (%s data): %t\n", r.StreamDirection, r.StreamRateDegraded))
	sb.WriteString("================================================\n")
	return sb.String()
}
