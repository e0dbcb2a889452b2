package main

import (
	"errors"
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"bcudp-compare/internal/compare"
	"bcudp-compare/internal/config"
	"bcudp-compare/internal/flow"
	"bcudp-compare/internal/pcap"
	"bcudp-compare/internal/report"
	"bcudp-compare/internal/stats"
)

var (
	version   = "1.0.0"
	cfgFile   string
	statsOnly bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "bcudp-compare",
		Short: "BCUDP capture comparator - compare two captures of the same camera session",
		Long: `Reads two capture files (pcap, pcapng or a Wireshark JSON export), decodes the
BCUDP framing carried in their UDP payloads and reports how the two packet streams
diverge in counts, rates, sequence gaps and first-packet bytes.`,
		Version: version,
		RunE:    run,
	}

	// Configuration file
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Configuration file path (default: config.yaml)")

	// CLI overrides
	rootCmd.Flags().StringP("capture-a", "a", "", "Reference capture file")
	rootCmd.Flags().StringP("capture-b", "b", "", "Capture file compared against the reference")
	rootCmd.Flags().String("label-a", "", "Label for capture A")
	rootCmd.Flags().String("label-b", "", "Label for capture B")
	rootCmd.Flags().StringSlice("local", nil, "Local endpoint subnets (CIDR, repeatable)")
	rootCmd.Flags().IntSlice("ports", nil, "Only decode UDP datagrams on these ports")
	rootCmd.Flags().Float64("threshold", 0, "Rate ratio below which a stream is flagged")
	rootCmd.Flags().String("direction", "", "Data stream behind the headline rate flag (local|remote)")
	rootCmd.Flags().Int("window", -1, "Packets listed after discovery")
	rootCmd.Flags().String("format", "", "Output format (json|yaml|text)")
	rootCmd.Flags().StringP("output", "o", "", "Output file (default: stdout)")
	rootCmd.Flags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.Flags().String("log-file", "", "Rotating log file")
	rootCmd.Flags().BoolVar(&statsOnly, "stats-only", false, "Show per-capture packet statistics only, do not compare")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Load configuration
	v := viper.New()
	config.SetDefaults(v)

	// Load config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK if using CLI flags
		log.Debug("No config file found, using defaults and CLI flags")
	}

	// Bind CLI flags (override config file values)
	bindViperFlags(v, cmd)

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logging
	setupLogging(cfg)

	fmt.Fprintf(os.Stderr, "BCUDP Capture Comparator v%s\n", version)
	fmt.Fprintln(os.Stderr, "==============================")
	fmt.Fprint(os.Stderr, cfg.Summary())
	fmt.Fprintln(os.Stderr)

	if err := cfg.Validate(); err != nil {
		return err
	}

	subnets, err := flow.ParseSubnets(cfg.Network.LocalSubnets)
	if err != nil {
		return err
	}
	analyzer := flow.NewAnalyzer(subnets.Predicate())

	// The two pipelines share nothing; run them side by side.
	inputs := []struct{ label, path string }{
		{cfg.Input.LabelA, cfg.Input.CaptureA},
		{cfg.Input.LabelB, cfg.Input.CaptureB},
	}
	sessions := make([]*flow.Session, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, label, path string) {
			defer wg.Done()
			sessions[i], errs[i] = analyzeCapture(cfg, analyzer, label, path)
			if errs[i] != nil {
				log.WithError(errs[i]).WithField("capture", label).Error("Capture pipeline failed")
			}
		}(i, in.label, in.path)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	if statsOnly {
		for _, s := range sessions {
			showStats(s)
		}
		return nil
	}

	result := compare.Compare(sessions[0], sessions[1], compareOptions(cfg))

	reporter := report.NewReporter(cfg.Output.Format, cfg.Output.File)
	if err := reporter.Write(result); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// analyzeCapture runs one capture through reader, decoder and analyzer.
func analyzeCapture(cfg *config.Config, analyzer *flow.Analyzer, label, path string) (*flow.Session, error) {
	collector := stats.NewCollector()
	opts := pcap.Options{Collector: collector}

	if ports := cfg.Ports(); len(ports) > 0 {
		filter, err := pcap.NewPortFilter(ports)
		if err != nil {
			return nil, err
		}
		opts.Filter = filter
	}

	src, err := pcap.Open(path, opts)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	log.WithFields(log.Fields{
		"capture": label,
		"file":    path,
		"format":  src.Format().String(),
	}).Info("Reading capture")

	return analyzer.Analyze(label, src, collector)
}

func compareOptions(cfg *config.Config) compare.Options {
	opts := compare.Options{
		RateThreshold:   cfg.Compare.RateThreshold,
		StreamDirection: flow.FromLocal,
		SequenceWindow:  cfg.Compare.SequenceWindow,
	}
	if cfg.Compare.StreamDirection == "remote" {
		opts.StreamDirection = flow.FromRemote
	}
	return opts
}

func showStats(s *flow.Session) {
	c := s.Counters
	fmt.Printf("%s:\n", s.Name)
	fmt.Printf("  %-20s %d\n", "Frames:", c.Frames)
	fmt.Printf("  %-20s %d\n", "Filtered:", c.Filtered)
	fmt.Printf("  %-20s %d\n", "Non-UDP:", c.NonUDP)
	fmt.Printf("  %-20s %d\n", "Unknown magic:", c.UnknownMagic)
	fmt.Printf("  %-20s %d\n", "Undecodable:", c.Undecodable)
	for _, st := range s.Streams {
		fmt.Printf("  %-20s %-6d %.2f pkt/s\n", st.Direction.String()+" "+st.Kind.String()+":", st.Count, st.Rate)
	}
	if c.Truncated {
		fmt.Println("  capture is truncated")
	}
	if c.LengthMismatches > 0 {
		fmt.Printf("  %d block length mismatches\n", c.LengthMismatches)
	}
}

func setupLogging(cfg *config.Config) {
	level, err := log.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})

	if cfg.Logging.File != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAge:     cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		})
	} else {
		log.SetOutput(os.Stderr)
	}
}

func bindViperFlags(v *viper.Viper, cmd *cobra.Command) {
	if cmd.Flags().Changed("capture-a") {
		val, _ := cmd.Flags().GetString("capture-a")
		v.Set("input.capture_a", val)
	}
	if cmd.Flags().Changed("capture-b") {
		val, _ := cmd.Flags().GetString("capture-b")
		v.Set("input.capture_b", val)
	}
	if cmd.Flags().Changed("label-a") {
		val, _ := cmd.Flags().GetString("label-a")
		v.Set("input.label_a", val)
	}
	if cmd.Flags().Changed("label-b") {
		val, _ := cmd.Flags().GetString("label-b")
		v.Set("input.label_b", val)
	}
	if cmd.Flags().Changed("local") {
		val, _ := cmd.Flags().GetStringSlice("local")
		v.Set("network.local_subnets", val)
	}
	if cmd.Flags().Changed("ports") {
		val, _ := cmd.Flags().GetIntSlice("ports")
		v.Set("filter.udp_ports", val)
	}
	if cmd.Flags().Changed("threshold") {
		val, _ := cmd.Flags().GetFloat64("threshold")
		v.Set("compare.rate_threshold", val)
	}
	if cmd.Flags().Changed("direction") {
		val, _ := cmd.Flags().GetString("direction")
		v.Set("compare.stream_direction", val)
	}
	if cmd.Flags().Changed("window") {
		val, _ := cmd.Flags().GetInt("window")
		v.Set("compare.sequence_window", val)
	}
	if cmd.Flags().Changed("format") {
		val, _ := cmd.Flags().GetString("format")
		v.Set("output.format", val)
	}
	if cmd.Flags().Changed("output") {
		val, _ := cmd.Flags().GetString("output")
		v.Set("output.file", val)
	}
	if cmd.Flags().Changed("log-level") {
		val, _ := cmd.Flags().GetString("log-level")
		v.Set("logging.level", val)
	}
	if cmd.Flags().Changed("log-file") {
		val, _ := cmd.Flags().GetString("log-file")
		v.Set("logging.file", val)
	}
}
