package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"

	recorder "github.com/AUVSL/rosbag-to-csv"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("topic-recorder %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "Path to recorder configuration file")
	interval := fs.Float64("interval", 0, "Sampling interval in seconds (overrides the config file)")
	output := fs.String("output", "", "Output path (overrides output.path)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := recorder.LoadConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(cfg, fs, *interval, *output); err != nil {
		return err
	}

	rt, err := recorder.NewRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return rt.Run(ctx)
}

// applyOverrides copies explicitly set flags onto cfg.
func applyOverrides(cfg *recorder.Config, fs *flag.FlagSet, interval float64, output string) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "interval":
			if interval <= 0 || math.IsNaN(interval) || math.IsInf(interval, 0) {
				err = fmt.Errorf("%w: -interval must be a positive number of seconds, got %v", recorder.ErrInvalidConfig, interval)
				return
			}
			cfg.Interval = time.Duration(interval * float64(time.Second))
		case "output":
			cfg.Output.Path = output
		}
	})
	return err
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "config.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := recorder.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Column", "Source", "Transport", "Message Type", "Field Path"})
	for _, sub := range cfg.Subscriptions {
		for _, f := range sub.Fields {
			table.Append([]string{f.Name, sub.TopicName, sub.Transport, sub.MessageType, f.FieldPath})
		}
	}
	table.Render()

	fmt.Printf("config %s looks good: %d columns, interval %s, output %s\n",
		*cfgPath, len(cfg.Schema().Fields), cfg.Interval, describeOutput(cfg))
	return nil
}

func describeOutput(cfg *recorder.Config) string {
	if cfg.Output.Format == "postgres" {
		return "postgres table " + cfg.Postgres.Table
	}
	return cfg.Output.Format + " " + cfg.Output.Path
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: 5 * time.Second}
	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(ctx, client, *url); err != nil && !errors.Is(err, context.Canceled) {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsMetrics = []string{
	"recorder_ticks_total",
	"recorder_ticks_skipped_total",
	"recorder_rows_total",
	"recorder_extraction_misses_total",
	"recorder_updates_total",
	"recorder_updates_dropped_total",
	"recorder_table_rows",
	"recorder_sources_stale",
	"recorder_journal_size_bytes",
}

func printMetricsSnapshot(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := readMetrics(resp.Body, statsMetrics)
	if err != nil {
		return err
	}

	parts := make([]string, 0, len(statsMetrics))
	for _, name := range statsMetrics {
		short := strings.TrimSuffix(strings.TrimPrefix(name, "recorder_"), "_total")
		parts = append(parts, fmt.Sprintf("%s=%s", short, strconv.FormatFloat(values[name], 'f', -1, 64)))
	}
	fmt.Printf("[%s] %s\n", time.Now().Format(time.RFC3339), strings.Join(parts, " "))
	return nil
}

// readMetrics parses Prometheus text format and returns the value of the
// first sample of each named counter, gauge or untyped family present.
func readMetrics(r io.Reader, names []string) (map[string]float64, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}

	values := make(map[string]float64, len(names))
	for _, name := range names {
		mf, ok := families[name]
		if !ok || len(mf.GetMetric()) == 0 {
			continue
		}
		if v, ok := sampleValue(mf.GetType(), mf.GetMetric()[0]); ok {
			values[name] = v
		}
	}
	return values, nil
}

func sampleValue(kind dto.MetricType, m *dto.Metric) (float64, bool) {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}

func printUsage() {
	fmt.Printf(`topic-recorder

Usage:
  topic-recorder <command> [flags]

Commands:
  run        Record the configured sources until interrupted, then export the table
  validate   Load and validate a config file and print the column schema
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  topic-recorder run -config config.yaml -interval 0.05 -output run.csv
  topic-recorder validate -config config.yaml
  topic-recorder stats -url http://localhost:9100/metrics -interval 1s
`)
}
