// Command sequence-report replays a recorded detection stream through the
// tracker and order verifier, then reports whether objects first appeared
// in the expected order.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/sequence.report/internal/config"
	"github.com/banshee-data/sequence.report/internal/fsutil"
	"github.com/banshee-data/sequence.report/internal/monitoring"
	"github.com/banshee-data/sequence.report/internal/timeutil"
	"github.com/banshee-data/sequence.report/internal/version"
	"github.com/banshee-data/sequence.report/internal/vision/l2tracks"
	"github.com/banshee-data/sequence.report/internal/vision/monitor"
	"github.com/banshee-data/sequence.report/internal/vision/pipeline"
	"github.com/banshee-data/sequence.report/internal/vision/replay"
	"github.com/banshee-data/sequence.report/internal/vision/storage/sqlite"
	"gopkg.in/natefinch/lumberjack.v2"
)

// options holds the parsed command line.
type options struct {
	configPath  string
	input       string
	expected    string
	tolerance   int
	distance    string
	assignment  string
	csvPath     string
	dbPath      string
	plotDir     string
	listen      string
	logLevel    string
	logFile     string
	fps         float64
	showVersion bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("sequence-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "Tuning config (.json/.yaml); defaults to "+config.DefaultConfigPath+" when present")
	fs.StringVar(&o.input, "input", "", "Recorded detections (JSON lines); - reads stdin")
	fs.StringVar(&o.expected, "expected", "", "Comma-separated expected first-appearance order (overrides config)")
	fs.IntVar(&o.tolerance, "tolerance", -1, "Order violations absorbed before the order is broken (overrides config)")
	fs.StringVar(&o.distance, "distance", "euclidean", "Distance function: euclidean, mean_euclidean or iou (iou needs distance_threshold <= 1)")
	fs.StringVar(&o.assignment, "assignment", "", "Assignment solver: greedy or hungarian (overrides config)")
	fs.StringVar(&o.csvPath, "csv", "", "Write the tracking history CSV to this path")
	fs.StringVar(&o.dbPath, "db", "", "Record the session into this SQLite database")
	fs.StringVar(&o.plotDir, "plots", "", "Write per-track trajectory PNGs into this directory")
	fs.StringVar(&o.listen, "listen", "", "Serve the monitor on this address (e.g. :8090) until interrupted")
	fs.StringVar(&o.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFile, "log-file", "", "Also write logs to this file, rotated")
	fs.Float64Var(&o.fps, "fps", 30, "Frame rate used to timestamp recorded frames")
	fs.BoolVar(&o.showVersion, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.showVersion {
		return o, nil
	}
	if o.input == "" {
		return o, errors.New("-input is required")
	}
	if _, ok := l2tracks.DistanceByName(o.distance); !ok {
		return o, fmt.Errorf("unknown -distance %q", o.distance)
	}
	return o, nil
}

// loadTuning resolves the tuning config and applies command-line overrides.
func loadTuning(o options) (*config.TuningConfig, error) {
	var (
		tuning *config.TuningConfig
		err    error
	)
	switch {
	case o.configPath != "":
		tuning, err = config.LoadTuningConfig(o.configPath)
	case fileExists(config.DefaultConfigPath):
		tuning, err = config.LoadTuningConfig(config.DefaultConfigPath)
	default:
		tuning = config.DefaultTuningConfig()
	}
	if err != nil {
		return nil, err
	}

	if o.expected != "" {
		var order []string
		for _, label := range strings.Split(o.expected, ",") {
			order = append(order, strings.TrimSpace(label))
		}
		tuning.ExpectedOrder = order
	}
	if o.tolerance >= 0 {
		tuning.ToleranceLimit = &o.tolerance
	}
	if o.assignment != "" {
		tuning.Assignment = &o.assignment
	}
	if err := tuning.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return tuning, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func configureLogging(o options, stderr io.Writer) (io.Closer, error) {
	var out io.Writer = stderr
	var closer io.Closer
	if o.logFile != "" {
		lj := &lumberjack.Logger{
			Filename:   o.logFile,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    50,
			MaxAge:     14,
			MaxBackups: 3,
		}
		out = io.MultiWriter(stderr, lj)
		closer = lj
	}
	if err := monitoring.Configure(o.logLevel, out); err != nil {
		return nil, fmt.Errorf("invalid -log-level: %w", err)
	}
	return closer, nil
}

func openInput(path string, stdin io.Reader) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String())
		return nil
	}

	closer, err := configureLogging(o, stderr)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	tuning, err := loadTuning(o)
	if err != nil {
		return err
	}

	in, err := openInput(o.input, stdin)
	if err != nil {
		return err
	}
	defer in.Close()
	src := replay.NewSource(in)
	classes, err := src.Classes()
	if err != nil {
		return err
	}

	cfg := pipeline.ConfigFromTuning(tuning)
	cfg.Classes = classes
	cfg.Distance, _ = l2tracks.DistanceByName(o.distance)
	clock := timeutil.NewFrameClock(time.Now(), o.fps)

	var (
		store     *sqlite.Store
		storeSink *pipeline.StoreSink
		opts      = []pipeline.Option{pipeline.WithClock(clock)}
	)
	if o.dbPath != "" {
		store, err = sqlite.Open(o.dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		storeSink, err = pipeline.NewStoreSink(ctx, store, cfg.Order, timeutil.RealClock{})
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithSinks(storeSink))
	}

	session, err := pipeline.New(cfg, opts...)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	serveCtx, stopServe := context.WithCancel(ctx)
	defer func() {
		stopServe()
		wg.Wait()
	}()
	if o.listen != "" {
		ws, err := monitor.NewWebServer(monitor.WebServerConfig{Address: o.listen, Session: session, Store: store})
		if err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(serveCtx); err != nil {
				monitoring.Logf("monitor stopped: %v", err)
			}
		}()
	}

	summary, runErr := session.Run(ctx, src, replay.Detector{})
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		monitoring.Logf("run stopped after %d frames: %v", summary.Frames, runErr)
	}

	// The recorder is valid after any stop; outputs are written regardless.
	var errs []error
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		errs = append(errs, runErr)
	}
	if storeSink != nil {
		if err := storeSink.Finish(context.WithoutCancel(ctx), summary); err != nil {
			errs = append(errs, fmt.Errorf("finish session: %w", err))
		}
	}
	if o.csvPath != "" {
		if err := session.Recorder().ExportFile(fsutil.OSFileSystem{}, o.csvPath); err != nil {
			errs = append(errs, err)
		} else {
			monitoring.Logf("wrote %d records to %s", session.Recorder().Len(), o.csvPath)
		}
	}
	if o.plotDir != "" {
		paths, err := monitor.NewTrajectoryPlotter().SavePerTrack(fsutil.OSFileSystem{}, o.plotDir, session.Recorder().Records())
		if err != nil {
			errs = append(errs, fmt.Errorf("write plots: %w", err))
		} else {
			monitoring.Logf("wrote %d trajectory plots to %s", len(paths), o.plotDir)
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		errs = append(errs, fmt.Errorf("write summary: %w", err))
	}

	if o.listen != "" && ctx.Err() == nil {
		monitoring.Logf("replay complete; monitor still serving on %s until interrupted", o.listen)
		<-ctx.Done()
	}
	return errors.Join(errs...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "sequence-report: %v\n", err)
		os.Exit(1)
	}
}
