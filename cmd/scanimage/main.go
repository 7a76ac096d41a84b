// Command scanimage acquires one image from a line-scan device and writes it
// as PNM or TIFF.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/sirupsen/logrus"

	"github.com/banshee-data/linescan/internal/config"
	"github.com/banshee-data/linescan/internal/fsutil"
	"github.com/banshee-data/linescan/internal/monitoring"
	"github.com/banshee-data/linescan/internal/scan"
	"github.com/banshee-data/linescan/internal/scan/acquire"
	"github.com/banshee-data/linescan/internal/scan/assemble"
	"github.com/banshee-data/linescan/internal/scan/linedist"
	"github.com/banshee-data/linescan/internal/scan/sink"
	"github.com/banshee-data/linescan/internal/scan/transport"
	"github.com/banshee-data/linescan/internal/serialmux"
	"github.com/banshee-data/linescan/internal/version"
)

const toolName = "scanimage"

// errUsage marks errors already reported together with the flag help.
var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code, msg := exitStatus(run(ctx, os.Args[1:], fsutil.OSFileSystem{}, os.Stdout, os.Stderr))
	if msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	stop()
	os.Exit(code)
}

// exitStatus maps the result of run to a process exit code and the line
// printed on stderr. Usage errors were already reported with the flag help.
func exitStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ff.ErrHelp):
		return 0, ""
	case errors.Is(err, errUsage):
		return 2, ""
	}
	switch st := scan.StatusOf(err); st {
	case scan.StatusGood:
		return 0, ""
	case scan.StatusCancelled:
		return 130, fmt.Sprintf("%s: scan %s", toolName, st)
	case scan.StatusInvalid, scan.StatusUnsupported:
		return 2, fmt.Sprintf("%s: %v (%s)", toolName, err, st)
	default:
		return 1, fmt.Sprintf("%s: %v (%s)", toolName, err, st)
	}
}

type options struct {
	device      string
	configPath  string
	output      string
	format      string
	scan        config.ScanOptions
	threePass   bool
	singlePass  bool
	progress    bool
	verbose     bool
	debugListen string
	showVersion bool

	simPattern    string
	simHeight     int
	simLinePeriod time.Duration
	simFaults     transport.Faults
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var o options
	fs := ff.NewFlagSet(toolName)
	fs.StringVar(&o.device, 0, "device", "sim", "serial device path, or 'sim' for the built-in simulator")
	fs.StringVar(&o.configPath, 0, "config", "", "device profile JSON (default "+config.DefaultConfigPath+" if present)")
	fs.StringVar(&o.output, 'o', "output", "scan", "output file; '-' writes to stdout, a missing extension is added")
	fs.StringVar(&o.format, 0, "format", "pnm", "output format: pnm or tiff")
	fs.StringVar(&o.scan.Mode, 'm', "mode", "color", "scan mode: lineart, gray or color")
	fs.IntVar(&o.scan.Resolution, 'r', "resolution", 0, "resolution in dpi (default the native resolution)")
	fs.IntVar(&o.scan.Width, 'w', "width", 0, "pixels per line (default the device maximum)")
	fs.IntVar(&o.scan.Lines, 'l', "lines", scan.UnknownLines, "lines to scan, -1 lets the device decide")
	fs.BoolVar(&o.threePass, 0, "three-pass", "scan colour one channel per pass")
	fs.BoolVar(&o.singlePass, 0, "single-pass", "scan colour in one pass even if the profile asks for three")
	fs.BoolVar(&o.progress, 0, "progress", "log acquisition progress")
	fs.BoolVar(&o.verbose, 'v', "verbose", "enable debug logging")
	fs.StringVar(&o.debugListen, 0, "debug-listen", "", "serve session and link counters on this address, e.g. localhost:8081")
	fs.BoolVar(&o.showVersion, 0, "version", "print version information and exit")
	fs.StringVar(&o.simPattern, 0, "sim-pattern", "gradient", "simulated document: gradient or bars")
	fs.IntVar(&o.simHeight, 0, "sim-height", 64, "simulated document height in rows")
	fs.DurationVar(&o.simLinePeriod, 0, "sim-line-period", 0, "delay between simulated lines")
	fs.IntVar(&o.simFaults.ErrorAfter, 0, "sim-error-after", 0, "simulate a device error after this many lines")
	fs.IntVar(&o.simFaults.StallAfter, 0, "sim-stall-after", 0, "simulate a stalled device after this many lines")
	fs.IntVar(&o.simFaults.ShortBy, 0, "sim-short-by", 0, "end simulated passes this many rows early")
	fs.IntVar(&o.simFaults.ExtraRows, 0, "sim-extra-rows", 0, "send this many rows past the requested height")

	if err := ff.Parse(fs, args, ff.WithEnvVarPrefix("LINESCAN")); err != nil {
		fmt.Fprintf(stderr, "%s\n", ffhelp.Flags(fs))
		if errors.Is(err, ff.ErrHelp) {
			return nil, err
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if o.threePass && o.singlePass {
		fmt.Fprintln(stderr, "error: --three-pass and --single-pass are exclusive")
		return nil, fmt.Errorf("%w: conflicting pass flags", errUsage)
	}
	switch {
	case o.threePass:
		o.scan.ThreePass = &o.threePass
	case o.singlePass:
		f := false
		o.scan.ThreePass = &f
	}
	return &o, nil
}

// run performs one scan. It is main without the process exits.
func run(ctx context.Context, args []string, fsys fsutil.FileSystem, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if o.showVersion {
		fmt.Fprintln(stdout, version.String(toolName))
		return nil
	}

	logger := monitoring.NewLogger(stderr, o.verbose)
	monitoring.UseLogrus(logger)
	if o.verbose {
		w := logger.WriterLevel(logrus.DebugLevel)
		linedist.SetDebugLogger(w)
		defer func() {
			linedist.SetDebugLogger(nil)
			w.Close()
		}()
	}

	dev, err := loadProfile(fsys, o.configPath)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"version": version.Version,
		"device":  o.device,
		"profile": dev.GetName(),
	}).Info("starting scan")

	conn, err := openLink(o, dev)
	if err != nil {
		return err
	}
	defer conn.Close()

	sessCfg, err := dev.SessionConfig(o.scan, conn, nil)
	if err != nil {
		return err
	}
	sess, err := acquire.New(sessCfg)
	if err != nil {
		return err
	}
	defer sess.Close()

	if o.debugListen != "" {
		shutdown := serveDebug(o.debugListen, sess, conn, logger)
		defer shutdown()
	}

	out, name, err := openOutput(fsys, o, sessCfg, stdout)
	if err != nil {
		return err
	}
	w, err := sink.New(o.format, out)
	if err != nil {
		discard(out)
		return err
	}

	// Signals arrive through ctx; the session has to see them as Cancel so
	// a blocked read returns.
	stopWatch := context.AfterFunc(ctx, sess.Cancel)
	defer stopWatch()

	asmOpts := dev.AssemblerOptions()
	if o.progress {
		asmOpts.Progress = progressLogger(logger)
	}
	res, err := assemble.New(asmOpts).Run(ctx, sess, w)
	if err != nil {
		discard(out)
		if ctx.Err() != nil && !errors.Is(err, scan.ErrCancelled) {
			err = fmt.Errorf("%w: %v", scan.ErrCancelled, err)
		}
		logger.WithError(err).WithField("session", sess.ID()).Error("scan failed")
		return err
	}
	if c, ok := out.(*fsutil.Output); ok {
		if err := c.Commit(); err != nil {
			return err
		}
	}

	stats := sess.Stats()
	fields := logrus.Fields{
		"session": stats.ID,
		"width":   res.Width,
		"height":  res.Height,
		"bytes":   res.Bytes,
		"lines":   stats.LinesReceived,
		"elapsed": stats.Elapsed,
	}
	if name != "" {
		fields["output"] = name
	}
	if res.PartialRow {
		fields["partial_row"] = true
	}
	if res.Padded > 0 {
		fields["padded_bytes"] = res.Padded
	}
	logger.WithFields(fields).Info("scan complete")
	return nil
}

// loadProfile reads the device profile. Without --config the default
// profile is used when present and the built-in defaults otherwise.
func loadProfile(fsys fsutil.FileSystem, path string) (*config.DeviceConfig, error) {
	if path == "" {
		if !fsys.Exists(config.DefaultConfigPath) {
			return config.DefaultDeviceConfig(), nil
		}
		path = config.DefaultConfigPath
	}
	dev, err := config.LoadDeviceConfig(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load device profile: %w", err)
	}
	return dev, nil
}

// link is the device connection together with its debug routes.
type link interface {
	transport.Transport
	AttachAdminRoutes(mux *http.ServeMux)
}

// openLink connects to the device. The simulator sits behind an in-memory
// port so both choices go through the serial protocol.
func openLink(o *options, dev *config.DeviceConfig) (link, error) {
	if o.device == "sim" {
		pattern, err := transport.ParsePattern(o.simPattern)
		if err != nil {
			return nil, err
		}
		port := transport.NewSimulatedPort(transport.SimConfig{
			Geometry:    dev.GetGeometry(),
			Pattern:     pattern,
			Height:      o.simHeight,
			Interleaved: dev.GetInterleavedColor(),
			LinePeriod:  o.simLinePeriod,
			Faults:      o.simFaults,
		})
		return transport.NewSerial(serialmux.NewSerialMux[serialmux.SerialPorter](port)), nil
	}
	mux, err := serialmux.OpenSerialMux(serialmux.RealPortFactory{}, o.device, dev.GetSerial())
	if err != nil {
		return nil, err
	}
	return transport.NewSerial(mux), nil
}

// openOutput opens the image destination. Files get the conventional
// extension for the format when the name has none.
func openOutput(fsys fsutil.FileSystem, o *options, cfg acquire.Config, stdout io.Writer) (io.Writer, string, error) {
	if o.output == "-" {
		return stdout, "", nil
	}
	name := o.output
	if filepath.Ext(name) == "" {
		h := sink.Header{Depth: 8, Color: cfg.Mode == acquire.ModeColor}
		if cfg.Mode == acquire.ModeLineart {
			h.Depth = 1
		}
		name += sink.Extension(o.format, h)
	}
	out, err := fsutil.CreateOutput(fsys, name)
	if err != nil {
		return nil, "", err
	}
	return out, name, nil
}

func discard(w io.Writer) {
	if out, ok := w.(*fsutil.Output); ok {
		if err := out.Discard(); err != nil {
			monitoring.Logf("%v", err)
		}
	}
}

// progressLogger reports every tenth of a known-size frame, or every MiB of
// an open-ended one.
func progressLogger(logger *logrus.Logger) func(frame int, read, expected int64) {
	last := int64(-1)
	lastFrame := -1
	return func(frame int, read, expected int64) {
		if frame != lastFrame {
			lastFrame, last = frame, -1
		}
		var step int64
		if expected > 0 {
			step = read * 10 / expected
		} else {
			step = read >> 20
		}
		if step == last {
			return
		}
		last = step
		entry := logger.WithFields(logrus.Fields{"frame": frame, "bytes": read})
		if expected > 0 {
			entry.Infof("progress %d%%", read*100/expected)
		} else {
			entry.Info("progress")
		}
	}
}

// serveDebug exposes the counters of the session and the link on addr until
// the returned function is called.
func serveDebug(addr string, sess *acquire.Session, l link, logger *logrus.Logger) func() {
	mux := http.NewServeMux()
	sess.AttachAdminRoutes(mux)
	l.AttachAdminRoutes(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("debug routes on http://%s/debug/", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("debug server stopped")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
