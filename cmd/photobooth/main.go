package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ebowwa/iphone-photobooth/internal/config"
	"github.com/ebowwa/iphone-photobooth/internal/framebuffer"
	"github.com/ebowwa/iphone-photobooth/internal/logging"
	"github.com/ebowwa/iphone-photobooth/internal/pipeline"
	"github.com/ebowwa/iphone-photobooth/internal/preview"
	"github.com/ebowwa/iphone-photobooth/internal/recorder"
	"github.com/ebowwa/iphone-photobooth/internal/source"
	"github.com/ebowwa/iphone-photobooth/internal/telemetry"
)

const version = "v0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, `photobooth %s - live camera capture, preview, and recording

Usage:
  photobooth usb [flags]       capture from a USB/continuity camera
  photobooth rtsp [flags]      capture from an RTSP stream
  photobooth list              list available capture devices

Keys:
  space  start/stop recording
  s      save a screenshot
  f      toggle fullscreen
  r      reset the connection
  q/esc  quit

Run 'photobooth <mode> -h' for mode flags.
`, version)
}

// options holds the flags shared by the capture modes. Environment
// variables (PHOTOBOOTH_*) supply defaults; flags override.
type options struct {
	outputDir string
	width     int
	height    int
	fps       int
	audio     bool
	noWindow  bool
	statsAddr string
	logLevel  string
	logFormat string
}

func addCommonFlags(fs *flag.FlagSet) *options {
	o := &options{}
	fs.StringVar(&o.outputDir, "output", config.GetEnv("PHOTOBOOTH_OUTPUT_DIR", "recordings"), "directory for recordings and screenshots")
	fs.IntVar(&o.width, "width", config.GetEnvInt("PHOTOBOOTH_WIDTH", 1920), "capture width")
	fs.IntVar(&o.height, "height", config.GetEnvInt("PHOTOBOOTH_HEIGHT", 1080), "capture height")
	fs.IntVar(&o.fps, "fps", config.GetEnvInt("PHOTOBOOTH_FPS", 30), "capture frame rate")
	fs.BoolVar(&o.audio, "audio", config.GetEnvInt("PHOTOBOOTH_AUDIO", 1) != 0, "record audio from the default input device")
	fs.BoolVar(&o.noWindow, "no-window", false, "run without a preview window")
	fs.StringVar(&o.statsAddr, "stats-addr", config.GetEnv("PHOTOBOOTH_STATS_ADDR", ""), "address for the metrics endpoint (empty = disabled)")
	fs.StringVar(&o.logLevel, "log-level", config.GetEnv("PHOTOBOOTH_LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", config.GetEnv("PHOTOBOOTH_LOG_FORMAT", "text"), "log format: text, json")
	return o
}

func (o *options) hints() source.Hints {
	h := source.DefaultHints()
	h.Width = o.width
	h.Height = o.height
	h.FPS = float64(o.fps)
	return h
}

func main() {
	_ = config.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "usb":
		err = runUSB(os.Args[2:])
	case "rtsp":
		err = runRTSP(os.Args[2:])
	case "list":
		err = runList(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	case "-version", "--version", "version":
		fmt.Printf("photobooth %s\n", version)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "photobooth: %v\n", err)
		os.Exit(1)
	}
}

func runUSB(args []string) error {
	fs := flag.NewFlagSet("usb", flag.ExitOnError)
	o := addCommonFlags(fs)
	device := fs.Int("device", -1, "capture device index (-1 = auto detect)")
	fs.Parse(args)

	log := logging.New(o.logLevel, o.logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index := *device
	if index < 0 {
		detected, err := source.Detect(ctx, log)
		if err != nil {
			return err
		}
		index = detected
	}

	src := source.NewDeviceSource(index, o.hints(), log)
	return run(ctx, src, o, log)
}

func runRTSP(args []string) error {
	fs := flag.NewFlagSet("rtsp", flag.ExitOnError)
	o := addCommonFlags(fs)
	url := fs.String("url", config.GetEnv("PHOTOBOOTH_RTSP_URL", ""), "RTSP stream URL (required)")
	fs.Parse(args)

	if *url == "" {
		fmt.Fprintln(os.Stderr, "the -url flag is required, e.g. photobooth rtsp -url rtsp://192.168.1.10/stream")
		fs.PrintDefaults()
		os.Exit(1)
	}

	log := logging.New(o.logLevel, o.logFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := source.NewRTSPSource(*url, o.hints(), log)
	return run(ctx, src, o, log)
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	logLevel := fs.String("log-level", config.GetEnv("PHOTOBOOTH_LOG_LEVEL", "warn"), "log level")
	fs.Parse(args)

	log := logging.New(*logLevel, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	devices := source.ListDevices(ctx, log)
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("  [%d] %s\n", d.Index, d.Config.String())
	}
	return nil
}

// run assembles the pipeline for a connected-mode invocation and blocks
// until it ends.
func run(ctx context.Context, src source.FrameSource, o *options, log *slog.Logger) error {
	buf := framebuffer.New(framebuffer.DefaultCapacity)
	met := telemetry.New()

	var recOpts []recorder.Option
	var audioSrc *recorder.MalgoSource
	if o.audio {
		var err error
		audioSrc, err = recorder.NewMalgoSource(log)
		if err != nil {
			log.Warn("audio unavailable, recording video only", "error", err)
		} else {
			defer audioSrc.Close()
			recOpts = append(recOpts, recorder.WithAudio(audioSrc))
		}
	}
	rec := recorder.New(o.outputDir, recorder.NewGstSinkFactory(log), log, recOpts...)

	keys := preview.NewKeyReader(log)
	keys.Start()
	defer keys.Stop()

	var viewer pipeline.Viewer
	if !o.noWindow {
		display := preview.NewDisplay(log)
		status := func() preview.Status {
			st := preview.Status{Config: src.Config()}
			if s := rec.Session(); s != nil {
				st.Recording = true
				st.Audio = s.AudioEnabled
			}
			return st
		}
		viewer = preview.NewSink(buf, display, status, o.outputDir, log)
	}

	ctl := pipeline.New(src, buf, rec, keys.Commands(), log, pipeline.Options{
		Viewer:  viewer,
		Metrics: met,
	})

	if o.statsAddr != "" {
		var lastEvicted uint64
		stats := telemetry.NewServer(o.statsAddr, met, func() {
			met.SetPipelineState(int(ctl.State()))
			evicted := buf.Stats().Evicted
			met.AddFramesDropped(evicted - lastEvicted)
			lastEvicted = evicted
		}, log)
		stats.Start()
		defer stats.Stop()
	}

	err := ctl.Run(ctx)
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	stats := buf.Stats()
	log.Info("pipeline stopped",
		"frames_pushed", stats.Pushed,
		"frames_evicted", stats.Evicted,
	)
	return err
}
