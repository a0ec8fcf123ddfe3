//go:build linux

// Command stillcap captures a still frame from a V4L2 device on a fixed
// period and keeps the device's exposure controls tuned toward the targets
// in a YAML configuration file. A cycle that reports the device broken
// closes and reopens it before the next attempt.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/stillcap/stillcap"
	"github.com/stillcap/stillcap/capture"
	"github.com/stillcap/stillcap/imaging"
	"github.com/stillcap/stillcap/tuning"
	"github.com/stillcap/stillcap/v4l2"
)

type cli struct {
	Device      string        `help:"Capture device node." default:"/dev/video0"`
	Period      time.Duration `help:"Time between capture cycles." default:"30s"`
	TargetFrame int           `help:"Sequential frame to retain each cycle." default:"80"`
	Buffers     uint32        `help:"Capture buffer ring size." default:"16"`
	Out         string        `help:"Output image path. Empty runs statistics-only cycles." type:"path"`
	Timestamped bool          `help:"Insert a timestamp before the output extension."`
	Quality     int           `help:"JPEG quality 0..100." default:"85"`
	Raw         bool          `help:"Write the frame payload verbatim without re-encoding."`

	Caption         string   `help:"Caption text overlaid after statistics are taken."`
	CaptionLocation int      `name:"caption-location" help:"Two-digit caption grid code (e.g. 33 top-right, 11 bottom-left)." default:"11"`
	CaptionDate     bool     `name:"caption-date" help:"Append a date stamp to the caption."`
	CaptionTime     bool     `name:"caption-time" help:"Append a time stamp to the caption."`
	TwelveHour      bool     `name:"caption-12h" help:"Use a 12-hour time stamp."`
	FontSize        float64  `name:"caption-size" help:"Caption font size in points." default:"16"`
	Fonts           []string `help:"Ordered caption font files; first usable wins."`

	DayFrom   string `help:"Daytime start, HH:MM." default:"07:00"`
	NightFrom string `help:"Nighttime start, HH:MM." default:"19:00"`

	Tuning        string `help:"YAML tuner and target configuration." type:"existingfile"`
	DeferTeardown bool   `help:"Run stream-off and buffer release on a background worker."`
	LogLevel      string `help:"Log level: debug, info, warn, error." default:"info"`
}

func main() {
	var args cli
	ctx := kong.Parse(&args,
		kong.Name("stillcap"),
		kong.Description("Periodic V4L2 still capture with closed-loop exposure tuning."))

	level, err := logrus.ParseLevel(args.LogLevel)
	if err != nil {
		ctx.Fatalf("invalid log level %q", args.LogLevel)
	}
	logrus.SetLevel(level)

	var cfg *tuningConfig
	if args.Tuning != "" {
		cfg, err = loadTuningConfig(args.Tuning)
		if err != nil {
			ctx.Fatalf("%v", err)
		}
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(runCtx, args, cfg); err != nil && runCtx.Err() == nil {
		ctx.Fatalf("%v", err)
	}
}

// todNow decides the active bucket from the configured switch times.
func todNow(dayFrom, nightFrom string, now time.Time) tuning.TimeOfDay {
	parse := func(s string, fallback int) int {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return fallback
		}
		return t.Hour()*60 + t.Minute()
	}
	day := parse(dayFrom, 7*60)
	night := parse(nightFrom, 19*60)
	minute := now.Hour()*60 + now.Minute()
	if minute >= day && minute < night {
		return tuning.Day
	}
	return tuning.Night
}

// outPath renders the cycle's output path, optionally timestamped.
func outPath(template string, timestamped bool, now time.Time) string {
	if template == "" || !timestamped {
		return template
	}
	ext := filepath.Ext(template)
	base := strings.TrimSuffix(template, ext)
	return base + "-" + now.Format("20060102-150405") + ext
}

func run(ctx context.Context, args cli, cfg *tuningConfig) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "run",
		"device":   args.Device,
	})

	var caption *imaging.CaptionSpec
	if args.Caption != "" || args.CaptionDate || args.CaptionTime {
		caption = &imaging.CaptionSpec{
			Text:       args.Caption,
			ShowDate:   args.CaptionDate,
			ShowTime:   args.CaptionTime,
			TwelveHour: args.TwelveHour,
			Location:   args.CaptionLocation,
			FontSize:   args.FontSize,
			FontPaths:  args.Fonts,
		}
	}

	var dev *v4l2.Device
	var eng *stillcap.Engine
	defer func() {
		if dev != nil {
			dev.Close()
		}
	}()

	ticker := time.NewTicker(args.Period)
	defer ticker.Stop()

	for {
		if dev == nil {
			var err error
			dev, err = v4l2.Open(args.Device)
			if err != nil {
				log.WithField("error", err).Error("device open failed, will retry")
				eng = nil
			} else {
				opts := stillcap.Options{DeferTeardown: args.DeferTeardown}
				if cfg != nil {
					opts.Focus = capture.FocusControls{
						AutoID:   cfg.Focus.Auto,
						ManualID: cfg.Focus.Manual,
					}
				}
				eng = stillcap.New(dev, opts)
				if cfg != nil {
					if err := cfg.configure(eng); err != nil {
						return err
					}
				}
			}
		}

		if eng != nil {
			now := time.Now()
			outcome, err := eng.CaptureOneFrame(ctx, capture.Request{
				TargetFrame: args.TargetFrame,
				BufferCount: args.Buffers,
				SavePath:    outPath(args.Out, args.Timestamped, now),
				SaveQuality: args.Quality,
				SaveRaw:     args.Raw,
				Caption:     caption,
			})
			if err != nil {
				log.WithField("error", err).Warn("capture cycle failed")
			}
			if outcome.Statistics.Available() {
				tod := todNow(args.DayFrom, args.NightFrom, now)
				settings := eng.TuneAfterCapture(outcome.Statistics, tod)
				log.WithFields(logrus.Fields{
					"brightness": outcome.Statistics.Brightness,
					"contrast":   outcome.Statistics.Contrast,
					"saturation": outcome.Statistics.Saturation,
					"tod":        tod.String(),
					"adjusted":   len(settings),
				}).Info("frame measured")
			}
			if outcome.Broken {
				log.Warn("device broken, reopening before next cycle")
				dev.Close()
				dev = nil
				eng = nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
