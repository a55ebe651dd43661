// Package render implements the command that renders an offline context
package render

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/webaudio-go/internal/conf"
	"github.com/tphakala/webaudio-go/internal/engine"
	"github.com/tphakala/webaudio-go/internal/errors"
	"github.com/tphakala/webaudio-go/internal/events"
	"github.com/tphakala/webaudio-go/internal/export"
	"github.com/tphakala/webaudio-go/internal/hostloop"
	"github.com/tphakala/webaudio-go/internal/logger"
	"github.com/tphakala/webaudio-go/internal/observability"
	"github.com/tphakala/webaudio-go/internal/offline"
	"github.com/tphakala/webaudio-go/internal/scheduler"
)

// Command creates the render command
func Command(settings *conf.Settings) *cobra.Command {
	var suspend []float64

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render an offline audio context",
		Long: `Render an offline audio context with an optional test tone.
Suspend points given with --suspend are resumed automatically.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("suspend") {
				settings.Render.Suspend = suspend
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			_, err := Run(ctx, settings, cmd.OutOrStdout())
			return err
		},
	}

	if err := setupFlags(cmd, settings, &suspend); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the render command
func setupFlags(cmd *cobra.Command, settings *conf.Settings, suspend *[]float64) error {
	flags := cmd.Flags()
	flags.IntVarP(&settings.Render.Channels, "channels", "c", viper.GetInt("render.channels"), "Number of output channels")
	flags.IntVarP(&settings.Render.Length, "length", "l", viper.GetInt("render.length"), "Length in sample frames")
	flags.Float64VarP(&settings.Render.SampleRate, "sample-rate", "r", viper.GetFloat64("render.samplerate"), "Sample rate in Hz")
	flags.BoolVar(&settings.Render.Tone.Enabled, "tone", viper.GetBool("render.tone.enabled"), "Render a sine test tone")
	flags.Float64Var(&settings.Render.Tone.Frequency, "frequency", viper.GetFloat64("render.tone.frequency"), "Test tone frequency in Hz")
	flags.Float64Var(&settings.Render.Tone.Gain, "gain", viper.GetFloat64("render.tone.gain"), "Test tone gain, 0 to 1")
	flags.Float64SliceVar(suspend, "suspend", nil, "Suspend rendering at these times in seconds")
	flags.StringVarP(&settings.Render.Output, "output", "o", viper.GetString("render.output"), "Write the result to this WAV file")
	flags.IntVar(&settings.Render.BitDepth, "bit-depth", viper.GetInt("render.bitdepth"), "WAV bit depth: 16, 24 or 32")
	flags.BoolVar(&settings.Metrics.Enabled, "metrics", viper.GetBool("metrics.enabled"), "Serve Prometheus metrics while rendering")

	bindings := map[string]string{
		"render.channels":       "channels",
		"render.length":         "length",
		"render.samplerate":     "sample-rate",
		"render.tone.enabled":   "tone",
		"render.tone.frequency": "frequency",
		"render.tone.gain":      "gain",
		"render.output":         "output",
		"render.bitdepth":       "bit-depth",
		"metrics.enabled":       "metrics",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Summary describes a finished render
type Summary struct {
	Channels     int
	Frames       int
	SampleRate   float32
	Duration     float64
	Peak         float64
	StateChanges []events.RenderState
	Suspensions  int
	Output       string
}

// Run renders the configured context and prints a summary to out.
// The host loop runs on its own goroutine for the duration of the render.
func Run(ctx context.Context, settings *conf.Settings, out io.Writer) (*Summary, error) {
	log := GetLogger()

	loop := hostloop.New(hostloop.WithQueueLimit(settings.Bridge.QueueLimit))
	sched := scheduler.New()

	var opts []offline.Option
	opts = append(opts,
		offline.WithSpawner(sched),
		offline.WithMaxBufferBytes(settings.Bridge.MaxBufferBytes),
		offline.WithDropLogRate(settings.Bridge.DropLogRate, settings.Bridge.DropLogBurst),
	)
	if settings.Render.Tone.Enabled {
		opts = append(opts, offline.WithEngineOptions(
			engine.WithSource(engine.SineSource{Frequency: settings.Render.Tone.Frequency}, settings.Render.Tone.Gain)))
	}

	var metricsWG sync.WaitGroup
	quit := make(chan struct{})
	defer func() {
		close(quit)
		metricsWG.Wait()
	}()
	if settings.Metrics.Enabled {
		m, err := observability.NewMetrics()
		if err != nil {
			return nil, err
		}
		endpoint, err := observability.NewEndpoint(settings, m)
		if err != nil {
			return nil, err
		}
		endpoint.Start(&metricsWG, quit)
		opts = append(opts, offline.WithMetrics(m.Bridge))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, hostloop.ErrLoopTerminated) {
			return nil
		}
		return err
	})

	var summary *Summary
	g.Go(func() error {
		defer func() {
			if err := loop.Shutdown(context.Background()); err != nil {
				log.Warn("host loop shutdown failed", logger.Error(err))
			}
		}()

		var err error
		summary, err = render(gctx, loop, settings, opts)
		return err
	})

	if err := g.Wait(); err != nil {
		_ = sched.Close(context.Background())
		return nil, err
	}
	if err := sched.Close(ctx); err != nil {
		return nil, err
	}

	printSummary(out, summary)
	return summary, nil
}

func render(ctx context.Context, loop *hostloop.Loop, settings *conf.Settings, opts []offline.Option) (*Summary, error) {
	log := GetLogger()
	rs := settings.Render

	ctrl, err := offline.New(loop, rs.Channels, rs.Length, float32(rs.SampleRate), opts...)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close() //nolint:errcheck // Close never fails

	summary := &Summary{Output: rs.Output}

	// Runs on the host loop, so summary fields need no locking while rendering
	err = ctrl.BindEventTarget(func(e events.Event) {
		summary.StateChanges = append(summary.StateChanges, e.State)
		log.Debug("state change", logger.String("state", string(e.State)), logger.Float64("time", e.Time))
		if e.State == events.RenderStateSuspended {
			summary.Suspensions++
			ctrl.Resume().Then(func(_ struct{}, err error) {
				if err != nil {
					log.Warn("resume failed", logger.Error(err))
				}
			})
		}
	})
	if err != nil {
		return nil, err
	}

	var pending []*hostloop.Future[struct{}]
	for _, at := range rs.Suspend {
		f := ctrl.Suspend(at)
		if suspendsInside(at, rs.SampleRate, rs.Length) {
			// Points inside the render resolve on scheduling, report errors now
			if _, err := f.Await(ctx); err != nil {
				return nil, err
			}
			continue
		}
		pending = append(pending, f)
	}

	buf, err := ctrl.StartRendering().Await(ctx)
	if err != nil {
		return nil, err
	}
	for _, f := range pending {
		if _, err := f.Await(ctx); err != nil {
			return nil, err
		}
	}

	// Wait for in-flight state deliveries before reading the summary
	if err := loop.WaitIdle(ctx); err != nil {
		return nil, err
	}

	summary.Channels = buf.NumberOfChannels()
	summary.Frames = buf.Length()
	summary.SampleRate = buf.SampleRate()
	summary.Duration = buf.Duration()
	summary.Peak = peak(buf)

	if rs.Output != "" {
		if err := export.WriteWAV(rs.Output, buf, rs.BitDepth); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// suspendsInside reports whether a suspend at atTime lands on a frame that is
// rendered, using the engine's quantum rounding
func suspendsInside(atTime, sampleRate float64, length int) bool {
	if atTime < 0 {
		return true
	}
	frame := math.Ceil(atTime*sampleRate/engine.RenderQuantumSize) * engine.RenderQuantumSize
	return frame < float64(length)
}

func peak(buf *offline.HostBuffer) float64 {
	var p float64
	for ch := range buf.NumberOfChannels() {
		data, err := buf.GetChannelData(ch)
		if err != nil {
			continue
		}
		for _, v := range data {
			p = math.Max(p, math.Abs(float64(v)))
		}
	}
	return p
}

func printSummary(out io.Writer, s *Summary) {
	fmt.Fprintf(out, "Rendered %d frames, %d channels at %g Hz (%.3f s)\n",
		s.Frames, s.Channels, s.SampleRate, s.Duration)
	fmt.Fprintf(out, "Peak level: %.3f\n", s.Peak)
	fmt.Fprintf(out, "Suspensions: %d\n", s.Suspensions)
	if s.Output != "" {
		fmt.Fprintf(out, "Output: %s\n", s.Output)
	}
}
