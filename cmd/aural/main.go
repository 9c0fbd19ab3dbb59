package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"golang.org/x/sync/errgroup"

	"github.com/aural-player/auralcore/internal/codec"
	"github.com/aural-player/auralcore/internal/config"
	"github.com/aural-player/auralcore/internal/decoder"
	"github.com/aural-player/auralcore/internal/events"
	"github.com/aural-player/auralcore/internal/metrics"
	"github.com/aural-player/auralcore/internal/player"
	"github.com/aural-player/auralcore/internal/scheduler"
	"github.com/aural-player/auralcore/internal/session"
	"github.com/aural-player/auralcore/internal/stream"
	"github.com/aural-player/auralcore/internal/track"
	"github.com/aural-player/auralcore/internal/utils"
)

type options struct {
	Start     string        `long:"start" description:"Start position (92.5, 1:32.5 or 1m32s)"`
	LoopStart string        `long:"loop-start" default:"0" description:"Loop start position"`
	LoopEnd   string        `long:"loop-end" description:"Loop end position; enables looping"`
	LoopCount int           `long:"loop-count" description:"Leave the loop after this many passes (0 loops forever)"`
	Progress  time.Duration `long:"progress" description:"Log the playback position at this interval (0 disables)"`

	Args struct {
		File string   `positional-arg-name:"FILE" required:"yes"`
		Next []string `positional-arg-name:"NEXT" description:"Files played gaplessly after FILE"`
	} `positional-args:"yes"`
}

func main() {
	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start, loop, err := positions(opts)
	if err != nil {
		log.Error("invalid arguments", "err", err)
		os.Exit(1)
	}

	if err := run(ctx, cfg, opts, start, loop, log); err != nil {
		log.Error("playback failed", "file", opts.Args.File, "err", err)
		os.Exit(1)
	}
}

// positions parses the start position and the loop bounds.
func positions(opts options) (*float64, *session.PlaybackLoop, error) {
	var start *float64
	if opts.Start != "" {
		v, err := utils.ParsePosition(opts.Start)
		if err != nil {
			return nil, nil, fmt.Errorf("--start: %w", err)
		}
		start = &v
	}
	if opts.LoopEnd == "" {
		return start, nil, nil
	}
	if len(opts.Args.Next) > 0 {
		return nil, nil, errors.New("--loop-end cannot be combined with gapless playback")
	}
	ls, err := utils.ParsePosition(opts.LoopStart)
	if err != nil {
		return nil, nil, fmt.Errorf("--loop-start: %w", err)
	}
	le, err := utils.ParsePosition(opts.LoopEnd)
	if err != nil {
		return nil, nil, fmt.Errorf("--loop-end: %w", err)
	}
	loop, err := session.NewLoop(ls, le)
	if err != nil {
		return nil, nil, err
	}
	return start, loop, nil
}

// prepare opens path and binds a decoder to its best audio stream.
func prepare(cfg *config.Config, path string, log *slog.Logger) (*track.Track, error) {
	file, err := stream.OpenFile(path, log.With("component", "stream"))
	if err != nil {
		return nil, err
	}
	params := file.Params()
	c, err := codec.NewAudioCodec(params, file.AllocCodecContext, log.With("component", "codec"))
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := c.Open(); err != nil {
		c.Close()
		file.Close()
		return nil, err
	}
	conv, err := stream.NewSampleConverter()
	if err != nil {
		c.Close()
		file.Close()
		return nil, err
	}
	dec := decoder.New(file, c, conv, log.With("component", "decoder"))

	pctx, err := track.NewPlaybackContext(dec, cfg.ImmediateSeconds, cfg.DeferredSeconds)
	if err != nil {
		dec.Close()
		return nil, err
	}
	t := track.New(path)
	t.Context = pctx
	log.Info("track prepared",
		"track", t.DisplayName,
		"codec", c.Name(),
		"sampleRate", pctx.Format.SampleRate,
		"channels", pctx.Format.Channels,
		"duration", t.Duration())
	return t, nil
}

func run(ctx context.Context, cfg *config.Config, opts options, start *float64, loop *session.PlaybackLoop, log *slog.Logger) error {
	t, err := prepare(cfg, opts.Args.File, log)
	if err != nil {
		return err
	}
	defer t.Context.Close()

	var next []*track.Track
	for _, path := range opts.Args.Next {
		nt, err := prepare(cfg, path, log)
		if err != nil {
			return err
		}
		defer nt.Context.Close()
		next = append(next, nt)
	}

	stats := metrics.New()
	node := player.NewNode(t.Context.Format, stats, log.With("component", "node"))
	dev, err := player.OpenDevice(player.DeviceConfig{
		ID:       cfg.DeviceID,
		PeriodMS: cfg.PeriodMS,
		Format:   t.Context.Format,
		NoAudio:  cfg.NoAudio,
	}, node.Render, log.With("component", "device"))
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer dev.Close()

	registry := session.NewRegistry()
	messenger := events.NewMessenger(stats, log.With("component", "events"))
	defer messenger.Close()
	sched := scheduler.New(node, registry, messenger, stats, log.With("component", "scheduler"))
	defer sched.Close()

	evs, unsubscribe := messenger.Subscribe(16)
	defer unsubscribe()

	var sess *session.Session
	switch {
	case len(next) > 0:
		sess = registry.Start(t)
		if start != nil {
			err = sched.SeekGapless(sess, *start, true, next)
		} else {
			err = sched.PlayGapless(sess, next)
		}
	case loop != nil:
		sess = registry.StartWithLoop(t, loop)
		if start != nil {
			err = sched.PlayLoopFrom(sess, *start, true)
		} else {
			err = sched.PlayLoop(sess, true)
		}
	default:
		sess = registry.Start(t)
		err = sched.PlayTrack(sess, start)
	}
	if err != nil {
		return err
	}
	log.Info("playing", "track", t.DisplayName, "session", sess.ID, "device", dev.Name())

	if err := dev.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return watchEvents(gctx, evs, registry, sched, opts.LoopCount, 1+len(next), log)
	})

	if opts.Progress > 0 {
		g.Go(func() error {
			reportProgress(gctx, node, t, opts.Progress, log)
			return nil
		})
	}

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			ReadHeaderTimeout: 5 * time.Second,
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", stats.Handler())
		srv.Handler = mux

		g.Go(func() error {
			log.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	sched.Stop()
	if stopErr := dev.Stop(); stopErr != nil {
		log.Warn("failed to stop device", "err", stopErr)
	}
	return err
}

func reportProgress(ctx context.Context, node *player.Node, t *track.Track, every time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	duration := t.Duration()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos := node.SeekPosition()
			var progress float64
			if duration > 0 {
				progress = pos / duration
			}
			log.Info("position",
				"track", t.DisplayName,
				"at", utils.PrettyTime(pos),
				"of", utils.PrettyTime(duration),
				"bar", utils.ProgressBar(30, progress))
		}
	}
}

// watchEvents follows playback until the track, or all tracks of a
// gapless sequence, completes, becomes unreadable or ctx is done. After
// loopCount loop passes it leaves the loop and lets the track play out.
func watchEvents(ctx context.Context, evs <-chan events.Event, registry *session.Registry, sched *scheduler.Scheduler, loopCount, tracks int, log *slog.Logger) error {
	passes, completed := 0, 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-evs:
			if !ok {
				return nil
			}
			if !registry.IsCurrent(e.Session) {
				continue
			}
			switch e.Kind {
			case events.TrackCompleted:
				log.Info("track completed", "session", e.Session.ID)
				return nil
			case events.GaplessTrackCompleted:
				completed++
				log.Info("track completed", "session", e.Session.ID, "track", e.Track, "of", tracks)
				if completed >= tracks {
					return nil
				}
			case events.LoopRestarted:
				passes++
				log.Info("loop restarted", "session", e.Session.ID, "pass", passes)
				if loopCount > 0 && passes >= loopCount {
					next := registry.StartNewSessionWithLoop(nil)
					if next == nil {
						return nil
					}
					if err := sched.EndLoop(next, true); err != nil {
						return err
					}
				}
			case events.DecodeFailure:
				log.Warn("decode failure", "session", e.Session.ID, "err", e.Err)
			case events.TrackNoLongerReadable:
				if e.Track != nil {
					return fmt.Errorf("%s: %w", e.Track, scheduler.ErrTrackNoLongerReadable)
				}
				return fmt.Errorf("%s: %w", e.Session.Track, scheduler.ErrTrackNoLongerReadable)
			}
		}
	}
}
