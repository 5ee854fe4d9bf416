package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/buffer"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/config"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/location"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/session"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/syncer"
)

type recordOptions struct {
	sport      string
	gpx        string
	speed      float64
	share      bool
	title      string
	onExisting string
	duration   string
}

func newRecordCmd(deps cliDeps) *cobra.Command {
	var opts recordOptions
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Replay a GPX track through a tracking session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return record(cmd.Context(), deps, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.sport, "sport", "run", "sport name or sport type id")
	cmd.Flags().StringVar(&opts.gpx, "gpx", "", "GPX file to replay")
	cmd.Flags().Float64Var(&opts.speed, "speed", 1, "replay speed multiplier")
	cmd.Flags().BoolVar(&opts.share, "share", false, "publish a post when finished")
	cmd.Flags().StringVar(&opts.title, "title", "", "title of the shared post")
	cmd.Flags().StringVar(&opts.onExisting, "on-existing", "", "what to do with an unfinished activity: resume, finish or discard")
	cmd.Flags().StringVar(&opts.duration, "duration", "", "duration to record when the last gps fix is stale: gps or wall")
	_ = cmd.MarkFlagRequired("gpx")
	return cmd
}

func sessionConfig(cfg config.Config, catalog gps.Catalog) session.Config {
	return session.Config{
		Profiles:            catalog,
		SyncInterval:        cfg.SyncInterval,
		PersistInterval:     cfg.PersistInterval,
		SignalCheckInterval: cfg.SignalCheckInterval,
		Signal: gps.SignalThresholds{
			WeakAfter: cfg.SignalWeakAfter,
			LostAfter: cfg.SignalLostAfter,
		},
		Backoff: syncer.Config{
			BaseBackoff: cfg.SyncBackoffBase,
			MaxBackoff:  cfg.SyncBackoffMax,
		},
		StaleGPSAfter:         cfg.StaleGPSAfter,
		BodyWeightKg:          cfg.BodyWeightKg,
		KeepBackgroundRunning: cfg.KeepBackgroundRunning,
	}
}

func parseDisposition(s string) (session.Disposition, error) {
	switch s {
	case "resume":
		return session.DispositionResume, nil
	case "finish":
		return session.DispositionFinish, nil
	case "discard":
		return session.DispositionDiscard, nil
	}
	return 0, fmt.Errorf("unknown disposition %q", s)
}

func parseDurationChoice(s string) (session.DurationChoice, error) {
	switch s {
	case "":
		return session.DurationUnset, nil
	case "gps":
		return session.DurationGPS, nil
	case "wall":
		return session.DurationWallClock, nil
	}
	return 0, fmt.Errorf("unknown duration %q, want gps or wall", s)
}

// staleHint turns an unanswered stale-GPS finish into an actionable error.
// The activity stays open on the server.
func staleHint(err error) error {
	var stale *session.StaleGPSError
	if errors.As(err, &stale) {
		return fmt.Errorf("%w; last fix at %s, settle it with --on-existing finish --duration gps|wall",
			err, stale.LastFixAt.Format(time.TimeOnly))
	}
	return err
}

func record(ctx context.Context, deps cliDeps, opts recordOptions, out io.Writer) error {
	cfg := deps.loadConfig()
	catalog, err := gps.LoadCatalog(cfg.TrackerProfilesPath)
	if err != nil {
		return err
	}
	sport, err := sportID(catalog, opts.sport)
	if err != nil {
		return err
	}
	choice, err := parseDurationChoice(opts.duration)
	if err != nil {
		return err
	}
	samples, err := location.ReadGPXFile(opts.gpx)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return fmt.Errorf("%s has no track points", opts.gpx)
	}

	kvs, err := deps.openStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kvs.Close()

	replay := location.NewReplay(samples, opts.speed)
	sc := sessionConfig(cfg, catalog)
	sc.Clock = deps.clock
	tracker := session.New(deps.newAPI(cfg.TrackerAPIURL, cfg.TrackerToken), replay, buffer.NewStore(kvs), sc)
	defer tracker.Close()

	err = tracker.Start(ctx, sport)
	var existing *activity.ExistingActivityError
	if errors.As(err, &existing) {
		if opts.onExisting == "" {
			return fmt.Errorf("%w; rerun with --on-existing resume|finish|discard", err)
		}
		d, perr := parseDisposition(opts.onExisting)
		if perr != nil {
			return perr
		}
		fmt.Fprintf(out, "found activity %s (%s), %s\n", existing.Activity.ID, existing.Activity.Status, opts.onExisting)
		err = staleHint(tracker.ResolveExisting(ctx, d, session.FinishOptions{Duration: choice}))
		if err == nil && d != session.DispositionResume {
			// settled the old one, now record the new track
			err = tracker.Start(ctx, sport)
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "recording %s on activity %s (%d points)\n", catalog.Profile(sport).Name, tracker.Activity().ID, len(samples))

	if err := follow(ctx, deps.tick, tracker, replay, out); err != nil {
		fmt.Fprintln(out, "interrupted, finishing")
	}

	finish := session.FinishOptions{Share: opts.share, Title: opts.title, Duration: choice}
	post, err := tracker.Finish(context.Background(), finish)
	if err != nil {
		return fmt.Errorf("finish: %w", staleHint(err))
	}

	stats := tracker.Stats()
	fmt.Fprintf(out, "finished: %.2f km, %s, %d points\n", stats.DistanceM/1000,
		(time.Duration(stats.DurationSec) * time.Second).String(), stats.PointsCount)
	if post != nil {
		fmt.Fprintf(out, "shared post %s\n", post.ID)
	}
	return nil
}

// follow prints live stats until the replay is drained or ctx ends.
func follow(ctx context.Context, tick time.Duration, tracker *session.Tracker, replay *location.Replay, out io.Writer) error {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	drained := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		printStats(out, tracker.Stats(), tracker.Status())
		if drained {
			return nil
		}
		// one more tick so the last batch reaches the session
		drained = replay.Remaining() == 0
	}
}

func printStats(w io.Writer, s session.LiveStats, st session.TrackingStatus) {
	pace := "--:--"
	if s.PaceSecPerKm != nil {
		secs := int(*s.PaceSecPerKm)
		pace = fmt.Sprintf("%d:%02d", secs/60, secs%60)
	}
	line := fmt.Sprintf("%8s  %7.2f km  pace %s/km  +%.0f m  %d pts  gps %s  pending %d",
		(time.Duration(s.DurationSec) * time.Second).String(), s.DistanceM/1000, pace,
		s.ElevationGainM, s.PointsCount, st.GPSSignal, st.PendingPoints)
	if st.SyncError != "" {
		line += "  sync: " + st.SyncError
	}
	fmt.Fprintln(w, line)
}
