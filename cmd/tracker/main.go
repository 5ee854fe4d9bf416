// Command tracker records an activity from a GPX replay against the
// activity API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/activity"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/auth"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/config"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/db"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/gps"
	"github.com/sebastian-tarka/racefy-mobile.io-sub002/internal/kv"
)

type cliDeps struct {
	loadConfig func() config.Config
	openStore  func(cfg config.Config) (kvStore, error)
	newAPI     func(baseURL, token string) activity.API
	tick       time.Duration
	// nil means wall time
	clock func() time.Time
}

type kvStore interface {
	kv.Store
	Close() error
}

// openStore picks the durable store for session snapshots. redis lets a
// shared test rig inspect snapshots; devices use sqlite.
func openStore(cfg config.Config) (kvStore, error) {
	switch cfg.TrackerStore {
	case "", "sqlite":
		return kv.OpenSQLite(cfg.TrackerStorePath)
	case "redis":
		client := db.ConnectRedis(cfg)
		if client == nil {
			return nil, errors.New("TRACKER_STORE=redis needs REDIS_ADDR")
		}
		return kv.NewRedis(client, "tracker:"+deviceID(cfg)+":"), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.TrackerStore)
	}
}

// deviceID scopes shared redis keys. Without TRACKER_DEVICE_ID it is derived
// from the hostname so restarts find the same snapshots.
func deviceID(cfg config.Config) string {
	if cfg.TrackerDeviceID != "" {
		return cfg.TrackerDeviceID
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(host)).String()
}

func defaultCLIDeps() cliDeps {
	return cliDeps{
		loadConfig: config.Load,
		openStore:  openStore,
		newAPI: func(baseURL, token string) activity.API {
			return activity.NewClient(baseURL, token)
		},
		tick: time.Second,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(defaultCLIDeps()).ExecuteContext(ctx); err != nil {
		log.Printf("tracker: %v", err)
		os.Exit(1)
	}
}

func newRootCmd(deps cliDeps) *cobra.Command {
	root := &cobra.Command{
		Use:           "tracker",
		Short:         "Record activities from GPS tracks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRecordCmd(deps), newProfilesCmd(deps), newTokenCmd(deps))
	return root
}

func newProfilesCmd(deps cliDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "Print the GPS profile catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := deps.loadConfig()
			catalog, err := gps.LoadCatalog(cfg.TrackerProfilesPath)
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), catalog)
			return nil
		},
	}
}

func printProfiles(w io.Writer, catalog gps.Catalog) {
	fmt.Fprintf(w, "%-4s %-10s %-8s %8s %8s %8s %6s\n", "ID", "NAME", "ENABLED", "ACC(m)", "MIN(m)", "VMAX", "SMOOTH")
	for _, id := range catalog.IDs() {
		p := catalog[id]
		fmt.Fprintf(w, "%-4d %-10s %-8t %8.1f %8.1f %8.1f %6d\n",
			p.SportTypeID, p.Name, p.Enabled, p.AccuracyThresholdM, p.MinDistanceM, p.MaxRealisticSpeedMps, p.SmoothingBufferSize)
	}
}

func newTokenCmd(deps cliDeps) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			tokens, err := auth.NewService(deps.loadConfig().JWTSecret, nil).IssueToken(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tokens.AccessToken)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to embed in the token")
	return cmd
}

// sportID accepts a catalog name ("run") or a numeric sport type id.
func sportID(catalog gps.Catalog, arg string) (int64, error) {
	if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	for _, id := range catalog.IDs() {
		if strings.EqualFold(catalog[id].Name, arg) {
			return id, nil
		}
	}
	return 0, fmt.Errorf("unknown sport %q", arg)
}
