package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventdesk/internal/calendar"
	"eventdesk/internal/codec"
	"eventdesk/internal/config"
	"eventdesk/internal/conflict"
	"eventdesk/internal/feed"
	appLog "eventdesk/internal/log"
	"eventdesk/internal/optimizer"
	"eventdesk/internal/store"
	"eventdesk/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	dsn        string
	once       bool
	debug      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI flags override the config file when set.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.dsn != "" {
		conf.Storage.DSN = flags.dsn
	}
	level := appLog.ParseLevel(conf.Log.Level)
	if flags.debug {
		level = appLog.LevelDebug
	}
	appLog.Setup(os.Stderr, level, conf.Log.Format)

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("eventdesk starting",
		"version", version,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"storage", conf.Storage.Driver,
		"refresh", conf.RefreshCron,
		"feeds", len(conf.Feeds),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags.once); err != nil {
		appLog.Error("eventdesk failed", err)
		os.Exit(1)
	}
	appLog.Info("eventdesk exiting")
}

func run(ctx context.Context, conf *config.Config, once bool) error {
	loc, err := conf.Location()
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, conf.Storage.Driver, conf.Storage.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newService(conf, st, loc)
	if err != nil {
		return err
	}

	sources := make([]feed.Source, 0, len(conf.Feeds))
	for _, f := range conf.Feeds {
		sources = append(sources, feed.Source{ID: f.ID, URL: f.URL, Owner: f.Owner})
	}
	syncer := feed.NewSyncer(feed.NewFetcher(conf.CacheDir, nil), svc, sources)

	if once {
		for _, res := range syncer.SyncAll(ctx) {
			if res.Err != nil {
				return res.Err
			}
		}
		return nil
	}

	if len(sources) > 0 {
		if err := syncer.Start(ctx, conf.RefreshCron); err != nil {
			return err
		}
		defer syncer.Stop()
	}

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           web.NewServer(conf, svc, loc).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newService(conf *config.Config, st store.Store, loc *time.Location) (*calendar.Service, error) {
	sc := conf.Scheduling
	workStart, workEnd, err := sc.WorkdayHours()
	if err != nil {
		return nil, err
	}

	det := conflict.NewDetector(conflict.Config{
		AdjacencyBuffer: sc.AdjacencyBuffer,
		TravelBuffer:    sc.TravelBuffer,
	})
	opt := optimizer.New(optimizer.Options{
		WorkdayStart: workStart,
		WorkdayEnd:   workEnd,
		Step:         sc.SlotStep,
		MaxSlots:     sc.MaxSlots,
	})
	cdc := codec.New(codec.Options{Location: loc})

	return calendar.New(st, det, opt, cdc, calendar.Options{SlotWindowDays: sc.WindowDays}), nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/eventdesk/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.dsn, "dsn", "", "Storage DSN (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Sync configured feeds once and exit")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
