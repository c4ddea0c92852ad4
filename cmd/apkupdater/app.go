package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/broker"
	"github.com/EikeiDev/apkupdateross/internal/catalog"
	"github.com/EikeiDev/apkupdateross/internal/catalog/manifest"
	"github.com/EikeiDev/apkupdateross/internal/config"
	"github.com/EikeiDev/apkupdateross/internal/download"
	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/httputil"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/logging"
	"github.com/EikeiDev/apkupdateross/internal/notify"
	"github.com/EikeiDev/apkupdateross/internal/pipeline"
	"github.com/EikeiDev/apkupdateross/internal/progress"
	"github.com/EikeiDev/apkupdateross/internal/store"
	"github.com/EikeiDev/apkupdateross/internal/updates"
	"github.com/EikeiDev/apkupdateross/internal/workerpool"
)

var log = logging.L("main")

const shutdownTimeout = 30 * time.Second

// app is the process-wide object graph. Everything is built once here and
// handed down by parameter.
type app struct {
	cfg *config.Config

	bus      *progress.Bus
	comps    *progress.Completions
	lock     *installer.CommitLock
	pool     *workerpool.Pool
	dl       *download.Downloader
	pipeline *pipeline.Pipeline
	store    *store.Store
	notifier *notify.Notifier
	agg      *catalog.Aggregator
	board    *updates.Board
	adb      *installer.ADBPlatform
	broker   *broker.Client
	logFile  io.Closer
}

// loadConfig reads the config and sets up logging. The log level flag wins
// over the file.
func loadConfig() (*config.Config, io.Closer, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.LogFile != "" {
		rw, err := logging.NewRotatingWriter(cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s: %v\n", cfg.LogFile, err)
		} else {
			out, closer = rw, rw
		}
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, out)

	for _, verr := range cfg.Validate() {
		log.Warn("config value adjusted", logging.KeyError, verr)
	}
	return cfg, closer, nil
}

func newApp() (*app, error) {
	cfg, logFile, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	a := &app{
		cfg:     cfg,
		bus:     progress.NewBus(),
		comps:   progress.NewCompletions(),
		lock:    installer.NewCommitLock(),
		pool:    workerpool.New(cfg.MaxConcurrentInstalls, cfg.InstallQueueSize),
		logFile: logFile,
	}

	a.store, err = store.Open(filepath.Join(cfg.DataDir, "state.db"))
	if err != nil {
		return nil, err
	}

	retry := httputil.DefaultRetryConfig()
	retry.MaxRetries = cfg.DownloadRetries
	profiles := make([]download.Profile, 0, len(cfg.TransportProfiles))
	for _, p := range cfg.TransportProfiles {
		profiles = append(profiles, download.Profile{Match: p.Match, UserAgent: p.UserAgent})
	}
	a.dl = download.New(cfg.DownloadDir, download.Options{Profiles: profiles, Retry: retry})

	var catalogs []catalog.Catalog
	for _, path := range cfg.CatalogManifests {
		m, err := manifest.Open(path)
		if err != nil {
			log.Warn("skipping catalog manifest", "path", path, logging.KeyError, err)
			continue
		}
		catalogs = append(catalogs, m)
	}
	a.agg = catalog.NewAggregator(cfg, catalogs...)
	a.board = updates.NewBoard(a.agg, a.store)

	a.notifier = notify.New(os.Stdout, cfg.Language)
	opener := notify.NewCommandOpener(executor.Runner{}, cfg.OpenCommand, a.notifier)

	a.pipeline, err = pipeline.New(pipeline.Options{
		Source:      a.dl,
		Bus:         a.bus,
		Completions: a.comps,
		Lock:        a.lock,
		Pool:        a.pool,
		Tracker:     a.board,
		Opener:      opener,
		Notifier:    a.notifier,
		Recorder:    a.store,
	})
	if err != nil {
		a.store.Close()
		return nil, err
	}

	staging := filepath.Join(cfg.DownloadDir, "staging")
	rep := a.pipeline.Reporter()
	a.adb = installer.NewADBPlatform(executor.Runner{}, cfg.ADBPath, cfg.ADBSerial, filepath.Join(staging, "adb"), a.comps)
	a.broker = broker.NewClient(cfg.BrokerSocket)
	a.pipeline.Register(installer.NewSessionBackend(a.adb, a.lock, rep))
	a.pipeline.Register(installer.NewRootBackend(executor.Runner{Prefix: cfg.RootShell}, cfg.PackageManager, filepath.Join(staging, "root"), a.lock, rep))
	a.pipeline.Register(installer.NewBrokerBackend(a.broker, cfg.PackageManager, filepath.Join(staging, "broker"), a.lock, rep))

	return a, nil
}

func (a *app) installed() ([]catalog.InstalledApp, error) {
	return manifest.LoadInstalled(a.cfg.InstalledFile)
}

func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.pipeline.Close(ctx)
	a.adb.Wait()
	a.broker.Close()
	if err := a.store.Close(); err != nil {
		log.Warn("closing state store", logging.KeyError, err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
}
