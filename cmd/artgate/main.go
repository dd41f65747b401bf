package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/artgate/internal/blob"
	"github.com/gftdcojp/artgate/internal/config"
	"github.com/gftdcojp/artgate/internal/file"
	"github.com/gftdcojp/artgate/internal/inference"
	"github.com/gftdcojp/artgate/internal/ingest"
	"github.com/gftdcojp/artgate/internal/lifecycle"
	"github.com/gftdcojp/artgate/internal/memory"
	"github.com/gftdcojp/artgate/internal/meta"
	"github.com/gftdcojp/artgate/internal/metrics"
	"github.com/gftdcojp/artgate/internal/pagestore"
	"github.com/gftdcojp/artgate/internal/serve"
	"github.com/gftdcojp/artgate/internal/service"
	"github.com/gftdcojp/artgate/pkg/natsutil"
	"github.com/gftdcojp/artgate/pkg/s3util"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("artgate %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize metadata store
	metaStore, err := meta.NewBoltStoreWithOptions(cfg.Metadata.Path, cfg.Metadata.NoSync, logger.Named("meta"))
	if err != nil {
		return fmt.Errorf("opening metadata store: %w", err)
	}
	defer metaStore.Close()

	// Initialize page store
	var backend pagestore.Backend
	switch cfg.Store.Backend {
	case "memory":
		backend = memory.NewBackend(uint64(cfg.Store.MaxPages), logger.Named("memory"))
	default:
		fb, err := file.NewBackend(cfg.Store, logger.Named("file"))
		if err != nil {
			return fmt.Errorf("creating file backend: %w", err)
		}
		backend = fb
	}
	pages := pagestore.New(pagestore.Config{
		Backend:  backend,
		Headers:  metaStore,
		MaxPages: uint64(cfg.Store.MaxPages),
		Logger:   logger.Named("pagestore"),
	})
	defer pages.Close()

	deps := service.Deps{
		Pages:  pages,
		Meta:   metaStore,
		Logger: logger.Named("service"),
	}

	// Connect to NATS
	var (
		nc *nats.Conn
		js jetstream.JetStream
	)
	if cfg.NeedsNATS() {
		nc, js, err = natsutil.ConnectJetStream(cfg.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Close()
	}

	if nc != nil && cfg.Inference.SubjectPrefix != "" {
		ic := inference.NewClient(nc, js, cfg.Inference, logger.Named("inference"))
		deps.Detector = ic
		deps.Recognizer = ic
		deps.Embedder = ic
		deps.Loader = ic
	}

	// Initialize S3 snapshots
	var s3Client *s3util.Client
	if cfg.Snapshot.Enabled {
		s3Client, err = s3util.NewClient(ctx, cfg.Snapshot)
		if err != nil {
			return fmt.Errorf("creating S3 client: %w", err)
		}
		blobs, err := blob.NewStore(s3Client.S3, cfg.Snapshot, logger.Named("blob"))
		if err != nil {
			return fmt.Errorf("creating snapshot store: %w", err)
		}
		defer blobs.Close()
		deps.Snapshots = blobs
	}

	svc, err := service.New(ctx, cfg, deps)
	if err != nil {
		return fmt.Errorf("starting service: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Reap idle submissions
	reaper := lifecycle.NewManager(svc.Submissions(), cfg.Submissions.MaxAge.Duration(), logger.Named("lifecycle"))
	g.Go(func() error { return reaper.Run(gctx, cfg.Submissions.SweepInterval.Duration()) })

	// Scheduled snapshots
	if deps.Snapshots != nil && cfg.Snapshot.Interval > 0 {
		g.Go(func() error {
			return lifecycle.RunSnapshots(gctx, svc, metaStore, deps.Snapshots,
				cfg.Snapshot.Interval.Duration(), cfg.Snapshot.Retain, logger.Named("snapshots"))
		})
	}

	// Durable chunk ingest
	if cfg.Ingest.Enabled {
		p := ingest.NewPipeline(ingest.PipelineConfig{
			JS:     js,
			Sink:   svc,
			Ingest: cfg.Ingest,
			Logger: logger.Named("ingest"),
		})
		g.Go(func() error { return p.Run(gctx) })
	}

	// Start HTTP API
	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, svc, logger.Named("api"))
		})
	}

	// Start NATS responder
	if cfg.API.NATSResponder.Enabled {
		g.Go(func() error {
			return serve.RunNATSResponder(gctx, nc, cfg.API.NATSResponder, svc, logger.Named("nats-responder"))
		})
	}

	// Start metrics server
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	// Start health server
	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(nc, metaStore, s3Client)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("artgate started",
		zap.String("version", version),
		zap.String("backend", cfg.Store.Backend),
		zap.Bool("nats", nc != nil),
		zap.Bool("snapshots", deps.Snapshots != nil),
		zap.Int("faces", svc.FaceCount(ctx)),
		zap.Int("records", svc.RecordCount(ctx)),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	if cfg.Output != "" {
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
