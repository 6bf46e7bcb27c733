// Package main wires together the schemasmith service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/schemasmith/schemasmith/internal/api"
	"github.com/schemasmith/schemasmith/internal/autosave"
	"github.com/schemasmith/schemasmith/internal/bulk"
	bulkmemory "github.com/schemasmith/schemasmith/internal/bulk/memory"
	"github.com/schemasmith/schemasmith/internal/bulk/scheduler"
	"github.com/schemasmith/schemasmith/internal/clock/system"
	"github.com/schemasmith/schemasmith/internal/config"
	"github.com/schemasmith/schemasmith/internal/draft"
	"github.com/schemasmith/schemasmith/internal/events"
	"github.com/schemasmith/schemasmith/internal/events/sinks"
	"github.com/schemasmith/schemasmith/internal/exportstore"
	exportgcs "github.com/schemasmith/schemasmith/internal/exportstore/gcs"
	exportlocal "github.com/schemasmith/schemasmith/internal/exportstore/local"
	exportmemory "github.com/schemasmith/schemasmith/internal/exportstore/memory"
	"github.com/schemasmith/schemasmith/internal/hash/sha256"
	"github.com/schemasmith/schemasmith/internal/id/uuid"
	"github.com/schemasmith/schemasmith/internal/logging"
	"github.com/schemasmith/schemasmith/internal/markup"
	memorypublisher "github.com/schemasmith/schemasmith/internal/publisher/memory"
	pubsubpublisher "github.com/schemasmith/schemasmith/internal/publisher/pubsub"
	"github.com/schemasmith/schemasmith/internal/realtime"
	collyscraper "github.com/schemasmith/schemasmith/internal/scrape/colly"
	"github.com/schemasmith/schemasmith/internal/storage/postgres"
	"github.com/schemasmith/schemasmith/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.NewGenerator()
	hasher := sha256.New()

	jobs := bulkmemory.NewStore(bulk.Limits{
		MaxURLsPerJob:    cfg.Bulk.MaxURLsPerJob,
		MaxActivePerUser: cfg.Bulk.MaxActivePerUser,
		Retention:        cfg.Retention(),
	}, clk, idGen)
	autosaves := autosave.NewMemoryStore(clk, idGen)
	drafts := draft.NewEngine(cfg.Autosave.HistoryCap, clk, hasher)

	// Event sinks: always log and Prometheus; Postgres when a DSN is set.
	hubSinks := []events.Sink{sinks.NewLogSink(logger)}
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		logger.Error("prometheus sink init failed", zap.Error(err))
	} else {
		hubSinks = append(hubSinks, promSink)
	}
	var activity *postgres.ActivityStore
	if cfg.DB.DSN != "" {
		activity, err = postgres.NewActivityStore(ctx, postgres.ActivityStoreConfig{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Second,
		})
		if err != nil {
			logger.Error("activity store init failed", zap.Error(err))
		} else {
			hubSinks = append(hubSinks, sinks.NewStoreSink(activity, logger))
		}
	}
	eventHub := events.NewHub(events.Config{
		BaseContext: ctx,
		Logger:      logger,
	}, hubSinks...)

	scraper := collyscraper.New(collyscraper.Config{
		UserAgent:    cfg.Scrape.UserAgent,
		Timeout:      cfg.ScrapeTimeout(),
		MaxBodyBytes: cfg.Scrape.MaxBodyBytes,
	})
	generator := markup.NewHTTPGenerator(markup.HTTPGeneratorConfig{
		Endpoint: cfg.Generator.Endpoint,
		APIKey:   cfg.Generator.APIKey,
		Timeout:  cfg.GeneratorTimeout(),
	})
	processor := markup.NewProcessor(scraper, generator)

	var completions scheduler.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Error("pubsub client init failed", zap.Error(err))
		} else {
			defer client.Close()
			completions = pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
		}
	}

	pacer := scheduler.NewHostPacer(scheduler.PacerConfig{
		DefaultRPS:   float64(cfg.Bulk.PacerRPS),
		DefaultBurst: cfg.Bulk.PacerBurst,
	})
	sched := scheduler.New(
		ctx,
		jobs,
		processor,
		clk,
		eventHub,
		completions,
		pacer,
		scheduler.Config{
			MaxConcurrentJobs: cfg.Bulk.MaxConcurrentJobs,
			CompletionTopic:   cfg.Bulk.CompletionTopic,
		},
		logger.Named("scheduler"),
	)

	archive, err := buildArchive(ctx, cfg)
	if err != nil {
		logger.Error("export archive init failed", zap.Error(err))
	}

	var rtHub *realtime.Hub
	if cfg.Realtime.Enabled {
		rtHub = realtime.NewHub(autosaves, drafts, clk, logger)
		go rtHub.Run()
	}

	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Bulk.SweepSchedule, func() {
		removed, err := jobs.SweepExpired(context.Background())
		if err != nil {
			logger.Error("retention sweep failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("retention sweep removed jobs", zap.Int("removed", removed))
		}
	}); err != nil {
		logger.Error("schedule retention sweep failed", zap.Error(err))
	}
	if _, err := sweeper.AddFunc(cfg.Autosave.CleanupSchedule, func() {
		removed, err := autosaves.CleanupStale(context.Background())
		if err != nil {
			logger.Error("autosave cleanup failed", zap.Error(err))
			return
		}
		if removed > 0 {
			logger.Info("autosave cleanup removed states", zap.Int("removed", removed))
		}
	}); err != nil {
		logger.Error("schedule autosave cleanup failed", zap.Error(err))
	}
	sweeper.Start()

	var activityRepo store.ActivityRepository
	if activity != nil {
		activityRepo = activity
	}
	apiServer := api.NewServer(jobs, sched, autosaves, drafts, archive, activityRepo, rtHub, cfg, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-sweeper.Stop().Done()
	sched.Wait()
	if rtHub != nil {
		if err := rtHub.Shutdown(shutdownCtx); err != nil {
			logger.Error("realtime shutdown error", zap.Error(err))
		}
	}
	if err := eventHub.Close(shutdownCtx); err != nil {
		logger.Error("event hub close error", zap.Error(err))
	}
	if activity != nil {
		activity.Close()
	}
	logger.Info("shutdown complete")
}

func buildArchive(ctx context.Context, cfg config.Config) (exportstore.Archive, error) {
	switch cfg.Export.Backend {
	case "local":
		return exportlocal.New(exportlocal.Config{BaseDir: cfg.Export.BaseDir})
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("storage client: %w", err)
		}
		return exportgcs.New(client, exportgcs.Config{Bucket: cfg.Export.GCSBucket})
	default:
		return exportmemory.New(), nil
	}
}
