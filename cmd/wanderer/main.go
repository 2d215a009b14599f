package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	_ "go.uber.org/automaxprocs"

	"go-wanderer/internal/analytics"
	"go-wanderer/internal/dedup"
	"go-wanderer/internal/handlers"
	"go-wanderer/internal/killmail"
	"go-wanderer/internal/license"
	"go-wanderer/internal/mapclient"
	"go-wanderer/internal/notifier"
	"go-wanderer/internal/sse"
	"go-wanderer/internal/status"
	"go-wanderer/internal/telemetry"
	"go-wanderer/internal/tracking"
	"go-wanderer/pkg/app"
	"go-wanderer/pkg/evegateway"
	"go-wanderer/pkg/version"
)

// serverTimeFunc adapts a closure to the handlers.ServerTimeRecorder
// interface so the stream consumer can be constructed after the handlers.
type serverTimeFunc func(serverTime string)

func (f serverTimeFunc) RecordServerTime(serverTime string) { f(serverTime) }

// deliveryFailures records sustained webhook delivery failures as analytics
// patterns so they surface on the operator API.
type deliveryFailures struct {
	tracker *analytics.Tracker
}

func (d deliveryFailures) RecordFailure(fingerprint, reason string) {
	slog.Error("Notification delivery abandoned", "fingerprint", fingerprint, "reason", reason)
	d.tracker.RecordPattern(reason)
}

func main() {
	displayBanner()

	versionInfo := version.Get()
	log.Printf("Version: %s | Build: %s", version.GetVersionString(), versionInfo.BuildDate)
	log.Printf("CPUs: %d | GOMAXPROCS: %d", runtime.NumCPU(), runtime.GOMAXPROCS(0))

	appCtx, err := app.InitializeApp("wanderer-notifier")
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	cfg := appCtx.Config

	// Background context for everything that runs for the process lifetime.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	esi := evegateway.NewClient(evegateway.ClientConfig{
		BaseURL:   cfg.ESIBaseURL,
		UserAgent: cfg.ESIUserAgent,
		Retry:     evegateway.DefaultRetryConfig(),
		RateLimit: evegateway.DefaultRateLimiterConfig(),
		Breaker:   evegateway.DefaultBreakerConfig(),
	}, appCtx.Cache)

	dedupSvc := dedup.NewService(appCtx.Cache, cfg.DedupTTL)
	registry := tracking.NewRegistry(appCtx.Cache)
	tracker := analytics.NewTracker(analytics.Config{})

	licenseSvc := license.NewService(license.Config{
		LicenseKey:      cfg.LicenseKey,
		BaseURL:         cfg.LicenseBaseURL,
		APIToken:        cfg.APIToken,
		RefreshInterval: cfg.LicenseRefreshInterval,
		DevMode:         cfg.IsDev(),
	})
	licenseSvc.Start(runCtx)

	// Reconcile the tracked-entity cache from the map API before the stream
	// starts, so the first-run guard sees real collections.
	if cfg.MapBaseURL != "" {
		mapAPI := mapclient.NewClient(mapclient.Config{
			BaseURL: cfg.MapBaseURL,
			Slug:    cfg.MapSlug,
			Token:   cfg.MapToken,
		})
		loadSnapshot(runCtx, mapAPI, registry)
	}

	dispatcher := notifier.NewDispatcher(notifier.Config{
		Sender: notifier.NewWebhookSender(cfg.ChatWebhookURL),
		Channels: map[notifier.Kind]string{
			notifier.KindSystem:    cfg.ChannelIDs.System,
			notifier.KindCharacter: cfg.ChannelIDs.Character,
			notifier.KindKill:      cfg.ChannelIDs.Kill,
			notifier.KindRally:     cfg.ChannelIDs.Rally,
			notifier.KindStatus:    cfg.ChannelIDs.Status,
		},
		QueueSize: cfg.DispatchQueueSize,
		Failures:  deliveryFailures{tracker: tracker},
	})
	go dispatcher.Run(runCtx)

	override := killmail.NewOverride()
	enricher := killmail.NewEnricher(esi, cfg.EnrichmentDeadline, cfg.EnrichmentWorkers)
	pipeline := killmail.NewPipeline(killmail.PipelineConfig{
		Dedup:      dedupSvc,
		Enricher:   enricher,
		Registry:   registry,
		License:    licenseSvc,
		Dispatcher: dispatcher,
		Override:   override,
		Workers:    cfg.EnrichmentWorkers,
		QueueSize:  cfg.DispatchQueueSize,
	})
	go pipeline.Run(runCtx)

	feed := killmail.NewFeedConsumer(killmail.FeedConfig{
		Endpoint: cfg.ZKillEndpoint,
		QueueID:  cfg.ZKillQueueID,
	}, pipeline)
	if err := feed.Start(runCtx); err != nil {
		log.Fatalf("Failed to start killmail feed: %v", err)
	}

	// The consumer routes server_time from connected events back into its own
	// stats; the indirection exists because the consumer is built after the
	// handlers it feeds.
	var consumer *sse.Consumer
	handlerSvc := handlers.NewService(handlers.ServiceConfig{
		Registry:    registry,
		Dedup:       dedupSvc,
		License:     licenseSvc,
		Dispatcher:  dispatcher,
		ESI:         esi,
		Features:    cfg.Features,
		Suppression: handlers.NewSuppression(cfg.StartupSuppression),
		Kills:       pipeline,
		ServerTime: serverTimeFunc(func(serverTime string) {
			if consumer != nil {
				consumer.RecordServerTime(serverTime)
			}
		}),
	})

	router := sse.NewRouter(sse.RouterConfig{
		System:    handlerSvc.HandleSystem,
		Character: handlerSvc.HandleCharacter,
		Rally:     handlerSvc.HandleRally,
		Special:   handlerSvc.HandleSpecial,
	})
	router.OnProcessed = func(ev *sse.Event, cat sse.Category, elapsed time.Duration, err error) {
		errType := ""
		if err != nil {
			errType = "handler_error"
		}
		tracker.RecordEvent("sse", elapsed, errType)
	}

	if cfg.MapBaseURL != "" {
		consumer = sse.NewConsumer(sse.ConsumerConfig{
			URL:   fmt.Sprintf("%s/api/maps/%s/events", cfg.MapBaseURL, cfg.MapSlug),
			Token: cfg.MapToken,
		}, router)
		go consumer.Run(runCtx)
	} else {
		slog.Warn("MAP_BASE_URL not configured, stream consumer disabled")
	}

	startedAt := time.Now()
	collector := telemetry.NewCollector(telemetry.Config{
		CollectionInterval: cfg.CollectionInterval,
		RetentionPeriod:    cfg.RetentionPeriod,
		AggregationWindow:  cfg.AggregationWindow,
	}, telemetry.Sources{
		Connection: func() telemetry.ConnectionSample {
			if consumer == nil {
				return telemetry.ConnectionSample{}
			}
			st := consumer.Stats()
			sample := telemetry.ConnectionSample{Count: 1, Reconnects: st.Reconnects}
			if st.Connected {
				sample.Healthy = 1
			}
			if elapsed := time.Since(startedAt); elapsed > 0 {
				sample.UptimePct = float64(st.Uptime) / float64(elapsed) * 100
			}
			return sample
		},
		Processing: func() telemetry.ProcessingSample {
			rs := router.Stats()
			ps := pipeline.Stats()
			sample := telemetry.ProcessingSample{
				Processed:       rs.Processed + ps.Received,
				Failed:          rs.Failed + ps.EnrichFailed,
				AvgProcessingMs: ps.AvgProcessingMs,
			}
			if total := sample.Processed + sample.Failed; total > 0 {
				sample.SuccessRate = float64(sample.Processed) / float64(total) * 100
			} else {
				sample.SuccessRate = 100
			}
			if elapsed := time.Since(startedAt).Seconds(); elapsed > 0 {
				sample.EventsPerSecond = float64(sample.Processed) / elapsed
			}
			return sample
		},
		Dedup: func() telemetry.DedupSample {
			ds := dedupSvc.Stats()
			return telemetry.DedupSample{
				Total:      ds.Total,
				Duplicates: ds.Duplicates,
				RatePct:    ds.Rate,
				Strategy:   "cache_ttl",
			}
		},
	})
	collector.CollectNow()
	if err := collector.Start(); err != nil {
		log.Fatalf("Failed to start telemetry collector: %v", err)
	}

	go maintenanceLoop(runCtx, appCtx, tracker)

	routes := status.NewRoutes(status.RoutesConfig{
		Environment: cfg.Environment,
		Collector:   collector,
		Tracker:     tracker,
		Consumer:    consumer,
		Router:      router,
		Feed:        feed,
		Pipeline:    pipeline,
		Dispatcher:  dispatcher,
		Dedup:       dedupSvc,
		Store:       appCtx.Cache,
		Registry:    registry,
		License:     licenseSvc,
		Override:    override,
	})
	srv := status.NewServer(cfg.Host+":"+cfg.Port, routes)

	go func() {
		slog.Info("Starting operator API server", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Operator API server failed", "error", err)
			os.Exit(1)
		}
	}()

	if err := dispatcher.Enqueue(notifier.FormatStatus(
		"Notifier started",
		fmt.Sprintf("Version %s, tracking %d systems and %d characters",
			version.GetVersionString(), registry.SystemCount(), registry.CharacterCount()),
	)); err != nil {
		slog.Warn("Startup notification not queued", "error", err)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Received shutdown signal, initiating graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Operator API server forced to shutdown", "error", err)
	}

	// Stop ingestion first, then let the workers drain.
	if err := feed.Stop(); err != nil {
		slog.Error("Feed consumer stop failed", "error", err)
	}
	cancel()
	dispatcher.Wait()
	collector.Stop()

	appCtx.Shutdown(shutdownCtx)

	slog.Info("Notifier shutdown completed successfully")
}

// loadSnapshot seeds the registry from the map API. Failures are logged and
// the service starts with empty collections, which arms the first-run guard.
func loadSnapshot(ctx context.Context, mapAPI *mapclient.Client, registry *tracking.Registry) {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if systems, err := mapAPI.Systems(loadCtx); err != nil {
		slog.Error("Map systems snapshot failed", "error", err)
	} else {
		registry.ReplaceSystems(systems)
		slog.Info("Map systems snapshot loaded", "count", len(systems))
	}

	if chars, err := mapAPI.UserCharacters(loadCtx); err != nil {
		slog.Error("Map characters snapshot failed", "error", err)
	} else {
		registry.ReplaceCharacters(chars)
		slog.Info("Map characters snapshot loaded", "count", len(chars))
	}
}

// maintenanceLoop prunes expired cache entries and retires stale analytics
// buckets on their respective intervals.
func maintenanceLoop(ctx context.Context, appCtx *app.AppContext, tracker *analytics.Tracker) {
	c := cron.New()
	c.AddFunc("@every 5m", func() {
		if removed := appCtx.Cache.Prune(); removed > 0 {
			slog.Debug("Cache pruned", "removed", removed)
		}
	})
	c.AddFunc(fmt.Sprintf("@every %s", tracker.CleanupInterval()), tracker.Cleanup)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
}

func displayBanner() {
	fmt.Println(`
 _    _                 _
| |  | |               | |
| |  | | __ _ _ __   __| | ___ _ __ ___ _ __
| |/\| |/ _' | '_ \ / _' |/ _ \ '__/ _ \ '__|
\  /\  / (_| | | | | (_| |  __/ | |  __/ |
 \/  \/ \__,_|_| |_|\__,_|\___|_|  \___|_|

 Wanderer Notifier`)
	fmt.Println()
}
