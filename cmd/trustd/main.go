package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"trustd/config"
	"trustd/internal/anomaly"
	"trustd/internal/api"
	"trustd/internal/broadcast"
	"trustd/internal/collector"
	"trustd/internal/logger"
	"trustd/internal/metrics"
	"trustd/internal/pipeline"
	"trustd/internal/rules"
	"trustd/internal/session"
	"trustd/internal/store"
	"trustd/internal/store/jsonl"
	"trustd/internal/store/redisstore"
	"trustd/internal/trust"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("trustd.yml"); err == nil {
		return "trustd.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "trustd.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "trustd.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Trustd.Collector.ProcessInterval <= 0 {
		cfg.Trustd.Collector.ProcessInterval = 1 * time.Second
	}
	if cfg.Trustd.Collector.NetworkInterval <= 0 {
		cfg.Trustd.Collector.NetworkInterval = 2 * time.Second
	}
	if cfg.Trustd.Collector.AuthLogInterval <= 0 {
		cfg.Trustd.Collector.AuthLogInterval = 1 * time.Second
	}
	if cfg.Trustd.Collector.AuthLogPath == "" {
		cfg.Trustd.Collector.AuthLogPath = "/var/log/auth.log"
	}
	if len(cfg.Trustd.Collector.WatchRoots) == 0 {
		cfg.Trustd.Collector.WatchRoots = []string{"/etc", "/home", "/var/log"}
	}
	if cfg.Trustd.Collector.QueueSize <= 0 {
		cfg.Trustd.Collector.QueueSize = 1024
	}

	if cfg.Trustd.Model.Path == "" {
		cfg.Trustd.Model.Path = "data/model.json"
	}

	if cfg.Trustd.Store.Mode == "" {
		cfg.Trustd.Store.Mode = "file"
	}
	if cfg.Trustd.Store.File.Dir == "" {
		cfg.Trustd.Store.File.Dir = "data"
	}

	if cfg.Trustd.API.Addr == "" {
		cfg.Trustd.API.Addr = ":8000"
	}

	if cfg.Trustd.Logging.Level == "" {
		cfg.Trustd.Logging.Level = "info"
	}
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Trustd.Logging.Enabled, cfg.Trustd.Logging.Level, cfg.Trustd.Logging.File, cfg.Trustd.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("trustd starting")
	logger.Infof("Config loaded from: %s", configPath)

	var st store.Store
	switch cfg.Trustd.Store.Mode {
	case "file":
		st, err = jsonl.NewStore(cfg.Trustd.Store.File.Dir)
		if err != nil {
			log.Fatalf("Failed to create file store: %v", err)
		}
	case "redis":
		st, err = redisstore.NewStore(redisstore.Config{
			Addr:      cfg.Trustd.Store.Redis.Addr,
			Password:  cfg.Trustd.Store.Redis.Password,
			DB:        cfg.Trustd.Store.Redis.DB,
			KeyPrefix: cfg.Trustd.Store.Redis.KeyPrefix,
		})
		if err != nil {
			log.Fatalf("Failed to create redis store: %v", err)
		}
	default:
		log.Fatalf("Unknown store mode: %s", cfg.Trustd.Store.Mode)
	}

	var engine rules.Engine
	if cfg.Trustd.Rules.Enabled {
		if strings.TrimSpace(cfg.Trustd.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; suspicious-event tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.Trustd.Rules.Path)
			if err != nil {
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			engine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_datasource=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedDatasource,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; tagging is effectively disabled")
			}
		}
	}

	detector := anomaly.NewDetector(anomaly.Config{
		Path:                 cfg.Trustd.Model.Path,
		MinTrainingEvents:    cfg.Trustd.Model.MinTrainingEvents,
		Trees:                cfg.Trustd.Model.Trees,
		SampleSize:           cfg.Trustd.Model.SampleSize,
		DefaultContamination: cfg.Trustd.Model.DefaultContamination,
		MinContamination:     cfg.Trustd.Model.MinContamination,
		MaxContamination:     cfg.Trustd.Model.MaxContamination,
		DecisionMargin:       cfg.Trustd.Model.DecisionMargin,
		MinConfidence:        cfg.Trustd.Model.MinConfidence,
		MaxConfidence:        cfg.Trustd.Model.MaxConfidence,
	})
	if found, err := detector.Load(); err != nil {
		logger.Errorf("Failed to load model artifact: %v", err)
	} else if found {
		metrics.ModelTrained.Set(1)
	}

	trustEngine := trust.NewEngine(trust.Config{
		InitialScore:   cfg.Trustd.Trust.InitialScore,
		AlertThreshold: cfg.Trustd.Trust.AlertThreshold,
	})
	metrics.TrustScore.Set(trustEngine.Score())

	var hub *broadcast.Hub
	var notifier session.Notifier
	if cfg.Trustd.Broadcast.Enabled {
		hub = broadcast.NewHub()
		notifier = hub
	}

	sessions := session.NewManager(detector, trustEngine, st, notifier)

	var publisher pipeline.Broadcaster
	if hub != nil {
		publisher = hub
	}
	pipe := pipeline.New(pipeline.Config{QueueSize: cfg.Trustd.Collector.QueueSize},
		sessions, detector, trustEngine, st, engine, publisher)

	coll := collector.New(collector.Config{
		ProcessInterval: cfg.Trustd.Collector.ProcessInterval,
		NetworkInterval: cfg.Trustd.Collector.NetworkInterval,
		AuthLogInterval: cfg.Trustd.Collector.AuthLogInterval,
		AuthLogPath:     cfg.Trustd.Collector.AuthLogPath,
		WatchRoots:      cfg.Trustd.Collector.WatchRoots,
	}, pipe.Ingest)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe.Start(ctx)
	if err := coll.Start(ctx); err != nil {
		log.Fatalf("Failed to start collectors: %v", err)
	}

	server := api.NewServer(sessions, trustEngine, pipe, hub, cfg.Trustd.Metrics.Enabled)
	httpServer := &http.Server{
		Addr:    cfg.Trustd.API.Addr,
		Handler: server.Router(),
	}
	go func() {
		logger.Infof("Control API listening on %s", cfg.Trustd.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down HTTP server: %v", err)
	}

	coll.Stop()
	pipe.Stop()
	if err := st.Close(); err != nil {
		logger.Errorf("Error closing store: %v", err)
	}

	logger.Infof("trustd stopped")
}
