package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sitewatch/internal/config"
	"sitewatch/internal/crypto"
	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/scheduler"
	"sitewatch/internal/services"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single check cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Init(cfg.Server.Mode); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if err := database.InitDB(&cfg.Database); err != nil {
		logger.L().Error("failed to initialize database", zap.Error(err))
		os.Exit(1)
	}

	fetchTimeout, err := time.ParseDuration(cfg.Worker.FetchTimeout)
	if err != nil {
		fetchTimeout = 30 * time.Second
	}
	paceDelay, err := time.ParseDuration(cfg.Worker.PaceDelay)
	if err != nil {
		paceDelay = 500 * time.Millisecond
	}
	llmTimeout, err := time.ParseDuration(cfg.LLM.Timeout)
	if err != nil {
		llmTimeout = 60 * time.Second
	}

	cipher, err := crypto.NewCipher(cfg.Privacy.PIIKey)
	if err != nil {
		logger.L().Error("failed to initialize PII cipher", zap.Error(err))
		os.Exit(1)
	}

	fetcher := services.NewFetcherService(fetchTimeout)
	analyzer := services.NewAnalyzerService(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Model, llmTimeout)
	notifier := services.NewNotifierService(&cfg.Email)
	monitor := services.NewMonitorService(fetcher, analyzer, notifier, cipher, paceDelay, cfg.Worker.FanOut)
	retention := services.NewRetentionService(cfg.Retention.Days)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		if err := monitor.RunCycle(ctx); err != nil {
			logger.L().Error("check cycle failed", zap.Error(err))
			os.Exit(1)
		}
		if err := retention.Sweep(); err != nil {
			logger.L().Error("retention sweep failed", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	sched := scheduler.NewScheduler(monitor, retention)
	if err := sched.Start(ctx, cfg.Worker.CheckCron, cfg.Retention.Cron); err != nil {
		logger.L().Error("failed to start scheduler", zap.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	sched.Stop()
}
