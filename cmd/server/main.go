package main

import (
	"flag"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sitewatch/internal/api"
	"sitewatch/internal/config"
	"sitewatch/internal/crypto"
	"sitewatch/internal/database"
	"sitewatch/internal/logger"
	"sitewatch/internal/services"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to configuration file")
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

	if err := cfg.Validate(); err != nil {
		logger.L().Error("configuration is incomplete", zap.Error(err))
		os.Exit(1)
	}

	if err := database.InitDB(&cfg.Database); err != nil {
		logger.L().Error("failed to initialize database", zap.Error(err))
		os.Exit(1)
	}
	logger.L().Info("database initialized", zap.String("path", cfg.Database.Path))

	cipher, err := crypto.NewCipher(cfg.Privacy.PIIKey)
	if err != nil {
		logger.L().Error("failed to initialize PII cipher", zap.Error(err))
		os.Exit(1)
	}

	fetchTimeout, err := time.ParseDuration(cfg.Worker.FetchTimeout)
	if err != nil {
		fetchTimeout = 30 * time.Second
	}

	fetcher := services.NewFetcherService(fetchTimeout)
	notifier := services.NewNotifierService(&cfg.Email)
	authService := services.NewAuthService(cfg.Privacy.UnsubscribeKey)
	accountService := services.NewAccountService(cipher, authService, nil)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(logger.Middleware(), gin.Recovery())

	handler := api.NewHandler(cfg, cipher, authService, accountService, fetcher, notifier)
	api.SetupRoutes(r, handler)

	addr := ":" + cfg.Server.Port
	logger.L().Info("server starting", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.L().Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
