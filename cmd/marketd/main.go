package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"rafflemarkets/internal/alert"
	"rafflemarkets/internal/chain"
	"rafflemarkets/internal/config"
	cronrunner "rafflemarkets/internal/cron"
	"rafflemarkets/internal/db"
	"rafflemarkets/internal/handler"
	"rafflemarkets/internal/history"
	"rafflemarkets/internal/logger"
	"rafflemarkets/internal/maker"
	"rafflemarkets/internal/pricing"
	"rafflemarkets/internal/reconciler"
	"rafflemarkets/internal/repository"
	gormrepository "rafflemarkets/internal/repository/gorm"
	"rafflemarkets/internal/service"
	"rafflemarkets/internal/watcher"

	_ "rafflemarkets/docs"
)

func main() {
	cfgPath := os.Getenv("RM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("RM_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	var redisClient *redis.Client
	var histStore history.Store
	if cfg.Redis.Enabled {
		rs := history.NewRedisStore(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs.Retention = cfg.History.Retention
		rs.MaxPoints = int64(cfg.History.MaxPoints)
		rs.DisplayCeiling = cfg.History.DisplayCeiling
		redisClient = rs.Client
		histStore = rs
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable at startup", zap.Error(err))
		}
		cancel()
	} else {
		ms := history.NewMemoryStore()
		ms.Retention = cfg.History.Retention
		ms.MaxPoints = int64(cfg.History.MaxPoints)
		ms.DisplayCeiling = cfg.History.DisplayCeiling
		histStore = ms
		logger.Info("redis disabled, using in-memory history store")
	}

	var chainClient *chain.Client
	if strings.TrimSpace(cfg.Chain.RPCURL) != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		chainClient, err = chain.Dial(dialCtx, cfg.Chain, logger)
		cancel()
		if err != nil {
			logger.Fatal("chain dial failed", zap.Error(err))
		}
		defer chainClient.Close()
	} else {
		logger.Info("no chain rpc configured, running off-chain")
	}

	pricingEngine := &pricing.Engine{
		Repo:    store,
		History: histStore,
		Logger:  logger,
		Config:  cfg.Pricing,
	}
	if err := pricingEngine.Warm(context.Background()); err != nil {
		logger.Warn("pricing warm-up failed", zap.Error(err))
	}

	makerSvc := &maker.Maker{
		Repo:   store,
		Engine: pricingEngine,
		Logger: logger,
		Config: cfg.Maker,
	}
	if err := makerSvc.Restore(context.Background()); err != nil {
		logger.Warn("maker state restore failed", zap.Error(err))
	}

	// The bot token can live in the settings table (sealed at rest) instead
	// of the environment, so operators can rotate it without a deploy.
	telegramToken := cfg.Alert.TelegramToken
	if telegramToken == "" {
		if raw, err := settingsSvc.Value(context.Background(), "alert.telegram_token"); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &telegramToken)
		}
	}
	alerter := alert.NewTelegram(telegramToken, cfg.Alert.TelegramChatID, logger)

	var creator reconciler.Creator
	if chainClient != nil && cfg.Chain.FactoryAddress != "" && cfg.Chain.PrivateKey != "" {
		creator = chainClient
	} else {
		logger.Info("market factory not configured, creations stay off-chain")
	}

	rec := &reconciler.Reconciler{
		Repo:     store,
		Creator:  creator,
		Engine:   pricingEngine,
		Switches: settingsSvc,
		Alerter:  alerter,
		Logger:   logger,
		Config:   cfg.Reconciler,
	}

	var watch *watcher.Watcher
	if chainClient != nil {
		watch = &watcher.Watcher{
			Client:  chainClient,
			Repo:    store,
			Handler: rec,
			Logger:  logger,
			Config:  cfg.Watcher,
			Chain:   cfg.Chain,
		}
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Redis: redisClient}
	healthHandler.Register(engine)
	(&handler.MarketsHandler{Repo: store}).Register(engine)
	(&handler.PricingHandler{Engine: pricingEngine, Repo: store}).Register(engine)
	(&handler.TradingHandler{Maker: makerSvc, Repo: store, Settings: settingsSvc}).Register(engine)
	(&handler.HistoryHandler{Store: histStore, Repo: store}).Register(engine)
	(&handler.StreamHandler{
		Engine:   pricingEngine,
		Repo:     store,
		Settings: settingsSvc,
		Logger:   logger,
		Config:   cfg.Stream,
	}).Register(engine)
	(&handler.WSHandler{
		Engine:   pricingEngine,
		Repo:     store,
		Settings: settingsSvc,
		Logger:   logger,
		Config:   cfg.Stream,
	}).Register(engine)
	(&handler.AdminHandler{
		Repo:       store,
		Reconciler: rec,
		Watcher:    watch,
		Maker:      makerSvc,
		Settings:   settingsSvc,
	}).Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch != nil && cfg.Watcher.Enabled && settingsSvc.IsEnabled(ctx, service.SwitchWatcher, true) {
		go func() {
			if err := watch.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("watcher stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("chain watcher not running",
			zap.Bool("configured", watch != nil),
			zap.Bool("enabled", cfg.Watcher.Enabled),
		)
	}

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		registerCronJobs(cronRunner, cfg, logger, store, histStore, rec, settingsSvc)
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	// Inflight market creations finish or record their failure rows before
	// the process exits.
	rec.Wait()
}

func registerCronJobs(
	runner *cronrunner.Runner,
	cfg config.Config,
	logger *zap.Logger,
	store *gormrepository.Store,
	histStore history.Store,
	rec *reconciler.Reconciler,
	settingsSvc *service.SystemSettingsService,
) {
	_, err := runner.Add(cfg.Cron.HistorySweep, func(ctx context.Context) {
		keys, err := store.ListActiveMarketKeys(ctx, 10_000)
		if err != nil {
			logger.Warn("history sweep key listing failed", zap.Error(err))
			return
		}
		removed := 0
		for _, key := range keys {
			n, err := histStore.Sweep(ctx, key.SeasonID, key.ID)
			if err != nil {
				logger.Warn("history sweep failed",
					zap.Uint64("season_id", key.SeasonID),
					zap.Uint64("market_id", key.ID),
					zap.Error(err),
				)
				continue
			}
			removed += n
		}
		if removed > 0 {
			logger.Info("history sweep complete",
				zap.Int("markets", len(keys)),
				zap.Int("removed_points", removed),
			)
		}
	})
	if err != nil {
		logger.Warn("cron register history sweep failed", zap.Error(err))
	}

	_, err = runner.Add(cfg.Cron.FailureRetry, func(ctx context.Context) {
		if !settingsSvc.IsEnabled(ctx, service.SwitchAutoCreate, true) {
			return
		}
		unresolved := false
		failures, err := store.ListCreationFailures(ctx, repository.ListCreationFailuresParams{
			Limit:    10,
			Resolved: &unresolved,
		})
		if err != nil {
			logger.Warn("failure re-drive listing failed", zap.Error(err))
			return
		}
		for _, failure := range failures {
			if err := rec.RetryFailure(ctx, failure.ID); err != nil {
				logger.Warn("failure re-drive attempt failed",
					zap.Uint64("failure_id", failure.ID),
					zap.Error(err),
				)
			}
		}
	})
	if err != nil {
		logger.Warn("cron register failure re-drive failed", zap.Error(err))
	}

	_, err = runner.Add(cfg.Cron.MarkerGC, func(ctx context.Context) {
		if n := rec.SweepMarkers(); n > 0 {
			logger.Debug("dedupe markers swept", zap.Int("removed", n))
		}
	})
	if err != nil {
		logger.Warn("cron register marker gc failed", zap.Error(err))
	}

	_, err = runner.Add("@every 5m", func(ctx context.Context) {
		checkpoints, err := store.ListWatchCheckpoints(ctx)
		if err != nil || len(checkpoints) == 0 {
			return
		}
		fields := make([]zap.Field, 0, len(checkpoints))
		for _, cp := range checkpoints {
			fields = append(fields, zap.Uint64(cp.Name, cp.BlockNumber))
		}
		logger.Info("watcher checkpoints", fields...)
	})
	if err != nil {
		logger.Warn("cron register checkpoint stats failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
