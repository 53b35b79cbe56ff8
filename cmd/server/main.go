package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"cdc-collector-service/internal/api"
	"cdc-collector-service/internal/collector"
	"cdc-collector-service/internal/config"
	"cdc-collector-service/internal/identity"
	"cdc-collector-service/internal/logger"
	"cdc-collector-service/internal/pipeline"
	"cdc-collector-service/internal/storage"
	"cdc-collector-service/internal/store"
)

func main() {
	// Load Config
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Init Logger
	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting CDC Collector Service")

	// Identity generator; worker id assignment is external and must be
	// collision-free across running workers.
	ids, err := identity.NewGenerator(cfg.Identity.WorkerID)
	if err != nil {
		logger.Log.Fatal("Failed to init identity generator", zap.Error(err))
	}

	// Init State Store
	stateStore, err := storage.New(cfg.StateStorage)
	if err != nil {
		logger.Log.Fatal("Failed to init state store", zap.Error(err))
	}
	defer stateStore.Close()

	// Init Collector Manager
	manager, err := collector.NewManager(cfg, stateStore, ids)
	if err != nil {
		logger.Log.Fatal("Failed to init collector manager", zap.Error(err))
	}
	if err := manager.Start(); err != nil {
		logger.Log.Fatal("Failed to start collector manager", zap.Error(err))
	}

	// Init Pipeline Reactor
	triggers := store.NewTriggerOnlineStore(stateStore)
	locks := store.NewLockStore(stateStore, ids, cfg.Collector.GetLockStaleAfter())
	storages := pipeline.NewTopicStorages(stateStore, nil, cfg.Topics)
	reactor := pipeline.NewReactor(storages, triggers, locks, ids, cfg.Pipelines, cfg.Collector)

	// Init API
	handler := api.NewHandler(manager, reactor, triggers)
	router := handler.Routes()

	// Start Server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")
	manager.Stop()
}
