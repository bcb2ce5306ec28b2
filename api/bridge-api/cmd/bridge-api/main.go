package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ringbridge/api/bridge-api/config"
	internal_session "github.com/ringbridge/api/bridge-api/internal/session"
	internal_store "github.com/ringbridge/api/bridge-api/internal/store"
	internal_telephony "github.com/ringbridge/api/bridge-api/internal/telephony"
	bridge_routers "github.com/ringbridge/api/bridge-api/router"
	"github.com/ringbridge/pkg/commons"
)

func main() {
	vConfig, err := config.InitConfig()
	if err != nil {
		log.Fatalf("failed to initialize config: %v", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		log.Fatalf("invalid application config: %v", err)
	}

	loggerOpts := []commons.LoggerOption{commons.WithLevel(cfg.LogLevel)}
	if cfg.LogFile != "" {
		loggerOpts = append(loggerOpts, commons.WithRotatingFile(cfg.LogFile))
	}
	logger, err := commons.NewApplicationLogger(loggerOpts...)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := internal_store.Open(cfg.DatabaseConfig.Driver, cfg.DatabaseConfig.DSN)
	if err != nil {
		logger.Errorf("Failed to open database: %v", err)
		return
	}
	store, err := internal_store.NewStore(db, logger)
	if err != nil {
		logger.Errorf("Failed to initialize store: %v", err)
		return
	}
	writer := internal_store.NewAsyncWriter(ctx, logger, store)
	registry := internal_session.NewRegistry(logger)

	var dialer *internal_telephony.Dialer
	if cfg.TwilioConfig.AccountSid != "" && cfg.TwilioConfig.AuthToken != "" {
		dialer = internal_telephony.NewDialer(logger, internal_telephony.DialerConfig{
			AccountSid: cfg.TwilioConfig.AccountSid,
			AuthToken:  cfg.TwilioConfig.AuthToken,
			FromNumber: cfg.TwilioConfig.FromNumber,
			StreamURL:  fmt.Sprintf("wss://%s/media-stream", cfg.PublicHost),
		})
	} else {
		logger.Warnf("Telephony credentials missing, outbound dialing disabled")
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	bridge_routers.HealthCheckRoutes(cfg, engine, logger, registry, store)
	bridge_routers.BridgeRoutes(cfg, engine, logger, registry, store, writer, dialer)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("%s %s listening on %s", cfg.Name, cfg.Version, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Session drain incomplete: %v", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Server shutdown incomplete: %v", err)
	}
	writer.Close()
	logger.Info("Goodbye")
}
