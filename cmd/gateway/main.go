// Package main wires config, logging, the account manager, and the
// upstream dispatcher into a minimal runnable gateway process: a
// /healthz liveness probe and a /status admin view. The Claude/Gemini
// route surface (model-specific paths, streaming, body transformation)
// lives in the outer proxy layer, not here.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/w154594742/Antigravity2Api/internal/account"
	"github.com/w154594742/Antigravity2Api/internal/config"
	"github.com/w154594742/Antigravity2Api/internal/dispatcher"
	"github.com/w154594742/Antigravity2Api/internal/httpclient"
	"github.com/w154594742/Antigravity2Api/internal/logging"
	"github.com/w154594742/Antigravity2Api/internal/ratelimiter"
)

func main() {
	log := logging.Default()
	log.Info("starting gateway", logging.Fields{"version": config.Version, "port": config.Port()})

	httpClient := httpclient.New(log)
	v1internalLimiter := ratelimiter.New(1000)

	accountManager := account.New(config.AuthDir(), httpClient, v1internalLimiter, log)

	if _, err := accountManager.LoadAccounts(context.Background()); err != nil {
		log.Error("failed to load accounts", logging.Fields{"error": err.Error()})
	}

	disp := dispatcher.New(accountManager, httpClient, v1internalLimiter, log)
	disp.Start(context.Background())

	engine := newEngine(log)
	registerRoutes(engine, accountManager)

	srv := &http.Server{
		Addr:         ":" + config.Port(),
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("listening", logging.Fields{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", logging.Fields{"error": err.Error()})
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	disp.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logging.Fields{"error": err.Error()})
		os.Exit(1)
	}

	log.Info("stopped", nil)
}

func newEngine(log logging.Logger) *gin.Engine {
	if config.LogLevel() == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.SetTrustedProxies(nil)
	engine.Use(gin.Recovery())
	engine.Use(correlationIDMiddleware(log))
	return engine
}

// correlationIDMiddleware attaches a request-scoped correlation id (used in
// the request's structured log fields) to every inbound request.
func correlationIDMiddleware(log logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set("correlationID", id)
		c.Writer.Header().Set("X-Correlation-ID", id)
		c.Next()
	}
}

func registerRoutes(engine *gin.Engine, accountManager *account.Manager) {
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, accountManager.GetStatus())
	})
}
