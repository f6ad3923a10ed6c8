package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/mledur/billkeeper/internal/cache"
	"github.com/mledur/billkeeper/internal/config"
	"github.com/mledur/billkeeper/internal/connectivity"
	"github.com/mledur/billkeeper/internal/gateway"
	"github.com/mledur/billkeeper/internal/handler"
	"github.com/mledur/billkeeper/internal/lifecycle"
	"github.com/mledur/billkeeper/internal/middleware"
	"github.com/mledur/billkeeper/internal/notify"
	"github.com/mledur/billkeeper/internal/syncer"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("BILLKEEPER_LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize local cache
	var store cache.Store
	store, err = cache.NewSQLiteStore(cfg.CachePath, cfg.CacheMaxBytes, logger)
	if err != nil {
		logger.Warnf("Failed to open cache at %s, falling back to memory: %v", cfg.CachePath, err)
		store = cache.NewMemoryStore()
	}
	defer store.Close()

	// Initialize layers
	gw := gateway.NewGateway(cfg, logger)
	monitor := connectivity.NewMonitor(cfg, gw, logger)
	gw.SetHealthSink(monitor)
	engine := lifecycle.NewEngine(store, gw, logger)
	svc := syncer.NewSyncer(gw, monitor, store, engine, logger)
	sender := notify.NewSender(cfg, logger)
	h := handler.NewHandler(svc, gw, monitor, store, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monitor.Start(ctx)
	defer monitor.Close()
	engine.Start(ctx)
	defer engine.Close()

	// Schedule the daily due-date sweep
	c := cron.New()
	_, err = c.AddFunc(cfg.SweepSchedule, func() {
		if !svc.Active() {
			return
		}
		flipped := svc.RunDailySweep(ctx)
		if cfg.RemindersEnabled && len(flipped) > 0 {
			if email := svc.Session().Email; email != "" {
				sender.SendOverdueNotice(email, flipped)
			}
		}
	})
	if err != nil {
		logger.Fatalf("Failed to schedule sweep: %v", err)
	}
	c.Start()
	defer c.Stop()

	// Setup router
	r := mux.NewRouter()
	// Public routes
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/status", h.Status).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.AuthMiddleware(cfg))
	authRouter.HandleFunc("/logout", h.Logout).Methods("POST")
	authRouter.HandleFunc("/accounts", h.ListAccounts).Methods("GET")
	authRouter.HandleFunc("/accounts", h.CreateAccount).Methods("POST")
	authRouter.HandleFunc("/accounts/{id}", h.UpdateAccount).Methods("PATCH")
	authRouter.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")
	authRouter.HandleFunc("/accounts/{id}/pay", h.MarkPaid).Methods("POST")
	authRouter.HandleFunc("/filter", h.GetFilter).Methods("GET")
	authRouter.HandleFunc("/filter", h.SetFilter).Methods("PUT")
	authRouter.HandleFunc("/report", h.GetReport).Methods("GET")
	authRouter.HandleFunc("/sync/refresh", h.Refresh).Methods("POST")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
