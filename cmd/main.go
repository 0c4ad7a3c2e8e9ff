package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"lankatrips/internal/config"
	"lankatrips/internal/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	addr := flag.String("addr", cfg.Server.Address, "HTTP network address")
	flag.Parse()

	zapLog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = zapLog.Sync() }()

	db, err := openDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		zapLog.Fatal("open database", zap.Error(err))
	}
	defer db.Close()
	zapLog.Info("connected to database")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx, cfg, db, zapLog)
	if err != nil {
		zapLog.Fatal("initialize application", zap.Error(err))
	}
	defer app.close()

	startNotificationCleaner(ctx, app.notifications, cfg.Notifications.ExpiredSweepInterval, zapLog)
	startReadNotificationPurger(ctx, app.notifications, cfg.Notifications.ReadRetention, zapLog)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
	})

	srv := &http.Server{
		Addr:         *addr,
		ErrorLog:     zap.NewStdLog(zapLog),
		Handler:      c.Handler(app.routes()),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLog.Info("starting server", zap.String("addr", *addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		zapLog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Fatal("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("server shutdown", zap.Error(err))
	}
	zapLog.Info("server stopped")
}
