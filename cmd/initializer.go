package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lankatrips/internal/booking"
	"lankatrips/internal/config"
	"lankatrips/internal/handlers"
	"lankatrips/internal/locks"
	"lankatrips/internal/mailer"
	"lankatrips/internal/repositories"
	"lankatrips/internal/services"
)

type application struct {
	log       *zap.Logger
	jwtSecret []byte
	db        *sql.DB
	redis     *redis.Client

	notifications *services.NotificationDispatcher

	tripRequestHandler     *handlers.TripRequestHandler
	notificationHandler    *handlers.NotificationHandler
	paymentCallbackHandler *handlers.PaymentCallbackHandler
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, zapLog *zap.Logger) (*application, error) {
	sugar := zapLog.Sugar()

	// Repositories
	tripRequestRepo := &repositories.TripRequestRepository{DB: db}
	notificationRepo := &repositories.NotificationRepository{DB: db}
	userRepo := &repositories.UserRepository{DB: db}

	// Booking lock: Redis when configured so that every replica shares it.
	var (
		locker      locks.Locker
		redisClient *redis.Client
	)
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
		}
		locker = locks.NewRedisLocker(redisClient, cfg.Booking.LockTTL)
		zapLog.Info("booking lock backed by redis", zap.String("addr", cfg.Redis.Address))
	} else {
		locker = locks.NewLocalLocker()
		zapLog.Warn("redis not configured, booking lock is process local")
	}

	var relay services.Mailer
	if cfg.Mail.Enabled {
		ses, err := mailer.NewSESMailer(cfg.Mail.Region, cfg.Mail.Sender)
		if err != nil {
			return nil, fmt.Errorf("ses mailer: %w", err)
		}
		relay = ses
	}

	bookingClient := booking.NewClient(
		&http.Client{Timeout: cfg.Booking.Timeout},
		cfg.Booking.BaseURL,
		cfg.Booking.MerchantID,
		cfg.Booking.APISecret,
		cfg.Booking.CallbackURL,
	)

	// Services
	machine := services.NewTripRequestStateMachine(tripRequestRepo, sugar, nil)
	dispatcher := services.NewNotificationDispatcher(notificationRepo, userRepo, sugar, nil)
	dispatcher.BatchSize = cfg.Notifications.BroadcastBatchSize
	dispatcher.Concurrency = cfg.Notifications.BroadcastConcurrency
	approval := services.NewApprovalEngine(machine, dispatcher, sugar)
	bridge := services.NewBookingBridge(tripRequestRepo, machine, bookingClient, locker, dispatcher, sugar)
	bridge.LockWait = cfg.Booking.LockWait
	tripRequests := services.NewTripRequestService(tripRequestRepo, userRepo, machine, approval, dispatcher, relay, sugar)

	// Handlers
	validator := handlers.NewRequestValidator()

	return &application{
		log:           zapLog,
		jwtSecret:     []byte(cfg.Auth.JWTSecret),
		db:            db,
		redis:         redisClient,
		notifications: dispatcher,
		tripRequestHandler: &handlers.TripRequestHandler{
			Service:   tripRequests,
			Approval:  approval,
			Bridge:    bridge,
			Validator: validator,
			Log:       zapLog,
		},
		notificationHandler: &handlers.NotificationHandler{
			Dispatcher: dispatcher,
			Validator:  validator,
			Log:        zapLog,
		},
		paymentCallbackHandler: &handlers.PaymentCallbackHandler{
			Bridge:        bridge,
			WebhookSecret: cfg.Booking.WebhookSecret,
			Log:           zapLog,
		},
	}, nil
}

func (app *application) close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.log.Warn("close redis", zap.Error(err))
		}
	}
}

func openDB(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	db.SetMaxIdleConns(35)
	return db, nil
}
