package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lankatrips/internal/services"
)

const (
	notificationCleanerTimeout = 30 * time.Second
	readPurgeInterval          = 24 * time.Hour
	readPurgeTimeout           = 1 * time.Minute
)

// startNotificationCleaner deletes notifications whose expires_at has passed.
func startNotificationCleaner(ctx context.Context, dispatcher *services.NotificationDispatcher, interval time.Duration, log *zap.Logger) {
	if dispatcher == nil {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	runPeriodically(ctx, interval, func() {
		runCtx, cancel := context.WithTimeout(ctx, notificationCleanerTimeout)
		defer cancel()

		removed, err := dispatcher.CleanupExpired(runCtx, time.Now().UTC())
		if err != nil {
			log.Error("notification cleaner: failed to delete expired notifications", zap.Error(err))
			return
		}
		if removed > 0 {
			log.Info("notification cleaner: deleted expired notifications", zap.Int("count", removed))
		}
	})
}

// startReadNotificationPurger deletes read notifications older than retention.
func startReadNotificationPurger(ctx context.Context, dispatcher *services.NotificationDispatcher, retention time.Duration, log *zap.Logger) {
	if dispatcher == nil || retention <= 0 {
		return
	}

	runPeriodically(ctx, readPurgeInterval, func() {
		runCtx, cancel := context.WithTimeout(ctx, readPurgeTimeout)
		defer cancel()

		cutoff := time.Now().UTC().Add(-retention)
		removed, err := dispatcher.PurgeRead(runCtx, cutoff)
		if err != nil {
			log.Error("read purger: failed to delete old read notifications", zap.Error(err))
			return
		}
		if removed > 0 {
			log.Info("read purger: deleted old read notifications", zap.Int("count", removed), zap.Time("cutoff", cutoff))
		}
	})
}

// runPeriodically calls run once right away and then on every tick until ctx is done.
func runPeriodically(ctx context.Context, interval time.Duration, run func()) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		run()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}
