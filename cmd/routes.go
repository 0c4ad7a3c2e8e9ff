package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders)
	authMiddleware := standardMiddleware.Append(app.authenticate, requireAuth)

	mux := pat.New()

	// Trip requests. Literal paths go before ":id" since pat matches in order.
	mux.Post("/trip-requests", authMiddleware.ThenFunc(app.tripRequestHandler.CreateTripRequest))
	mux.Get("/trip-requests/mine", authMiddleware.ThenFunc(app.tripRequestHandler.ListMyTripRequests))
	mux.Get("/trip-requests/stats", authMiddleware.ThenFunc(app.tripRequestHandler.GetStats))
	mux.Get("/trip-requests", authMiddleware.ThenFunc(app.tripRequestHandler.ListTripRequests))
	mux.Get("/trip-requests/:id", authMiddleware.ThenFunc(app.tripRequestHandler.GetTripRequest))
	mux.Put("/trip-requests/:id/status", authMiddleware.ThenFunc(app.tripRequestHandler.UpdateStatus))
	mux.Put("/trip-requests/:id/approve", authMiddleware.ThenFunc(app.tripRequestHandler.Approve))
	mux.Put("/trip-requests/:id/reject", authMiddleware.ThenFunc(app.tripRequestHandler.Reject))
	mux.Put("/trip-requests/:id/edit", authMiddleware.ThenFunc(app.tripRequestHandler.Edit))
	mux.Put("/trip-requests/:id/assign", authMiddleware.ThenFunc(app.tripRequestHandler.Assign))
	mux.Post("/trip-requests/:id/communications", authMiddleware.ThenFunc(app.tripRequestHandler.AddCommunication))
	mux.Post("/trip-requests/:id/create-booking", authMiddleware.ThenFunc(app.tripRequestHandler.CreateBooking))
	mux.Del("/trip-requests/:id", authMiddleware.ThenFunc(app.tripRequestHandler.DeleteTripRequest))

	// Notifications
	mux.Get("/notifications/unread-count", authMiddleware.ThenFunc(app.notificationHandler.UnreadCount))
	mux.Get("/notifications", authMiddleware.ThenFunc(app.notificationHandler.ListNotifications))
	mux.Put("/notifications/read", authMiddleware.ThenFunc(app.notificationHandler.MarkRead))
	mux.Post("/notifications/send", authMiddleware.ThenFunc(app.notificationHandler.Send))
	mux.Post("/notifications/broadcast", authMiddleware.ThenFunc(app.notificationHandler.Broadcast))
	mux.Del("/notifications/:id", authMiddleware.ThenFunc(app.notificationHandler.DeleteNotification))

	// Booking subsystem webhook, authenticated by its HMAC signature.
	mux.Post("/payments/callback", standardMiddleware.ThenFunc(app.paymentCallbackHandler.Callback))

	mux.Get("/metrics", promhttp.Handler())
	mux.Get("/healthz", http.HandlerFunc(app.healthz))

	return mux
}

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"database": "ok"}
	code := http.StatusOK
	if err := app.db.PingContext(ctx); err != nil {
		status["database"] = "unavailable"
		code = http.StatusServiceUnavailable
	}
	if app.redis != nil {
		status["redis"] = "ok"
		if err := app.redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": status})
}
