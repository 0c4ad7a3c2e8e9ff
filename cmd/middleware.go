package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	"lankatrips/internal/handlers"
	"lankatrips/internal/models"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cross-Origin-Resource-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		app.log.Info("request",
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("proto", r.Proto),
			zap.String("method", r.Method),
			zap.String("uri", r.URL.RequestURI()),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.log.Error("panic recovered",
					zap.String("method", r.Method),
					zap.String("uri", r.URL.RequestURI()),
					zap.Any("panic", err),
					zap.Stack("stack"))
				writeErrorEnvelope(w, http.StatusInternalServerError, models.KindInternal, "an unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate parses the bearer token when present and stores the caller
// in the request context. Requests without a token stay anonymous.
func (app *application) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeErrorEnvelope(w, http.StatusUnauthorized, models.KindUnauthenticated, "authorization header must use the Bearer scheme")
			return
		}

		claims, err := app.parseToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeErrorEnvelope(w, http.StatusUnauthorized, models.KindUnauthenticated, "invalid or expired token")
			return
		}

		actor := models.Actor{UserID: int(claims.UserID), Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(handlers.WithActor(r.Context(), actor)))
	})
}

func (app *application) parseToken(raw string) (*models.Claims, error) {
	claims := &models.Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return app.jwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == 0 || !models.ValidRole(claims.Role) {
		return nil, fmt.Errorf("token carries no usable identity")
	}
	return claims, nil
}

// requireAuth rejects anonymous callers. Role checks happen in the services.
func requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handlers.ActorFromContext(r.Context()).UserID == 0 {
			writeErrorEnvelope(w, http.StatusUnauthorized, models.KindUnauthenticated, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeErrorEnvelope(w http.ResponseWriter, status int, kind models.ErrorKind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(handlers.Envelope{Error: &handlers.APIError{Kind: kind, Message: message}})
}
