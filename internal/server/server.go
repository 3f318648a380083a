// Package server is the pinnit HTTP API: a thin, authenticated front for a
// remote pin store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pinnit-go/internal/auth"
	"pinnit-go/internal/pinnit"
)

// maxBodyBytes caps PUT /pins bodies.
const maxBodyBytes = 4 << 20

// Accounts signs users in and verifies the tokens it issued.
type Accounts interface {
	Login(ctx context.Context, username, password string) (*auth.Session, error)
	VerifyToken(token string) (*pinnit.Identity, error)
}

type contextKey struct{}

var identityKey contextKey

// NewRouter builds the API:
//
//	GET  /healthz      liveness, unauthenticated
//	POST /auth/login   {username,password} -> session
//	GET  /pins         caller's pins, newest first
//	PUT  /pins         replace caller's pins
func NewRouter(store pinnit.RemoteStore, accounts Accounts, logger pinnit.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", loginHandler(accounts, logger))
	})

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(accounts))
		r.Get("/pins", getPinsHandler(store, logger))
		r.Put("/pins", putPinsHandler(store, logger))
	})

	return r
}

// IdentityFromContext returns the identity set by the auth middleware.
func IdentityFromContext(ctx context.Context) (*pinnit.Identity, bool) {
	who, ok := ctx.Value(identityKey).(*pinnit.Identity)
	return who, ok
}

func loginHandler(accounts Accounts, logger pinnit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req auth.LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Username == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "username and password are required")
			return
		}

		session, err := accounts.Login(r.Context(), strings.TrimSpace(req.Username), req.Password)
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if err != nil {
			logger.Error("login failed", "username", req.Username, "error", err)
			writeError(w, http.StatusInternalServerError, "login failed")
			return
		}

		writeJSON(w, http.StatusOK, session)
	}
}

func getPinsHandler(store pinnit.RemoteStore, logger pinnit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, _ := IdentityFromContext(r.Context())

		pins, err := store.FetchAll(r.Context(), *who)
		if err != nil {
			logger.Error("fetching pins failed", "identity", who.ID, "error", err)
			writeError(w, http.StatusBadGateway, "unable to fetch pins")
			return
		}
		if pins == nil {
			pins = []pinnit.Pin{}
		}

		writeJSON(w, http.StatusOK, pinnit.SortPins(pins))
	}
}

func putPinsHandler(store pinnit.RemoteStore, logger pinnit.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, _ := IdentityFromContext(r.Context())

		var pins []pinnit.Pin
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&pins); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		clean, err := validatePins(pins)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		if err := store.ReplaceAll(r.Context(), *who, clean); err != nil {
			logger.Error("replacing pins failed", "identity", who.ID, "error", err)
			writeError(w, http.StatusBadGateway, "unable to store pins")
			return
		}

		logger.Info("pins replaced", "identity", who.ID, "count", len(clean))
		w.WriteHeader(http.StatusNoContent)
	}
}

// validatePins rejects pins the client should never have produced and drops
// the read-time display fields.
func validatePins(pins []pinnit.Pin) ([]pinnit.Pin, error) {
	clean := make([]pinnit.Pin, 0, len(pins))
	for i, p := range pins {
		if p.ID == "" {
			return nil, fmt.Errorf("pin %d: id is required", i)
		}
		if err := pinnit.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
			return nil, fmt.Errorf("pin %s: %w", p.ID, err)
		}
		v, err := pinnit.NewPin(p.ID, p.Name, p.Latitude, p.Longitude, p.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("pin %s: %w", p.ID, err)
		}
		clean = append(clean, v)
	}
	return clean, nil
}

func authMiddleware(accounts Accounts) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				writeError(w, http.StatusUnauthorized, "missing Authorization header")
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
				return
			}

			who, err := accounts.VerifyToken(parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, who)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(logger pinnit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
