// Package httpapi exposes the devotional services over JSON HTTP.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/smith3v/couple-devotional/pkg/auth"
	"github.com/smith3v/couple-devotional/pkg/content"
	"github.com/smith3v/couple-devotional/pkg/devotional"
	"github.com/smith3v/couple-devotional/pkg/gate"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"github.com/smith3v/couple-devotional/pkg/pairing"
	"github.com/smith3v/couple-devotional/pkg/plans"
	"github.com/smith3v/couple-devotional/pkg/progress"
	"github.com/smith3v/couple-devotional/pkg/users"
)

type Services struct {
	Auth      *auth.Issuer
	Users     *users.Service
	Pairing   *pairing.Registry
	Sessions  *devotional.Service
	Ledger    *progress.Ledger
	Gate      *gate.Gate
	Plans     *plans.Service
	Suggester content.Suggester
}

type Server struct {
	svc          Services
	corsOrigins  []string
	secureCookie bool
}

type Option func(*Server)

// WithCORSOrigins allows browser calls from the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		for _, o := range origins {
			if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
				s.corsOrigins = append(s.corsOrigins, o)
			}
		}
	}
}

func WithSecureCookie(secure bool) Option {
	return func(s *Server) { s.secureCookie = secure }
}

func New(svc Services, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/sign-in", s.handleSignIn)
		r.Post("/auth/sign-out", s.handleSignOut)
		r.Get("/auth/verify", s.handleVerifyEmail)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)

			r.Get("/auth/me", s.handleMe)
			r.Post("/users/heartbeat", s.handleHeartbeat)
			r.Put("/users/push-token", s.handlePushToken)
			r.Post("/subscriptions", s.handleActivateSubscription)

			r.Get("/couple", s.handleCouple)
			r.Post("/couple/code", s.handleGenerateCode)
			r.Post("/couple/join", s.handleJoin)
			r.Delete("/couple", s.handleDisband)

			r.Get("/progress/week", s.handleWeek)
			r.Get("/progress/history", s.handleWeekHistory)
			r.Get("/generation/availability", s.handleAvailability)

			r.Post("/sessions", s.handleBegin)
			r.Get("/sessions/current", s.handleCurrentSession)
			r.Get("/sessions/history", s.handleSessionHistory)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
			r.Post("/sessions/{id}/complete", s.handleComplete)
			r.Get("/sessions/{id}/notes", s.handleNotes)
			r.Put("/sessions/{id}/notes/me", s.handleUpdateNote)

			r.Get("/ai/suggest", s.handleSuggest)

			r.Get("/plans", s.handleListPlans)
			r.Post("/plans", s.handleCreatePlan)
			r.Get("/plans/{id}", s.handleGetPlan)
			r.Delete("/plans/{id}", s.handleDeletePlan)
			r.Post("/plans/days/{id}/start", s.handleStartPlanDay)
		})
	})
	return r
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.svc.Auth.Authenticate(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func currentUser(r *http.Request) string {
	id, _ := auth.UserID(r.Context())
	return id
}
