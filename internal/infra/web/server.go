// File: internal/infra/web/server.go
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"subscription-payments/internal/config"
	"subscription-payments/internal/domain"
	"subscription-payments/internal/domain/ports/repository"
	"subscription-payments/internal/infra/i18n"
	"subscription-payments/internal/usecase"
)

// Server exposes the payment and subscription API plus the vendor-facing
// postback and redirect endpoints. User authentication is delegated to the
// surrounding platform, which injects the authenticated user id in the
// X-User-ID header; the id is still checked against the synced accounts
// table. The admin surface is guarded by its own JWT.
type Server struct {
	paymentUC usecase.PaymentUseCase
	subUC     usecase.SubscriptionUseCase
	notifUC   usecase.NotificationUseCase
	statsUC   usecase.StatsUseCase
	users     repository.UserRepository
	auth      *AuthManager
	langs     *i18n.Bundle

	cfg  config.WebConfig
	http *http.Server
	log  *zerolog.Logger
}

func NewServer(
	cfg config.WebConfig,
	paymentUC usecase.PaymentUseCase,
	subUC usecase.SubscriptionUseCase,
	notifUC usecase.NotificationUseCase,
	statsUC usecase.StatsUseCase,
	users repository.UserRepository,
	auth *AuthManager,
	logger *zerolog.Logger,
) (*Server, error) {
	langs, err := i18n.NewBundle(i18n.LocalesFS, "en", "de")
	if err != nil {
		return nil, fmt.Errorf("load locales: %w", err)
	}
	return &Server{
		paymentUC: paymentUC,
		subUC:     subUC,
		notifUC:   notifUC,
		statsUC:   statsUC,
		users:     users,
		auth:      auth,
		langs:     langs,
		cfg:       cfg,
		log:       logger,
	}, nil
}

// Router assembles all routes. Split out of Start so tests can drive the
// handler tree without a listener.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(traceID)
	r.Use(recoverer(s.log))
	r.Use(requestLog(s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Vendor-facing endpoints. These authenticate the vendor's signature,
	// never the user.
	r.Post("/postback", s.handlePostback)
	r.Get(s.cfg.SuccessPath, s.handleRedirect(true))
	r.Get(s.cfg.ErrorPath, s.handleRedirect(false))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireUser)
			r.Post("/payments", s.handleInitiatePayment)
			r.Get("/subscription", s.handleCurrentSubscription)
			r.Post("/subscription/cancel", s.handleCancelSubscription)
			r.Post("/subscription/amount", s.handleChangeAmount)
		})
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/admin/stats", s.handleAdminStats)
		})
	})
	return r
}

func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("web server listening")
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type userIDKey struct{}

// requireUser trusts the platform's reverse proxy to have authenticated the
// user and forwarded their id, then confirms the id maps to an active synced
// account before letting money move on its behalf.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if s.users != nil {
			u, err := s.users.FindByID(r.Context(), repository.NoTX, userID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
					return
				}
				s.log.Error().Err(err).Msg("user lookup failed")
				http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
				return
			}
			if !u.IsActive {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
		}
		ctx := context.WithValue(r.Context(), userIDKey{}, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}
