// Package httpapi is the HTTP surface of the auth service: routing,
// middleware and request/response DTOs.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/bloomkart/backend/internal/auth"
	"github.com/bloomkart/backend/internal/identity"
	"github.com/bloomkart/backend/internal/metrics"
	"github.com/bloomkart/backend/internal/rate"
)

// RouterConfig carries the collaborators the router needs.
type RouterConfig struct {
	Authority      *auth.Authority
	Limiter        *rate.Limiter
	Logger         logrus.FieldLogger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
}

// NewRouter assembles the full middleware chain and route table.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	handler := NewAuthHandler(cfg.Authority, cfg.Limiter, log, cfg.Metrics)
	gate := NewRequestAuthenticator(cfg.Authority, log, cfg.Metrics)

	router := mux.NewRouter()
	router.Use(RequestLogger(log))
	router.Use(gate.Middleware)

	router.HandleFunc("/health", handler.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/login", handler.Login).Methods(http.MethodPost)
	api.HandleFunc("/register", handler.Register).Methods(http.MethodPost)
	api.HandleFunc("/refresh", handler.Refresh).Methods(http.MethodPost)
	api.HandleFunc("/logout", handler.Logout).Methods(http.MethodPost)
	api.HandleFunc("/logout-all", RequireAuth(handler.LogoutAll)).Methods(http.MethodPost)
	api.HandleFunc("/profile", RequireAuth(handler.Profile)).Methods(http.MethodGet)
	api.HandleFunc("/profile", RequireAuth(handler.UpdateProfile)).Methods(http.MethodPut)
	api.HandleFunc("/sessions/count", RequireAuth(handler.SessionCount)).Methods(http.MethodGet)

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/users/{id:[0-9]+}/logout-all",
		RequireRole(identity.RoleAdmin, handler.AdminLogoutAll)).Methods(http.MethodPost)

	co := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	})
	return co.Handler(router)
}
