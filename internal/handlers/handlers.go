package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/GlebRadaev/vpnshop/docs"
	adminhandlers "github.com/GlebRadaev/vpnshop/internal/handlers/admin"
	depositshandlers "github.com/GlebRadaev/vpnshop/internal/handlers/deposits"
	"github.com/GlebRadaev/vpnshop/internal/observability"
	"github.com/GlebRadaev/vpnshop/internal/service"
	"github.com/GlebRadaev/vpnshop/pkg/auth"
)

type AdminHandler interface {
	GetBalance(w http.ResponseWriter, r *http.Request)
	GetPurchases(w http.ResponseWriter, r *http.Request)
	GetDeposits(w http.ResponseWriter, r *http.Request)
}

type DepositHandler interface {
	Callback(w http.ResponseWriter, r *http.Request)
}

type Handlers struct {
	AdminHandler   AdminHandler
	DepositHandler DepositHandler
	Auth           *auth.JWTService
}

func New(s *service.Services, deposits depositshandlers.Service, jwtService *auth.JWTService) *Handlers {
	return &Handlers{
		AdminHandler:   adminhandlers.New(s.LedgerService),
		DepositHandler: depositshandlers.New(deposits),
		Auth:           jwtService,
	}
}

func (h *Handlers) InitRoutes(r chi.Router) chi.Router {
	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("doc.json"),
	))
	r.Route("/api", func(r chi.Router) {
		r.With(h.Auth.Middleware(auth.RoleGateway)).
			Post("/deposits/callback", h.DepositHandler.Callback)

		r.Route("/admin/users/{id}", func(r chi.Router) {
			r.Use(h.Auth.Middleware(auth.RoleAdmin))
			r.Get("/balance", h.AdminHandler.GetBalance)
			r.Get("/purchases", h.AdminHandler.GetPurchases)
			r.Get("/deposits", h.AdminHandler.GetDeposits)
		})
	})

	return r
}
