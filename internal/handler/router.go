package handler

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/veriguard/auth-service/internal/middleware"
	"github.com/veriguard/auth-service/internal/service"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	Auth     *AuthHandler
	Fraud    *FraudHandler
	OTP      *OTPHandler
	IPBlock  *IPBlockHandler
	Health   *HealthHandler
	Orch     *service.AuthOrchestrator
	Limiter  *middleware.RateLimiter
	FPConfig middleware.FingerprintConfig
}

// NewRouter wires the routes. Fraud scoring, eligibility and deny-list
// management sit behind bearer auth; the auth flows and probes are
// public.
func NewRouter(deps RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer, chimw.Timeout(30*time.Second))
	r.Use(middleware.Fingerprint(deps.FPConfig))
	if deps.Limiter != nil {
		r.Use(deps.Limiter.Handler)
	}

	r.Get("/healthz", deps.Health.Live)
	r.Get("/readyz", deps.Health.Ready)

	r.Route("/auth", func(rt chi.Router) {
		rt.Post("/register", deps.Auth.Register)
		rt.Post("/login", deps.Auth.Login)
		rt.Post("/refresh", deps.Auth.Refresh)
		rt.Post("/logout", deps.Auth.Logout)

		rt.Post("/otp/generate", deps.OTP.Generate)
		rt.Post("/otp/verify", deps.OTP.Verify)
	})

	r.Group(func(rt chi.Router) {
		rt.Use(middleware.RequireAuth(deps.Orch))

		rt.Post("/internal/eligibility", deps.Auth.Eligibility)

		rt.Route("/internal/fraud", func(fr chi.Router) {
			fr.Post("/email", deps.Fraud.CheckEmail)
			fr.Post("/phone", deps.Fraud.CheckPhone)
			fr.Post("/ip", deps.Fraud.CheckIP)
		})

		rt.Route("/admin/ip-blocks", func(ar chi.Router) {
			ar.Get("/", deps.IPBlock.List)
			ar.Post("/", deps.IPBlock.Block)
			ar.Delete("/{ip}", deps.IPBlock.Unblock)
		})
	})

	return r
}
