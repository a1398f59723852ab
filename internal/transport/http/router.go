package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otp-auth-api/internal/application/auth"
	"github.com/otp-auth-api/internal/application/otp"
	"github.com/otp-auth-api/internal/config"
	"github.com/otp-auth-api/internal/domain"
	jwtinfra "github.com/otp-auth-api/internal/infrastructure/jwt"
	"github.com/otp-auth-api/internal/infrastructure/smtp"
	"github.com/otp-auth-api/internal/infrastructure/sns"
	"github.com/otp-auth-api/internal/transport/http/handler"
	appmiddleware "github.com/otp-auth-api/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// Deps holds all infrastructure dependencies for the router.
type Deps struct {
	CodeStore   otp.CodeStore
	Accounts    domain.AccountDirectory
	SMSSender   sns.SMSSender
	Mailer      smtp.Mailer
	JWTProvider *jwtinfra.Provider
}

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// 5 requests/second, burst of 10 — applied to the public code endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	otpSvc := otp.NewService(deps.CodeStore, deps.SMSSender, deps.Mailer, otp.Config{
		CodeLength:      cfg.OTPCodeLength,
		Validity:        cfg.OTPValidity,
		MaxAttempts:     cfg.OTPMaxAttempts,
		RateLimitMax:    cfg.OTPRateLimitMax,
		RateLimitWindow: cfg.OTPRateLimitWindow,
		DeliveryTimeout: cfg.DeliveryTimeout,
	})
	authSvc := auth.NewService(otpSvc, deps.Accounts, deps.JWTProvider)

	healthH := handler.NewHealthHandler()
	otpH := handler.NewOTPHandler(otpSvc, authSvc)
	tokenH := handler.NewTokenHandler(authSvc)
	accountH := handler.NewAccountHandler(deps.Accounts)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/otp/request", otpH.Request)
		r.With(sensitiveRL.Limit).Post("/otp/resend", otpH.Resend)
		r.With(sensitiveRL.Limit).Post("/otp/verify", otpH.Verify)
		r.Post("/tokens/refresh", tokenH.Refresh)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(appmiddleware.Auth(deps.JWTProvider))

			r.Get("/accounts/me", accountH.Me)
		})
	})

	return r
}
