package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/fleetrent/authcore/internal/application/auth"
	"github.com/fleetrent/authcore/internal/application/otp"
	"github.com/fleetrent/authcore/internal/application/token"
	"github.com/fleetrent/authcore/internal/application/user"
	"github.com/fleetrent/authcore/internal/config"
	"github.com/fleetrent/authcore/internal/domain"
	"github.com/fleetrent/authcore/internal/infrastructure/postgres"
	"github.com/fleetrent/authcore/internal/transport/http/handler"
	appmiddleware "github.com/fleetrent/authcore/internal/transport/http/middleware"
)

// NewRouter builds and returns the application router.
func NewRouter(cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Refresh-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	userSvc := user.NewService(postgres.NewUserRepo(deps.DB))
	otpEngine := otp.NewEngine(postgres.NewOTPRepo(deps.DB), cfg.OTP)
	tokenStore := token.NewStore(postgres.NewTokenRepo(deps.DB), deps.JWTProvider, cfg.AuthTokenTTL, cfg.RefreshTokenTTL)
	authSvc := auth.NewService(auth.ServiceDeps{
		Identity:             userSvc,
		OTPs:                 otpEngine,
		Tokens:               tokenStore,
		Mailer:               deps.Mailer,
		SMSSender:            deps.SMSSender,
		Tx:                   deps.DB,
		OTPConfig:            cfg.OTP,
		VerificationTokenTTL: cfg.VerificationTokenTTL,
		ResetTokenTTL:        cfg.ResetTokenTTL,
	})

	authMw := appmiddleware.Auth(deps.JWTProvider, tokenStore)
	refreshMw := appmiddleware.AuthAllowExpired(deps.JWTProvider)

	// 5 requests/second, burst of 10 — applied to sensitive public endpoints.
	sensitiveRL := appmiddleware.NewRateLimiter(rate.Limit(5), 10)

	healthH := handler.NewHealthHandler(deps.DB.Pool())
	authH := handler.NewAuthHandler(authSvc)
	emailH := handler.NewEmailConfirmHandler(authSvc)
	pwH := handler.NewPasswordRecoveryHandler(authSvc)
	phoneH := handler.NewPhoneConfirmHandler(authSvc)
	maintH := handler.NewMaintenanceHandler(deps.Sweepers)

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.With(sensitiveRL.Limit).Post("/sign-up", authH.SignUp)
		r.With(sensitiveRL.Limit).Post("/sign-in", authH.SignIn)
		r.With(sensitiveRL.Limit).Post("/confirm-email/resend", emailH.Resend)
		r.With(sensitiveRL.Limit).Post("/password-recovery/request", pwH.Request)

		// Refresh carries its own credentials: expired bearer plus secret.
		r.With(refreshMw).Post("/sessions/refresh", authH.Refresh)

		// ── Token-gated flow routes ──────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)
			r.With(appmiddleware.RequireVerificationToken, sensitiveRL.Limit).
				Post("/confirm-email/validate-code", emailH.ValidateCode)
			r.With(appmiddleware.RequireResetStage(string(domain.StageAwaitingVerification)), sensitiveRL.Limit).
				Post("/password-recovery/validate-code", pwH.ValidateCode)
			r.With(appmiddleware.RequireResetStage(string(domain.StageVerified))).
				Post("/password-recovery/change-password", pwH.ChangePassword)
		})

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			r.Post("/sessions/logout", authH.Logout)
			r.Post("/sessions/logout-all", authH.LogoutAll)
			r.With(sensitiveRL.Limit).Post("/confirm-phone/{action}", phoneH.Action)

			// Admin-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleAdmin))

				r.Post("/maintenance/cleanup", maintH.Cleanup)
			})
		})
	})

	return r
}
