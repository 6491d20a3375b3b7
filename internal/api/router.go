package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/api/handler"
	"github.com/hazinapay/backend/internal/api/middleware"
	"github.com/hazinapay/backend/internal/api/spec"
	"github.com/hazinapay/backend/internal/config"
	"github.com/hazinapay/backend/internal/credentials"
	"github.com/hazinapay/backend/internal/idempotency"
	"github.com/hazinapay/backend/internal/mpesa"
	"github.com/hazinapay/backend/internal/notify"
	"github.com/hazinapay/backend/internal/repository"
	"github.com/hazinapay/backend/internal/service"
)

// Router wires handlers, middleware and services onto the chi mux.
type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	store     *repository.Store
	idemStore *idempotency.Store
	redis     redis.Cmdable
	gateway   mpesa.Gateway
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, store *repository.Store, idemStore *idempotency.Store, redisClient redis.Cmdable, gateway mpesa.Gateway) *Router {
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     store,
		idemStore: idemStore,
		redis:     redisClient,
		gateway:   gateway,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	// Services
	creds := credentials.NewService()
	notifier := notify.NewSMSDispatcher(api.cfg.SMSGatewayURL, api.cfg.SMSAPIKey, api.cfg.SMSSenderID, api.logger)
	balanceSvc := service.NewBalanceService(api.store)
	provisionerSvc := service.NewProvisionerService(api.store)
	reconcilerSvc := service.NewReconcilerService(api.store, balanceSvc, provisionerSvc, notifier, api.logger)
	paymentsSvc := service.NewPaymentsService(api.store, api.gateway, creds, api.cfg.RegistrationFeeAmount(), api.logger)
	accountSvc := service.NewAccountService(api.store)
	authSvc := service.NewAuthService(api.store, creds, api.cfg.JWTSecret, api.cfg.JWTIssuer, api.cfg.JWTAudience)

	// Handlers
	authHandler := handler.NewAuthHandler(authSvc)
	paymentHandler := handler.NewPaymentHandler(paymentsSvc, accountSvc, balanceSvc)
	accountHandler := handler.NewAccountHandler(accountSvc, balanceSvc)
	webhookHandler := handler.NewWebhookHandler(reconcilerSvc, api.logger)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	publicLimit := middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS)
	authLimit := middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS)
	idem := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	// Operational surface
	r.Get("/healthz", healthHandler.Ready)
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(publicLimit)

		r.Post("/v1/payments/mpesa/callback", webhookHandler.HandleMpesaCallback)
		r.Post("/v1/registrations", paymentHandler.CreateRegistration)
		r.Get("/v1/payments/{checkoutRequestID}", paymentHandler.GetStatus)
		r.Post("/v1/auth/login", authHandler.Login)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(authLimit)

		r.Post("/v1/auth/password", authHandler.ChangePassword)

		r.Get("/v1/accounts/{id}", accountHandler.Get)
		r.Get("/v1/accounts/{id}/statement", accountHandler.GetStatement)

		r.With(idem).Post("/v1/deposits", paymentHandler.CreateDeposit)
		r.With(idem).Post("/v1/contributions", paymentHandler.CreateContribution)
		r.With(idem).Post("/v1/withdrawals", paymentHandler.CreateWithdrawal)

		r.With(middleware.RequireRole("admin"), idem).
			Post("/v1/accounts/{id}/earnings", accountHandler.PostEarnings)
	})

	return r
}
