package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/x402x/facilitator/internal/config"
	"github.com/x402x/facilitator/internal/evmchain"
	"github.com/x402x/facilitator/internal/feeclaim"
	"github.com/x402x/facilitator/internal/health"
	"github.com/x402x/facilitator/internal/metrics"
	"github.com/x402x/facilitator/internal/network"
	"github.com/x402x/facilitator/internal/orchestrator"
	"github.com/x402x/facilitator/internal/pricing"
	"github.com/x402x/facilitator/internal/ratelimit"

	gaspkg "github.com/x402x/facilitator/internal/gas"
)

// Server is the facilitator's HTTP surface: verify, settle, supported-kinds
// discovery, fee calculation, fee claiming, health, and metrics.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	facilitator *orchestrator.Facilitator
	feeClaimer  *feeclaim.Claimer
	networks    *network.Registry
	gasEstimator *gaspkg.Estimator
	gasPrices    *pricing.GasPriceCache
	tokenPrices  *pricing.TokenPriceCache
	chainReader func(network string) (evmchain.Signer, error)
	cfg         *config.Config
	metrics     *metrics.Metrics
	verifyLimiter ratelimit.Limiter
	settleLimiter ratelimit.Limiter
	health      *health.Checker
	logger      zerolog.Logger
}

// Deps bundles the composition root's wiring for New.
type Deps struct {
	Facilitator  *orchestrator.Facilitator
	FeeClaimer   *feeclaim.Claimer
	Networks     *network.Registry
	GasEstimator *gaspkg.Estimator
	GasPrices    *pricing.GasPriceCache
	TokenPrices  *pricing.TokenPriceCache
	ChainReader  func(network string) (evmchain.Signer, error)
	Config        *config.Config
	VerifyLimiter ratelimit.Limiter
	SettleLimiter ratelimit.Limiter
	Health        *health.Checker
	Logger       zerolog.Logger
}

// New builds a Server with its full middleware and route table.
func New(deps Deps) *Server {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:       gin.New(),
		facilitator:  deps.Facilitator,
		feeClaimer:   deps.FeeClaimer,
		networks:     deps.Networks,
		gasEstimator: deps.GasEstimator,
		gasPrices:    deps.GasPrices,
		tokenPrices:  deps.TokenPrices,
		chainReader:  deps.ChainReader,
		cfg:          deps.Config,
		metrics:      metrics.New(),
		verifyLimiter: deps.VerifyLimiter,
		settleLimiter: deps.SettleLimiter,
		health:       deps.Health,
		logger:       deps.Logger,
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(CORSMiddleware())
	s.router.Use(s.metrics.Middleware())
	s.router.Use(BodyLimitMiddleware(s.cfg.RequestBodyLimit))
	s.router.Use(RateLimitMiddleware(s.verifyLimiter, s.settleLimiter, s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.health.HealthHandler())
	s.router.GET("/ready", s.health.ReadyHandler())
	s.router.GET("/metrics", s.metrics.Handler())

	s.router.GET("/verify", s.handleVerifyInfo)
	s.router.POST("/verify", s.handleVerify)
	s.router.GET("/settle", s.handleSettleInfo)
	s.router.POST("/settle", s.handleSettle)
	s.router.GET("/supported", s.handleSupported)
	s.router.GET("/calculate-fee", s.handleCalculateFee)
	s.router.GET("/pending-fees", s.handlePendingFees)
	s.router.POST("/claim-fees", s.handleClaimFees)
}

// Start runs the HTTP server until an interrupt or terminate signal arrives,
// then shuts it down within the configured grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Int("port", s.cfg.Port).Msg("facilitator listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
