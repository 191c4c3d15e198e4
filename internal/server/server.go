package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/application/reconciliation"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/internal/server/handlers"
	"github.com/custodia/cls/internal/server/middleware"
	"github.com/custodia/cls/internal/server/websocket"
	"github.com/custodia/cls/pkg/config"
)

type Server struct {
	BridgeSvc  bridge.IBridgeService
	IntakeSvc  reconciliation.IIntakeService
	Balances   balancerepo.IBalanceRepository
	Ledger     ledgerrepo.ILedgerRepository
	Cfg        *config.Config
	Logger     zerolog.Logger
	Router     *gin.Engine
	httpServer *http.Server
	WsHub      *websocket.WsHub
}

func New(
	cfg *config.Config,
	bridgeSvc bridge.IBridgeService,
	intakeSvc reconciliation.IIntakeService,
	balances balancerepo.IBalanceRepository,
	ledger ledgerrepo.ILedgerRepository,
	logger zerolog.Logger,
	wsHub *websocket.WsHub,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	return &Server{
		Cfg:       cfg,
		BridgeSvc: bridgeSvc,
		IntakeSvc: intakeSvc,
		Balances:  balances,
		Ledger:    ledger,
		Logger:    logger,
		Router:    router,
		WsHub:     wsHub,
	}
}

func (s *Server) SetupRouter() {
	middleware.SetupMiddleware(s.Router)

	handler := handlers.New(
		s.BridgeSvc,
		s.IntakeSvc,
		s.Balances,
		s.Ledger,
		s.WsHub,
		s.Logger,
		s.Cfg,
	)
	handler.SetupHandlers(s.Router)
}

// Start runs the HTTP server until SIGINT/SIGTERM, then shuts down
// gracefully. cancelBackground stops the poller and other background
// loops before the listener closes.
func (s *Server) Start(cancelBackground context.CancelFunc) {
	s.SetupRouter()

	s.httpServer = &http.Server{
		Addr:         s.Cfg.Server.Host + ":" + s.Cfg.Server.Port,
		Handler:      s.Router,
		ReadTimeout:  20 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)

	s.Logger.Info().Msgf("Starting server on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-stopChan
	s.Logger.Info().Msg("Shutdown signal received, shutting down server...")

	if cancelBackground != nil {
		cancelBackground()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	s.Logger.Info().Msg("Server exited gracefully")
}
