package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/application/reconciliation"
	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
	"github.com/custodia/cls/internal/server/middleware"
	"github.com/custodia/cls/internal/server/websocket"
	"github.com/custodia/cls/pkg/config"
)

type Handlers struct {
	BridgeSvc bridge.IBridgeService
	IntakeSvc reconciliation.IIntakeService
	Balances  balancerepo.IBalanceRepository
	Ledger    ledgerrepo.ILedgerRepository
	WsHub     *websocket.WsHub
	Logger    zerolog.Logger
	Config    *config.Config
}

func New(
	bridgeSvc bridge.IBridgeService,
	intakeSvc reconciliation.IIntakeService,
	balances balancerepo.IBalanceRepository,
	ledger ledgerrepo.ILedgerRepository,
	wsHub *websocket.WsHub,
	logger zerolog.Logger,
	config *config.Config,
) *Handlers {
	return &Handlers{
		BridgeSvc: bridgeSvc,
		IntakeSvc: intakeSvc,
		Balances:  balances,
		Ledger:    ledger,
		WsHub:     wsHub,
		Logger:    logger,
		Config:    config,
	}
}

func (h *Handlers) SetupHandlers(router *gin.Engine) {
	transferHandler := NewTransferHandler(h.BridgeSvc, h.Logger)
	balanceHandler := NewBalanceHandler(h.Balances, h.Logger)
	transactionHandler := NewTransactionHandler(h.Ledger, h.Logger)
	webhookHandler := NewWebhookHandler(h.IntakeSvc, h.Config.Security.WebhookSecret, h.Logger)
	wsHandler := NewWebSocketHandler(h.WsHub, h.Config.WebSocket)
	healthHandler := NewHealthHandler()

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// WebSocket status stream
	router.GET("/ws", wsHandler.HandleConnection)

	// Webhook intake carries its own signature check, not the API key.
	router.POST("/v1/webhooks/custody", webhookHandler.HandleCustodyWebhook)

	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyAuth(h.Config.Security.APIKey))
	{
		transfers := v1.Group("/transfers")
		{
			transfers.POST("", transferHandler.InitiateTransfer)
			transfers.GET("/:id/status", transferHandler.GetTransferStatus)
			transfers.DELETE("/:id", transferHandler.CancelTransfer)
		}

		balances := v1.Group("/balances")
		{
			balances.GET("", balanceHandler.GetBalances)
			balances.GET("/total", balanceHandler.GetTotal)
		}

		transactions := v1.Group("/transactions")
		{
			transactions.GET("", transactionHandler.ListTransactions)
			transactions.GET("/:id", transactionHandler.GetTransaction)
		}
	}
}
