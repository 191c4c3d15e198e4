package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/application/bridge"
	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/pkg/currency"
)

type TransferHandler struct {
	bridgeSvc bridge.IBridgeService
	logger    zerolog.Logger
}

func NewTransferHandler(bridgeSvc bridge.IBridgeService, logger zerolog.Logger) *TransferHandler {
	return &TransferHandler{
		bridgeSvc: bridgeSvc,
		logger:    logger,
	}
}

type InitiateTransferRequest struct {
	UserID         string `json:"user_id" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
	SourceChainID  string `json:"source_chain_id" binding:"required"`
	DestChainID    string `json:"dest_chain_id" binding:"required"`
	Token          string `json:"token" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	DestAddress    string `json:"dest_address" binding:"required"`
}

func (h *TransferHandler) InitiateTransfer(c *gin.Context) {
	var req InitiateTransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": err.Error(),
		})
		return
	}

	amountUnits, err := currency.ToUnits(req.Amount, currency.USDCDecimals)
	if err != nil || amountUnits <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "Invalid amount",
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.New().String()
	}

	tx, err := h.bridgeSvc.InitiateTransfer(c.Request.Context(), bridge.InitiateParams{
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		SourceChain:    req.SourceChainID,
		DestChain:      req.DestChainID,
		Token:          req.Token,
		AmountUnits:    amountUnits,
		DestAddress:    req.DestAddress,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInsufficientFunds):
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "Insufficient Funds",
				"message": "Available balance is lower than the transfer amount",
			})
		case errors.Is(err, domain.ErrUnsupportedRoute):
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Unsupported Route",
				"message": err.Error(),
			})
		default:
			h.logger.Error().Err(err).Str("user_id", req.UserID).Msg("Transfer initiation failed")
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "Transfer Failed",
				"message": "Failed to initiate transfer",
			})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"transfer_id":     tx.ID,
		"status":          tx.Status,
		"source_chain_id": tx.FromChain,
		"dest_chain_id":   tx.ToChain,
		"amount":          currency.FromUnits(tx.AmountUnits, currency.USDCDecimals),
		"source_tx_hash":  tx.SourceTxHash,
		"estimated_time":  "10-20 minutes",
	})
}

func (h *TransferHandler) GetTransferStatus(c *gin.Context) {
	id := c.Param("id")

	status, err := h.bridgeSvc.GetTransferStatus(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "Transfer not found",
			})
			return
		}
		h.logger.Error().Err(err).Str("transfer_id", id).Msg("Failed to get transfer status")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to get transfer status",
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

func (h *TransferHandler) CancelTransfer(c *gin.Context) {
	id := c.Param("id")
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "user_id is required",
		})
		return
	}

	tx, err := h.bridgeSvc.CancelTransfer(c.Request.Context(), userID, id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "Transfer not found",
			})
		case errors.Is(err, domain.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{
				"error":   "Conflict",
				"message": "Transfer can no longer be cancelled",
			})
		default:
			h.logger.Error().Err(err).Str("transfer_id", id).Msg("Failed to cancel transfer")
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "Internal Server Error",
				"message": "Failed to cancel transfer",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transfer_id": tx.ID,
		"status":      tx.Status,
	})
}
