package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/domain"
	"github.com/custodia/cls/internal/repositories/ledgerrepo"
)

type TransactionHandler struct {
	ledger ledgerrepo.ILedgerRepository
	logger zerolog.Logger
}

func NewTransactionHandler(ledger ledgerrepo.ILedgerRepository, logger zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{
		ledger: ledger,
		logger: logger,
	}
}

func (h *TransactionHandler) ListTransactions(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "user_id is required",
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 || limit > 200 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	filter := domain.TransactionFilter{
		Type:   domain.TransactionType(c.Query("type")),
		Status: domain.TransactionStatus(c.Query("status")),
		Chain:  c.Query("chain_id"),
	}

	txs, total, err := h.ledger.ListByUser(c.Request.Context(), userID, filter, limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list transactions")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to list transactions",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"transactions": txs,
		"total":        total,
		"limit":        limit,
		"offset":       offset,
	})
}

func (h *TransactionHandler) GetTransaction(c *gin.Context) {
	id := c.Param("id")

	tx, err := h.ledger.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "Transaction not found",
			})
			return
		}
		h.logger.Error().Err(err).Str("transaction_id", id).Msg("Failed to get transaction")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to get transaction",
		})
		return
	}

	c.JSON(http.StatusOK, tx)
}
