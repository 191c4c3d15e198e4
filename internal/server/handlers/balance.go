package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/custodia/cls/internal/repositories/balancerepo"
	"github.com/custodia/cls/pkg/currency"
)

type BalanceHandler struct {
	balances balancerepo.IBalanceRepository
	logger   zerolog.Logger
}

func NewBalanceHandler(balances balancerepo.IBalanceRepository, logger zerolog.Logger) *BalanceHandler {
	return &BalanceHandler{
		balances: balances,
		logger:   logger,
	}
}

func (h *BalanceHandler) GetBalances(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "user_id is required",
		})
		return
	}

	balances, err := h.balances.GetUserBalances(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get balances")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to get balances",
		})
		return
	}

	type balanceView struct {
		ChainID   string `json:"chain_id"`
		Token     string `json:"token"`
		Available string `json:"available"`
		Locked    string `json:"locked"`
		Total     string `json:"total"`
	}

	views := make([]balanceView, len(balances))
	for i, b := range balances {
		views[i] = balanceView{
			ChainID:   b.ChainID,
			Token:     b.Token,
			Available: currency.FromUnits(b.AvailableUnits, currency.USDCDecimals),
			Locked:    currency.FromUnits(b.LockedUnits, currency.USDCDecimals),
			Total:     currency.FromUnits(b.TotalUnits(), currency.USDCDecimals),
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":  userID,
		"balances": views,
	})
}

func (h *BalanceHandler) GetTotal(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Bad Request",
			"message": "user_id is required",
		})
		return
	}

	total, err := h.balances.TotalUnits(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to get total balance")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal Server Error",
			"message": "Failed to get total balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id": userID,
		"total":   currency.FromUnits(total, currency.USDCDecimals),
	})
}
