package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// RegisterAccount creates the account on first contact; subsequent calls
// refresh profile fields and return the existing row.
func (h *Handlers) RegisterAccount(c *gin.Context) {
	var req struct {
		AccountID    int64  `json:"accountId"`
		Username     string `json:"username"`
		FirstName    string `json:"firstName"`
		LastName     string `json:"lastName"`
		ReferralCode string `json:"referralCode"`
	}
	if err := c.BindJSON(&req); err != nil || req.AccountID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	acc, err := h.Accounts.GetOrCreate(req.AccountID, req.Username, req.FirstName, req.LastName, req.ReferralCode)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"accountId":    acc.TelegramID,
		"referralCode": acc.ReferralCode,
		"balance":      acc.Balance,
	})
}

// RedeemPromocode consumes a bonus-days code and grants the subscription
// time directly.
func (h *Handlers) RedeemPromocode(c *gin.Context) {
	var req struct {
		AccountID int64  `json:"accountId"`
		Code      string `json:"code"`
	}
	if err := c.BindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if _, err := h.Accounts.ByTelegramID(req.AccountID); err != nil {
		h.respondError(c, err)
		return
	}

	sub, err := h.Payments.RedeemBonusDays(c.Request.Context(), req.AccountID, req.Code)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusEnvelope(sub))
}

// ReferralStats reports the account's referral code, balance and earnings.
func (h *Handlers) ReferralStats(c *gin.Context) {
	telegramID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}

	stats, err := h.Referral.Stats(telegramID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
