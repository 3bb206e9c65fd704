package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-vpnshop/gateway"
	"go-vpnshop/plan"
)

// CreatePayment starts a gateway-funded purchase and returns the
// confirmation URL the payer follows.
func (h *Handlers) CreatePayment(c *gin.Context) {
	var req struct {
		AccountID int64  `json:"accountId"`
		Plan      string `json:"plan"`
		Promocode string `json:"promocode"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	p, ok := parsePlan(c, req.Plan)
	if !ok {
		return
	}
	if _, err := h.Accounts.ByTelegramID(req.AccountID); err != nil {
		h.respondError(c, err)
		return
	}

	pay, err := h.Payments.CreateIntent(c.Request.Context(), req.AccountID, p, req.Promocode)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"remoteId":        pay.RemoteID,
		"amount":          gateway.FormatAmount(pay.Amount),
		"currency":        pay.Currency,
		"plan":            pay.PlanType,
		"status":          pay.Status,
		"confirmationUrl": pay.ConfirmationURL,
	})
}

// PaymentStatus is the user-initiated poll path; it reconciles against the
// gateway before answering.
func (h *Handlers) PaymentStatus(c *gin.Context) {
	pay, err := h.Payments.CheckStatus(c.Request.Context(), c.Param("remoteId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"remoteId": pay.RemoteID,
		"status":   pay.Status,
		"plan":     pay.PlanType,
		"amount":   gateway.FormatAmount(pay.Amount),
	})
}

// PurchaseWithBalance funds a plan from the referral balance.
func (h *Handlers) PurchaseWithBalance(c *gin.Context) {
	var req struct {
		AccountID int64  `json:"accountId"`
		Plan      string `json:"plan"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	p, ok := parsePlan(c, req.Plan)
	if !ok {
		return
	}

	if err := h.Payments.PurchaseWithBalance(c.Request.Context(), req.AccountID, p); err != nil {
		h.respondError(c, err)
		return
	}

	sub, err := h.Subs.ActiveByTelegramID(req.AccountID)
	if err != nil || sub == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	c.JSON(http.StatusOK, statusEnvelope(sub))
}

// StartTrial grants the one-time free trial.
func (h *Handlers) StartTrial(c *gin.Context) {
	var req struct {
		AccountID int64 `json:"accountId"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if _, err := h.Accounts.ByTelegramID(req.AccountID); err != nil {
		h.respondError(c, err)
		return
	}

	used, err := h.Subs.HasUsedTrial(req.AccountID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if used {
		c.JSON(http.StatusConflict, gin.H{"error": "Trial already used"})
		return
	}
	if existing, err := h.Subs.ActiveByTelegramID(req.AccountID); err != nil {
		h.respondError(c, err)
		return
	} else if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Subscription already active"})
		return
	}

	sub, err := h.Subs.Create(c.Request.Context(), req.AccountID, plan.Trial)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, statusEnvelope(sub))
}
