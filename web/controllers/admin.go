package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"go-vpnshop/plan"
	"go-vpnshop/promocode"
	"go-vpnshop/web/db"
	"go-vpnshop/web/middleware"
)

// AdminPasswordHash and JWTSecret come from config; the login handler trades
// the operator password for a bearer token.
type AdminConfig struct {
	PasswordHash string
	JWTSecret    string
}

// AdminLogin verifies the operator password and issues a JWT.
func (h *Handlers) AdminLogin(cfg AdminConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Password string `json:"password"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}

		err := bcrypt.CompareHashAndPassword([]byte(cfg.PasswordHash), []byte(req.Password))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid password"})
			return
		}

		token, err := middleware.AdminToken(cfg.JWTSecret)
		if err != nil {
			h.Log.Errorw("failed to sign admin token", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	}
}

// CreatePromocode registers a new code.
func (h *Handlers) CreatePromocode(c *gin.Context) {
	var req struct {
		Code          string   `json:"code"`
		DiscountType  string   `json:"discountType"`
		DiscountValue int64    `json:"discountValue"`
		MaxUses       *int     `json:"maxUses"`
		ExpiresAt     string   `json:"expiresAt"` // RFC3339, optional
		Plans         []string `json:"plans"`
	}
	if err := c.BindJSON(&req); err != nil || req.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	params := promocode.CreateParams{
		Code:          req.Code,
		DiscountType:  db.DiscountType(req.DiscountType),
		DiscountValue: req.DiscountValue,
		MaxUses:       req.MaxUses,
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid expiration date"})
			return
		}
		params.ExpiresAt = &expires
	}
	for _, raw := range req.Plans {
		p, err := plan.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.ApplicablePlans = append(params.ApplicablePlans, p)
	}

	promo, err := h.Promos.Create(params)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": promo.Code, "discountType": promo.DiscountType, "discountValue": promo.DiscountValue})
}

// PromocodeStats reports usage for one code.
func (h *Handlers) PromocodeStats(c *gin.Context) {
	stats, err := h.Promos.StatsByCode(c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
