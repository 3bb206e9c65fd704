// Package controllers holds the gin handlers for the public, companion-app
// and admin surfaces.
package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"go-vpnshop/account"
	"go-vpnshop/apperr"
	"go-vpnshop/panel"
	"go-vpnshop/payment"
	"go-vpnshop/plan"
	"go-vpnshop/promocode"
	"go-vpnshop/referral"
	"go-vpnshop/subscription"
)

// PanelReader is the read-only slice of the panel client the link endpoints
// need.
type PanelReader interface {
	GetUser(ctx context.Context, username string) (*panel.RemoteUser, error)
}

type Handlers struct {
	Accounts *account.Service
	Subs     *subscription.Manager
	Payments *payment.Engine
	Referral *referral.Service
	Promos   *promocode.Service
	Panel    PanelReader

	ServerLocation string
	ServerHost     string

	Log *zap.SugaredLogger
}

// respondError maps the error taxonomy onto HTTP responses. Remote-side
// failures are logged with context and surfaced as a generic retry hint.
func (h *Handlers) respondError(c *gin.Context, err error) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		h.Log.Errorw("unclassified error", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	switch kind {
	case apperr.KindValidation:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case apperr.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperr.KindConflict:
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperr.KindProvisioning, apperr.KindGateway:
		h.Log.Errorw("remote operation failed", "path", c.FullPath(), "kind", kind.String(), "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Service temporarily unavailable, try again later"})
	default:
		h.Log.Errorw("storage failure", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}

func parsePlan(c *gin.Context, raw string) (plan.Type, bool) {
	p, err := plan.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return p, true
}
