package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	qrcode "github.com/skip2/go-qrcode"

	"go-vpnshop/web/db"
)

type subscriptionStatus struct {
	Active          bool   `json:"active"`
	PlanType        string `json:"planType,omitempty"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
	DaysLeft        int    `json:"daysLeft"`
	HoursLeft       int    `json:"hoursLeft"`
	SubscriptionURL string `json:"subscriptionUrl,omitempty"`
	RemoteUsername  string `json:"remoteUsername,omitempty"`
}

func statusEnvelope(sub *db.Subscription) subscriptionStatus {
	now := time.Now()
	left := sub.ExpiresAt.Sub(now)
	days := int(left.Hours() / 24)
	hours := int(left.Hours())
	if days < 0 {
		days = 0
	}
	if hours < 0 {
		hours = 0
	}
	return subscriptionStatus{
		Active:          true,
		PlanType:        string(sub.PlanType),
		ExpiresAt:       sub.ExpiresAt.Format(time.RFC3339),
		DaysLeft:        days,
		HoursLeft:       hours,
		SubscriptionURL: sub.SubscriptionURL,
		RemoteUsername:  sub.RemoteUsername,
	}
}

// SubscriptionStatus serves the companion app: GET /subscription/:accountId.
func (h *Handlers) SubscriptionStatus(c *gin.Context) {
	telegramID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}

	sub, err := h.Subs.ActiveByTelegramID(telegramID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"active": false, "message": "No active subscription"})
		return
	}
	c.JSON(http.StatusOK, statusEnvelope(sub))
}

// SubscriptionByRemoteUsername resolves a panel username back to its
// subscription.
func (h *Handlers) SubscriptionByRemoteUsername(c *gin.Context) {
	sub, err := h.Subs.ByRemoteUsername(c.Param("name"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sub.Status != db.SubscriptionActive || !sub.ExpiresAt.After(time.Now()) {
		c.JSON(http.StatusNotFound, gin.H{"active": false, "message": "No active subscription"})
		return
	}
	c.JSON(http.StatusOK, statusEnvelope(sub))
}

// Servers reports the VPN endpoint plus live host metrics.
func (h *Handlers) Servers(c *gin.Context) {
	cpuPercent := 0.0
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	}
	memPercent := 0.0
	if vm, err := mem.VirtualMemory(); err == nil {
		memPercent = vm.UsedPercent
	}

	c.JSON(http.StatusOK, gin.H{
		"servers": []gin.H{
			{
				"location":   h.ServerLocation,
				"host":       h.ServerHost,
				"status":     "ok",
				"cpuPercent": cpuPercent,
				"memPercent": memPercent,
				"checkedAt":  time.Now().Format(time.RFC3339),
			},
		},
	})
}

// VlessLink returns the connection material for the account's active
// subscription; ?format=qr renders it as a PNG QR code.
func (h *Handlers) VlessLink(c *gin.Context) {
	telegramID, err := strconv.ParseInt(c.Param("accountId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}

	sub, err := h.Subs.ActiveByTelegramID(telegramID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No active subscription"})
		return
	}

	remote, err := h.Panel.GetUser(c.Request.Context(), sub.RemoteUsername)
	if err != nil {
		h.respondError(c, err)
		return
	}

	url := remote.SubscriptionURL
	if url == "" {
		url = sub.SubscriptionURL
	}

	if c.Query("format") == "qr" {
		png, err := qrcode.Encode(url, qrcode.Medium, 256)
		if err != nil {
			h.Log.Errorw("qr encoding failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
			return
		}
		c.Data(http.StatusOK, "image/png", png)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"subscriptionUrl": url,
		"links":           remote.Links,
		"expire":          remote.Expire,
		"status":          remote.Status,
		"usedTraffic":     remote.UsedTraffic,
		"dataLimit":       remote.DataLimit,
	})
}
