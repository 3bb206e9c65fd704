package main

import (
	"context"
	stlog "log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"go-vpnshop/account"
	"go-vpnshop/config"
	"go-vpnshop/gateway"
	"go-vpnshop/logger"
	"go-vpnshop/panel"
	"go-vpnshop/payment"
	"go-vpnshop/plan"
	"go-vpnshop/promocode"
	"go-vpnshop/referral"
	"go-vpnshop/subscription"
	"go-vpnshop/web/controllers"
	"go-vpnshop/web/db"
	"go-vpnshop/web/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stlog.Fatalln("config:", err)
	}

	log, err := logger.New(cfg.GinMode == "debug")
	if err != nil {
		stlog.Fatalln("logger:", err)
	}
	defer log.Sync()

	conn, err := db.Connect(cfg.DSN)
	if err != nil {
		log.Fatalw("database connection failed", "error", err)
	}
	if err := db.Sync(conn); err != nil {
		log.Fatalw("schema migration failed", "error", err)
	}

	catalog := plan.NewCatalog(map[plan.Type]int64{
		plan.Day:     cfg.PriceDay,
		plan.Week:    cfg.PriceWeek,
		plan.Month:   cfg.PriceMonth,
		plan.Quarter: cfg.PriceQuarter,
		plan.Year:    cfg.PriceYear,
	})

	panelClient := panel.NewClient(cfg.PanelURL, cfg.PanelUsername, cfg.PanelPassword, log)
	gatewayClient := gateway.NewClient(cfg.GatewayURL, cfg.GatewayShopID, cfg.GatewaySecretKey, cfg.GatewayReturnURL, log)

	accounts := account.NewService(conn, log)
	subs := subscription.NewManager(conn, panelClient, log)
	refs, err := referral.NewService(conn, cfg.ReferralRatePercent, log)
	if err != nil {
		log.Fatalw("referral service init failed", "error", err)
	}
	promos := promocode.NewService(conn, log)
	payments := payment.NewEngine(conn, gatewayClient, subs, refs, promos, catalog, log)

	sweeper := subscription.NewSweeper(conn, subs, cfg.SweepInterval, log)
	sweeper.Start(context.Background())

	h := &controllers.Handlers{
		Accounts:       accounts,
		Subs:           subs,
		Payments:       payments,
		Referral:       refs,
		Promos:         promos,
		Panel:          panelClient,
		ServerLocation: cfg.ServerLocation,
		ServerHost:     cfg.ServerHost,
		Log:            log,
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	limiter := middleware.NewRateLimiter(15)
	limiter.StartCleanup(10 * time.Minute)
	limited := limiter.Middleware()

	r.POST("/webhook/payment", h.PaymentWebhook)
	r.GET("/health", func(c *gin.Context) { c.JSON(200, gin.H{"status": "healthy"}) })

	r.POST("/account", limited, h.RegisterAccount)
	r.POST("/payment", limited, h.CreatePayment)
	r.GET("/payment/status/:remoteId", limited, h.PaymentStatus)
	r.POST("/payment/balance", limited, h.PurchaseWithBalance)
	r.POST("/trial", limited, h.StartTrial)
	r.POST("/redeem", limited, h.RedeemPromocode)
	r.GET("/referral/stats/:accountId", limited, h.ReferralStats)

	keyed := middleware.APIKey(cfg.APIKey)
	r.GET("/subscription/:accountId", keyed, h.SubscriptionStatus)
	r.GET("/subscription/by-remote-username/:name", keyed, h.SubscriptionByRemoteUsername)
	r.GET("/servers", keyed, h.Servers)
	r.GET("/vless-link/:accountId", keyed, h.VlessLink)

	adminCfg := controllers.AdminConfig{PasswordHash: cfg.AdminPasswordHash, JWTSecret: cfg.JWTSecret}
	r.POST("/admin/login", limited, h.AdminLogin(adminCfg))
	admin := r.Group("/admin", middleware.AdminAuth(cfg.JWTSecret))
	admin.POST("/promocodes", h.CreatePromocode)
	admin.GET("/promocodes/:code", h.PromocodeStats)

	log.Infow("webservice starting", "port", cfg.GinPort)
	if err := r.Run(":" + cfg.GinPort); err != nil {
		log.Fatalw("server stopped", "error", err)
	}
}
