package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	GinPort string `env:"GIN_PORT" envDefault:"8080"`
	GinMode string `env:"GIN_MODE" envDefault:"release"`

	DSN string `env:"DB,required"`

	// YooKassa-compatible payment gateway.
	GatewayURL       string `env:"GATEWAY_URL" envDefault:"https://api.yookassa.ru/v3"`
	GatewayShopID    string `env:"GATEWAY_SHOP_ID,required"`
	GatewaySecretKey string `env:"GATEWAY_SECRET_KEY,required"`
	GatewayReturnURL string `env:"GATEWAY_RETURN_URL" envDefault:"https://t.me/vpnshop_bot"`

	// Marzban-compatible VPN panel.
	PanelURL      string `env:"PANEL_URL" envDefault:"http://localhost:8000"`
	PanelUsername string `env:"PANEL_USERNAME" envDefault:"admin"`
	PanelPassword string `env:"PANEL_PASSWORD" envDefault:"admin"`

	// Static key for the companion-app status API.
	APIKey string `env:"API_KEY,required"`

	// Admin auth: bcrypt hash of the operator password plus the JWT secret.
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH,required"`
	JWTSecret         string `env:"SECRET,required"`

	ReferralRatePercent string        `env:"REFERRAL_RATE" envDefault:"15.0"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	ServerLocation string `env:"SERVER_LOCATION" envDefault:"Netherlands"`
	ServerHost     string `env:"VPN_SERVER_HOST" envDefault:""`

	// Optional plan price overrides, minor units.
	PriceDay     int64 `env:"PRICE_DAY" envDefault:"0"`
	PriceWeek    int64 `env:"PRICE_WEEK" envDefault:"0"`
	PriceMonth   int64 `env:"PRICE_MONTH" envDefault:"0"`
	PriceQuarter int64 `env:"PRICE_QUARTER" envDefault:"0"`
	PriceYear    int64 `env:"PRICE_YEAR" envDefault:"0"`
}

// Load reads .env if present and parses the environment into a Config.
func Load() (*Config, error) {
	godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
