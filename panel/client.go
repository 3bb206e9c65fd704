// Package panel talks to a Marzban-compatible VPN panel over its REST API.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-vpnshop/apperr"
)

const (
	requestTimeout = 30 * time.Second

	// Panel tokens live 24h; refresh an hour early.
	tokenLifetime = 23 * time.Hour
)

type Client struct {
	baseURL  string
	username string
	password string

	http *http.Client
	log  *zap.SugaredLogger

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

func NewClient(baseURL, username, password string, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     &http.Client{Timeout: requestTimeout},
		log:      log,
	}
}

// RemoteUser is the panel's view of one VPN account.
type RemoteUser struct {
	Username        string   `json:"username"`
	Status          string   `json:"status"`
	Expire          int64    `json:"expire"`
	SubscriptionURL string   `json:"subscription_url"`
	Links           []string `json:"links"`
	UsedTraffic     int64    `json:"used_traffic"`
	DataLimit       int64    `json:"data_limit"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type usersResponse struct {
	Users []RemoteUser `json:"users"`
	Total int          `json:"total"`
}

// GenerateUsername derives a unique panel username for a telegram account.
func GenerateUsername(telegramID int64) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("vpnshop_%d_%s", telegramID, suffix)
}

func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpires) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvisioning, "build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindProvisioning, "panel token request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", apperr.Newf(apperr.KindProvisioning, "panel token request: status %d: %s", resp.StatusCode, body)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", apperr.Wrap(apperr.KindProvisioning, "decode token response", err)
	}
	if tr.AccessToken == "" {
		return "", apperr.New(apperr.KindProvisioning, "panel returned empty access token")
	}

	c.token = tr.AccessToken
	c.tokenExpires = time.Now().Add(tokenLifetime)
	c.log.Infow("panel token refreshed")
	return c.token, nil
}

func (c *Client) request(ctx context.Context, method, endpoint string, payload any, out any) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return apperr.Wrap(apperr.KindProvisioning, "encode panel request", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return apperr.Wrap(apperr.KindProvisioning, "build panel request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindProvisioning, "panel request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.Newf(apperr.KindNotFound, "panel: %s %s: not found", method, endpoint)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(resp.Body)
		return apperr.Newf(apperr.KindProvisioning, "panel: %s %s: status %d: %s", method, endpoint, resp.StatusCode, raw)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperr.Wrap(apperr.KindProvisioning, "decode panel response", err)
		}
	}
	return nil
}

// CreateUser provisions a VLESS account expiring at expiresAt.
func (c *Client) CreateUser(ctx context.Context, username string, expiresAt time.Time, note string) (*RemoteUser, error) {
	payload := map[string]any{
		"username": username,
		"proxies": map[string]any{
			"vless": map[string]any{"flow": "xtls-rprx-vision"},
		},
		"inbounds": map[string]any{
			"vless": []string{"VLESS TCP REALITY"},
		},
		"expire":                    expiresAt.Unix(),
		"data_limit":                0,
		"data_limit_reset_strategy": "no_reset",
		"status":                    "active",
		"note":                      note,
	}

	var user RemoteUser
	if err := c.request(ctx, http.MethodPost, "/api/user", payload, &user); err != nil {
		return nil, err
	}
	c.log.Infow("panel user created", "username", username)
	return &user, nil
}

// ExtendUser pushes a new expiry and reactivates the remote account.
func (c *Client) ExtendUser(ctx context.Context, username string, newExpiry time.Time) error {
	payload := map[string]any{
		"expire": newExpiry.Unix(),
		"status": "active",
	}
	if err := c.request(ctx, http.MethodPut, "/api/user/"+username, payload, nil); err != nil {
		return err
	}
	c.log.Infow("panel user extended", "username", username, "expires", newExpiry)
	return nil
}

// DeleteUser removes the remote account. A missing account surfaces as a
// NotFound error; callers on the cancel path treat that as already done.
func (c *Client) DeleteUser(ctx context.Context, username string) error {
	if err := c.request(ctx, http.MethodDelete, "/api/user/"+username, nil, nil); err != nil {
		return err
	}
	c.log.Infow("panel user deleted", "username", username)
	return nil
}

// GetUser fetches one remote account.
func (c *Client) GetUser(ctx context.Context, username string) (*RemoteUser, error) {
	var user RemoteUser
	if err := c.request(ctx, http.MethodGet, "/api/user/"+username, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// ListUsers fetches all remote accounts with their usage metrics.
func (c *Client) ListUsers(ctx context.Context) ([]RemoteUser, error) {
	var ur usersResponse
	if err := c.request(ctx, http.MethodGet, "/api/users", nil, &ur); err != nil {
		return nil, err
	}
	return ur.Users, nil
}
