// Package gateway talks to a YooKassa-compatible payment processor.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-vpnshop/apperr"
)

const requestTimeout = 30 * time.Second

// Remote payment statuses as reported by the processor.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCancelled = "canceled"
	StatusRefunded  = "refunded"
)

type Client struct {
	baseURL   string
	shopID    string
	secretKey string
	returnURL string

	http *http.Client
	log  *zap.SugaredLogger
}

func NewClient(baseURL, shopID, secretKey, returnURL string, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		shopID:    shopID,
		secretKey: secretKey,
		returnURL: returnURL,
		http:      &http.Client{Timeout: requestTimeout},
		log:       log,
	}
}

// Intent is the gateway's confirmation handle for a created payment.
type Intent struct {
	RemoteID        string
	Status          string
	ConfirmationURL string
}

type amountBody struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationBody struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type metadataBody struct {
	TelegramID string `json:"telegram_id"`
	PlanType   string `json:"plan_type"`
}

type paymentBody struct {
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Amount       amountBody       `json:"amount"`
	Confirmation confirmationBody `json:"confirmation"`
	Metadata     metadataBody     `json:"metadata"`
}

// CreateIntent registers a payment with the processor. The idempotency key
// makes the remote call safe to repeat on network errors.
func (c *Client) CreateIntent(ctx context.Context, amount int64, currency, description string, telegramID int64, planType string) (*Intent, error) {
	body := map[string]any{
		"amount": amountBody{
			Value:    FormatAmount(amount),
			Currency: currency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": c.returnURL,
		},
		"capture":     true,
		"description": description,
		"metadata": metadataBody{
			TelegramID: strconv.FormatInt(telegramID, 10),
			PlanType:   planType,
		},
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "encode intent request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "build intent request", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.New().String())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(resp.Body)
		return nil, apperr.Newf(apperr.KindGateway, "gateway create intent: status %d: %s", resp.StatusCode, payload)
	}

	var pb paymentBody
	if err := json.NewDecoder(resp.Body).Decode(&pb); err != nil {
		return nil, apperr.Wrap(apperr.KindGateway, "decode intent response", err)
	}
	if pb.ID == "" {
		return nil, apperr.New(apperr.KindGateway, "gateway returned empty payment id")
	}

	c.log.Infow("payment intent created", "remote_id", pb.ID, "telegram_id", telegramID, "plan", planType)
	return &Intent{
		RemoteID:        pb.ID,
		Status:          pb.Status,
		ConfirmationURL: pb.Confirmation.ConfirmationURL,
	}, nil
}

// FetchStatus asks the processor for the authoritative payment status.
func (c *Client) FetchStatus(ctx context.Context, remoteID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payments/"+remoteID, nil)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, "build status request", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Wrap(apperr.KindGateway, "gateway unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", apperr.Newf(apperr.KindNotFound, "gateway payment %s not found", remoteID)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", apperr.Newf(apperr.KindGateway, "gateway fetch status: status %d: %s", resp.StatusCode, payload)
	}

	var pb paymentBody
	if err := json.NewDecoder(resp.Body).Decode(&pb); err != nil {
		return "", apperr.Wrap(apperr.KindGateway, "decode status response", err)
	}
	return pb.Status, nil
}
