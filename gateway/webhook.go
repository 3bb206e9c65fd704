package gateway

import (
	"strconv"

	"go-vpnshop/apperr"
)

// Webhook event names the processor sends.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentCancelled = "payment.canceled"
)

// WebhookPayload is the inbound notification body.
type WebhookPayload struct {
	Event  string        `json:"event"`
	Object WebhookObject `json:"object"`
}

type WebhookObject struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Amount   amountBody      `json:"amount"`
	Metadata WebhookMetadata `json:"metadata"`
}

type WebhookMetadata struct {
	TelegramID string `json:"telegram_id"`
	PlanType   string `json:"plan_type"`
}

// Validate rejects structurally unusable notifications before they reach the
// reconciliation engine.
func (p *WebhookPayload) Validate() error {
	if p.Event == "" {
		return apperr.New(apperr.KindValidation, "webhook: missing event")
	}
	if p.Object.ID == "" {
		return apperr.New(apperr.KindValidation, "webhook: missing payment id")
	}
	if p.Object.Status == "" {
		return apperr.New(apperr.KindValidation, "webhook: missing payment status")
	}
	// The event name and the object status must agree; a mismatch means a
	// forged or garbled notification. Other events carry whatever status the
	// object is in and are reconciled from the status alone.
	switch p.Event {
	case EventPaymentSucceeded:
		if p.Object.Status != StatusSucceeded {
			return apperr.Newf(apperr.KindValidation, "webhook: event %s carries status %q", p.Event, p.Object.Status)
		}
	case EventPaymentCancelled:
		if p.Object.Status != StatusCancelled {
			return apperr.Newf(apperr.KindValidation, "webhook: event %s carries status %q", p.Event, p.Object.Status)
		}
	}
	return nil
}

// PayerID parses the telegram id the intent was created with.
func (p *WebhookPayload) PayerID() (int64, error) {
	id, err := strconv.ParseInt(p.Object.Metadata.TelegramID, 10, 64)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindValidation, "webhook: malformed telegram_id", err)
	}
	return id, nil
}
