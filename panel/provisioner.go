package panel

import (
	"context"
	"fmt"
	"time"
)

// The methods below adapt the raw REST client to the lifecycle manager's
// provisioning contract.

// Provision creates a fresh remote account for the telegram id and returns
// the generated username and the subscription URL clients connect with.
func (c *Client) Provision(ctx context.Context, telegramID int64, expiresAt time.Time) (string, string, error) {
	username := GenerateUsername(telegramID)
	note := fmt.Sprintf("Telegram ID: %d", telegramID)

	user, err := c.CreateUser(ctx, username, expiresAt, note)
	if err != nil {
		return "", "", err
	}
	return username, user.SubscriptionURL, nil
}

// Extend pushes a new expiry for an existing remote account.
func (c *Client) Extend(ctx context.Context, username string, newExpiry time.Time) error {
	return c.ExtendUser(ctx, username, newExpiry)
}

// Deprovision removes the remote account.
func (c *Client) Deprovision(ctx context.Context, username string) error {
	return c.DeleteUser(ctx, username)
}
