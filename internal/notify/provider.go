// Package notify delivers alert notifications by email, web hook and the
// configured notification providers.
package notify

import (
	"context"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// Provider sends notifications through a specific channel.
type Provider interface {
	Name() string
	Send(ctx context.Context, n model.Notification) error
}

// Mailer sends a rendered alert email to a comma separated recipient list.
type Mailer interface {
	Send(ctx context.Context, to string, c model.AlertContext) error
}
