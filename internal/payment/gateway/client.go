package gateway

import (
	"context"
	"time"

	"github.com/kiloan-app/kiloan/internal/config"
	"go.uber.org/zap"
)

// IntentRequest asks the acquirer to create one QRIS charge.
type IntentRequest struct {
	Reference string
	Amount    int64
	Currency  string
	ExpiresAt time.Time
}

// IntentResponse is the acquirer's answer: an opaque gateway id and the
// QR string the terminal renders.
type IntentResponse struct {
	GatewayIntentID string
	QRPayload       string
}

// Client creates QRIS intents at the payment gateway.
type Client interface {
	Provider() string
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error)
}

// NewClient picks the live BRI adapter when credentials are configured
// and the simulated provider otherwise, so development and CI never
// reach out to the acquirer.
func NewClient(cfg config.Config, log *zap.Logger) Client {
	if cfg.Gateway.Configured() {
		return NewBriQris(cfg.Gateway, log)
	}
	log.Named("gateway").Warn("qris credentials missing, using simulated provider")
	return NewSimulated(cfg.Gateway)
}
