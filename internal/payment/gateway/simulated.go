package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
)

// simulated issues deterministic QR payloads without touching any
// acquirer. The payload is a pure function of the reference, so retried
// issuance for the same intent renders the same code.
type simulated struct {
	cfg config.GatewayConfig
}

func NewSimulated(cfg config.GatewayConfig) Client {
	return &simulated{cfg: cfg}
}

func (c *simulated) Provider() string { return domain.ProviderSimulated }

func (c *simulated) CreateIntent(_ context.Context, req IntentRequest) (*IntentResponse, error) {
	sum := sha256.Sum256([]byte(req.Reference))
	digest := hex.EncodeToString(sum[:8])
	return &IntentResponse{
		GatewayIntentID: "SIM-" + digest,
		QRPayload:       fmt.Sprintf("SIMQR|%s|%d|%s", req.Reference, req.Amount, digest),
	}, nil
}
