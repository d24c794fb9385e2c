package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kiloan-app/kiloan/internal/config"
	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"go.uber.org/zap"
)

// briQris talks to the BRI QRIS intent API. The response schema has
// drifted across gateway versions, so decoding probes the known field
// names instead of binding a strict struct.
type briQris struct {
	cfg  config.GatewayConfig
	http *http.Client
	log  *zap.Logger
}

func NewBriQris(cfg config.GatewayConfig, log *zap.Logger) Client {
	return &briQris{
		cfg: cfg,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log.Named("gateway.bri_qris"),
	}
}

func (c *briQris) Provider() string { return domain.ProviderBriQris }

type briIntentRequest struct {
	MerchantID      string `json:"merchant_id"`
	PartnerRefNo    string `json:"partner_reference_no"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	ValidityEndTime string `json:"validity_end_time"`
}

func (c *briQris) CreateIntent(ctx context.Context, req IntentRequest) (*IntentResponse, error) {
	body, err := json.Marshal(briIntentRequest{
		MerchantID:      c.cfg.MerchantID,
		PartnerRefNo:    req.Reference,
		Amount:          fmt.Sprintf("%d.00", req.Amount),
		Currency:        req.Currency,
		ValidityEndTime: req.ExpiresAt.Format(time.RFC3339),
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/qris/intents"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("intent creation rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("reference", req.Reference),
		)
		return nil, fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: malformed gateway response", domain.ErrGatewayUnavailable)
	}

	out := &IntentResponse{
		GatewayIntentID: probeString(payload, "intent_id", "reference_no", "transaction_id", "id"),
		QRPayload:       probeString(payload, "qr_content", "qr_string", "qr_payload", "qris_content"),
	}
	if out.QRPayload == "" {
		return nil, fmt.Errorf("%w: gateway response missing qr content", domain.ErrGatewayUnavailable)
	}
	return out, nil
}

// probeString returns the first non-empty string value among the keys,
// descending one level into a "data" object when present.
func probeString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		for _, key := range keys {
			if v, ok := data[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}
