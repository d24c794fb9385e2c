package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kiloan-app/kiloan/internal/payment/domain"
)

// Field aliases observed across gateway webhook versions. Probing is
// first-match-wins, top level before the "data" envelope.
var (
	eventIDKeys   = []string{"event_id", "notification_id", "transaction_id", "id"}
	referenceKeys = []string{"partner_reference_no", "reference", "reference_no", "external_id"}
	statusKeys    = []string{"transaction_status", "status", "payment_status"}
	amountKeys    = []string{"amount", "paid_amount", "gross_amount"}
	currencyKeys  = []string{"currency", "currency_code"}
	invoiceKeys   = []string{"invoice_no", "invoice_number", "bill_no"}
	methodKeys    = []string{"payment_method", "payment_type", "channel"}
	paidAtKeys    = []string{"paid_at", "transaction_time", "settlement_time"}
)

// Normalize extracts the provider-agnostic event from a raw webhook
// payload. Non-object JSON is treated as an empty map so the delivery
// still leaves an audit row. A payload without a usable event id gets a
// digest-derived one so dedup still holds for byte-identical replays.
func Normalize(provider string, payload []byte) (*domain.NormalizedEvent, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		var probe any
		if json.Unmarshal(payload, &probe) != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
		}
		body = map[string]any{}
	}

	ev := &domain.NormalizedEvent{
		Provider:      provider,
		EventID:       probeString(body, eventIDKeys),
		Reference:     probeString(body, referenceKeys),
		Status:        strings.ToLower(strings.TrimSpace(probeString(body, statusKeys))),
		Amount:        probeAmount(body),
		Currency:      strings.ToUpper(strings.TrimSpace(probeCurrency(body))),
		InvoiceNo:     probeString(body, invoiceKeys),
		PaymentMethod: strings.ToLower(strings.TrimSpace(probeString(body, methodKeys))),
		Raw:           payload,
	}
	if ev.EventID == "" {
		sum := sha256.Sum256(payload)
		ev.EventID = "digest-" + hex.EncodeToString(sum[:16])
	}
	if raw := probeString(body, paidAtKeys); raw != "" {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			ev.PaidAt = &at
		}
	}
	return ev, nil
}

func probeString(body map[string]any, keys []string) string {
	for _, key := range keys {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	if data, ok := body["data"].(map[string]any); ok {
		for _, key := range keys {
			if v, ok := data[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// probeAmount handles the amount shapes gateways actually send: a JSON
// number, a numeric string like "150000.00", or an object with a
// "value" field.
func probeAmount(body map[string]any) int64 {
	scopes := []map[string]any{body}
	if data, ok := body["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	for _, scope := range scopes {
		for _, key := range amountKeys {
			if amount, ok := parseAmount(scope[key]); ok {
				return amount
			}
		}
	}
	return 0
}

// probeCurrency also looks inside amount objects shaped {value, currency}.
func probeCurrency(body map[string]any) string {
	if v := probeString(body, currencyKeys); v != "" {
		return v
	}
	scopes := []map[string]any{body}
	if data, ok := body["data"].(map[string]any); ok {
		scopes = append(scopes, data)
	}
	for _, scope := range scopes {
		for _, key := range amountKeys {
			if obj, ok := scope[key].(map[string]any); ok {
				if v, ok := obj["currency"].(string); ok && v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func parseAmount(v any) (int64, bool) {
	switch val := v.(type) {
	case float64:
		return int64(val), true
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return int64(f), true
	case map[string]any:
		return parseAmount(val["value"])
	default:
		return 0, false
	}
}
