package webhook

import (
	"testing"
	"time"

	"github.com/kiloan-app/kiloan/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeFlatPayload(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt-123",
		"partner_reference_no": "KLN-cuci-kering-a1b2c3d4",
		"transaction_status": "SETTLEMENT",
		"amount": 150000,
		"payment_method": "QRIS",
		"paid_at": "2024-05-01T10:30:00+07:00"
	}`)

	ev, err := Normalize("bri_qris", payload)
	require.NoError(t, err)
	assert.Equal(t, "bri_qris", ev.Provider)
	assert.Equal(t, "evt-123", ev.EventID)
	assert.Equal(t, "KLN-cuci-kering-a1b2c3d4", ev.Reference)
	assert.Equal(t, "settlement", ev.Status)
	assert.Equal(t, int64(150000), ev.Amount)
	assert.Equal(t, "qris", ev.PaymentMethod)
	require.NotNil(t, ev.PaidAt)
	assert.Equal(t, time.Date(2024, 5, 1, 3, 30, 0, 0, time.UTC), ev.PaidAt.UTC())
}

func TestNormalizeDataEnvelope(t *testing.T) {
	payload := []byte(`{
		"data": {
			"notification_id": "ntf-9",
			"reference_no": "KLN-setrika-deadbeef",
			"status": "PAID",
			"gross_amount": "75000.00",
			"payment_type": "qris"
		}
	}`)

	ev, err := Normalize("bri_qris", payload)
	require.NoError(t, err)
	assert.Equal(t, "ntf-9", ev.EventID)
	assert.Equal(t, "KLN-setrika-deadbeef", ev.Reference)
	assert.Equal(t, "paid", ev.Status)
	assert.Equal(t, int64(75000), ev.Amount)
}

func TestNormalizeAmountObject(t *testing.T) {
	payload := []byte(`{"id": "evt-7", "amount": {"value": "42000", "currency": "idr"}}`)
	ev, err := Normalize("bri_qris", payload)
	require.NoError(t, err)
	assert.Equal(t, int64(42000), ev.Amount)
	assert.Equal(t, "IDR", ev.Currency)
}

func TestNormalizeDerivesEventIDFromDigest(t *testing.T) {
	payload := []byte(`{"reference": "KLN-x-12345678", "status": "success"}`)

	first, err := Normalize("bri_qris", payload)
	require.NoError(t, err)
	second, err := Normalize("bri_qris", payload)
	require.NoError(t, err)

	assert.Contains(t, first.EventID, "digest-")
	assert.Equal(t, first.EventID, second.EventID, "identical bytes must dedup to one id")

	other, err := Normalize("bri_qris", []byte(`{"reference": "KLN-y-87654321", "status": "success"}`))
	require.NoError(t, err)
	assert.NotEqual(t, first.EventID, other.EventID)
}

func TestNormalizeRejectsMalformedJSON(t *testing.T) {
	_, err := Normalize("bri_qris", []byte(`{"event_id": `))
	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
}

func TestNormalizeTreatsNonObjectJSONAsEmpty(t *testing.T) {
	ev, err := Normalize("bri_qris", []byte(`[1, 2, 3]`))
	require.NoError(t, err)
	assert.Contains(t, ev.EventID, "digest-")
	assert.Empty(t, ev.Reference)
	assert.Zero(t, ev.Amount)
}

func TestSuccessStatuses(t *testing.T) {
	success := []string{"success", "paid", "settled", "settlement", "completed", "00"}
	for _, status := range success {
		ev := domain.NormalizedEvent{Status: status}
		assert.True(t, ev.Success(), status)
	}
	for _, status := range []string{"pending", "failed", "expire", ""} {
		ev := domain.NormalizedEvent{Status: status}
		assert.False(t, ev.Success(), status)
	}
}
