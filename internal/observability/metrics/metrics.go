package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/fx"
)

// Module provides the billing metrics recorder.
var Module = fx.Provide(New)

// Metrics records billing-core counters. Consumers take it as an
// optional dependency so tests can leave it nil.
type Metrics struct {
	webhookEvents   metric.Int64Counter
	quotaRejections metric.Int64Counter
	leasesClaimed   metric.Int64Counter
	intentsIssued   metric.Int64Counter
}

func New() (*Metrics, error) {
	meter := otel.Meter("kiloan/billing")

	webhookEvents, err := meter.Int64Counter("billing.webhook.events",
		metric.WithDescription("Inbound gateway webhook events by terminal outcome"))
	if err != nil {
		return nil, err
	}
	quotaRejections, err := meter.Int64Counter("billing.quota.rejections",
		metric.WithDescription("Order slots rejected by the quota meter"))
	if err != nil {
		return nil, err
	}
	leasesClaimed, err := meter.Int64Counter("billing.lease.claims",
		metric.WithDescription("Invoice-number leases handed out"))
	if err != nil {
		return nil, err
	}
	intentsIssued, err := meter.Int64Counter("billing.intent.issued",
		metric.WithDescription("Payment intents created by provider"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhookEvents:   webhookEvents,
		quotaRejections: quotaRejections,
		leasesClaimed:   leasesClaimed,
		intentsIssued:   intentsIssued,
	}, nil
}

func (m *Metrics) RecordWebhookEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordQuotaRejection(ctx context.Context, planKey string) {
	if m == nil {
		return
	}
	m.quotaRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan", planKey),
	))
}

func (m *Metrics) RecordLeaseClaims(ctx context.Context, n int64) {
	if m == nil {
		return
	}
	m.leasesClaimed.Add(ctx, n)
}

func (m *Metrics) RecordIntentIssued(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	m.intentsIssued.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
	))
}
