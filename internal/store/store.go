package store

import (
	"context"
	"errors"
	"time"

	"poshub/internal/model"
)

// Store is the persistence interface used by the dispatcher and API server.
// Every operation is scoped by tenantID.
type Store interface {
	// Webhook endpoints
	UpsertEndpoint(ctx context.Context, ep model.WebhookEndpoint) (model.WebhookEndpoint, error)
	GetEndpoint(ctx context.Context, tenantID, id string) (model.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.WebhookEndpoint, string, error)
	GetEndpointsForEvent(ctx context.Context, tenantID, eventType string) ([]model.WebhookEndpoint, error)

	// Webhook deliveries
	CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error)
	GetDelivery(ctx context.Context, tenantID, id string) (model.WebhookDelivery, error)
	GetDeliveryByKey(ctx context.Context, tenantID, endpointID, idempotencyKey string) (model.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.WebhookDelivery, string, error)
	ListDueDeliveries(ctx context.Context, tenantID string, now time.Time) ([]model.WebhookDelivery, error)
	ListTenantsWithDueDeliveries(ctx context.Context, now time.Time) ([]string, error)

	// Integration clients
	CreateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error)
	GetIntegrationClient(ctx context.Context, tenantID, id string) (model.IntegrationClient, error)
	UpdateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error)
	ListIntegrationClients(ctx context.Context, tenantID, cursor string, limit int) ([]model.IntegrationClient, string, error)

	// Audit ledger (append-only)
	AppendAudit(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error)
	ListAudit(ctx context.Context, tenantID, cursor string, limit int) ([]model.AuditEntry, string, error)

	// Feature flags; unset flags fall back to the default set at startup.
	FeatureEnabled(ctx context.Context, tenantID, flag string) (bool, error)
	SetFeatureFlag(ctx context.Context, tenantID, flag string, enabled bool) error
}

var ErrNotFound = errors.New("not found")
