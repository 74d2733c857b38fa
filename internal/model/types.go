package model

import (
	"encoding/json"
	"time"
)

// Delivery statuses. Delivered and failed are terminal.
const (
	DeliveryPending   = "pending"
	DeliveryRetrying  = "retrying"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Audit decisions.
const (
	DecisionAllow = "ALLOW"
	DecisionDeny  = "DENY"
)

// WebhookEndpoint is a tenant's registered subscriber. Endpoints are never
// physically deleted; disable via Enabled=false.
type WebhookEndpoint struct {
	ID                  string    `json:"id"`
	TenantID            string    `json:"tenantId"`
	BranchID            string    `json:"branchId,omitempty"`
	IntegrationClientID string    `json:"integrationClientId,omitempty"`
	Name                string    `json:"name,omitempty"`
	URL                 string    `json:"url"`
	EventTypes          []string  `json:"eventTypes"`
	Enabled             bool      `json:"enabled"`
	Secret              string    `json:"secret,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// SubscribesTo reports whether the endpoint is subscribed to eventType.
func (e WebhookEndpoint) SubscribesTo(eventType string) bool {
	for _, t := range e.EventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// WebhookDelivery is one delivery record per (tenant, endpoint, idempotency key).
type WebhookDelivery struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenantId"`
	BranchID       string          `json:"branchId,omitempty"`
	EndpointID     string          `json:"endpointId"`
	EventType      string          `json:"eventType"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Signature      string          `json:"signature,omitempty"`
	Status         string          `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"maxAttempts"`
	ResponseCode   int             `json:"responseCode,omitempty"`
	ResponseBody   string          `json:"responseBody,omitempty"`
	NextRetryAt    *time.Time      `json:"nextRetryAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Terminal reports whether the delivery can never be attempted again.
func (d WebhookDelivery) Terminal() bool {
	return d.Status == DeliveryDelivered || d.Status == DeliveryFailed
}

// IntegrationClient is an administrative identity owning a bundle of
// endpoints. The token is never stored in clear; only its hash and a
// display-safe preview.
type IntegrationClient struct {
	ID                string    `json:"id"`
	TenantID          string    `json:"tenantId"`
	BranchID          string    `json:"branchId,omitempty"`
	Name              string    `json:"name"`
	TokenHash         string    `json:"-"`
	TokenPreview      string    `json:"tokenPreview,omitempty"`
	AllowedEventTypes []string  `json:"allowedEventTypes,omitempty"`
	Enabled           bool      `json:"enabled"`
	KillSwitch        bool      `json:"killSwitch"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// AllowsEvent reports whether the client's allow-list admits eventType.
// An empty allow-list means unrestricted.
func (c IntegrationClient) AllowsEvent(eventType string) bool {
	if len(c.AllowedEventTypes) == 0 {
		return true
	}
	for _, t := range c.AllowedEventTypes {
		if t == eventType {
			return true
		}
	}
	return false
}

// AuditEntry is one immutable row of the append-only audit ledger.
type AuditEntry struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenantId"`
	BranchID   string    `json:"branchId,omitempty"`
	Actor      string    `json:"actor"`
	Endpoint   string    `json:"endpoint,omitempty"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason,omitempty"`
	ActionType string    `json:"actionType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Request bodies

type EndpointUpsertRequest struct {
	ID                  string   `json:"id,omitempty"`
	TenantID            string   `json:"tenantId,omitempty"`
	BranchID            string   `json:"branchId,omitempty"`
	IntegrationClientID string   `json:"integrationClientId,omitempty"`
	Name                string   `json:"name,omitempty"`
	URL                 string   `json:"url"`
	EventTypes          []string `json:"eventTypes"`
	Enabled             *bool    `json:"enabled,omitempty"`
	Secret              string   `json:"secret,omitempty"`
}

type DispatchRequest struct {
	TenantID        string          `json:"tenantId,omitempty"`
	BranchID        string          `json:"branchId,omitempty"`
	EventType       string          `json:"eventType"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey  string          `json:"idempotencyKey"`
	SimulateFailure bool            `json:"simulateFailure,omitempty"`
}

type ClientCreateRequest struct {
	TenantID          string   `json:"tenantId,omitempty"`
	BranchID          string   `json:"branchId,omitempty"`
	Name              string   `json:"name"`
	AllowedEventTypes []string `json:"allowedEventTypes,omitempty"`
}

// ClientCreated is returned once on create/rotate; Token is the only time
// the clear token is visible.
type ClientCreated struct {
	Client IntegrationClient `json:"client"`
	Token  string            `json:"token"`
}
