package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"poshub/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
// Flag defaults apply to flags never set explicitly; webhook_outbound
// defaults to enabled.
type Memory struct {
	mu           sync.Mutex
	endpoints    map[string]model.WebhookEndpoint // id -> endpoint
	endpointsTen map[string][]string              // tenant -> endpoint ids
	deliveries   map[string]model.WebhookDelivery // id -> delivery
	delivTen     map[string][]string              // tenant -> delivery ids
	delivByKey   map[string]string                // tenant|endpoint|key -> delivery id
	clients      map[string]model.IntegrationClient
	clientsTen   map[string][]string
	audit        map[string][]model.AuditEntry // tenant -> entries
	flags        map[string]map[string]bool    // tenant -> flag -> enabled
	flagDefaults map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		endpoints:    map[string]model.WebhookEndpoint{},
		endpointsTen: map[string][]string{},
		deliveries:   map[string]model.WebhookDelivery{},
		delivTen:     map[string][]string{},
		delivByKey:   map[string]string{},
		clients:      map[string]model.IntegrationClient{},
		clientsTen:   map[string][]string{},
		audit:        map[string][]model.AuditEntry{},
		flags:        map[string]map[string]bool{},
		flagDefaults: map[string]bool{"webhook_outbound": true},
	}
}

func dedupeKey(tenantID, endpointID, idempotencyKey string) string {
	return tenantID + "|" + endpointID + "|" + idempotencyKey
}

func (m *Memory) UpsertEndpoint(ctx context.Context, ep model.WebhookEndpoint) (model.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if ep.ID == "" {
		ep.ID = uuid.New().String()
		ep.CreatedAt = now
		m.endpointsTen[ep.TenantID] = append(m.endpointsTen[ep.TenantID], ep.ID)
	} else {
		old, ok := m.endpoints[ep.ID]
		if !ok || old.TenantID != ep.TenantID {
			return model.WebhookEndpoint{}, ErrNotFound
		}
		ep.CreatedAt = old.CreatedAt
		if ep.Secret == "" {
			ep.Secret = old.Secret
		}
	}
	ep.UpdatedAt = now
	m.endpoints[ep.ID] = ep
	return ep, nil
}

func (m *Memory) GetEndpoint(ctx context.Context, tenantID, id string) (model.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[id]
	if !ok || ep.TenantID != tenantID {
		return model.WebhookEndpoint{}, ErrNotFound
	}
	return ep, nil
}

func (m *Memory) ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.WebhookEndpoint, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.endpointsTen[tenantID]
	start := cursorIndex(ids, cursor)
	if limit <= 0 {
		limit = 100
	}
	out := []model.WebhookEndpoint{}
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.endpoints[ids[i]])
	}
	next := ""
	if start+len(out) < len(ids) && len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) GetEndpointsForEvent(ctx context.Context, tenantID, eventType string) ([]model.WebhookEndpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookEndpoint
	for _, id := range m.endpointsTen[tenantID] {
		ep := m.endpoints[id]
		if ep.Enabled && ep.SubscribesTo(eventType) {
			out = append(out, ep)
		}
	}
	return out, nil
}

func (m *Memory) CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := dedupeKey(d.TenantID, d.EndpointID, d.IdempotencyKey)
	if id, ok := m.delivByKey[key]; ok {
		return m.deliveries[id], nil
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	m.deliveries[d.ID] = d
	m.delivTen[d.TenantID] = append(m.delivTen[d.TenantID], d.ID)
	m.delivByKey[key] = d.ID
	return d, nil
}

func (m *Memory) UpdateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.deliveries[d.ID]
	if !ok || old.TenantID != d.TenantID {
		return model.WebhookDelivery{}, ErrNotFound
	}
	m.deliveries[d.ID] = d
	return d, nil
}

func (m *Memory) GetDelivery(ctx context.Context, tenantID, id string) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok || d.TenantID != tenantID {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) GetDeliveryByKey(ctx context.Context, tenantID, endpointID, idempotencyKey string) (model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.delivByKey[dedupeKey(tenantID, endpointID, idempotencyKey)]
	if !ok {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return m.deliveries[id], nil
}

func (m *Memory) ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.WebhookDelivery, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.delivTen[tenantID]
	start := cursorIndex(ids, cursor)
	if limit <= 0 {
		limit = 100
	}
	out := []model.WebhookDelivery{}
	next := ""
	for i := start; i < len(ids) && len(out) < limit; i++ {
		d := m.deliveries[ids[i]]
		if status == "" || d.Status == status {
			out = append(out, d)
		}
		next = ids[i]
	}
	if len(out) < limit {
		next = ""
	}
	return out, next, nil
}

func (m *Memory) ListDueDeliveries(ctx context.Context, tenantID string, now time.Time) ([]model.WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.WebhookDelivery
	for _, id := range m.delivTen[tenantID] {
		d := m.deliveries[id]
		if d.Status == model.DeliveryRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Memory) ListTenantsWithDueDeliveries(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, d := range m.deliveries {
		if d.Status == model.DeliveryRetrying && d.NextRetryAt != nil && !d.NextRetryAt.After(now) && !seen[d.TenantID] {
			seen[d.TenantID] = true
			out = append(out, d.TenantID)
		}
	}
	return out, nil
}

func (m *Memory) CreateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	m.clients[c.ID] = c
	m.clientsTen[c.TenantID] = append(m.clientsTen[c.TenantID], c.ID)
	return c, nil
}

func (m *Memory) GetIntegrationClient(ctx context.Context, tenantID, id string) (model.IntegrationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.TenantID != tenantID {
		return model.IntegrationClient{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) UpdateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.clients[c.ID]
	if !ok || old.TenantID != c.TenantID {
		return model.IntegrationClient{}, ErrNotFound
	}
	c.CreatedAt = old.CreatedAt
	c.UpdatedAt = time.Now().UTC()
	m.clients[c.ID] = c
	return c, nil
}

func (m *Memory) ListIntegrationClients(ctx context.Context, tenantID, cursor string, limit int) ([]model.IntegrationClient, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.clientsTen[tenantID]
	start := cursorIndex(ids, cursor)
	if limit <= 0 {
		limit = 100
	}
	out := []model.IntegrationClient{}
	for i := start; i < len(ids) && len(out) < limit; i++ {
		out = append(out, m.clients[ids[i]])
	}
	next := ""
	if start+len(out) < len(ids) && len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) AppendAudit(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	m.audit[e.TenantID] = append(m.audit[e.TenantID], e)
	return e, nil
}

func (m *Memory) ListAudit(ctx context.Context, tenantID, cursor string, limit int) ([]model.AuditEntry, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.audit[tenantID]
	start := 0
	if cursor != "" {
		for i := range entries {
			if entries[i].ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(entries) {
		end = len(entries)
	}
	out := append([]model.AuditEntry(nil), entries[start:end]...)
	next := ""
	if end < len(entries) && len(out) > 0 {
		next = out[len(out)-1].ID
	}
	return out, next, nil
}

func (m *Memory) FeatureEnabled(ctx context.Context, tenantID, flag string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.flags[tenantID]; t != nil {
		if v, ok := t[flag]; ok {
			return v, nil
		}
	}
	return m.flagDefaults[flag], nil
}

func (m *Memory) SetFeatureFlag(ctx context.Context, tenantID, flag string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flags[tenantID] == nil {
		m.flags[tenantID] = map[string]bool{}
	}
	m.flags[tenantID][flag] = enabled
	return nil
}

func cursorIndex(ids []string, cursor string) int {
	if cursor == "" {
		return 0
	}
	for i, id := range ids {
		if id == cursor {
			return i + 1
		}
	}
	return 0
}
