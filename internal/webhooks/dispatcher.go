package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"poshub/internal/model"
	"poshub/internal/store"
)

// FlagWebhookOutbound gates all dispatch and retry activity per tenant.
const FlagWebhookOutbound = "webhook_outbound"

// Metric names emitted by the dispatcher, all tagged jobType=webhook_delivery.
const (
	MetricJobDuration  = "job_duration_ms"
	MetricJobRetries   = "job_retry_count"
	MetricJobFailures  = "job_failure_count"
	MetricRateLimited  = "webhook_rate_limited_count"
	MetricCircuitOpen  = "webhook_circuit_open_count"
	JobTypeWebhookSend = "webhook_delivery"
)

// Config carries the dispatch protocol constants. Tenant-independent,
// sourced from configuration.
type Config struct {
	LimitPerWindow   int
	WindowDuration   time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	MaxAttempts      int
	RetryDelay       time.Duration
}

// DefaultConfig returns the standard protocol constants.
func DefaultConfig() Config {
	return Config{
		LimitPerWindow:   5,
		WindowDuration:   time.Minute,
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		MaxAttempts:      3,
		RetryDelay:       30 * time.Second,
	}
}

// MetricsSink receives named measurements from the dispatch pipeline.
type MetricsSink interface {
	Record(name, unit string, value float64, tenantID, branchID string, tags map[string]string)
}

// EventPublisher receives delivery status transitions for live consumers.
// Optional; a nil publisher disables the feed.
type EventPublisher interface {
	PublishDelivery(tenantID string, d model.WebhookDelivery)
}

// DispatchInput is one event submission for a tenant.
type DispatchInput struct {
	TenantID        string
	BranchID        string
	EventType       string
	Payload         json.RawMessage
	IdempotencyKey  string
	SimulateFailure bool
	Actor           string
}

// Dispatcher sequences rate limiting, circuit breaking, endpoint
// resolution, idempotent delivery recording, signing and the simulated
// transport attempt. One instance serves all tenants; per-tenant
// read-modify-write sequences are serialized by per-tenant locks.
type Dispatcher struct {
	Store    store.Store
	Metrics  MetricsSink
	Events   EventPublisher
	Limiter  *RateLimiter
	Breakers *BreakerRegistry
	Resolver *Resolver

	cfg Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewDispatcher wires a dispatcher over the store with the given protocol
// constants.
func NewDispatcher(s store.Store, m MetricsSink, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.LimitPerWindow <= 0 {
		cfg.LimitPerWindow = def.LimitPerWindow
	}
	if cfg.WindowDuration <= 0 {
		cfg.WindowDuration = def.WindowDuration
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	return &Dispatcher{
		Store:    s,
		Metrics:  m,
		Limiter:  NewRateLimiter(cfg.LimitPerWindow, cfg.WindowDuration),
		Breakers: NewBreakerRegistry(cfg.FailureThreshold, cfg.Cooldown),
		Resolver: &Resolver{Store: s},
		cfg:      cfg,
		locks:    map[string]*sync.Mutex{},
	}
}

// lockTenant serializes dispatch and sweep work per tenant. Tenants are
// fully independent; no cross-tenant lock exists.
func (d *Dispatcher) lockTenant(tenantID string) func() {
	d.mu.Lock()
	l := d.locks[tenantID]
	if l == nil {
		l = &sync.Mutex{}
		d.locks[tenantID] = l
	}
	d.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// ValidIdempotencyKey reports whether key is a canonical UUID.
func ValidIdempotencyKey(key string) bool {
	if len(key) != 36 {
		return false
	}
	_, err := uuid.Parse(key)
	return err == nil
}

// ValidateEndpoint checks an upsert request's url and event types.
func ValidateEndpoint(rawURL string, eventTypes []string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return NewError(CodeInvalidWebhookURL, "url must be a valid https URL")
	}
	if len(eventTypes) == 0 {
		return NewError(CodeInvalidEventTypes, "eventTypes must not be empty")
	}
	for _, t := range eventTypes {
		if strings.TrimSpace(t) == "" {
			return NewError(CodeInvalidEventTypes, "eventTypes must not contain empty entries")
		}
	}
	return nil
}

// Dispatch submits one event for a tenant and fans it out to every
// resolved endpoint. Per-delivery outcomes are reported in the returned
// records, never as call errors; limiter and breaker rejections, by
// contrast, prevent any record from being created.
func (d *Dispatcher) Dispatch(ctx context.Context, in DispatchInput) ([]model.WebhookDelivery, error) {
	enabled, err := d.Store.FeatureEnabled(ctx, in.TenantID, FlagWebhookOutbound)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, NewError(CodeFeatureFlagDisabled, "webhook_outbound is disabled for tenant")
	}
	if !ValidIdempotencyKey(in.IdempotencyKey) {
		return nil, NewError(CodeInvalidIdempotencyKey, "idempotencyKey must be a UUID")
	}

	unlock := d.lockTenant(in.TenantID)
	defer unlock()

	if err := d.admit(ctx, in.TenantID, in.BranchID, in.Actor); err != nil {
		return nil, err
	}

	eps, err := d.Resolver.Resolve(ctx, in.TenantID, in.EventType)
	if err != nil {
		return nil, err
	}
	if len(eps) == 0 {
		// covers both "nothing subscribed" and "all matches kill-switched"
		return nil, NewError(CodeEndpointNotFound, "no eligible endpoint for event type "+in.EventType)
	}

	out := make([]model.WebhookDelivery, 0, len(eps))
	for _, ep := range eps {
		existing, err := d.Store.GetDeliveryByKey(ctx, in.TenantID, ep.ID, in.IdempotencyKey)
		if err == nil {
			// sender-side dedupe: same key is an observable no-op
			out = append(out, existing)
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		now := time.Now().UTC()
		del := model.WebhookDelivery{
			ID:             uuid.New().String(),
			TenantID:       in.TenantID,
			BranchID:       in.BranchID,
			EndpointID:     ep.ID,
			EventType:      in.EventType,
			IdempotencyKey: in.IdempotencyKey,
			Payload:        in.Payload,
			Status:         model.DeliveryPending,
			MaxAttempts:    d.cfg.MaxAttempts,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		del.Signature = SignHMAC(ep.Secret, CanonicalBody(del))
		del, err = d.Store.CreateDelivery(ctx, del)
		if err != nil {
			return nil, err
		}
		out = append(out, d.attempt(ctx, del, ep, in.SimulateFailure, true, in.Actor))
	}
	return out, nil
}

// RetryDue re-attempts the tenant's retrying deliveries whose scheduled
// retry time has elapsed. The limiter and breaker are consulted once for
// the whole sweep. Retry execution is caller-driven; nothing in this core
// fires on its own.
func (d *Dispatcher) RetryDue(ctx context.Context, tenantID, actor string) ([]model.WebhookDelivery, error) {
	enabled, err := d.Store.FeatureEnabled(ctx, tenantID, FlagWebhookOutbound)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, NewError(CodeFeatureFlagDisabled, "webhook_outbound is disabled for tenant")
	}

	unlock := d.lockTenant(tenantID)
	defer unlock()

	if err := d.admit(ctx, tenantID, "", actor); err != nil {
		return nil, err
	}

	due, err := d.Store.ListDueDeliveries(ctx, tenantID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	out := make([]model.WebhookDelivery, 0, len(due))
	for _, del := range due {
		ep, err := d.Store.GetEndpoint(ctx, tenantID, del.EndpointID)
		if errors.Is(err, store.ErrNotFound) {
			del.Status = model.DeliveryFailed
			del.ResponseCode = 404
			del.ResponseBody = "endpoint_not_found"
			del.NextRetryAt = nil
			del.UpdatedAt = time.Now().UTC()
			if upd, uerr := d.Store.UpdateDelivery(ctx, del); uerr != nil {
				log.Printf("webhook delivery %s: persist status %s: %v", del.ID, del.Status, uerr)
			} else {
				del = upd
			}
			d.Metrics.Record(MetricJobFailures, "count", 1, tenantID, del.BranchID, d.tags(del.Status))
			d.publish(del)
			out = append(out, del)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d.attempt(ctx, del, ep, false, false, actor))
	}
	return out, nil
}

// VerifyDelivery recomputes a stored delivery's signature against its
// endpoint secret. The secret itself is never exposed.
func (d *Dispatcher) VerifyDelivery(ctx context.Context, tenantID, deliveryID string) (bool, string, error) {
	del, err := d.Store.GetDelivery(ctx, tenantID, deliveryID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "", NewError(CodeDeliveryNotFound, "unknown delivery "+deliveryID)
	}
	if err != nil {
		return false, "", err
	}
	ep, err := d.Store.GetEndpoint(ctx, tenantID, del.EndpointID)
	if errors.Is(err, store.ErrNotFound) {
		return false, "", NewError(CodeEndpointNotFound, "endpoint missing for delivery")
	}
	if err != nil {
		return false, "", err
	}
	return VerifyHMAC(ep.Secret, CanonicalBody(del), del.Signature), SignatureAlgorithm, nil
}

// admit runs the tenant-scoped fail-fast gates. A rejection leaves no side
// effects beyond the denial audit entry and metric.
func (d *Dispatcher) admit(ctx context.Context, tenantID, branchID, actor string) error {
	if !d.Limiter.Admit(tenantID) {
		d.Metrics.Record(MetricRateLimited, "count", 1, tenantID, branchID, d.tags(""))
		d.audit(ctx, tenantID, branchID, actor, "", model.DecisionDeny, "rate limit exceeded", "webhook_dispatch")
		return NewError(CodeRateLimited, "tenant dispatch rate limit exceeded")
	}
	if !d.Breakers.Get(tenantID).Admit() {
		d.Metrics.Record(MetricCircuitOpen, "count", 1, tenantID, branchID, d.tags(""))
		d.audit(ctx, tenantID, branchID, actor, "", model.DecisionDeny, "circuit open", "webhook_dispatch")
		return NewError(CodeCircuitOpen, "tenant delivery circuit is open")
	}
	return nil
}

// attempt runs one delivery attempt: signature check (first attempts only),
// the simulated transport outcome, the status transition, and the
// metric/audit/breaker notifications. Applies to both first attempts and
// retries.
func (d *Dispatcher) attempt(ctx context.Context, del model.WebhookDelivery, ep model.WebhookEndpoint, simulate, verifySig bool, actor string) model.WebhookDelivery {
	start := time.Now()
	br := d.Breakers.Get(del.TenantID)

	if verifySig && !VerifyHMAC(ep.Secret, CanonicalBody(del), del.Signature) {
		// tamper or secret mismatch: terminal, never retried
		del.Status = model.DeliveryFailed
		del.ResponseCode = 498
		del.ResponseBody = "signature_verification_failed"
		del.NextRetryAt = nil
		d.audit(ctx, del.TenantID, del.BranchID, actor, ep.URL, model.DecisionDeny, "signature_verification_failed", "webhook_delivery")
		d.Metrics.Record(MetricJobFailures, "count", 1, del.TenantID, del.BranchID, d.tags(del.Status))
		br.Record(false)
	} else {
		del.Attempts++
		forced := simulate || strings.Contains(ep.URL, "fail")
		switch {
		case forced && del.Attempts < del.MaxAttempts:
			next := start.UTC().Add(d.cfg.RetryDelay)
			del.Status = model.DeliveryRetrying
			del.ResponseCode = 503
			del.ResponseBody = "simulated_failure"
			del.NextRetryAt = &next
			d.Metrics.Record(MetricJobRetries, "count", 1, del.TenantID, del.BranchID, d.tags(del.Status))
			br.Record(false)
		case forced:
			del.Status = model.DeliveryFailed
			del.ResponseCode = 503
			del.ResponseBody = "simulated_failure"
			del.NextRetryAt = nil
			d.Metrics.Record(MetricJobFailures, "count", 1, del.TenantID, del.BranchID, d.tags(del.Status))
			br.Record(false)
		default:
			del.Status = model.DeliveryDelivered
			del.ResponseCode = 200
			del.ResponseBody = "delivered"
			del.NextRetryAt = nil
			d.audit(ctx, del.TenantID, del.BranchID, actor, ep.URL, model.DecisionAllow, "delivered", "webhook_delivery")
			br.Record(true)
		}
	}

	del.UpdatedAt = time.Now().UTC()
	if upd, err := d.Store.UpdateDelivery(ctx, del); err != nil {
		log.Printf("webhook delivery %s: persist status %s: %v", del.ID, del.Status, err)
	} else {
		del = upd
	}
	d.Metrics.Record(MetricJobDuration, "ms", float64(time.Since(start).Milliseconds()), del.TenantID, del.BranchID, d.tags(del.Status))
	d.publish(del)
	return del
}

func (d *Dispatcher) tags(status string) map[string]string {
	t := map[string]string{"jobType": JobTypeWebhookSend}
	if status != "" {
		t["status"] = status
	}
	return t
}

func (d *Dispatcher) audit(ctx context.Context, tenantID, branchID, actor, endpoint, decision, reason, actionType string) {
	_, _ = d.Store.AppendAudit(ctx, model.AuditEntry{
		TenantID:   tenantID,
		BranchID:   branchID,
		Actor:      actor,
		Endpoint:   endpoint,
		Decision:   decision,
		Reason:     reason,
		ActionType: actionType,
	})
}

func (d *Dispatcher) publish(del model.WebhookDelivery) {
	if d.Events != nil {
		d.Events.PublishDelivery(del.TenantID, del)
	}
}
