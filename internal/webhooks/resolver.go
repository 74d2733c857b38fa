package webhooks

import (
	"context"
	"errors"

	"poshub/internal/model"
	"poshub/internal/store"
)

// Resolver selects the endpoints an event fans out to, applying
// integration-client gating on top of the store's subscription match.
type Resolver struct {
	Store store.Store
}

// Resolve returns the enabled endpoints of the tenant subscribed to
// eventType whose integration client (if any) exists, is enabled, is not
// kill-switched, and admits the event type. Endpoints failing a
// control-plane condition are silently excluded.
func (r *Resolver) Resolve(ctx context.Context, tenantID, eventType string) ([]model.WebhookEndpoint, error) {
	eps, err := r.Store.GetEndpointsForEvent(ctx, tenantID, eventType)
	if err != nil {
		return nil, err
	}
	out := make([]model.WebhookEndpoint, 0, len(eps))
	for _, ep := range eps {
		if ep.IntegrationClientID != "" {
			c, err := r.Store.GetIntegrationClient(ctx, tenantID, ep.IntegrationClientID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if !c.Enabled || c.KillSwitch || !c.AllowsEvent(eventType) {
				continue
			}
		}
		out = append(out, ep)
	}
	return out, nil
}
