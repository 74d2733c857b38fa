package api

import (
	"sync"

	"poshub/internal/model"
)

// DeliveryEvent is one delivery status transition pushed to live consumers.
type DeliveryEvent struct {
	Type     string                `json:"type"`
	Delivery model.WebhookDelivery `json:"delivery"`
}

// EventBroker fans delivery events out to subscribers, keyed by tenant.
type EventBroker interface {
	Subscribe(tenantID string) chan DeliveryEvent
	Unsubscribe(tenantID string, ch chan DeliveryEvent)
	Publish(tenantID string, evt DeliveryEvent)
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan DeliveryEvent]struct{} // tenantId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(tenantID string) chan DeliveryEvent {
	ch := make(chan DeliveryEvent, 8)
	b.mu.Lock()
	if b.subs[tenantID] == nil {
		b.subs[tenantID] = map[chan DeliveryEvent]struct{}{}
	}
	b.subs[tenantID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(tenantID string, ch chan DeliveryEvent) {
	b.mu.Lock()
	if m := b.subs[tenantID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, tenantID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(tenantID string, evt DeliveryEvent) {
	b.mu.Lock()
	m := b.subs[tenantID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}

// brokerPublisher adapts an EventBroker to the dispatcher's publisher hook.
type brokerPublisher struct {
	b EventBroker
}

func (p brokerPublisher) PublishDelivery(tenantID string, d model.WebhookDelivery) {
	p.b.Publish(tenantID, DeliveryEvent{Type: "delivery.updated", Delivery: d})
}
