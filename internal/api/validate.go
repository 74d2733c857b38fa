package api

import (
	"fmt"
	"regexp"

	"poshub/internal/model"
)

// eventTypePattern matches dotted lowercase identifiers like "order.created".
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)

const maxPayloadBytes = 256 << 10

func validateDispatchRequest(req *model.DispatchRequest) error {
	if req.EventType == "" {
		return fmt.Errorf("eventType is required")
	}
	if !eventTypePattern.MatchString(req.EventType) {
		return fmt.Errorf("invalid eventType: %s (expected dotted lowercase, e.g. order.created)", req.EventType)
	}
	if len(req.Payload) > maxPayloadBytes {
		return fmt.Errorf("payload exceeds %d bytes", maxPayloadBytes)
	}
	return nil
}
