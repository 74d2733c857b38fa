package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"poshub/internal/model"
)

// SignatureAlgorithm names the scheme used for delivery signatures.
const SignatureAlgorithm = "HMAC-SHA256"

// canonicalBody fixes the field order of the signed representation.
type canonicalBody struct {
	TenantID       string          `json:"tenantId"`
	BranchID       string          `json:"branchId"`
	EventType      string          `json:"eventType"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotencyKey"`
}

// CanonicalBody returns the JSON bytes a delivery's signature is computed over.
func CanonicalBody(d model.WebhookDelivery) []byte {
	b, _ := json.Marshal(canonicalBody{
		TenantID:       d.TenantID,
		BranchID:       d.BranchID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		IdempotencyKey: d.IdempotencyKey,
	})
	return b
}

// SignHMAC returns lowercase hex of HMAC-SHA256 over body.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// VerifyHMAC checks an HMAC-SHA256 signature over body using the shared
// secret. Comparison is constant time.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}
