package webhooks

import (
	"encoding/json"
	"testing"

	"poshub/internal/model"
)

func TestCanonicalBodyFieldOrder(t *testing.T) {
	d := model.WebhookDelivery{
		TenantID:       "t1",
		BranchID:       "b1",
		EventType:      "order.created",
		Payload:        json.RawMessage(`{"orderId":"o1"}`),
		IdempotencyKey: "k1",
	}
	got := string(CanonicalBody(d))
	want := `{"tenantId":"t1","branchId":"b1","eventType":"order.created","payload":{"orderId":"o1"},"idempotencyKey":"k1"}`
	if got != want {
		t.Fatalf("canonical body mismatch:\n got %s\nwant %s", got, want)
	}
	// stable across calls
	if again := string(CanonicalBody(d)); again != got {
		t.Fatalf("canonical body not deterministic: %s vs %s", got, again)
	}
}

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"tenantId":"t1"}`)
	sig := SignHMAC("secret-1", body)
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d: %q", len(sig), sig)
	}
	if !VerifyHMAC("secret-1", body, sig) {
		t.Fatalf("signature should verify with correct secret")
	}
	if VerifyHMAC("secret-2", body, sig) {
		t.Fatalf("signature verified with wrong secret")
	}
	if VerifyHMAC("secret-1", []byte(`{"tenantId":"t2"}`), sig) {
		t.Fatalf("signature verified over tampered body")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	body := []byte(`{}`)
	if VerifyHMAC("s", body, "not-hex") {
		t.Fatalf("non-hex signature accepted")
	}
	if VerifyHMAC("s", body, "") {
		t.Fatalf("empty signature accepted")
	}
}
