package webhooks

import (
	"strings"
	"testing"
)

func TestClientTokenRoundTrip(t *testing.T) {
	token, hash, preview := NewClientToken()
	if !strings.HasPrefix(token, "ict_") {
		t.Fatalf("token prefix: %q", token)
	}
	if !VerifyClientToken(hash, token) {
		t.Fatalf("minted token should verify against its hash")
	}
	if VerifyClientToken(hash, "ict_wrong") {
		t.Fatalf("wrong token verified")
	}
	if !strings.HasSuffix(token, strings.TrimPrefix(preview, "…")) {
		t.Fatalf("preview %q should be the token tail", preview)
	}
	if strings.Contains(hash, token) {
		t.Fatalf("hash must not embed the clear token")
	}
}

func TestClientTokensAreUnique(t *testing.T) {
	a, _, _ := NewClientToken()
	b, _, _ := NewClientToken()
	if a == b {
		t.Fatalf("two minted tokens collided")
	}
}
