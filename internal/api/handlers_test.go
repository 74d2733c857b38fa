package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"poshub/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer()
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func jsonReq(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func createEndpoint(t *testing.T, s *Server, url string, events ...string) model.WebhookEndpoint {
	t.Helper()
	rr := httptest.NewRecorder()
	s.EndpointsHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": url, "eventTypes": events,
	}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("endpoint create: got %d: %s", rr.Code, rr.Body.String())
	}
	var ep model.WebhookEndpoint
	if err := json.NewDecoder(rr.Body).Decode(&ep); err != nil {
		t.Fatalf("decode endpoint: %v", err)
	}
	return ep
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestEndpointCreateAndList(t *testing.T) {
	s := newTestServer(t)
	ep := createEndpoint(t, s, "https://hooks.example.com/orders", "order.created")
	if ep.ID == "" || ep.Secret == "" {
		t.Fatalf("create should mint an id and echo the secret once: %+v", ep)
	}

	// list redacts secrets
	rr := httptest.NewRecorder()
	s.EndpointsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/webhooks/endpoints?limit=5", nil))
	if rr.Code != 200 {
		t.Fatalf("list: got %d", rr.Code)
	}
	var list struct {
		Items []model.WebhookEndpoint `json:"items"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Items) != 1 || list.Items[0].Secret != "" {
		t.Fatalf("list should hold one redacted endpoint: %+v", list.Items)
	}

	// get by id
	rr = httptest.NewRecorder()
	s.EndpointByIDHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/webhooks/endpoints/"+ep.ID, nil))
	if rr.Code != 200 {
		t.Fatalf("get: got %d", rr.Code)
	}
}

func TestEndpointValidation(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.EndpointsHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": "http://insecure.example.com", "eventTypes": []string{"order.created"},
	}))
	if rr.Code != 400 {
		t.Fatalf("http url: got %d", rr.Code)
	}
	var p Problem
	_ = json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "INVALID_WEBHOOK_URL" {
		t.Fatalf("title: got %q", p.Title)
	}

	rr = httptest.NewRecorder()
	s.EndpointsHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": "https://hooks.example.com", "eventTypes": []string{},
	}))
	var p2 Problem
	_ = json.NewDecoder(rr.Body).Decode(&p2)
	if rr.Code != 400 || p2.Title != "INVALID_WEBHOOK_EVENT_TYPES" {
		t.Fatalf("empty event types: got %d %q", rr.Code, p2.Title)
	}
}

func TestEndpointCreateRBAC(t *testing.T) {
	s := newTestServer(t)
	req := jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": "https://hooks.example.com/a", "eventTypes": []string{"order.created"},
	})
	req.Header.Set("X-Role", "cashier")
	rr := httptest.NewRecorder()
	s.EndpointsHandler(rr, req)
	if rr.Code != 403 {
		t.Fatalf("cashier create: got %d", rr.Code)
	}
}

func TestTenantScopeMismatch(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DispatchHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/dispatch", map[string]any{
		"tenantId": "t_other", "eventType": "order.created", "idempotencyKey": uuid.NewString(),
	}))
	if rr.Code != 403 {
		t.Fatalf("mismatched tenant: got %d", rr.Code)
	}
	var p Problem
	_ = json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "FORBIDDEN_TENANT_SCOPE" {
		t.Fatalf("title: got %q", p.Title)
	}
}

func TestDispatchFlow(t *testing.T) {
	s := newTestServer(t)
	createEndpoint(t, s, "https://hooks.example.com/orders", "order.created")

	key := uuid.NewString()
	dispatch := func() (int, []model.WebhookDelivery) {
		rr := httptest.NewRecorder()
		s.DispatchHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/dispatch", map[string]any{
			"eventType":      "order.created",
			"payload":        map[string]any{"orderId": "o_1001"},
			"idempotencyKey": key,
		}))
		var out struct {
			Deliveries []model.WebhookDelivery `json:"deliveries"`
		}
		_ = json.NewDecoder(rr.Body).Decode(&out)
		return rr.Code, out.Deliveries
	}

	code, dels := dispatch()
	if code != http.StatusAccepted || len(dels) != 1 {
		t.Fatalf("dispatch: code=%d n=%d", code, len(dels))
	}
	if dels[0].Status != model.DeliveryDelivered {
		t.Fatalf("status: %s", dels[0].Status)
	}

	// same key is a dedupe no-op
	code, again := dispatch()
	if code != http.StatusAccepted || len(again) != 1 || again[0].ID != dels[0].ID {
		t.Fatalf("replay: code=%d %+v", code, again)
	}

	// delivery listing and verification
	rr := httptest.NewRecorder()
	s.DeliveriesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/webhooks/deliveries", nil))
	if rr.Code != 200 {
		t.Fatalf("deliveries list: got %d", rr.Code)
	}
	var list struct {
		Items []model.WebhookDelivery `json:"items"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&list)
	if len(list.Items) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(list.Items))
	}

	rr = httptest.NewRecorder()
	s.DeliveryByIDHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/deliveries/"+dels[0].ID+"/verify", nil))
	if rr.Code != 200 {
		t.Fatalf("verify: got %d: %s", rr.Code, rr.Body.String())
	}
	var verdict struct {
		Valid     bool   `json:"valid"`
		Algorithm string `json:"algorithm"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&verdict)
	if !verdict.Valid || verdict.Algorithm != "HMAC-SHA256" {
		t.Fatalf("verdict: %+v", verdict)
	}
}

func TestDispatchInvalidEventType(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.DispatchHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/dispatch", map[string]any{
		"eventType": "OrderCreated", "idempotencyKey": uuid.NewString(),
	}))
	if rr.Code != 400 {
		t.Fatalf("invalid event type: got %d", rr.Code)
	}
}

func TestDispatchUnknownEventType(t *testing.T) {
	s := newTestServer(t)
	createEndpoint(t, s, "https://hooks.example.com/orders", "order.created")
	rr := httptest.NewRecorder()
	s.DispatchHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/dispatch", map[string]any{
		"eventType": "refund.created", "idempotencyKey": uuid.NewString(),
	}))
	if rr.Code != 404 {
		t.Fatalf("no subscriber: got %d", rr.Code)
	}
	var p Problem
	_ = json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "WEBHOOK_ENDPOINT_NOT_FOUND" {
		t.Fatalf("title: got %q", p.Title)
	}
}

func TestFlagsGateDispatch(t *testing.T) {
	s := newTestServer(t)
	createEndpoint(t, s, "https://hooks.example.com/orders", "order.created")

	rr := httptest.NewRecorder()
	s.FlagsHandler(rr, jsonReq(t, http.MethodPut, "/v1/admin/flags", map[string]any{
		"flag": "webhook_outbound", "enabled": false,
	}))
	if rr.Code != 200 {
		t.Fatalf("flag update: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.DispatchHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/dispatch", map[string]any{
		"eventType": "order.created", "idempotencyKey": uuid.NewString(),
	}))
	if rr.Code != 409 {
		t.Fatalf("disabled flag dispatch: got %d", rr.Code)
	}
	var p Problem
	_ = json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "FEATURE_FLAG_DISABLED" {
		t.Fatalf("title: got %q", p.Title)
	}

	rr = httptest.NewRecorder()
	s.FlagsHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/flags?flag=webhook_outbound", nil))
	var flag struct {
		Enabled bool `json:"enabled"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&flag)
	if rr.Code != 200 || flag.Enabled {
		t.Fatalf("flag get: code=%d enabled=%v", rr.Code, flag.Enabled)
	}
}

func TestIntegrationClientLifecycle(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.ClientsHandler(rr, jsonReq(t, http.MethodPost, "/v1/integration-clients", map[string]any{
		"name": "acme-erp", "allowedEventTypes": []string{"order.created"},
	}))
	if rr.Code != http.StatusCreated {
		t.Fatalf("client create: got %d: %s", rr.Code, rr.Body.String())
	}
	var created model.ClientCreated
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Token == "" || created.Client.ID == "" {
		t.Fatalf("create must return id and one-time token: %+v", created)
	}

	base := "/v1/integration-clients/" + created.Client.ID

	// the minted token verifies; a wrong one does not
	verify := func(token string) bool {
		rr := httptest.NewRecorder()
		s.ClientByIDHandler(rr, jsonReq(t, http.MethodPost, base+"/verify-token", map[string]any{"token": token}))
		if rr.Code != 200 {
			t.Fatalf("verify-token: got %d", rr.Code)
		}
		var out struct {
			Valid bool `json:"valid"`
		}
		_ = json.NewDecoder(rr.Body).Decode(&out)
		return out.Valid
	}
	if !verify(created.Token) {
		t.Fatalf("minted token should verify")
	}
	if verify("ict_bogus") {
		t.Fatalf("bogus token verified")
	}

	// rotation invalidates the old token
	rr = httptest.NewRecorder()
	s.ClientByIDHandler(rr, jsonReq(t, http.MethodPost, base+"/rotate", nil))
	if rr.Code != 200 {
		t.Fatalf("rotate: got %d", rr.Code)
	}
	var rotated model.ClientCreated
	_ = json.NewDecoder(rr.Body).Decode(&rotated)
	if rotated.Token == created.Token {
		t.Fatalf("rotate should mint a new token")
	}
	if verify(created.Token) {
		t.Fatalf("old token should no longer verify")
	}
	if !verify(rotated.Token) {
		t.Fatalf("rotated token should verify")
	}

	// kill switch
	rr = httptest.NewRecorder()
	s.ClientByIDHandler(rr, jsonReq(t, http.MethodPost, base+"/kill-switch", map[string]any{"active": true}))
	if rr.Code != 200 {
		t.Fatalf("kill-switch: got %d", rr.Code)
	}
	var c model.IntegrationClient
	_ = json.NewDecoder(rr.Body).Decode(&c)
	if !c.KillSwitch {
		t.Fatalf("kill switch not set: %+v", c)
	}
}

func TestEndpointBindingChecksClient(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.EndpointsHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": "https://hooks.example.com/a", "eventTypes": []string{"order.created"},
		"integrationClientId": "ic_missing",
	}))
	if rr.Code != 404 {
		t.Fatalf("unknown client: got %d", rr.Code)
	}
	var p Problem
	_ = json.NewDecoder(rr.Body).Decode(&p)
	if p.Title != "INTEGRATION_CLIENT_NOT_FOUND" {
		t.Fatalf("title: got %q", p.Title)
	}

	// create a client and trip its kill switch
	rr = httptest.NewRecorder()
	s.ClientsHandler(rr, jsonReq(t, http.MethodPost, "/v1/integration-clients", map[string]any{"name": "acme"}))
	var created model.ClientCreated
	_ = json.NewDecoder(rr.Body).Decode(&created)
	rr = httptest.NewRecorder()
	s.ClientByIDHandler(rr, jsonReq(t, http.MethodPost, "/v1/integration-clients/"+created.Client.ID+"/kill-switch", map[string]any{"active": true}))
	if rr.Code != 200 {
		t.Fatalf("kill-switch: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.EndpointsHandler(rr, jsonReq(t, http.MethodPost, "/v1/webhooks/endpoints", map[string]any{
		"url": "https://hooks.example.com/a", "eventTypes": []string{"order.created"},
		"integrationClientId": created.Client.ID,
	}))
	if rr.Code != 409 {
		t.Fatalf("kill-switched client: got %d", rr.Code)
	}
	var p2 Problem
	_ = json.NewDecoder(rr.Body).Decode(&p2)
	if p2.Title != "INTEGRATION_CLIENT_KILL_SWITCH_ACTIVE" {
		t.Fatalf("title: got %q", p2.Title)
	}
}

func TestAuditTrailRecordsControlPlane(t *testing.T) {
	s := newTestServer(t)
	createEndpoint(t, s, "https://hooks.example.com/orders", "order.created")

	rr := httptest.NewRecorder()
	s.AuditHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/audit", nil))
	if rr.Code != 200 {
		t.Fatalf("audit list: got %d", rr.Code)
	}
	var out struct {
		Items []model.AuditEntry `json:"items"`
	}
	_ = json.NewDecoder(rr.Body).Decode(&out)
	if len(out.Items) == 0 || out.Items[0].ActionType != "webhook_endpoint_upsert" {
		t.Fatalf("expected the upsert audit entry, got %+v", out.Items)
	}
}

func TestBreakersAdminView(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.BreakersHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/admin/breakers", nil))
	if rr.Code != 200 {
		t.Fatalf("breakers: got %d", rr.Code)
	}
}
