package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"poshub/internal/model"
	"poshub/internal/store"
	"poshub/internal/webhooks"
)

func writeDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := webhooks.AsError(err); ok {
		writeProblem(w, e.Status, e.Code, e.Detail, r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "Internal error", err.Error(), r.URL.Path)
}

// writeStoreError maps store lookup failures onto the dispatch error taxonomy.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, kind string) {
	if errors.Is(err, store.ErrNotFound) {
		code := webhooks.CodeEndpointNotFound
		switch kind {
		case "Delivery":
			code = webhooks.CodeDeliveryNotFound
		case "Integration client":
			code = webhooks.CodeClientNotFound
		}
		writeProblem(w, http.StatusNotFound, code, strings.ToLower(kind)+" not found", r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, kind+" lookup failed", err.Error(), r.URL.Path)
}

// resolveTenant applies the tenant-scope rule: a body tenant must match the
// principal's tenant.
func resolveTenant(p Principal, bodyTenant string) (string, error) {
	if bodyTenant != "" && bodyTenant != p.Tenant {
		return "", webhooks.NewError(webhooks.CodeForbiddenTenantScope, "tenant scope mismatch")
	}
	return p.Tenant, nil
}

func queryLimit(r *http.Request) int {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	return limit
}

func newEndpointSecret() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return "whsec_" + hex.EncodeToString(buf)
}

// EndpointsHandler handles POST/GET /v1/webhooks/endpoints
func (s *Server) EndpointsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanManage() {
			writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
			return
		}
		var req model.EndpointUpsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		tenant, err := resolveTenant(p, req.TenantID)
		if err != nil {
			writeDispatchError(w, r, err)
			return
		}
		if err := webhooks.ValidateEndpoint(req.URL, req.EventTypes); err != nil {
			writeDispatchError(w, r, err)
			return
		}
		if req.IntegrationClientID != "" {
			c, err := s.Store.GetIntegrationClient(r.Context(), tenant, req.IntegrationClientID)
			if errors.Is(err, store.ErrNotFound) {
				writeDispatchError(w, r, webhooks.NewError(webhooks.CodeClientNotFound, "unknown integration client "+req.IntegrationClientID))
				return
			}
			if err != nil {
				writeProblem(w, 500, "Integration client lookup failed", err.Error(), r.URL.Path)
				return
			}
			if c.KillSwitch {
				writeDispatchError(w, r, webhooks.NewError(webhooks.CodeClientKillSwitch, "integration client kill switch is active"))
				return
			}
		}
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}
		secret := req.Secret
		created := req.ID == ""
		if created && secret == "" {
			secret = newEndpointSecret()
		}
		ep, err := s.Store.UpsertEndpoint(r.Context(), model.WebhookEndpoint{
			ID:                  req.ID,
			TenantID:            tenant,
			BranchID:            req.BranchID,
			IntegrationClientID: req.IntegrationClientID,
			Name:                req.Name,
			URL:                 req.URL,
			EventTypes:          req.EventTypes,
			Enabled:             enabled,
			Secret:              secret,
		})
		if err != nil {
			writeStoreError(w, r, err, "Endpoint")
			return
		}
		s.auditControlPlane(r, p, ep.URL, "webhook_endpoint_upsert")
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		} else {
			ep.Secret = "" // secret is only echoed on create
		}
		writeJSON(w, status, ep)
	case http.MethodGet:
		items, next, err := s.Store.ListEndpoints(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, 500, "List endpoints failed", err.Error(), r.URL.Path)
			return
		}
		for i := range items {
			items[i].Secret = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// EndpointByIDHandler handles GET /v1/webhooks/endpoints/{id}
func (s *Server) EndpointByIDHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/endpoints/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	ep, err := s.Store.GetEndpoint(r.Context(), p.Tenant, id)
	if err != nil {
		writeStoreError(w, r, err, "Endpoint")
		return
	}
	ep.Secret = ""
	writeJSON(w, http.StatusOK, ep)
}

// DispatchHandler handles POST /v1/webhooks/dispatch
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	var req model.DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	tenant, err := resolveTenant(p, req.TenantID)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	if err := validateDispatchRequest(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid dispatch request", err.Error(), r.URL.Path)
		return
	}
	branch := req.BranchID
	if branch == "" {
		branch = p.Branch
	}
	deliveries, err := s.Dispatcher.Dispatch(r.Context(), webhooks.DispatchInput{
		TenantID:        tenant,
		BranchID:        branch,
		EventType:       req.EventType,
		Payload:         req.Payload,
		IdempotencyKey:  req.IdempotencyKey,
		SimulateFailure: req.SimulateFailure,
		Actor:           p.Role,
	})
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	// accepted: per-delivery failures are reported in the list, not here
	writeJSON(w, http.StatusAccepted, map[string]any{"deliveries": deliveries})
}

// RetrySweepHandler handles POST /v1/webhooks/retries/sweep
func (s *Server) RetrySweepHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	deliveries, err := s.Dispatcher.RetryDue(r.Context(), p.Tenant, p.Role)
	if err != nil {
		writeDispatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

// DeliveriesHandler handles GET /v1/webhooks/deliveries
func (s *Server) DeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	items, next, err := s.Store.ListDeliveries(r.Context(), p.Tenant, r.URL.Query().Get("status"), r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// DeliveryByIDHandler handles GET /v1/webhooks/deliveries/{id} and
// POST /v1/webhooks/deliveries/{id}/verify
func (s *Server) DeliveryByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/webhooks/deliveries/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) > 1 && parts[1] == "verify" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		valid, algo, err := s.Dispatcher.VerifyDelivery(r.Context(), p.Tenant, id)
		if err != nil {
			writeDispatchError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": valid, "algorithm": algo})
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	d, err := s.Store.GetDelivery(r.Context(), p.Tenant, id)
	if err != nil {
		writeStoreError(w, r, err, "Delivery")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ClientsHandler handles POST/GET /v1/integration-clients
func (s *Server) ClientsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	switch r.Method {
	case http.MethodPost:
		if !p.CanManage() {
			writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
			return
		}
		var req model.ClientCreateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		tenant, err := resolveTenant(p, req.TenantID)
		if err != nil {
			writeDispatchError(w, r, err)
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeProblem(w, http.StatusBadRequest, "Missing name", "", r.URL.Path)
			return
		}
		token, hash, preview := webhooks.NewClientToken()
		c, err := s.Store.CreateIntegrationClient(r.Context(), model.IntegrationClient{
			TenantID:          tenant,
			BranchID:          req.BranchID,
			Name:              req.Name,
			TokenHash:         hash,
			TokenPreview:      preview,
			AllowedEventTypes: req.AllowedEventTypes,
			Enabled:           true,
		})
		if err != nil {
			writeProblem(w, 500, "Create client failed", err.Error(), r.URL.Path)
			return
		}
		s.auditControlPlane(r, p, c.Name, "integration_client_create")
		writeJSON(w, http.StatusCreated, model.ClientCreated{Client: c, Token: token})
	case http.MethodGet:
		items, next, err := s.Store.ListIntegrationClients(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
		if err != nil {
			writeProblem(w, 500, "List clients failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ClientByIDHandler handles POST /v1/integration-clients/{id}/rotate,
// /{id}/kill-switch and /{id}/verify-token, plus GET /{id}.
func (s *Server) ClientByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/integration-clients/")
	if rest == r.URL.Path || rest == "" {
		writeProblem(w, 404, "Not Found", "missing id", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	parts := strings.Split(rest, "/")
	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	c, err := s.Store.GetIntegrationClient(r.Context(), p.Tenant, id)
	if err != nil {
		writeStoreError(w, r, err, "Integration client")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, c)
	case action == "rotate" && r.Method == http.MethodPost:
		if !p.CanManage() {
			writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
			return
		}
		token, hash, preview := webhooks.NewClientToken()
		c.TokenHash = hash
		c.TokenPreview = preview
		c, err = s.Store.UpdateIntegrationClient(r.Context(), c)
		if err != nil {
			writeProblem(w, 500, "Rotate failed", err.Error(), r.URL.Path)
			return
		}
		s.auditControlPlane(r, p, c.Name, "integration_client_rotate")
		writeJSON(w, http.StatusOK, model.ClientCreated{Client: c, Token: token})
	case action == "kill-switch" && r.Method == http.MethodPost:
		if !p.CanManage() {
			writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
			return
		}
		var req struct {
			Active bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		c.KillSwitch = req.Active
		c, err = s.Store.UpdateIntegrationClient(r.Context(), c)
		if err != nil {
			writeProblem(w, 500, "Kill switch update failed", err.Error(), r.URL.Path)
			return
		}
		s.auditControlPlane(r, p, c.Name, "integration_client_kill_switch")
		writeJSON(w, http.StatusOK, c)
	case action == "verify-token" && r.Method == http.MethodPost:
		var req struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": webhooks.VerifyClientToken(c.TokenHash, req.Token)})
	default:
		writeProblem(w, 404, "Not Found", "", r.URL.Path)
	}
}

// FlagsHandler handles GET/PUT /v1/admin/flags
func (s *Server) FlagsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.CanManage() {
		writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		flag := r.URL.Query().Get("flag")
		if flag == "" {
			flag = webhooks.FlagWebhookOutbound
		}
		enabled, err := s.Store.FeatureEnabled(r.Context(), p.Tenant, flag)
		if err != nil {
			writeProblem(w, 500, "Flag lookup failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"flag": flag, "enabled": enabled})
	case http.MethodPut:
		var req struct {
			Flag    string `json:"flag"`
			Enabled bool   `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if req.Flag == "" {
			writeProblem(w, http.StatusBadRequest, "Missing flag", "", r.URL.Path)
			return
		}
		if err := s.Store.SetFeatureFlag(r.Context(), p.Tenant, req.Flag, req.Enabled); err != nil {
			writeProblem(w, 500, "Flag update failed", err.Error(), r.URL.Path)
			return
		}
		s.auditControlPlane(r, p, req.Flag, "feature_flag_update")
		writeJSON(w, http.StatusOK, map[string]any{"flag": req.Flag, "enabled": req.Enabled})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// AuditHandler handles GET /v1/admin/audit
func (s *Server) AuditHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanManage() {
		writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
		return
	}
	items, next, err := s.Store.ListAudit(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
	if err != nil {
		writeProblem(w, 500, "List audit failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// BreakersHandler handles GET /v1/admin/breakers (ops visibility)
func (s *Server) BreakersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanManage() {
		writeProblem(w, 403, webhooks.CodeForbiddenTenantScope, "owner or manager required", r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakers": s.Dispatcher.Breakers.States()})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) auditControlPlane(r *http.Request, p Principal, endpoint, actionType string) {
	_, _ = s.Store.AppendAudit(r.Context(), model.AuditEntry{
		TenantID:   p.Tenant,
		BranchID:   p.Branch,
		Actor:      p.Role,
		Endpoint:   endpoint,
		Decision:   model.DecisionAllow,
		ActionType: actionType,
	})
}
