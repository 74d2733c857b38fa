package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"poshub/internal/model"
)

// Postgres persists webhook state via database/sql over the pgx driver.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// MigrateDir applies *.sql files in lexical order. Dev helper; production
// migrations run out of band.
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func toJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func fromJSONStrings(b []byte) []string {
	var out []string
	_ = json.Unmarshal(b, &out)
	return out
}

func (p *Postgres) UpsertEndpoint(ctx context.Context, ep model.WebhookEndpoint) (model.WebhookEndpoint, error) {
	now := time.Now().UTC()
	if ep.ID == "" {
		ep.ID = uuid.New().String()
		ep.CreatedAt = now
		ep.UpdatedAt = now
		_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_endpoints
			(id, tenant_id, branch_id, integration_client_id, name, url, event_types, enabled, secret, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			ep.ID, ep.TenantID, nullIfEmpty(ep.BranchID), nullIfEmpty(ep.IntegrationClientID), nullIfEmpty(ep.Name),
			ep.URL, toJSON(ep.EventTypes), ep.Enabled, ep.Secret, ep.CreatedAt, ep.UpdatedAt)
		return ep, err
	}
	ep.UpdatedAt = now
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_endpoints SET
			branch_id=$3, integration_client_id=$4, name=$5, url=$6, event_types=$7, enabled=$8,
			secret=COALESCE(NULLIF($9,''), secret), updated_at=$10
			WHERE id=$1 AND tenant_id=$2`,
		ep.ID, ep.TenantID, nullIfEmpty(ep.BranchID), nullIfEmpty(ep.IntegrationClientID), nullIfEmpty(ep.Name),
		ep.URL, toJSON(ep.EventTypes), ep.Enabled, ep.Secret, ep.UpdatedAt)
	if err != nil {
		return model.WebhookEndpoint{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.WebhookEndpoint{}, ErrNotFound
	}
	return p.GetEndpoint(ctx, ep.TenantID, ep.ID)
}

const endpointCols = `id, tenant_id, COALESCE(branch_id,''), COALESCE(integration_client_id,''), COALESCE(name,''), url, event_types, enabled, secret, created_at, updated_at`

func scanEndpoint(row interface{ Scan(...any) error }) (model.WebhookEndpoint, error) {
	var ep model.WebhookEndpoint
	var types []byte
	err := row.Scan(&ep.ID, &ep.TenantID, &ep.BranchID, &ep.IntegrationClientID, &ep.Name, &ep.URL, &types, &ep.Enabled, &ep.Secret, &ep.CreatedAt, &ep.UpdatedAt)
	if err != nil {
		return model.WebhookEndpoint{}, err
	}
	ep.EventTypes = fromJSONStrings(types)
	return ep, nil
}

func (p *Postgres) GetEndpoint(ctx context.Context, tenantID, id string) (model.WebhookEndpoint, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM webhook_endpoints WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookEndpoint{}, ErrNotFound
	}
	return ep, err
}

func (p *Postgres) ListEndpoints(ctx context.Context, tenantID, cursor string, limit int) ([]model.WebhookEndpoint, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+endpointCols+` FROM webhook_endpoints
		WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.WebhookEndpoint{}
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, ep)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) GetEndpointsForEvent(ctx context.Context, tenantID, eventType string) ([]model.WebhookEndpoint, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+endpointCols+` FROM webhook_endpoints
		WHERE tenant_id=$1 AND enabled AND event_types @> $2 ORDER BY created_at`, tenantID, toJSON([]string{eventType}))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WebhookEndpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

const deliveryCols = `id, tenant_id, COALESCE(branch_id,''), endpoint_id, event_type, idempotency_key, payload, signature, status, attempts, max_attempts, COALESCE(response_code,0), COALESCE(response_body,''), next_retry_at, created_at, updated_at`

func scanDelivery(row interface{ Scan(...any) error }) (model.WebhookDelivery, error) {
	var d model.WebhookDelivery
	var payload []byte
	var next sql.NullTime
	err := row.Scan(&d.ID, &d.TenantID, &d.BranchID, &d.EndpointID, &d.EventType, &d.IdempotencyKey, &payload, &d.Signature,
		&d.Status, &d.Attempts, &d.MaxAttempts, &d.ResponseCode, &d.ResponseBody, &next, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	if len(payload) > 0 {
		d.Payload = json.RawMessage(payload)
	}
	if next.Valid {
		t := next.Time
		d.NextRetryAt = &t
	}
	return d, nil
}

func (p *Postgres) CreateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	// unique (tenant_id, endpoint_id, idempotency_key) makes the create
	// idempotent under concurrent submissions
	_, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries
		(id, tenant_id, branch_id, endpoint_id, event_type, idempotency_key, payload, signature, status, attempts, max_attempts, next_retry_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (tenant_id, endpoint_id, idempotency_key) DO NOTHING`,
		d.ID, d.TenantID, nullIfEmpty(d.BranchID), d.EndpointID, d.EventType, d.IdempotencyKey,
		[]byte(d.Payload), d.Signature, d.Status, d.Attempts, d.MaxAttempts, d.NextRetryAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	return p.GetDeliveryByKey(ctx, d.TenantID, d.EndpointID, d.IdempotencyKey)
}

func (p *Postgres) UpdateDelivery(ctx context.Context, d model.WebhookDelivery) (model.WebhookDelivery, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET
		status=$3, attempts=$4, response_code=$5, response_body=$6, next_retry_at=$7, updated_at=$8
		WHERE id=$1 AND tenant_id=$2`,
		d.ID, d.TenantID, d.Status, d.Attempts, d.ResponseCode, d.ResponseBody, d.NextRetryAt, d.UpdatedAt)
	if err != nil {
		return model.WebhookDelivery{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return d, nil
}

func (p *Postgres) GetDelivery(ctx context.Context, tenantID, id string) (model.WebhookDelivery, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) GetDeliveryByKey(ctx context.Context, tenantID, endpointID, idempotencyKey string) (model.WebhookDelivery, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE tenant_id=$1 AND endpoint_id=$2 AND idempotency_key=$3`, tenantID, endpointID, idempotencyKey)
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WebhookDelivery{}, ErrNotFound
	}
	return d, err
}

func (p *Postgres) ListDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.WebhookDelivery, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = p.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
			WHERE tenant_id=$1 AND status=$2 AND id::text > $3 ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
			WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	}
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.WebhookDelivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, d)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) ListDueDeliveries(ctx context.Context, tenantID string, now time.Time) ([]model.WebhookDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+deliveryCols+` FROM webhook_deliveries
		WHERE tenant_id=$1 AND status=$2 AND next_retry_at IS NOT NULL AND next_retry_at <= $3 ORDER BY next_retry_at`,
		tenantID, model.DeliveryRetrying, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) ListTenantsWithDueDeliveries(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM webhook_deliveries
		WHERE status=$1 AND next_retry_at IS NOT NULL AND next_retry_at <= $2`, model.DeliveryRetrying, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const clientCols = `id, tenant_id, COALESCE(branch_id,''), name, token_hash, COALESCE(token_preview,''), allowed_event_types, enabled, kill_switch, created_at, updated_at`

func scanClient(row interface{ Scan(...any) error }) (model.IntegrationClient, error) {
	var c model.IntegrationClient
	var allowed []byte
	err := row.Scan(&c.ID, &c.TenantID, &c.BranchID, &c.Name, &c.TokenHash, &c.TokenPreview, &allowed, &c.Enabled, &c.KillSwitch, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return model.IntegrationClient{}, err
	}
	c.AllowedEventTypes = fromJSONStrings(allowed)
	return c, nil
}

func (p *Postgres) CreateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := p.db.ExecContext(ctx, `INSERT INTO integration_clients
		(id, tenant_id, branch_id, name, token_hash, token_preview, allowed_event_types, enabled, kill_switch, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.TenantID, nullIfEmpty(c.BranchID), c.Name, c.TokenHash, c.TokenPreview, toJSON(c.AllowedEventTypes), c.Enabled, c.KillSwitch, c.CreatedAt, c.UpdatedAt)
	return c, err
}

func (p *Postgres) GetIntegrationClient(ctx context.Context, tenantID, id string) (model.IntegrationClient, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+clientCols+` FROM integration_clients WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.IntegrationClient{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) UpdateIntegrationClient(ctx context.Context, c model.IntegrationClient) (model.IntegrationClient, error) {
	c.UpdatedAt = time.Now().UTC()
	res, err := p.db.ExecContext(ctx, `UPDATE integration_clients SET
		name=$3, token_hash=$4, token_preview=$5, allowed_event_types=$6, enabled=$7, kill_switch=$8, updated_at=$9
		WHERE id=$1 AND tenant_id=$2`,
		c.ID, c.TenantID, c.Name, c.TokenHash, c.TokenPreview, toJSON(c.AllowedEventTypes), c.Enabled, c.KillSwitch, c.UpdatedAt)
	if err != nil {
		return model.IntegrationClient{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.IntegrationClient{}, ErrNotFound
	}
	return c, nil
}

func (p *Postgres) ListIntegrationClients(ctx context.Context, tenantID, cursor string, limit int) ([]model.IntegrationClient, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+clientCols+` FROM integration_clients
		WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.IntegrationClient{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, "", err
		}
		out = append(out, c)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) AppendAudit(ctx context.Context, e model.AuditEntry) (model.AuditEntry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().UTC()
	_, err := p.db.ExecContext(ctx, `INSERT INTO audit_entries
		(id, tenant_id, branch_id, actor, endpoint, decision, reason, action_type, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TenantID, nullIfEmpty(e.BranchID), e.Actor, nullIfEmpty(e.Endpoint), e.Decision, nullIfEmpty(e.Reason), e.ActionType, e.CreatedAt)
	return e, err
}

func (p *Postgres) ListAudit(ctx context.Context, tenantID, cursor string, limit int) ([]model.AuditEntry, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id, tenant_id, COALESCE(branch_id,''), actor, COALESCE(endpoint,''), decision, COALESCE(reason,''), action_type, created_at
		FROM audit_entries WHERE tenant_id=$1 AND id::text > $2 ORDER BY id LIMIT $3`, tenantID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()
	out := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.TenantID, &e.BranchID, &e.Actor, &e.Endpoint, &e.Decision, &e.Reason, &e.ActionType, &e.CreatedAt); err != nil {
			return nil, "", err
		}
		out = append(out, e)
	}
	next := ""
	if len(out) == limit {
		next = out[len(out)-1].ID
	}
	return out, next, rows.Err()
}

func (p *Postgres) FeatureEnabled(ctx context.Context, tenantID, flag string) (bool, error) {
	var enabled bool
	err := p.db.QueryRowContext(ctx, `SELECT enabled FROM feature_flags WHERE tenant_id=$1 AND flag=$2`, tenantID, flag).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		// unset flags default to on for webhook_outbound
		return flag == "webhook_outbound", nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

func (p *Postgres) SetFeatureFlag(ctx context.Context, tenantID, flag string, enabled bool) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO feature_flags (tenant_id, flag, enabled, updated_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (tenant_id, flag) DO UPDATE SET enabled=EXCLUDED.enabled, updated_at=now()`,
		tenantID, flag, enabled)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
