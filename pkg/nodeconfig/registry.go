package nodeconfig

import (
	"fmt"
	"sort"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// DefaultSchemas is the seeded IntegrationSchema set required by §3: every
// vendor an effective config's `integrations.<id>` block may name. Unknown
// fields on a write are retained, never rejected, and no warning is emitted
// for them; Validate only enforces the `required` set.
var DefaultSchemas = []db.IntegrationSchema{
	{ID: "slack", Name: "Slack", Category: "chatops", Fields: []db.IntegrationField{
		{Name: "bot_token", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "signing_secret", Type: db.FieldSecret, Required: false, Level: "org"},
	}},
	{ID: "github", Name: "GitHub", Category: "scm", Fields: []db.IntegrationField{
		{Name: "token", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "webhook_secret", Type: db.FieldSecret, Required: false, Level: "org"},
	}},
	{ID: "pagerduty", Name: "PagerDuty", Category: "paging", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "webhook_secret", Type: db.FieldSecret, Required: false, Level: "org"},
	}},
	{ID: "incidentio", Name: "Incident.io", Category: "paging", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "webhook_secret", Type: db.FieldSecret, Required: false, Level: "org"},
	}},
	{ID: "grafana", Name: "Grafana/Prometheus", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "datadog", Name: "Datadog", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "app_key", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "site", Type: db.FieldString, Required: false, Level: "team", Default: "datadoghq.com"},
	}},
	{ID: "loki", Name: "Loki", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "auth", Type: db.FieldSecret, Required: false, Level: "team"},
		{Name: "org_id", Type: db.FieldString, Required: false, Level: "team"},
	}},
	{ID: "elasticsearch", Name: "Elasticsearch", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "splunk", Name: "Splunk", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "token", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "coralogix", Name: "Coralogix", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "domain", Type: db.FieldString, Required: true, Level: "team"},
	}},
	{ID: "victorialogs", Name: "VictoriaLogs", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
	}},
	{ID: "jaeger", Name: "Jaeger", Category: "observability", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
	}},
	{ID: "snowflake", Name: "Snowflake", Category: "data", Fields: []db.IntegrationField{
		{Name: "account", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "username", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "password", Type: db.FieldSecret, Required: true, Level: "team"},
		{Name: "warehouse", Type: db.FieldString, Required: true, Level: "team"},
	}},
	{ID: "bigquery", Name: "BigQuery", Category: "data", Fields: []db.IntegrationField{
		{Name: "project_id", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "credential", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "postgresql", Name: "PostgreSQL", Category: "data", Fields: []db.IntegrationField{
		{Name: "host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "password", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "confluence", Name: "Confluence", Category: "knowledge", Fields: []db.IntegrationField{
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "team"},
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "recall", Name: "Recall meeting transcription", Category: "meetings", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "team"},
	}},
	{ID: "openai", Name: "OpenAI", Category: "llm", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "org"},
	}},
	{ID: "anthropic", Name: "Anthropic", Category: "llm", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "org"},
	}},
	{ID: "gemini", Name: "Gemini", Category: "llm", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "org"},
	}},
	{ID: "openrouter", Name: "OpenRouter", Category: "llm", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "org"},
	}},
	{ID: "bedrock", Name: "AWS Bedrock", Category: "llm", Fields: []db.IntegrationField{
		{Name: "access_key", Type: db.FieldSecret, Required: true, Level: "org"},
		{Name: "secret_key", Type: db.FieldSecret, Required: true, Level: "org"},
		{Name: "region", Type: db.FieldString, Required: true, Level: "org"},
	}},
	{ID: "azure_ai", Name: "Azure AI", Category: "llm", Fields: []db.IntegrationField{
		{Name: "api_key", Type: db.FieldSecret, Required: true, Level: "org"},
		{Name: "api_host", Type: db.FieldString, Required: true, Level: "org"},
	}},
}

// Registry implements C4: schema validation and encrypted read/write access
// to `integrations.<id>` blocks of an effective (or node-local) config.
type Registry struct {
	schemas map[string]db.IntegrationSchema
	box     *crypto.Box
}

// NewRegistry builds a Registry from schemas (normally DefaultSchemas) and
// a crypto.Box for secret-field encryption.
func NewRegistry(schemas []db.IntegrationSchema, box *crypto.Box) *Registry {
	byID := make(map[string]db.IntegrationSchema, len(schemas))
	for _, s := range schemas {
		byID[s.ID] = s
	}
	return &Registry{schemas: byID, box: box}
}

// Schema looks up a registered IntegrationSchema by id.
func (r *Registry) Schema(id string) (db.IntegrationSchema, bool) {
	s, ok := r.schemas[id]
	return s, ok
}

// List returns every registered schema, sorted by ID for deterministic
// output in the admin listing endpoint.
func (r *Registry) List() []db.IntegrationSchema {
	out := make([]db.IntegrationSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Validate checks a candidate integrations.<id> block against the
// registered schema's required fields. Unknown fields are retained, never
// rejected (§4.C4).
func (r *Registry) Validate(id string, block map[string]any) error {
	schema, ok := r.schemas[id]
	if !ok {
		return apperr.New(apperr.SchemaViolation, fmt.Sprintf("unknown integration %q", id))
	}

	var missing []string
	for _, f := range schema.Fields {
		if !f.Required {
			continue
		}
		v, present := block[f.Name]
		if !present || v == nil || v == "" {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.IntegrationNotConfigured, fmt.Sprintf("integration %q missing required fields", id)).
			WithDetail(map[string]any{"integration_id": id, "missing_fields": missing})
	}
	return nil
}

// EncryptForStorage encrypts the secret-typed fields of an integrations.<id>
// block before it is written to node_configurations (§4.C1/C4). Fields not
// named in the schema as FieldSecret still go through crypto.IsSensitiveField
// so a vendor's non-standard secret naming is still caught.
func (r *Registry) EncryptForStorage(block map[string]any) (map[string]any, error) {
	encrypted, err := r.box.EncryptDict(block)
	if err != nil {
		return nil, fmt.Errorf("encrypting integration block: %w", err)
	}
	out, _ := encrypted.(map[string]any)
	return out, nil
}

// DecryptForUse decrypts the secret-typed fields of an integrations.<id>
// block read back from the effective config, for use by the credential
// proxy (C11) and provisioning engine (C8).
func (r *Registry) DecryptForUse(block map[string]any) (map[string]any, error) {
	decrypted, err := r.box.DecryptDict(block)
	if err != nil {
		return nil, fmt.Errorf("decrypting integration block: %w", err)
	}
	out, _ := decrypted.(map[string]any)
	return out, nil
}

// GetIntegrationConfig extracts and decrypts integrations.<id> from an
// already-resolved effective config, returning (nil, false) if absent.
func (r *Registry) GetIntegrationConfig(effective map[string]any, integrationID string) (map[string]any, bool, error) {
	integrationsAny, ok := effective["integrations"]
	if !ok {
		return nil, false, nil
	}
	integrations, ok := integrationsAny.(map[string]any)
	if !ok {
		return nil, false, nil
	}
	blockAny, ok := integrations[integrationID]
	if !ok {
		return nil, false, nil
	}
	block, ok := blockAny.(map[string]any)
	if !ok {
		return nil, false, nil
	}
	decrypted, err := r.DecryptForUse(block)
	if err != nil {
		return nil, false, err
	}
	return decrypted, true, nil
}
