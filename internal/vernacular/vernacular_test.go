package vernacular

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/llm"
)

type fakeProvider struct {
	text string
}

func (f fakeProvider) Name() string { return "fake" }
func (f fakeProvider) CreateMessage(ctx context.Context, req llm.CreateMessageRequest) (*llm.Response, error) {
	return &llm.Response{TextBlocks: []string{f.text}}, nil
}
func (f fakeProvider) StreamMessage(ctx context.Context, req llm.CreateMessageRequest) (<-chan llm.StreamEvent, error) {
	return llm.DefaultStream(ctx, f.CreateMessage, req)
}
func (f fakeProvider) BuildAssistantMessage(resp *llm.Response) llm.Message { return llm.Message{} }
func (f fakeProvider) BuildToolResultMessage(results []llm.ToolResultBlock) []llm.Message {
	return nil
}

func setupVernacularDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tenant_entity_mappings (
			id TEXT PRIMARY KEY, tenant_id TEXT, entity_type TEXT,
			natural_name TEXT, script_id TEXT, description TEXT
		);
		CREATE TABLE tenant_learned_rules (
			id TEXT PRIMARY KEY, tenant_id TEXT, rule_category TEXT,
			rule_description TEXT, is_active INTEGER
		);`)
	require.NoError(t, err)
	return db
}

func TestParseEntities_StripsCodeFence(t *testing.T) {
	got := parseEntities("```json\n[\"Inventory Processor\", \"Failed\"]\n```")
	require.Equal(t, []string{"Inventory Processor", "Failed"}, got)
}

func TestParseEntities_MalformedJSONReturnsNil(t *testing.T) {
	require.Nil(t, parseEntities("not json at all"))
}

func TestResolve_NoEntitiesNoRulesReturnsEmptyString(t *testing.T) {
	db := setupVernacularDB(t)
	extractor := NewExtractor(fakeProvider{text: "[]"}, "fast-model")
	r := NewResolver(db, "sqlite", extractor)

	out, err := r.Resolve(context.Background(), uuid.New(), "show me my sales orders")
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestResolve_MatchesEntityAndRendersXML(t *testing.T) {
	db := setupVernacularDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenant_entity_mappings (id, tenant_id, entity_type, natural_name, script_id, description)
		VALUES (?, ?, 'custom_record', 'Inventory Processor', 'customrecord_r_inv_processor', 'legacy fulfillment queue')`,
		uuid.NewString(), tenantID)
	require.NoError(t, err)

	extractor := NewExtractor(fakeProvider{text: `["Inventory Processor"]`}, "fast-model")
	r := NewResolver(db, "sqlite", extractor)

	out, err := r.Resolve(context.Background(), tenantID, "check the inventory processor queue")
	require.NoError(t, err)
	require.Contains(t, out, "<tenant_vernacular>")
	require.Contains(t, out, "customrecord_r_inv_processor")
	require.Contains(t, out, "<resolved_entities>")
}

func TestResolve_IncludesActiveLearnedRulesEvenWithoutMatches(t *testing.T) {
	db := setupVernacularDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenant_learned_rules (id, tenant_id, rule_category, rule_description, is_active)
		VALUES (?, ?, 'status', ?, 1)`,
		uuid.NewString(), tenantID, `'failed' means status=3 AND has_error=T`)
	require.NoError(t, err)

	extractor := NewExtractor(fakeProvider{text: "[]"}, "fast-model")
	r := NewResolver(db, "sqlite", extractor)

	out, err := r.Resolve(context.Background(), tenantID, "why did this fail")
	require.NoError(t, err)
	require.Contains(t, out, "<learned_rules>")
	require.Contains(t, out, "has_error=T")
}

func TestResolve_InactiveRuleExcluded(t *testing.T) {
	db := setupVernacularDB(t)
	tenantID := uuid.New()
	_, err := db.Exec(`INSERT INTO tenant_learned_rules (id, tenant_id, rule_category, rule_description, is_active)
		VALUES (?, ?, 'status', 'stale rule', 0)`,
		uuid.NewString(), tenantID)
	require.NoError(t, err)

	extractor := NewExtractor(fakeProvider{text: "[]"}, "fast-model")
	r := NewResolver(db, "sqlite", extractor)

	out, err := r.Resolve(context.Background(), tenantID, "anything")
	require.NoError(t, err)
	require.Equal(t, "", out)
}
