package memory

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/llm"
)

type fakeProvider struct {
	text string
	err  error
}

func (f fakeProvider) Name() string { return "fake" }
func (f fakeProvider) CreateMessage(ctx context.Context, req llm.CreateMessageRequest) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{TextBlocks: []string{f.text}}, nil
}
func (f fakeProvider) StreamMessage(ctx context.Context, req llm.CreateMessageRequest) (<-chan llm.StreamEvent, error) {
	return llm.DefaultStream(ctx, f.CreateMessage, req)
}
func (f fakeProvider) BuildAssistantMessage(resp *llm.Response) llm.Message { return llm.Message{} }
func (f fakeProvider) BuildToolResultMessage(results []llm.ToolResultBlock) []llm.Message {
	return nil
}

func setupMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE tenant_entity_mappings (
			id TEXT PRIMARY KEY, tenant_id TEXT, entity_type TEXT,
			natural_name TEXT, script_id TEXT, updated_at TEXT,
			UNIQUE(tenant_id, entity_type, script_id)
		);
		CREATE TABLE tenant_learned_rules (
			id TEXT PRIMARY KEY, tenant_id TEXT, rule_category TEXT,
			rule_description TEXT, is_active INTEGER, created_by TEXT
		);
		CREATE TABLE audit_events (
			id TEXT PRIMARY KEY, tenant_id TEXT, timestamp TEXT, actor_id TEXT,
			actor_type TEXT, category TEXT, action TEXT, resource_type TEXT,
			resource_id TEXT, correlation_id TEXT, job_id TEXT, payload TEXT,
			status TEXT, error_message TEXT
		);`)
	require.NoError(t, err)
	return db
}

func TestHasCorrectionSignal_DetectsCorrectionPhrases(t *testing.T) {
	cases := []string{
		"No, it should be EUR not USD",
		"Actually, that field is custbody_platform",
		"That's wrong, the order number starts with SO",
		"Remember that platform means custitem_fw_platform",
		"Always use BUILTIN.DF for status fields",
		"Never show raw IDs, always show names",
		"From now on, group by currency",
		"Don't use foreigntotal for USD amounts",
		"When I say platform, use custbody_platform",
		"The field for sales channel is custbody_sales_channel",
		"Please always include the currency column",
		"use customrecord_foo for that",
	}
	for _, c := range cases {
		require.True(t, HasCorrectionSignal(c), "expected signal in %q", c)
	}
}

func TestHasCorrectionSignal_SkipsNormalMessages(t *testing.T) {
	cases := []string{
		"Show me today's sales orders",
		"What is our revenue this month?",
		"How many open invoices do we have?",
		"Tell me about customer Acme Corp",
		"Compare Q1 and Q2 sales",
		"Thanks, that looks good",
		"Can you show me more details?",
	}
	for _, c := range cases {
		require.False(t, HasCorrectionSignal(c), "expected no signal in %q", c)
	}
}

func TestMaybeExtract_SkipsWhenNoSignal(t *testing.T) {
	db := setupMemoryDB(t)
	u := NewUpdater(db, fakeProvider{err: errors.New("should not be called")}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(), "Show me today's orders", "Here are the orders...")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestMaybeExtract_SavesEntityCorrection(t *testing.T) {
	db := setupMemoryDB(t)
	resp := `{"entity_correction":{"natural_name":"inventory processor","script_id":"customrecord_r_inv_processor","entity_type":"customrecord"},"rule":null}`
	u := NewUpdater(db, fakeProvider{text: resp}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(),
		"Actually, use customrecord_r_inv_processor for inventory processor",
		"I queried the inventory table...")
	require.NoError(t, err)
	require.True(t, saved)

	var scriptID string
	require.NoError(t, db.QueryRow(`SELECT script_id FROM tenant_entity_mappings`).Scan(&scriptID))
	require.Equal(t, "customrecord_r_inv_processor", scriptID)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM audit_events WHERE action = 'correction.auto_saved'`).Scan(&count))
	require.Equal(t, 1, count)
}

func TestMaybeExtract_SavesGeneralRule(t *testing.T) {
	db := setupMemoryDB(t)
	resp := `{"entity_correction":null,"rule":{"description":"Always include the currency column in query results","category":"output_preference"}}`
	u := NewUpdater(db, fakeProvider{text: resp}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(),
		"Always show the currency column in results",
		"Here are your orders...")
	require.NoError(t, err)
	require.True(t, saved)

	var desc string
	require.NoError(t, db.QueryRow(`SELECT rule_description FROM tenant_learned_rules`).Scan(&desc))
	require.Equal(t, "Always include the currency column in query results", desc)
}

func TestMaybeExtract_InvalidJSONReturnsFalse(t *testing.T) {
	db := setupMemoryDB(t)
	u := NewUpdater(db, fakeProvider{text: "No corrections found here, just chatting."}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(), "No, that's not what I meant", "I showed you...")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestMaybeExtract_NullCorrectionsReturnsFalse(t *testing.T) {
	db := setupMemoryDB(t)
	u := NewUpdater(db, fakeProvider{text: `{"entity_correction":null,"rule":null}`}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(), "No, that doesn't look right but whatever", "Here is the data...")
	require.NoError(t, err)
	require.False(t, saved)
}

func TestMaybeExtract_ProviderErrorReturnsFalse(t *testing.T) {
	db := setupMemoryDB(t)
	u := NewUpdater(db, fakeProvider{err: errors.New("api error")}, "fast-model", audit.New())

	saved, err := u.MaybeExtract(context.Background(), uuid.New(), uuid.New(), "Remember that X is Y", "...")
	require.NoError(t, err)
	require.False(t, saved)
}
