// Package vernacular implements the tenant vernacular resolver: a fast, cheap LLM call extracts candidate NetSuite-ish entity
// names out of a user's message, each is matched against the tenant's
// learned natural_name -> script_id mappings by trigram similarity, and the
// matches plus any active learned rules are serialized into a
// <tenant_vernacular> XML block appended to the turn's system prompt.
package vernacular

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/llm"
)

// extractorSystemPrompt mirrors the original's EXTRACTOR_SYSTEM_PROMPT:
// pull tenant-specific-sounding names out of a message without over-matching
// generic domain vocabulary the core already understands.
const extractorSystemPrompt = `You are a fast named entity extractor for business/ERP context.
Read the user prompt and output a strict JSON array of potential entities. Extract:
1. Custom record names (e.g., "Inventory Processor", "Integration Log")
2. Custom field names (e.g., "Rush flag", "External Order Number")
3. Status values or list option names that sound tenant-specific (e.g., "Failed", "Completed", "Pending", "In Progress", "Ordoro")
4. Saved search names or report names
Do NOT extract generic terms like "sales order", "customer", "invoice", or "transaction".
Output ONLY valid JSON, e.g., ["Inventory Processor", "Failed", "Ordoro"]`

// similarityThreshold is the minimum trigram similarity score a match must
// clear to be surfaced. 0.3 is pg_trgm's default `%` operator threshold.
const similarityThreshold = 0.3

// Extractor runs the fast entity-extraction LLM call.
type Extractor struct {
	provider llm.Provider
	model    string
}

// NewExtractor wraps a provider/model pair dedicated to this cheap,
// low-latency extraction call (a small/fast model tier, never the turn's
// primary reasoning model).
func NewExtractor(provider llm.Provider, model string) *Extractor {
	return &Extractor{provider: provider, model: model}
}

// Extract returns the candidate entity names the model found in message, or
// an empty slice if the model's output wasn't parseable JSON — extraction
// failure degrades silently rather than failing the turn.
func (e *Extractor) Extract(ctx context.Context, message string) []string {
	resp, err := e.provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     e.model,
		MaxTokens: 256,
		System:    extractorSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: []llm.ContentBlock{{Type: "text", Text: "User prompt: " + message}}},
		},
	})
	if err != nil {
		return nil
	}
	return parseEntities(resp.Text())
}

func parseEntities(text string) []string {
	text = stripCodeFence(text)
	if text == "" {
		return nil
	}
	var entities []string
	if err := json.Unmarshal([]byte(text), &entities); err != nil {
		return nil
	}
	return entities
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.Contains(text, "```json") {
		parts := strings.SplitN(text, "```json", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(strings.SplitN(parts[1], "```", 2)[0])
		}
	}
	if strings.Contains(text, "```") {
		parts := strings.SplitN(text, "```", 3)
		if len(parts) >= 2 {
			return strings.TrimSpace(parts[1])
		}
	}
	return text
}

// Match is one resolved entity: a user's term mapped to the tenant's
// internal script id.
type Match struct {
	UserTerm        string
	ScriptID        string
	EntityType      string
	Description     string
	ConfidenceScore float64
}

// Rule is one active tenant learned rule, rendered verbatim into the XML
// block's <learned_rules> section.
type Rule struct {
	Category    string
	Description string
}

// Resolver looks up trigram matches and active learned rules for a tenant
// and renders them as a <tenant_vernacular> XML block.
type Resolver struct {
	db        *sql.DB
	driver    string
	extractor *Extractor
}

// NewResolver constructs a Resolver. driver selects the trigram-match
// strategy: "postgres" uses pg_trgm's `%`/similarity() operators pushed down
// to SQL; anything else (used by this module's sqlite-backed test suite)
// falls back to scoring all of a tenant's mappings in Go with the same
// trigram similarity formula pg_trgm implements.
func NewResolver(db *sql.DB, driver string, extractor *Extractor) *Resolver {
	return &Resolver{db: db, driver: driver, extractor: extractor}
}

// Resolve extracts entities from message, matches each against tenantID's
// learned mappings, and combines the matches with the tenant's active
// learned rules into a <tenant_vernacular> block. Returns "" when there is
// nothing to report.
func (r *Resolver) Resolve(ctx context.Context, tenantID uuid.UUID, message string) (string, error) {
	entities := r.extractor.Extract(ctx, message)
	if len(entities) == 0 {
		return r.renderOrEmpty(ctx, tenantID, nil)
	}

	matches := make([]Match, 0, len(entities))
	for _, entity := range entities {
		m, found, err := r.bestMatch(ctx, tenantID, entity)
		if err != nil {
			return "", fmt.Errorf("vernacular: match %q: %w", entity, err)
		}
		if found {
			matches = append(matches, m)
		}
	}
	return r.renderOrEmpty(ctx, tenantID, matches)
}

func (r *Resolver) renderOrEmpty(ctx context.Context, tenantID uuid.UUID, matches []Match) (string, error) {
	rules, err := r.activeLearnedRules(ctx, tenantID)
	if err != nil {
		return "", fmt.Errorf("vernacular: load learned rules: %w", err)
	}
	if len(matches) == 0 && len(rules) == 0 {
		return "", nil
	}
	return render(matches, rules), nil
}

func (r *Resolver) bestMatch(ctx context.Context, tenantID uuid.UUID, entity string) (Match, bool, error) {
	if r.driver == "postgres" {
		return r.bestMatchPostgres(ctx, tenantID, entity)
	}
	return r.bestMatchInMemory(ctx, tenantID, entity)
}

func (r *Resolver) bestMatchPostgres(ctx context.Context, tenantID uuid.UUID, entity string) (Match, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT script_id, entity_type, description, similarity(natural_name, $2) AS sim
		FROM tenant_entity_mappings
		WHERE tenant_id = $1 AND natural_name % $2
		ORDER BY sim DESC
		LIMIT 1`, tenantID, entity)

	var m Match
	var description sql.NullString
	if err := row.Scan(&m.ScriptID, &m.EntityType, &description, &m.ConfidenceScore); err != nil {
		if err == sql.ErrNoRows {
			return Match{}, false, nil
		}
		return Match{}, false, err
	}
	m.UserTerm = entity
	m.Description = description.String
	return m, true, nil
}

func (r *Resolver) bestMatchInMemory(ctx context.Context, tenantID uuid.UUID, entity string) (Match, bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT script_id, entity_type, description, natural_name
		FROM tenant_entity_mappings
		WHERE tenant_id = ?`, tenantID)
	if err != nil {
		return Match{}, false, err
	}
	defer rows.Close()

	var best Match
	bestSim := 0.0
	found := false
	for rows.Next() {
		var scriptID, entityType, naturalName string
		var description sql.NullString
		if err := rows.Scan(&scriptID, &entityType, &description, &naturalName); err != nil {
			return Match{}, false, err
		}
		sim := TrigramSimilarity(naturalName, entity)
		if sim >= similarityThreshold && sim > bestSim {
			bestSim = sim
			best = Match{UserTerm: entity, ScriptID: scriptID, EntityType: entityType, Description: description.String, ConfidenceScore: sim}
			found = true
		}
	}
	return best, found, rows.Err()
}

func (r *Resolver) activeLearnedRules(ctx context.Context, tenantID uuid.UUID) ([]Rule, error) {
	placeholder := "$1"
	if r.driver != "postgres" {
		placeholder = "?"
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT rule_category, rule_description
		FROM tenant_learned_rules
		WHERE tenant_id = %s AND is_active = true`, placeholder), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var category sql.NullString
		var desc string
		if err := rows.Scan(&category, &desc); err != nil {
			return nil, err
		}
		cat := category.String
		if cat == "" {
			cat = "general"
		}
		rules = append(rules, Rule{Category: cat, Description: desc})
	}
	return rules, rows.Err()
}
