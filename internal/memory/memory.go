// Package memory implements the background correction extractor: a regex gate gives zero-token handling to the ~95% of messages
// with no correction signal, and only when a user message looks like a
// correction does a fast-model LLM call extract a structured entity mapping
// or learned rule to persist for future turns.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/llm"
)

// correctionPatterns mirrors the original's _CORRECTION_PATTERNS: a single
// case-insensitive alternation of phrases that signal the user is
// correcting or teaching the assistant something, rather than asking a
// normal question.
var correctionPatterns = regexp.MustCompile(`(?i)` + strings.Join([]string{
	`\b(?:no|nope|wrong|incorrect|not\s+right),?\s`,
	`that(?:'s|\s+is)\s+(?:wrong|incorrect|not\s+right)`,
	`\bactually[,\s]`,
	`\bremember\s+that\b`,
	`\balways\s+(?:use|show|include|add)\b`,
	`\bnever\s+(?:use|show|include|add)\b`,
	`\bit\s+should\s+be\b`,
	`\bnot\s+\w+[,\s]+it(?:'s|\s+is)\b`,
	`\bplease\s+(?:always|never)\b`,
	`\bfrom\s+now\s+on\b`,
	`\bin\s+the\s+future\b`,
	`\bdon(?:'t|t)\s+(?:use|show|include)\b`,
	`\bwhen\s+i\s+say\b`,
	`\bis\s+stored\s+in\b`,
	`\bthe\s+(?:field|column|table)\s+(?:is|for)\b`,
	`\buse\s+(?:customrecord|custbody|custcol|custitem)\w*\b`,
}, "|"))

// jsonObject extracts the first top-level {...} blob from text, same as the
// original's re.search(r"\{.*\}", text, re.DOTALL).
var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

const extractionSystemPrompt = "You extract corrections from chat messages. Return only JSON."

const extractionPromptTemplate = `Analyze this user message for corrections or persistent preferences about an AI data assistant.

Extract TWO types of corrections if present:

Type 1 — Entity/Field Mapping:
If the user maps a natural name to a script/field id (e.g., "inventory processor is customrecord_foo",
"the platform field is custitem_fw_platform"):
{
  "entity_correction": {
    "natural_name": "the natural language term",
    "script_id": "the exact internal script/field id",
    "entity_type": "customrecord | customlist | transaction_body_field | item_field | entity_field"
  }
}

Type 2 — General Rule/Preference:
If the user states a general rule (e.g., "always show currency", "never round amounts",
"when I say today I mean PST"):
{
  "rule": {
    "description": "Clear 1-2 sentence description of the rule",
    "category": "output_preference | query_logic | status_mapping | field_mapping | currency | general"
  }
}

Return a JSON object with both fields (set to null if not applicable):
{
  "entity_correction": null,
  "rule": null
}

User message: %s
Previous assistant response: %s`

// HasCorrectionSignal is the fast regex gate: it returns true if the
// message looks like the user is correcting or teaching the assistant
// something, without making any LLM call.
func HasCorrectionSignal(userMessage string) bool {
	return correctionPatterns.MatchString(userMessage)
}

type entityCorrection struct {
	NaturalName string `json:"natural_name"`
	ScriptID    string `json:"script_id"`
	EntityType  string `json:"entity_type"`
}

type ruleCorrection struct {
	Description string `json:"description"`
	Category    string `json:"category"`
}

type extractionResult struct {
	EntityCorrection *entityCorrection `json:"entity_correction"`
	Rule             *ruleCorrection   `json:"rule"`
}

// Updater runs the regex-gated extraction and persists any correction it
// finds against the tenant's entity mappings / learned rules.
type Updater struct {
	db       *sql.DB
	provider llm.Provider
	model    string
	auditLog *audit.Log
}

// NewUpdater wires a DB handle, the fast-model LLM provider used only for
// extraction, and the audit log the save is recorded through.
func NewUpdater(db *sql.DB, provider llm.Provider, model string, auditLog *audit.Log) *Updater {
	return &Updater{db: db, provider: provider, model: model, auditLog: auditLog}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MaybeExtract checks userMessage for a correction signal and, if present,
// runs a fast-model extraction call and persists whatever it finds. It
// returns (true, nil) if a correction was saved. A failed extraction call or
// a response with no usable JSON degrades to (false, nil); a database write
// error is returned as (false, err). Callers should treat the feature as
// best-effort and never fail the surrounding turn because of it.
func (u *Updater) MaybeExtract(ctx context.Context, tenantID, userID uuid.UUID, userMessage, assistantMessage string) (bool, error) {
	if !HasCorrectionSignal(userMessage) {
		return false, nil
	}

	prompt := extractionPromptTemplate
	prompt = strings.Replace(prompt, "%s", truncate(userMessage, 1000), 1)
	prompt = strings.Replace(prompt, "%s", truncate(assistantMessage, 500), 1)

	resp, err := u.provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     u.model,
		MaxTokens: 256,
		System:    extractionSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: []llm.ContentBlock{{Type: "text", Text: prompt}},
		}},
	})
	if err != nil {
		return false, nil
	}

	text := strings.Join(resp.TextBlocks, "\n")
	match := jsonObject.FindString(text)
	if match == "" {
		return false, nil
	}

	var data extractionResult
	if err := json.Unmarshal([]byte(match), &data); err != nil {
		return false, nil
	}

	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	saved := false

	if ec := data.EntityCorrection; ec != nil && ec.NaturalName != "" && ec.ScriptID != "" {
		entityType := ec.EntityType
		if entityType == "" {
			entityType = "general"
		}
		if err := saveEntityMapping(ctx, tx, tenantID, ec.NaturalName, ec.ScriptID, entityType); err != nil {
			return false, err
		}
		saved = true
	}

	if r := data.Rule; r != nil && r.Description != "" {
		category := r.Category
		if category == "" {
			category = "general"
		}
		if err := saveLearnedRule(ctx, tx, tenantID, userID, r.Description, category); err != nil {
			return false, err
		}
		saved = true
	}

	if !saved {
		return false, nil
	}

	if err := u.auditLog.Append(ctx, tx, audit.Event{
		TenantID:     tenantID,
		ActorID:      &userID,
		ActorType:    "user",
		Category:     "memory",
		Action:       "correction.auto_saved",
		ResourceType: "chat_correction",
		ResourceID:   tenantID.String(),
		Status:       "ok",
		Payload:      map[string]any{"user_message_preview": truncate(userMessage, 200)},
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// saveEntityMapping upserts a TenantEntityMapping keyed on
// (tenant_id, entity_type, script_id), mirroring the original's
// on_conflict_do_update against uq_tenant_entity_type_script.
func saveEntityMapping(ctx context.Context, tx *sql.Tx, tenantID uuid.UUID, naturalName, scriptID, entityType string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_entity_mappings (id, tenant_id, entity_type, natural_name, script_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, entity_type, script_id)
		DO UPDATE SET natural_name = EXCLUDED.natural_name, updated_at = CURRENT_TIMESTAMP`,
		uuid.New(), tenantID, entityType, naturalName, scriptID,
	)
	return err
}

// saveLearnedRule appends a new active TenantLearnedRule row. Unlike entity
// mappings, rules are never merged: each correction becomes its own rule so
// the user's words are preserved verbatim for prompt injection.
func saveLearnedRule(ctx context.Context, tx *sql.Tx, tenantID, userID uuid.UUID, description, category string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO tenant_learned_rules (id, tenant_id, rule_category, rule_description, is_active, created_by)
		VALUES ($1, $2, $3, $4, true, $5)`,
		uuid.New(), tenantID, category, description, userID,
	)
	return err
}
