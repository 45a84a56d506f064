// Package turn implements the per-turn orchestrator: it
// loads recent history, sanitizes the incoming message, resolves tenant
// vernacular, compacts history, routes to specialist agents through the
// coordinator, persists both sides of the exchange, and finally runs the
// memory updater and wallet ledger before committing a single audit event
// for the whole turn.
package turn

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aideny-kr/chatcore/internal/apperr"
	"github.com/aideny-kr/chatcore/internal/audit"
	"github.com/aideny-kr/chatcore/internal/coordinator"
	"github.com/aideny-kr/chatcore/internal/history"
	"github.com/aideny-kr/chatcore/internal/llm"
	"github.com/aideny-kr/chatcore/internal/memory"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/observability"
	"github.com/aideny-kr/chatcore/internal/specialist"
	"github.com/aideny-kr/chatcore/internal/storage"
	"github.com/aideny-kr/chatcore/internal/tool"
	"github.com/aideny-kr/chatcore/internal/vernacular"
	"github.com/aideny-kr/chatcore/internal/wallet"
)

// historyWindow is N: up to N*2 messages (N exchanges) are loaded before
// compaction runs.
const historyWindow = 20

// sanitizeTagPairs are the tag pairs stripped from a raw user message
// before it ever reaches a prompt, case-insensitively, so a user cannot
// smuggle fake system/tool-call scaffolding into the turn.
var sanitizeTagPairs = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<system>.*?</system>`),
	regexp.MustCompile(`(?is)<instructions>.*?</instructions>`),
	regexp.MustCompile(`(?is)<prompt>.*?</prompt>`),
	regexp.MustCompile(`(?is)<context>.*?</context>`),
	regexp.MustCompile(`(?is)<tool_call>.*?</tool_call>`),
}

// Sanitize strips the tag pairs above and trims whitespace. It is a pure
// function so it can be unit tested without a turn.
func Sanitize(raw string) string {
	out := raw
	for _, re := range sanitizeTagPairs {
		out = re.ReplaceAllString(out, "")
	}
	return strings.TrimSpace(out)
}

// Runner wires every collaborator one chat turn needs. It holds no
// per-request state; Run takes everything turn-scoped as arguments.
type Runner struct {
	Pool            *storage.Pool
	Providers       *llm.Registry
	MainProvider    string
	MainModel       string
	FastModel       string
	SynthesisModel  string
	Compactor       *history.Compactor
	Vernacular      *vernacular.Resolver
	Specialists     map[string]*specialist.Agent
	ToolRegistry    *tool.Registry
	Dispatcher      *tool.Dispatcher
	Wallet          *wallet.Ledger
	MemoryUpdater   *memory.Updater
	AuditLog        *audit.Log
	Metrics         *observability.Metrics
}

// Outcome is what Run returns on success: the persisted assistant message
// plus the route/billing bookkeeping callers may want to log or surface.
type Outcome struct {
	Assistant   model.ChatMessage
	Intent      coordinator.IntentType
	RetrievedDocs int
	Deduction   *wallet.Deduction
}

// Run executes one full chat turn. A non-nil error means
// the turn was aborted before any assistant message was persisted; callers
// should still surface a safe, generic error to the user.
func (r *Runner) Run(ctx context.Context, sessionID, tenantID, userID uuid.UUID, rawMessage string) (*Outcome, error) {
	correlationID := uuid.NewString()

	tx, err := r.Pool.BeginTenantTx(ctx, tenantID.String())
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	recentHistory, err := loadRecentMessages(ctx, tx.Tx, sessionID, historyWindow*2)
	if err != nil {
		return nil, fmt.Errorf("turn: load history: %w", err)
	}

	userMessage := Sanitize(rawMessage)

	userMsg := model.ChatMessage{
		ID:        uuid.New(),
		TenantID:  tenantID,
		SessionID: sessionID,
		Role:      "user",
		Content:   userMessage,
		CreatedAt: time.Now(),
	}
	if err := insertMessage(ctx, tx.Tx, userMsg); err != nil {
		return nil, fmt.Errorf("turn: persist user message: %w", err)
	}

	pol, err := loadActivePolicy(ctx, tx.Tx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("turn: load policy: %w", err)
	}

	provider, ok := r.Providers.Get(r.MainProvider)
	if !ok {
		return nil, apperr.New(apperr.InvariantViolation, "turn: main LLM provider not registered")
	}

	vernacularBlock := ""
	if r.Vernacular != nil {
		vernacularBlock, err = r.Vernacular.Resolve(ctx, tenantID, userMessage)
		if err != nil {
			vernacularBlock = ""
		}
	}

	compacted := recentHistory
	if r.Compactor != nil {
		compacted = r.Compactor.Compact(ctx, recentHistory)
	}

	intent := coordinator.ClassifyIntent(userMessage)
	if intent == coordinator.IntentAmbiguous {
		if classified, err := coordinator.ClassifyWithLLM(ctx, provider, r.FastModel, userMessage); err == nil {
			intent = classified
		}
	}

	tc := tool.Context{Tx: tx.Tx, TenantID: tenantID, ActorID: userID, CorrelationID: correlationID}

	results := r.runRoute(ctx, tc, pol, intent, userMessage, vernacularBlock, compacted)

	synthesisModel := coordinator.SynthesisModel(r.SynthesisModel, r.MainModel)
	finalText, synthUsage, err := coordinator.Synthesize(ctx, provider, synthesisModel, userMessage, compacted, results)
	if err != nil {
		finalText = "I wasn't able to complete that request. Please try again."
	}

	toolCalls, stats, err := toolCallLogFromAudit(ctx, tx.Tx, correlationID)
	if err != nil {
		toolCalls, stats = nil, turnStats{}
	}

	totalUsage := synthUsage
	for _, res := range results {
		totalUsage.InputTokens += res.Usage.InputTokens
		totalUsage.OutputTokens += res.Usage.OutputTokens
	}

	assistantMsg := model.ChatMessage{
		ID:           uuid.New(),
		TenantID:     tenantID,
		SessionID:    sessionID,
		Role:         "assistant",
		Content:      finalText,
		ToolCalls:    toolCalls,
		InputTokens:  intPtr(totalUsage.InputTokens),
		OutputTokens: intPtr(totalUsage.OutputTokens),
		ModelUsed:    r.MainModel,
		ProviderUsed: r.MainProvider,
		CreatedAt:    time.Now(),
	}
	if err := insertMessage(ctx, tx.Tx, assistantMsg); err != nil {
		return nil, fmt.Errorf("turn: persist assistant message: %w", err)
	}

	if err := maybeSetSessionTitle(ctx, tx.Tx, sessionID, userMessage); err != nil {
		return nil, fmt.Errorf("turn: set session title: %w", err)
	}

	if r.MemoryUpdater != nil {
		_, _ = r.MemoryUpdater.MaybeExtract(ctx, tenantID, userID, userMessage, finalText)
	}

	var deduction *wallet.Deduction
	if r.Wallet != nil {
		deduction, err = r.Wallet.Deduct(ctx, tx.Tx, tx.ForUpdateSuffix(), tenantID, r.MainModel)
		if err != nil {
			return nil, fmt.Errorf("turn: deduct wallet: %w", err)
		}
	}

	toolNames := make([]string, 0, len(toolCalls))
	for _, tc := range toolCalls {
		toolNames = append(toolNames, tc.ToolName)
	}
	if r.AuditLog != nil {
		if err := r.AuditLog.Append(ctx, tx.Tx, audit.Event{
			TenantID:      tenantID,
			ActorID:       &userID,
			ActorType:     "user",
			Category:      "chat_turn",
			Action:        "chat.turn",
			ResourceType:  "chat_session",
			ResourceID:    sessionID.String(),
			CorrelationID: correlationID,
			Status:        "ok",
			Payload: map[string]any{
				"intent":         string(intent),
				"tools_used":     toolNames,
				"agent_count":    len(results),
				"retrieved_docs": stats.RetrievedDocs,
				"db_tables":      stats.DBTables,
			},
		}); err != nil {
			return nil, fmt.Errorf("turn: write turn audit event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("turn: commit: %w", err)
	}
	committed = true

	if r.Metrics != nil {
		r.Metrics.ObserveTurn(tenantID.String(), "ok", 0)
	}

	return &Outcome{Assistant: assistantMsg, Intent: intent, RetrievedDocs: stats.RetrievedDocs, Deduction: deduction}, nil
}

// runRoute resolves intent to a specialist pipeline and runs it, sequential
// or parallel per the route registry. An intent with no
// registered route (AMBIGUOUS that the LLM fallback also failed to resolve)
// degrades to a single direct call against the main model with no
// specialist scoping, so the turn still produces an answer.
func (r *Runner) runRoute(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, intent coordinator.IntentType, task, vernacularBlock string, convo []llm.Message) []coordinator.AgentResult {
	route, ok := coordinator.RouteRegistry[intent]
	if !ok {
		return []coordinator.AgentResult{r.runDirect(ctx, tc, pol, task, vernacularBlock, convo)}
	}

	if route.Parallel {
		return r.runParallel(ctx, tc, pol, route.Agents, task, vernacularBlock, convo)
	}
	return r.runSequential(ctx, tc, pol, route.Agents, task, vernacularBlock, convo)
}

func (r *Runner) runSequential(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, names []string, task, vernacularBlock string, convo []llm.Message) []coordinator.AgentResult {
	results := make([]coordinator.AgentResult, 0, len(names))
	currentTask := task
	for _, name := range names {
		res := r.runOne(ctx, tc, pol, name, currentTask, vernacularBlock, convo)
		results = append(results, res)
		if res.Success {
			currentTask = res.Data
		}
	}
	return results
}

func (r *Runner) runParallel(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, names []string, task, vernacularBlock string, convo []llm.Message) []coordinator.AgentResult {
	type indexed struct {
		i   int
		res coordinator.AgentResult
	}
	ch := make(chan indexed, len(names))
	for i, name := range names {
		go func(i int, name string) {
			ch <- indexed{i, r.runOne(ctx, tc, pol, name, task, vernacularBlock, convo)}
		}(i, name)
	}
	results := make([]coordinator.AgentResult, len(names))
	for range names {
		out := <-ch
		results[out.i] = out.res
	}
	return results
}

func (r *Runner) runOne(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, name, task, vernacularBlock string, convo []llm.Message) coordinator.AgentResult {
	agent, ok := r.Specialists[name]
	if !ok {
		return coordinator.AgentResult{AgentName: name, Success: false, Error: "specialist not configured: " + name}
	}
	fullTask := task
	if vernacularBlock != "" {
		fullTask = task + "\n\n" + vernacularBlock
	}
	res, err := agent.Run(ctx, tc, pol, fullTask, convo)
	if err != nil {
		return coordinator.AgentResult{AgentName: name, Success: false, Error: err.Error()}
	}
	return coordinator.AgentResult{AgentName: name, Success: true, Data: res.Data, Usage: res.Usage}
}

// runDirect handles an AMBIGUOUS turn with no matched route: a single call
// to the main model, tools disabled, so the assistant can still answer a
// greeting or open-ended question.
func (r *Runner) runDirect(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, task, vernacularBlock string, convo []llm.Message) coordinator.AgentResult {
	provider, ok := r.Providers.Get(r.MainProvider)
	if !ok {
		return coordinator.AgentResult{AgentName: "direct", Success: false, Error: "no main provider configured"}
	}
	system := "You are a helpful ERP assistant."
	if vernacularBlock != "" {
		system += "\n" + vernacularBlock
	}
	messages := append(append([]llm.Message{}, convo...), llm.Message{
		Role:    llm.RoleUser,
		Content: []llm.ContentBlock{{Type: "text", Text: task}},
	})
	resp, err := provider.CreateMessage(ctx, llm.CreateMessageRequest{
		Model:     r.MainModel,
		MaxTokens: 1024,
		System:    system,
		Messages:  messages,
	})
	if err != nil {
		return coordinator.AgentResult{AgentName: "direct", Success: false, Error: err.Error()}
	}
	return coordinator.AgentResult{AgentName: "direct", Success: true, Data: resp.Text(), Usage: resp.Usage}
}

func intPtr(v int) *int { return &v }

func loadRecentMessages(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, limit int) ([]llm.Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT role, content FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reversed []llm.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		reversed = append(reversed, llm.Message{
			Role:    llm.Role(role),
			Content: []llm.ContentBlock{{Type: "text", Text: content}},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]llm.Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg model.ChatMessage) error {
	toolCalls, err := marshalOrNil(msg.ToolCalls)
	if err != nil {
		return err
	}
	citations, err := marshalOrNil(msg.Citations)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_messages
			(id, tenant_id, session_id, role, content, tool_calls, citations,
			 input_tokens, output_tokens, model_used, provider_used, is_byok, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		msg.ID, msg.TenantID, msg.SessionID, msg.Role, msg.Content, toolCalls, citations,
		msg.InputTokens, msg.OutputTokens, msg.ModelUsed, msg.ProviderUsed, msg.IsBYOK, msg.CreatedAt,
	)
	return err
}

func marshalOrNil(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func maybeSetSessionTitle(ctx context.Context, tx *sql.Tx, sessionID uuid.UUID, firstUserMessage string) error {
	var title sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT title FROM chat_sessions WHERE id = $1`, sessionID)
	if err := row.Scan(&title); err != nil {
		return err
	}
	if title.Valid && title.String != "" {
		return nil
	}
	runes := []rune(strings.TrimSpace(firstUserMessage))
	if len(runes) > 100 {
		runes = runes[:100]
	}
	_, err := tx.ExecContext(ctx, `UPDATE chat_sessions SET title = $1, updated_at = $2 WHERE id = $3`,
		string(runes), time.Now(), sessionID)
	return err
}

func loadActivePolicy(ctx context.Context, tx *sql.Tx, tenantID uuid.UUID) (*model.PolicyProfile, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, version, name, is_active, is_locked, sensitivity_default, read_only_mode,
		       max_rows_per_query, require_row_limit,
		       blocked_fields, tool_allowlist, allowed_record_types, custom_rules
		FROM policy_profiles
		WHERE tenant_id = $1 AND is_active = true
		ORDER BY version DESC LIMIT 1`, tenantID)

	var p model.PolicyProfile
	var blockedFields, toolAllowlist, allowedRecordTypes, customRules []byte
	p.TenantID = tenantID
	if err := row.Scan(&p.ID, &p.Version, &p.Name, &p.IsActive, &p.IsLocked,
		&p.SensitivityDefault, &p.ReadOnlyMode, &p.MaxRowsPerQuery, &p.RequireRowLimit,
		&blockedFields, &toolAllowlist, &allowedRecordTypes, &customRules); err != nil {
		if err == sql.ErrNoRows {
			// Absence of a policy is permissive for the core.
			return nil, nil
		}
		return nil, err
	}
	for _, col := range []struct {
		raw  []byte
		dest *[]string
	}{
		{blockedFields, &p.BlockedFields},
		{toolAllowlist, &p.ToolAllowlist},
		{allowedRecordTypes, &p.AllowedRecordTypes},
		{customRules, &p.CustomRules},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dest); err != nil {
			return nil, fmt.Errorf("turn: decode policy list column: %w", err)
		}
	}
	return &p, nil
}

// turnStats is the per-turn aggregate the chat.turn audit event reports:
// how many documents retrieval surfaced and which database tables the
// turn's queries touched.
type turnStats struct {
	RetrievedDocs int
	DBTables      []string
}

// tableRe pulls table identifiers out of a query's FROM/JOIN clauses; good
// enough for the audit trail's "tables touched" summary, not a SQL parser.
var tableRe = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// toolCallLogFromAudit reconstructs the per-message tool-call log from the
// audit rows the dispatcher already wrote for this turn's correlation id,
// rather than threading a second collector through every specialist — the
// audit trail is the single source of truth for "what tools ran". The same
// pass aggregates the turn's retrieval and table-touch stats.
func toolCallLogFromAudit(ctx context.Context, tx *sql.Tx, correlationID string) ([]model.ToolCallLog, turnStats, error) {
	var stats turnStats

	rows, err := tx.QueryContext(ctx, `
		SELECT action, payload, status, error_message
		FROM audit_events
		WHERE correlation_id = $1 AND category = 'tool_call'
		ORDER BY timestamp ASC`, correlationID)
	if err != nil {
		return nil, stats, err
	}
	defer rows.Close()

	tables := map[string]bool{}
	var logs []model.ToolCallLog
	for rows.Next() {
		var action, status, errMsg string
		var payload []byte
		if err := rows.Scan(&action, &payload, &status, &errMsg); err != nil {
			return nil, stats, err
		}
		var decoded struct {
			Params      map[string]any `json:"params"`
			ResultCount *int           `json:"result_count"`
		}
		_ = json.Unmarshal(payload, &decoded)
		logs = append(logs, model.ToolCallLog{
			ToolName:  action,
			Arguments: decoded.Params,
			Error:     errMsg,
		})

		if action == "rag_search" && decoded.ResultCount != nil {
			stats.RetrievedDocs += *decoded.ResultCount
		}
		// Only SQL-bearing tools contribute tables; rag_search and
		// workspace.search carry free-text "query" params.
		if strings.Contains(action, "suiteql") {
			if query, ok := decoded.Params["query"].(string); ok {
				for _, m := range tableRe.FindAllStringSubmatch(query, -1) {
					tables[strings.ToLower(m[1])] = true
				}
			}
		}
	}
	for name := range tables {
		stats.DBTables = append(stats.DBTables, name)
	}
	sort.Strings(stats.DBTables)
	return logs, stats, rows.Err()
}
