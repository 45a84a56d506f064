// Package specialist implements the bounded-loop specialist agents: narrow, tool-scoped reasoning loops a coordinator routes a turn
// to, each limited to a small number of steps and a fixed tool allowlist.
// Each step runs a model call, dispatches any resulting tool calls, and
// feeds the results back until the model stops calling tools or the step
// budget runs out; this stays a single blocking Run call since specialists
// never stream directly to the end user, only the turn runner does.
// Concurrent tool dispatch within one step uses golang.org/x/sync/errgroup.
package specialist

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/aideny-kr/chatcore/internal/llm"
	"github.com/aideny-kr/chatcore/internal/model"
	"github.com/aideny-kr/chatcore/internal/tool"
)

// Definition is one specialist agent's fixed configuration: its prompt, its
// tool-use budget, and the tools it is permitted to call regardless of what
// the tenant's broader policy allows.
type Definition struct {
	Name          string
	SystemPrompt  string
	MaxSteps      int
	ToolAllowlist []string
}

// Agent runs one Definition's bounded loop against a model and a governed
// tool dispatcher.
type Agent struct {
	def      Definition
	provider llm.Provider
	model    string
	tools    *tool.Registry
	dispatch *tool.Dispatcher
}

// New wires a Definition to the provider/model used for its reasoning calls
// and the dispatcher used for any tool calls it makes.
func New(def Definition, provider llm.Provider, model string, tools *tool.Registry, dispatch *tool.Dispatcher) *Agent {
	return &Agent{def: def, provider: provider, model: model, tools: tools, dispatch: dispatch}
}

// Result is what Run returns: the specialist's final prose plus token
// accounting, matching the original's AgentResult shape (success/data/error/
// tokens_used) without a boolean success flag — a non-nil error already
// means failure.
type Result struct {
	AgentName  string
	Data       string
	Usage      llm.Usage
	StepsTaken int
}

// toolDefs returns the llm.ToolDefinition view of every tool this
// specialist is allowed to call, filtered from the shared registry by its
// ToolAllowlist.
func (a *Agent) toolDefs() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(a.def.ToolAllowlist))
	for _, name := range a.def.ToolAllowlist {
		d, ok := a.tools.Get(name)
		if !ok {
			continue
		}
		defs = append(defs, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Schema})
	}
	return defs
}

// Run executes the bounded loop: call the model, and if it asks for tool
// calls, dispatch them (concurrently if more than one was requested in the
// same step) and feed the results back for another step. The loop ends when
// the model stops requesting tools or MaxSteps is reached, whichever comes
// first — a specialist that is still asking for tools at its step limit
// simply returns whatever prose it last produced, same as the original's
// "loop exhausted" fallback.
func (a *Agent) Run(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, task string, history []llm.Message) (*Result, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: []llm.ContentBlock{{Type: "text", Text: task}},
	})

	tools := a.toolDefs()
	var usage llm.Usage
	var last *llm.Response

	steps := a.def.MaxSteps
	if steps < 1 {
		steps = 1
	}

	for step := 0; step < steps; step++ {
		resp, err := a.provider.CreateMessage(ctx, llm.CreateMessageRequest{
			Model:     a.model,
			MaxTokens: 4096,
			System:    a.def.SystemPrompt,
			Messages:  messages,
			Tools:     tools,
		})
		if err != nil {
			return nil, fmt.Errorf("specialist %s: step %d: %w", a.def.Name, step, err)
		}
		usage.InputTokens += resp.Usage.InputTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		last = resp

		if !resp.HasToolUse() {
			return &Result{AgentName: a.def.Name, Data: resp.Text(), Usage: usage, StepsTaken: step + 1}, nil
		}

		messages = append(messages, a.provider.BuildAssistantMessage(resp))

		results, err := a.dispatchToolUses(ctx, tc, pol, resp.ToolUses)
		if err != nil {
			return nil, err
		}
		messages = append(messages, a.provider.BuildToolResultMessage(results)...)
	}

	text := ""
	if last != nil {
		text = last.Text()
	}
	return &Result{AgentName: a.def.Name, Data: text, Usage: usage, StepsTaken: steps}, nil
}

// dispatchToolUses runs every tool call the model requested in one step
// concurrently via errgroup, preserving result order so each tool_result
// block can be matched back to its tool_use_id regardless of completion
// order.
func (a *Agent) dispatchToolUses(ctx context.Context, tc tool.Context, pol *model.PolicyProfile, uses []llm.ToolUse) ([]llm.ToolResultBlock, error) {
	results := make([]llm.ToolResultBlock, len(uses))

	g, gctx := errgroup.WithContext(ctx)
	for i, use := range uses {
		i, use := i, use
		g.Go(func() error {
			outcome, err := a.dispatch.Dispatch(gctx, tc, pol, use.Name, use.Input)
			block := llm.ToolResultBlock{ToolUseID: use.ID}
			if err != nil {
				block.IsError = true
				block.Text = err.Error()
			} else {
				block.Text = fmt.Sprintf("%v", outcome.Payload)
			}
			results[i] = block
			return nil
		})
	}
	// Dispatch never returns a fatal group error: a single tool failing is
	// reported as a tool_result error block, not a broken turn.
	_ = g.Wait()
	return results, nil
}
