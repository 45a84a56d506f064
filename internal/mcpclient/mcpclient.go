// Package mcpclient implements the remote tool transport: open session ->
// initialize -> list_tools -> zero or more call_tool(name, params), over
// mark3labs/mcp-go's streaming HTTP client.
// Results carry an isError flag and a content-block array; text blocks are
// parsed as JSON when possible, otherwise wrapped as {"result": text}.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// Session wraps one connector's live MCP connection: dial once, initialize
// once, reuse for every call_tool until the connector is revoked or the
// process shuts down.
type Session struct {
	cli     client.MCPClient
	connID  string
	timeout time.Duration
}

// Dial opens a streaming HTTP session to an MCP server and runs the
// initialize handshake. authHeader, if non-empty, is attached as
// Authorization on every request (bearer tokens; API-key auth is attached
// the same way by the caller).
func Dial(ctx context.Context, connID, serverURL, authHeader string, timeout time.Duration) (*Session, error) {
	var opts []transport.StreamableHTTPCOption
	if authHeader != "" {
		opts = append(opts, transport.WithHTTPHeaders(map[string]string{"Authorization": authHeader}))
	}

	cli, err := client.NewStreamableHttpClient(serverURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: dial %s: %w", connID, err)
	}

	if err := cli.Start(ctx); err != nil {
		return nil, fmt.Errorf("mcpclient: start session %s: %w", connID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "chatcore", Version: "1.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("mcpclient: initialize %s: %w", connID, err)
	}

	return &Session{cli: cli, connID: connID, timeout: timeout}, nil
}

// Close releases the underlying connection.
func (s *Session) Close() error { return s.cli.Close() }

// ToolDescriptor mirrors the discovered-tool cache persisted on
// McpConnector.DiscoveredTools.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ListTools calls list_tools and returns the server's advertised tool
// descriptors, for caching on the connector row.
func (s *Session) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	res, err := s.cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("mcpclient: list_tools on %s: %w", s.connID, err)
	}

	out := make([]ToolDescriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		schema, _ := json.Marshal(t.InputSchema)
		var schemaMap map[string]any
		_ = json.Unmarshal(schema, &schemaMap)
		out = append(out, ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: schemaMap})
	}
	return out, nil
}

// CallResult is the parsed outcome of a remote call_tool invocation.
type CallResult struct {
	IsError bool
	Result  any
}

// CallTool invokes a remote tool and parses its content blocks: a text
// block is JSON-decoded when possible, otherwise returned verbatim wrapped
// as {"result": text}.
func (s *Session) CallTool(ctx context.Context, name string, params map[string]any) (*CallResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = params

	res, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("mcpclient: call_tool %s on %s: %w", name, s.connID, err)
	}

	return &CallResult{IsError: res.IsError, Result: parseContent(res.Content)}, nil
}

func parseContent(blocks []mcp.Content) any {
	if len(blocks) == 0 {
		return nil
	}
	if len(blocks) == 1 {
		return parseOneBlock(blocks[0])
	}
	results := make([]any, 0, len(blocks))
	for _, b := range blocks {
		results = append(results, parseOneBlock(b))
	}
	return results
}

func parseOneBlock(b mcp.Content) any {
	text, ok := b.(mcp.TextContent)
	if !ok {
		return b
	}
	var decoded any
	if err := json.Unmarshal([]byte(text.Text), &decoded); err == nil {
		return decoded
	}
	return map[string]any{"result": text.Text}
}
