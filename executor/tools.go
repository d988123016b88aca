package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/playbooks-run/core/perr"
)

// NativeFunc is a Go-native tool callable from embedded-code playbooks
// (spec §4.8: "bare names refer to frame locals first, then tool
// namespace").
type NativeFunc func(ctx context.Context, args []Value) (Value, error)

// ToolNamespace resolves bare names against registered native Go
// functions and, for names of the form "server.tool", against connected
// MCP servers — grounded on hector's mcptoolset.Toolset lazy-connection
// wrapper (pkg/tool/mcptoolset/mcptoolset.go), adapted from a Tool
// interface implementation to the executor's NameResolver contract.
type ToolNamespace struct {
	mu      sync.RWMutex
	native  map[string]NativeFunc
	clients map[string]*client.Client
}

// NewToolNamespace creates an empty tool namespace.
func NewToolNamespace() *ToolNamespace {
	return &ToolNamespace{native: map[string]NativeFunc{}, clients: map[string]*client.Client{}}
}

// RegisterNative exposes a Go function under name.
func (t *ToolNamespace) RegisterNative(name string, fn NativeFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.native[name] = fn
}

// RegisterMCPServer exposes an already-connected MCP client under server
// name; its tools are addressed as "server.toolName".
func (t *ToolNamespace) RegisterMCPServer(server string, c *client.Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[server] = c
}

// Resolve implements NameResolver: a bare name that names a registered
// tool resolves to a CallableRef; unknown names fail the lookup so the
// caller can try the next resolution tier (peer-agent proxies).
func (t *ToolNamespace) Resolve(name string) (Value, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.native[name]; ok {
		return CallableRef(name), true
	}
	if server, _, ok := strings.Cut(name, "."); ok {
		if _, ok := t.clients[server]; ok {
			return CallableRef(name), true
		}
	}
	return Nil(), false
}

// Call invokes a resolved callable ref with positional arguments. ok is
// false when name matches neither a native function nor an MCP server.
func (t *ToolNamespace) Call(ctx context.Context, name string, args []Value) (Value, bool, error) {
	t.mu.RLock()
	fn, isNative := t.native[name]
	t.mu.RUnlock()
	if isNative {
		v, err := fn(ctx, args)
		return v, true, err
	}

	server, toolName, hasDot := strings.Cut(name, ".")
	if !hasDot {
		return Nil(), false, nil
	}
	t.mu.RLock()
	c, ok := t.clients[server]
	t.mu.RUnlock()
	if !ok {
		return Nil(), false, nil
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = argsToMap(args)

	resp, err := c.CallTool(ctx, req)
	if err != nil {
		return Nil(), true, perr.New(perr.KindToolError, "executor", "ToolNamespace.Call", name, err)
	}
	return parseMCPResult(resp), true, nil
}

// argsToMap adapts the executor's positional Value arguments to the
// name->value map MCP tool calls expect; positional args are exposed
// under "arg0", "arg1", ... for tools that accept a single JSON object.
func argsToMap(args []Value) map[string]any {
	m := make(map[string]any, len(args))
	for i, a := range args {
		m[fmt.Sprintf("arg%d", i)] = a.ToNative()
	}
	return m
}

// parseMCPResult mirrors hector's mcptoolset response parsing
// (pkg/tool/mcptoolset/mcptoolset.go parseToolResponse): collect text
// content, surface an error string on IsError.
func parseMCPResult(resp *mcp.CallToolResult) Value {
	if resp == nil {
		return Nil()
	}
	if resp.IsError {
		for _, c := range resp.Content {
			if tc, ok := c.(mcp.TextContent); ok {
				return Mapping(map[string]Value{"error": Str(tc.Text)})
			}
		}
		return Mapping(map[string]Value{"error": Str("unknown error")})
	}
	var texts []Value
	for _, c := range resp.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			texts = append(texts, Str(tc.Text))
		}
	}
	switch len(texts) {
	case 0:
		return Nil()
	case 1:
		return texts[0]
	default:
		return Seq(texts)
	}
}
