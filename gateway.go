package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ToolGateway dispatches named tool calls to the upstream API. The concrete
// OpenAPI translation engine is a plug-in behind this interface; failures are
// always surfaced to the caller.
type ToolGateway interface {
	Tools() []mcp.Tool
	Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

type openapiGateway struct {
	client     *upstreamClient
	operations map[string]apiOperation
	tools      []mcp.Tool
}

func newOpenAPIGateway(spec map[string]any, client *upstreamClient) (*openapiGateway, error) {
	operations, err := parseOperations(spec)
	if err != nil {
		return nil, err
	}
	g := &openapiGateway{
		client:     client,
		operations: make(map[string]apiOperation, len(operations)),
	}
	for _, op := range operations {
		if _, exists := g.operations[op.Name]; exists {
			return nil, fmt.Errorf("duplicate operation name %q in spec", op.Name)
		}
		g.operations[op.Name] = op
		g.tools = append(g.tools, toolForOperation(op))
	}
	sort.Slice(g.tools, func(i, j int) bool { return g.tools[i].Name < g.tools[j].Name })
	return g, nil
}

func (g *openapiGateway) Tools() []mcp.Tool {
	return g.tools
}

func (g *openapiGateway) Call(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	op, ok := g.operations[name]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	reqPath, query, bodyArgs, err := op.bindArguments(args)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}

	var body io.Reader
	if methodHasBody(op.Method) && len(bodyArgs) > 0 {
		data, err := json.Marshal(bodyArgs)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", name, err)
		}
		body = bytes.NewReader(data)
	}

	resp, err := g.client.do(ctx, op.Method, reqPath, query, body)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mcp.NewToolResultError(fmt.Sprintf("upstream returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// bindArguments splits the caller's arguments into path substitutions, query
// parameters, and remaining body fields, per the operation's declarations.
func (op apiOperation) bindArguments(args map[string]any) (string, url.Values, map[string]any, error) {
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}

	reqPath := op.Path
	query := url.Values{}
	for _, param := range op.Parameters {
		value, present := remaining[param.Name]
		if !present {
			if param.Required {
				return "", nil, nil, fmt.Errorf("missing required argument %q", param.Name)
			}
			continue
		}
		switch param.In {
		case "path":
			reqPath = strings.ReplaceAll(reqPath, "{"+param.Name+"}", url.PathEscape(argString(value)))
			delete(remaining, param.Name)
		case "query":
			query.Add(param.Name, argString(value))
			delete(remaining, param.Name)
		}
	}
	if strings.Contains(reqPath, "{") {
		return "", nil, nil, fmt.Errorf("unresolved path parameters in %s", op.Path)
	}
	return reqPath, query, remaining, nil
}

func argString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == math.Trunc(val) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		data, _ := json.Marshal(val)
		return string(data)
	}
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// newMCPServer registers every generated tool on an MCP server so the full
// protocol (initialize, tools/list, tools/call) is served next to the
// keepalive channel.
func newMCPServer(gateway ToolGateway) *server.MCPServer {
	srv := server.NewMCPServer(serviceName, serviceVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	for _, tool := range gateway.Tools() {
		toolName := tool.Name
		srv.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return gateway.Call(ctx, toolName, request.GetArguments())
		})
	}
	return srv
}
