// Package mcpserver exposes the dispatcher's tools over the Model Context
// Protocol, on stdio or streamable HTTP.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anirudhbiyani/aws-mcp/pkg/awsmcp"
)

const (
	// ServerName is the implementation name reported to clients.
	ServerName = "aws-mcp"

	// AccountArgument is the argument every tool accepts to select an account.
	AccountArgument = "account"
)

// Server adapts a Dispatcher to an MCP server.
type Server struct {
	dispatcher *awsmcp.Dispatcher
	mcpServer  *mcp.Server
	logger     *slog.Logger
	version    string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithVersion sets the version reported to clients.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// New registers every tool of d on a new MCP server.
func New(d *awsmcp.Dispatcher, opts ...Option) (*Server, error) {
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	s := &Server{dispatcher: d, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.mcpServer = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: s.version}, &mcp.ServerOptions{
		Instructions: "AWS operations across configured accounts. Pass \"account\" to select a non-default account.",
	})

	names, def := d.Accounts()
	for _, spec := range d.Tools() {
		tool := &mcp.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: withAccount(spec.InputSchema, names, def),
			Annotations: annotations(spec),
		}
		s.mcpServer.AddTool(tool, s.handler(spec.Name))
	}
	s.logger.Debug("mcp tools registered", "tools", len(d.Tools()), "accounts", names)
	return s, nil
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

func (s *Server) handler(name string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var raw json.RawMessage
		if req != nil && req.Params != nil {
			raw = req.Params.Arguments
		}
		args, account := splitAccount(raw)

		res := s.dispatcher.Dispatch(ctx, name, args, account)
		body, err := res.JSON()
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(body)}},
			IsError: res.IsError(),
		}, nil
	}
}

// splitAccount removes a string "account" argument and returns it as the
// account hint. Anything else is passed through for the tool to validate.
func splitAccount(raw json.RawMessage) (json.RawMessage, string) {
	if len(raw) == 0 {
		return raw, ""
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return raw, ""
	}
	value, ok := fields[AccountArgument]
	if !ok {
		return raw, ""
	}
	var account string
	if err := json.Unmarshal(value, &account); err != nil {
		return raw, ""
	}
	delete(fields, AccountArgument)
	stripped, err := json.Marshal(fields)
	if err != nil {
		return raw, ""
	}
	return stripped, account
}

// withAccount returns a copy of schema with an optional account property.
func withAccount(schema *jsonschema.Schema, accounts []string, defaultAccount string) *jsonschema.Schema {
	var out jsonschema.Schema
	if schema != nil {
		out = *schema
	}
	out.Type = "object"
	out.Properties = maps.Clone(out.Properties)
	if out.Properties == nil {
		out.Properties = make(map[string]*jsonschema.Schema)
	}

	prop := &jsonschema.Schema{
		Type:        "string",
		Description: fmt.Sprintf("Account to run against. Defaults to %q.", defaultAccount),
	}
	for _, name := range accounts {
		prop.Enum = append(prop.Enum, name)
	}
	out.Properties[AccountArgument] = prop
	out.Required = slices.DeleteFunc(slices.Clone(out.Required), func(r string) bool {
		return r == AccountArgument
	})
	return &out
}

func annotations(spec awsmcp.ToolSpec) *mcp.ToolAnnotations {
	readOnly := !spec.Mutating
	a := &mcp.ToolAnnotations{ReadOnlyHint: readOnly}
	if spec.Mutating {
		destructive := true
		a.DestructiveHint = &destructive
	}
	return a
}
