package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rmax-ai/fhirgraph/pkg/client"
)

const defaultRowLimit = 50

// GraphClient is the part of the SDK the MCP server uses.
type GraphClient interface {
	Collections(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, collection string) (client.CollectionInfo, error)
	RowsByField(ctx context.Context, collection, field, value string, fn func(client.Row) error) error
	RowsByID(ctx context.Context, reqs []client.RowRequest, fn func(client.Row) error) error
}

// Server exposes a fhirgraph daemon over the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	graph     GraphClient
}

// NewServer creates a new MCP server instance.
func NewServer(graph GraphClient) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"fhirgraph",
			"1.0.0",
		),
		graph: graph,
	}
	s.registerResources()
	s.registerTools()
	s.registerPrompts()
	return s
}

// Serve starts the MCP server on stdio.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcpServer)
}

// --- Resources ---

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(
		"fhirgraph://collections",
		"Graph Collections",
		mcp.WithResourceDescription("Vertex collections (one per FHIR resource type) and edge collections (Type:field:edges)"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadCollections)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"describe_collection",
		mcp.WithDescription("List the fields a collection can be searched by."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name, e.g. 'Patient' or 'Observation:subject:edges'")),
	), s.handleDescribe)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_rows_by_field",
		mcp.WithDescription("Find rows whose field equals a value. On edge collections the field picks the direction."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("field", mcp.Required(), mcp.Description("Search field as returned by describe_collection, e.g. '$.Patient'")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value to match; for references, the target id")),
		mcp.WithNumber("limit", mcp.Description("Maximum rows to return (default 50)")),
	), s.handleRowsByField)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_row",
		mcp.WithDescription("Fetch one row by id."),
		mcp.WithString("collection", mcp.Required(), mcp.Description("Collection name")),
		mcp.WithString("id", mcp.Required(), mcp.Description("Resource id, or an edge id like 'Observation/o1:subject:Patient/p1'")),
	), s.handleGetRow)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"fhirgraph-aware",
		mcp.WithPromptDescription("Explains how FHIR resources are exposed as graph collections"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadCollections(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	names, err := s.graph.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	data, err := json.MarshalIndent(names, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal collections: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleDescribe(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := mcp.ParseString(request, "collection", "")
	if collection == "" {
		return mcp.NewToolResultError("collection is required"), nil
	}

	info, err := s.graph.Describe(ctx, collection)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return jsonResult(info)
}

var errLimitReached = errors.New("limit reached")

func (s *Server) handleRowsByField(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := mcp.ParseString(request, "collection", "")
	field := mcp.ParseString(request, "field", "")
	value := mcp.ParseString(request, "value", "")
	limit := int(mcp.ParseFloat64(request, "limit", defaultRowLimit))
	if collection == "" || field == "" {
		return mcp.NewToolResultError("collection and field are required"), nil
	}
	if limit <= 0 {
		limit = defaultRowLimit
	}

	rows := []client.Row{}
	err := s.graph.RowsByField(ctx, collection, field, value, func(r client.Row) error {
		rows = append(rows, r)
		if len(rows) >= limit {
			return errLimitReached
		}
		return nil
	})
	if err != nil && !errors.Is(err, errLimitReached) {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	return jsonResult(rows)
}

func (s *Server) handleGetRow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	collection := mcp.ParseString(request, "collection", "")
	id := mcp.ParseString(request, "id", "")
	if collection == "" || id == "" {
		return mcp.NewToolResultError("collection and id are required"), nil
	}

	var found *client.Row
	err := s.graph.RowsByID(ctx, []client.RowRequest{{Collection: collection, ID: id, RequestID: 1}}, func(r client.Row) error {
		found = &r
		return nil
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("API error: %v", err)), nil
	}
	if found == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no row %q in %s", id, collection)), nil
	}
	return jsonResult(found)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "fhirgraph-aware" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You are querying a FHIR server exposed as a property graph.

Concepts:
- Vertex collection: one per FHIR resource type (e.g. 'Patient'). Rows are the resources themselves.
- Edge collection: 'Type:field:edges' (e.g. 'Observation:subject:edges'), one row per reference
  from Type.field to a single target type. Edge rows look like {"Observation": "o1", "Patient": "p1"}.
- Edge ids have the form 'Type/id:field:Target/id'.

Use 'describe_collection' to learn the searchable fields before calling 'get_rows_by_field'.
Looking an edge up by its source side is cheap; by its target side scans every source resource.
`

	return mcp.NewGetPromptResult(
		"fhirgraph-aware",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
