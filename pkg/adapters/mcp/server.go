// Package mcp exposes the canvas to language-model agents as Model Context
// Protocol tools. Every tool runs as the trusted AI client through the
// protocol dispatcher, so agents are held to the same validation as any other
// client.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"

	"github.com/loomwm/loom/internal/logging"
	"github.com/loomwm/loom/internal/presentation/graph"
	"github.com/loomwm/loom/pkg/domain"
	"github.com/loomwm/loom/pkg/protocol"
)

const (
	canvasURI = "loom://canvas"
	graphURI  = "loom://graph"
)

// Inspector provides the read models served as resources.
type Inspector interface {
	Snapshot(ctx context.Context) (*domain.Snapshot, error)
}

// Server wraps the dispatcher as an MCP server.
type Server struct {
	dispatcher *protocol.Dispatcher
	inspector  Inspector
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithInspector enables the canvas and graph resources.
func WithInspector(i Inspector) Option {
	return func(s *Server) { s.inspector = i }
}

// NewServer creates an MCP server for d.
func NewServer(d *protocol.Dispatcher, version string, opts ...Option) *Server {
	s := &Server{
		dispatcher: d,
		logger:     logging.NewNop(),
		mcpServer:  server.NewMCPServer("loom-mcp", strings.TrimSpace(version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	if s.inspector != nil {
		s.registerResources()
	}
	return s
}

// ServeStdio serves on stdin and stdout until the streams close.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// SSEHandler returns an http.Handler serving the SSE transport under /sse
// and /message. baseURL is the externally visible address of the handler.
func (s *Server) SSEHandler(baseURL string) http.Handler {
	sse := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))
	mux := http.NewServeMux()
	mux.Handle("/sse", sse.SSEHandler())
	mux.Handle("/message", sse.MessageHandler())
	return mux
}

// toolArgs is the union of every tool's arguments.
type toolArgs struct {
	NodeID   domain.NodeID         `mapstructure:"node_id"`
	X        float64               `mapstructure:"x"`
	Y        float64               `mapstructure:"y"`
	Width    float64               `mapstructure:"width"`
	Height   float64               `mapstructure:"height"`
	Scale    float64               `mapstructure:"scale"`
	Rotation float64               `mapstructure:"rotation"`
	Z        int                   `mapstructure:"z_order"`
	Label    string                `mapstructure:"label"`
	Kind     domain.NodeKind       `mapstructure:"kind"`
	Content  string                `mapstructure:"content"`
	Text     string                `mapstructure:"text"`
	Path     string                `mapstructure:"path"`
	Children []domain.NodeID       `mapstructure:"children"`
	Source   domain.NodeID         `mapstructure:"source"`
	Target   domain.NodeID         `mapstructure:"target"`
	Relation domain.ConnectionKind `mapstructure:"relation"`
	Directed bool                  `mapstructure:"directed"`
}

func decodeArgs(req mcp.CallToolRequest) (toolArgs, error) {
	var args toolArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &args,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return args, err
	}
	if err := dec.Decode(req.GetArguments()); err != nil {
		return args, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return args, nil
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("create_node",
		mcp.WithDescription("Create a free-standing node on the canvas. Returns the new node."),
		mcp.WithNumber("x", mcp.Required(), mcp.Description("Left edge in canvas units")),
		mcp.WithNumber("y", mcp.Required(), mcp.Description("Top edge in canvas units")),
		mcp.WithNumber("width", mcp.Required(), mcp.Description("Width in canvas units, positive")),
		mcp.WithNumber("height", mcp.Required(), mcp.Description("Height in canvas units, positive")),
		mcp.WithString("label", mcp.Description("Optional text label")),
		mcp.WithNumber("scale", mcp.Description("Scale factor, defaults to 1")),
		mcp.WithNumber("rotation", mcp.Description("Rotation in radians")),
		mcp.WithNumber("z_order", mcp.Description("Stacking order, higher is on top")),
		mcp.WithString("kind", mcp.Description("What the node holds, defaults to note"),
			mcp.Enum(string(domain.NodeNote), string(domain.NodeGenerated), string(domain.NodeGroup), string(domain.NodeMedia))),
		mcp.WithString("content", mcp.Description("Generated content, for kind generated")),
		mcp.WithString("text", mcp.Description("Note text, for kind note")),
		mcp.WithString("path", mcp.Description("Media file path, required for kind media")),
		mcp.WithArray("children", mcp.WithNumberItems(), mcp.Description("Ids of live nodes, for kind group")),
	), s.command(func(a toolArgs) domain.Command {
		return domain.Command{
			Kind: domain.CommandCreateNode,
			Geometry: domain.Geometry{
				X: a.X, Y: a.Y, Width: a.Width, Height: a.Height,
				Scale: a.Scale, Rotation: a.Rotation, Z: a.Z,
			},
			Label: a.Label,
			Content: domain.Content{
				Kind: a.Kind, Body: a.Content, Text: a.Text, Path: a.Path, Children: a.Children,
			},
		}
	}))

	s.mcpServer.AddTool(mcp.NewTool("move_node",
		mcp.WithDescription("Move a node so its top-left corner is at (x, y)."),
		mcp.WithNumber("node_id", mcp.Required()),
		mcp.WithNumber("x", mcp.Required()),
		mcp.WithNumber("y", mcp.Required()),
	), s.command(func(a toolArgs) domain.Command {
		return domain.Command{Kind: domain.CommandMoveNode, Node: a.NodeID, X: a.X, Y: a.Y}
	}))

	s.mcpServer.AddTool(mcp.NewTool("create_connection",
		mcp.WithDescription("Connect two nodes."),
		mcp.WithNumber("source", mcp.Required()),
		mcp.WithNumber("target", mcp.Required()),
		mcp.WithString("relation", mcp.Required(), mcp.Enum("data", "reference", "temporal")),
		mcp.WithBoolean("directed", mcp.Description("Whether the connection points from source to target")),
	), s.command(func(a toolArgs) domain.Command {
		return domain.Command{
			Kind: domain.CommandCreateConnection, Source: a.Source, Target: a.Target,
			Relation: a.Relation, Directed: a.Directed,
		}
	}))

	s.mcpServer.AddTool(mcp.NewTool("get_node_info",
		mcp.WithDescription("Read the geometry and label of a node."),
		mcp.WithNumber("node_id", mcp.Required()),
	), s.request(func(a toolArgs) (protocol.Op, any) {
		return protocol.OpGetNodeInfo, protocol.NodeParams{NodeID: a.NodeID}
	}))

	s.mcpServer.AddTool(mcp.NewTool("destroy_node",
		mcp.WithDescription("Destroy a node and every connection touching it."),
		mcp.WithNumber("node_id", mcp.Required()),
	), s.request(func(a toolArgs) (protocol.Op, any) {
		return protocol.OpDestroyNode, protocol.NodeParams{NodeID: a.NodeID}
	}))

	s.mcpServer.AddTool(mcp.NewTool("query_region",
		mcp.WithDescription("List the nodes intersecting a canvas rectangle, bottom to top."),
		mcp.WithNumber("x", mcp.Required()),
		mcp.WithNumber("y", mcp.Required()),
		mcp.WithNumber("width", mcp.Required()),
		mcp.WithNumber("height", mcp.Required()),
	), s.request(func(a toolArgs) (protocol.Op, any) {
		return protocol.OpQueryRegion, protocol.QueryRegionParams{
			Region: domain.Rect{X: a.X, Y: a.Y, Width: a.Width, Height: a.Height},
		}
	}))

	s.mcpServer.AddTool(mcp.NewTool("get_connections",
		mcp.WithDescription("List the connections touching a node."),
		mcp.WithNumber("node_id", mcp.Required()),
	), s.request(func(a toolArgs) (protocol.Op, any) {
		return protocol.OpConnectionsOf, protocol.NodeParams{NodeID: a.NodeID}
	}))
}

// command builds a tool handler that runs an AI command.
func (s *Server) command(build func(toolArgs) domain.Command) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.result(req.Params.Name, s.dispatcher.Execute(ctx, build(args))), nil
	}
}

// request builds a tool handler that issues a protocol request as the AI
// client.
func (s *Server) request(build func(toolArgs) (protocol.Op, any)) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := decodeArgs(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		op, params := build(args)
		preq, err := protocol.NewRequest(op, params)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if _, err := s.dispatcher.ConnectTrusted(protocol.AIClient); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return s.result(req.Params.Name, s.dispatcher.Handle(ctx, protocol.AIClient, preq)), nil
	}
}

func (s *Server) result(tool string, resp protocol.Response) *mcp.CallToolResult {
	if err := resp.Err(); err != nil {
		s.logger.Debug("tool failed", "tool", tool, "error", err)
		return mcp.NewToolResultError(err.Error())
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(canvasURI, "Canvas Snapshot",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := s.inspector.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot canvas: %w", err)
		}
		data, err := json.Marshal(snap)
		if err != nil {
			return nil, err
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{URI: canvasURI, MIMEType: "application/json", Text: string(data)},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource(graphURI, "Connection Graph",
		mcp.WithMIMEType("text/plain"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap, err := s.inspector.Snapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot canvas: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      graphURI,
				MIMEType: "text/plain",
				Text:     graph.GenerateMermaid(snap.Nodes, snap.Connections, nil),
			},
		}, nil
	})
}
