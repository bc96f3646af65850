package api

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/coach/internal/agent"
	"github.com/kalambet/coach/internal/orchestrator"
)

// MCPDeps carries what the MCP tools need.
type MCPDeps struct {
	Orchestrator *orchestrator.Orchestrator
	Index        DomainLister
}

// DomainLister enumerates indexed domains. Implemented by
// retrieval.SQLiteIndexes.
type DomainLister interface {
	Domains() ([]string, error)
	Count(domain string) (int, error)
}

// NewMCPServer builds the MCP surface: the coaching operations as tools,
// served over stdio by `coach serve`.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"coach",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("coach — training sessions, mentor answers and assessments generated from locally indexed technical documentation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("coach_training",
			mcp.WithDescription("Generate a structured training session for an indexed knowledge domain at a difficulty level."),
			mcp.WithString("domain",
				mcp.Description("Knowledge domain to train on; see coach_domains for what is indexed."),
				mcp.Required(),
			),
			mcp.WithString("level",
				mcp.Description("Difficulty level: beginner, intermediate, advanced or architecture. Defaults to intermediate."),
			),
		),
		mcpTraining(deps),
	)

	s.AddTool(
		mcp.NewTool("coach_mentor",
			mcp.WithDescription("Answer a technical question grounded in the indexed documentation."),
			mcp.WithString("query",
				mcp.Description("The question to answer."),
				mcp.Required(),
			),
			mcp.WithString("domain",
				mcp.Description("Restrict retrieval to one domain; all domains are searched when omitted."),
			),
		),
		mcpMentor(deps),
	)

	s.AddTool(
		mcp.NewTool("coach_domains",
			mcp.WithDescription("List the indexed knowledge domains and their fragment counts."),
		),
		mcpDomains(deps),
	)

	return s
}

func mcpTraining(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		domain, err := req.RequireString("domain")
		if err != nil {
			return mcpError("domain is required"), nil
		}
		level := req.GetString("level", "intermediate")

		result, err := deps.Orchestrator.Handle(ctx, orchestrator.KindTraining, agent.Request{
			Domain: domain,
			Level:  level,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("generating training for %s: %v", domain, err)), nil
		}
		return mcpText(result.Content), nil
	}
}

func mcpMentor(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		result, err := deps.Orchestrator.Handle(ctx, orchestrator.KindMentor, agent.Request{
			Query:  query,
			Domain: req.GetString("domain", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("answering question: %v", err)), nil
		}
		return mcpText(result.Content), nil
	}
}

func mcpDomains(deps MCPDeps) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		names, err := deps.Index.Domains()
		if err != nil {
			return mcpError(fmt.Sprintf("listing domains: %v", err)), nil
		}
		if len(names) == 0 {
			return mcpText("No domains indexed yet. Run `coach index <domain> <files...>` to build one."), nil
		}

		var b strings.Builder
		for _, name := range names {
			n, err := deps.Index.Count(name)
			if err != nil {
				fmt.Fprintf(&b, "%s\n", name)
				continue
			}
			fmt.Fprintf(&b, "%s: %d fragments\n", name, n)
		}
		return mcpText(b.String()), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
