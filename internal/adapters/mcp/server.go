// Package mcp exposes the retry pipeline as MCP tools over stdio, so other
// agent hosts can trigger validated task runs.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/checkloop/checkloop/internal/orchestrator"
	"github.com/checkloop/checkloop/internal/script"
	"github.com/checkloop/checkloop/pkg/domain"
)

// Runner executes one validated task. The orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, task orchestrator.Task) (domain.RunResult, error)
}

// ModelLister exposes the engine's model catalog.
type ModelLister interface {
	ListModels(ctx context.Context) ([]domain.ModelInfo, error)
}

// Server wraps the orchestrator as an MCP server.
type Server struct {
	runner    Runner
	models    ModelLister
	mcpServer *server.MCPServer
}

// NewServer creates the MCP server instance.
func NewServer(runner Runner, models ModelLister, version string) *Server {
	s := &Server{
		runner:    runner,
		models:    models,
		mcpServer: server.NewMCPServer("checkloop", version),
	}
	s.registerTools()
	return s
}

// ServeStdio serves on stdin/stdout until the peer disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

func (s *Server) registerTools() {
	runTool := mcp.NewTool("run_task",
		mcp.WithDescription("Run an agent task and validate the result with a script, retrying with feedback until it passes."),
		mcp.WithString("prompt", mcp.Required(), mcp.Description("Task prompt for the agent")),
		mcp.WithString("script", mcp.Description("Validation script: a .py/.js file, a python:/js: inline snippet, or bare code with runtime set")),
		mcp.WithString("runtime", mcp.Description("Script runtime when not inferable: python or javascript")),
		mcp.WithString("workspace", mcp.Description("Workspace root for file-based scripts")),
		mcp.WithNumber("max_retries", mcp.Description("Validation attempts before giving up")),
		mcp.WithString("timeout", mcp.Description("Per-session timeout as a duration string, e.g. 5m")),
	)
	s.mcpServer.AddTool(runTool, s.handleRunTask)

	listTool := mcp.NewTool("list_models",
		mcp.WithDescription("List the models available from the reasoning engine."),
	)
	s.mcpServer.AddTool(listTool, s.handleListModels)
}

func (s *Server) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return mcp.NewToolResultError("prompt is required"), nil
	}

	rt, err := script.ParseRuntime(stringArg(args, "runtime"))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	task := orchestrator.Task{
		Prompt:        prompt,
		Script:        stringArg(args, "script"),
		Runtime:       rt,
		WorkspaceRoot: stringArg(args, "workspace"),
	}
	if n, ok := args["max_retries"].(float64); ok {
		task.MaxRetries = int(n)
	}
	if raw := stringArg(args, "timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid timeout: %v", err)), nil
		}
		task.SessionTimeout = d
	}

	result, err := s.runner.Run(ctx, task)
	if err != nil {
		result = domain.RunResult{Error: err.Error()}
	}
	payload, _ := json.Marshal(result)
	if !result.Success {
		return mcp.NewToolResultError(string(payload)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleListModels(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models, err := s.models.ListModels(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing models failed: %v", err)), nil
	}
	payload, _ := json.Marshal(models)
	return mcp.NewToolResultText(string(payload)), nil
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
