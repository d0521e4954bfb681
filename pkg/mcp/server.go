package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/isWangjianhua/GenPulse/pkg/client"
)

// maxWait bounds how long the get_task tool blocks when asked to wait.
const maxWait = 10 * time.Minute

// Server exposes the GenPulse gateway over the Model Context Protocol.
type Server struct {
	mcpServer *server.MCPServer
	apiClient *client.Client
}

// NewServer creates a new MCP server instance backed by the gateway at apiURL.
func NewServer(apiURL string, opts ...client.Option) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"genpulse",
			"1.0.0",
		),
		apiClient: client.NewClient(apiURL, opts...),
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
		"genpulse://tasks",
		"Recent Tasks",
		mcp.WithResourceDescription("The 50 most recent generation tasks with status and progress"),
		mcp.WithMIMEType("application/json"),
	), s.handleReadTasks)
}

// --- Tools ---

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"submit_task",
		mcp.WithDescription("Queue an image, video or speech generation task. Returns the task id."),
		mcp.WithString("provider", mcp.Required(), mcp.Description("Backend name, e.g. 'kling', 'minimax', 'volcengine', 'dashscope', 'tencent' or 'mock'")),
		mcp.WithString("task_type", mcp.Required(), mcp.Description("Operation, e.g. 'text-to-image', 'text-to-video', 'image-to-video'")),
		mcp.WithObject("params", mcp.Description("Provider parameters such as prompt, model and image_url")),
		mcp.WithString("priority", mcp.Description("high, normal or low (default normal)")),
	), s.handleSubmitTask)

	s.mcpServer.AddTool(mcp.NewTool(
		"get_task",
		mcp.WithDescription("Fetch the status, progress and result of a task. Set wait to block until it finishes."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Id returned by submit_task")),
		mcp.WithBoolean("wait", mcp.Description("Poll until the task is completed or failed")),
	), s.handleGetTask)
}

// --- Prompts ---

func (s *Server) registerPrompts() {
	s.mcpServer.AddPrompt(mcp.NewPrompt(
		"genpulse-guide",
		mcp.WithPromptDescription("Explains how to generate media through GenPulse"),
	), s.handleGetPrompt)
}

// --- Handlers ---

func (s *Server) handleReadTasks(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tasks, err := s.apiClient.List(ctx, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tasks: %w", err)
	}

	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tasks: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      request.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleSubmitTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req := client.SubmitRequest{
		Provider: mcp.ParseString(request, "provider", ""),
		TaskType: mcp.ParseString(request, "task_type", ""),
		Priority: mcp.ParseString(request, "priority", ""),
	}
	if params, ok := mcp.ParseArgument(request, "params", nil).(map[string]any); ok {
		req.Params = params
	}

	accepted, err := s.apiClient.Submit(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("submit failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task %s queued (status: %s)", accepted.TaskID, accepted.Status)), nil
}

func (s *Server) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if taskID == "" {
		return mcp.NewToolResultError("task_id is required"), nil
	}

	var (
		task client.Task
		err  error
	)
	if mcp.ParseBoolean(request, "wait", false) {
		waitCtx, cancel := context.WithTimeout(ctx, maxWait)
		defer cancel()
		task, err = s.apiClient.Wait(waitCtx, taskID, nil, nil)
	} else {
		task, err = s.apiClient.Get(ctx, taskID)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
	}

	return mcp.NewToolResultText(describe(task)), nil
}

func describe(t client.Task) string {
	msg := fmt.Sprintf("Task %s: %s (%d%%)", t.TaskID, t.Status, t.Progress)
	switch t.Status {
	case client.StatusCompleted:
		if art, err := t.Artifact(); err == nil && art != nil {
			if art.URL != "" {
				msg += "\nResult: " + art.URL
			}
			for _, u := range art.URLs {
				if u != art.URL {
					msg += "\nResult: " + u
				}
			}
		}
	case client.StatusFailed:
		msg += "\nError: " + t.Error
	}
	return msg
}

func (s *Server) handleGetPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := request.Params.Name
	if name != "genpulse-guide" {
		return nil, fmt.Errorf("prompt not found: %s", name)
	}

	promptText := `You can generate images, videos and speech through GenPulse, a gateway in front of several media-generation vendors.

Generation is asynchronous:
1. Call 'submit_task' with a provider, a task_type and params (at least a prompt). You get a task id back.
2. Call 'get_task' with that id. Pass wait=true to block until the task is completed or failed.
3. A completed task carries one or more result URLs. A failed task carries a short error message.

Video tasks often take several minutes. Do not resubmit a task that is still pending or processing.
`

	return mcp.NewGetPromptResult(
		"genpulse-guide",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(promptText)),
		},
	), nil
}
