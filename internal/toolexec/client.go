package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ToolServerClient is a thin HTTP client over the tool-server API: task
// workspace creation, tool execution, and the tool-confirmation round trip.
// Timeouts are long because some tools run for minutes, unlike the LLM
// Client's much tighter streaming budgets.
type ToolServerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewToolServerClient builds a client against baseURL (config.ToolConfig's
// tools_server). timeout bounds a single tool execution call; pass 0 for
// the long-running-tool default of 10 minutes.
func NewToolServerClient(baseURL string, timeout time.Duration) *ToolServerClient {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &ToolServerClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ToolExecuteResponse is the tool-server's `/api/tool/execute` response
// shape: `{success, data?, error?}`.
type ToolExecuteResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CreateTask idempotently provisions the tool-server workspace for taskID.
func (c *ToolServerClient) CreateTask(ctx context.Context, taskID string) error {
	return c.postJSON(ctx, "/api/task/create", map[string]string{"task_id": taskID}, nil)
}

// TaskStatus checks whether the tool-server already has a workspace for taskID.
func (c *ToolServerClient) TaskStatus(ctx context.Context, taskID string) (bool, error) {
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/api/task/%s/status", taskID), &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// ExecuteTool calls `POST /api/tool/execute {task_id, tool_name, params}`.
func (c *ToolServerClient) ExecuteTool(ctx context.Context, taskID, toolName string, params json.RawMessage) (*ToolExecuteResponse, error) {
	var out ToolExecuteResponse
	body := map[string]any{"task_id": taskID, "tool_name": toolName, "params": json.RawMessage(params)}
	if err := c.postJSON(ctx, "/api/tool/execute", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConfirmation registers a pending tool-confirmation request.
func (c *ToolServerClient) CreateConfirmation(ctx context.Context, confirmID, taskID, toolName string, arguments json.RawMessage) error {
	body := map[string]any{
		"confirm_id": confirmID,
		"task_id":    taskID,
		"tool_name":  toolName,
		"arguments":  json.RawMessage(arguments),
	}
	return c.postJSON(ctx, "/api/tool-confirmation/create", body, nil)
}

// ConfirmationStatus is the decoded shape of `GET /api/tool-confirmation/{id}`.
type ConfirmationStatus struct {
	Resolved bool `json:"resolved"`
	Approved bool `json:"approved"`
}

// GetConfirmation polls the current state of a pending confirmation.
func (c *ToolServerClient) GetConfirmation(ctx context.Context, confirmID string) (*ConfirmationStatus, error) {
	var out ConfirmationStatus
	if err := c.getJSON(ctx, "/api/tool-confirmation/"+confirmID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *ToolServerClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, path, out)
}

func (c *ToolServerClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, path, out)
}

func (c *ToolServerClient) do(req *http.Request, path string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tool-server request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			return fmt.Errorf("tool-server request %s failed: %s (read body: %w)", path, resp.Status, readErr)
		}
		if len(bodyBytes) > 0 {
			return fmt.Errorf("tool-server request %s failed: %s (%s)", path, resp.Status, strings.TrimSpace(string(bodyBytes)))
		}
		return fmt.Errorf("tool-server request %s failed: %s", path, resp.Status)
	}

	if out == nil {
		return nil
	}
	decoder := json.NewDecoder(resp.Body)
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("tool-server decode %s: %w", path, err)
	}
	return nil
}
