package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// ToolType distinguishes the three tool interaction models.
type ToolType string

const (
	ToolForm     ToolType = "FORM"
	ToolChat     ToolType = "CHAT"
	ToolSchedule ToolType = "SCHEDULE"
)

// Tool is a catalog entry.
type Tool struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Slug             string         `json:"slug,omitempty"`
	Description      string         `json:"description"`
	ShortDescription string         `json:"shortDescription,omitempty"`
	CreditCost       int            `json:"creditCost"`
	Type             ToolType       `json:"type"`
	IsActive         bool           `json:"isActive"`
	IsFeatured       bool           `json:"isFeatured"`
	Config           map[string]any `json:"config,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
}

// ExecutionStatus is the lifecycle state of a tool run.
type ExecutionStatus string

const (
	StatusPending ExecutionStatus = "PENDING"
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFailed  ExecutionStatus = "FAILED"
	StatusTimeout ExecutionStatus = "TIMEOUT"
)

// ToolUsage records one execution of a tool.
type ToolUsage struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	ToolID          string          `json:"toolId"`
	CreditsUsed     int             `json:"creditsUsed"`
	Status          ExecutionStatus `json:"status"`
	RequestPayload  map[string]any  `json:"requestPayload,omitempty"`
	ResponseData    map[string]any  `json:"responseData,omitempty"`
	ExecutionTimeMs *int64          `json:"executionTimeMs,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// ListTools returns the tool catalog, optionally filtered by category slug.
func (c *Client) ListTools(ctx context.Context, category string) ([]*Tool, error) {
	params := url.Values{}
	if category != "" {
		params.Set("category", category)
	}
	var tools []*Tool
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/tools", params, nil, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// GetTool returns one catalog entry.
func (c *Client) GetTool(ctx context.Context, toolID string) (*Tool, error) {
	var tool Tool
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/tools/"+url.PathEscape(toolID), nil, nil, &tool); err != nil {
		return nil, err
	}
	if tool.ID == "" {
		return nil, errors.New("tool not found")
	}
	return &tool, nil
}

// ExecuteTool runs a form tool against the backend with the given payload.
func (c *Client) ExecuteTool(ctx context.Context, toolID string, payload map[string]any) (*ToolUsage, error) {
	var usage ToolUsage
	path := "/api/public/tools/" + url.PathEscape(toolID) + "/execute"
	if err := c.unwrap(ctx, http.MethodPost, path, nil, map[string]any{"input": payload}, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}
