package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// ListExecutionsParams filters execution history.
type ListExecutionsParams struct {
	ToolID string
	Status ExecutionStatus
	Limit  int
	Offset int
}

// ListExecutions returns the user's tool execution history, newest first.
func (c *Client) ListExecutions(ctx context.Context, params ListExecutionsParams) ([]*ToolUsage, error) {
	query := url.Values{}
	if params.ToolID != "" {
		query.Set("toolId", params.ToolID)
	}
	if params.Status != "" {
		query.Set("status", string(params.Status))
	}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Offset > 0 {
		query.Set("offset", strconv.Itoa(params.Offset))
	}
	var executions []*ToolUsage
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/executions", query, nil, &executions); err != nil {
		return nil, err
	}
	return executions, nil
}
