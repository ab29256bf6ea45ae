package client

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Schedule is a recurring tool execution driven by a cron expression.
type Schedule struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	ToolID         string           `json:"toolId"`
	Name           string           `json:"name"`
	Description    string           `json:"description,omitempty"`
	CronExpression string           `json:"cronExpression"`
	Timezone       string           `json:"timezone"`
	InputData      map[string]any   `json:"inputData"`
	IsActive       bool             `json:"isActive"`
	NextRunAt      *time.Time       `json:"nextRunAt,omitempty"`
	LastRunAt      *time.Time       `json:"lastRunAt,omitempty"`
	LastRunStatus  *ExecutionStatus `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// CreateScheduleParams creates a recurring execution.
type CreateScheduleParams struct {
	ToolID         string         `json:"toolId"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	CronExpression string         `json:"cronExpression"`
	Timezone       string         `json:"timezone"`
	InputData      map[string]any `json:"inputData"`
}

// UpdateScheduleParams mutates a schedule; nil fields are left unchanged.
type UpdateScheduleParams struct {
	Name           *string        `json:"name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	CronExpression *string        `json:"cronExpression,omitempty"`
	Timezone       *string        `json:"timezone,omitempty"`
	InputData      map[string]any `json:"inputData,omitempty"`
	IsActive       *bool          `json:"isActive,omitempty"`
}

// ValidateCronExpression rejects a malformed standard five-field cron
// expression before the backend ever sees it.
func ValidateCronExpression(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return errors.Wrapf(err, "invalid cron expression %q", expr)
	}
	return nil
}

// ListSchedules returns the user's schedules.
func (c *Client) ListSchedules(ctx context.Context) ([]*Schedule, error) {
	var schedules []*Schedule
	if err := c.unwrap(ctx, http.MethodGet, "/api/public/schedules", nil, nil, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

// CreateSchedule validates the cron expression locally, then creates the
// schedule.
func (c *Client) CreateSchedule(ctx context.Context, params CreateScheduleParams) (*Schedule, error) {
	if err := ValidateCronExpression(params.CronExpression); err != nil {
		return nil, err
	}
	var schedule Schedule
	if err := c.unwrap(ctx, http.MethodPost, "/api/public/schedules", nil, params, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// UpdateSchedule mutates an existing schedule.
func (c *Client) UpdateSchedule(ctx context.Context, scheduleID string, params UpdateScheduleParams) (*Schedule, error) {
	if params.CronExpression != nil {
		if err := ValidateCronExpression(*params.CronExpression); err != nil {
			return nil, err
		}
	}
	var schedule Schedule
	path := "/api/public/schedules/" + url.PathEscape(scheduleID)
	if err := c.unwrap(ctx, http.MethodPatch, path, nil, params, &schedule); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// DeleteSchedule removes a schedule.
func (c *Client) DeleteSchedule(ctx context.Context, scheduleID string) error {
	return c.do(ctx, http.MethodDelete, "/api/public/schedules/"+url.PathEscape(scheduleID), nil, nil, nil)
}
