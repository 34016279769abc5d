// Package mcpserver exposes reminder operations as MCP tools for one
// configured user.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindly/internal/reminder"
	"remindly/internal/snooze"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	serverName    = "remindly"
	serverVersion = "1.0.0"
)

type Server struct {
	mcpServer *server.MCPServer
	reminders *reminder.Service
	estimator *snooze.Estimator
	userID    uint64
}

func NewServer(reminders *reminder.Service, estimator *snooze.Estimator, userID uint64) *Server {
	s := &Server{
		reminders: reminders,
		estimator: estimator,
		userID:    userID,
	}

	s.mcpServer = server.NewMCPServer(
		serverName,
		serverVersion,
		server.WithToolCapabilities(false),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying MCP server for serving.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("create_reminder",
			mcp.WithDescription("Schedule a reminder to be delivered at a future time"),
			mcp.WithString("message", mcp.Required(), mcp.Description("What to remind about")),
			mcp.WithString("remind_at", mcp.Required(), mcp.Description("Delivery time in RFC3339 format (e.g. 2025-01-15T09:00:00Z)")),
			mcp.WithString("tone", mcp.Description("friendly, formal, urgent or playful (default: friendly)")),
			mcp.WithString("notification_method", mcp.Description("email, push, in_app, a comma list of those, or all (default: email)")),
		),
		s.handleCreate,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("list_reminders",
			mcp.WithDescription("List reminders, optionally filtered by status"),
			mcp.WithString("status", mcp.Description("pending, snoozed, dismissed, sent or failed; empty for all")),
		),
		s.handleList,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("snooze_reminder",
			mcp.WithDescription("Postpone a pending reminder by a number of minutes"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
			mcp.WithNumber("minutes", mcp.Required(), mcp.Description("Minutes to postpone (1-10080)")),
		),
		s.handleSnooze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("dismiss_reminder",
			mcp.WithDescription("Dismiss a reminder so it is never delivered"),
			mcp.WithNumber("id", mcp.Required(), mcp.Description("Reminder ID")),
		),
		s.handleDismiss,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("suggest_snooze",
			mcp.WithDescription("Suggest a snooze duration from the user's snooze history"),
			mcp.WithNumber("reminder_id", mcp.Description("Optional reminder to tailor the suggestion to")),
		),
		s.handleSuggest,
	)
}

func jsonResult(v any) *mcp.CallToolResult {
	output, _ := json.MarshalIndent(v, "", "  ")
	return mcp.NewToolResultText(string(output))
}

func toolError(op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return mcp.NewToolResultError("reminder not found")
	case errors.Is(err, reminder.ErrValidation), errors.Is(err, reminder.ErrInvalidTransition), errors.Is(err, reminder.ErrConflict):
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(fmt.Sprintf("failed to %s: %v", op, err))
}

func idArg(req mcp.CallToolRequest, name string) (uint64, bool) {
	f := req.GetFloat(name, -1)
	if f < 1 || f != float64(uint64(f)) {
		return 0, false
	}
	return uint64(f), true
}

func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.GetString("remind_at", "")))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid remind_at format: %v (use RFC3339, e.g. 2025-01-15T09:00:00Z)", err)), nil
	}

	r, err := s.reminders.Create(ctx, s.userID, reminder.CreateInput{
		Message:            req.GetString("message", ""),
		RemindAt:           at,
		Tone:               req.GetString("tone", ""),
		NotificationMethod: req.GetString("notification_method", ""),
	})
	if err != nil {
		return toolError("create reminder", err), nil
	}
	return jsonResult(r), nil
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statuses []reminder.Status
	if st := strings.TrimSpace(req.GetString("status", "")); st != "" {
		statuses = []reminder.Status{reminder.Status(strings.ToLower(st))}
	}

	rows, err := s.reminders.List(ctx, s.userID, statuses, 100)
	if err != nil {
		return toolError("list reminders", err), nil
	}
	if len(rows) == 0 {
		return mcp.NewToolResultText("No reminders found."), nil
	}
	return jsonResult(rows), nil
}

func (s *Server) handleSnooze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "id")
	if !ok {
		return mcp.NewToolResultError("id is required and must be a positive integer"), nil
	}
	minutes := int(req.GetFloat("minutes", 0))

	r, err := s.reminders.Snooze(ctx, s.userID, id, minutes)
	if err != nil {
		return toolError("snooze reminder", err), nil
	}
	return jsonResult(r), nil
}

func (s *Server) handleDismiss(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, ok := idArg(req, "id")
	if !ok {
		return mcp.NewToolResultError("id is required and must be a positive integer"), nil
	}

	if _, err := s.reminders.Dismiss(ctx, s.userID, id); err != nil {
		return toolError("dismiss reminder", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Reminder %d dismissed.", id)), nil
}

func (s *Server) handleSuggest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var reminderID *uint64
	if req.GetFloat("reminder_id", 0) != 0 {
		id, ok := idArg(req, "reminder_id")
		if !ok {
			return mcp.NewToolResultError("reminder_id must be a positive integer"), nil
		}
		if _, err := s.reminders.Get(ctx, s.userID, id); err != nil {
			return toolError("load reminder", err), nil
		}
		reminderID = &id
	}

	sug := s.estimator.Suggest(ctx, s.userID, reminderID)
	if sug == nil {
		return mcp.NewToolResultText("Smart snooze is not available on the current plan."), nil
	}
	return jsonResult(sug), nil
}
