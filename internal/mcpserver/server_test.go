package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"remindly/internal/entitlement"
	"remindly/internal/reminder"
	"remindly/internal/snooze"

	"github.com/glebarez/sqlite"
	"github.com/mark3labs/mcp-go/mcp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type noopScheduler struct{}

func (noopScheduler) Schedule(context.Context, uint64, time.Time) (string, error) { return "", nil }
func (noopScheduler) Cancel(context.Context, string) bool                         { return true }
func (noopScheduler) Reschedule(context.Context, *string, uint64, time.Time) (string, error) {
	return "", nil
}

type emptyHistory struct{}

func (emptyHistory) Recent(context.Context, uint64, time.Time, int) ([]snooze.Sample, error) {
	return nil, nil
}

type planChecker bool

func (p planChecker) IsFeatureEnabled(context.Context, uint64, entitlement.Feature) (bool, error) {
	return bool(p), nil
}

func newTestServer(t *testing.T, smartSnooze bool) *Server {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&reminder.Reminder{}, &reminder.DeliveryAttempt{}, &reminder.SnoozeEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	svc := reminder.NewService(reminder.NewStore(db), noopScheduler{}, nil)
	est := snooze.NewEstimator(emptyHistory{}, planChecker(smartSnooze), snooze.DefaultConfig(), nil)
	return NewServer(svc, est, 1)
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatalf("empty result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content = %#v", res.Content[0])
	}
	return tc.Text
}

func TestToolLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, true)

	at := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	res, err := s.handleCreate(ctx, call(map[string]any{"message": "Water plants", "remind_at": at, "tone": "playful"}))
	if err != nil || res.IsError {
		t.Fatalf("create: %v %s", err, text(t, res))
	}
	var created reminder.Reminder
	if err := json.Unmarshal([]byte(text(t, res)), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == 0 || created.Tone != reminder.TonePlayful {
		t.Fatalf("created = %+v", created)
	}

	res, _ = s.handleSnooze(ctx, call(map[string]any{"id": float64(created.ID), "minutes": float64(10)}))
	if res.IsError {
		t.Fatalf("snooze: %s", text(t, res))
	}

	res, _ = s.handleList(ctx, call(map[string]any{"status": "Snoozed"}))
	if res.IsError || !strings.Contains(text(t, res), "Water plants") {
		t.Fatalf("list: %s", text(t, res))
	}

	res, _ = s.handleDismiss(ctx, call(map[string]any{"id": float64(created.ID)}))
	if res.IsError {
		t.Fatalf("dismiss: %s", text(t, res))
	}

	res, _ = s.handleSnooze(ctx, call(map[string]any{"id": float64(created.ID), "minutes": float64(10)}))
	if !res.IsError {
		t.Fatalf("snooze after dismiss succeeded: %s", text(t, res))
	}

	res, _ = s.handleList(ctx, call(map[string]any{"status": "pending"}))
	if text(t, res) != "No reminders found." {
		t.Fatalf("list pending: %s", text(t, res))
	}
}

func TestToolInputErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, true)

	res, _ := s.handleCreate(ctx, call(map[string]any{"message": "x", "remind_at": "tomorrow"}))
	if !res.IsError || !strings.Contains(text(t, res), "RFC3339") {
		t.Fatalf("bad time: %s", text(t, res))
	}

	res, _ = s.handleDismiss(ctx, call(map[string]any{"id": 1.5}))
	if !res.IsError {
		t.Fatalf("fractional id accepted")
	}

	res, _ = s.handleDismiss(ctx, call(map[string]any{"id": float64(999)}))
	if !res.IsError || text(t, res) != "reminder not found" {
		t.Fatalf("missing reminder: %s", text(t, res))
	}
}

func TestSuggestTool(t *testing.T) {
	ctx := context.Background()

	res, _ := newTestServer(t, true).handleSuggest(ctx, call(map[string]any{}))
	var sug snooze.Suggestion
	if err := json.Unmarshal([]byte(text(t, res)), &sug); err != nil {
		t.Fatalf("decode: %v (%s)", err, text(t, res))
	}
	if sug.Reason != snooze.ReasonInsufficientHistory || sug.SuggestedMinutes != 15 {
		t.Fatalf("suggestion = %+v", sug)
	}

	res, _ = newTestServer(t, false).handleSuggest(ctx, call(map[string]any{}))
	if !strings.Contains(text(t, res), "not available") {
		t.Fatalf("free plan: %s", text(t, res))
	}
}
