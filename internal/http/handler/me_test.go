package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"
	_ "time/tzdata"

	"remindly/internal/auth"
	"remindly/internal/notify"
	"remindly/internal/reminder"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type meFixture struct {
	router    http.Handler
	reminders *reminder.Service
	inbox     *notify.Inbox
	inapp     *notify.InApp
}

func newMeFixture(t *testing.T) *meFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&reminder.Reminder{}, &reminder.DeliveryAttempt{}, &reminder.SnoozeEvent{},
		&auth.User{}, &notify.Notification{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	f := &meFixture{
		reminders: reminder.NewService(reminder.NewStore(db), &stubScheduler{}, nil),
		inbox:     notify.NewInbox(db),
		inapp:     notify.NewInApp(db, nil),
	}
	me := &MeHandler{Users: auth.NewDirectory(db), Reminders: f.reminders, Inbox: f.inbox}
	notes := &NotificationHandler{Inbox: f.inbox}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(auth.WithUserID(req.Context(), 1)))
		})
	})
	r.Get("/me", me.Me)
	r.Put("/me", me.Update)
	r.Delete("/me", me.Delete)
	r.Get("/notifications", notes.List)
	r.Post("/notifications/{id}/read", notes.MarkRead)
	f.router = r
	return f
}

func TestMeProfile(t *testing.T) {
	f := newMeFixture(t)

	rec := do(t, f.router, http.MethodGet, "/me", "", 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got meDTO
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.UserID != 1 || got.Plan != "free" || got.Email != "" {
		t.Fatalf("me = %+v", got)
	}

	for _, body := range []string{`{"email":"not an address"}`, `{"timezone":"Mars/Olympus"}`, `{`} {
		if rec := do(t, f.router, http.MethodPut, "/me", body, 1); rec.Code != http.StatusBadRequest {
			t.Fatalf("PUT %s status = %d", body, rec.Code)
		}
	}

	rec = do(t, f.router, http.MethodPut, "/me", `{"email":"a@example.com","push_token":"ExponentPushToken[x]","timezone":"Asia/Jakarta"}`, 1)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = do(t, f.router, http.MethodGet, "/me", "", 1)
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Email != "a@example.com" || got.PushToken == nil || got.Timezone != "Asia/Jakarta" {
		t.Fatalf("me = %+v", got)
	}
}

func TestMeDeleteErasesEverything(t *testing.T) {
	f := newMeFixture(t)
	ctx := context.Background()

	do(t, f.router, http.MethodPut, "/me", `{"email":"a@example.com"}`, 1)
	if _, err := f.reminders.Create(ctx, 1, reminder.CreateInput{Message: "x", RemindAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.inapp.Send(ctx, notify.Message{ReminderID: 1, To: notify.Recipient{UserID: 1}, Subject: "s"}); err != nil {
		t.Fatalf("inapp: %v", err)
	}

	if rec := do(t, f.router, http.MethodDelete, "/me", "", 1); rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rows, _ := f.reminders.List(ctx, 1, nil, 10)
	notes, _ := f.inbox.List(ctx, 1, false, 10)
	if len(rows) != 0 || len(notes) != 0 {
		t.Fatalf("left behind: %d reminders, %d notifications", len(rows), len(notes))
	}

	rec := do(t, f.router, http.MethodGet, "/me", "", 1)
	var got meDTO
	_ = json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Email != "" {
		t.Fatalf("profile survived: %+v", got)
	}
}

func TestNotificationsEndpoints(t *testing.T) {
	f := newMeFixture(t)
	rc, err := f.inapp.Send(context.Background(), notify.Message{ReminderID: 3, To: notify.Recipient{UserID: 1}, Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("inapp: %v", err)
	}

	if rec := do(t, f.router, http.MethodGet, "/notifications?limit=abc", "", 1); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}

	rec := do(t, f.router, http.MethodGet, "/notifications?unread=true", "", 1)
	var list struct {
		Items []notify.Notification `json:"items"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 1 || list.Items[0].ID != rc.ProviderMessageID {
		t.Fatalf("list = %s", rec.Body.String())
	}

	if rec := do(t, f.router, http.MethodPost, "/notifications/"+rc.ProviderMessageID+"/read", "", 1); rec.Code != http.StatusNoContent {
		t.Fatalf("read status = %d", rec.Code)
	}
	if rec := do(t, f.router, http.MethodPost, "/notifications/missing/read", "", 1); rec.Code != http.StatusNotFound {
		t.Fatalf("missing status = %d", rec.Code)
	}

	rec = do(t, f.router, http.MethodGet, "/notifications?unread=true", "", 1)
	list.Items = nil
	_ = json.Unmarshal(rec.Body.Bytes(), &list)
	if len(list.Items) != 0 {
		t.Fatalf("still unread: %s", rec.Body.String())
	}
}
