package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	telegram "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/smith3v/couple-devotional/pkg/db"
	"github.com/smith3v/couple-devotional/pkg/internal/testutil"
)

type sentMessage struct {
	chatID int64
	text   string
}

type recordingSender struct {
	sent []sentMessage
	err  error
}

func (r *recordingSender) SendMessage(_ context.Context, chatID int64, text string) error {
	r.sent = append(r.sent, sentMessage{chatID: chatID, text: text})
	return r.err
}

type mockClient struct {
	paths  []string
	bodies []string
}

func (m *mockClient) Do(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	m.paths = append(m.paths, req.URL.Path)
	m.bodies = append(m.bodies, string(body))
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(`{"ok":true,"result":{}}`)),
		Header:     make(http.Header),
	}, nil
}

func TestTelegramNotifierSendsToChat(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	user := testutil.CreateUser(t, gdb, "a@example.com")
	if err := gdb.Model(&db.User{}).Where("id = ?", user.ID).Update("push_token", "4242").Error; err != nil {
		t.Fatalf("failed to set push token: %v", err)
	}
	sender := &recordingSender{}
	n := NewTelegramNotifier(gdb, sender)

	if err := n.Notify(context.Background(), user.ID, "Ana", "Acabei de terminar"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.sent))
	}
	if sender.sent[0].chatID != 4242 {
		t.Fatalf("unexpected chat id: %d", sender.sent[0].chatID)
	}
	if sender.sent[0].text != "Ana\nAcabei de terminar" {
		t.Fatalf("unexpected text: %q", sender.sent[0].text)
	}
}

func TestTelegramNotifierSkipsWithoutToken(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	user := testutil.CreateUser(t, gdb, "a@example.com")
	bad := testutil.CreateUser(t, gdb, "b@example.com")
	if err := gdb.Model(&db.User{}).Where("id = ?", bad.ID).Update("push_token", "fcm-token").Error; err != nil {
		t.Fatalf("failed to set push token: %v", err)
	}
	sender := &recordingSender{}
	n := NewTelegramNotifier(gdb, sender)

	for _, id := range []string{user.ID, bad.ID, "missing"} {
		if err := n.Notify(context.Background(), id, "t", "b"); err != nil {
			t.Fatalf("unexpected error for %s: %v", id, err)
		}
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no messages, got %d", len(sender.sent))
	}
}

func TestTelegramNotifierReturnsSendError(t *testing.T) {
	gdb := testutil.SetupTestDB(t)
	user := testutil.CreateUser(t, gdb, "a@example.com")
	if err := gdb.Model(&db.User{}).Where("id = ?", user.ID).Update("push_token", "7").Error; err != nil {
		t.Fatalf("failed to set push token: %v", err)
	}
	n := NewTelegramNotifier(gdb, &recordingSender{err: errors.New("blocked")})
	if err := n.Notify(context.Background(), user.ID, "", "b"); err == nil {
		t.Fatal("expected send error")
	}
}

func TestBotSenderUsesTelegramAPI(t *testing.T) {
	client := &mockClient{}
	b, err := telegram.New("test-token",
		telegram.WithSkipGetMe(),
		telegram.WithHTTPClient(time.Second, client),
	)
	if err != nil {
		t.Fatalf("failed to create test bot: %v", err)
	}

	if err := (BotSender{B: b}).SendMessage(context.Background(), 99, "hello couple"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.paths) != 1 || !strings.HasSuffix(client.paths[0], "/sendMessage") {
		t.Fatalf("unexpected request paths: %v", client.paths)
	}
	if !strings.Contains(client.bodies[0], "hello couple") || !strings.Contains(client.bodies[0], "99") {
		t.Fatalf("unexpected request body: %s", client.bodies[0])
	}
}

func TestNopNotifier(t *testing.T) {
	var n Notifier = Nop{}
	if err := n.Notify(context.Background(), "u", "t", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHandleStartRepliesWithChatID(t *testing.T) {
	client := &mockClient{}
	b, err := telegram.New("test-token",
		telegram.WithSkipGetMe(),
		telegram.WithHTTPClient(time.Second, client),
	)
	if err != nil {
		t.Fatalf("failed to create test bot: %v", err)
	}

	HandleStart(context.Background(), b, &models.Update{Message: &models.Message{Chat: models.Chat{ID: 31337}}})
	if len(client.paths) != 1 || !strings.HasSuffix(client.paths[0], "/sendMessage") {
		t.Fatalf("unexpected request paths: %v", client.paths)
	}
	if !strings.Contains(client.bodies[0], "31337") {
		t.Fatalf("chat id missing from reply: %s", client.bodies[0])
	}

	HandleStart(context.Background(), b, &models.Update{})
	if len(client.paths) != 1 {
		t.Fatalf("expected empty update to be ignored, got %d requests", len(client.paths))
	}
}
