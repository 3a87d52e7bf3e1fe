package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reynekefox/chatrelay/internal/relay"
	"github.com/reynekefox/chatrelay/internal/store"
)

type fakeTurns struct {
	ch chan relay.Incoming
}

func (f *fakeTurns) HandleTurn(_ context.Context, msg relay.Incoming) {
	f.ch <- msg
}

type fakeDialogs struct {
	cleared []int64
	err     error
}

func (f *fakeDialogs) Clear(userID int64) error {
	f.cleared = append(f.cleared, userID)
	return f.err
}

type fakeMeta struct {
	registered []store.RegisterUserInput
	users      []store.UserRecord
}

func (f *fakeMeta) RegisterUser(_ context.Context, input store.RegisterUserInput) error {
	f.registered = append(f.registered, input)
	return nil
}

func (f *fakeMeta) LookupUser(_ context.Context, userID int64) (store.UserRecord, error) {
	for _, record := range f.users {
		if record.ID == userID {
			return record, nil
		}
	}
	return store.UserRecord{}, store.ErrUserNotFound
}

func (f *fakeMeta) ListUsers(context.Context) ([]store.UserRecord, error) {
	return f.users, nil
}

type fakePrompts struct {
	prompt    string
	reloads   int
	reloadErr error
}

func (f *fakePrompts) SystemPrompt() string { return f.prompt }

func (f *fakePrompts) Reload() error {
	f.reloads++
	return f.reloadErr
}

type fakeBroadcaster struct {
	text    string
	sent    int
	blocked int
	err     error
}

func (f *fakeBroadcaster) Send(_ context.Context, text string) (int, int, error) {
	f.text = text
	return f.sent, f.blocked, f.err
}

type recordedSend struct {
	method string
	fields map[string]any
}

type apiRecorder struct {
	mu        sync.Mutex
	sends     []recordedSend
	failWith  string
	nextMsgID int64
}

func (a *apiRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		fields := map[string]any{}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			json.NewDecoder(r.Body).Decode(&fields)
		} else if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
			r.ParseMultipartForm(4 << 20)
			for key, values := range r.MultipartForm.Value {
				fields[key] = values[0]
			}
			if files := r.MultipartForm.File["photo"]; len(files) > 0 {
				fields["photo_filename"] = files[0].Filename
			}
		}

		a.mu.Lock()
		a.sends = append(a.sends, recordedSend{method: method, fields: fields})
		failWith := a.failWith
		a.nextMsgID++
		messageID := a.nextMsgID
		a.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failWith != "" && method != "getMe" {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": failWith})
			return
		}
		switch method {
		case "getMe":
			io.WriteString(w, `{"ok":true,"result":{"username":"relay_bot"}}`)
		case "sendMessage":
			json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": messageID}})
		default:
			io.WriteString(w, `{"ok":true,"result":true}`)
		}
	}
}

func (a *apiRecorder) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	texts := make([]string, 0, len(a.sends))
	for _, send := range a.sends {
		if send.method == "sendMessage" {
			texts = append(texts, send.fields["text"].(string))
		}
	}
	return texts
}

type connectorFixture struct {
	connector   *Connector
	recorder    *apiRecorder
	turns       *fakeTurns
	dialogs     *fakeDialogs
	meta        *fakeMeta
	prompts     *fakePrompts
	broadcaster *fakeBroadcaster
}

func newConnectorFixture(t *testing.T, opts Options) *connectorFixture {
	t.Helper()
	recorder := &apiRecorder{}
	server := httptest.NewServer(recorder.handler())
	t.Cleanup(server.Close)

	opts.Token = "TEST"
	opts.APIBase = server.URL
	fx := &connectorFixture{
		recorder:    recorder,
		turns:       &fakeTurns{ch: make(chan relay.Incoming, 1)},
		dialogs:     &fakeDialogs{},
		meta:        &fakeMeta{},
		prompts:     &fakePrompts{prompt: "системный промпт"},
		broadcaster: &fakeBroadcaster{},
	}
	fx.connector = New(opts, fx.turns, fx.dialogs, fx.meta, fx.prompts, fx.broadcaster,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return fx
}

func TestSendTextReturnsMessageID(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	messageID, err := fx.connector.SendText(context.Background(), 42, "привет", true)
	if err != nil {
		t.Fatalf("send text: %v", err)
	}
	if messageID != 1 {
		t.Fatalf("unexpected message id: %d", messageID)
	}
	send := fx.recorder.sends[0]
	if send.fields["parse_mode"] != "HTML" {
		t.Fatalf("expected HTML parse mode, got %v", send.fields["parse_mode"])
	}
	if send.fields["text"] != "привет" {
		t.Fatalf("unexpected text: %v", send.fields["text"])
	}
}

func TestSendTextPlainOmitsParseMode(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	if _, err := fx.connector.SendText(context.Background(), 42, "привет", false); err != nil {
		t.Fatalf("send text: %v", err)
	}
	if _, ok := fx.recorder.sends[0].fields["parse_mode"]; ok {
		t.Fatal("plain send must not set parse_mode")
	}
}

func TestBlockedRecipientMapsToSentinel(t *testing.T) {
	fx := newConnectorFixture(t, Options{})
	fx.recorder.failWith = "Forbidden: bot was blocked by the user"

	_, err := fx.connector.SendText(context.Background(), 42, "привет", false)
	if !errors.Is(err, ErrRecipientUnreachable) {
		t.Fatalf("expected ErrRecipientUnreachable, got %v", err)
	}
}

func TestChatNotFoundMapsToSentinel(t *testing.T) {
	fx := newConnectorFixture(t, Options{})
	fx.recorder.failWith = "Bad Request: chat not found"

	_, err := fx.connector.SendText(context.Background(), 42, "привет", false)
	if !errors.Is(err, ErrRecipientUnreachable) {
		t.Fatalf("expected ErrRecipientUnreachable, got %v", err)
	}
}

func TestOtherAPIFailureIsNotSentinel(t *testing.T) {
	fx := newConnectorFixture(t, Options{})
	fx.recorder.failWith = "Too Many Requests: retry after 5"

	_, err := fx.connector.SendText(context.Background(), 42, "привет", false)
	if err == nil || errors.Is(err, ErrRecipientUnreachable) {
		t.Fatalf("expected plain error, got %v", err)
	}
}

func TestSendEmotionUploadsImageWithCaption(t *testing.T) {
	assets := t.TempDir()
	if err := os.WriteFile(filepath.Join(assets, "joy.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write asset: %v", err)
	}
	fx := newConnectorFixture(t, Options{AssetsDir: assets})

	err := fx.connector.SendEmotion(context.Background(), 42, "радость", "подпись")
	if err != nil {
		t.Fatalf("send emotion: %v", err)
	}
	send := fx.recorder.sends[0]
	if send.method != "sendPhoto" {
		t.Fatalf("unexpected method: %s", send.method)
	}
	if send.fields["caption"] != "подпись" || send.fields["parse_mode"] != "HTML" {
		t.Fatalf("unexpected fields: %v", send.fields)
	}
	if send.fields["photo_filename"] != "joy.png" {
		t.Fatalf("unexpected photo: %v", send.fields["photo_filename"])
	}
}

func TestSendEmotionMissingAsset(t *testing.T) {
	fx := newConnectorFixture(t, Options{AssetsDir: t.TempDir()})
	if err := fx.connector.SendEmotion(context.Background(), 42, "радость", "подпись"); err == nil {
		t.Fatal("expected error for missing image file")
	}
}

func TestDispatchRoutesPlainMessageToRelay(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 7, Username: "alice"},
		Chat: telegramChat{ID: 7},
		Text: "расскажи сказку",
	})

	select {
	case msg := <-fx.turns.ch:
		if msg.UserID != 7 || msg.Text != "расскажи сказку" {
			t.Fatalf("unexpected incoming: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("relay never received the message")
	}
}

func TestStartCommandRegistersAndWelcomes(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 7, Username: "alice"},
		Chat: telegramChat{ID: 7},
		Text: "/start",
	})

	if len(fx.meta.registered) != 1 || fx.meta.registered[0].ID != 7 {
		t.Fatalf("user not registered: %+v", fx.meta.registered)
	}
	texts := fx.recorder.texts()
	if len(texts) != 1 || !strings.HasPrefix(texts[0], "👋 Привет!") {
		t.Fatalf("unexpected welcome: %v", texts)
	}
}

func TestResetCommandClearsDialog(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 7},
		Chat: telegramChat{ID: 7},
		Text: "/reset",
	})

	if len(fx.dialogs.cleared) != 1 || fx.dialogs.cleared[0] != 7 {
		t.Fatalf("dialog not cleared: %v", fx.dialogs.cleared)
	}
	texts := fx.recorder.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Диалог сброшен") {
		t.Fatalf("unexpected reply: %v", texts)
	}
}

func TestAdminCommandsDeniedForRegularUser(t *testing.T) {
	fx := newConnectorFixture(t, Options{AdminIDs: []int64{100}})

	for _, command := range []string{"/reload_prompts", "/show_prompt", "/user_info 5", "/all_users", "/broadcast привет"} {
		fx.connector.dispatch(context.Background(), telegramMessage{
			From: telegramUser{ID: 7},
			Chat: telegramChat{ID: 7},
			Text: command,
		})
	}

	if fx.prompts.reloads != 0 {
		t.Fatal("prompt reload must be admin-gated")
	}
	if fx.broadcaster.text != "" {
		t.Fatal("broadcast must be admin-gated")
	}
	for _, text := range fx.recorder.texts() {
		if text != noAccessMessage {
			t.Fatalf("expected denial, got %q", text)
		}
	}
}

func TestBroadcastCommandForAdmin(t *testing.T) {
	fx := newConnectorFixture(t, Options{AdminIDs: []int64{100}})
	fx.broadcaster.sent = 3
	fx.broadcaster.blocked = 1

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 100},
		Chat: telegramChat{ID: 100},
		Text: "/broadcast Всем привет!",
	})

	if fx.broadcaster.text != "Всем привет!" {
		t.Fatalf("unexpected broadcast text: %q", fx.broadcaster.text)
	}
	texts := fx.recorder.texts()
	if len(texts) != 2 {
		t.Fatalf("expected start and summary notices, got %v", texts)
	}
	if !strings.Contains(texts[1], "Отправлено 3") {
		t.Fatalf("unexpected summary: %q", texts[1])
	}
	if !strings.Contains(texts[1], "1 пользователям") {
		t.Fatalf("summary must include blocked count: %q", texts[1])
	}
}

func TestBroadcastWithoutTextAsksForIt(t *testing.T) {
	fx := newConnectorFixture(t, Options{AdminIDs: []int64{100}})

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 100},
		Chat: telegramChat{ID: 100},
		Text: "/broadcast",
	})

	if fx.broadcaster.text != "" {
		t.Fatal("broadcast must not run without text")
	}
	texts := fx.recorder.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "укажите текст") {
		t.Fatalf("unexpected reply: %v", texts)
	}
}

func TestUserInfoCommand(t *testing.T) {
	fx := newConnectorFixture(t, Options{AdminIDs: []int64{100}})
	fx.meta.users = []store.UserRecord{{ID: 5, Turns: 12, FirstSeen: time.Unix(1700000000, 0).UTC(), LastSeen: time.Unix(1700003600, 0).UTC()}}

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 100},
		Chat: telegramChat{ID: 100},
		Text: "/user_info 5",
	})

	texts := fx.recorder.texts()
	if len(texts) != 1 || !strings.Contains(texts[0], "Информация о пользователе 5") {
		t.Fatalf("unexpected reply: %v", texts)
	}
	if !strings.Contains(texts[0], "Сообщений: 12") {
		t.Fatalf("turn count missing: %q", texts[0])
	}
}

func TestUnknownCommandFallsThroughToRelay(t *testing.T) {
	fx := newConnectorFixture(t, Options{})

	fx.connector.dispatch(context.Background(), telegramMessage{
		From: telegramUser{ID: 7},
		Chat: telegramChat{ID: 7},
		Text: "/weather сегодня",
	})

	select {
	case msg := <-fx.turns.ch:
		if msg.Text != "/weather сегодня" {
			t.Fatalf("unexpected incoming: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("unknown command should reach the relay")
	}
}

func TestPollOnceAdvancesOffset(t *testing.T) {
	var polled []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polled = append(polled, r.URL.RawQuery)
		io.WriteString(w, `{"ok":true,"result":[{"update_id":10,"message":{"message_id":1,"from":{"id":7},"chat":{"id":7},"text":"привет"}}]}`)
	}))
	defer server.Close()

	turns := &fakeTurns{ch: make(chan relay.Incoming, 1)}
	connector := New(Options{Token: "TEST", APIBase: server.URL}, turns, &fakeDialogs{}, &fakeMeta{}, &fakePrompts{}, &fakeBroadcaster{},
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := connector.pollOnce(context.Background()); err != nil {
		t.Fatalf("poll once: %v", err)
	}
	if connector.offset != 11 {
		t.Fatalf("offset not advanced: %d", connector.offset)
	}
	select {
	case <-turns.ch:
	case <-time.After(time.Second):
		t.Fatal("update not dispatched")
	}
}
