package view

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"clearchat/internal/camera"
	"clearchat/internal/chat"
	"clearchat/internal/config"
	"clearchat/internal/live"
	"clearchat/internal/models"
	"clearchat/internal/session"
	"clearchat/internal/storage"
)

// storeBackend serves the view straight from a chat store, as the signed-in user.
type storeBackend struct {
	store   *chat.Store
	dir     *chat.Directory
	me      string
	label   string
	detects atomic.Int32
	sendErr error
	// redirect, when set, is returned by OpenChat instead of the real conversation.
	redirect *models.Conversation
}

func (b *storeBackend) Users(ctx context.Context) ([]*models.User, error) {
	all, err := b.dir.Users(ctx)
	if err != nil {
		return nil, err
	}
	var others []*models.User
	for _, u := range all {
		if u.ID != b.me {
			others = append(others, u)
		}
	}
	return others, nil
}

func (b *storeBackend) OpenChat(ctx context.Context, participantID string) (*models.Conversation, error) {
	if b.redirect != nil {
		return b.redirect, nil
	}
	return b.store.FindOrCreateConversation(ctx, b.me, participantID)
}

func (b *storeBackend) SubscribeChats(ctx context.Context) (*live.Subscription[[]*models.Conversation], error) {
	return b.store.SubscribeConversations(ctx, b.me), nil
}

func (b *storeBackend) SubscribeMessages(ctx context.Context, chatID string) (*live.Subscription[[]*models.Message], error) {
	return b.store.SubscribeMessages(ctx, chatID)
}

func (b *storeBackend) SendMessage(ctx context.Context, chatID, text, emotion string) (*models.Message, error) {
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return b.store.Send(ctx, chatID, b.me, text, emotion)
}

// DetectEmotion mirrors the client: a failed inference resolves to "".
func (b *storeBackend) DetectEmotion(context.Context, string) string {
	b.detects.Add(1)
	return b.label
}

type fakeCamera struct {
	payload string
	err     error
}

func (c fakeCamera) Capture() string { return c.payload }
func (c fakeCamera) Err() error      { return c.err }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type fixture struct {
	db    *sql.DB
	store *chat.Store
	hub   *live.Hub
	alice *models.User
	bob   *models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open("sqlite3", &config.Config{
		Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	now := time.Now().UTC()
	for _, u := range [][3]string{{"a", "Alice", "alice@example.com"}, {"b", "Bob", "bob@example.com"}} {
		if _, err := db.Exec(`INSERT INTO users (id, name, email, password_hash, created_at) VALUES (?, ?, ?, '', ?)`,
			u[0], u[1], u[2], now); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	hub := live.NewHub()
	return &fixture{
		db:    db,
		store: chat.NewStore(db, "sqlite3", hub),
		hub:   hub,
		alice: &models.User{ID: "a", Name: "Alice", Email: "alice@example.com"},
		bob:   &models.User{ID: "b", Name: "Bob", Email: "bob@example.com"},
	}
}

func (f *fixture) backend(t *testing.T, me string) *storeBackend {
	t.Helper()
	return &storeBackend{store: f.store, dir: chat.NewDirectory(f.db), me: me}
}

func newSession(u *models.User) *session.Session {
	return &session.Session{User: u, Token: "t", ExpiresAt: time.Now().Add(time.Hour)}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestSendWithFailedInferenceStoresEmptyEmotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.FindOrCreateConversation(ctx, "a", "b")
	if err != nil {
		t.Fatalf("FindOrCreateConversation: %v", err)
	}
	for _, text := range []string{"hey", "how are you"} {
		if _, err := f.store.Send(ctx, conv.ID, "b", text, "Calm"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	backend := f.backend(t, "a")
	out := &syncBuffer{}
	v := New(backend, fakeCamera{payload: "data:image/jpeg;base64,AAAA"}, newSession(f.alice), out)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	eventually(t, func() bool { return len(v.Messages()) == 2 }, "seeded messages rendered")

	msg := v.Send(ctx, "  hi ")
	if msg == nil {
		t.Fatalf("send must succeed when inference fails")
	}
	if backend.detects.Load() != 1 {
		t.Fatalf("expected one inference call, got %d", backend.detects.Load())
	}
	eventually(t, func() bool { return len(v.Messages()) == 3 }, "new message delivered")
	last := v.Messages()[2]
	if last.Text != "hi" || last.SenderID != "a" || last.Emotion != "" {
		t.Fatalf("unexpected last message %+v", last)
	}
	if v.Draft() != "" {
		t.Fatalf("composer must be cleared after send, got %q", v.Draft())
	}
	if !strings.Contains(out.String(), "Alice: hi") {
		t.Fatalf("rendered feed missing new message:\n%s", out.String())
	}
}

func TestDeniedCameraSkipsInference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backend := f.backend(t, "a")
	backend.label = "Joy"

	var sent *models.Message
	err := camera.With(ctx, camera.DeniedDevice{}, func(c *camera.Capture) error {
		out := &syncBuffer{}
		v := New(backend, c, newSession(f.alice), out)
		defer v.Close()
		if err := v.Open(ctx); err != nil {
			return err
		}
		if !strings.Contains(out.String(), "camera unavailable") {
			t.Errorf("camera error not rendered:\n%s", out.String())
		}
		if err := v.SelectContact(ctx, "b"); err != nil {
			return err
		}
		sent = v.Send(ctx, "no camera")
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
	if sent == nil || sent.Emotion != "" {
		t.Fatalf("expected message with empty emotion, got %+v", sent)
	}
	if backend.detects.Load() != 0 {
		t.Fatalf("inference must be skipped without a frame")
	}
}

func TestSendUsesDetectedEmotion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backend := f.backend(t, "a")
	backend.label = "Happiness"
	v := New(backend, fakeCamera{payload: "data:image/jpeg;base64,AAAA"}, newSession(f.alice), nil)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if v.Send(ctx, "ignored while browsing") != nil {
		t.Fatalf("send while browsing must be a no-op")
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	if v.Send(ctx, "   ") != nil {
		t.Fatalf("empty send must be a no-op")
	}
	msg := v.Send(ctx, "smile")
	if msg == nil || msg.Emotion != "Happiness" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestSendPersistenceErrorKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backend := f.backend(t, "a")
	v := New(backend, nil, newSession(f.alice), nil)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	backend.sendErr = errors.New("offline")
	if v.Send(ctx, "lost") != nil {
		t.Fatalf("failed send must return nil")
	}
	if v.Draft() != "lost" {
		t.Fatalf("draft = %q, want lost", v.Draft())
	}
}

func TestBackAndSwitchCancelMessageFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := New(f.backend(t, "a"), nil, newSession(f.alice), nil)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	conv := v.Current()
	if v.State() != Chatting || conv == nil {
		t.Fatalf("expected chatting state")
	}
	topic := live.ChatTopic(conv.ID)
	if n := f.hub.Watchers(topic); n != 1 {
		t.Fatalf("watchers = %d, want 1", n)
	}

	eventually(t, func() bool { return len(v.Recent()) == 1 }, "recent list updated")
	if err := v.SelectConversation(ctx, conv.ID); err != nil {
		t.Fatalf("SelectConversation: %v", err)
	}
	if n := f.hub.Watchers(topic); n != 1 {
		t.Fatalf("reselecting must replace the feed, watchers = %d", n)
	}

	v.Back()
	if v.State() != Browsing || v.Current() != nil {
		t.Fatalf("expected browsing after Back")
	}
	if n := f.hub.Watchers(topic); n != 0 {
		t.Fatalf("Back must cancel the message feed, watchers = %d", n)
	}
	if _, err := f.store.Send(ctx, conv.ID, "b", "after back", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(v.Messages()) != 0 {
		t.Fatalf("no snapshot may arrive after Back")
	}
	if err := v.SelectConversation(ctx, "missing"); !errors.Is(err, ErrUnknownConversation) {
		t.Fatalf("expected ErrUnknownConversation, got %v", err)
	}

	v.Close()
	if n := f.hub.Watchers(live.UserTopic("a")); n != 0 {
		t.Fatalf("Close must cancel the conversation list, watchers = %d", n)
	}
}

func TestFailedSwitchKeepsCurrentFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	backend := f.backend(t, "a")
	v := New(backend, nil, newSession(f.alice), nil)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	conv := v.Current()

	backend.redirect = &models.Conversation{ID: "gone", Participants: [2]string{"a", "c"}}
	if err := v.SelectContact(ctx, "c"); err == nil {
		t.Fatalf("expected subscribe error for a missing conversation")
	}
	if v.State() != Chatting || v.Current() == nil || v.Current().ID != conv.ID {
		t.Fatalf("failed switch must keep %s open, got state=%s current=%+v", conv.ID, v.State(), v.Current())
	}
	if n := f.hub.Watchers(live.ChatTopic(conv.ID)); n != 1 {
		t.Fatalf("watchers = %d, want 1", n)
	}
	if _, err := f.store.Send(ctx, conv.ID, "b", "still here", ""); err != nil {
		t.Fatalf("Send: %v", err)
	}
	eventually(t, func() bool { return len(v.Messages()) == 1 }, "feed still delivers after failed switch")
}

func TestRenderShowsTailWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	conv, err := f.store.FindOrCreateConversation(ctx, "a", "b")
	if err != nil {
		t.Fatalf("FindOrCreateConversation: %v", err)
	}
	for i := 0; i < 8; i++ {
		if _, err := f.store.Send(ctx, conv.ID, "b", "msg-"+string(rune('A'+i)), ""); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	out := &syncBuffer{}
	v := New(f.backend(t, "a"), nil, newSession(f.alice), out)
	v.SetTail(3)
	defer v.Close()
	if err := v.Open(ctx); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := v.SelectContact(ctx, "b"); err != nil {
		t.Fatalf("SelectContact: %v", err)
	}
	eventually(t, func() bool { return len(v.Messages()) == 8 }, "messages loaded")
	eventually(t, func() bool { return strings.Contains(out.String(), "msg-H") }, "newest rendered")
	rendered := out.String()
	chatPart := rendered[strings.LastIndex(rendered, "-- Bob --"):]
	if strings.Contains(chatPart, "msg-E") || !strings.Contains(chatPart, "msg-F") {
		t.Fatalf("expected only the last 3 messages:\n%s", chatPart)
	}
	if !strings.Contains(chatPart, "5 earlier") {
		t.Fatalf("expected elided count:\n%s", chatPart)
	}
}

func TestOpenRequiresSession(t *testing.T) {
	f := newFixture(t)
	v := New(f.backend(t, "a"), nil, nil, nil)
	if err := v.Open(context.Background()); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}
