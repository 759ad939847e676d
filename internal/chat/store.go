package chat

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"clearchat/internal/live"
	"clearchat/internal/models"
	"clearchat/internal/storage"
	"clearchat/internal/telemetry"
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrNotParticipant   = errors.New("user is not a participant of this chat")
	ErrSelfConversation = errors.New("a conversation needs two distinct users")
)

// Store persists private chats and their messages and publishes changes to a live hub.
type Store struct {
	db               *sql.DB
	driver           string
	hub              *live.Hub
	deterministicIDs bool
	now              func() time.Time

	// test hook run between the existing-conversation scan and the insert
	beforeCreate func()
}

type Option func(*Store)

// WithDeterministicIDs derives new conversation ids from the sorted participant pair.
func WithDeterministicIDs(enabled bool) Option {
	return func(s *Store) { s.deterministicIDs = enabled }
}

// WithClock overrides the server clock used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(db *sql.DB, driver string, hub *live.Hub, opts ...Option) *Store {
	if hub == nil {
		hub = live.NewHub()
	}
	s := &Store{
		db:               db,
		driver:           driver,
		hub:              hub,
		deterministicIDs: true,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hub exposes the live hub the store notifies.
func (s *Store) Hub() *live.Hub { return s.hub }

func newID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), rand.Reader).String()
}

// newIDAfter returns an id for ts that sorts after prev.
func newIDAfter(ts time.Time, prev string) string {
	for {
		if id := newID(ts); id > prev {
			return id
		}
	}
}

// MaxEmotionBytes bounds a stored emotion label. Longer labels are cut at a
// rune boundary rather than rejected.
const MaxEmotionBytes = 4096

func clampEmotion(emotion string) string {
	if len(emotion) <= MaxEmotionBytes {
		return emotion
	}
	cut := MaxEmotionBytes
	for cut > 0 && !utf8.RuneStart(emotion[cut]) {
		cut--
	}
	return emotion[:cut]
}

// Send appends a message to chatID on behalf of senderID. The emotion label is
// stored as given, up to MaxEmotionBytes.
func (s *Store) Send(ctx context.Context, chatID, senderID, text, emotion string) (*models.Message, error) {
	emotion = clampEmotion(emotion)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	conv, err := s.Conversation(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !conv.Includes(senderID) {
		return nil, ErrNotParticipant
	}

	ts := s.now().UTC().Truncate(time.Microsecond)
	var (
		last   time.Time
		lastID string
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT created_at, id FROM private_messages WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		chatID,
	).Scan(&last, &lastID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, fmt.Errorf("query last message: %w", err)
	case !ts.After(last):
		ts = last
	}

	msg := &models.Message{
		ID:        newIDAfter(ts, lastID),
		ChatID:    chatID,
		SenderID:  senderID,
		Text:      text,
		Emotion:   emotion,
		Timestamp: ts,
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO private_messages (id, chat_id, sender_id, text, emotion, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Text, msg.Emotion, msg.Timestamp,
	); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	telemetry.Inc(telemetry.MessagesSent)
	s.hub.Notify(live.ChatTopic(chatID))
	return msg, nil
}

// Messages returns every message of chatID ordered by timestamp then id.
func (s *Store) Messages(ctx context.Context, chatID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, text, emotion, created_at FROM private_messages
		 WHERE chat_id = ? ORDER BY created_at ASC, id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()
	msgs := make([]*models.Message, 0)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Text, &m.Emotion, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}

// SubscribeMessages opens a live query over the messages of chatID.
func (s *Store) SubscribeMessages(ctx context.Context, chatID string) (*live.Subscription[[]*models.Message], error) {
	if _, err := s.Conversation(ctx, chatID); err != nil {
		return nil, err
	}
	return live.Subscribe(ctx, s.hub, live.ChatTopic(chatID), func(ctx context.Context) ([]*models.Message, error) {
		return s.Messages(ctx, chatID)
	}), nil
}

// Conversation fetches a single chat. A missing chat yields an error wrapping sql.ErrNoRows.
func (s *Store) Conversation(ctx context.Context, chatID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM private_chats WHERE id = ?`, chatID,
	).Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListConversations returns the chats userID takes part in, newest first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, participant_a, participant_b, created_at FROM private_chats
		 WHERE participant_a = ? OR participant_b = ? ORDER BY created_at DESC, id DESC`,
		userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	convs := make([]*models.Conversation, 0)
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Participants[0], &c.Participants[1], &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return convs, nil
}

// SubscribeConversations opens a live query over the chats of userID.
func (s *Store) SubscribeConversations(ctx context.Context, userID string) *live.Subscription[[]*models.Conversation] {
	return live.Subscribe(ctx, s.hub, live.UserTopic(userID), func(ctx context.Context) ([]*models.Conversation, error) {
		return s.ListConversations(ctx, userID)
	})
}

// FindOrCreateConversation returns the chat between userA and userB, creating it when
// none exists. The scan and the insert are not atomic; with deterministic ids a
// concurrent creator collapses onto the same row.
func (s *Store) FindOrCreateConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, ErrSelfConversation
	}
	convs, err := s.ListConversations(ctx, userA)
	if err != nil {
		return nil, err
	}
	for _, c := range convs {
		if c.Includes(userB) {
			return c, nil
		}
	}
	if s.beforeCreate != nil {
		s.beforeCreate()
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	if !s.deterministicIDs {
		c := &models.Conversation{ID: newID(now), Participants: [2]string{userA, userB}, CreatedAt: now}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO private_chats (id, participant_a, participant_b, created_at) VALUES (?, ?, ?, ?)`,
			c.ID, userA, userB, now,
		); err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		s.notifyParticipants(c)
		return c, nil
	}

	id := PairID(userA, userB)
	res, err := s.db.ExecContext(ctx,
		storage.InsertIgnore(s.driver)+` INTO private_chats (id, participant_a, participant_b, created_at) VALUES (?, ?, ?, ?)`,
		id, userA, userB, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	c, err := s.Conversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.notifyParticipants(c)
	}
	return c, nil
}

func (s *Store) notifyParticipants(c *models.Conversation) {
	s.hub.Notify(live.UserTopic(c.Participants[0]))
	s.hub.Notify(live.UserTopic(c.Participants[1]))
}

// PairID is the conversation key for an unordered pair of users.
func PairID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return pair[0] + ":" + pair[1]
}
