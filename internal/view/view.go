// Package view is the terminal conversation view: a contact and recent-chat
// browser plus a live message feed with a composer.
package view

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"clearchat/internal/live"
	"clearchat/internal/models"
	"clearchat/internal/session"
)

type State int

const (
	Browsing State = iota
	Chatting
)

func (s State) String() string {
	if s == Chatting {
		return "chatting"
	}
	return "browsing"
}

const DefaultTail = 20

var ErrUnknownConversation = errors.New("unknown conversation")

// Backend is the remote side of the view.
type Backend interface {
	Users(ctx context.Context) ([]*models.User, error)
	OpenChat(ctx context.Context, participantID string) (*models.Conversation, error)
	SubscribeChats(ctx context.Context) (*live.Subscription[[]*models.Conversation], error)
	SubscribeMessages(ctx context.Context, chatID string) (*live.Subscription[[]*models.Message], error)
	SendMessage(ctx context.Context, chatID, text, emotion string) (*models.Message, error)
	DetectEmotion(ctx context.Context, payload string) string
}

// Capturer produces camera frames as data URIs. An empty payload means no frame.
type Capturer interface {
	Capture() string
	Err() error
}

type View struct {
	backend Backend
	camera  Capturer
	session *session.Session
	out     io.Writer
	tail    int

	// mu guards everything below and serialises rendering.
	mu       sync.Mutex
	state    State
	contacts []*models.User
	names    map[string]string
	recent   []*models.Conversation
	current  *models.Conversation
	messages []*models.Message
	composer string

	cancelChats    func()
	cancelMessages func()
}

func New(backend Backend, camera Capturer, s *session.Session, out io.Writer) *View {
	return &View{
		backend: backend,
		camera:  camera,
		session: s,
		out:     out,
		tail:    DefaultTail,
		names:   make(map[string]string),
	}
}

// SetTail sets how many of the newest messages are rendered.
func (v *View) SetTail(n int) {
	if n <= 0 {
		n = DefaultTail
	}
	v.mu.Lock()
	v.tail = n
	v.mu.Unlock()
}

// Open loads contacts and starts the live recent-conversations list.
func (v *View) Open(ctx context.Context) error {
	if !v.session.Active(time.Now()) {
		return session.ErrNoSession
	}
	users, err := v.backend.Users(ctx)
	if err != nil {
		return fmt.Errorf("load contacts: %w", err)
	}
	v.mu.Lock()
	v.contacts = users
	v.names[v.session.UserID()] = v.session.User.DisplayName()
	for _, u := range users {
		v.names[u.ID] = u.DisplayName()
	}
	v.mu.Unlock()

	sub, err := v.backend.SubscribeChats(ctx)
	if err != nil {
		return fmt.Errorf("subscribe conversations: %w", err)
	}
	cancel := live.Watch(sub, v.onChats)
	v.mu.Lock()
	prev := v.cancelChats
	v.cancelChats = cancel
	v.renderLocked()
	v.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (v *View) onChats(convs []*models.Conversation) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.recent = convs
	if v.state == Browsing {
		v.renderLocked()
	}
}

// SelectContact opens the conversation with userID, creating it when needed.
func (v *View) SelectContact(ctx context.Context, userID string) error {
	conv, err := v.backend.OpenChat(ctx, userID)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	return v.enter(ctx, conv)
}

// SelectConversation opens one of the recent conversations.
func (v *View) SelectConversation(ctx context.Context, chatID string) error {
	v.mu.Lock()
	var conv *models.Conversation
	for _, c := range v.recent {
		if c.ID == chatID {
			conv = c
			break
		}
	}
	v.mu.Unlock()
	if conv == nil {
		return ErrUnknownConversation
	}
	return v.enter(ctx, conv)
}

// enter switches to conv. The previous feed stays live until the new one is
// subscribed, so a failed switch leaves the open conversation untouched.
func (v *View) enter(ctx context.Context, conv *models.Conversation) error {
	sub, err := v.backend.SubscribeMessages(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	v.stopMessages()
	v.mu.Lock()
	v.state = Chatting
	v.current = conv
	v.messages = nil
	v.mu.Unlock()

	cancel := live.Watch(sub, v.onMessages)
	v.mu.Lock()
	v.cancelMessages = cancel
	v.mu.Unlock()
	return nil
}

func (v *View) onMessages(msgs []*models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.messages = msgs
	v.renderLocked()
}

// stopMessages cancels the message feed. It must not be called with mu held:
// cancelling waits for an in-flight callback, which takes mu.
func (v *View) stopMessages() {
	v.mu.Lock()
	cancel := v.cancelMessages
	v.cancelMessages = nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Back leaves the conversation and returns to the browser.
func (v *View) Back() {
	v.stopMessages()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = Browsing
	v.current = nil
	v.messages = nil
	v.renderLocked()
}

// Send posts text to the open conversation with the emotion read from the
// current camera frame. Without a frame, inference is skipped and the label is
// empty. A failed send is logged and leaves the composer untouched.
func (v *View) Send(ctx context.Context, text string) *models.Message {
	text = strings.TrimSpace(text)
	v.mu.Lock()
	conv := v.current
	if text == "" || v.state != Chatting || conv == nil {
		v.mu.Unlock()
		return nil
	}
	v.composer = text
	v.mu.Unlock()

	var payload string
	if v.camera != nil {
		payload = v.camera.Capture()
	}
	label := ""
	if payload != "" {
		label = v.backend.DetectEmotion(ctx, payload)
	}
	msg, err := v.backend.SendMessage(ctx, conv.ID, text, label)
	if err != nil {
		log.Printf("Error sending message: %v", err)
		return nil
	}
	v.mu.Lock()
	v.composer = ""
	v.mu.Unlock()
	return msg
}

// Close cancels every live subscription.
func (v *View) Close() {
	v.stopMessages()
	v.mu.Lock()
	cancel := v.cancelChats
	v.cancelChats = nil
	v.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Draft returns text whose send has not completed.
func (v *View) Draft() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.composer
}

func (v *View) Contacts() []*models.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*models.User(nil), v.contacts...)
}

func (v *View) Recent() []*models.Conversation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*models.Conversation(nil), v.recent...)
}

func (v *View) Messages() []*models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*models.Message(nil), v.messages...)
}

// Current returns the open conversation, or nil while browsing.
func (v *View) Current() *models.Conversation {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}
