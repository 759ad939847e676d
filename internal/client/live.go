package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"clearchat/internal/live"
	"clearchat/internal/models"
)

// SubscribeChats streams the caller's conversation list.
func (c *Client) SubscribeChats(ctx context.Context) (*live.Subscription[[]*models.Conversation], error) {
	conn, err := c.dial(ctx, "/api/chats/live")
	if err != nil {
		return nil, err
	}
	return feed(ctx, conn, "chats", func(f *struct {
		Chats []*models.Conversation `json:"chats"`
	}) []*models.Conversation {
		return f.Chats
	}), nil
}

// SubscribeMessages streams the full ordered message list of chatID.
func (c *Client) SubscribeMessages(ctx context.Context, chatID string) (*live.Subscription[[]*models.Message], error) {
	conn, err := c.dial(ctx, "/api/chats/"+url.PathEscape(chatID)+"/live")
	if err != nil {
		return nil, err
	}
	return feed(ctx, conn, "chat:"+chatID, func(f *struct {
		Messages []*models.Message `json:"messages"`
	}) []*models.Message {
		return f.Messages
	}), nil
}

func (c *Client) dial(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("parse live url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if token := c.bearer(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return conn, nil
}

// feed decodes JSON frames from conn into snapshots until the subscription ends.
func feed[F any, T any](ctx context.Context, conn *websocket.Conn, topic string, unwrap func(*F) T) *live.Subscription[T] {
	return live.Stream(ctx, topic, func(ctx context.Context, emit func(T) bool) error {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()
		defer conn.Close()
		for {
			var frame F
			if err := conn.ReadJSON(&frame); err != nil {
				return err
			}
			if !emit(unwrap(&frame)) {
				return nil
			}
		}
	})
}
