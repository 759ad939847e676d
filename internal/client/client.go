// Package client talks to the ClearChat HTTP API and its live websocket feeds.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"clearchat/internal/models"
	"clearchat/internal/session"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	// inference carries proxy calls. It shares the transport of http but has
	// no timeout: a slow model only delays the send.
	inference *http.Client

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.inference = &http.Client{
		Transport:     c.http.Transport,
		CheckRedirect: c.http.CheckRedirect,
		Jar:           c.http.Jar,
	}
	return c
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWith(ctx, c.http, method, path, body, out)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type authResponse struct {
	User      *models.User `json:"user"`
	AuthToken string       `json:"auth_token"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

func (r *authResponse) session() *session.Session {
	return &session.Session{User: r.User, Token: r.AuthToken, IssuedAt: r.IssuedAt, ExpiresAt: r.ExpiresAt}
}

// Signup creates an account and starts a session with it.
func (c *Client) Signup(ctx context.Context, name, email, password string) (*session.Session, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/users/signup", map[string]string{
		"name": name, "email": email, "password": password,
	}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AuthToken)
	return resp.session(), nil
}

// Login starts a session for existing credentials.
func (c *Client) Login(ctx context.Context, email, password string) (*session.Session, error) {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/users/login", map[string]string{
		"email": email, "password": password,
	}, &resp); err != nil {
		return nil, err
	}
	c.SetToken(resp.AuthToken)
	return resp.session(), nil
}

// Logout revokes the current token and forgets it locally either way.
func (c *Client) Logout(ctx context.Context) error {
	if c.bearer() == "" {
		return nil
	}
	err := c.do(ctx, http.MethodPost, "/api/users/logout", nil, nil)
	c.SetToken("")
	return err
}

func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var resp struct {
		User *models.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

// Users lists every user except the caller.
func (c *Client) Users(ctx context.Context) ([]*models.User, error) {
	var resp struct {
		Users []*models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *Client) Chats(ctx context.Context) ([]*models.Conversation, error) {
	var resp struct {
		Chats []*models.Conversation `json:"chats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// OpenChat finds or creates the conversation with participantID.
func (c *Client) OpenChat(ctx context.Context, participantID string) (*models.Conversation, error) {
	var resp struct {
		Chat *models.Conversation `json:"chat"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chats", map[string]string{"participant_id": participantID}, &resp); err != nil {
		return nil, err
	}
	return resp.Chat, nil
}

func (c *Client) Messages(ctx context.Context, chatID string) ([]*models.Message, error) {
	var resp struct {
		Messages []*models.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chats/"+url.PathEscape(chatID)+"/messages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID, text, emotion string) (*models.Message, error) {
	var resp struct {
		Message *models.Message `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chats/"+url.PathEscape(chatID)+"/messages",
		map[string]string{"text": text, "emotion": emotion}, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}
