package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"clearchat/internal/auth"
	"clearchat/internal/models"
)

const contextKey = "clearchat_session"

var ErrNoSession = errors.New("no active session")

// Session is the signed-in identity: the user profile plus the bearer token that proves it.
type Session struct {
	User      *models.User `json:"user"`
	Token     string       `json:"auth_token"`
	IssuedAt  time.Time    `json:"issued_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// UserID returns the signed-in user id, or "" for a nil session.
func (s *Session) UserID() string {
	if s == nil || s.User == nil {
		return ""
	}
	return s.User.ID
}

// Active reports whether the session has a user and has not expired at now.
func (s *Session) Active(now time.Time) bool {
	if s == nil || s.User == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// Profiles resolves user ids to stored profiles.
type Profiles interface {
	User(ctx context.Context, id string) (*models.User, error)
}

// Manager starts, resolves and ends sessions on the server.
type Manager struct {
	auth     *auth.Service
	profiles Profiles
}

func NewManager(authSvc *auth.Service, profiles Profiles) *Manager {
	return &Manager{auth: authSvc, profiles: profiles}
}

// Begin issues a token for an authenticated user.
func (m *Manager) Begin(ctx context.Context, user *models.User) (*Session, error) {
	if user == nil || user.ID == "" {
		return nil, errors.New("user required")
	}
	token, expiresAt, err := m.auth.IssueToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Session{
		User:      user,
		Token:     token,
		IssuedAt:  expiresAt.Add(-m.auth.TokenTTL()),
		ExpiresAt: expiresAt,
	}, nil
}

// Resolve validates token and loads the profile it belongs to.
func (m *Manager) Resolve(ctx context.Context, token string) (*Session, error) {
	userID, err := m.auth.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return m.load(ctx, userID, token)
}

func (m *Manager) load(ctx context.Context, userID, token string) (*Session, error) {
	claims, err := m.auth.Claims(token)
	if err != nil {
		return nil, err
	}
	user, err := m.profiles.User(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInvalidToken
		}
		return nil, fmt.Errorf("load profile: %w", err)
	}
	s := &Session{User: user, Token: token}
	if claims.IssuedAt != nil {
		s.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}

// End revokes the session token.
func (m *Manager) End(ctx context.Context, s *Session) error {
	if s == nil || s.Token == "" {
		return nil
	}
	if err := m.auth.RevokeToken(ctx, s.Token); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Attach runs after auth.Middleware and stores the resolved Session in the gin context.
func (m *Manager) Attach() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		token, _ := auth.AuthTokenFromContext(c)
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		s, err := m.load(c.Request.Context(), userID, token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Set(contextKey, s)
		c.Next()
	}
}

// FromGin returns the Session stored by Attach.
func FromGin(c *gin.Context) (*Session, bool) {
	val, ok := c.Get(contextKey)
	if !ok {
		return nil, false
	}
	s, ok := val.(*Session)
	return s, ok && s != nil
}
