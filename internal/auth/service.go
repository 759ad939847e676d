package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clearchat/internal/redis"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const redisTokenPrefix = "auth:token:"

// Claims carries the user id in sub and the revocable token id in jti.
type Claims struct {
	jwt.RegisteredClaims
}

// Service issues, validates, and revokes user authentication tokens.
type Service struct {
	db             *sql.DB
	cache          *redis.Client
	secret         []byte
	issuer         string
	tokenTTL       time.Duration
	cookieName     string
	headerName     string
	csrfCookieName string
	csrfHeaderName string
}

// NewService constructs an auth service signing tokens with secret. cache may be nil.
func NewService(db *sql.DB, cache *redis.Client, secret, issuer string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		db:             db,
		cache:          cache,
		secret:         []byte(secret),
		issuer:         issuer,
		tokenTTL:       ttl,
		cookieName:     "auth_token",
		headerName:     "Authorization",
		csrfCookieName: "csrf_token",
		csrfHeaderName: "X-CSRF-Token",
	}
}

// IssueToken signs a new token for the user and records its id so it can be revoked.
func (s *Service) IssueToken(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("invalid user id")
	}
	now := time.Now().UTC()
	expiresAt := now.Add(s.tokenTTL)
	tokenID, err := generateToken()
	if err != nil {
		return "", time.Time{}, err
	}
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        tokenID,
		Subject:   userID,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_tokens (token_id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		tokenID, userID, now, expiresAt,
	); err != nil {
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, redisTokenPrefix+tokenID, userID, s.tokenTTL); err != nil {
			log.Printf("cache token failed: %v", err)
		}
	}
	return signed, expiresAt, nil
}

// NewCSRFToken returns a random token used for CSRF protection.
func (s *Service) NewCSRFToken() (string, error) {
	return generateToken()
}

// ValidateToken verifies signature, expiry and that the token was not revoked,
// returning the user id.
func (s *Service) ValidateToken(ctx context.Context, authToken string) (string, error) {
	if authToken == "" {
		return "", errors.New("token required")
	}
	claims, err := s.parse(authToken, true)
	if err != nil {
		return "", err
	}
	tokenID, userID := claims.ID, claims.Subject

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, redisTokenPrefix+tokenID)
		if err == nil && cached == userID {
			return userID, nil
		}
		if err != nil && !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("token cache lookup failed: %v", err)
		}
	}

	var (
		storedUser string
		expires    time.Time
	)
	err = s.db.QueryRowContext(ctx,
		`SELECT user_id, expires_at FROM user_tokens WHERE token_id = ?`, tokenID,
	).Scan(&storedUser, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrInvalidToken
		}
		return "", fmt.Errorf("lookup token: %w", err)
	}
	if storedUser != userID {
		return "", ErrInvalidToken
	}
	if time.Now().UTC().After(expires) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token_id = ?`, tokenID)
		return "", ErrTokenExpired
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, redisTokenPrefix+tokenID, userID, time.Until(expires)); err != nil {
			log.Printf("cache token failed: %v", err)
		}
	}
	return userID, nil
}

// RevokeToken deletes a single token. Expired tokens can still be revoked.
func (s *Service) RevokeToken(ctx context.Context, authToken string) error {
	if authToken == "" {
		return nil
	}
	claims, err := s.parse(authToken, false)
	if err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Del(ctx, redisTokenPrefix+claims.ID); err != nil {
			log.Printf("uncache token failed: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE token_id = ?`, claims.ID); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RevokeUserTokens removes all tokens belonging to the user.
func (s *Service) RevokeUserTokens(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	if s.cache != nil {
		ids, err := s.tokenIDs(ctx, userID)
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(ids))
		for _, id := range ids {
			keys = append(keys, redisTokenPrefix+id)
		}
		if err := s.cache.Del(ctx, keys...); err != nil {
			log.Printf("uncache user tokens failed: %v", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("revoke user tokens: %w", err)
	}
	return nil
}

func (s *Service) tokenIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token_id FROM user_tokens WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("list user tokens: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Service) parse(authToken string, validate bool) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	if !validate {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(authToken, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthCookieName returns the cookie name storing auth tokens.
func (s *Service) AuthCookieName() string {
	return s.cookieName
}

// CSRFCookieName returns the cookie used for CSRF tokens.
func (s *Service) CSRFCookieName() string {
	return s.csrfCookieName
}

// CSRFHeaderName returns the CSRF header name.
func (s *Service) CSRFHeaderName() string {
	return s.csrfHeaderName
}

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Claims parses and validates a token without consulting the revocation store.
func (s *Service) Claims(authToken string) (*Claims, error) {
	return s.parse(authToken, true)
}
