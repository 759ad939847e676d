package api

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"clearchat/internal/auth"
	"clearchat/internal/chat"
	"clearchat/internal/emotion"
	"clearchat/internal/models"
	"clearchat/internal/session"
	"clearchat/internal/worker"
)

// Handler wires HTTP routes to the chat store, accounts and the emotion detector.
type Handler struct {
	auth      *auth.Service
	sessions  *session.Manager
	store     *chat.Store
	directory *chat.Directory
	detector  emotion.Detector
	inference *worker.Dispatcher
}

// NewHandler constructs a Handler instance. detector may be nil, in which case
// the inference proxy answers every request with a failure.
func NewHandler(authService *auth.Service, sessions *session.Manager, store *chat.Store, directory *chat.Directory, detector emotion.Detector) *Handler {
	return &Handler{
		auth:      authService,
		sessions:  sessions,
		store:     store,
		directory: directory,
		detector:  detector,
	}
}

// UseInferencePool routes proxy calls through d, one queue per caller.
func (h *Handler) UseInferencePool(d *worker.Dispatcher) {
	h.inference = d
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.Any("/detect-emotion", h.detectEmotion)
	api.POST("/users/signup", h.signup)
	api.POST("/users/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware(), h.sessions.Attach(), h.auth.CSRFMiddleware())
	authed.POST("/users/logout", h.logout)
	authed.GET("/users/me", h.me)
	authed.GET("/users", h.listUsers)
	authed.GET("/chats", h.listChats)
	authed.POST("/chats", h.openChat)
	authed.GET("/chats/live", h.liveChats)
	authed.GET("/chats/:chat_id/messages", h.listMessages)
	authed.POST("/chats/:chat_id/messages", h.sendMessage)
	authed.GET("/chats/:chat_id/live", h.liveMessages)
}

func (h *Handler) currentSession(c *gin.Context) (*session.Session, bool) {
	s, ok := session.FromGin(c)
	if !ok || s.UserID() == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	return s, true
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.startSession(c, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, err := h.auth.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.startSession(c, http.StatusOK, user)
}

func (h *Handler) startSession(c *gin.Context, status int, user *models.User) {
	s, err := h.sessions.Begin(c.Request.Context(), user)
	if err != nil {
		log.Printf("begin session for %s: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	csrfToken, err := h.auth.NewCSRFToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	h.setAuthCookies(c, s.Token, csrfToken)
	c.JSON(status, gin.H{
		"user":       s.User,
		"auth_token": s.Token,
		"issued_at":  s.IssuedAt,
		"expires_at": s.ExpiresAt,
	})
}

func (h *Handler) logout(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	if err := h.sessions.End(c.Request.Context(), s); err != nil {
		log.Printf("end session for %s: %v", s.UserID(), err)
	}
	h.clearAuthCookies(c)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": s.User})
}

func (h *Handler) listUsers(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	users, err := h.directory.Users(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	others := make([]*models.User, 0, len(users))
	for _, u := range users {
		if u.ID != s.UserID() {
			others = append(others, u)
		}
	}
	c.JSON(http.StatusOK, gin.H{"users": others})
}

func (h *Handler) setAuthCookies(c *gin.Context, authToken, csrfToken string) {
	ttl := int(h.auth.TokenTTL().Seconds())
	if ttl <= 0 {
		ttl = 3600
	}
	secure := gin.Mode() == gin.ReleaseMode
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.AuthCookieName(),
		Value:    authToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.auth.CSRFCookieName(),
		Value:    csrfToken,
		MaxAge:   ttl,
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearAuthCookies(c *gin.Context) {
	for _, name := range []string{h.auth.AuthCookieName(), h.auth.CSRFCookieName()} {
		http.SetCookie(c.Writer, &http.Cookie{
			Name:     name,
			Value:    "",
			MaxAge:   -1,
			Path:     "/",
			Secure:   gin.Mode() == gin.ReleaseMode,
			HttpOnly: name == h.auth.AuthCookieName(),
			SameSite: http.SameSiteStrictMode,
		})
	}
}

func trimmed(s string) string { return strings.TrimSpace(s) }
