package api

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"clearchat/internal/chat"
	"clearchat/internal/models"
)

func (h *Handler) listChats(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	chats, err := h.store.ListConversations(c.Request.Context(), s.UserID())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

type openChatRequest struct {
	ParticipantID string `json:"participant_id"`
}

func (h *Handler) openChat(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req openChatRequest
	if err := c.ShouldBindJSON(&req); err != nil || trimmed(req.ParticipantID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "participant_id is required"})
		return
	}
	ctx := c.Request.Context()
	if _, err := h.directory.User(ctx, req.ParticipantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	conv, err := h.store.FindOrCreateConversation(ctx, s.UserID(), req.ParticipantID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": conv})
}

// participantChat loads the chat named in the path and checks the caller belongs to it.
func (h *Handler) participantChat(c *gin.Context, userID string) (*models.Conversation, bool) {
	conv, err := h.store.Conversation(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		writeStoreError(c, err)
		return nil, false
	}
	if !conv.Includes(userID) {
		writeStoreError(c, chat.ErrNotParticipant)
		return nil, false
	}
	return conv, true
}

func (h *Handler) listMessages(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	conv, ok := h.participantChat(c, s.UserID())
	if !ok {
		return
	}
	msgs, err := h.store.Messages(c.Request.Context(), conv.ID)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendMessageRequest struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	s, ok := h.currentSession(c)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	msg, err := h.store.Send(c.Request.Context(), c.Param("chat_id"), s.UserID(), req.Text, req.Emotion)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func writeStoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrSelfConversation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, chat.ErrNotParticipant):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
