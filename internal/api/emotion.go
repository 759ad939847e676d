package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"clearchat/internal/emotion"
)

type detectEmotionRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// detectEmotion forwards a captured frame to the vision model and returns its
// answer verbatim.
func (h *Handler) detectEmotion(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return
	}
	var req detectEmotionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emotionFailed(c, err)
		return
	}
	res := h.classify(c, req.ImageBase64)
	if !res.Ok() {
		h.emotionFailed(c, res.Err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emotion": res.Label})
}

func (h *Handler) classify(c *gin.Context, payload string) emotion.Result {
	ctx := c.Request.Context()
	if h.inference == nil {
		return emotion.Classify(ctx, h.detector, payload)
	}
	var res emotion.Result
	if err := h.inference.Do(ctx, h.callerKey(c), func(ctx context.Context) {
		res = emotion.Classify(ctx, h.detector, payload)
	}); err != nil {
		return emotion.Result{Err: fmt.Errorf("queue inference: %w", err)}
	}
	return res
}

// callerKey groups proxy calls by signed-in user when a valid token is
// presented, and by client address otherwise.
func (h *Handler) callerKey(c *gin.Context) string {
	if token := h.auth.ExtractToken(c); token != "" {
		if claims, err := h.auth.Claims(token); err == nil {
			return "user:" + claims.Subject
		}
	}
	return "ip:" + c.ClientIP()
}

func (h *Handler) emotionFailed(c *gin.Context, err error) {
	log.Printf("Error: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "Failed to detect emotion",
		"details": err.Error(),
	})
}
