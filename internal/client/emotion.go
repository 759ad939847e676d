package client

import (
	"context"
	"log"
	"net/http"

	"clearchat/internal/emotion"
)

// DetectEmotionResult sends a captured frame to the inference proxy. Only ctx
// bounds the call; the client timeout does not apply.
func (c *Client) DetectEmotionResult(ctx context.Context, payload string) emotion.Result {
	var resp struct {
		Emotion string `json:"emotion"`
	}
	if err := c.doWith(ctx, c.inference, http.MethodPost, "/api/detect-emotion", map[string]string{"imageBase64": payload}, &resp); err != nil {
		return emotion.Result{Err: err}
	}
	return emotion.Result{Label: resp.Emotion}
}

// DetectEmotion never fails: any error is logged and yields "".
func (c *Client) DetectEmotion(ctx context.Context, payload string) string {
	res := c.DetectEmotionResult(ctx, payload)
	if !res.Ok() {
		log.Printf("Error detecting emotion: %v", res.Err)
	}
	return res.LabelOrEmpty()
}
