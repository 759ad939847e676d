package emotion

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"clearchat/internal/telemetry"
)

// DefaultPrompt asks the vision model for a single noun naming the emotion shown.
const DefaultPrompt = "What emotion is the person in the picture showing in one word that is a noun?"

const defaultMimeType = "image/jpeg"

var (
	ErrMalformedPayload = errors.New("malformed image payload")
	ErrNoDetector       = errors.New("emotion detector not configured")
)

// Detector labels the emotion shown in an image.
type Detector interface {
	Detect(ctx context.Context, image []byte, mimeType string) (string, error)
}

// ParseDataURI splits "data:<mime>;base64,<data>" into raw bytes and mime type.
func ParseDataURI(payload string) ([]byte, string, error) {
	prefix, encoded, ok := strings.Cut(payload, ",")
	if !ok || encoded == "" {
		return nil, "", ErrMalformedPayload
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	mime := defaultMimeType
	if rest, found := strings.CutPrefix(prefix, "data:"); found {
		if m, _, _ := strings.Cut(rest, ";"); m != "" {
			mime = m
		}
	}
	return data, mime, nil
}

// Result is the outcome of one classification. A failed classification still
// yields a usable, empty label.
type Result struct {
	Label string
	Err   error
}

func (r Result) Ok() bool { return r.Err == nil }

// LabelOrEmpty returns the label, or "" when classification failed.
func (r Result) LabelOrEmpty() string {
	if r.Err != nil {
		return ""
	}
	return r.Label
}

// Classify decodes a data URI payload and runs it through d.
func Classify(ctx context.Context, d Detector, payload string) Result {
	if d == nil {
		return Result{Err: ErrNoDetector}
	}
	data, mime, err := ParseDataURI(payload)
	if err != nil {
		return Result{Err: err}
	}
	telemetry.Inc(telemetry.InferenceRequests)
	start := time.Now()
	label, err := d.Detect(ctx, data, mime)
	telemetry.Since(telemetry.InferenceDuration, start)
	if err != nil {
		telemetry.Inc(telemetry.InferenceFailures)
		return Result{Err: fmt.Errorf("detect emotion: %w", err)}
	}
	return Result{Label: label}
}
