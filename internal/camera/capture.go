package camera

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"
	"log"
	"sync"
)

const jpegQuality = 90

// Capture owns at most one open stream and turns its current frame into a
// JPEG data URI on demand.
type Capture struct {
	dev Device

	mu     sync.Mutex
	stream Stream
	err    error
}

func NewCapture(dev Device) *Capture {
	return &Capture{dev: dev}
}

// Mount acquires the device stream. A failure is kept for Err and also returned.
func (c *Capture) Mount(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}
	if c.dev == nil {
		c.err = errors.New("no camera device")
		return c.err
	}
	stream, err := c.dev.Open(ctx)
	if err != nil {
		log.Printf("Error accessing camera: %v", err)
		c.err = err
		return err
	}
	c.stream, c.err = stream, nil
	return nil
}

// Remount releases any current stream before acquiring a new one.
func (c *Capture) Remount(ctx context.Context) error {
	c.Unmount()
	return c.Mount(ctx)
}

// Unmount releases the stream. Safe to call repeatedly.
func (c *Capture) Unmount() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()
	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Printf("close camera stream: %v", err)
		}
	}
}

// Ready reports whether a stream is mounted.
func (c *Capture) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Err returns the last mount failure, or nil.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Capture snapshots the current frame as "data:image/jpeg;base64,...".
// It returns "" when no stream is mounted or the frame cannot be read.
func (c *Capture) Capture() string {
	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return ""
	}
	frame, err := stream.Frame()
	if err != nil {
		log.Printf("capture frame: %v", err)
		return ""
	}
	b := frame.Bounds()
	if b.Empty() {
		return ""
	}
	surface := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(surface, surface.Bounds(), frame, b.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, surface, &jpeg.Options{Quality: jpegQuality}); err != nil {
		log.Printf("encode frame: %v", err)
		return ""
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// With mounts dev, runs fn and unmounts on every exit path. fn runs even when
// mounting fails; the capture then yields empty payloads and reports the failure
// through Err.
func With(ctx context.Context, dev Device, fn func(*Capture) error) error {
	c := NewCapture(dev)
	defer c.Unmount()
	_ = c.Mount(ctx)
	return fn(c)
}
