package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io/fs"
	"os"
	"sync"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrStreamClosed     = errors.New("camera stream closed")
)

// Device is a source of video frames.
type Device interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired device. Frame returns the current frame.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// FileDevice serves a still image from disk as every frame. The file is re-read
// on each frame so replacing it changes what the camera sees.
type FileDevice struct {
	Path string
}

func (d FileDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(d.Path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("open camera %s: %w", d.Path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("open camera %s: is a directory", d.Path)
	}
	return &fileStream{path: d.Path}, nil
}

type fileStream struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func (s *fileStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *fileStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// PatternDevice synthesises a moving gradient. Zero sizes default to 64x48.
type PatternDevice struct {
	Width, Height int
}

func (d PatternDevice) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := d.Width, d.Height
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 48
	}
	return &patternStream{w: w, h: h}, nil
}

type patternStream struct {
	mu     sync.Mutex
	w, h   int
	tick   int
	closed bool
}

func (s *patternStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	s.tick++
	img := image.NewRGBA(image.Rect(0, 0, s.w, s.h))
	for y := 0; y < s.h; y++ {
		for x := 0; x < s.w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x + s.tick) * 255 / s.w),
				G: uint8(y * 255 / s.h),
				B: uint8(s.tick * 16),
				A: 0xff,
			})
		}
	}
	return img, nil
}

func (s *patternStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// DeniedDevice behaves like a camera the user refused access to.
type DeniedDevice struct{}

func (DeniedDevice) Open(context.Context) (Stream, error) {
	return nil, ErrPermissionDenied
}
