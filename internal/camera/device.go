// Package camera turns a live capture device into single mirrored stills.
package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// Constraints are preferences, not requirements. FacingUser only matters to
// devices that can pick between lenses; a V4L2 node is one fixed sensor and a
// FileDevice has no sensor at all, so both ignore it.
type Constraints struct {
	Width      int
	Height     int
	FacingUser bool
}

func DefaultConstraints() Constraints {
	return Constraints{Width: 1280, Height: 720, FacingUser: true}
}

// Device grants exclusive access to one camera.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an acquired feed. Frame returns the latest frame as the sensor
// sees it, unmirrored.
type Stream interface {
	Frame() (image.Image, error)
	Close() error
}

// FileDevice serves a still image from disk as if it were a live feed. Only
// one stream may be open at a time, like a real camera.
type FileDevice struct {
	Path string

	mu   sync.Mutex
	open bool
}

func (d *FileDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.open {
		return nil, &Error{Kind: KindBusy, Err: fmt.Errorf("%s already open", d.Path)}
	}

	img, err := imaging.Open(d.Path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, Classify(fmt.Errorf("open %s: %w", d.Path, err))
	}
	if c.Width > 0 && c.Height > 0 {
		img = imaging.Fill(img, c.Width, c.Height, imaging.Center, imaging.Lanczos)
	}

	d.open = true
	return &fileStream{device: d, frame: img}, nil
}

type fileStream struct {
	device *FileDevice
	frame  image.Image
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

func (s *fileStream) Frame() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.frame, nil
}

func (s *fileStream) Close() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		s.device.mu.Lock()
		s.device.open = false
		s.device.mu.Unlock()
	})
	return nil
}
