//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/blackjack/webcam"
	"github.com/disintegration/imaging"
)

const (
	pixMJPEG webcam.PixelFormat = 0x47504A4D // 'MJPG'
	pixYUYV  webcam.PixelFormat = 0x56595559 // 'YUYV'

	frameWaitSeconds = 2
)

// V4L2Device is a Video4Linux capture node such as /dev/video0.
type V4L2Device struct {
	Path string
}

func (d V4L2Device) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cam, err := webcam.Open(d.Path)
	if err != nil {
		return nil, Classify(fmt.Errorf("open %s: %w", d.Path, err))
	}

	format, err := pickFormat(cam)
	if err != nil {
		_ = cam.Close()
		return nil, &Error{Kind: KindUnknown, Err: err}
	}

	_, w, h, err := cam.SetImageFormat(format, uint32(c.Width), uint32(c.Height))
	if err != nil {
		_ = cam.Close()
		return nil, Classify(fmt.Errorf("set format on %s: %w", d.Path, err))
	}

	if err := cam.StartStreaming(); err != nil {
		_ = cam.Close()
		return nil, Classify(fmt.Errorf("start streaming on %s: %w", d.Path, err))
	}

	s := &v4l2Stream{
		cam:    cam,
		format: format,
		width:  int(w),
		height: int(h),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

func pickFormat(cam *webcam.Webcam) (webcam.PixelFormat, error) {
	supported := cam.GetSupportedFormats()
	for _, f := range []webcam.PixelFormat{pixMJPEG, pixYUYV} {
		if _, ok := supported[f]; ok {
			return f, nil
		}
	}
	return 0, errors.New("device offers neither MJPEG nor YUYV")
}

// v4l2Stream keeps a copy of the newest raw frame; decoding happens on demand.
type v4l2Stream struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int

	mu      sync.Mutex
	latest  []byte
	readErr error

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *v4l2Stream) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		err := s.cam.WaitForFrame(frameWaitSeconds)
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			continue
		}
		if err != nil {
			s.setErr(err)
			return
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			s.setErr(err)
			return
		}
		if len(frame) == 0 {
			continue
		}

		buf := make([]byte, len(frame))
		copy(buf, frame)

		s.mu.Lock()
		s.latest = buf
		s.mu.Unlock()
	}
}

func (s *v4l2Stream) setErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *v4l2Stream) Frame() (image.Image, error) {
	s.mu.Lock()
	raw, err := s.latest, s.readErr
	s.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if raw == nil {
		return nil, ErrNotReady
	}

	if s.format == pixYUYV {
		return decodeYUYV(raw, s.width, s.height)
	}
	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode mjpeg frame: %w", err)
	}
	return img, nil
}

func (s *v4l2Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.done:
		case <-time.After(2 * frameWaitSeconds * time.Second):
		}
		if stopErr := s.cam.StopStreaming(); stopErr != nil {
			err = stopErr
		}
		if closeErr := s.cam.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	})
	return err
}

// decodeYUYV unpacks packed 4:2:2 (Y0 U Y1 V) into an image.YCbCr.
func decodeYUYV(raw []byte, w, h int) (image.Image, error) {
	if w <= 0 || h <= 0 || len(raw) < w*h*2 {
		return nil, fmt.Errorf("short yuyv frame: %d bytes for %dx%d", len(raw), w, h)
	}

	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio422)
	for y := 0; y < h; y++ {
		row := raw[y*w*2 : (y+1)*w*2]
		for x := 0; x+1 < w; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			c := y*img.CStride + x/2
			img.Cb[c] = row[i+1]
			img.Cr[c] = row[i+3]
		}
	}
	return img, nil
}
