package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"selfie-booth/internal/datauri"
	"selfie-booth/internal/logging"
)

const (
	DefaultCountdown   = 3
	DefaultTick        = time.Second
	DefaultJPEGQuality = 90
)

type State string

const (
	StateIdle      State = "idle"
	StateAcquiring State = "acquiring"
	StateReady     State = "ready"
	StateFailed    State = "failed"
)

type Options struct {
	Device      Device
	Constraints Constraints
	// Countdown is the number of ticks before the shot; 0 shoots at once.
	Countdown   int
	Tick        time.Duration
	JPEGQuality int
	Logger      *zerolog.Logger
	Wait        func(ctx context.Context, d time.Duration) error
}

// Unit owns at most one open stream. Start and Close may be called any number
// of times; every acquired stream is closed exactly once.
type Unit struct {
	device      Device
	constraints Constraints
	countdown   int
	tick        time.Duration
	quality     int
	logger      zerolog.Logger
	wait        func(ctx context.Context, d time.Duration) error

	mu        sync.Mutex
	state     State
	gen       int
	stream    Stream
	err       *Error
	counting  bool
	remaining int
}

func NewUnit(opts Options) *Unit {
	c := opts.Constraints
	if c.Width <= 0 || c.Height <= 0 {
		c = DefaultConstraints()
	}

	countdown := opts.Countdown
	if countdown < 0 {
		countdown = 0
	}

	tick := opts.Tick
	if tick <= 0 {
		tick = DefaultTick
	}

	quality := opts.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	wait := opts.Wait
	if wait == nil {
		wait = sleep
	}

	return &Unit{
		device:      opts.Device,
		constraints: c,
		countdown:   countdown,
		tick:        tick,
		quality:     quality,
		logger:      logging.OrNop(opts.Logger).With().Str("component", "camera").Logger(),
		wait:        wait,
		state:       StateIdle,
	}
}

// Start acquires the device and blocks until it is ready or has failed. A
// Close that happens while the device is being opened wins: the stream is
// released as soon as Open returns and Start reports ErrClosed.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	switch u.state {
	case StateAcquiring, StateReady:
		u.mu.Unlock()
		return nil
	}
	u.gen++
	gen := u.gen
	u.state = StateAcquiring
	u.err = nil
	u.mu.Unlock()

	if u.device == nil {
		return u.fail(gen, &Error{Kind: KindNotFound, Err: fmt.Errorf("no capture device configured")})
	}

	stream, err := u.device.Open(ctx, u.constraints)

	u.mu.Lock()
	if gen != u.gen {
		u.mu.Unlock()
		if stream != nil {
			if cerr := stream.Close(); cerr != nil {
				u.logger.Warn().Err(cerr).Msg("release after cancelled start")
			}
		}
		u.logger.Debug().Msg("camera released during acquisition")
		return ErrClosed
	}
	u.mu.Unlock()

	if err != nil {
		return u.fail(gen, Classify(err))
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen {
		_ = stream.Close()
		return ErrClosed
	}
	u.stream = stream
	u.state = StateReady
	u.logger.Info().Int("width", u.constraints.Width).Int("height", u.constraints.Height).Msg("camera ready")
	return nil
}

func (u *Unit) fail(gen int, ce *Error) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen {
		return ErrClosed
	}
	u.state = StateFailed
	u.err = ce
	u.logger.Warn().Err(ce).Str("kind", string(ce.Kind)).Msg("camera unavailable")
	return ce
}

func (u *Unit) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Err is the classified failure of the last Start, nil unless failed.
func (u *Unit) Err() *Error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.err
}

// Countdown is the number of ticks left, 0 when no capture is running.
func (u *Unit) Countdown() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.remaining
}

func (u *Unit) Capturing() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counting
}

// Preview returns the current frame flipped horizontally, the way the user
// sees themselves.
func (u *Unit) Preview() (image.Image, error) {
	frame, err := u.frame()
	if err != nil {
		return nil, err
	}
	return imaging.FlipH(frame), nil
}

func (u *Unit) PreviewJPEG() ([]byte, error) {
	img, err := u.Preview()
	if err != nil {
		return nil, err
	}
	return u.encode(img)
}

// Capture counts down, then returns one mirrored JPEG still. onTick, when
// set, sees every remaining count before the wait that follows it. A second
// call while a countdown runs gets ErrCaptureInProgress.
func (u *Unit) Capture(ctx context.Context, onTick func(remaining int)) ([]byte, error) {
	u.mu.Lock()
	if u.state != StateReady {
		u.mu.Unlock()
		return nil, ErrNotReady
	}
	if u.counting {
		u.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	u.counting = true
	gen := u.gen
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.counting = false
		u.remaining = 0
		u.mu.Unlock()
	}()

	for n := u.countdown; n > 0; n-- {
		u.mu.Lock()
		u.remaining = n
		u.mu.Unlock()

		if onTick != nil {
			onTick(n)
		}
		if err := u.wait(ctx, u.tick); err != nil {
			return nil, err
		}
	}

	u.mu.Lock()
	if gen != u.gen || u.state != StateReady {
		u.mu.Unlock()
		return nil, ErrClosed
	}
	frame, err := u.stream.Frame()
	u.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("sample frame: %w", err)
	}

	still, err := u.encode(imaging.FlipH(frame))
	if err != nil {
		return nil, err
	}
	u.logger.Info().Int("bytes", len(still)).Msg("still captured")
	return still, nil
}

func (u *Unit) frame() (image.Image, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.state != StateReady {
		return nil, ErrNotReady
	}
	return u.stream.Frame()
}

func (u *Unit) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(u.quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Close releases the stream, or marks an acquisition in progress for release.
func (u *Unit) Close() error {
	u.mu.Lock()
	u.gen++
	stream := u.stream
	u.stream = nil
	u.state = StateIdle
	u.err = nil
	u.mu.Unlock()

	if stream == nil {
		return nil
	}
	u.logger.Debug().Msg("camera released")
	return stream.Close()
}

// DataURI wraps an encoded still for the workflow.
func DataURI(jpeg []byte) string {
	return datauri.Encode("image/jpeg", jpeg)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
