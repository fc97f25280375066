// Package videojob follows one submitted video-generation job until the
// backend reports a terminal state.
package videojob

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/logging"
)

const (
	DefaultInterval = 5 * time.Second
	MinInterval     = 2 * time.Second
)

type Checker interface {
	PollVideoJob(ctx context.Context, handle string) (backend.VideoStatus, error)
}

type Kind string

const (
	KindProgress  Kind = "progress"
	KindTransient Kind = "transient"
	KindSucceeded Kind = "succeeded"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// Update is what one poll tick observed. Polls counts status requests made
// for the handle so far.
type Update struct {
	Handle    string
	Kind      Kind
	Transient backend.TransientReason
	Video     string
	Artifact  string
	Reason    string
	Polls     int
}

func (u Update) Terminal() bool {
	return u.Kind == KindSucceeded || u.Kind == KindFailed || u.Kind == KindCancelled
}

type Options struct {
	Checker  Checker
	Interval time.Duration
	// Timeout bounds the whole loop; 0 disables it.
	Timeout time.Duration
	Logger  *zerolog.Logger
	// Wait replaces the sleep between ticks, mostly for tests.
	Wait func(ctx context.Context, d time.Duration) error
}

type Poller struct {
	checker  Checker
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	wait     func(ctx context.Context, d time.Duration) error
}

func New(opts Options) *Poller {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}

	timeout := opts.Timeout
	if timeout < 0 {
		timeout = 0
	}

	wait := opts.Wait
	if wait == nil {
		wait = sleep
	}

	return &Poller{
		checker:  opts.Checker,
		interval: interval,
		timeout:  timeout,
		logger:   logging.OrNop(opts.Logger).With().Str("component", "videojob").Logger(),
		wait:     wait,
	}
}

func (p *Poller) Interval() time.Duration { return p.interval }

// Run polls handle until a terminal answer, a transport failure, the timeout,
// or cancellation of ctx. Ticks are strictly sequential: the next wait starts
// only after report returned for the previous answer. Every non-cancelled
// update, terminal or not, is passed to report; the last one is returned.
func (p *Poller) Run(ctx context.Context, handle string, report func(Update)) Update {
	if report == nil {
		report = func(Update) {}
	}

	parent := ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	log := p.logger.With().Str("job", handle).Logger()
	log.Info().Dur("interval", p.interval).Msg("polling video job")

	polls := 0
	for {
		if err := p.wait(ctx, p.interval); err != nil {
			return p.stopped(parent, handle, polls, report, log)
		}

		status, err := p.checker.PollVideoJob(ctx, handle)
		polls++
		if err != nil {
			if ctx.Err() != nil {
				return p.stopped(parent, handle, polls, report, log)
			}
			log.Error().Err(err).Int("polls", polls).Msg("video status check failed")
			u := Update{Handle: handle, Kind: KindFailed, Reason: "could not reach the video service", Polls: polls}
			report(u)
			return u
		}

		u := classify(handle, status, polls)
		switch u.Kind {
		case KindTransient:
			log.Warn().Str("reason", string(u.Transient)).Int("polls", polls).Msg("video job delayed")
		case KindFailed:
			log.Warn().Str("reason", u.Reason).Int("polls", polls).Msg("video job failed")
		case KindSucceeded:
			log.Info().Int("polls", polls).Msg("video job finished")
		}

		report(u)
		if u.Terminal() {
			return u
		}
	}
}

func (p *Poller) stopped(parent context.Context, handle string, polls int, report func(Update), log zerolog.Logger) Update {
	if parent.Err() != nil {
		log.Debug().Int("polls", polls).Msg("poll loop abandoned")
		return Update{Handle: handle, Kind: KindCancelled, Polls: polls}
	}

	log.Warn().Int("polls", polls).Dur("timeout", p.timeout).Msg("video job timed out")
	u := Update{Handle: handle, Kind: KindFailed, Reason: "timed out waiting for the video", Polls: polls}
	report(u)
	return u
}

func classify(handle string, s backend.VideoStatus, polls int) Update {
	u := Update{Handle: handle, Polls: polls}
	switch {
	case s.Done && s.FailureReason == "" && s.Video != "":
		u.Kind = KindSucceeded
		u.Video = s.Video
		u.Artifact = s.Artifact
	case s.Done:
		u.Kind = KindFailed
		u.Reason = s.FailureReason
		if u.Reason == "" {
			u.Reason = "video generation failed"
		}
	case s.Transient != backend.TransientNone:
		u.Kind = KindTransient
		u.Transient = s.Transient
	default:
		u.Kind = KindProgress
	}
	return u
}

// Describe is the status line shown while a job is pending.
func Describe(reason backend.TransientReason) string {
	switch reason {
	case backend.TransientRateLimited:
		return "The video service is busy right now. Still waiting…"
	case backend.TransientJobNotVisible:
		return "Your video job is still being registered. Still waiting…"
	case backend.TransientBackendError:
		return "The video service hit a hiccup. Still waiting…"
	case backend.TransientUnavailable:
		return "The video service is temporarily unavailable. Still waiting…"
	default:
		return "Generating your video… This can take a minute or two."
	}
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
