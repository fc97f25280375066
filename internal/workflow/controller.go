package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/logging"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/videojob"
)

var ErrStopped = errors.New("workflow controller stopped")

const DefaultPromptTimeout = 15 * time.Second

// Gateway is the part of the backend the controller calls directly. Status
// checks go through the Poller.
type Gateway interface {
	Generate(ctx context.Context, req backend.GenerateRequest) (backend.Result, error)
	Edit(ctx context.Context, req backend.EditRequest) (backend.Result, error)
	SubmitVideoJob(ctx context.Context, sourceImage string) (string, error)
}

type Poller interface {
	Run(ctx context.Context, handle string, report func(videojob.Update)) videojob.Update
}

type Options struct {
	Gateway   Gateway
	Suggester prompts.Suggester
	Poller    Poller
	Logger    *zerolog.Logger
	// RequestTimeout bounds each generate, edit and submit call; 0 leaves
	// them unbounded.
	RequestTimeout time.Duration
	// PromptTimeout bounds a suggestion call before the built-in list is
	// used instead. Defaults to DefaultPromptTimeout.
	PromptTimeout time.Duration
	QueueSize     int
}

type envelope struct {
	ev    Event
	reply chan Session
}

// Controller owns one Session. Events are applied one at a time by Run; calls
// to the backend run on their own goroutines and come back as events.
type Controller struct {
	gateway   Gateway
	suggester prompts.Suggester
	poller    Poller
	logger    zerolog.Logger
	timeout   time.Duration
	promptTTL time.Duration

	events  chan envelope
	done    chan struct{}
	running sync.Once

	mu         sync.RWMutex
	session    Session
	listeners  []func(prev, next Session)
	lastActive time.Time

	// owned by the Run goroutine
	pollCancel context.CancelFunc
	pollHandle string
	wg         sync.WaitGroup
}

func New(opts Options) *Controller {
	queue := opts.QueueSize
	if queue <= 0 {
		queue = 64
	}
	promptTTL := opts.PromptTimeout
	if promptTTL <= 0 {
		promptTTL = DefaultPromptTimeout
	}

	return &Controller{
		gateway:    opts.Gateway,
		suggester:  opts.Suggester,
		poller:     opts.Poller,
		logger:     logging.OrNop(opts.Logger).With().Str("component", "workflow").Logger(),
		timeout:    opts.RequestTimeout,
		promptTTL:  promptTTL,
		events:     make(chan envelope, queue),
		done:       make(chan struct{}),
		session:    Session{Step: StepCapture},
		lastActive: time.Now(),
	}
}

// Run applies events until ctx is done. The prompt list loads in the
// background; events are handled from the start. It must be called at most
// once.
func (c *Controller) Run(ctx context.Context) error {
	first := false
	c.running.Do(func() { first = true })
	if !first {
		return errors.New("workflow controller already running")
	}

	defer func() {
		c.stopPolling()
		close(c.done)
		c.wg.Wait()
	}()

	c.apply(ctx, envelope{ev: stamp(RefreshPrompts{})})

	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-c.events:
			c.apply(ctx, env)
		}
	}
}

// Dispatch queues ev. User actions get a fresh ticket unless they carry one.
func (c *Controller) Dispatch(ev Event) error {
	return c.enqueue(context.Background(), envelope{ev: stamp(ev)})
}

// Do queues ev and waits until it has been applied, returning the session
// right after it.
func (c *Controller) Do(ctx context.Context, ev Event) (Session, error) {
	reply := make(chan Session, 1)
	if err := c.enqueue(ctx, envelope{ev: stamp(ev), reply: reply}); err != nil {
		return Session{}, err
	}

	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Session{}, ctx.Err()
	case <-c.done:
		return Session{}, ErrStopped
	}
}

func (c *Controller) enqueue(ctx context.Context, env envelope) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}

	select {
	case c.events <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

func stamp(ev Event) Event {
	t, ok := ev.(ticketed)
	if !ok || t.ticket() != "" {
		return ev
	}
	return t.withTicket(uuid.NewString())
}

func (c *Controller) Snapshot() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) LastActive() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActive
}

// OnChange registers fn to run on the controller goroutine after every event
// that changed the session. fn must not block.
func (c *Controller) OnChange(fn func(prev, next Session)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Controller) apply(ctx context.Context, env envelope) {
	c.mu.Lock()
	prev := c.session
	next, cmds := Transition(prev, env.ev)
	c.session = next
	if isUserEvent(env.ev) {
		c.lastActive = time.Now()
	}
	listeners := append([]func(prev, next Session){}, c.listeners...)
	c.mu.Unlock()

	changed := !reflect.DeepEqual(prev, next)
	log := c.logger.With().Str("event", eventName(env.ev)).Logger()
	if changed {
		log.Debug().Str("from", string(prev.Current())).Str("to", string(next.Current())).Int("commands", len(cmds)).Msg("transition")
	} else {
		log.Debug().Str("step", string(prev.Current())).Msg("event ignored")
	}
	if err := next.Check(); err != nil {
		log.Error().Err(err).Msg("session invariant broken")
	}
	if loaded, ok := env.ev.(PromptsLoaded); ok && changed {
		log.Info().Int("prompts", len(loaded.Options)).Bool("suggested", loaded.Suggested).Msg("prompt list loaded")
	}

	for _, cmd := range cmds {
		c.execute(ctx, cmd)
	}

	if changed {
		for _, fn := range listeners {
			fn(prev, next)
		}
	}

	if env.reply != nil {
		env.reply <- next
	}
}

func (c *Controller) execute(ctx context.Context, cmd Command) {
	switch cmd := cmd.(type) {
	case GenerateImage:
		c.spawn(ctx, c.timeout, func(ctx context.Context) Event {
			res, err := c.gateway.Generate(ctx, cmd.Request)
			if err != nil {
				c.logger.Error().Err(err).Str("ticket", cmd.Ticket).Str("class", string(backend.ClassOf(err))).Msg("generate failed")
				return GenerateFailed{Ticket: cmd.Ticket, Err: err}
			}
			return GenerateSucceeded{Ticket: cmd.Ticket, Result: res}
		})
	case EditImage:
		c.spawn(ctx, c.timeout, func(ctx context.Context) Event {
			res, err := c.gateway.Edit(ctx, cmd.Request)
			if err != nil {
				c.logger.Error().Err(err).Str("ticket", cmd.Ticket).Str("class", string(backend.ClassOf(err))).Msg("edit failed")
				return EditFailed{Ticket: cmd.Ticket, Err: err}
			}
			return EditSucceeded{Ticket: cmd.Ticket, Result: res}
		})
	case SubmitVideo:
		c.spawn(ctx, c.timeout, func(ctx context.Context) Event {
			handle, err := c.gateway.SubmitVideoJob(ctx, cmd.Image)
			if err != nil {
				c.logger.Error().Err(err).Str("ticket", cmd.Ticket).Str("class", string(backend.ClassOf(err))).Msg("video submit failed")
				return VideoSubmitFailed{Ticket: cmd.Ticket, Err: err}
			}
			c.logger.Info().Str("job", handle).Msg("video job submitted")
			return VideoSubmitted{Ticket: cmd.Ticket, Handle: handle}
		})
	case LoadPrompts:
		c.spawn(ctx, c.promptTTL, func(ctx context.Context) Event {
			opts, suggested := prompts.Load(ctx, c.suggester, c.logger)
			return PromptsLoaded{Ticket: cmd.Ticket, Options: opts, Suggested: suggested}
		})
	case StartPolling:
		c.startPolling(ctx, cmd.Handle)
	case StopPolling:
		c.stopPolling()
	default:
		c.logger.Warn().Str("command", fmt.Sprintf("%T", cmd)).Msg("unknown command")
	}
}

// spawn runs call on its own goroutine bounded by timeout and posts the
// event it returns.
func (c *Controller) spawn(ctx context.Context, timeout time.Duration, call func(ctx context.Context) Event) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		rctx, cancel := withTimeout(ctx, timeout)
		defer cancel()

		ev := call(rctx)
		_ = c.enqueue(ctx, envelope{ev: ev})
	}()
}

func (c *Controller) startPolling(ctx context.Context, handle string) {
	c.stopPolling()
	if c.poller == nil {
		c.logger.Error().Str("job", handle).Msg("no poller configured")
		c.post(ctx, VideoFailed{Handle: handle, Reason: "video polling unavailable"})
		return
	}

	pctx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollHandle = handle

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poller.Run(pctx, handle, func(u videojob.Update) {
			if ev := updateEvent(u); ev != nil {
				_ = c.enqueue(pctx, envelope{ev: ev})
			}
		})
	}()
}

func (c *Controller) stopPolling() {
	if c.pollCancel == nil {
		return
	}
	c.logger.Debug().Str("job", c.pollHandle).Msg("poll loop stopped")
	c.pollCancel()
	c.pollCancel = nil
	c.pollHandle = ""
}

// post queues ev from the Run goroutine without blocking it.
func (c *Controller) post(ctx context.Context, ev Event) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.enqueue(ctx, envelope{ev: ev})
	}()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func updateEvent(u videojob.Update) Event {
	switch u.Kind {
	case videojob.KindProgress, videojob.KindTransient:
		return VideoProgress{Handle: u.Handle, Transient: u.Transient}
	case videojob.KindSucceeded:
		return VideoSucceeded{Handle: u.Handle, Video: u.Video, Artifact: u.Artifact}
	case videojob.KindFailed:
		return VideoFailed{Handle: u.Handle, Reason: u.Reason}
	}
	return nil
}

func isUserEvent(ev Event) bool {
	switch ev.(type) {
	case ImageCaptured, CameraFailed, PromptSelected, GenerateRequested, EditRequested,
		VideoRequested, NewPromptRequested, StartOver:
		return true
	}
	return false
}

func eventName(ev Event) string {
	t := reflect.TypeOf(ev)
	if t == nil {
		return "nil"
	}
	return t.Name()
}
