package handlers

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"selfie-booth/internal/logging"
	"selfie-booth/internal/mediagroup"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/session"
	"selfie-booth/internal/telegram"
	"selfie-booth/internal/workflow"
)

const (
	defaultDownloadTimeout = 60 * time.Second
	dispatchTimeout        = 5 * time.Second
	outboxSize             = 32
)

// Messenger is the part of *telegram.Client the handler talks through.
type Messenger interface {
	SendText(chatID int64, text string) error
	SendKeyboard(chatID int64, text string, kb telegram.Keyboard) (int, error)
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhoto(chatID int64, image, caption string, kb *telegram.Keyboard) error
	SendVideo(chatID int64, video, caption string, kb *telegram.Keyboard) error
	DownloadPhoto(ctx context.Context, fileID string) (string, error)
	SendTyping(chatID int64)
}

type Options struct {
	Telegram Messenger
	// Workflow is the template for every chat's controller. Its Logger is
	// replaced with a per-chat one.
	Workflow        workflow.Options
	AlbumDebounce   time.Duration
	DownloadTimeout time.Duration
	Logger          *zerolog.Logger
}

type Handler struct {
	tg       Messenger
	wfOpts   workflow.Options
	sessions *session.Registry
	albums   *mediagroup.Aggregator
	base     zerolog.Logger
	logger   zerolog.Logger
	download time.Duration
	hints    atomic.Int64
}

func New(opts Options) *Handler {
	base := logging.OrNop(opts.Logger)

	download := opts.DownloadTimeout
	if download <= 0 {
		download = defaultDownloadTimeout
	}

	h := &Handler{
		tg:       opts.Telegram,
		wfOpts:   opts.Workflow,
		base:     base,
		logger:   base.With().Str("component", "handlers").Logger(),
		download: download,
	}
	h.sessions = session.NewRegistry(session.Options{New: h.newSession, Logger: opts.Logger})
	h.albums = mediagroup.New(mediagroup.Options{Debounce: opts.AlbumDebounce, OnFlush: h.handleAlbum})
	return h
}

func (h *Handler) Sessions() *session.Registry {
	return h.sessions
}

// Run sweeps idle chats until ctx is done, then stops every session.
func (h *Handler) Run(ctx context.Context, sweepEvery, idle time.Duration) error {
	defer h.albums.Stop()
	return h.sessions.Run(ctx, sweepEvery, idle)
}

func (h *Handler) newSession(chatID int64) *workflow.Controller {
	logger := h.base.With().Int64("chat", chatID).Logger()
	opts := h.wfOpts
	opts.Logger = &logger
	ctrl := workflow.New(opts)

	out := make(chan reply, outboxSize)
	ctrl.OnChange(func(prev, next workflow.Session) {
		replies := render(prev, next, view{Hint: h.nextHint(next)})
		for _, r := range replies {
			select {
			case out <- r:
			default:
				logger.Warn().Msg("outbox full, reply dropped")
			}
		}
	})
	go h.deliver(chatID, ctrl.Done(), out)
	return ctrl
}

// deliver sends replies for one chat in order until the session stops.
func (h *Handler) deliver(chatID int64, done <-chan struct{}, out <-chan reply) {
	for {
		select {
		case <-done:
			return
		case r := <-out:
			if err := h.send(chatID, r); err != nil {
				h.logger.Error().Err(err).Int64("chat", chatID).Msg("send failed")
			}
		}
	}
}

func (h *Handler) send(chatID int64, r reply) error {
	switch {
	case r.Video != "":
		return h.tg.SendVideo(chatID, r.Video, r.Text, r.Keyboard)
	case r.Photo != "":
		return h.tg.SendPhoto(chatID, r.Photo, r.Text, r.Keyboard)
	case r.Keyboard != nil:
		_, err := h.tg.SendKeyboard(chatID, r.Text, *r.Keyboard)
		return err
	default:
		return h.tg.SendText(chatID, r.Text)
	}
}

func (h *Handler) nextHint(next workflow.Session) string {
	if next.Current() != workflow.StepResult || next.Editing {
		return ""
	}
	return prompts.EditHint(int(h.hints.Add(1) - 1))
}

func (h *Handler) HandleUpdate(ctx context.Context, update telegram.Update) error {
	if cq := update.CallbackQuery; cq != nil {
		return h.handleCallback(ctx, cq)
	}
	if update.Message == nil {
		return nil
	}

	msg := update.Message
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, msg)
	}

	if fileID := imageFileID(msg); fileID != "" {
		if msg.MediaGroupID != "" && h.albums.Add(mediagroup.Item{ChatID: chatID, GroupID: msg.MediaGroupID, FileID: fileID}) {
			return nil
		}
		return h.handlePhoto(ctx, chatID, fileID)
	}

	if text := strings.TrimSpace(msg.Text); text != "" {
		return h.handleText(ctx, chatID, text)
	}
	return nil
}

func (h *Handler) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) error {
	ctrl, err := h.sessions.Get(chatID)
	if err != nil {
		return err
	}

	switch msg.Command() {
	case "start":
		before := ctrl.Snapshot().Current()
		if _, err := h.do(ctx, ctrl, workflow.StartOver{}); err != nil {
			return err
		}
		if before == workflow.StepCapture {
			return h.tg.SendText(chatID, welcomeText)
		}
		return nil
	case "new":
		if !ctrl.Snapshot().CanChooseNewPrompt() {
			return h.tg.SendText(chatID, "Send me a selfie first.")
		}
		_, err := h.do(ctx, ctrl, workflow.NewPromptRequested{})
		return err
	case "help":
		return h.tg.SendText(chatID,
			"📸 Selfie Booth\n\n"+
				"1. Send a selfie.\n"+
				"2. Pick a theme and tap Generate.\n"+
				"3. Reply with text to edit the result, or make a video.\n\n"+
				"/start - Start over\n"+
				"/new - Pick another theme for the same selfie\n"+
				"/help - This message\n\n"+
				stepHelp(ctrl.Snapshot()),
		)
	default:
		return h.tg.SendText(chatID, "Unknown command. Try /help.")
	}
}

func (h *Handler) handleAlbum(group mediagroup.Group) {
	if len(group.FileIDs) == 0 {
		return
	}
	if len(group.FileIDs) > 1 {
		_ = h.tg.SendText(group.ChatID, "I'll use the first photo of the album.")
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.download+dispatchTimeout)
	defer cancel()
	if err := h.handlePhoto(ctx, group.ChatID, group.FileIDs[0]); err != nil {
		h.logger.Error().Err(err).Int64("chat", group.ChatID).Msg("album processing failed")
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, fileID string) error {
	ctrl, err := h.sessions.Get(chatID)
	if err != nil {
		return err
	}
	if ctrl.Snapshot().Current() != workflow.StepCapture {
		return h.tg.SendText(chatID, "You already have a selfie in progress. Send /start to begin again.")
	}

	h.tg.SendTyping(chatID)

	dctx, cancel := context.WithTimeout(ctx, h.download)
	defer cancel()
	image, err := h.tg.DownloadPhoto(dctx, fileID)
	if err != nil {
		h.logger.Error().Err(err).Int64("chat", chatID).Msg("photo download failed")
		return h.tg.SendText(chatID, "❌ I couldn't download that photo. Please send it again.")
	}

	_, err = h.do(ctx, ctrl, workflow.ImageCaptured{Image: image})
	return err
}

func (h *Handler) handleText(ctx context.Context, chatID int64, text string) error {
	ctrl, err := h.sessions.Get(chatID)
	if err != nil {
		return err
	}

	s := ctrl.Snapshot()
	if !s.CanEdit() {
		return h.tg.SendText(chatID, stepHelp(s))
	}
	_, err = h.do(ctx, ctrl, workflow.EditRequested{Instruction: text})
	return err
}

func (h *Handler) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) error {
	cb, ok := parseCallback(cq.Data)
	if !ok || cq.Message == nil {
		return h.tg.AnswerCallback(cq.ID, "", false)
	}
	chatID := cq.Message.Chat.ID

	ctrl, err := h.sessions.Get(chatID)
	if err != nil {
		return err
	}

	ev, refusal := h.callbackEvent(ctrl, cb)
	if ev == nil {
		return h.tg.AnswerCallback(cq.ID, refusal, false)
	}
	if _, err := h.do(ctx, ctrl, ev); err != nil {
		_ = h.tg.AnswerCallback(cq.ID, "Please try again.", false)
		return err
	}
	return h.tg.AnswerCallback(cq.ID, "", false)
}

// callbackEvent maps a button press to an event, or explains why the button
// does nothing right now.
func (h *Handler) callbackEvent(ctrl *workflow.Controller, cb callback) (workflow.Event, string) {
	s := ctrl.Snapshot()

	switch cb.Action {
	case actionPrompt:
		if s.Current() != workflow.StepPreview || s.Busy() {
			return nil, "Themes can be picked right after a selfie."
		}
		if !s.PromptsReady() {
			return nil, "Themes are still loading, try again in a moment."
		}
		opt, ok := prompts.Find(s.Prompts, cb.Arg)
		if !ok {
			return nil, "That theme is no longer available."
		}
		return workflow.PromptSelected{Option: opt}, ""
	case actionGenerate:
		if !s.CanGenerate() {
			return nil, "Pick a theme first."
		}
		return workflow.GenerateRequested{}, ""
	case actionVideo:
		if !s.CanRequestVideo() {
			return nil, "A video can't be made right now."
		}
		return workflow.VideoRequested{}, ""
	case actionNewPrompt:
		if !s.CanChooseNewPrompt() {
			return nil, "Send me a selfie first."
		}
		return workflow.NewPromptRequested{}, ""
	case actionStartOver:
		return workflow.StartOver{}, ""
	}
	return nil, ""
}

func (h *Handler) do(ctx context.Context, ctrl *workflow.Controller, ev workflow.Event) (workflow.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
	defer cancel()

	s, err := ctrl.Do(ctx, ev)
	if errors.Is(err, workflow.ErrStopped) {
		return s, session.ErrClosed
	}
	return s, err
}

// imageFileID picks the largest size of a photo, or an image sent as a file.
func imageFileID(msg *tgbotapi.Message) string {
	if len(msg.Photo) > 0 {
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	if d := msg.Document; d != nil && strings.HasPrefix(d.MimeType, "image/") {
		return d.FileID
	}
	return ""
}
