// Package kiosk exposes one workflow controller and the local camera over a
// small JSON API for a kiosk page.
package kiosk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"selfie-booth/internal/camera"
	"selfie-booth/internal/logging"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/videojob"
	"selfie-booth/internal/workflow"
)

// Workflow is the part of *workflow.Controller the kiosk drives.
type Workflow interface {
	Do(ctx context.Context, ev workflow.Event) (workflow.Session, error)
	Dispatch(ev workflow.Event) error
	Snapshot() workflow.Session
	OnChange(fn func(prev, next workflow.Session))
}

// Camera is the part of *camera.Unit the kiosk drives.
type Camera interface {
	Start(ctx context.Context) error
	Close() error
	State() camera.State
	Err() *camera.Error
	Countdown() int
	Capturing() bool
	PreviewJPEG() ([]byte, error)
	Capture(ctx context.Context, onTick func(remaining int)) ([]byte, error)
}

type Options struct {
	Workflow Workflow
	Camera   Camera
	Logger   *zerolog.Logger
}

type Server struct {
	wf     Workflow
	cam    Camera
	logger zerolog.Logger

	hints  atomic.Int64
	mounts chan bool
}

type apiError struct {
	Error string `json:"error"`
}

type cameraView struct {
	State     camera.State `json:"state"`
	Capturing bool         `json:"capturing"`
	Countdown int          `json:"countdown,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type guards struct {
	Generate  bool `json:"generate"`
	Edit      bool `json:"edit"`
	Video     bool `json:"video"`
	NewPrompt bool `json:"newPrompt"`
}

// sessionView carries the theme list through the embedded session; it is
// empty while PromptsLoading.
type sessionView struct {
	workflow.Session
	Camera         cameraView `json:"camera"`
	PromptsLoading bool       `json:"promptsLoading"`
	EditHint       string     `json:"editHint,omitempty"`
	StatusLine     string     `json:"statusLine,omitempty"`
	Can            guards     `json:"can"`
}

type promptRequest struct {
	ID string `json:"id"`
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

func New(opts Options) *Server {
	return &Server{
		wf:     opts.Workflow,
		cam:    opts.Camera,
		logger: logging.OrNop(opts.Logger).With().Str("component", "kiosk").Logger(),
		mounts: make(chan bool, 16),
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.requestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/session", s.handleSession)
		r.Get("/camera/preview.jpg", s.handlePreview)
		r.Post("/camera/capture", s.handleCapture)
		r.Post("/prompt", s.handlePrompt)
		r.Post("/generate", s.handleGenerate)
		r.Post("/edit", s.handleEdit)
		r.Post("/video", s.handleVideo)
		r.Post("/new-prompt", s.handleNewPrompt)
		r.Post("/start-over", s.handleStartOver)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.view(s.wf.Snapshot()))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.cam == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "no camera"})
		return
	}

	frame, err := s.cam.PreviewJPEG()
	if err != nil {
		if errors.Is(err, camera.ErrNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "camera not ready"})
			return
		}
		s.logger.Warn().Err(err).Msg("preview frame failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "preview unavailable"})
		return
	}

	w.Header().Set("content-type", "image/jpeg")
	w.Header().Set("cache-control", "no-store")
	_, _ = w.Write(frame)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.cam == nil {
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "no camera"})
		return
	}
	if s.wf.Snapshot().Current() != workflow.StepCapture {
		writeJSON(w, http.StatusConflict, apiError{Error: "not capturing"})
		return
	}

	still, err := s.cam.Capture(r.Context(), nil)
	switch {
	case errors.Is(err, camera.ErrCaptureInProgress):
		writeJSON(w, http.StatusConflict, apiError{Error: "capture already in progress"})
		return
	case errors.Is(err, camera.ErrNotReady), errors.Is(err, camera.ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "camera not ready"})
		return
	case err != nil:
		s.logger.Error().Err(err).Msg("capture failed")
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "capture failed"})
		return
	}

	s.apply(w, r, workflow.ImageCaptured{Image: camera.DataURI(still)})
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json"})
		return
	}

	sess := s.wf.Snapshot()
	if !sess.PromptsReady() {
		writeJSON(w, http.StatusConflict, apiError{Error: "themes are still loading"})
		return
	}
	opt, ok := prompts.Find(sess.Prompts, strings.TrimSpace(req.ID))
	if !ok {
		writeJSON(w, http.StatusNotFound, apiError{Error: "unknown prompt"})
		return
	}
	if sess.Current() != workflow.StepPreview {
		writeJSON(w, http.StatusConflict, apiError{Error: "prompts can only be chosen in preview"})
		return
	}
	s.apply(w, r, workflow.PromptSelected{Option: opt})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !s.wf.Snapshot().CanGenerate() {
		writeJSON(w, http.StatusConflict, apiError{Error: "select a prompt first"})
		return
	}
	s.apply(w, r, workflow.GenerateRequested{})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid json"})
		return
	}
	if strings.TrimSpace(req.Instruction) == "" {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "instruction is required"})
		return
	}
	if !s.wf.Snapshot().CanEdit() {
		writeJSON(w, http.StatusConflict, apiError{Error: "editing is not possible right now"})
		return
	}

	s.hints.Add(1)
	s.apply(w, r, workflow.EditRequested{Instruction: req.Instruction})
}

func (s *Server) handleVideo(w http.ResponseWriter, r *http.Request) {
	if !s.wf.Snapshot().CanRequestVideo() {
		writeJSON(w, http.StatusConflict, apiError{Error: "a video cannot be requested right now"})
		return
	}
	s.apply(w, r, workflow.VideoRequested{})
}

func (s *Server) handleNewPrompt(w http.ResponseWriter, r *http.Request) {
	if !s.wf.Snapshot().CanChooseNewPrompt() {
		writeJSON(w, http.StatusConflict, apiError{Error: "take a selfie first"})
		return
	}
	s.apply(w, r, workflow.NewPromptRequested{})
}

func (s *Server) handleStartOver(w http.ResponseWriter, r *http.Request) {
	s.apply(w, r, workflow.StartOver{})
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, ev workflow.Event) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	sess, err := s.wf.Do(ctx, ev)
	if err != nil {
		s.logger.Error().Err(err).Msg("dispatch failed")
		writeJSON(w, http.StatusServiceUnavailable, apiError{Error: "workflow unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, s.view(sess))
}

func (s *Server) view(sess workflow.Session) sessionView {
	v := sessionView{
		Session:        sess,
		PromptsLoading: !sess.PromptsReady(),
		Can: guards{
			Generate:  sess.CanGenerate(),
			Edit:      sess.CanEdit(),
			Video:     sess.CanRequestVideo(),
			NewPrompt: sess.CanChooseNewPrompt(),
		},
	}

	if s.cam != nil {
		v.Camera = cameraView{State: s.cam.State(), Capturing: s.cam.Capturing(), Countdown: s.cam.Countdown()}
		if ce := s.cam.Err(); ce != nil {
			v.Camera.Error = ce.Message()
		}
	}

	switch sess.Current() {
	case workflow.StepResult:
		v.EditHint = prompts.EditHint(int(s.hints.Load()))
	case workflow.StepGeneratingVideo:
		v.StatusLine = videojob.Describe("")
		if sess.Job != nil {
			v.StatusLine = videojob.Describe(sess.Job.Transient)
		}
	}
	return v
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		level := zerolog.DebugLevel
		if ww.Status() >= 500 {
			level = zerolog.WarnLevel
		}
		s.logger.WithLevel(level).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("dur", time.Since(start)).
			Msg("http")
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	const maxBody = 1 << 20
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
