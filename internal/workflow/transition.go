package workflow

import (
	"strings"

	"selfie-booth/internal/backend"
)

var (
	noticeGenerateFailed = Notice{
		Level:  NoticeError,
		Title:  "Generation failed",
		Detail: "Something went wrong while creating your image. Please try again.",
	}
	noticeEditFailed = Notice{
		Level:  NoticeError,
		Title:  "Edit failed",
		Detail: "Your image could not be edited. The previous version is still here.",
	}
	noticeVideoSubmitFailed = Notice{
		Level:  NoticeError,
		Title:  "Video request failed",
		Detail: "The video could not be started. Please try again.",
	}
	noticeVideoFailed = Notice{
		Level:  NoticeError,
		Title:  "Video generation failed",
		Detail: "Something went wrong while creating your video. Please try again.",
	}
	noticeVideoReady = Notice{
		Level: NoticeInfo,
		Title: "Your video is ready",
	}
)

// Transition applies ev to s. It never mutates s and never fails: events the
// current step does not accept, and results whose ticket or job handle is no
// longer the one awaited, leave the session as it was and yield no commands.
func Transition(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case StartOver:
		return startOver(s, e.Ticket)
	case NewPromptRequested:
		return newPrompt(s)
	case RefreshPrompts:
		if e.Ticket == "" {
			return s, nil
		}
		s.PromptsTicket = e.Ticket
		return s, []Command{LoadPrompts{Ticket: e.Ticket}}
	case PromptsLoaded:
		if e.Ticket == "" || e.Ticket != s.PromptsTicket || len(e.Options) == 0 {
			return s, nil
		}
		s.Prompts = e.Options
		s.Suggested = e.Suggested
		s.PromptsTicket = ""
		return s, nil
	}

	switch s.step() {
	case StepCapture:
		return onCapture(s, ev)
	case StepPreview:
		return onPreview(s, ev)
	case StepGenerating:
		return onGenerating(s, ev)
	case StepResult:
		return onResult(s, ev)
	case StepGeneratingVideo:
		return onGeneratingVideo(s, ev)
	}
	return s, nil
}

func startOver(s Session, ticket string) (Session, []Command) {
	var cmds []Command
	if s.Job.Active() {
		cmds = append(cmds, StopPolling{})
	}
	if ticket == "" {
		return s.blank(StepCapture), cmds
	}
	return Session{Step: StepCapture, PromptsTicket: ticket}, append(cmds, LoadPrompts{Ticket: ticket})
}

// blank drops the journey but keeps the prompt list and any load in flight.
func (s Session) blank(step Step) Session {
	return Session{Step: step, Prompts: s.Prompts, Suggested: s.Suggested, PromptsTicket: s.PromptsTicket}
}

func newPrompt(s Session) (Session, []Command) {
	if !s.CanChooseNewPrompt() {
		return s, nil
	}

	var cmds []Command
	if s.Job.Active() {
		cmds = append(cmds, StopPolling{})
	}
	next := s.blank(StepPreview)
	next.Selfie = s.Selfie
	return next, cmds
}

func onCapture(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case ImageCaptured:
		if e.Image == "" {
			return s, nil
		}
		next := s.blank(StepPreview)
		next.Selfie = e.Image
		return next, nil
	case CameraFailed:
		msg := strings.TrimSpace(e.Message)
		if msg == "" {
			msg = "The camera could not be started."
		}
		next := s.blank(StepError)
		next.CameraError = msg
		return next, nil
	}
	return s, nil
}

func onPreview(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case PromptSelected:
		if s.Busy() || e.Option.ID == "" || strings.TrimSpace(e.Option.Description) == "" {
			return s, nil
		}
		opt := e.Option
		s.Prompt = &opt
		s.Notice = nil
		return s, nil
	case GenerateRequested:
		if !s.CanGenerate() || e.Ticket == "" {
			return s, nil
		}
		s.Step = StepGenerating
		s.Awaiting = e.Ticket
		s.Notice = nil
		return s, []Command{GenerateImage{
			Ticket: e.Ticket,
			Request: backend.GenerateRequest{
				Selfie:      s.Selfie,
				Prompt:      s.Prompt.Description,
				ReferenceID: s.Prompt.ReferenceID,
			},
		}}
	}
	return s, nil
}

func onGenerating(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case GenerateSucceeded:
		if !awaited(s, e.Ticket) {
			return s, nil
		}
		if e.Result.Image == "" {
			return generateFailed(s), nil
		}
		s.Step = StepResult
		s.Awaiting = ""
		s.Generated = &Media{URI: e.Result.Image, Artifact: e.Result.Artifact}
		return s, nil
	case GenerateFailed:
		if !awaited(s, e.Ticket) {
			return s, nil
		}
		return generateFailed(s), nil
	}
	return s, nil
}

func generateFailed(s Session) Session {
	s.Step = StepPreview
	s.Awaiting = ""
	n := noticeGenerateFailed
	s.Notice = &n
	return s
}

func onResult(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case EditRequested:
		instruction := strings.TrimSpace(e.Instruction)
		if !s.CanEdit() || instruction == "" || e.Ticket == "" {
			return s, nil
		}
		s.Editing = true
		s.Awaiting = e.Ticket
		s.Notice = nil
		req := backend.EditRequest{Image: s.Generated.URI, Instruction: instruction}
		if s.Prompt != nil {
			req.ReferenceID = s.Prompt.ReferenceID
		}
		return s, []Command{EditImage{Ticket: e.Ticket, Request: req}}
	case EditSucceeded:
		if !s.Editing || !awaited(s, e.Ticket) {
			return s, nil
		}
		s.Editing = false
		s.Awaiting = ""
		if e.Result.Image == "" {
			n := noticeEditFailed
			s.Notice = &n
			return s, nil
		}
		s.Generated = &Media{URI: e.Result.Image, Artifact: e.Result.Artifact}
		return s, nil
	case EditFailed:
		if !s.Editing || !awaited(s, e.Ticket) {
			return s, nil
		}
		s.Editing = false
		s.Awaiting = ""
		n := noticeEditFailed
		s.Notice = &n
		return s, nil
	case VideoRequested:
		if !s.CanRequestVideo() || e.Ticket == "" {
			return s, nil
		}
		s.Step = StepGeneratingVideo
		s.Awaiting = e.Ticket
		s.Job = nil
		s.Notice = nil
		return s, []Command{SubmitVideo{Ticket: e.Ticket, Image: s.Generated.URI}}
	}
	return s, nil
}

func onGeneratingVideo(s Session, ev Event) (Session, []Command) {
	switch e := ev.(type) {
	case VideoSubmitted:
		if !awaited(s, e.Ticket) || e.Handle == "" {
			return s, nil
		}
		s.Awaiting = ""
		s.Job = &VideoJob{Handle: e.Handle, Status: JobSubmitted}
		return s, []Command{StartPolling{Handle: e.Handle}}
	case VideoSubmitFailed:
		if !awaited(s, e.Ticket) {
			return s, nil
		}
		s.Step = StepResult
		s.Awaiting = ""
		n := noticeVideoSubmitFailed
		s.Notice = &n
		return s, nil
	case VideoProgress:
		if !activeJob(s, e.Handle) {
			return s, nil
		}
		job := *s.Job
		job.Transient = e.Transient
		job.Status = JobPolling
		if e.Transient != backend.TransientNone {
			job.Status = JobTransient
		}
		s.Job = &job
		return s, nil
	case VideoSucceeded:
		if !activeJob(s, e.Handle) || e.Video == "" {
			return s, nil
		}
		s.Step = StepVideoResult
		s.Job = &VideoJob{Handle: e.Handle, Status: JobSucceeded}
		s.Video = &Media{URI: e.Video, Artifact: e.Artifact}
		n := noticeVideoReady
		s.Notice = &n
		return s, nil
	case VideoFailed:
		if !activeJob(s, e.Handle) {
			return s, nil
		}
		s.Step = StepResult
		s.Job = &VideoJob{Handle: e.Handle, Status: JobFailed, FailureReason: e.Reason}
		n := noticeVideoFailed
		s.Notice = &n
		return s, nil
	}
	return s, nil
}

func awaited(s Session, ticket string) bool {
	return ticket != "" && s.Awaiting == ticket
}

func activeJob(s Session, handle string) bool {
	return handle != "" && s.Job.Active() && s.Job.Handle == handle
}
