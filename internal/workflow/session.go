// Package workflow holds the selfie journey state machine and the runtime
// that drives it.
package workflow

import (
	"errors"
	"fmt"
	"strings"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/prompts"
)

type Step string

const (
	StepCapture         Step = "capture"
	StepPreview         Step = "preview"
	StepGenerating      Step = "generating"
	StepResult          Step = "result"
	StepGeneratingVideo Step = "generating-video"
	StepVideoResult     Step = "video-result"
	StepError           Step = "error"
)

// Media is a generated image or video with its optional scannable artifact.
type Media struct {
	URI      string `json:"uri"`
	Artifact string `json:"artifact,omitempty"`
}

type JobStatus string

// A job is JobSubmitted until its first poll answers.
const (
	JobSubmitted JobStatus = "submitted"
	JobPolling   JobStatus = "polling"
	JobTransient JobStatus = "transient-error"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type VideoJob struct {
	Handle        string                  `json:"handle"`
	Status        JobStatus               `json:"status"`
	Transient     backend.TransientReason `json:"transient,omitempty"`
	FailureReason string                  `json:"-"`
}

// Active reports whether a poll loop is expected to be running for the job.
func (j *VideoJob) Active() bool {
	if j == nil {
		return false
	}
	return j.Status == JobSubmitted || j.Status == JobPolling || j.Status == JobTransient
}

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

type Notice struct {
	Level  NoticeLevel `json:"level"`
	Title  string      `json:"title"`
	Detail string      `json:"detail,omitempty"`
}

// Session is one user's journey. Only Transition produces new values; the
// zero value is the initial capture step.
type Session struct {
	Step        Step            `json:"step"`
	Selfie      string          `json:"selfie,omitempty"`
	Prompt      *prompts.Option `json:"prompt,omitempty"`
	Generated   *Media          `json:"generated,omitempty"`
	Video       *Media          `json:"video,omitempty"`
	Job         *VideoJob       `json:"job,omitempty"`
	Editing     bool            `json:"editing"`
	Awaiting    string          `json:"-"`
	CameraError string          `json:"cameraError,omitempty"`
	Notice      *Notice         `json:"notice,omitempty"`

	// Prompts is filled in the background. It is empty until the first load
	// lands and is kept across steps until a start over reloads it.
	Prompts       []prompts.Option `json:"prompts"`
	Suggested     bool             `json:"promptsSuggested"`
	PromptsTicket string           `json:"-"`
}

func (s Session) step() Step {
	if s.Step == "" {
		return StepCapture
	}
	return s.Step
}

// Current is the step with the zero value resolved to capture.
func (s Session) Current() Step { return s.step() }

func (s Session) Busy() bool { return s.Awaiting != "" }

// PromptsReady reports whether a theme list can be offered.
func (s Session) PromptsReady() bool { return len(s.Prompts) > 0 }

func (s Session) CanGenerate() bool {
	return s.step() == StepPreview && s.Selfie != "" && s.Prompt != nil && !s.Busy()
}

func (s Session) CanEdit() bool {
	return s.step() == StepResult && s.Generated != nil && !s.Editing && !s.Busy()
}

func (s Session) CanRequestVideo() bool {
	return s.step() == StepResult && s.Generated != nil && !s.Job.Active() && !s.Editing && !s.Busy()
}

func (s Session) CanChooseNewPrompt() bool {
	switch s.step() {
	case StepCapture, StepError:
		return false
	}
	return s.Selfie != ""
}

// Check verifies that the populated fields agree with the step.
func (s Session) Check() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	st := s.step()
	switch st {
	case StepCapture, StepError:
		if s.Selfie != "" || s.Prompt != nil || s.Generated != nil || s.Video != nil || s.Job != nil {
			add("%s step carries journey data", st)
		}
		if st == StepCapture && s.CameraError != "" {
			add("capture step carries a camera error")
		}
		if st == StepError && s.CameraError == "" {
			add("error step without a camera error")
		}
	default:
		if s.Selfie == "" {
			add("%s step without a selfie", st)
		}
		if s.CameraError != "" {
			add("%s step carries a camera error", st)
		}
	}

	switch st {
	case StepGenerating:
		if s.Prompt == nil {
			add("generating without a prompt")
		}
		if !s.Busy() {
			add("generating without an in-flight call")
		}
		fallthrough
	case StepPreview:
		if s.Generated != nil {
			add("%s step carries a generated image", st)
		}
	case StepResult, StepGeneratingVideo, StepVideoResult:
		if s.Generated == nil || s.Generated.URI == "" {
			add("%s step without a generated image", st)
		}
	}

	if s.Video != nil && st != StepVideoResult {
		add("video present in %s step", st)
	}
	if st == StepVideoResult && (s.Video == nil || s.Video.URI == "") {
		add("video-result step without a video")
	}
	if s.Job != nil && st != StepGeneratingVideo && st != StepVideoResult && st != StepResult {
		add("video job present in %s step", st)
	}
	if s.Job.Active() && st != StepGeneratingVideo {
		add("active video job outside generating-video")
	}
	if s.Editing && st != StepResult {
		add("editing flag outside result")
	}
	if s.Editing && !s.Busy() {
		add("editing without an in-flight call")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("inconsistent session: " + strings.Join(problems, "; "))
}
