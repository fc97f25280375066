package workflow

import (
	"selfie-booth/internal/backend"
	"selfie-booth/internal/prompts"
)

// Event is anything delivered to Transition. User actions carry a Ticket the
// runtime stamps on dispatch; call results echo the ticket of the request that
// produced them so late answers can be recognised and dropped.
type Event interface {
	event()
}

type ticketed interface {
	Event
	ticket() string
	withTicket(t string) Event
}

type ImageCaptured struct{ Image string }

type CameraFailed struct {
	Kind    string
	Message string
}

type PromptSelected struct{ Option prompts.Option }

type GenerateRequested struct{ Ticket string }

type GenerateSucceeded struct {
	Ticket string
	Result backend.Result
}

type GenerateFailed struct {
	Ticket string
	Err    error
}

type EditRequested struct {
	Ticket      string
	Instruction string
}

type EditSucceeded struct {
	Ticket string
	Result backend.Result
}

type EditFailed struct {
	Ticket string
	Err    error
}

type VideoRequested struct{ Ticket string }

type VideoSubmitted struct {
	Ticket string
	Handle string
}

type VideoSubmitFailed struct {
	Ticket string
	Err    error
}

type VideoProgress struct {
	Handle    string
	Transient backend.TransientReason
}

type VideoSucceeded struct {
	Handle   string
	Video    string
	Artifact string
}

type VideoFailed struct {
	Handle string
	Reason string
}

type NewPromptRequested struct{}

// StartOver doubles as "retake" and "try again". A ticketed StartOver also
// reloads the prompt list; without a ticket the current list is kept.
type StartOver struct{ Ticket string }

// RefreshPrompts starts loading a new prompt list without touching the
// journey. The list already shown stays until the new one lands.
type RefreshPrompts struct{ Ticket string }

type PromptsLoaded struct {
	Ticket    string
	Options   []prompts.Option
	Suggested bool
}

func (ImageCaptured) event()      {}
func (CameraFailed) event()       {}
func (PromptSelected) event()     {}
func (GenerateRequested) event()  {}
func (GenerateSucceeded) event()  {}
func (GenerateFailed) event()     {}
func (EditRequested) event()      {}
func (EditSucceeded) event()      {}
func (EditFailed) event()         {}
func (VideoRequested) event()     {}
func (VideoSubmitted) event()     {}
func (VideoSubmitFailed) event()  {}
func (VideoProgress) event()      {}
func (VideoSucceeded) event()     {}
func (VideoFailed) event()        {}
func (NewPromptRequested) event() {}
func (StartOver) event()          {}
func (RefreshPrompts) event()     {}
func (PromptsLoaded) event()      {}

func (e GenerateRequested) ticket() string { return e.Ticket }
func (e EditRequested) ticket() string     { return e.Ticket }
func (e VideoRequested) ticket() string    { return e.Ticket }
func (e StartOver) ticket() string         { return e.Ticket }
func (e RefreshPrompts) ticket() string    { return e.Ticket }

func (e GenerateRequested) withTicket(t string) Event { e.Ticket = t; return e }
func (e EditRequested) withTicket(t string) Event     { e.Ticket = t; return e }
func (e VideoRequested) withTicket(t string) Event    { e.Ticket = t; return e }
func (e StartOver) withTicket(t string) Event         { e.Ticket = t; return e }
func (e RefreshPrompts) withTicket(t string) Event    { e.Ticket = t; return e }

// Command is a side effect Transition asks the runtime to perform.
type Command interface {
	command()
}

type GenerateImage struct {
	Ticket  string
	Request backend.GenerateRequest
}

type EditImage struct {
	Ticket  string
	Request backend.EditRequest
}

type SubmitVideo struct {
	Ticket string
	Image  string
}

type StartPolling struct{ Handle string }

type StopPolling struct{}

type LoadPrompts struct{ Ticket string }

func (GenerateImage) command() {}
func (EditImage) command()     {}
func (SubmitVideo) command()   {}
func (StartPolling) command()  {}
func (StopPolling) command()   {}
func (LoadPrompts) command()   {}
