package handlers

import (
	"fmt"
	"strings"

	"selfie-booth/internal/telegram"
	"selfie-booth/internal/videojob"
	"selfie-booth/internal/workflow"
)

const (
	welcomeText = "📸 Selfie Booth\n\n" +
		"Send me a selfie and I'll put you into a themed scene.\n" +
		"After that you can edit the picture with plain text or turn it into a short video."
	chooseText     = "Great shot! Pick a theme:"
	loadingText    = "Great shot! Fetching today's themes…"
	generatingText = "🎨 Creating your image. This usually takes under a minute."
	editingText    = "✏️ Applying your edit…"
	videoStartText = "🎬 Your video is on its way. This can take a few minutes."
	nextText       = "What would you like to do next?"
	artifactText   = "Scan the code to download."
)

// reply is one outgoing Telegram message. Video wins over Photo, and Text
// becomes the caption when either is set.
type reply struct {
	Text     string
	Photo    string
	Video    string
	Keyboard *telegram.Keyboard
}

type view struct {
	Hint string
}

// render turns one session change into the messages that describe it.
func render(prev, next workflow.Session, v view) []reply {
	var out []reply
	if n := next.Notice; n != nil && n.Level == workflow.NoticeError && !sameNotice(prev.Notice, n) {
		out = append(out, reply{Text: noticeText(*n)})
	}

	from, to := prev.Current(), next.Current()
	switch to {
	case workflow.StepCapture:
		if from != to {
			out = append(out, reply{Text: welcomeText})
		}

	case workflow.StepPreview:
		switch {
		case next.Prompt == nil && !next.PromptsReady():
			if from != to {
				out = append(out, reply{Text: loadingText})
			}
		case next.Prompt == nil && (from != to || prev.Prompt != nil || !prev.PromptsReady()):
			out = append(out, withKeyboard(reply{Text: chooseText}, promptKeyboard(next.Prompts)))
		case next.Prompt != nil && from != to:
			text := fmt.Sprintf("Theme: %s\n\nTap Generate to try again or pick another theme.", next.Prompt.Description)
			out = append(out, withKeyboard(reply{Text: text}, generateKeyboard()))
		case next.Prompt != nil && promptID(prev) != next.Prompt.ID:
			text := fmt.Sprintf("Theme: %s\n\nTap Generate when you're ready.", next.Prompt.Description)
			out = append(out, withKeyboard(reply{Text: text}, generateKeyboard()))
		}

	case workflow.StepGenerating:
		if from != to {
			out = append(out, reply{Text: generatingText})
		}

	case workflow.StepResult:
		switch {
		case from == workflow.StepGenerating:
			out = append(out, resultReplies(next, "Here you go! 🎉", v.Hint)...)
		case from == workflow.StepGeneratingVideo:
			out = append(out, withKeyboard(reply{Text: nextText}, resultKeyboard()))
		case !prev.Editing && next.Editing:
			out = append(out, reply{Text: editingText})
		case prev.Editing && !next.Editing && next.Notice == nil:
			out = append(out, resultReplies(next, "Edited! ✨", v.Hint)...)
		}

	case workflow.StepGeneratingVideo:
		if from != to {
			out = append(out, reply{Text: videoStartText})
			break
		}
		if next.Job != nil && next.Job.Transient != "" && (prev.Job == nil || prev.Job.Transient != next.Job.Transient) {
			out = append(out, reply{Text: "⏳ " + videojob.Describe(next.Job.Transient)})
		}

	case workflow.StepVideoResult:
		if from != to && next.Video != nil {
			caption := "🎬 Your video is ready"
			if next.Notice != nil && next.Notice.Title != "" {
				caption = "🎬 " + next.Notice.Title
			}
			out = append(out, withKeyboard(reply{Text: caption, Video: next.Video.URI}, videoKeyboard()))
			if next.Video.Artifact != "" {
				out = append(out, reply{Text: artifactText, Photo: next.Video.Artifact})
			}
		}

	case workflow.StepError:
		if from != to {
			out = append(out, withKeyboard(reply{Text: "⚠️ " + next.CameraError}, retryKeyboard()))
		}
	}
	return out
}

func resultReplies(s workflow.Session, headline, hint string) []reply {
	if s.Generated == nil {
		return nil
	}

	caption := headline + "\n\nReply with a message to edit the picture"
	if hint != "" {
		caption += ", for example: " + hint
	}
	caption += "."

	out := []reply{withKeyboard(reply{Text: caption, Photo: s.Generated.URI}, resultKeyboard())}
	if s.Generated.Artifact != "" {
		out = append(out, reply{Text: artifactText, Photo: s.Generated.Artifact})
	}
	return out
}

func withKeyboard(r reply, kb telegram.Keyboard) reply {
	r.Keyboard = &kb
	return r
}

func noticeText(n workflow.Notice) string {
	var b strings.Builder
	b.WriteString("⚠️ ")
	b.WriteString(n.Title)
	if n.Detail != "" {
		b.WriteString("\n")
		b.WriteString(n.Detail)
	}
	return b.String()
}

func sameNotice(a, b *workflow.Notice) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func promptID(s workflow.Session) string {
	if s.Prompt == nil {
		return ""
	}
	return s.Prompt.ID
}

// stepHelp answers free text the current step has no use for.
func stepHelp(s workflow.Session) string {
	switch s.Current() {
	case workflow.StepCapture, workflow.StepError:
		return "Send me a selfie to begin."
	case workflow.StepPreview:
		if s.Prompt == nil && !s.PromptsReady() {
			return "Themes are still loading, one moment."
		}
		if s.Prompt == nil {
			return "Pick a theme from the list above."
		}
		return "Tap Generate to create your image."
	case workflow.StepGenerating:
		return "Still creating your image, hang on."
	case workflow.StepResult:
		if s.Editing {
			return "Still working on your last edit."
		}
		return "Reply with a message to edit the picture."
	case workflow.StepGeneratingVideo:
		return "Your video is still being made."
	case workflow.StepVideoResult:
		return "Pick a new theme or start over."
	}
	return "Send /start to begin."
}
