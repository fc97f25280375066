package handlers

import (
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"selfie-booth/internal/prompts"
	"selfie-booth/internal/telegram"
)

const (
	callbackPrefix = "sb"
	maxLabelRunes  = 48
	// Telegram rejects callback data longer than this.
	maxCallbackBytes = 64
)

const (
	actionPrompt    = "prompt"
	actionGenerate  = "generate"
	actionVideo     = "video"
	actionNewPrompt = "newprompt"
	actionStartOver = "startover"
)

type callback struct {
	Action string
	Arg    string
}

func callbackData(action, arg string) string {
	data := callbackPrefix + ":" + action
	if arg != "" {
		data += ":" + arg
	}
	if len(data) > maxCallbackBytes {
		data = data[:maxCallbackBytes]
	}
	return data
}

func parseCallback(data string) (callback, bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] != callbackPrefix {
		return callback{}, false
	}

	cb := callback{Action: parts[1]}
	if len(parts) == 3 {
		cb.Arg = parts[2]
	}

	switch cb.Action {
	case actionPrompt:
		return cb, cb.Arg != ""
	case actionGenerate, actionVideo, actionNewPrompt, actionStartOver:
		return cb, cb.Arg == ""
	}
	return callback{}, false
}

func button(label, action, arg string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(label, callbackData(action, arg))
}

func promptKeyboard(options []prompts.Option) telegram.Keyboard {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(options)+1)
	for _, o := range options {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(button(label(o.Description), actionPrompt, o.ID)))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(button("🔁 Start over", actionStartOver, "")))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func generateKeyboard() telegram.Keyboard {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("✨ Generate", actionGenerate, "")),
		tgbotapi.NewInlineKeyboardRow(
			button("🎨 Other theme", actionNewPrompt, ""),
			button("🔁 Start over", actionStartOver, ""),
		),
	)
}

func resultKeyboard() telegram.Keyboard {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("🎬 Make a video", actionVideo, "")),
		tgbotapi.NewInlineKeyboardRow(
			button("🎨 New theme", actionNewPrompt, ""),
			button("🔁 Start over", actionStartOver, ""),
		),
	)
}

func videoKeyboard() telegram.Keyboard {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			button("🎨 New theme", actionNewPrompt, ""),
			button("🔁 Start over", actionStartOver, ""),
		),
	)
}

func retryKeyboard() telegram.Keyboard {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(button("🔁 Try again", actionStartOver, "")),
	)
}

func label(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxLabelRunes {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLabelRunes-1])) + "…"
}
