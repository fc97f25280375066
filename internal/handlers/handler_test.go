package handlers

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/prompts"
	"selfie-booth/internal/telegram"
	"selfie-booth/internal/workflow"
)

type sent struct {
	Kind     string
	Text     string
	Media    string
	Keyboard *telegram.Keyboard
}

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []sent
	answers []string
}

func (m *fakeMessenger) record(s sent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, s)
	return nil
}

func (m *fakeMessenger) SendText(_ int64, text string) error {
	return m.record(sent{Kind: "text", Text: text})
}

func (m *fakeMessenger) SendKeyboard(_ int64, text string, kb telegram.Keyboard) (int, error) {
	return 1, m.record(sent{Kind: "text", Text: text, Keyboard: &kb})
}

func (m *fakeMessenger) AnswerCallback(_ string, text string, _ bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers = append(m.answers, text)
	return nil
}

func (m *fakeMessenger) SendPhoto(_ int64, image, caption string, kb *telegram.Keyboard) error {
	return m.record(sent{Kind: "photo", Text: caption, Media: image, Keyboard: kb})
}

func (m *fakeMessenger) SendVideo(_ int64, video, caption string, kb *telegram.Keyboard) error {
	return m.record(sent{Kind: "video", Text: caption, Media: video, Keyboard: kb})
}

func (m *fakeMessenger) DownloadPhoto(_ context.Context, fileID string) (string, error) {
	return "data:image/jpeg;base64," + fileID, nil
}

func (m *fakeMessenger) SendTyping(int64) {}

func (m *fakeMessenger) snapshot() []sent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sent(nil), m.sent...)
}

func (m *fakeMessenger) lastAnswer() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.answers) == 0 {
		return ""
	}
	return m.answers[len(m.answers)-1]
}

// waitSent waits until a message matching fn has been sent.
func (m *fakeMessenger) waitSent(t *testing.T, fn func(sent) bool) sent {
	t.Helper()
	var found sent
	require.Eventually(t, func() bool {
		for _, s := range m.snapshot() {
			if fn(s) {
				found = s
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
	return found
}

type fakeGateway struct{}

func (fakeGateway) Generate(context.Context, backend.GenerateRequest) (backend.Result, error) {
	return backend.Result{Image: "data:image/png;base64,Z2Vu", Artifact: "https://example.com/qr.png"}, nil
}

func (fakeGateway) Edit(_ context.Context, req backend.EditRequest) (backend.Result, error) {
	return backend.Result{Image: req.Image + "-edited"}, nil
}

func (fakeGateway) SubmitVideoJob(context.Context, string) (string, error) { return "job", nil }

type stuckSuggester struct{}

func (stuckSuggester) SuggestPrompts(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newHandler(t *testing.T) (*Handler, *fakeMessenger) {
	t.Helper()
	return newHandlerWith(t, workflow.Options{Gateway: fakeGateway{}})
}

func newHandlerWith(t *testing.T, wf workflow.Options) (*Handler, *fakeMessenger) {
	t.Helper()
	m := &fakeMessenger{}
	h := New(Options{
		Telegram:      m,
		Workflow:      wf,
		AlbumDebounce: 10 * time.Millisecond,
	})
	t.Cleanup(h.Sessions().Close)
	return h, m
}

func chat(id int64) *tgbotapi.Chat { return &tgbotapi.Chat{ID: id} }

func command(chatID int64, cmd string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		Chat:     chat(chatID),
		Text:     "/" + cmd,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd) + 1}},
	}}
}

func photo(chatID int64, fileID, group string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{
		Chat:         chat(chatID),
		MediaGroupID: group,
		Photo:        []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: fileID}},
	}}
}

func text(chatID int64, s string) telegram.Update {
	return telegram.Update{Message: &tgbotapi.Message{Chat: chat(chatID), Text: s}}
}

func press(chatID int64, data string) telegram.Update {
	return telegram.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{Chat: chat(chatID)},
	}}
}

func TestTelegramJourney(t *testing.T) {
	h, m := newHandler(t)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, command(1, "start")))
	m.waitSent(t, func(s sent) bool { return s.Text == welcomeText })

	require.NoError(t, h.HandleUpdate(ctx, photo(1, "selfie", "")))
	list := m.waitSent(t, func(s sent) bool { return s.Text == chooseText })
	require.NotNil(t, list.Keyboard)
	first := list.Keyboard.InlineKeyboard[0][0]
	require.NotNil(t, first.CallbackData)

	ctrl, ok := h.Sessions().Lookup(1)
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,selfie", ctrl.Snapshot().Selfie)

	require.NoError(t, h.HandleUpdate(ctx, press(1, callbackData(actionVideo, ""))))
	assert.NotEmpty(t, m.lastAnswer(), "video is refused before a result exists")

	require.NoError(t, h.HandleUpdate(ctx, press(1, *first.CallbackData)))
	m.waitSent(t, func(s sent) bool { return strings.HasPrefix(s.Text, "Theme: ") })

	require.NoError(t, h.HandleUpdate(ctx, press(1, callbackData(actionGenerate, ""))))
	result := m.waitSent(t, func(s sent) bool { return s.Kind == "photo" && s.Media == "data:image/png;base64,Z2Vu" })
	assert.Contains(t, result.Text, "Reply with a message to edit")
	m.waitSent(t, func(s sent) bool { return s.Kind == "photo" && s.Media == "https://example.com/qr.png" })

	require.NoError(t, h.HandleUpdate(ctx, text(1, "add sunglasses")))
	m.waitSent(t, func(s sent) bool { return s.Kind == "photo" && strings.HasSuffix(s.Media, "-edited") })

	require.NoError(t, h.HandleUpdate(ctx, press(1, callbackData(actionStartOver, ""))))
	require.Eventually(t, func() bool { return ctrl.Snapshot().Current() == workflow.StepCapture }, time.Second, 5*time.Millisecond)
}

func TestFirstSelfieWhileThemesLoad(t *testing.T) {
	h, m := newHandlerWith(t, workflow.Options{
		Gateway:        fakeGateway{},
		Suggester:      stuckSuggester{},
		RequestTimeout: 3 * time.Second,
		PromptTimeout:  time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photo(5, "selfie", "")))
	m.waitSent(t, func(s sent) bool { return s.Text == loadingText })

	ctrl, ok := h.Sessions().Lookup(5)
	require.True(t, ok)
	s := ctrl.Snapshot()
	assert.Equal(t, workflow.StepPreview, s.Step)
	assert.Equal(t, "data:image/jpeg;base64,selfie", s.Selfie)

	require.NoError(t, h.HandleUpdate(ctx, press(5, callbackData(actionPrompt, "F1"))))
	assert.Contains(t, m.lastAnswer(), "still loading")
	assert.Nil(t, ctrl.Snapshot().Prompt)
}

func TestPhotoOutsideCaptureIsRefused(t *testing.T) {
	h, m := newHandler(t)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photo(2, "one", "")))
	m.waitSent(t, func(s sent) bool { return s.Text == chooseText })

	require.NoError(t, h.HandleUpdate(ctx, photo(2, "two", "")))
	m.waitSent(t, func(s sent) bool { return strings.Contains(s.Text, "/start") })

	ctrl, _ := h.Sessions().Lookup(2)
	assert.Equal(t, "data:image/jpeg;base64,one", ctrl.Snapshot().Selfie)
}

func TestAlbumUsesFirstPhoto(t *testing.T) {
	h, m := newHandler(t)
	ctx := context.Background()

	require.NoError(t, h.HandleUpdate(ctx, photo(3, "a", "album")))
	require.NoError(t, h.HandleUpdate(ctx, photo(3, "b", "album")))

	m.waitSent(t, func(s sent) bool { return strings.Contains(s.Text, "first photo") })
	m.waitSent(t, func(s sent) bool { return s.Text == chooseText })

	ctrl, ok := h.Sessions().Lookup(3)
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,a", ctrl.Snapshot().Selfie)
}

func TestTextBeforeResultGetsHelp(t *testing.T) {
	h, m := newHandler(t)
	require.NoError(t, h.HandleUpdate(context.Background(), text(4, "hello")))
	m.waitSent(t, func(s sent) bool { return s.Text == "Send me a selfie to begin." })
}

func TestParseCallback(t *testing.T) {
	tests := []struct {
		data string
		want callback
		ok   bool
	}{
		{"sb:prompt:F1", callback{Action: actionPrompt, Arg: "F1"}, true},
		{"sb:generate", callback{Action: actionGenerate}, true},
		{"sb:startover", callback{Action: actionStartOver}, true},
		{"sb:prompt", callback{}, false},
		{"sb:generate:extra", callback{}, false},
		{"sb:launch", callback{}, false},
		{"xx:generate", callback{}, false},
		{"", callback{}, false},
	}

	for _, tt := range tests {
		got, ok := parseCallback(tt.data)
		assert.Equal(t, tt.ok, ok, tt.data)
		if tt.ok {
			assert.Equal(t, tt.want, got, tt.data)
		}
	}

	assert.LessOrEqual(t, len(callbackData(actionPrompt, strings.Repeat("x", 100))), maxCallbackBytes)
}

func TestPromptKeyboard(t *testing.T) {
	opts := prompts.Fallback()
	kb := promptKeyboard(opts)
	require.Len(t, kb.InlineKeyboard, len(opts)+1)

	for i, o := range opts {
		btn := kb.InlineKeyboard[i][0]
		require.NotNil(t, btn.CallbackData)
		cb, ok := parseCallback(*btn.CallbackData)
		require.True(t, ok)
		assert.Equal(t, o.ID, cb.Arg)
		assert.LessOrEqual(t, len([]rune(btn.Text)), maxLabelRunes)
	}
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "short one", label("  short \n one "))
	long := label(strings.Repeat("word ", 30))
	assert.Equal(t, maxLabelRunes, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestRender(t *testing.T) {
	opt := prompts.Fallback()[0]
	preview := workflow.Session{Step: workflow.StepPreview, Selfie: "s", Prompts: []prompts.Option{opt}}
	chosen := preview
	chosen.Prompt = &opt
	generating := chosen
	generating.Step = workflow.StepGenerating
	generating.Awaiting = "t"
	result := chosen
	result.Step = workflow.StepResult
	result.Generated = &workflow.Media{URI: "img", Artifact: "qr"}

	out := render(workflow.Session{}, preview, view{})
	require.Len(t, out, 1)
	assert.Equal(t, chooseText, out[0].Text)

	// the selfie lands before the theme list
	loading := preview
	loading.Prompts = nil
	out = render(workflow.Session{}, loading, view{})
	require.Len(t, out, 1)
	assert.Equal(t, loadingText, out[0].Text)
	assert.Nil(t, out[0].Keyboard)
	out = render(loading, preview, view{})
	require.Len(t, out, 1)
	assert.Equal(t, chooseText, out[0].Text)
	require.NotNil(t, out[0].Keyboard)

	out = render(preview, chosen, view{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, opt.Description)

	out = render(generating, result, view{Hint: "make it sunset"})
	require.Len(t, out, 2)
	assert.Equal(t, "img", out[0].Photo)
	assert.Contains(t, out[0].Text, "make it sunset")
	assert.Equal(t, "qr", out[1].Photo)

	editing := result
	editing.Editing = true
	editing.Awaiting = "e"
	out = render(result, editing, view{})
	require.Len(t, out, 1)
	assert.Equal(t, editingText, out[0].Text)

	// an edit may come back under the same URI
	out = render(editing, result, view{Hint: "add confetti"})
	require.Len(t, out, 2)
	assert.Equal(t, "img", out[0].Photo)
	assert.Contains(t, out[0].Text, "Edited")

	editFailed := result
	editFailed.Notice = &workflow.Notice{Level: workflow.NoticeError, Title: "Edit failed"}
	out = render(editing, editFailed, view{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "Edit failed")

	failed := chosen
	failed.Notice = &workflow.Notice{Level: workflow.NoticeError, Title: "Generation failed", Detail: "try again"}
	out = render(generating, failed, view{})
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Text, "Generation failed")
	assert.Contains(t, out[1].Text, "try again or pick another theme")

	video := result
	video.Step = workflow.StepGeneratingVideo
	video.Job = &workflow.VideoJob{Handle: "j", Status: workflow.JobPolling}
	stalled := video
	stalled.Job = &workflow.VideoJob{Handle: "j", Status: workflow.JobTransient, Transient: backend.TransientRateLimited}
	out = render(video, stalled, view{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "⏳")
	assert.Empty(t, render(stalled, stalled, view{}), "the same transient reason is reported once")

	done := result
	done.Step = workflow.StepVideoResult
	done.Job = &workflow.VideoJob{Handle: "j", Status: workflow.JobSucceeded}
	done.Video = &workflow.Media{URI: "vid"}
	done.Notice = &workflow.Notice{Level: workflow.NoticeInfo, Title: "Your video is ready"}
	out = render(stalled, done, view{})
	require.Len(t, out, 1)
	assert.Equal(t, "vid", out[0].Video)
	assert.NotNil(t, out[0].Keyboard)

	camera := workflow.Session{Step: workflow.StepError, CameraError: "Camera access was denied."}
	out = render(workflow.Session{}, camera, view{})
	require.Len(t, out, 1)
	assert.Contains(t, out[0].Text, "denied")
}
