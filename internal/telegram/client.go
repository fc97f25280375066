package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"selfie-booth/internal/datauri"
	"selfie-booth/internal/logging"
)

const (
	maxTextBytes    = 4096
	maxCaptionBytes = 1024
	maxDownload     = 20 << 20
)

type Options struct {
	Token      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
	Debug      bool
}

type Client struct {
	bot        *tgbotapi.BotAPI
	httpClient *http.Client
	logger     zerolog.Logger
}

type (
	Update   = tgbotapi.Update
	Keyboard = tgbotapi.InlineKeyboardMarkup
)

func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if opts.HTTPClient == nil {
		return nil, errors.New("http client is nil")
	}

	bot, err := tgbotapi.NewBotAPIWithClient(opts.Token, tgbotapi.APIEndpoint, opts.HTTPClient)
	if err != nil {
		return nil, err
	}
	bot.Debug = opts.Debug

	return &Client{
		bot:        bot,
		httpClient: opts.HTTPClient,
		logger:     logging.OrNop(opts.Logger).With().Str("component", "telegram").Logger(),
	}, nil
}

func (c *Client) Username() string {
	return c.bot.Self.UserName
}

type UpdatesOptions struct {
	Timeout time.Duration
}

func (c *Client) Updates(opts UpdatesOptions) tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	if opts.Timeout > 0 {
		u.Timeout = int(opts.Timeout.Seconds())
	} else {
		u.Timeout = 30
	}
	u.AllowedUpdates = []string{"message", "callback_query"}
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SendTyping(chatID int64) {
	if _, err := c.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		c.logger.Debug().Err(err).Int64("chat", chatID).Msg("chat action failed")
	}
}

func (c *Client) SendText(chatID int64, text string) error {
	for _, p := range splitByBytes(text, maxTextBytes) {
		if _, err := c.bot.Send(tgbotapi.NewMessage(chatID, p)); err != nil {
			return err
		}
	}
	return nil
}

// SendKeyboard sends text with an inline keyboard and returns the message id.
func (c *Client) SendKeyboard(chatID int64, text string, kb Keyboard) (int, error) {
	msg := tgbotapi.NewMessage(chatID, truncateByBytes(text, maxTextBytes))
	msg.ReplyMarkup = kb
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (c *Client) AnswerCallback(callbackID, text string, alert bool) error {
	cfg := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cfg = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	_, err := c.bot.Request(cfg)
	return err
}

// SendPhoto sends a data URI or an http(s) URL as a photo.
func (c *Client) SendPhoto(chatID int64, image, caption string, kb *Keyboard) error {
	file, err := fileData(image, "image")
	if err != nil {
		return err
	}

	photo := tgbotapi.NewPhoto(chatID, file)
	if caption != "" {
		photo.Caption = truncateByBytes(caption, maxCaptionBytes)
	}
	if kb != nil {
		photo.ReplyMarkup = *kb
	}
	_, err = c.bot.Send(photo)
	return err
}

func (c *Client) SendVideo(chatID int64, video, caption string, kb *Keyboard) error {
	file, err := fileData(video, "video")
	if err != nil {
		return err
	}

	v := tgbotapi.NewVideo(chatID, file)
	if caption != "" {
		v.Caption = truncateByBytes(caption, maxCaptionBytes)
	}
	if kb != nil {
		v.ReplyMarkup = *kb
	}
	_, err = c.bot.Send(v)
	return err
}

// DownloadPhoto fetches an uploaded file and returns it as a data URI.
func (c *Client) DownloadPhoto(ctx context.Context, fileID string) (string, error) {
	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("telegram file download %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return "", err
	}

	return datauri.Encode(detectMime(resp.Header.Get("content-type"), data), data), nil
}

func detectMime(header string, data []byte) string {
	mimeType := strings.TrimSpace(header)
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
		if i := strings.Index(mimeType, ";"); i >= 0 {
			mimeType = strings.TrimSpace(mimeType[:i])
		}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

func fileData(value, base string) (tgbotapi.RequestFileData, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		return tgbotapi.FileURL(value), nil
	}

	fallback := "image/jpeg"
	if base == "video" {
		fallback = "video/mp4"
	}
	mimeType, data, err := datauri.Decode(value, fallback)
	if err != nil {
		return nil, err
	}

	name := base + ".jpg"
	if base == "video" {
		name = base + ".mp4"
	}
	if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
		name = base + exts[0]
	}
	return tgbotapi.FileBytes{Name: name, Bytes: data}, nil
}

func splitByBytes(text string, maxBytes int) []string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return []string{text}
	}

	var out []string
	var buf strings.Builder
	buf.Grow(maxBytes)

	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len() > 0 && buf.Len()+runeBytes > maxBytes {
			out = append(out, buf.String())
			buf.Reset()
		}
		buf.WriteRune(r)
	}

	if buf.Len() > 0 {
		out = append(out, buf.String())
	}

	return out
}

func truncateByBytes(text string, maxBytes int) string {
	if len(text) <= maxBytes || maxBytes <= 0 {
		return text
	}

	var buf strings.Builder
	buf.Grow(maxBytes)
	for _, r := range text {
		runeBytes := utf8.RuneLen(r)
		if runeBytes < 0 {
			runeBytes = len(string(r))
		}

		if buf.Len()+runeBytes > maxBytes {
			break
		}
		buf.WriteRune(r)
	}
	return buf.String()
}
