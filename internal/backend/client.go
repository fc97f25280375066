package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"selfie-booth/internal/datauri"
	"selfie-booth/internal/logging"
)

const maxImageBytes = 25 << 20

type Options struct {
	BaseURL      string
	HTTPClient   *http.Client
	Logger       *zerolog.Logger
	ReferenceDir string
}

// Client is the gateway to the generation backend. It never retries: retry
// policy belongs to the video poller and to the user.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	logger       zerolog.Logger
	referenceDir string
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		httpClient:   httpClient,
		logger:       logging.OrNop(opts.Logger).With().Str("component", "backend").Logger(),
		referenceDir: strings.TrimSpace(opts.ReferenceDir),
	}
}

func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Result, error) {
	return c.postImage(ctx, "generate", req.Selfie, "selfie", req.Prompt, req.ReferenceID)
}

func (c *Client) Edit(ctx context.Context, req EditRequest) (Result, error) {
	return c.postImage(ctx, "edit", req.Image, "image", req.Instruction, req.ReferenceID)
}

func (c *Client) SubmitVideoJob(ctx context.Context, sourceImage string) (string, error) {
	const op = "submit-video"

	sourceImage = strings.TrimSpace(sourceImage)
	if sourceImage == "" {
		return "", &Error{Op: op, Class: ClassConfig, Err: errors.New("source image is empty")}
	}

	payload := submitVideoRequest{ImageDataURI: sourceImage}
	if !datauri.IsDataURI(sourceImage) {
		payload = submitVideoRequest{ImageURL: sourceImage}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Op: op, Class: ClassConfig, Err: fmt.Errorf("marshal request: %w", err)}
	}

	var out submitVideoResponse
	if err := c.do(ctx, op, http.MethodPost, "/generate-video", "application/json", bytes.NewReader(body), &out); err != nil {
		return "", err
	}

	handle := strings.TrimSpace(out.JobID)
	if handle == "" {
		return "", &Error{Op: op, Class: ClassDecode, Err: errors.New("backend did not return a job id")}
	}
	return handle, nil
}

// PollVideoJob queries a job once. Statuses that only mean "not yet" come
// back as a transient reason instead of an error; transport failures and
// unexpected rejections are errors.
func (c *Client) PollVideoJob(ctx context.Context, handle string) (VideoStatus, error) {
	const op = "poll-video"

	handle = strings.TrimSpace(handle)
	if handle == "" {
		return VideoStatus{}, &Error{Op: op, Class: ClassConfig, Err: errors.New("job handle is empty")}
	}
	if c.baseURL == "" {
		return VideoStatus{}, &Error{Op: op, Class: ClassConfig, Err: errors.New("backend url is not configured")}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/video-status/"+url.PathEscape(handle), nil)
	if err != nil {
		return VideoStatus{}, &Error{Op: op, Class: ClassConfig, Err: fmt.Errorf("create request: %w", err)}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return VideoStatus{}, &Error{Op: op, Class: ClassTransport, Err: err}
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return VideoStatus{}, &Error{Op: op, Class: ClassTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	if reason, ok := transientForStatus(httpResp.StatusCode); ok {
		c.logger.Debug().Str("job", handle).Int("status", httpResp.StatusCode).Str("reason", string(reason)).Msg("video job delayed")
		return VideoStatus{Transient: reason}, nil
	}
	if httpResp.StatusCode >= 400 {
		body := strings.TrimSpace(string(rawBody))
		c.logger.Warn().Str("job", handle).Int("status", httpResp.StatusCode).Str("body", body).Msg("video status rejected")
		return VideoStatus{}, &Error{Op: op, StatusCode: httpResp.StatusCode, Class: classifyStatus(httpResp.StatusCode), Body: body}
	}

	var decoded videoStatusResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return VideoStatus{}, &Error{Op: op, StatusCode: httpResp.StatusCode, Class: ClassDecode, Body: string(rawBody), Err: err}
	}

	switch strings.ToLower(strings.TrimSpace(decoded.Status)) {
	case "completed", "complete", "succeeded", "success", "done":
		if strings.TrimSpace(decoded.VideoURL) == "" {
			return VideoStatus{Done: true, FailureReason: "job completed without a video"}, nil
		}
		return VideoStatus{
			Done:     true,
			Video:    strings.TrimSpace(decoded.VideoURL),
			Artifact: normalizeArtifact(decoded.QRCode),
		}, nil
	case "failed", "error", "cancelled", "canceled":
		reason := strings.TrimSpace(decoded.Error)
		if reason == "" {
			reason = "video generation failed"
		}
		return VideoStatus{Done: true, FailureReason: reason}, nil
	case "", "pending", "queued", "processing", "running", "in_progress":
		return VideoStatus{}, nil
	default:
		c.logger.Warn().Str("job", handle).Str("status", decoded.Status).Msg("unknown video status, treating as processing")
		return VideoStatus{}, nil
	}
}

func (c *Client) SuggestPrompts(ctx context.Context) ([]string, error) {
	var out suggestResponse
	if err := c.do(ctx, "suggest-prompts", http.MethodPost, "/suggest-prompts", "application/json", strings.NewReader("{}"), &out); err != nil {
		return nil, err
	}
	return out.Prompts, nil
}

func (c *Client) postImage(ctx context.Context, op, image, name, prompt, referenceID string) (Result, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Result{}, &Error{Op: op, Class: ClassConfig, Err: errors.New("prompt is empty")}
	}

	data, mimeType, err := c.loadImage(ctx, image)
	if err != nil {
		return Result{}, &Error{Op: op, Class: ClassConfig, Err: fmt.Errorf("load image: %w", err)}
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeFilePart(w, "image", name+extensionFor(mimeType), mimeType, data); err != nil {
		return Result{}, &Error{Op: op, Class: ClassConfig, Err: err}
	}
	if err := w.WriteField("prompt", prompt); err != nil {
		return Result{}, &Error{Op: op, Class: ClassConfig, Err: err}
	}

	referenceID = strings.TrimSpace(referenceID)
	if referenceID != "" {
		if err := w.WriteField("referenceImageId", referenceID); err != nil {
			return Result{}, &Error{Op: op, Class: ClassConfig, Err: err}
		}
		if refData, refName, refMime, ok := c.referenceImage(referenceID); ok {
			if err := writeFilePart(w, "referenceImage", refName, refMime, refData); err != nil {
				return Result{}, &Error{Op: op, Class: ClassConfig, Err: err}
			}
		}
	}
	if err := w.Close(); err != nil {
		return Result{}, &Error{Op: op, Class: ClassConfig, Err: err}
	}

	var out imageResponse
	if err := c.do(ctx, op, http.MethodPost, "/generate", w.FormDataContentType(), &buf, &out); err != nil {
		return Result{}, err
	}

	if strings.TrimSpace(out.ImageData) == "" {
		return Result{}, &Error{Op: op, Class: ClassDecode, Err: errors.New("backend did not return an image")}
	}
	return Result{
		Image:    strings.TrimSpace(out.ImageData),
		Artifact: normalizeArtifact(out.QRCode),
	}, nil
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	if c.baseURL == "" {
		return &Error{Op: op, Class: ClassConfig, Err: errors.New("backend url is not configured")}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Class: ClassConfig, Err: fmt.Errorf("create request: %w", err)}
	}
	if contentType != "" {
		httpReq.Header.Set("content-type", contentType)
	}
	httpReq.Header.Set("accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("op", op).Msg("backend request failed")
		return &Error{Op: op, Class: ClassTransport, Err: err}
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return &Error{Op: op, Class: ClassTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	if httpResp.StatusCode >= 400 {
		text := strings.TrimSpace(string(rawBody))
		c.logger.Warn().Str("op", op).Int("status", httpResp.StatusCode).Str("body", truncate(text, 512)).Msg("backend returned error")
		return &Error{Op: op, StatusCode: httpResp.StatusCode, Class: classifyStatus(httpResp.StatusCode), Body: text}
	}

	if err := json.Unmarshal(rawBody, out); err != nil {
		return &Error{Op: op, StatusCode: httpResp.StatusCode, Class: ClassDecode, Body: truncate(string(rawBody), 512), Err: err}
	}
	return nil
}

// loadImage accepts a data URI or an http(s) URL pointing at a hosted image.
func (c *Client) loadImage(ctx context.Context, ref string) ([]byte, string, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, "", errors.New("image is empty")
	case datauri.IsDataURI(ref):
		mimeType, data, err := datauri.Decode(ref, "image/jpeg")
		return data, mimeType, err
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return c.fetchImage(ctx, ref)
	default:
		return nil, "", errors.New("image must be a data uri or an http url")
	}
}

func (c *Client) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("fetch image: %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		return nil, "", err
	}

	mimeType := strings.TrimSpace(resp.Header.Get("content-type"))
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// referenceImage looks for <ReferenceDir>/<id>.{jpg,jpeg,png}. A missing file
// is not an error; the id is still sent as a plain field.
func (c *Client) referenceImage(id string) ([]byte, string, string, bool) {
	if c.referenceDir == "" {
		return nil, "", "", false
	}

	base := filepath.Base(filepath.Clean("/" + id))
	if base == "/" || base == "." {
		return nil, "", "", false
	}

	for _, ext := range []string{".jpg", ".jpeg", ".png"} {
		path := filepath.Join(c.referenceDir, base+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return data, base + ext, mimeType, true
	}

	c.logger.Debug().Str("reference", id).Msg("reference image not found locally")
	return nil, "", "", false
}

func writeFilePart(w *multipart.Writer, field, filename, mimeType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	h.Set("Content-Type", mimeType)

	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create %s part: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write %s part: %w", field, err)
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

// normalizeArtifact turns the bare base64 PNG the backend sends for QR codes
// into a data URI; URLs and data URIs pass through.
func normalizeArtifact(value string) string {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return ""
	case datauri.IsDataURI(value), strings.HasPrefix(value, "http://"), strings.HasPrefix(value, "https://"):
		return value
	default:
		return "data:image/png;base64," + value
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
