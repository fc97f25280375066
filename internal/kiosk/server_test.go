package kiosk

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selfie-booth/internal/backend"
	"selfie-booth/internal/camera"
	"selfie-booth/internal/workflow"
)

type stubGateway struct{}

func (stubGateway) Generate(_ context.Context, req backend.GenerateRequest) (backend.Result, error) {
	return backend.Result{Image: "data:image/png;base64,aW1n", Artifact: "data:image/png;base64,cXI="}, nil
}

func (stubGateway) Edit(_ context.Context, req backend.EditRequest) (backend.Result, error) {
	return backend.Result{Image: req.Image + "#" + req.Instruction}, nil
}

func (stubGateway) SubmitVideoJob(context.Context, string) (string, error) { return "job-1", nil }

type stillStream struct{}

func (stillStream) Frame() (image.Image, error) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 200
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	return img, nil
}

func (stillStream) Close() error { return nil }

type stubDevice struct{ err error }

func (d stubDevice) Open(context.Context, camera.Constraints) (camera.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	return stillStream{}, nil
}

type harness struct {
	srv  *httptest.Server
	wf   *workflow.Controller
	unit *camera.Unit
}

type stuckSuggester struct{}

func (stuckSuggester) SuggestPrompts(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newHarness(t *testing.T, dev camera.Device, wait func(context.Context, time.Duration) error) *harness {
	t.Helper()
	h := startHarness(t, workflow.Options{Gateway: stubGateway{}}, dev, wait)
	require.Eventually(t, func() bool { return h.wf.Snapshot().PromptsReady() }, time.Second, 5*time.Millisecond)
	return h
}

func startHarness(t *testing.T, opts workflow.Options, dev camera.Device, wait func(context.Context, time.Duration) error) *harness {
	t.Helper()

	wf := workflow.New(opts)
	unit := camera.NewUnit(camera.Options{Device: dev, Countdown: 1, Wait: wait})
	k := New(Options{Workflow: wf, Camera: unit})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = wf.Run(ctx) }()
	go func() { defer wg.Done(); _ = k.RunCamera(ctx) }()

	srv := httptest.NewServer(k.Routes())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		wg.Wait()
	})

	return &harness{srv: srv, wf: wf, unit: unit}
}

func instant(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func (h *harness) post(t *testing.T, path string, body any) (int, sessionView) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(h.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var v sessionView
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	}
	return resp.StatusCode, v
}

func (h *harness) session(t *testing.T) sessionView {
	t.Helper()
	resp, err := http.Get(h.srv.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v sessionView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) waitStep(t *testing.T, step workflow.Step) sessionView {
	t.Helper()
	require.Eventually(t, func() bool { return h.session(t).Step == step }, 2*time.Second, 10*time.Millisecond)
	return h.session(t)
}

func TestKioskJourney(t *testing.T) {
	h := newHarness(t, stubDevice{}, instant)

	require.Eventually(t, func() bool { return h.unit.State() == camera.StateReady }, time.Second, 5*time.Millisecond)

	resp, err := http.Get(h.srv.URL + "/api/camera/preview.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("content-type"))

	code, v := h.post(t, "/api/generate", nil)
	assert.Equal(t, http.StatusConflict, code)

	code, v = h.post(t, "/api/camera/capture", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StepPreview, v.Step)
	assert.True(t, strings.HasPrefix(v.Selfie, "data:image/jpeg;base64,"))
	assert.GreaterOrEqual(t, len(v.Prompts), 5)
	assert.False(t, v.PromptsLoading)
	require.Eventually(t, func() bool { return h.unit.State() == camera.StateIdle }, time.Second, 5*time.Millisecond, "camera released after capture")

	code, _ = h.post(t, "/api/prompt", promptRequest{ID: "nope"})
	assert.Equal(t, http.StatusNotFound, code)

	code, v = h.post(t, "/api/prompt", promptRequest{ID: v.Prompts[0].ID})
	require.Equal(t, http.StatusOK, code)
	assert.True(t, v.Can.Generate)

	code, _ = h.post(t, "/api/generate", nil)
	require.Equal(t, http.StatusOK, code)
	v = h.waitStep(t, workflow.StepResult)
	assert.NotEmpty(t, v.EditHint)
	assert.True(t, v.Can.Edit)
	assert.True(t, v.Can.Video)

	code, _ = h.post(t, "/api/edit", editRequest{Instruction: "  "})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = h.post(t, "/api/edit", editRequest{Instruction: "brighter"})
	require.Equal(t, http.StatusOK, code)
	require.Eventually(t, func() bool {
		v := h.session(t)
		return !v.Editing && strings.HasSuffix(v.Generated.URI, "#brighter")
	}, time.Second, 10*time.Millisecond)

	code, v = h.post(t, "/api/start-over", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, workflow.StepCapture, v.Step)
	assert.Empty(t, v.Selfie)
	require.Eventually(t, func() bool { return h.unit.State() == camera.StateReady }, time.Second, 5*time.Millisecond, "camera mounted again")
	require.Eventually(t, func() bool { return !h.session(t).PromptsLoading }, time.Second, 10*time.Millisecond, "themes reloaded")
}

func TestKioskCaptureWhileThemesLoad(t *testing.T) {
	h := startHarness(t, workflow.Options{
		Gateway:        stubGateway{},
		Suggester:      stuckSuggester{},
		RequestTimeout: 3 * time.Second,
		PromptTimeout:  time.Minute,
	}, stubDevice{}, instant)
	require.Eventually(t, func() bool { return h.unit.State() == camera.StateReady }, time.Second, 5*time.Millisecond)

	start := time.Now()
	code, v := h.post(t, "/api/camera/capture", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, workflow.StepPreview, v.Step)
	assert.NotEmpty(t, v.Selfie)
	assert.True(t, v.PromptsLoading)
	assert.Empty(t, v.Prompts)

	code, _ = h.post(t, "/api/prompt", promptRequest{ID: "F1"})
	assert.Equal(t, http.StatusConflict, code)
}

func TestKioskCaptureDuringCountdown(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, stubDevice{}, func(ctx context.Context, _ time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	require.Eventually(t, func() bool { return h.unit.State() == camera.StateReady }, time.Second, 5*time.Millisecond)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(h.srv.URL+"/api/camera/capture", "application/json", nil)
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	require.Eventually(t, h.unit.Capturing, time.Second, 5*time.Millisecond)
	cv := h.session(t).Camera
	assert.True(t, cv.Capturing)
	assert.Equal(t, 1, cv.Countdown)

	code, _ := h.post(t, "/api/camera/capture", nil)
	assert.Equal(t, http.StatusConflict, code)

	close(release)
	assert.Equal(t, http.StatusOK, <-first)
	assert.Equal(t, workflow.StepPreview, h.session(t).Step)
}

func TestKioskCameraFailure(t *testing.T) {
	h := newHarness(t, stubDevice{err: syscall.EACCES}, instant)

	v := h.waitStep(t, workflow.StepError)
	assert.Contains(t, v.CameraError, "denied")

	resp, err := http.Get(h.srv.URL + "/api/camera/preview.jpg")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestKioskHealth(t *testing.T) {
	h := newHarness(t, stubDevice{}, instant)

	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("content-type"))
}
