package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// fakeScanner records calls and returns canned results.
type fakeScanner struct {
	mu       sync.Mutex
	state    scan.State
	tuning   scan.TuningParams
	overlay  []byte
	requests []scan.CaptureRequest
	sub      func(scan.State)

	CaptureFunc func(req scan.CaptureRequest) (*scan.CaptureResult, error)
}

func (f *fakeScanner) Snapshot() scan.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScanner) Capture(_ context.Context, req scan.CaptureRequest) (*scan.CaptureResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.CaptureFunc != nil {
		return f.CaptureFunc(req)
	}
	return &scan.CaptureResult{ID: "cap-1", Image: []byte("jpeg"), Rectified: true, Width: 480, Height: 480}, nil
}

func (f *fakeScanner) TuningParams() scan.TuningParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tuning
}

func (f *fakeScanner) SetTuningParams(p scan.TuningParams) error {
	if p.CannyLow > 0 && p.CannyHigh > 0 && p.CannyLow >= p.CannyHigh {
		return fmt.Errorf("%w: canny_low must be below canny_high", scan.ErrInvalidConfig)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p.FocusThreshold > 0 {
		f.tuning.FocusThreshold = p.FocusThreshold
	}
	if p.CannyLow > 0 {
		f.tuning.CannyLow = p.CannyLow
	}
	return nil
}

func (f *fakeScanner) OverlayPNG() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.overlay == nil {
		return nil, scan.ErrNoOverlay
	}
	return f.overlay, nil
}

func (f *fakeScanner) Subscribe(fn func(scan.State)) func() {
	f.mu.Lock()
	f.sub = fn
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.sub = nil
		f.mu.Unlock()
	}
}

type fakeJournal struct {
	entries []journal.Entry
	limit   int
}

func (j *fakeJournal) List(_ context.Context, limit int) ([]journal.Entry, error) {
	j.limit = limit
	return j.entries, nil
}

func newServer(f *fakeScanner, opts ...Option) *Server {
	return NewServer("0", f, append([]Option{WithLogger(log.Discard())}, opts...)...)
}

func do(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func TestStatus(t *testing.T) {
	f := &fakeScanner{state: scan.State{Phase: scan.Detecting, Tick: 7, CameraReady: true}}
	resp, body := do(t, newServer(f), http.MethodGet, "/api/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["phase"] != "detecting" || got["tick"] != float64(7) || got["armed"] != false {
		t.Errorf("body = %s", body)
	}
}

func TestTuning(t *testing.T) {
	f := &fakeScanner{tuning: scan.TuningParams{FocusThreshold: 100, CannyLow: 50}}
	s := newServer(f)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFocus  float64
	}{
		{"partial update", `{"focus_threshold": 250}`, http.StatusOK, 250},
		{"invalid values", `{"canny_low": 200, "canny_high": 100}`, http.StatusBadRequest, 250},
		{"malformed", `{"focus_threshold":`, http.StatusBadRequest, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, s, http.MethodPut, "/api/tuning", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
			if got := f.TuningParams().FocusThreshold; got != tt.wantFocus {
				t.Errorf("focus threshold = %v, want %v", got, tt.wantFocus)
			}
		})
	}

	_, body := do(t, s, http.MethodGet, "/api/tuning", "")
	var p scan.TuningParams
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	if p.FocusThreshold != 250 || p.CannyLow != 50 {
		t.Errorf("GET /api/tuning = %+v", p)
	}
}

func TestOverlay(t *testing.T) {
	f := &fakeScanner{}
	s := newServer(f)

	if resp, _ := do(t, s, http.MethodGet, "/api/overlay.png", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("before first tick: status %d, want 404", resp.StatusCode)
	}

	f.overlay = []byte("\x89PNG")
	resp, body := do(t, s, http.MethodGet, "/api/overlay.png", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("status %d, content type %q", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	if string(body) != "\x89PNG" {
		t.Errorf("body = %q", body)
	}
}

func TestCapture(t *testing.T) {
	uploadErr := &upload.HTTPError{StatusCode: 503, Message: "down"}

	tests := []struct {
		name       string
		body       string
		capture    func(scan.CaptureRequest) (*scan.CaptureResult, error)
		wantStatus int
		wantReq    scan.CaptureRequest
	}{
		{
			name:       "empty body is single",
			wantStatus: http.StatusOK,
		},
		{
			name:       "quad mode",
			body:       `{"capture_mode":"quad","quadrant":"tr"}`,
			wantStatus: http.StatusOK,
			wantReq:    scan.CaptureRequest{Mode: upload.ModeQuad, Quadrant: "tr"},
		},
		{
			name: "invalid request",
			body: `{"capture_mode":"quad","quadrant":"middle"}`,
			capture: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
				return nil, fmt.Errorf("%w: bad quadrant", upload.ErrInvalidMetadata)
			},
			wantStatus: http.StatusBadRequest,
			wantReq:    scan.CaptureRequest{Mode: upload.ModeQuad, Quadrant: "middle"},
		},
		{
			name: "not running",
			capture: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
				return nil, scan.ErrNotRunning
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "busy",
			capture: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
				return nil, scan.ErrCaptureInProgress
			},
			wantStatus: http.StatusConflict,
		},
		{
			name: "upload failed",
			capture: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
				return &scan.CaptureResult{ID: "cap-2", Fallback: scan.FallbackStale}, fmt.Errorf("scan: upload: %w", uploadErr)
			},
			wantStatus: http.StatusBadGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeScanner{CaptureFunc: tt.capture}
			resp, body := do(t, newServer(f), http.MethodPost, "/api/capture", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
			if len(f.requests) != 1 || f.requests[0] != tt.wantReq {
				t.Errorf("requests = %+v, want [%+v]", f.requests, tt.wantReq)
			}
		})
	}
}

func TestCapture_Response(t *testing.T) {
	f := &fakeScanner{CaptureFunc: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
		return &scan.CaptureResult{ID: "cap-3", Fallback: scan.FallbackNoQuad, Image: []byte("raw")}, nil
	}}
	s := newServer(f)

	_, body := do(t, s, http.MethodPost, "/api/capture", "")
	var resp struct {
		Success bool
		Message string
		Capture struct {
			ID        string
			Rectified bool
			Fallback  string
		}
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.Message != "captured without auto-crop" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Capture.ID != "cap-3" || resp.Capture.Fallback != "no_quad" {
		t.Errorf("capture = %+v", resp.Capture)
	}

	raw, img := do(t, s, http.MethodPost, "/api/capture?format=jpeg", "")
	if raw.Header.Get("Content-Type") != "image/jpeg" || string(img) != "raw" {
		t.Errorf("jpeg response %q: %q", raw.Header.Get("Content-Type"), img)
	}
	if raw.Header.Get("X-Capture-Rectified") != "false" {
		t.Errorf("X-Capture-Rectified = %q", raw.Header.Get("X-Capture-Rectified"))
	}
	if raw.StatusCode != http.StatusOK || raw.Header.Get("X-Capture-Upload-Error") != "" {
		t.Errorf("status %d, upload error %q", raw.StatusCode, raw.Header.Get("X-Capture-Upload-Error"))
	}
}

func TestCapture_JPEGUploadFailure(t *testing.T) {
	f := &fakeScanner{CaptureFunc: func(scan.CaptureRequest) (*scan.CaptureResult, error) {
		res := &scan.CaptureResult{ID: "cap-4", Rectified: true, Image: []byte("crop")}
		return res, fmt.Errorf("scan: upload cap-4: %w", errors.New("connection refused"))
	}}

	resp, body := do(t, newServer(f), http.MethodPost, "/api/capture?format=jpeg", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("status %d, want 502", resp.StatusCode)
	}
	if string(body) != "crop" || resp.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("body %q (%s), want the captured image", body, resp.Header.Get("Content-Type"))
	}
	if got := resp.Header.Get("X-Capture-Upload-Error"); !strings.Contains(got, "connection refused") {
		t.Errorf("X-Capture-Upload-Error = %q", got)
	}
	if resp.Header.Get("X-Capture-Id") != "cap-4" {
		t.Errorf("X-Capture-Id = %q", resp.Header.Get("X-Capture-Id"))
	}
}

func TestListCaptures(t *testing.T) {
	f := &fakeScanner{}
	if resp, _ := do(t, newServer(f), http.MethodGet, "/api/captures", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("without journal: status %d, want 404", resp.StatusCode)
	}

	j := &fakeJournal{entries: []journal.Entry{{ID: "b"}, {ID: "a"}}}
	s := newServer(f, WithJournal(j))

	_, body := do(t, s, http.MethodGet, "/api/captures", "")
	var got []journal.Entry
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "b" || j.limit != defaultCaptureLimit {
		t.Errorf("entries = %+v, limit %d", got, j.limit)
	}

	do(t, s, http.MethodGet, "/api/captures?limit=5", "")
	if j.limit != 5 {
		t.Errorf("limit = %d, want 5", j.limit)
	}

	j.entries = nil
	if _, body := do(t, s, http.MethodGet, "/api/captures", ""); string(body) != "[]" {
		t.Errorf("empty journal body = %s, want []", body)
	}
}

func TestWebSocketRoutesRequireUpgrade(t *testing.T) {
	s := newServer(&fakeScanner{})
	for _, path := range []string{"/ws/status", "/ws/overlay"} {
		if resp, _ := do(t, s, http.MethodGet, path, ""); resp.StatusCode != http.StatusUpgradeRequired {
			t.Errorf("%s: status %d, want 426", path, resp.StatusCode)
		}
	}
}

func TestPublish(t *testing.T) {
	f := &fakeScanner{overlay: []byte("png")}
	s := newServer(f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.run(ctx)

	f.mu.Lock()
	sub := f.sub
	f.mu.Unlock()
	if sub == nil {
		t.Fatal("server did not subscribe")
	}
	sub(scan.State{Phase: scan.Detecting, Tick: 3})

	deadline := time.Now().Add(2 * time.Second)
	for {
		status, okS := s.statusHub.Last()
		overlay, okO := s.overlayHub.Last()
		if okS && okO {
			var st map[string]any
			if err := json.Unmarshal(status.Data, &st); err != nil {
				t.Fatal(err)
			}
			if st["tick"] != float64(3) {
				t.Errorf("status = %s", status.Data)
			}
			if string(overlay.Data) != "png" {
				t.Errorf("overlay = %q", overlay.Data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("nothing broadcast")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		gone := f.sub == nil
		f.mu.Unlock()
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("not unsubscribed after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCameraSettings(t *testing.T) {
	f := &fakeScanner{}
	if resp, _ := do(t, newServer(f), http.MethodGet, "/api/camera", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("without manager: status %d, want 404", resp.StatusCode)
	}

	m := camera.NewManager(camera.DefaultConfig())
	var applied []camera.Config
	m.OnConfigChange = func(cfg camera.Config) error {
		applied = append(applied, cfg)
		return nil
	}
	s := newServer(f, WithCamera(m))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantWidth  int
	}{
		{"field update", `{"framerate": 15}`, http.StatusOK, 1920},
		{"preset keeps device", `{"preset": "720p"}`, http.StatusOK, 1280},
		{"unknown preset", `{"preset": "imax"}`, http.StatusBadRequest, 1280},
		{"out of range", `{"width": 10}`, http.StatusBadRequest, 1280},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, s, http.MethodPut, "/api/camera", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status %d, want %d: %s", resp.StatusCode, tt.wantStatus, body)
			}
			if got := m.GetConfig().Width; got != tt.wantWidth {
				t.Errorf("width = %d, want %d", got, tt.wantWidth)
			}
		})
	}
	if len(applied) != 2 || applied[0].Framerate != 15 || applied[1].Device != "0" {
		t.Errorf("applied = %+v", applied)
	}

	_, body := do(t, s, http.MethodGet, "/api/camera/presets", "")
	var presets struct{ Presets []string }
	if err := json.Unmarshal(body, &presets); err != nil || len(presets.Presets) != len(camera.PresetNames()) {
		t.Errorf("presets = %s (%v)", body, err)
	}
}

var _ Scanner = (*scan.Scheduler)(nil)
