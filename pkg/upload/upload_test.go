package upload_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

var capturedAt = time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

func TestMetadataValidate(t *testing.T) {
	tests := []struct {
		name    string
		meta    upload.Metadata
		wantErr bool
	}{
		{"empty mode is single", upload.Metadata{}, false},
		{"single", upload.Metadata{Mode: upload.ModeSingle}, false},
		{"single with quadrant", upload.Metadata{Mode: upload.ModeSingle, Quadrant: "tl"}, true},
		{"sequential", upload.Metadata{Mode: upload.ModeSequential, Sequence: 3}, false},
		{"sequential without number", upload.Metadata{Mode: upload.ModeSequential}, true},
		{"quad", upload.Metadata{Mode: upload.ModeQuad, Quadrant: "br"}, false},
		{"quad bad label", upload.Metadata{Mode: upload.ModeQuad, Quadrant: "middle"}, true},
		{"unknown mode", upload.Metadata{Mode: "burst"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.meta.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, upload.ErrInvalidMetadata) {
				t.Errorf("err %v does not wrap ErrInvalidMetadata", err)
			}
		})
	}
}

func TestMetadataFilename(t *testing.T) {
	id := "0f8fad5b-d9cb-469f-a165-70867728950e"
	tests := []struct {
		meta upload.Metadata
		want string
	}{
		{upload.Metadata{ID: id, CapturedAt: capturedAt}, "camera_20260314_092653_0f8fad5b.jpg"},
		{upload.Metadata{ID: id, Mode: upload.ModeQuad, Quadrant: "tr", CapturedAt: capturedAt}, "camera_quad_tr_20260314_092653_0f8fad5b.jpg"},
		{upload.Metadata{ID: id, Mode: upload.ModeSequential, Sequence: 12, CapturedAt: capturedAt}, "camera_seq_12_20260314_092653_0f8fad5b.jpg"},
		{upload.Metadata{CapturedAt: capturedAt}, "camera_20260314_092653.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.meta.Filename(); got != tt.want {
				t.Errorf("got %s", got)
			}
		})
	}
}

func TestNewHTTP_RequiresURL(t *testing.T) {
	if _, err := upload.NewHTTP(); !errors.Is(err, upload.ErrNoURL) {
		t.Errorf("err = %v", err)
	}
}

func TestHTTP_Upload(t *testing.T) {
	img := []byte("\xff\xd8fake-jpeg\xff\xd9")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		want := map[string]string{
			"capture_mode": "quad",
			"quadrant":     "bl",
			"captured_at":  "2026-03-14T09:26:53Z",
			"rectified":    "true",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("field %s = %q, want %q", k, got, v)
			}
		}
		if _, ok := r.MultipartForm.Value["sequence_number"]; ok {
			t.Error("sequence_number sent for quad capture")
		}

		f, hdr, err := r.FormFile("image")
		if err != nil {
			t.Errorf("image part: %v", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if string(body) != string(img) {
			t.Error("image bytes changed in transit")
		}
		if hdr.Filename != "camera_quad_bl_20260314_092653_abcdef12.jpg" {
			t.Errorf("filename = %s", hdr.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"photo_id":42,"filename":"stored.jpg","file_size":15}`)
	}))
	defer srv.Close()

	up, err := upload.NewHTTP(upload.WithURL(srv.URL), upload.WithToken("secret"), upload.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	meta := upload.Metadata{
		ID: "abcdef1234", Mode: upload.ModeQuad, Quadrant: "bl",
		CapturedAt: capturedAt, Rectified: true,
	}
	receipt, err := up.Upload(context.Background(), img, meta)
	if err != nil {
		t.Fatal(err)
	}
	if receipt.PhotoID != "42" || receipt.Filename != "stored.jpg" || receipt.Size != 15 {
		t.Errorf("receipt = %+v", receipt)
	}
}

func TestHTTP_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    []int
		body      string
		wantCalls int32
		check     func(t *testing.T, err error)
	}{
		{
			name: "client error not retried", status: []int{400}, body: `{"success":false,"error":"No image file provided"}`,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				var herr *upload.HTTPError
				if !errors.As(err, &herr) || herr.StatusCode != 400 || herr.IsRetryable() {
					t.Errorf("err = %v", err)
				}
				if herr != nil && herr.Message != "No image file provided" {
					t.Errorf("message = %q", herr.Message)
				}
			},
		},
		{
			name: "server error retried then ok", status: []int{503, 200}, body: `{"success":true}`,
			wantCalls: 2,
			check: func(t *testing.T, err error) {
				if err != nil {
					t.Errorf("err = %v", err)
				}
			},
		},
		{
			name: "retries exhausted", status: []int{429, 429, 429}, body: `rate limited`,
			wantCalls: 3,
			check: func(t *testing.T, err error) {
				var herr *upload.HTTPError
				if !errors.As(err, &herr) || !herr.IsRateLimited() {
					t.Errorf("err = %v", err)
				}
			},
		},
		{
			name: "store reports failure", status: []int{200}, body: `{"success":false,"error":"quota"}`,
			wantCalls: 1,
			check: func(t *testing.T, err error) {
				if !errors.Is(err, upload.ErrRejected) {
					t.Errorf("err = %v", err)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(calls.Add(1)) - 1
				if n >= len(tt.status) {
					n = len(tt.status) - 1
				}
				w.WriteHeader(tt.status[n])
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			up, err := upload.NewHTTP(
				upload.WithURL(srv.URL),
				upload.WithRetry(2, time.Millisecond),
				upload.WithLogger(log.Discard()),
			)
			if err != nil {
				t.Fatal(err)
			}
			_, err = up.Upload(context.Background(), []byte{1}, upload.Metadata{CapturedAt: capturedAt})
			tt.check(t, err)
			if got := calls.Load(); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestHTTP_RejectsBadInput(t *testing.T) {
	up, err := upload.NewHTTP(upload.WithURL("http://127.0.0.1:1"), upload.WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := up.Upload(context.Background(), nil, upload.Metadata{}); !errors.Is(err, upload.ErrEmptyImage) {
		t.Errorf("empty image: %v", err)
	}
	if _, err := up.Upload(context.Background(), []byte{1}, upload.Metadata{Mode: upload.ModeQuad}); !errors.Is(err, upload.ErrInvalidMetadata) {
		t.Errorf("bad metadata: %v", err)
	}
}

func TestDir_Upload(t *testing.T) {
	root := filepath.Join(t.TempDir(), "captures")
	d, err := upload.NewDir(root)
	if err != nil {
		t.Fatal(err)
	}

	meta := upload.Metadata{ID: "12345678ab", Mode: upload.ModeSequential, Sequence: 2, CapturedAt: capturedAt}
	receipt, err := d.Upload(context.Background(), []byte("jpeg"), meta)
	if err != nil {
		t.Fatal(err)
	}

	want := filepath.Join(root, "camera_seq_2_20260314_092653_12345678.jpg")
	if receipt.Location != want {
		t.Errorf("location = %s", receipt.Location)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "jpeg" {
		t.Errorf("contents = %q", data)
	}

	entries, _ := os.ReadDir(root)
	if len(entries) != 1 {
		t.Errorf("expected one file, found %d", len(entries))
	}
}

func TestMock(t *testing.T) {
	m := upload.NewMock()
	ctx := context.Background()

	if _, err := m.Upload(ctx, []byte{1, 2}, upload.Metadata{ID: "a"}); err != nil {
		t.Fatal(err)
	}
	m.UploadFunc = func(context.Context, []byte, upload.Metadata) (*upload.Receipt, error) {
		return nil, &upload.HTTPError{StatusCode: 500}
	}
	if _, err := m.Upload(ctx, []byte{3}, upload.Metadata{ID: "b"}); err == nil {
		t.Error("expected error from UploadFunc")
	}

	calls := m.Calls()
	if m.CallCount() != 2 || calls[1].Meta.ID != "b" {
		t.Errorf("calls = %+v", calls)
	}
	m.Reset()
	if m.CallCount() != 0 {
		t.Error("reset did not clear calls")
	}
}
