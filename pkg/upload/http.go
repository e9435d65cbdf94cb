package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-smartcapture/internal/httpc"
	"github.com/teslashibe/go-smartcapture/pkg/debug"
)

// HTTP posts captures as multipart forms: the JPEG under FieldName plus
// quadrant, sequence_number, capture_mode, captured_at and rectified.
type HTTP struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewHTTP creates an HTTP uploader.
func NewHTTP(opts ...Option) (*HTTP, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.FieldName == "" {
		cfg.FieldName = "image"
	}
	return &HTTP{
		config: cfg,
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "upload", "url", cfg.URL),
	}, nil
}

// Upload sends img and returns the store's receipt.
func (h *HTTP) Upload(ctx context.Context, img []byte, meta Metadata) (*Receipt, error) {
	if len(img) == 0 {
		return nil, ErrEmptyImage
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	body, contentType, err := h.encode(img, meta)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := h.doWithRetry(ctx, body, contentType)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	receipt, err := parseReceipt(resp)
	if err != nil {
		return nil, err
	}
	if receipt.Filename == "" {
		receipt.Filename = meta.Filename()
	}
	if receipt.Size == 0 {
		receipt.Size = len(img)
	}

	h.logger.Info("capture uploaded",
		"id", meta.ID,
		"filename", receipt.Filename,
		"bytes", len(img),
		"duration", time.Since(start),
	)
	return receipt, nil
}

func (h *HTTP) encode(img []byte, meta Metadata) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(h.config.FieldName, meta.Filename())
	if err != nil {
		return nil, "", fmt.Errorf("upload: build form: %w", err)
	}
	if _, err := part.Write(img); err != nil {
		return nil, "", fmt.Errorf("upload: build form: %w", err)
	}

	mode := meta.Mode
	if mode == "" {
		mode = ModeSingle
	}
	fields := [][2]string{
		{"capture_mode", string(mode)},
		{"captured_at", meta.CapturedAt.UTC().Format(time.RFC3339)},
		{"rectified", strconv.FormatBool(meta.Rectified)},
	}
	if meta.Quadrant != "" {
		fields = append(fields, [2]string{"quadrant", meta.Quadrant})
	}
	if meta.Sequence > 0 {
		fields = append(fields, [2]string{"sequence_number", strconv.Itoa(meta.Sequence)})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("upload: build form: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("upload: build form: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// doWithRetry performs the request, retrying on transport errors, 429 and 5xx.
func (h *HTTP) doWithRetry(ctx context.Context, body []byte, contentType string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= h.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(h.config.RetryDelay * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		if h.config.Token != "" {
			req.Header.Set("Authorization", "Bearer "+h.config.Token)
		}

		debug.Log("upload: POST %s attempt %d (%d bytes)\n", h.config.URL, attempt+1, len(body))
		resp, err := h.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("upload: %w", err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			herr := parseError(resp)
			resp.Body.Close()
			if !herr.IsRetryable() {
				return nil, herr
			}
			lastErr = herr
			h.logger.Warn("retrying upload",
				"attempt", attempt+1,
				"status", resp.StatusCode,
			)
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// storeResponse is the capture endpoint's JSON body.
type storeResponse struct {
	Success  *bool           `json:"success"`
	Message  string          `json:"message"`
	Error    string          `json:"error"`
	PhotoID  json.RawMessage `json:"photo_id"`
	Filename string          `json:"filename"`
	Size     int             `json:"file_size"`
	Location string          `json:"url"`
}

func parseReceipt(resp *http.Response) (*Receipt, error) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upload: read response: %w", err)
	}
	r := &Receipt{Location: resp.Header.Get("Location")}
	if len(bytes.TrimSpace(data)) == 0 {
		return r, nil
	}

	var sr storeResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		// Non-JSON success bodies are accepted as-is.
		return r, nil
	}
	if sr.Success != nil && !*sr.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, sr.Error)
	}

	if id := string(sr.PhotoID); id != "" && id != "null" {
		r.PhotoID = strings.Trim(id, `"`)
	}
	r.Filename = sr.Filename
	r.Size = sr.Size
	if sr.Location != "" {
		r.Location = sr.Location
	}
	return r, nil
}

// parseError reads the body of a non-2xx response.
func parseError(resp *http.Response) *HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	message := strings.TrimSpace(string(body))
	var sr storeResponse
	if json.Unmarshal(body, &sr) == nil && sr.Error != "" {
		message = sr.Error
	}
	return &HTTPError{StatusCode: resp.StatusCode, Message: message}
}
