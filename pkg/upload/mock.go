package upload

import (
	"context"
	"sync"
)

// Mock implements Uploader for testing.
type Mock struct {
	// UploadFunc is called when Upload is invoked.
	// If nil, the upload succeeds with a receipt named after the metadata.
	UploadFunc func(ctx context.Context, img []byte, meta Metadata) (*Receipt, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records one Upload invocation.
type MockCall struct {
	Image []byte
	Meta  Metadata
}

// NewMock creates a mock that accepts everything.
func NewMock() *Mock {
	return &Mock{}
}

// Upload records the call and delegates to UploadFunc.
func (m *Mock) Upload(ctx context.Context, img []byte, meta Metadata) (*Receipt, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Image: append([]byte(nil), img...), Meta: meta})
	m.mu.Unlock()

	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, img, meta)
	}
	return &Receipt{Filename: meta.Filename(), Size: len(img)}, nil
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of uploads.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
