package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/internal/log"
)

// Stream is a remote camera that pushes JPEG frames as binary websocket
// messages, e.g. a phone or a Pi running a tiny MJPEG-over-websocket bridge.
// Only the most recent frame is kept.
type Stream struct {
	url    string
	ws     *websocket.Conn
	logger *slog.Logger

	mu     sync.RWMutex
	latest []byte
	size   image.Point
	closed bool

	done chan struct{}
}

// NewStream creates a stream source for url (ws:// or wss://).
func NewStream(url string) *Stream {
	return &Stream{
		url:    url,
		logger: log.Component("camera.stream"),
		done:   make(chan struct{}),
	}
}

// Connect dials the feed and starts receiving frames in the background.
func (s *Stream) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	ws, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("stream connect %s: %w", s.url, err)
	}
	s.ws = ws
	s.logger.Info("stream connected", "url", s.url)

	go s.readLoop()
	return nil
}

func (s *Stream) readLoop() {
	defer close(s.done)
	for {
		msgType, data, err := s.ws.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.size = image.Point{}
			s.latest = nil
			s.mu.Unlock()
			if !closed {
				s.logger.Warn("stream read failed", "error", err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.push(data)
	}
}

// push stores a JPEG payload as the latest frame. Payloads that do not
// decode as an image are dropped.
func (s *Stream) push(data []byte) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("dropping undecodable frame", "bytes", len(data), "error", err)
		return
	}

	s.mu.Lock()
	s.latest = data
	s.size = image.Pt(cfg.Width, cfg.Height)
	s.mu.Unlock()
}

// Size returns the dimensions of the latest frame, zero until one arrives.
func (s *Stream) Size() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Read decodes the latest frame into dst.
func (s *Stream) Read(dst *gocv.Mat) error {
	s.mu.RLock()
	data := s.latest
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return ErrClosed
	}
	if data == nil {
		return ErrNotReady
	}

	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	defer img.Close()
	img.CopyTo(dst)
	return nil
}

// Close disconnects from the feed.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.ws == nil {
		return nil
	}
	s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.ws.Close()
	<-s.done
	return err
}
