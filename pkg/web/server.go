// Package web serves the scanner dashboard: live status and overlay over
// websockets, runtime tuning, the capture trigger and the capture journal.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-smartcapture/internal/log"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/hub"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
)

// Scanner is the part of *scan.Scheduler the dashboard drives.
type Scanner interface {
	Snapshot() scan.State
	Capture(ctx context.Context, req scan.CaptureRequest) (*scan.CaptureResult, error)
	TuningParams() scan.TuningParams
	SetTuningParams(params scan.TuningParams) error
	OverlayPNG() ([]byte, error)
	Subscribe(fn func(scan.State)) (unsubscribe func())
}

// Journal lists recorded captures. *journal.Store implements it.
type Journal interface {
	List(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Option configures a Server.
type Option func(*Server)

// WithJournal enables GET /api/captures.
func WithJournal(j Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// WithCamera enables the camera settings endpoints.
func WithCamera(m *camera.Manager) Option {
	return func(s *Server) {
		s.camera = m
	}
}

// WithStatic serves dashboard assets from dir at /.
func WithStatic(dir string) Option {
	return func(s *Server) {
		s.static = dir
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// Server is the dashboard HTTP server
type Server struct {
	app     *fiber.App
	port    string
	scanner Scanner
	journal Journal
	camera  *camera.Manager
	static  string
	logger  *slog.Logger

	// Hubs for websocket broadcast
	statusHub  *hub.Hub
	overlayHub *hub.Hub

	// Coalesces ticks for the overlay encoder; holds at most one pending tick
	overlayDirty chan struct{}
}

// NewServer creates a dashboard for scanner listening on port.
func NewServer(port string, scanner Scanner, opts ...Option) *Server {
	s := &Server{
		port:         port,
		scanner:      scanner,
		logger:       log.Component("web"),
		statusHub:    hub.New("status"),
		overlayHub:   hub.New("overlay"),
		overlayDirty: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}

	app := fiber.New(fiber.Config{
		AppName:               "SmartCapture",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	if s.static != "" {
		app.Static("/", s.static)
	}

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tuning", s.handleGetTuning)
	api.Put("/tuning", s.handleSetTuning)
	api.Get("/overlay.png", s.handleOverlay)
	api.Post("/capture", s.handleCapture)
	api.Get("/captures", s.handleListCaptures)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleSetCamera)
	api.Get("/camera/presets", s.handleCameraPresets)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleWS(s.statusHub)))
	app.Get("/ws/overlay", websocket.New(s.handleWS(s.overlayHub)))

	s.app = app
	return s
}

// App exposes the fiber app, mainly for app.Test in tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start runs the hubs, forwards scanner updates to them and serves until
// ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "url", "http://localhost:"+s.port)
		errCh <- s.app.Listen(":" + s.port)
	}()

	select {
	case <-ctx.Done():
		return s.app.Shutdown()
	case err := <-errCh:
		return err
	}
}

// run starts the broadcast side without the listener.
func (s *Server) run(ctx context.Context) {
	go s.statusHub.Run(ctx)
	go s.overlayHub.Run(ctx)
	go s.encodeOverlays(ctx)

	unsubscribe := s.scanner.Subscribe(s.publish)
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// publish runs on the scanner's goroutine, so it only queues work.
func (s *Server) publish(st scan.State) {
	if err := s.statusHub.BroadcastJSON(newStatus(st)); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
	select {
	case s.overlayDirty <- struct{}{}:
	default:
	}
}

func (s *Server) encodeOverlays(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.overlayDirty:
			png, err := s.scanner.OverlayPNG()
			if err != nil {
				continue
			}
			s.overlayHub.BroadcastBinary(png)
		}
	}
}

// handleWS attaches a websocket to h until the peer goes away.
func (s *Server) handleWS(h *hub.Hub) func(*websocket.Conn) {
	return func(c *websocket.Conn) {
		hub.NewClient(h, c).Run()
	}
}
