package web

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/scan"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// defaultCaptureLimit caps GET /api/captures without ?limit.
const defaultCaptureLimit = 50

// Status is the dashboard's view of the scanner.
type Status struct {
	scan.State
	Armed bool `json:"armed"`
}

func newStatus(st scan.State) Status {
	return Status{State: st, Armed: st.Armed()}
}

// CaptureResponse is returned by POST /api/capture.
type CaptureResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Capture *scan.CaptureResult `json:"capture,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func errorJSON(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// handleStatus returns the latest pipeline state
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(newStatus(s.scanner.Snapshot()))
}

func (s *Server) handleGetTuning(c *fiber.Ctx) error {
	return c.JSON(s.scanner.TuningParams())
}

// handleSetTuning applies the non-zero fields of the body and returns the
// resulting parameters.
func (s *Server) handleSetTuning(c *fiber.Ctx) error {
	var params scan.TuningParams
	if err := c.BodyParser(&params); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err := s.scanner.SetTuningParams(params); err != nil {
		if errors.Is(err, scan.ErrInvalidConfig) {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.logger.Info("tuning updated", "params", params)
	return c.JSON(s.scanner.TuningParams())
}

func (s *Server) handleOverlay(c *fiber.Ctx) error {
	png, err := s.scanner.OverlayPNG()
	if errors.Is(err, scan.ErrNoOverlay) {
		return errorJSON(c, fiber.StatusNotFound, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Send(png)
}

// handleCapture triggers a capture. The body is optional; an empty one is a
// single capture. With ?format=jpeg the image itself is returned. A failed
// upload answers 502 in both formats; the JPEG form carries the error in
// X-Capture-Upload-Error.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	var req scan.CaptureRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorJSON(c, fiber.StatusBadRequest, err)
		}
	}

	res, err := s.scanner.Capture(c.UserContext(), req)
	switch {
	case errors.Is(err, upload.ErrInvalidMetadata):
		return errorJSON(c, fiber.StatusBadRequest, err)
	case errors.Is(err, scan.ErrNotRunning), errors.Is(err, scan.ErrCaptureInProgress):
		return errorJSON(c, fiber.StatusConflict, err)
	case err != nil && res == nil:
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}

	if c.Query("format") == "jpeg" {
		c.Set(fiber.HeaderContentType, "image/jpeg")
		c.Set("X-Capture-Id", res.ID)
		c.Set("X-Capture-Rectified", strconv.FormatBool(res.Rectified))
		if err != nil {
			c.Set("X-Capture-Upload-Error", err.Error())
			c.Status(fiber.StatusBadGateway)
		}
		return c.Send(res.Image)
	}

	resp := CaptureResponse{Success: err == nil, Message: res.Message(), Capture: res}
	if err != nil {
		// Captured, but the upload failed.
		resp.Error = err.Error()
		return c.Status(fiber.StatusBadGateway).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) handleListCaptures(c *fiber.Ctx) error {
	if s.journal == nil {
		return errorJSON(c, fiber.StatusNotFound, errors.New("capture journal disabled"))
	}
	limit := c.QueryInt("limit", defaultCaptureLimit)
	entries, err := s.journal.List(c.UserContext(), limit)
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	return c.JSON(entries)
}

var errNoCamera = errors.New("camera settings unavailable")

func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return errorJSON(c, fiber.StatusNotFound, errNoCamera)
	}
	return c.JSON(s.camera.GetConfig())
}

// handleSetCamera accepts a partial settings object, optionally with a
// "preset" name applied first.
func (s *Server) handleSetCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return errorJSON(c, fiber.StatusNotFound, errNoCamera)
	}
	var u camera.Update
	if err := c.BodyParser(&u); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	cfg, err := s.camera.Apply(u)
	if errors.Is(err, camera.ErrInvalidConfig) {
		return errorJSON(c, fiber.StatusBadRequest, err)
	}
	if err != nil {
		return errorJSON(c, fiber.StatusInternalServerError, err)
	}
	s.logger.Info("camera settings updated", "width", cfg.Width, "height", cfg.Height, "framerate", cfg.Framerate)
	return c.JSON(cfg)
}

func (s *Server) handleCameraPresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"presets": camera.PresetNames(),
	})
}
