package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teslashibe/go-smartcapture/internal/config"
	"github.com/teslashibe/go-smartcapture/pkg/camera"
	"github.com/teslashibe/go-smartcapture/pkg/inbox"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
	"github.com/teslashibe/go-smartcapture/pkg/upload"
)

// newUploader builds the configured uploader, or nil when uploads are off.
func newUploader(cfg config.Upload) (upload.Uploader, error) {
	switch {
	case cfg.URL != "":
		return upload.NewHTTP(
			upload.WithURL(cfg.URL),
			upload.WithToken(cfg.Token),
			upload.WithFieldName(cfg.FieldName),
			upload.WithTimeout(time.Duration(cfg.TimeoutSec)*time.Second),
			upload.WithRetry(cfg.MaxRetries, 500*time.Millisecond),
		)
	case cfg.Dir != "":
		dir, err := config.ExpandUser(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return upload.NewDir(dir)
	}
	return nil, nil
}

// openJournal opens the journal, or returns nil when it is disabled.
func openJournal(cfg config.Journal) (*journal.Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("journal: %w", err)
		}
	}
	return journal.Open(cfg.Path)
}

// openSource opens the configured camera. Stills are accepted so a single
// image can stand in for a camera. The returned Manager pushes setting
// changes to the device when it supports them.
func openSource(ctx context.Context, cfg camera.Config) (camera.Source, *camera.Manager, error) {
	mgr := camera.NewManager(cfg)

	switch {
	case cfg.IsStream():
		s := camera.NewStream(cfg.Device)
		if err := s.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return s, mgr, nil
	case inbox.IsImage(cfg.Device):
		s, err := camera.OpenStill(cfg.Device)
		if err != nil {
			return nil, nil, err
		}
		return s, mgr, nil
	}

	d, err := camera.OpenDevice(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w (set camera.device or %s)", err, config.EnvCamera)
	}
	mgr.OnConfigChange = d.Apply
	return d, mgr, nil
}

// closeSource releases sources that hold native or network resources.
func closeSource(src camera.Source) {
	if c, ok := src.(camera.Closer); ok {
		c.Close()
	}
}

// processorOptions wires uploads and the journal into a still processor.
// The returned cleanup closes the journal.
func (r *Root) processorOptions(withUpload bool, outDir string) ([]inbox.Option, func(), error) {
	opts := []inbox.Option{inbox.WithLogger(r.logger)}
	if outDir != "" {
		opts = append(opts, inbox.WithOutputDir(outDir))
	}
	if withUpload {
		u, err := newUploader(r.cfg.Upload)
		if err != nil {
			return nil, nil, err
		}
		if u == nil {
			return nil, nil, fmt.Errorf("--upload given but no upload url or dir is configured")
		}
		opts = append(opts, inbox.WithUploader(u))
	}

	store, err := openJournal(r.cfg.Journal)
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		opts = append(opts, inbox.WithRecorder(store))
	}
	return opts, func() { store.Close() }, nil
}
