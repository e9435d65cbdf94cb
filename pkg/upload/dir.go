package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Dir stores captures as files under a local directory. It is used when no
// upload endpoint is configured and by the still-image commands.
type Dir struct {
	root string
}

// NewDir creates the directory if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("upload: create %s: %w", root, err)
	}
	return &Dir{root: root}, nil
}

// Root returns the output directory.
func (d *Dir) Root() string {
	return d.root
}

// Upload writes img to <root>/<meta.Filename()>. The write goes through a
// temp file so readers never see a partial JPEG.
func (d *Dir) Upload(ctx context.Context, img []byte, meta Metadata) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(img) == 0 {
		return nil, ErrEmptyImage
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	name := meta.Filename()
	path := filepath.Join(d.root, name)

	tmp, err := os.CreateTemp(d.root, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("upload: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("upload: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("upload: %w", err)
	}

	return &Receipt{Filename: name, Location: path, Size: len(img)}, nil
}
