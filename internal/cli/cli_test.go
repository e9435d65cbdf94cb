package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-smartcapture/internal/config"
	"github.com/teslashibe/go-smartcapture/internal/synth"
	"github.com/teslashibe/go-smartcapture/pkg/journal"
)

// execute runs the CLI with a config file whose journal lives in dir.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cfgPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.Default()
		cfg.Journal.Path = filepath.Join(dir, "journal.db")
		cfg.Upload.Dir = filepath.Join(dir, "uploads")
		if err := cfg.Save(cfgPath); err != nil {
			t.Fatal(err)
		}
	}

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfgPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeScene(t *testing.T, path string) {
	t.Helper()
	img := synth.Document(1280, 960, []image.Point{{400, 240}, {880, 240}, {880, 720}, {400, 720}})
	defer img.Close()
	if !gocv.IMWrite(path, img) {
		t.Fatalf("write %s", path)
	}
}

func TestConfigShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvPort, "9999")

	out, err := execute(t, dir, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("config show is not JSON: %v\n%s", err, out)
	}
	if cfg.Dashboard.Port != "9999" {
		t.Errorf("port = %q, want env override", cfg.Dashboard.Port)
	}
}

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "new", "config.json")

	if _, err := execute(t, dir, "config", "init", target); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Load(target); err != nil {
		t.Errorf("written config does not load: %v", err)
	}
	if _, err := execute(t, dir, "config", "init", target); err == nil {
		t.Error("second init without --force should fail")
	}
	if _, err := execute(t, dir, "config", "init", "--force", target); err != nil {
		t.Errorf("init --force: %v", err)
	}
}

func TestConfigPresets(t *testing.T) {
	out, err := execute(t, t.TempDir(), "config", "presets")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"documents", "lowlight", "720p"} {
		if !strings.Contains(out, want) {
			t.Errorf("presets output missing %q:\n%s", want, out)
		}
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"scan": {"tick_interval_ms": 1}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, dir, "config", "show"); err == nil || !strings.Contains(err.Error(), "tick_interval_ms") {
		t.Errorf("err = %v, want validation failure", err)
	}
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "scan.png")
	writeScene(t, img)

	out, err := execute(t, dir, "detect", "--json", img)
	if err != nil {
		t.Fatal(err)
	}
	var a struct {
		Quad       *[4]struct{ X, Y float64 }
		Confidence float64
	}
	if err := json.Unmarshal([]byte(out), &a); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if a.Quad == nil {
		t.Fatalf("no quad in %s", out)
	}

	out, err = execute(t, dir, "detect", img)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "top-left") || !strings.Contains(out, "bottom-right") {
		t.Errorf("text output:\n%s", out)
	}

	if _, err := execute(t, dir, "detect", filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing image should fail")
	}
}

func TestRectifyAndJournal(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "scan.png")
	writeScene(t, img)

	out, err := execute(t, dir, "rectify", "--upload", img)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "scan_rectified.jpg") {
		t.Errorf("rectify output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "scan_rectified.jpg")); err != nil {
		t.Error(err)
	}
	uploads, err := os.ReadDir(filepath.Join(dir, "uploads"))
	if err != nil || len(uploads) != 1 {
		t.Errorf("uploads = %v (%v), want one file", uploads, err)
	}

	out, err = execute(t, dir, "journal", "list", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var entries []journal.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("%v\n%s", err, out)
	}
	if len(entries) != 1 || !entries[0].Rectified || !entries[0].Uploaded {
		t.Fatalf("entries = %+v", entries)
	}

	out, err = execute(t, dir, "journal", "list")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, shortID(entries[0].ID)) || !strings.Contains(out, "single") {
		t.Errorf("table output:\n%s", out)
	}

	if _, err := execute(t, dir, "journal", "show", entries[0].ID); err != nil {
		t.Errorf("journal show: %v", err)
	}
	if _, err := execute(t, dir, "journal", "show", "nope"); err == nil {
		t.Error("unknown id should fail")
	}
}

func TestRectifyUploadNeedsTarget(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Journal.Path = ""
	if err := cfg.Save(filepath.Join(dir, "config.json")); err != nil {
		t.Fatal(err)
	}
	img := filepath.Join(dir, "scan.png")
	writeScene(t, img)

	if _, err := execute(t, dir, "rectify", "--upload", img); err == nil {
		t.Error("--upload without a target should fail")
	}
	if _, err := execute(t, dir, "journal", "list"); err == nil {
		t.Error("journal list with journal disabled should fail")
	}
}

func TestModeLabel(t *testing.T) {
	tests := []struct {
		e    journal.Entry
		want string
	}{
		{journal.Entry{Mode: "single"}, "single"},
		{journal.Entry{Mode: "quad", Quadrant: "tr"}, "quad:tr"},
		{journal.Entry{Mode: "sequential", Sequence: 3}, "sequential:3"},
	}
	for _, tt := range tests {
		if got := mode(tt.e); got != tt.want {
			t.Errorf("mode(%+v) = %q, want %q", tt.e, got, tt.want)
		}
	}
}
