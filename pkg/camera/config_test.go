package camera

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("DefaultConfig should be valid, got %v", errs)
	}
}

func TestPresets_Valid(t *testing.T) {
	for _, name := range PresetNames() {
		cfg := GetPreset(name)
		if cfg == nil {
			t.Fatalf("preset %q missing", name)
		}
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("preset %q invalid: %v", name, errs)
		}
	}
	if GetPreset("nope") != nil {
		t.Error("unknown preset should be nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := Config{Width: 10, Height: 10, Framerate: 0}
	if errs := cfg.Validate(); len(errs) != 4 {
		t.Errorf("expected 4 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestConfig_JSONKeys(t *testing.T) {
	b, err := json.Marshal(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	var keys map[string]any
	if err := json.Unmarshal(b, &keys); err != nil {
		t.Fatal(err)
	}
	want := []string{"device", "width", "height", "framerate", "autofocus"}
	if len(keys) != len(want) {
		t.Errorf("keys = %v, want exactly %v", keys, want)
	}
	for _, k := range want {
		if _, ok := keys[k]; !ok {
			t.Errorf("missing key %q", k)
		}
	}
}

func TestIsStream(t *testing.T) {
	tests := map[string]bool{
		"0":                       false,
		"rtsp://cam/stream":       false,
		"ws://192.168.1.20:8765":  true,
		"wss://scanner.local/cam": true,
	}
	for dev, want := range tests {
		if got := (Config{Device: dev}).IsStream(); got != want {
			t.Errorf("IsStream(%q) = %v, want %v", dev, got, want)
		}
	}
}

func ptr[T any](v T) *T { return &v }

func TestManager_Apply(t *testing.T) {
	m := NewManager(DefaultConfig())

	var applied Config
	m.OnConfigChange = func(cfg Config) error {
		applied = cfg
		return nil
	}

	got, err := m.Apply(Update{Preset: Preset720p, Framerate: ptr(24), Autofocus: ptr(false)})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got.Width != 1280 || got.Height != 720 || got.Framerate != 24 || got.Autofocus {
		t.Errorf("unexpected config %+v", got)
	}
	if got.Device != "0" {
		t.Errorf("preset must keep the device, got %q", got.Device)
	}
	if applied != got || m.GetConfig() != got {
		t.Error("OnConfigChange not called with the stored config")
	}
}

func TestManager_RejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		u    Update
	}{
		{"width out of range", Update{Width: ptr(5)}},
		{"unknown preset", Update{Preset: "bogus"}},
		{"zero framerate", Update{Framerate: ptr(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(DefaultConfig())
			got, err := m.Apply(tt.u)
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
			if got != DefaultConfig() || m.GetConfig() != DefaultConfig() {
				t.Error("rejected update must not change config")
			}
		})
	}
}

func TestManager_SourceRejects(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.OnConfigChange = func(Config) error { return ErrClosed }

	if _, err := m.Apply(Update{Width: ptr(1280), Height: ptr(720)}); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want the source's error", err)
	}
	if m.GetConfig().Width != 1920 {
		t.Error("settings the source rejected must not be stored")
	}
}
