package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "nope.yaml"))
	cfg := s.Load()

	def := Default()
	if cfg != def {
		t.Errorf("Load() = %+v, want defaults %+v", cfg, def)
	}
}

func TestLoadCorruptFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml::::"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewStore(path).Load()
	if cfg != Default() {
		t.Errorf("corrupt file should fall back to defaults, got %+v", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	s := NewStore(path)

	want := ConnectionConfig{
		SerialPort: "/dev/ttyACM0",
		BaudRate:   115200,
		Address:    "AA:BB:CC:DD:EE:FF",
		PIN:        "123456",
	}
	if err := s.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got := s.Load()
	if got != want {
		t.Errorf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoadPatchesMissingFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("address: AA:BB:CC:DD:EE:FF\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewStore(path).Load()
	if cfg.Address != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("address = %q", cfg.Address)
	}
	if cfg.SerialPort != Default().SerialPort || cfg.BaudRate != Default().BaudRate {
		t.Errorf("missing fields not patched: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ConnectionConfig
		wantErr bool
	}{
		{"valid", ConnectionConfig{SerialPort: "/dev/ttyUSB0", BaudRate: 9600, Address: "AA:BB:CC:DD:EE:FF"}, false},
		{"no port", ConnectionConfig{BaudRate: 9600, Address: "AA:BB:CC:DD:EE:FF"}, true},
		{"zero baud", ConnectionConfig{SerialPort: "/dev/ttyUSB0", Address: "AA:BB:CC:DD:EE:FF"}, true},
		{"negative baud", ConnectionConfig{SerialPort: "/dev/ttyUSB0", BaudRate: -1, Address: "AA:BB:CC:DD:EE:FF"}, true},
		{"no address", ConnectionConfig{SerialPort: "/dev/ttyUSB0", BaudRate: 9600}, true},
	}

	for _, tt := range tests {
		err := tt.cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
