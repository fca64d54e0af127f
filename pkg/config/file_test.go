package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	if f.Hardware() != HardwareSim {
		t.Fatalf("hardware = %q", f.Hardware())
	}
	if !f.ParkOnShutdown() {
		t.Fatalf("parkOnShutdown should default to true")
	}
	if f.BaudRate() != 115200 {
		t.Fatalf("baud = %d", f.BaudRate())
	}
	if f.Cron() != "" {
		t.Fatalf("cron = %q", f.Cron())
	}
	if f.SimCalibrationDuration() != 3*time.Second {
		t.Fatalf("sim calibration = %v", f.SimCalibrationDuration())
	}
}

func TestFileSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jointcal.json")
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	f.SetCron("@every 24h")
	f.SetParkOnShutdown(false)
	f.SetDescriptionPath("/tmp/part.hcl")
	if err := f.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	g, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if g.Cron() != "@every 24h" || g.ParkOnShutdown() || g.DescriptionPath() != "/tmp/part.hcl" {
		t.Fatalf("reloaded fields = %v", g.LogrusFields())
	}
}

func TestFileRejectsUnknownHardware(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jointcal.json")
	if err := os.WriteFile(path, []byte(`{"hardware": "ethercat"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFile(path); err == nil {
		t.Fatalf("expected error for unknown hardware")
	}
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jointcal.json")
	if err := os.WriteFile(path, []byte("  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	f, err := NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if f.Hardware() != HardwareSim {
		t.Fatalf("hardware = %q", f.Hardware())
	}
}
