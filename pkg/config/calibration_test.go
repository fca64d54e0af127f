package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const yamlDescription = `
general:
  device_name: left_arm
  vanilla: false
  startup_delay_seconds: 1.5
calibration:
  joints: 4
  calibration_type: [3, 3, 3, 0]
  calibration1: [1, 2, 3, 4]
  calibration2: [10, 20, 30, 40]
  calibration3: [0, 0, 0, 0]
  position_zero: [0, 5, -5, 90]
  velocity_zero: [10, 10, 10, 20]
  max_pwm: [100, 100, 80, 60]
home:
  position_home: [0, 10, 0, 45]
  velocity_home: [10, 10, 10, 10]
calib_order:
  - [0, 1]
  - [2]
  - [3]
`

const hclDescription = `
general {
  device_name = "left_arm"
  startup_delay_seconds = 1.5
}

calibration {
  joints           = 4
  calibration_type = [3, 3, 3, 0]
  calibration1     = [1, 2, 3, 4]
  calibration2     = [10, 20, 30, 40]
  calibration3     = [0, 0, 0, 0]
  position_zero    = [0, 5, -5, 90]
  velocity_zero    = [10, 10, 10, 20]
  max_pwm          = [100, 100, 80, 60]
}

home {
  position_home = [0, 10, 0, 45]
  velocity_home = [10, 10, 10, 10]
}

calib_order = [[0, 1], [2], [3]]
`

const jsonDescription = `{
  "general": {"deviceName": "left_arm", "startupDelaySeconds": 1.5},
  "calibration": {
    "joints": 4,
    "calibrationType": [3, 3, 3, 0],
    "calibration1": [1, 2, 3, 4],
    "calibration2": [10, 20, 30, 40],
    "calibration3": [0, 0, 0, 0],
    "positionZero": [0, 5, -5, 90],
    "velocityZero": [10, 10, 10, 20],
    "maxPWM": [100, 100, 80, 60]
  },
  "home": {"positionHome": [0, 10, 0, 45], "velocityHome": [10, 10, 10, 10]},
  "calibOrder": [[0, 1], [2], [3]]
}`

func TestLoadDescriptionFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"part.yaml": yamlDescription,
		"part.hcl":  hclDescription,
		"part.json": jsonDescription,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			d, err := LoadDescription(path)
			if err != nil {
				t.Fatalf("LoadDescription: %v", err)
			}
			c, err := NewCalibration(d)
			if err != nil {
				t.Fatalf("NewCalibration: %v", err)
			}

			if c.DeviceName != "left_arm" {
				t.Fatalf("device name = %q", c.DeviceName)
			}
			if c.NumJoints() != 4 {
				t.Fatalf("joints = %d", c.NumJoints())
			}
			if c.StartupDelay != 1500*time.Millisecond {
				t.Fatalf("startup delay = %v", c.StartupDelay)
			}
			if len(c.Groups) != 3 || len(c.Groups[0]) != 2 || c.Groups[0][1] != 1 || c.Groups[2][0] != 3 {
				t.Fatalf("groups = %v", c.Groups)
			}
			j3 := c.Joints[3]
			if j3.Type != 0 || j3.Param1 != 4 || j3.Param2 != 40 || j3.ZeroPos != 90 || j3.ZeroVel != 20 || j3.MaxPWM != 60 || j3.HomePos != 45 {
				t.Fatalf("joint 3 = %+v", j3)
			}
			if c.Joints[1].Type != 3 {
				t.Fatalf("joint 1 type = %d", c.Joints[1].Type)
			}
			// pos_zero_threshold is absent in every fixture.
			for i, j := range c.Joints {
				if j.ZeroPosThreshold != DefaultZeroPosThreshold {
					t.Fatalf("joint %d threshold = %v", i, j.ZeroPosThreshold)
				}
			}
			if got := c.HomePositions(); got[1] != 10 || got[3] != 45 {
				t.Fatalf("home positions = %v", got)
			}
		})
	}
}

func TestLoadDescriptionUnknownExtension(t *testing.T) {
	if _, err := LoadDescription("part.ini"); err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}

func TestParseDescriptionRejectsUnknownYAMLKeys(t *testing.T) {
	_, err := ParseDescription([]byte("calibration:\n  joints: 2\n  maxpwm: [1, 2]\n"), "x.yaml", FormatYAML)
	if err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestNewCalibration(t *testing.T) {
	tests := []struct {
		name    string
		desc    *Description
		wantErr bool
		check   func(t *testing.T, c *Calibration)
	}{
		{
			name:    "nil description",
			desc:    nil,
			wantErr: true,
		},
		{
			name:    "zero joints",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 0}},
			wantErr: true,
		},
		{
			name:    "missing calibration section",
			desc:    &Description{},
			wantErr: true,
		},
		{
			name: "defaults for max pwm and threshold",
			desc: &Description{Calibration: &CalibrationSection{Joints: 3}, CalibOrder: [][]int{{0, 1, 2}}},
			check: func(t *testing.T, c *Calibration) {
				for i, j := range c.Joints {
					if j.MaxPWM != DefaultMaxPWM || j.ZeroPosThreshold != DefaultZeroPosThreshold {
						t.Fatalf("joint %d = %+v", i, j)
					}
				}
			},
		},
		{
			name: "short list defaults to zero",
			desc: &Description{Calibration: &CalibrationSection{Joints: 3, PositionZero: []float64{7}}},
			check: func(t *testing.T, c *Calibration) {
				if c.Joints[0].ZeroPos != 7 || c.Joints[1].ZeroPos != 0 || c.Joints[2].ZeroPos != 0 {
					t.Fatalf("zero positions = %+v", c.Joints)
				}
			},
		},
		{
			name: "short list in strict mode",
			desc: &Description{
				General:     &General{Strict: true},
				Calibration: &CalibrationSection{Joints: 3, PositionZero: []float64{7}},
			},
			wantErr: true,
		},
		{
			name:    "list longer than joints",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 2, Calibration1: []float64{1, 2, 3}}},
			wantErr: true,
		},
		{
			name:    "group joint out of range",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 2}, CalibOrder: [][]int{{0}, {2}}},
			wantErr: true,
		},
		{
			name:    "negative group joint",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 2}, CalibOrder: [][]int{{-1}}},
			wantErr: true,
		},
		{
			name:    "more group slots than joints",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 2}, CalibOrder: [][]int{{0, 1}, {1}}},
			wantErr: true,
		},
		{
			name:    "calibration type out of range",
			desc:    &Description{Calibration: &CalibrationSection{Joints: 1, CalibrationType: []int{300}}},
			wantErr: true,
		},
		{
			name: "vanilla flag",
			desc: &Description{General: &General{Vanilla: true}, Calibration: &CalibrationSection{Joints: 1}},
			check: func(t *testing.T, c *Calibration) {
				if !c.Vanilla {
					t.Fatalf("expected vanilla")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCalibration(tt.desc)
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, c)
			}
		})
	}
}
