package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Description is the raw calibrator description as written by the user. It
// mirrors the GENERAL, CALIBRATION, HOME and CALIB_ORDER sections and can be
// written in YAML, HCL or JSON.
type Description struct {
	General     *General            `yaml:"general" json:"general,omitempty" hcl:"general,block"`
	Calibration *CalibrationSection `yaml:"calibration" json:"calibration,omitempty" hcl:"calibration,block"`
	Home        *Home               `yaml:"home" json:"home,omitempty" hcl:"home,block"`
	CalibOrder  [][]int             `yaml:"calib_order" json:"calibOrder,omitempty" hcl:"calib_order,optional"`
}

type General struct {
	DeviceName string `yaml:"device_name" json:"deviceName,omitempty" hcl:"device_name,optional"`
	Verbose    bool   `yaml:"verbose" json:"verbose,omitempty" hcl:"verbose,optional"`
	// Vanilla skips calibration and parking motion. PID limiting still applies.
	Vanilla bool `yaml:"vanilla" json:"vanilla,omitempty" hcl:"vanilla,optional"`
	// Strict turns short parameter lists into a load error instead of a warning.
	Strict              bool    `yaml:"strict" json:"strict,omitempty" hcl:"strict,optional"`
	StartupDelaySeconds float64 `yaml:"startup_delay_seconds" json:"startupDelaySeconds,omitempty" hcl:"startup_delay_seconds,optional"`
}

type CalibrationSection struct {
	Joints           int       `yaml:"joints" json:"joints" hcl:"joints"`
	CalibrationType  []int     `yaml:"calibration_type" json:"calibrationType,omitempty" hcl:"calibration_type,optional"`
	Calibration1     []float64 `yaml:"calibration1" json:"calibration1,omitempty" hcl:"calibration1,optional"`
	Calibration2     []float64 `yaml:"calibration2" json:"calibration2,omitempty" hcl:"calibration2,optional"`
	Calibration3     []float64 `yaml:"calibration3" json:"calibration3,omitempty" hcl:"calibration3,optional"`
	PositionZero     []float64 `yaml:"position_zero" json:"positionZero,omitempty" hcl:"position_zero,optional"`
	VelocityZero     []float64 `yaml:"velocity_zero" json:"velocityZero,omitempty" hcl:"velocity_zero,optional"`
	MaxPWM           []float64 `yaml:"max_pwm" json:"maxPWM,omitempty" hcl:"max_pwm,optional"`
	PosZeroThreshold []float64 `yaml:"pos_zero_threshold" json:"posZeroThreshold,omitempty" hcl:"pos_zero_threshold,optional"`
}

type Home struct {
	PositionHome []float64 `yaml:"position_home" json:"positionHome,omitempty" hcl:"position_home,optional"`
	VelocityHome []float64 `yaml:"velocity_home" json:"velocityHome,omitempty" hcl:"velocity_home,optional"`
}

// Format is the syntax of a description file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
	FormatJSON Format = "json"
)

// FormatFromPath picks the description syntax from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".hcl":
		return FormatHCL, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", pkgerrors.Errorf("unsupported description file extension %q", filepath.Ext(path))
	}
}

// LoadDescription reads and decodes a description file.
func LoadDescription(path string) (*Description, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to read description %s", path)
	}

	d, err := ParseDescription(b, path, format)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to decode description %s", path)
	}
	return d, nil
}

// ParseDescription decodes src in the given format. filename is only used in
// HCL diagnostics.
func ParseDescription(src []byte, filename string, format Format) (*Description, error) {
	var d Description

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(src))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(src))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, err
		}
	case FormatHCL:
		f, diags := hclparse.NewParser().ParseHCL(src, filename)
		if diags.HasErrors() {
			return nil, diags
		}
		if diags := gohcl.DecodeBody(f.Body, nil, &d); diags.HasErrors() {
			return nil, diags
		}
	default:
		return nil, pkgerrors.Errorf("unknown description format %q", format)
	}

	return &d, nil
}
