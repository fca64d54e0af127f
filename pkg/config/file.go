package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/jointcal/jointcal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		DescriptionPath:    ptr.To("/etc/jointcal/description.yaml"),
		Hardware:           ptr.To(HardwareSim),
		SerialPort:         ptr.To("/dev/ttyUSB0"),
		BaudRate:           ptr.To(115200),
		ParkOnShutdown:     ptr.To(true),
		AllowNonRootAccess: ptr.To(false),
		// Empty means no scheduled recalibration.
		Cron:                  ptr.To(""),
		SimCalibrationSeconds: ptr.To(3.0),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

type RawFileConfig struct {
	DescriptionPath       *string  `json:"descriptionPath,omitempty"`
	Hardware              *string  `json:"hardware,omitempty"`
	SerialPort            *string  `json:"serialPort,omitempty"`
	BaudRate              *int     `json:"baudRate,omitempty"`
	ParkOnShutdown        *bool    `json:"parkOnShutdown,omitempty"`
	AllowNonRootAccess    *bool    `json:"allowNonRootAccess,omitempty"`
	Cron                  *string  `json:"cron,omitempty"`
	SimCalibrationSeconds *float64 `json:"simCalibrationSeconds,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	return &RawFileConfig{
		DescriptionPath:       ptr.To(c.DescriptionPath()),
		Hardware:              ptr.To(c.Hardware()),
		SerialPort:            ptr.To(c.SerialPort()),
		BaudRate:              ptr.To(c.BaudRate()),
		ParkOnShutdown:        ptr.To(c.ParkOnShutdown()),
		AllowNonRootAccess:    ptr.To(c.AllowNonRootAccess()),
		Cron:                  ptr.To(c.Cron()),
		SimCalibrationSeconds: ptr.To(c.SimCalibrationDuration().Seconds()),
	}, nil
}

// get reads one field under the read lock, falling back to the default.
func get[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	return ptr.Deref(field(f.c), *field(defaultFileConfig))
}

func (f *File) DescriptionPath() string {
	return get(f, func(c *RawFileConfig) *string { return c.DescriptionPath })
}

func (f *File) Hardware() string {
	return get(f, func(c *RawFileConfig) *string { return c.Hardware })
}

func (f *File) SerialPort() string {
	return get(f, func(c *RawFileConfig) *string { return c.SerialPort })
}

func (f *File) BaudRate() int {
	return get(f, func(c *RawFileConfig) *int { return c.BaudRate })
}

func (f *File) ParkOnShutdown() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.ParkOnShutdown })
}

func (f *File) AllowNonRootAccess() bool {
	return get(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) Cron() string {
	return get(f, func(c *RawFileConfig) *string { return c.Cron })
}

func (f *File) SimCalibrationDuration() time.Duration {
	s := get(f, func(c *RawFileConfig) *float64 { return c.SimCalibrationSeconds })
	return time.Duration(s * float64(time.Second))
}

func (f *File) SetDescriptionPath(p string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DescriptionPath = &p
}

func (f *File) SetParkOnShutdown(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.ParkOnShutdown = &b
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.AllowNonRootAccess = &b
}

func (f *File) SetCron(expr string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Cron = &expr
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if err := json.Unmarshal(b, &conf); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if conf.Hardware != nil && *conf.Hardware != HardwareSim && *conf.Hardware != HardwareSerial {
		return pkgerrors.Errorf("unknown hardware %q in %s, want %q or %q", *conf.Hardware, f.filepath, HardwareSim, HardwareSerial)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f.c); err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"descriptionPath":    f.DescriptionPath(),
		"hardware":           f.Hardware(),
		"serialPort":         f.SerialPort(),
		"baudRate":           f.BaudRate(),
		"parkOnShutdown":     f.ParkOnShutdown(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
		"cron":               f.Cron(),
	}
}
