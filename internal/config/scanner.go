package config

import (
	"encoding/json"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/serialmux"
)

// DefaultConfigPath is the canonical defaults file, relative to the repo root.
const DefaultConfigPath = "config/scanner.defaults.json"

const maxConfigFileSize = 1 * 1024 * 1024

// ScannerConfig is the startup configuration. Unset fields fall back to the
// values returned by the Get* accessors.
type ScannerConfig struct {
	// Geometry
	MotorSteps         *int        `json:"motor_steps,omitempty"`
	ServoSteps         *int        `json:"servo_steps,omitempty"`
	NeutralRange       *float64    `json:"neutral_range,omitempty"`
	InitialTranslation *[3]float64 `json:"initial_translation,omitempty"`

	// Serial
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`
	DataBits   *int    `json:"data_bits,omitempty"`
	StopBits   *int    `json:"stop_bits,omitempty"`
	Parity     *string `json:"parity,omitempty"`

	// Runtime
	DispatchQueue    *int    `json:"dispatch_queue,omitempty"`
	Listen           *string `json:"listen,omitempty"`
	VisualiserListen *string `json:"visualiser_listen,omitempty"`
	DBPath           *string `json:"db_path,omitempty"`
	ExportDir        *string `json:"export_dir,omitempty"`
}

func ptrInt(v int) *int             { return &v }
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }

// DefaultScannerConfig returns a config with every field set to its default.
func DefaultScannerConfig() *ScannerConfig {
	return &ScannerConfig{
		MotorSteps:         ptrInt(scan.DefaultMotorSteps),
		ServoSteps:         ptrInt(scan.DefaultServoSteps),
		NeutralRange:       ptrFloat64(scan.DefaultNeutralRange),
		InitialTranslation: &[3]float64{0, 0, 0.5},
		SerialPort:         ptrString("/dev/ttyUSB0"),
		BaudRate:           ptrInt(serialmux.DefaultBaudRate),
		DataBits:           ptrInt(8),
		StopBits:           ptrInt(1),
		Parity:             ptrString("N"),
		DispatchQueue:      ptrInt(256),
		Listen:             ptrString(":8080"),
		VisualiserListen:   ptrString("localhost:50051"),
		DBPath:             ptrString("scans.db"),
		ExportDir:          ptrString("exports"),
	}
}

// LoadScannerConfig reads a JSON config file. Omitted fields keep their
// defaults through the Get* accessors, so partial files are fine.
func LoadScannerConfig(path string) (*ScannerConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &ScannerConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every field that is set.
func (c *ScannerConfig) Validate() error {
	if err := c.Resolution().Validate(); err != nil {
		return err
	}
	if n := c.GetNeutralRange(); math.IsNaN(n) || math.IsInf(n, 0) || n < 0 {
		return fmt.Errorf("neutral_range must be a finite value >= 0, got %v", n)
	}
	for i, v := range c.GetInitialTranslation() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("initial_translation[%d] must be finite, got %v", i, v)
		}
	}
	if _, err := c.PortOptions().Normalize(); err != nil {
		return err
	}
	if q := c.GetDispatchQueue(); q < 1 {
		return fmt.Errorf("dispatch_queue must be positive, got %d", q)
	}
	for name, addr := range map[string]string{"listen": c.GetListen(), "visualiser_listen": c.GetVisualiserListen()} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid %s address %q: %w", name, addr, err)
		}
	}
	if c.GetDBPath() == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

func (c *ScannerConfig) GetMotorSteps() int {
	if c.MotorSteps == nil {
		return scan.DefaultMotorSteps
	}
	return *c.MotorSteps
}

func (c *ScannerConfig) GetServoSteps() int {
	if c.ServoSteps == nil {
		return scan.DefaultServoSteps
	}
	return *c.ServoSteps
}

func (c *ScannerConfig) GetNeutralRange() float64 {
	if c.NeutralRange == nil {
		return scan.DefaultNeutralRange
	}
	return *c.NeutralRange
}

func (c *ScannerConfig) GetInitialTranslation() [3]float64 {
	if c.InitialTranslation == nil {
		return [3]float64{0, 0, 0.5}
	}
	return *c.InitialTranslation
}

func (c *ScannerConfig) GetSerialPort() string {
	if c.SerialPort == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPort
}

func (c *ScannerConfig) GetDispatchQueue() int {
	if c.DispatchQueue == nil {
		return 256
	}
	return *c.DispatchQueue
}

func (c *ScannerConfig) GetListen() string {
	if c.Listen == nil {
		return ":8080"
	}
	return *c.Listen
}

func (c *ScannerConfig) GetVisualiserListen() string {
	if c.VisualiserListen == nil {
		return "localhost:50051"
	}
	return *c.VisualiserListen
}

func (c *ScannerConfig) GetDBPath() string {
	if c.DBPath == nil {
		return "scans.db"
	}
	return *c.DBPath
}

func (c *ScannerConfig) GetExportDir() string {
	if c.ExportDir == nil {
		return "exports"
	}
	return *c.ExportDir
}

// Resolution is the grid shape the config describes.
func (c *ScannerConfig) Resolution() scan.Resolution {
	return scan.Resolution{MotorSteps: c.GetMotorSteps(), ServoSteps: c.GetServoSteps()}
}

// PortOptions collects the serial fields. Unset fields are left zero so
// Normalize applies its defaults.
func (c *ScannerConfig) PortOptions() serialmux.PortOptions {
	var o serialmux.PortOptions
	if c.BaudRate != nil {
		o.BaudRate = *c.BaudRate
	}
	if c.DataBits != nil {
		o.DataBits = *c.DataBits
	}
	if c.StopBits != nil {
		o.StopBits = *c.StopBits
	}
	if c.Parity != nil {
		o.Parity = *c.Parity
	}
	return o
}

// RegistryOptions builds the session registry options.
func (c *ScannerConfig) RegistryOptions() session.Options {
	t := c.GetInitialTranslation()
	return session.Options{
		Params: session.Params{
			Resolution:   c.Resolution(),
			NeutralRange: c.GetNeutralRange(),
		},
		InitialTransform: scan.Transform{Translation: scan.Point3{X: t[0], Y: t[1], Z: t[2]}},
	}
}
