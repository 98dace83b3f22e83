// Package config loads the vehicle configuration: device wiring, scanner
// settings and the navigation/actuation tuning used by the control loop.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/snow.eliminator/internal/navigation"
	"github.com/banshee-data/snow.eliminator/internal/scan"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/eliminator.defaults.json"

// Defaults for fields omitted from the configuration file.
const (
	DefaultScannerPort           = "/dev/ttyUSB0"
	DefaultScannerBaudRate       = 115200
	DefaultScannerMinPoints      = 5
	DefaultScannerMotorPWM       = 660
	DefaultProximityThresholdM   = 0.3
	DefaultProximityMaxDistanceM = 1.0
	DefaultForwardSpeed          = 0.3
	DefaultTurnSpeed             = 0.5
	DefaultSettleDuration        = time.Second
	DefaultPWMFrequencyHz        = 100
	DefaultJournalPath           = "eliminator.db"
	DefaultListen                = "localhost:8080"
	DefaultHealthListen          = "localhost:9090"
)

// Config is the root configuration. Every field is optional; the Get*
// accessors supply defaults for anything left unset.
type Config struct {
	// Range scanner
	ScannerPort      *string `json:"scanner_port,omitempty" yaml:"scanner_port,omitempty"`
	ScannerBaudRate  *int    `json:"scanner_baud_rate,omitempty" yaml:"scanner_baud_rate,omitempty"`
	ScannerMinPoints *int    `json:"scanner_min_points,omitempty" yaml:"scanner_min_points,omitempty"`
	ScannerMotorPWM  *int    `json:"scanner_motor_pwm,omitempty" yaml:"scanner_motor_pwm,omitempty"`

	// Safety perimeter
	ProximityThresholdM   *float64 `json:"proximity_threshold_m,omitempty" yaml:"proximity_threshold_m,omitempty"`
	ProximityMaxDistanceM *float64 `json:"proximity_max_distance_m,omitempty" yaml:"proximity_max_distance_m,omitempty"`

	// Actuation
	ForwardSpeed   *float64 `json:"forward_speed,omitempty" yaml:"forward_speed,omitempty"`
	TurnSpeed      *float64 `json:"turn_speed,omitempty" yaml:"turn_speed,omitempty"`
	SettleDuration *string  `json:"settle_duration,omitempty" yaml:"settle_duration,omitempty"` // duration string like "1s"

	// Navigation
	ArcStartDeg        *float64 `json:"arc_start_deg,omitempty" yaml:"arc_start_deg,omitempty"`
	ArcEndDeg          *float64 `json:"arc_end_deg,omitempty" yaml:"arc_end_deg,omitempty"`
	ObstacleDistanceMM *float64 `json:"obstacle_distance_mm,omitempty" yaml:"obstacle_distance_mm,omitempty"`

	// GPIO wiring (BCM numbering)
	LeftForwardPin   *int `json:"left_forward_pin,omitempty" yaml:"left_forward_pin,omitempty"`
	LeftBackwardPin  *int `json:"left_backward_pin,omitempty" yaml:"left_backward_pin,omitempty"`
	RightForwardPin  *int `json:"right_forward_pin,omitempty" yaml:"right_forward_pin,omitempty"`
	RightBackwardPin *int `json:"right_backward_pin,omitempty" yaml:"right_backward_pin,omitempty"`
	HeaterPin        *int `json:"heater_pin,omitempty" yaml:"heater_pin,omitempty"`
	SprayerPin       *int `json:"sprayer_pin,omitempty" yaml:"sprayer_pin,omitempty"`
	EchoPin          *int `json:"echo_pin,omitempty" yaml:"echo_pin,omitempty"`
	TriggerPin       *int `json:"trigger_pin,omitempty" yaml:"trigger_pin,omitempty"`
	PWMFrequencyHz   *int `json:"pwm_frequency_hz,omitempty" yaml:"pwm_frequency_hz,omitempty"`

	// Process
	JournalPath  *string `json:"journal_path,omitempty" yaml:"journal_path,omitempty"`
	Listen       *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	HealthListen *string `json:"health_listen,omitempty" yaml:"health_listen,omitempty"` // gRPC health service
}

func ptr[T any](v T) *T { return &v }

func orDefault[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		ScannerPort:           ptr(DefaultScannerPort),
		ScannerBaudRate:       ptr(DefaultScannerBaudRate),
		ScannerMinPoints:      ptr(DefaultScannerMinPoints),
		ScannerMotorPWM:       ptr(DefaultScannerMotorPWM),
		ProximityThresholdM:   ptr(DefaultProximityThresholdM),
		ProximityMaxDistanceM: ptr(DefaultProximityMaxDistanceM),
		ForwardSpeed:          ptr(DefaultForwardSpeed),
		TurnSpeed:             ptr(DefaultTurnSpeed),
		SettleDuration:        ptr(DefaultSettleDuration.String()),
		ArcStartDeg:           ptr(navigation.DefaultArcStart),
		ArcEndDeg:             ptr(navigation.DefaultArcEnd),
		ObstacleDistanceMM:    ptr(navigation.DefaultObstacleRangeMM),
		LeftForwardPin:        ptr(17),
		LeftBackwardPin:       ptr(18),
		RightForwardPin:       ptr(27),
		RightBackwardPin:      ptr(22),
		HeaterPin:             ptr(23),
		SprayerPin:            ptr(26),
		EchoPin:               ptr(25),
		TriggerPin:            ptr(24),
		PWMFrequencyHz:        ptr(DefaultPWMFrequencyHz),
		JournalPath:           ptr(DefaultJournalPath),
		Listen:                ptr(DefaultListen),
		HealthListen:          ptr(DefaultHealthListen),
	}
}

// LoadConfig loads a Config from a JSON or YAML file, chosen by extension
// (.json, .yaml or .yml). The file must be under 1MB. Fields omitted from
// the file fall back to defaults through the Get* accessors.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	var unmarshal func([]byte, interface{}) error
	switch ext {
	case ".json":
		unmarshal = json.Unmarshal
	case ".yaml", ".yml":
		unmarshal = yaml.Unmarshal
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", ext, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *Config) Validate() error {
	for name, v := range map[string]*float64{
		"forward_speed": c.ForwardSpeed,
		"turn_speed":    c.TurnSpeed,
	} {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *v)
		}
	}

	if c.ProximityThresholdM != nil && *c.ProximityThresholdM <= 0 {
		return fmt.Errorf("proximity_threshold_m must be positive, got %f", *c.ProximityThresholdM)
	}
	if c.GetProximityThresholdM() > c.GetProximityMaxDistanceM() {
		return fmt.Errorf("proximity_threshold_m %.2f exceeds proximity_max_distance_m %.2f",
			c.GetProximityThresholdM(), c.GetProximityMaxDistanceM())
	}

	if c.SettleDuration != nil && *c.SettleDuration != "" {
		d, err := time.ParseDuration(*c.SettleDuration)
		if err != nil {
			return fmt.Errorf("invalid settle_duration '%s': %w", *c.SettleDuration, err)
		}
		if d < 0 {
			return fmt.Errorf("settle_duration must be non-negative, got %s", d)
		}
	}

	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("navigation: %w", err)
	}

	if c.ScannerMinPoints != nil && *c.ScannerMinPoints < 0 {
		return fmt.Errorf("scanner_min_points must be non-negative, got %d", *c.ScannerMinPoints)
	}
	if c.ScannerMotorPWM != nil && (*c.ScannerMotorPWM < 0 || *c.ScannerMotorPWM > 1023) {
		return fmt.Errorf("scanner_motor_pwm must be between 0 and 1023, got %d", *c.ScannerMotorPWM)
	}
	if c.PWMFrequencyHz != nil && *c.PWMFrequencyHz <= 0 {
		return fmt.Errorf("pwm_frequency_hz must be positive, got %d", *c.PWMFrequencyHz)
	}

	seen := make(map[int]string)
	for name, pin := range c.Pins() {
		if pin < 0 || pin > 27 {
			return fmt.Errorf("%s must be a BCM pin between 0 and 27, got %d", name, pin)
		}
		if other, dup := seen[pin]; dup {
			return fmt.Errorf("%s and %s share BCM pin %d", name, other, pin)
		}
		seen[pin] = name
	}

	return nil
}

// Pins returns the resolved GPIO wiring keyed by config field name.
func (c *Config) Pins() map[string]int {
	return map[string]int{
		"left_forward_pin":   orDefault(c.LeftForwardPin, 17),
		"left_backward_pin":  orDefault(c.LeftBackwardPin, 18),
		"right_forward_pin":  orDefault(c.RightForwardPin, 27),
		"right_backward_pin": orDefault(c.RightBackwardPin, 22),
		"heater_pin":         orDefault(c.HeaterPin, 23),
		"sprayer_pin":        orDefault(c.SprayerPin, 26),
		"echo_pin":           orDefault(c.EchoPin, 25),
		"trigger_pin":        orDefault(c.TriggerPin, 24),
	}
}

// Pin returns a single resolved pin by config field name.
func (c *Config) Pin(name string) int {
	return c.Pins()[name]
}

// Policy returns the navigation policy described by the configuration.
func (c *Config) Policy() navigation.Policy {
	return navigation.Policy{
		ForwardArc: scan.Arc{
			Start: orDefault(c.ArcStartDeg, navigation.DefaultArcStart),
			End:   orDefault(c.ArcEndDeg, navigation.DefaultArcEnd),
		},
		MaxDistance: orDefault(c.ObstacleDistanceMM, navigation.DefaultObstacleRangeMM),
	}
}

// GetSettleDuration parses and returns SettleDuration.
func (c *Config) GetSettleDuration() time.Duration {
	if c.SettleDuration == nil || *c.SettleDuration == "" {
		return DefaultSettleDuration
	}
	d, err := time.ParseDuration(*c.SettleDuration)
	if err != nil {
		return DefaultSettleDuration // default on parse error
	}
	return d
}

func (c *Config) GetScannerPort() string   { return orDefault(c.ScannerPort, DefaultScannerPort) }
func (c *Config) GetScannerBaudRate() int  { return orDefault(c.ScannerBaudRate, DefaultScannerBaudRate) }
func (c *Config) GetScannerMinPoints() int { return orDefault(c.ScannerMinPoints, DefaultScannerMinPoints) }
func (c *Config) GetScannerMotorPWM() int  { return orDefault(c.ScannerMotorPWM, DefaultScannerMotorPWM) }
func (c *Config) GetForwardSpeed() float64 { return orDefault(c.ForwardSpeed, DefaultForwardSpeed) }
func (c *Config) GetTurnSpeed() float64    { return orDefault(c.TurnSpeed, DefaultTurnSpeed) }
func (c *Config) GetPWMFrequencyHz() int   { return orDefault(c.PWMFrequencyHz, DefaultPWMFrequencyHz) }
func (c *Config) GetJournalPath() string   { return orDefault(c.JournalPath, DefaultJournalPath) }
func (c *Config) GetListen() string        { return orDefault(c.Listen, DefaultListen) }
func (c *Config) GetHealthListen() string  { return orDefault(c.HealthListen, DefaultHealthListen) }

func (c *Config) GetProximityThresholdM() float64 {
	return orDefault(c.ProximityThresholdM, DefaultProximityThresholdM)
}

func (c *Config) GetProximityMaxDistanceM() float64 {
	return orDefault(c.ProximityMaxDistanceM, DefaultProximityMaxDistanceM)
}
