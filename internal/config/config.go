package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultPath is the configuration file looked up when none is given.
const DefaultPath = "flowberry_config.txt"

// Config holds all application configuration values.
type Config struct {
	// Camera frame
	FrameWidth  int
	FrameHeight int

	// Capture inputs (raw buffers from the camera's inline vector output)
	VectorInput string
	FrameInput  string

	// Gyro (L3GD20H on I2C)
	GyroI2CBus         string
	GyroI2CAddr        uint16
	GyroRange          int  // 245, 500 or 2000 dps
	GyroDataRate       int  // 0-13, see sensors.GyroDataRate
	GyroLowPass        bool // route the low-pass filtered output
	GyroHighPass       bool
	GyroSampleInterval int // milliseconds
	GyroCalibPath      string
	// GyroFocalConstant converts tan(rotation) into a pixel shift.
	GyroFocalConstant float64

	// Rangefinder (serial sonar)
	RangefinderEnabled        bool
	RangefinderSerialPort     string
	RangefinderBaudRate       int
	RangefinderSampleInterval int // milliseconds

	// Lens
	CameraCalibPath string
	CameraAlpha     float64 // 0 crops to valid pixels, 1 keeps all source pixels

	// Estimator
	RANSACTrials      int
	RANSACStreams     int
	RANSACThresholdPx float64

	// Telemetry
	PixelToMeter         float64 // pixel displacement to radians of flow
	TelemetryUDPAddr     string
	TelemetrySystemID    int
	TelemetryComponentID int
	TelemetrySensorID    int
	HeartbeatInterval    int // milliseconds

	// MQTT mirror (disabled when MQTTBroker is empty)
	MQTTBroker          string
	MQTTClientIDFlow    string
	MQTTClientIDConsole string
	TopicFlow           string

	// Web Server (disabled when 0)
	WebServerPort int

	// Display
	DisplayEnabled        bool
	DisplayI2CBus         string
	DisplayI2CAddr        uint16
	DisplayUpdateInterval int // milliseconds
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		FrameWidth:  640,
		FrameHeight: 480,

		GyroI2CBus:         "/dev/i2c-1",
		GyroI2CAddr:        0x6b,
		GyroRange:          245,
		GyroDataRate:       4,
		GyroLowPass:        true,
		GyroSampleInterval: 10,
		GyroCalibPath:      "gyro_calib.txt",
		GyroFocalConstant:  531.9335,

		RangefinderEnabled:        true,
		RangefinderSerialPort:     "/dev/ttyAMA0",
		RangefinderBaudRate:       9600,
		RangefinderSampleInterval: 100,

		CameraCalibPath: "camera_calib.json",
		CameraAlpha:     1,

		RANSACTrials:      75,
		RANSACStreams:     3,
		RANSACThresholdPx: 1.5,

		PixelToMeter:         0.0019,
		TelemetryUDPAddr:     "192.168.42.42:14550",
		TelemetrySystemID:    1,
		TelemetryComponentID: 42,
		TelemetrySensorID:    68,
		HeartbeatInterval:    1000,

		MQTTClientIDFlow:    "flowberry",
		MQTTClientIDConsole: "flowberry-console",
		TopicFlow:           "flowberry/flow",

		DisplayI2CBus:         "/dev/i2c-1",
		DisplayI2CAddr:        0x3c,
		DisplayUpdateInterval: 200,
	}
}

// Package-level unexported variables for singleton pattern:
//   - globalConfig: only reachable through InitGlobal and Get.
//   - configOnce: ensures InitGlobal() only runs once, even if called multiple times.
//   - configMu: RWMutex, write lock for initialization, read lock for Get().
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Load reads the configuration file on top of the defaults.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		log.Printf("config: WARNING: %s not found, using defaults", configPath)
		return Default(), nil
	}
	return cfg, err
}

func parseInt(key, value string, lo, hi int) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, v)
	}
	return v, nil
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseBool(key, value string) (bool, error) {
	v, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	var err error
	switch key {
	// Camera frame
	case "FRAME_WIDTH":
		c.FrameWidth, err = parseInt(key, value, 16, 4096)
	case "FRAME_HEIGHT":
		c.FrameHeight, err = parseInt(key, value, 16, 4096)
	case "VECTOR_INPUT":
		c.VectorInput = value
	case "FRAME_INPUT":
		c.FrameInput = value

	// Gyro
	case "GYRO_I2C_BUS":
		c.GyroI2CBus = value
	case "GYRO_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid GYRO_I2C_ADDR %q: %w", value, perr)
		}
		c.GyroI2CAddr = uint16(addr)
	case "GYRO_RANGE":
		c.GyroRange, err = parseInt(key, value, 0, 2000)
		if err == nil && c.GyroRange != 245 && c.GyroRange != 500 && c.GyroRange != 2000 {
			err = fmt.Errorf("GYRO_RANGE must be 245, 500 or 2000 (°/s), got %d", c.GyroRange)
		}
	case "GYRO_DATA_RATE":
		c.GyroDataRate, err = parseInt(key, value, 0, 13)
	case "GYRO_LOWPASS":
		c.GyroLowPass, err = parseBool(key, value)
	case "GYRO_HIGHPASS":
		c.GyroHighPass, err = parseBool(key, value)
	case "GYRO_SAMPLE_INTERVAL":
		c.GyroSampleInterval, err = parseInt(key, value, 1, 10000)
	case "GYRO_CALIB_PATH":
		c.GyroCalibPath = value
	case "GYRO_FOCAL_CONSTANT":
		c.GyroFocalConstant, err = parseFloat(key, value)

	// Rangefinder
	case "RANGEFINDER_ENABLED":
		c.RangefinderEnabled, err = parseBool(key, value)
	case "RANGEFINDER_SERIAL_PORT":
		c.RangefinderSerialPort = value
	case "RANGEFINDER_BAUD_RATE":
		c.RangefinderBaudRate, err = parseInt(key, value, 1, 4000000)
	case "RANGEFINDER_SAMPLE_INTERVAL":
		c.RangefinderSampleInterval, err = parseInt(key, value, 1, 10000)

	// Lens
	case "CAMERA_CALIB_PATH":
		c.CameraCalibPath = value
	case "CAMERA_ALPHA":
		c.CameraAlpha, err = parseFloat(key, value)
		if err == nil && (c.CameraAlpha < 0 || c.CameraAlpha > 1) {
			err = fmt.Errorf("CAMERA_ALPHA must be 0-1, got %g", c.CameraAlpha)
		}

	// Estimator
	case "RANSAC_TRIALS":
		c.RANSACTrials, err = parseInt(key, value, 1, 100000)
	case "RANSAC_STREAMS":
		c.RANSACStreams, err = parseInt(key, value, 1, 64)
	case "RANSAC_THRESHOLD_PX":
		c.RANSACThresholdPx, err = parseFloat(key, value)

	// Telemetry
	case "PIXEL_TO_METER":
		c.PixelToMeter, err = parseFloat(key, value)
	case "TELEMETRY_UDP_ADDR":
		c.TelemetryUDPAddr = value
	case "TELEMETRY_SYSTEM_ID":
		c.TelemetrySystemID, err = parseInt(key, value, 0, 255)
	case "TELEMETRY_COMPONENT_ID":
		c.TelemetryComponentID, err = parseInt(key, value, 0, 255)
	case "TELEMETRY_SENSOR_ID":
		c.TelemetrySensorID, err = parseInt(key, value, 0, 255)
	case "HEARTBEAT_INTERVAL":
		c.HeartbeatInterval, err = parseInt(key, value, 1, 60000)

	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_FLOW":
		c.MQTTClientIDFlow = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "TOPIC_FLOW":
		c.TopicFlow = value

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value, 0, 65535)

	// Display
	case "DISPLAY_ENABLED":
		c.DisplayEnabled, err = parseBool(key, value)
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_I2C_ADDR":
		addr, perr := strconv.ParseUint(value, 0, 16)
		if perr != nil {
			return fmt.Errorf("invalid DISPLAY_I2C_ADDR %q: %w", value, perr)
		}
		c.DisplayI2CAddr = uint16(addr)
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value, 10, 60000)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// validate checks that all required fields are set.
func (c *Config) validate() error {
	if c.GyroI2CBus == "" {
		return fmt.Errorf("GYRO_I2C_BUS is required")
	}
	if c.RangefinderEnabled && c.RangefinderSerialPort == "" {
		return fmt.Errorf("RANGEFINDER_SERIAL_PORT is required when RANGEFINDER_ENABLED=true")
	}
	if c.RANSACThresholdPx <= 0 {
		return fmt.Errorf("RANSAC_THRESHOLD_PX must be positive")
	}
	if c.MQTTBroker != "" && c.TopicFlow == "" {
		return fmt.Errorf("TOPIC_FLOW is required when MQTT_BROKER is set")
	}
	if c.TelemetryUDPAddr == "" {
		return fmt.Errorf("TELEMETRY_UDP_ADDR is required")
	}
	return nil
}

// GyroPeriod is the gyro sampling period.
func (c *Config) GyroPeriod() time.Duration {
	return time.Duration(c.GyroSampleInterval) * time.Millisecond
}

// RangefinderPeriod is the rangefinder sampling period.
func (c *Config) RangefinderPeriod() time.Duration {
	return time.Duration(c.RangefinderSampleInterval) * time.Millisecond
}

// Heartbeat is the telemetry heartbeat period.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Millisecond
}

// DisplayPeriod is the OLED refresh period.
func (c *Config) DisplayPeriod() time.Duration {
	return time.Duration(c.DisplayUpdateInterval) * time.Millisecond
}

// InitGlobal initializes the global configuration from file, falling back to
// defaults when the file does not exist.
// Uses sync.Once to ensure this only runs once, even if called multiple times.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = LoadOrDefault(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
