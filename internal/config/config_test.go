package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flowberry_config.txt")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
# flow sensor
FRAME_WIDTH=320
FRAME_HEIGHT = 240
GYRO_I2C_ADDR=0x6a
GYRO_RANGE=500
RANGEFINDER_ENABLED=false
RANSAC_THRESHOLD_PX=2.5
MQTT_BROKER=tcp://localhost:1883
WEB_SERVER_PORT=8080
DISPLAY_I2C_ADDR=0x3d
VECTOR_INPUT=synthetic
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 320, cfg.FrameWidth)
	assert.Equal(t, 240, cfg.FrameHeight)
	assert.Equal(t, uint16(0x6a), cfg.GyroI2CAddr)
	assert.Equal(t, 500, cfg.GyroRange)
	assert.False(t, cfg.RangefinderEnabled)
	assert.Equal(t, 2.5, cfg.RANSACThresholdPx)
	assert.Equal(t, 8080, cfg.WebServerPort)
	assert.Equal(t, uint16(0x3d), cfg.DisplayI2CAddr)
	assert.Equal(t, "synthetic", cfg.VectorInput)

	// untouched keys keep their defaults
	assert.Equal(t, 531.9335, cfg.GyroFocalConstant)
	assert.Equal(t, "192.168.42.42:14550", cfg.TelemetryUDPAddr)
	assert.Equal(t, 75, cfg.RANSACTrials)
	assert.Equal(t, "flowberry/flow", cfg.TopicFlow)
}

func TestLoadRejectsBadValues(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":   "NOPE=1\n",
		"no equals":     "FRAME_WIDTH\n",
		"bad range":     "GYRO_RANGE=250\n",
		"bad data rate": "GYRO_DATA_RATE=14\n",
		"bad bool":      "DISPLAY_ENABLED=maybe\n",
		"bad alpha":     "CAMERA_ALPHA=2\n",
		"bad address":   "DISPLAY_I2C_ADDR=zz\n",
		"missing port":  "RANGEFINDER_SERIAL_PORT=\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.txt"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "absent.txt"))
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "10ms", cfg.GyroPeriod().String())
	assert.Equal(t, "100ms", cfg.RangefinderPeriod().String())
	assert.Equal(t, "1s", cfg.Heartbeat().String())
}
