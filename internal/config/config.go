// Package config loads duocam settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds every tunable of the dual-stream pipeline.
type Config struct {
	FrontDeviceID int `validate:"gte=0,nefield=RearDeviceID"`
	RearDeviceID  int `validate:"gte=0"`
	FrameWidth    int `validate:"gt=0"`
	FrameHeight   int `validate:"gt=0"`
	CaptureFPS    int `validate:"gt=0,lte=120"`

	// MaxDetectFPS throttles detection per stream; 0 runs at capture rate.
	MaxDetectFPS float64 `validate:"finite,gte=0"`
	// DetectTimeout bounds a callback-based detection.
	DetectTimeout time.Duration `validate:"gt=0"`
	MaxHands      int           `validate:"gte=1,lte=2"`
	FaceCascade   string
	// MediaPipeScript overrides the search for mediapipe_service.py.
	MediaPipeScript string

	ViewportWidth  float64 `validate:"finite,gt=0"`
	ViewportHeight float64 `validate:"finite,gt=0"`

	RecoveryAttempts int           `validate:"gte=0,lte=10"`
	RecoveryBackoff  time.Duration `validate:"gte=0"`

	HTTPAddr      string `validate:"required"`
	DataDir       string `validate:"required"`
	LogDir        string
	LogLevel      string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	StatsInterval time.Duration `validate:"gt=0"`
	Tray          bool

	// Retention is how long finished runs stay in the journal; 0 keeps them.
	Retention time.Duration `validate:"gte=0"`
}

// DBPath returns the telemetry database location inside DataDir.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "duocam.db")
}

// Load reads envFile (if it exists) into the process environment and builds
// a Config from DUOCAM_* variables, falling back to defaults.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	cfg := &Config{
		FrontDeviceID:    getEnvAsInt("DUOCAM_FRONT_DEVICE", 1),
		RearDeviceID:     getEnvAsInt("DUOCAM_REAR_DEVICE", 0),
		FrameWidth:       getEnvAsInt("DUOCAM_FRAME_WIDTH", 640),
		FrameHeight:      getEnvAsInt("DUOCAM_FRAME_HEIGHT", 480),
		CaptureFPS:       getEnvAsInt("DUOCAM_CAPTURE_FPS", 30),
		MaxDetectFPS:     getEnvAsFloat("DUOCAM_MAX_DETECT_FPS", 0),
		DetectTimeout:    getEnvAsDuration("DUOCAM_DETECT_TIMEOUT", 250*time.Millisecond),
		MaxHands:         getEnvAsInt("DUOCAM_MAX_HANDS", 2),
		FaceCascade:      getEnv("DUOCAM_FACE_CASCADE", ""),
		MediaPipeScript:  getEnv("DUOCAM_MEDIAPIPE_SCRIPT", ""),
		ViewportWidth:    getEnvAsFloat("DUOCAM_VIEWPORT_WIDTH", 390),
		ViewportHeight:   getEnvAsFloat("DUOCAM_VIEWPORT_HEIGHT", 422),
		RecoveryAttempts: getEnvAsInt("DUOCAM_RECOVERY_ATTEMPTS", 3),
		RecoveryBackoff:  getEnvAsDuration("DUOCAM_RECOVERY_BACKOFF", 500*time.Millisecond),
		HTTPAddr:         getEnv("DUOCAM_HTTP_ADDR", ":8080"),
		DataDir:          getEnv("DUOCAM_DATA_DIR", filepath.Join(home, ".duocam")),
		LogDir:           getEnv("DUOCAM_LOG_DIR", ""),
		LogLevel:         getEnv("DUOCAM_LOG_LEVEL", "info"),
		StatsInterval:    getEnvAsDuration("DUOCAM_STATS_INTERVAL", 10*time.Second),
		Retention:        getEnvAsDuration("DUOCAM_RETENTION", 30*24*time.Hour),
		Tray:             getEnvAsBool("DUOCAM_TRAY", false),
	}

	return cfg, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// strconv accepts "Inf" and "NaN"; neither is a usable size or rate.
	v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsInf(f, 0) && !math.IsNaN(f)
	})
	return v
}

// Validate checks field constraints after flags have been applied.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q", first.Field(), first.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
