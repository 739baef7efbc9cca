package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfig marks configuration that cannot be used to start the system.
var ErrConfig = errors.New("invalid configuration")

// Evidence encryption modes.
const (
	EncryptionAuto      = "auto"
	EncryptionHybrid    = "hybrid"
	EncryptionSymmetric = "symmetric"
)

type Config struct {
	Port     int    `yaml:"port"`
	APIToken string `yaml:"api_token"` // empty locks every API route

	CameraSources       []string `yaml:"camera_sources"`
	Device              string   `yaml:"device"`
	ModelPath           string   `yaml:"model_path"`
	ModelConfigPath     string   `yaml:"model_config_path"`
	DetectionConfidence float64  `yaml:"detection_confidence"`
	BlurKernel          int      `yaml:"blur_intensity"` // Gaussian kernel size, must be odd
	FrameWidth          int      `yaml:"frame_width"`
	FrameHeight         int      `yaml:"frame_height"`
	TargetFPS           int      `yaml:"target_fps"`

	RecordingDurationSeconds int  `yaml:"recording_duration_seconds"`
	EvidenceDetectionOnly    bool `yaml:"evidence_detection_only"`
	EvidenceJPEGQuality      int  `yaml:"evidence_jpeg_quality"`
	PrerollFrames            int  `yaml:"preroll_frames"`

	PublicRecordingsPath   string `yaml:"public_recordings_path"`
	EvidenceRecordingsPath string `yaml:"evidence_recordings_path"`

	EncryptionKeyPath  string `yaml:"encryption_key_path"`
	EncryptionPassword string `yaml:"encryption_password"` // derive the master key instead of reading it
	RSAPublicKeyPath   string `yaml:"rsa_public_key_path"`
	RSAPrivateKeyPath  string `yaml:"rsa_private_key_path"`
	EvidenceEncryption string `yaml:"evidence_encryption"` // auto, hybrid or symmetric

	MaxStorageGB             float64 `yaml:"max_storage_gb"` // 0 disables retention
	RetentionIntervalSeconds int     `yaml:"retention_interval_seconds"`
	RetentionEvictEvidence   bool    `yaml:"retention_evict_evidence"`

	DatabasePath string `yaml:"db_path"`
	LogDirectory string `yaml:"log_dir"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:                     8080,
		CameraSources:            []string{"0"},
		Device:                   "cpu",
		ModelPath:                filepath.Join(".", "models", "frozen_inference_graph.pb"),
		ModelConfigPath:          filepath.Join(".", "models", "ssd_mobilenet_v1_coco.pbtxt"),
		DetectionConfidence:      0.5,
		BlurKernel:               51,
		FrameWidth:               1280,
		FrameHeight:              720,
		TargetFPS:                30,
		RecordingDurationSeconds: 300,
		EvidenceDetectionOnly:    true,
		EvidenceJPEGQuality:      85,
		PrerollFrames:            30,
		PublicRecordingsPath:     filepath.Join(".", "recordings", "public"),
		EvidenceRecordingsPath:   filepath.Join(".", "recordings", "evidence"),
		EncryptionKeyPath:        filepath.Join(".", "keys", "master.key"),
		RSAPublicKeyPath:         filepath.Join(".", "keys", "rsa_public.pem"),
		RSAPrivateKeyPath:        filepath.Join(".", "keys", "rsa_private.pem"),
		EvidenceEncryption:       EncryptionAuto,
		MaxStorageGB:             50,
		RetentionIntervalSeconds: 60,
		RetentionEvictEvidence:   true,
		DatabasePath:             filepath.Join(".", "data", "recordings.db"),
		LogDirectory:             filepath.Join(".", "logs"),
	}
}

// Load builds the configuration from defaults, an optional YAML file named
// by CONFIG_FILE, and environment variables (a .env file is read first if
// present). Environment variables win.
func Load() (*Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %v: %w", path, err, ErrConfig)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.APIToken = getEnv("API_TOKEN", c.APIToken)
	c.CameraSources = getEnvAsList("CAMERA_SOURCES", c.CameraSources)
	c.Device = getEnv("DEVICE", c.Device)
	c.ModelPath = getEnv("MODEL_PATH", c.ModelPath)
	c.ModelConfigPath = getEnv("MODEL_CONFIG_PATH", c.ModelConfigPath)
	c.DetectionConfidence = getEnvAsFloat("DETECTION_CONFIDENCE", c.DetectionConfidence)
	c.BlurKernel = getEnvAsInt("BLUR_INTENSITY", c.BlurKernel)
	c.FrameWidth = getEnvAsInt("FRAME_WIDTH", c.FrameWidth)
	c.FrameHeight = getEnvAsInt("FRAME_HEIGHT", c.FrameHeight)
	c.TargetFPS = getEnvAsInt("TARGET_FPS", c.TargetFPS)
	c.RecordingDurationSeconds = getEnvAsInt("RECORDING_DURATION_SECONDS", c.RecordingDurationSeconds)
	c.EvidenceDetectionOnly = getEnvAsBool("EVIDENCE_DETECTION_ONLY", c.EvidenceDetectionOnly)
	c.EvidenceJPEGQuality = getEnvAsInt("EVIDENCE_JPEG_QUALITY", c.EvidenceJPEGQuality)
	c.PrerollFrames = getEnvAsInt("PREROLL_FRAMES", c.PrerollFrames)
	c.PublicRecordingsPath = getEnv("PUBLIC_RECORDINGS_PATH", c.PublicRecordingsPath)
	c.EvidenceRecordingsPath = getEnv("EVIDENCE_RECORDINGS_PATH", c.EvidenceRecordingsPath)
	c.EncryptionKeyPath = getEnv("ENCRYPTION_KEY_PATH", c.EncryptionKeyPath)
	c.EncryptionPassword = getEnv("ENCRYPTION_PASSWORD", c.EncryptionPassword)
	c.RSAPublicKeyPath = getEnv("RSA_PUBLIC_KEY_PATH", c.RSAPublicKeyPath)
	c.RSAPrivateKeyPath = getEnv("RSA_PRIVATE_KEY_PATH", c.RSAPrivateKeyPath)
	c.EvidenceEncryption = strings.ToLower(getEnv("EVIDENCE_ENCRYPTION", c.EvidenceEncryption))
	c.MaxStorageGB = getEnvAsFloat("MAX_STORAGE_GB", c.MaxStorageGB)
	c.RetentionIntervalSeconds = getEnvAsInt("RETENTION_INTERVAL_SECONDS", c.RetentionIntervalSeconds)
	c.RetentionEvictEvidence = getEnvAsBool("RETENTION_EVICT_EVIDENCE", c.RetentionEvictEvidence)
	c.DatabasePath = getEnv("DB_PATH", c.DatabasePath)
	c.LogDirectory = getEnv("LOG_DIR", c.LogDirectory)
}

// Validate reports the first setting that would prevent startup.
func (c *Config) Validate() error {
	switch {
	case len(c.CameraSources) == 0:
		return fmt.Errorf("no camera sources configured: %w", ErrConfig)
	case c.TargetFPS <= 0:
		return fmt.Errorf("target fps must be positive, got %d: %w", c.TargetFPS, ErrConfig)
	case c.BlurKernel <= 0 || c.BlurKernel%2 == 0:
		return fmt.Errorf("blur kernel must be a positive odd number, got %d: %w", c.BlurKernel, ErrConfig)
	case c.EvidenceJPEGQuality < 1 || c.EvidenceJPEGQuality > 100:
		return fmt.Errorf("jpeg quality must be in 1..100, got %d: %w", c.EvidenceJPEGQuality, ErrConfig)
	case c.FrameWidth <= 0 || c.FrameHeight <= 0:
		return fmt.Errorf("frame size must be positive, got %dx%d: %w", c.FrameWidth, c.FrameHeight, ErrConfig)
	case c.RecordingDurationSeconds <= 0:
		return fmt.Errorf("recording duration must be positive: %w", ErrConfig)
	case c.PrerollFrames < 0:
		return fmt.Errorf("preroll frames must not be negative: %w", ErrConfig)
	case c.PublicRecordingsPath == "" || c.EvidenceRecordingsPath == "":
		return fmt.Errorf("recording paths are required: %w", ErrConfig)
	case c.EncryptionKeyPath == "" && c.RSAPublicKeyPath == "":
		return fmt.Errorf("an encryption key path is required: %w", ErrConfig)
	case c.MaxStorageGB < 0:
		return fmt.Errorf("max storage must not be negative: %w", ErrConfig)
	}

	switch c.EvidenceEncryption {
	case EncryptionAuto, EncryptionHybrid, EncryptionSymmetric:
	default:
		return fmt.Errorf("unknown evidence encryption %q: %w", c.EvidenceEncryption, ErrConfig)
	}
	return nil
}

// RecordingDuration is the rotation window for public and evidence files.
func (c *Config) RecordingDuration() time.Duration {
	return time.Duration(c.RecordingDurationSeconds) * time.Second
}

// RetentionInterval is the period between retention passes.
func (c *Config) RetentionInterval() time.Duration {
	if c.RetentionIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.RetentionIntervalSeconds) * time.Second
}

// MaxStorageBytes converts MaxStorageGB to bytes.
func (c *Config) MaxStorageBytes() int64 {
	return int64(c.MaxStorageGB * 1024 * 1024 * 1024)
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
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated value, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
