package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, cfg.CameraSources)
	assert.Equal(t, 51, cfg.BlurKernel)
	assert.Equal(t, 30, cfg.TargetFPS)
	assert.Equal(t, 5*time.Minute, cfg.RecordingDuration())
	assert.True(t, cfg.EvidenceDetectionOnly)
	assert.Equal(t, EncryptionAuto, cfg.EvidenceEncryption)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CAMERA_SOURCES", "0, rtsp://cam/stream ,")
	t.Setenv("TARGET_FPS", "15")
	t.Setenv("EVIDENCE_DETECTION_ONLY", "false")
	t.Setenv("MAX_STORAGE_GB", "0.5")
	t.Setenv("EVIDENCE_ENCRYPTION", "HYBRID")
	t.Setenv("BLUR_INTENSITY", "not a number")
	t.Setenv("API_TOKEN", "s3cret")
	t.Setenv("ENCRYPTION_PASSWORD", "correct horse")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "rtsp://cam/stream"}, cfg.CameraSources)
	assert.Equal(t, 15, cfg.TargetFPS)
	assert.False(t, cfg.EvidenceDetectionOnly)
	assert.Equal(t, int64(512*1024*1024), cfg.MaxStorageBytes())
	assert.Equal(t, EncryptionHybrid, cfg.EvidenceEncryption)
	assert.Equal(t, 51, cfg.BlurKernel)
	assert.Equal(t, "s3cret", cfg.APIToken)
	assert.Equal(t, "correct horse", cfg.EncryptionPassword)
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "edgevision.yaml")
	yamlData := []byte(`
camera_sources: ["1", "2"]
target_fps: 10
recording_duration_seconds: 60
evidence_jpeg_quality: 70
`)
	require.NoError(t, os.WriteFile(path, yamlData, 0644))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("TARGET_FPS", "12")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, cfg.CameraSources)
	assert.Equal(t, 12, cfg.TargetFPS)
	assert.Equal(t, time.Minute, cfg.RecordingDuration())
	assert.Equal(t, 70, cfg.EvidenceJPEGQuality)
}

func TestLoad_BadYAML(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target_fps: [oops"), 0644))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.ErrorIs(t, err, ErrConfig)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no cameras", func(c *Config) { c.CameraSources = nil }},
		{"zero fps", func(c *Config) { c.TargetFPS = 0 }},
		{"even blur kernel", func(c *Config) { c.BlurKernel = 50 }},
		{"jpeg quality too high", func(c *Config) { c.EvidenceJPEGQuality = 101 }},
		{"no evidence path", func(c *Config) { c.EvidenceRecordingsPath = "" }},
		{"unknown encryption", func(c *Config) { c.EvidenceEncryption = "rot13" }},
		{"negative storage", func(c *Config) { c.MaxStorageGB = -1 }},
		{"negative preroll", func(c *Config) { c.PrerollFrames = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}

	assert.NoError(t, Default().Validate())
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(oldwd); err != nil {
			t.Fatal(err)
		}
	})
}
