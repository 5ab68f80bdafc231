package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.NotEmpty(t, cfg.TimeFormat)
}

func TestProductionConfig(t *testing.T) {
	cfg := ProductionConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "console format", config: DefaultConfig()},
		{name: "json format", config: ProductionConfig()},
		{
			name: "debug level to stderr",
			config: &Config{
				Level:      "debug",
				Format:     "json",
				Output:     "stderr",
				TimeFormat: "2006-01-02T15:04:05Z07:00",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			require.NoError(t, err)
			require.NotNil(t, logger)

			logger.Info("test message")
		})
	}
}

func TestConfigLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"unknown", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{Level: tt.level}
			assert.Equal(t, tt.expected, cfg.level())
		})
	}
}

func TestConfigSinkFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	cfg := &Config{Output: path}

	writer := cfg.sink()
	require.NotNil(t, writer)

	_, err := writer.Write([]byte("test log entry\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Sync())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "test log entry")
}

func TestConfigSinkFallsBackToStdout(t *testing.T) {
	// An unopenable path must not silence the logger.
	cfg := &Config{Output: filepath.Join(t.TempDir(), "missing", "nested", "app.log")}

	writer := cfg.sink()
	require.NotNil(t, writer)
}

func TestSync(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)

	// Sync on stdout may return EINVAL depending on the platform, so only
	// assert it does not panic.
	_ = Sync(logger)
}

func TestLogLevelsDoNotPanic(t *testing.T) {
	cfg := &Config{Level: "debug", Format: "json", Output: "stdout", TimeFormat: "15:04:05"}
	logger, err := New(cfg)
	require.NoError(t, err)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")
}
