package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"trades-switch/internal/config"
)

func TestNewLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(config.LoggingConfig{Level: "loud", Encoding: "console"}, config.AppConfig{})
	require.Error(t, err)
}

func TestNewLogger_WritesJSONWithServiceFields(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:       "debug",
		Encoding:    "json",
		Development: true,
		OutputPaths: []string{out},
	}, config.AppConfig{Environment: "production"})
	require.NoError(t, err)

	logger.Info("仓位切换完成")
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"trades-switch"`)
	assert.Contains(t, string(data), `"environment":"production"`)
	assert.Contains(t, string(data), `"level":"info"`)
}

func TestNewLogger_SamplesOutsideDevelopment(t *testing.T) {
	out := filepath.Join(t.TempDir(), "app.log")

	logger, err := NewLogger(config.LoggingConfig{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{out},
	}, config.AppConfig{})
	require.NoError(t, err)

	for i := 0; i < 150; i++ {
		logger.Info("重复信号")
	}
	_ = logger.Sync()

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := 0
	for _, b := range data {
		if b == '\n' {
			lines++
		}
	}
	assert.Equal(t, 100, lines)
}

func TestMasked(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	zap.New(core).Info("凭证", Masked("api_key", "abcdef123456"), Masked("short", "abc"))

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "********3456", fields["api_key"])
	assert.Equal(t, "***", fields["short"])
}
