package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAGE_SIZE", "")
	t.Setenv("MAX_EXTRACT_DEPTH", "")
	t.Setenv("GIN_MODE", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "A4", cfg.PageSize)
	assert.Equal(t, 10, cfg.MaxExtractDepth)
	assert.Equal(t, 2480, cfg.MaxImageWidth)
	assert.Equal(t, 3508, cfg.MaxImageHeight)
	assert.Equal(t, 24*time.Hour, cfg.UploadRetention)
	assert.Contains(t, cfg.AllowedExtensions, "7z")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAGE_SIZE", "Letter")
	t.Setenv("FETCH_BACKOFF", "250ms")
	t.Setenv("ALLOWED_EXTENSIONS", ".ZIP, rar ,")
	t.Setenv("OPTIMIZE_PDF", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "Letter", cfg.PageSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FetchBackoff)
	assert.Equal(t, []string{"zip", "rar"}, cfg.AllowedExtensions)
	assert.True(t, cfg.OptimizePDF)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			GinMode:        "debug",
			DataDir:        "data",
			MaxImageWidth:  10,
			MaxImageHeight: 10,
			PageSize:       "A4",
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.GinMode = "release"
	assert.Error(t, cfg.Validate(), "release mode requires a session secret")

	cfg = base()
	cfg.PageSize = "A3"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.MaxExtractDepth = -1
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ZipNameEncoding = "latin1"
	assert.Error(t, cfg.Validate())
}
