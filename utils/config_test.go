package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/code-100-precent/LingCore/structure"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig(NewViper(), "")
	require.NoError(t, err)

	assert.Equal(t, ":6380", cfg.Addr)
	assert.Equal(t, 16, cfg.DbNum)
	assert.Equal(t, 10, cfg.Hz)
	assert.True(t, cfg.ActiveRehashing)
	assert.Equal(t, 512, cfg.SetMaxIntsetEntries)
	assert.Equal(t, 64, cfg.HashMaxZiplistValue)
	assert.Equal(t, -2, cfg.ListFill)
	assert.EqualValues(t, structure.DICT_FORCE_RESIZE_RATIO, cfg.DictForceResizeRatio)
}

func TestLoadServerConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lingcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_num: 4
hz: 50
hash_max_ziplist_entries: 8
log_format: json
`), 0o644))
	t.Setenv("LINGCORE_HZ", "20")

	cfg, err := LoadServerConfig(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.DbNum)
	assert.Equal(t, 20, cfg.Hz, "environment overrides the file")
	assert.Equal(t, 8, cfg.HashMaxZiplistEntries)

	logger := cfg.NewLogger()
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func TestLoadServerConfigMissingFile(t *testing.T) {
	_, err := LoadServerConfig(NewViper(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *ServerConfig {
		cfg, err := LoadServerConfig(NewViper(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*ServerConfig)
	}{
		{"db_num", func(c *ServerConfig) { c.DbNum = 0 }},
		{"hz", func(c *ServerConfig) { c.Hz = -1 }},
		{"max_memory", func(c *ServerConfig) { c.MaxMemory = -1 }},
		{"force ratio", func(c *ServerConfig) { c.DictForceResizeRatio = 0 }},
		{"log level", func(c *ServerConfig) { c.LogLevel = "loud" }},
		{"log format", func(c *ServerConfig) { c.LogFormat = "xml" }},
		{"hash seed", func(c *ServerConfig) { c.HashSeed = "zz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseHashSeed(t *testing.T) {
	cfg := &ServerConfig{HashSeed: "000102030405060708090a0b0c0d0e0f"}
	seed, err := cfg.ParseHashSeed()
	require.NoError(t, err)
	assert.Equal(t, byte(0x0f), seed[15])

	cfg.HashSeed = "0001"
	_, err = cfg.ParseHashSeed()
	assert.Error(t, err)

	cfg.HashSeed = ""
	a, err := cfg.ParseHashSeed()
	require.NoError(t, err)
	b, err := cfg.ParseHashSeed()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestEncodingConfig(t *testing.T) {
	cfg, err := LoadServerConfig(NewViper(), "")
	require.NoError(t, err)
	cfg.DictForceResizeRatio = 7

	enc := cfg.EncodingConfig()
	assert.Equal(t, cfg.ListMaxZiplistEntries, enc.ListMaxZiplistEntries)
	assert.Equal(t, structure.DICT_RESIZE_ENABLE, enc.Resize.Policy)
	assert.EqualValues(t, 7, enc.Resize.ForceRatio)
	ha, ok := enc.Alloc.(*structure.HeapAllocator)
	require.True(t, ok)
	assert.Zero(t, ha.Limit())
}
