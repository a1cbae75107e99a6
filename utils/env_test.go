package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	content := `
# Test comment
LINGCORE_TEST_KEY=test_value
export LINGCORE_TEST_INT=123
LINGCORE_TEST_STRING="quoted string"
LINGCORE_TEST_STRING2='single quoted'
LINGCORE_TEST_EXISTING=from_file
not a pair
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.test"), []byte(content), 0o644))

	t.Setenv("LINGCORE_TEST_EXISTING", "from_env")
	for _, k := range []string{"LINGCORE_TEST_KEY", "LINGCORE_TEST_INT", "LINGCORE_TEST_STRING", "LINGCORE_TEST_STRING2"} {
		// 注册清理，测试结束后恢复
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	applied, err := LoadEnv(dir, "test")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"LINGCORE_TEST_KEY", "LINGCORE_TEST_INT", "LINGCORE_TEST_STRING", "LINGCORE_TEST_STRING2",
	}, applied)

	assert.Equal(t, "test_value", os.Getenv("LINGCORE_TEST_KEY"))
	assert.Equal(t, "123", os.Getenv("LINGCORE_TEST_INT"))
	assert.Equal(t, "quoted string", os.Getenv("LINGCORE_TEST_STRING"))
	assert.Equal(t, "single quoted", os.Getenv("LINGCORE_TEST_STRING2"))
	assert.Equal(t, "from_env", os.Getenv("LINGCORE_TEST_EXISTING"))
}

func TestLoadEnvMissingFile(t *testing.T) {
	applied, err := LoadEnv(t.TempDir(), "nope")
	assert.NoError(t, err)
	assert.Empty(t, applied)
}

func TestEnvFileName(t *testing.T) {
	assert.Equal(t, ".env", EnvFileName(""))
	assert.Equal(t, ".env.prod", EnvFileName("prod"))
}

func TestParseEnvLine(t *testing.T) {
	tests := []struct {
		line  string
		key   string
		value string
		ok    bool
	}{
		{"", "", "", false},
		{"# comment", "", "", false},
		{"KEY=value", "KEY", "value", true},
		{"  KEY = value  ", "KEY", "value", true},
		{"export KEY=v", "KEY", "v", true},
		{`KEY="a=b"`, "KEY", "a=b", true},
		{"KEY=", "KEY", "", true},
		{"=value", "", "", false},
		{"novalue", "", "", false},
	}
	for _, tt := range tests {
		key, value, ok := parseEnvLine(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.Equal(t, tt.key, key, tt.line)
		assert.Equal(t, tt.value, value, tt.line)
	}
}
