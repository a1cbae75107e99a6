package utils

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

/*
 * ============================================================================
 * .env 文件解析工具
 * ============================================================================
 *
 * 启动时先把 .env.<env> 中的变量写入进程环境（已存在的环境变量优先），
 * 之后由 viper 的 AutomaticEnv 统一读取 LINGCORE_* 变量。
 *
 * 支持的格式：
 *   # 注释
 *   KEY=value
 *   export KEY=value
 *   KEY="quoted value"
 *   KEY='single quoted'
 */

// EnvFileName 返回 env 对应的文件名，env 为空时为 .env
func EnvFileName(env string) string {
	if env == "" {
		return ".env"
	}
	return ".env." + env
}

// LoadEnv 加载 dir 下 env 对应的 .env 文件，返回实际写入环境的变量名。
// 文件不存在不报错（允许只使用环境变量）
func LoadEnv(dir, env string) ([]string, error) {
	path := filepath.Join(dir, EnvFileName(env))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}

	var applied []string
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return applied, errors.Wrapf(err, "setenv %s", key)
		}
		applied = append(applied, key)
	}
	return applied, nil
}

// parseEnvLine 解析一行 KEY=VALUE，空行和注释返回 ok=false
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimPrefix(line, "export ")

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}

	// 移除引号（如果存在）
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return key, value, true
}
