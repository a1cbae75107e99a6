package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/code-100-precent/LingCore/structure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

/*
 * ============================================================================
 * 配置管理
 * ============================================================================
 *
 * 优先级（从高到低）：命令行参数 > LINGCORE_* 环境变量 > 配置文件 > 默认值。
 * .env 文件只是环境变量的另一种来源。
 *
 * 配置项名称与 redis.conf 保持一致（把 - 换成 _）。
 */

// EnvPrefix 环境变量前缀，例如 LINGCORE_DB_NUM
const EnvPrefix = "LINGCORE"

// ServerConfig 服务器配置
type ServerConfig struct {
	Addr            string `mapstructure:"addr"`
	DbNum           int    `mapstructure:"db_num"`
	Hz              int    `mapstructure:"hz"`
	ActiveRehashing bool   `mapstructure:"active_rehashing"`
	LogLevel        string `mapstructure:"log_level"`
	LogFormat       string `mapstructure:"log_format"`
	MaxMemory       int64  `mapstructure:"max_memory"`
	HashSeed        string `mapstructure:"hash_seed"`

	ListMaxZiplistEntries int `mapstructure:"list_max_ziplist_entries"`
	ListMaxZiplistSize    int `mapstructure:"list_max_ziplist_size"`
	ListFill              int `mapstructure:"list_fill"`
	ListCompressDepth     int `mapstructure:"list_compress_depth"`
	SetMaxIntsetEntries   int `mapstructure:"set_max_intset_entries"`
	HashMaxZiplistEntries int `mapstructure:"hash_max_ziplist_entries"`
	HashMaxZiplistValue   int `mapstructure:"hash_max_ziplist_value"`

	DictForceResizeRatio uint64 `mapstructure:"dict_force_resize_ratio"`
}

// SetDefaults 注册所有配置项的默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":6380")
	v.SetDefault("db_num", 16)
	v.SetDefault("hz", 10)
	v.SetDefault("active_rehashing", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("max_memory", 0)
	v.SetDefault("hash_seed", "")

	v.SetDefault("list_max_ziplist_entries", 512)
	v.SetDefault("list_max_ziplist_size", 8192)
	v.SetDefault("list_fill", -2)
	v.SetDefault("list_compress_depth", 0)
	v.SetDefault("set_max_intset_entries", 512)
	v.SetDefault("hash_max_ziplist_entries", 512)
	v.SetDefault("hash_max_ziplist_value", 64)

	v.SetDefault("dict_force_resize_ratio", structure.DICT_FORCE_RESIZE_RATIO)
}

// NewViper 创建带默认值并读取 LINGCORE_* 环境变量的 viper
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServerConfig 读取配置，configFile 为空时只使用默认值和环境变量
func LoadServerConfig(v *viper.Viper, configFile string) (*ServerConfig, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config file %s", configFile)
		}
	}

	cfg := &ServerConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置取值范围
func (c *ServerConfig) Validate() error {
	if c.DbNum <= 0 {
		return errors.Errorf("db_num must be positive, got %d", c.DbNum)
	}
	if c.Hz <= 0 {
		return errors.Errorf("hz must be positive, got %d", c.Hz)
	}
	if c.MaxMemory < 0 {
		return errors.Errorf("max_memory must not be negative, got %d", c.MaxMemory)
	}
	if c.DictForceResizeRatio == 0 {
		return errors.New("dict_force_resize_ratio must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return errors.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if _, err := c.ParseHashSeed(); err != nil {
		return err
	}
	return nil
}

// ParseHashSeed 解析 32 位十六进制的哈希种子，为空时随机生成
func (c *ServerConfig) ParseHashSeed() ([16]byte, error) {
	var seed [16]byte
	if c.HashSeed == "" {
		if _, err := rand.Read(seed[:]); err != nil {
			return seed, errors.Wrap(err, "generate hash seed")
		}
		return seed, nil
	}
	raw, err := hex.DecodeString(c.HashSeed)
	if err != nil || len(raw) != len(seed) {
		return seed, errors.Errorf("hash_seed must be %d hex characters", len(seed)*2)
	}
	copy(seed[:], raw)
	return seed, nil
}

// EncodingConfig 按配置创建编码阈值。max_memory 是软限制，由 storage 检查，
// 分配器本身不设上限
func (c *ServerConfig) EncodingConfig() *structure.EncodingConfig {
	return &structure.EncodingConfig{
		ListMaxZiplistEntries: c.ListMaxZiplistEntries,
		ListMaxZiplistSize:    c.ListMaxZiplistSize,
		ListFill:              c.ListFill,
		ListCompressDepth:     c.ListCompressDepth,
		SetMaxIntsetEntries:   c.SetMaxIntsetEntries,
		HashMaxZiplistEntries: c.HashMaxZiplistEntries,
		HashMaxZiplistValue:   c.HashMaxZiplistValue,
		Alloc:                 structure.NewHeapAllocator(0),
		Resize: &structure.ResizeConfig{
			Policy:     structure.DICT_RESIZE_ENABLE,
			ForceRatio: c.DictForceResizeRatio,
		},
	}
}

// NewLogger 按配置创建 logrus 日志
func (c *ServerConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
