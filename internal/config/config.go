// Package config 统一配置管理
//
// 配置加载策略：
//  1. 从 .env 加载敏感信息（密码、密钥）和 APP_ENV
//  2. 根据 APP_ENV 加载对应的 configs/{env}.yaml 配置文件
//  3. 环境变量可覆盖 YAML 配置
//
// 凭据单一数据源：密码/密钥只存在 .env 中，YAML 不存储任何密码。
//
// 使用方式：
//   - 开发环境: APP_ENV=dev (默认)
//   - 测试环境: APP_ENV=test
//   - 生产环境: APP_ENV=prod
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Cache      CacheConfig      `yaml:"cache"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	MinIO      MinIOConfig      `yaml:"minio"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Output     OutputConfig     `yaml:"output"`
}

// CacheConfig 内容寻址缓存配置
type CacheConfig struct {
	Dir string `yaml:"dir"` // 缓存目录
}

// OutputConfig 变体文件输出配置
type OutputConfig struct {
	Dir string `yaml:"dir"` // 变体文件与 manifest 输出目录
}

// DatabaseConfig 审计存储配置
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite"（默认）或 "postgres"
	Path     string `yaml:"path"`   // SQLite 文件路径
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig Redis（集群作业流）配置
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"` // 只从 REDIS_PASSWORD 环境变量读取
}

// MinIOConfig MinIO 对象存储配置
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey string `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey string `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// DispatcherConfig 调度器配置
type DispatcherConfig struct {
	ConcurrencyLimit int           `yaml:"concurrency_limit"` // 同时 Running 的作业上限
	MaxAttempts      int           `yaml:"max_attempts"`      // 每个作业的最大提交次数
	JobTimeout       time.Duration `yaml:"job_timeout"`       // 单个作业的墙钟预算
	PollInterval     time.Duration `yaml:"poll_interval"`     // 状态轮询间隔
}

// UnmarshalYAML 支持 "30m" / "2s" 形式的时长写法
func (d *DispatcherConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		ConcurrencyLimit int    `yaml:"concurrency_limit"`
		MaxAttempts      int    `yaml:"max_attempts"`
		JobTimeout       string `yaml:"job_timeout"`
		PollInterval     string `yaml:"poll_interval"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.ConcurrencyLimit != 0 {
		d.ConcurrencyLimit = raw.ConcurrencyLimit
	}
	if raw.MaxAttempts != 0 {
		d.MaxAttempts = raw.MaxAttempts
	}
	if raw.JobTimeout != "" {
		t, err := time.ParseDuration(raw.JobTimeout)
		if err != nil {
			return fmt.Errorf("invalid job_timeout %q: %w", raw.JobTimeout, err)
		}
		d.JobTimeout = t
	}
	if raw.PollInterval != "" {
		t, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval %q: %w", raw.PollInterval, err)
		}
		d.PollInterval = t
	}
	return nil
}

// ArchiveConfig 归档配置
type ArchiveConfig struct {
	Dir string `yaml:"dir"` // 归档文件输出目录
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env        Environment
	Cache      CacheConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	MinIO      MinIOConfig
	Dispatcher DispatcherConfig
	Archive    ArchiveConfig
	Output     OutputConfig
}

var configPaths = []string{
	"configs",
	"../configs",
	"../../configs",
	"../../../configs",
}

var envPaths = []string{
	".env",
	"../.env",
	"../../.env",
	"../../../.env",
}

// Load 加载配置
// 1. 加载 .env（敏感信息 + APP_ENV）
// 2. 根据 APP_ENV 加载 configs/{env}.yaml
// 3. 构建最终配置
func Load() *Config {
	for _, p := range envPaths {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	env := parseEnv(getEnv("APP_ENV", "dev"))
	yamlCfg := loadYAMLConfig(env)

	cfg := &Config{
		Env:        env,
		Cache:      yamlCfg.Cache,
		Database:   yamlCfg.Database,
		Redis:      yamlCfg.Redis,
		MinIO:      yamlCfg.MinIO,
		Dispatcher: yamlCfg.Dispatcher,
		Archive:    yamlCfg.Archive,
		Output:     yamlCfg.Output,
	}

	// 敏感信息只从环境变量读取
	cfg.Database.Password = getEnv("DB_PASSWORD", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.MinIO.AccessKey = getEnv("MINIO_ROOT_USER", "")
	cfg.MinIO.SecretKey = getEnv("MINIO_ROOT_PASSWORD", "")

	// 非敏感覆盖项
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.Output.Dir = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Archive.Dir = v
	}

	cfg.Dispatcher.validate()
	return cfg
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → common.yaml → {env}.yaml
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := &YAMLConfig{
		Cache:    CacheConfig{Dir: ".cache"},
		Output:   OutputConfig{Dir: "out"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "variant-engine.db", Host: "localhost", Port: 5432, User: "variants", Name: "variant_engine", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: "variant-engine"},
		Dispatcher: DispatcherConfig{
			ConcurrencyLimit: 8,
			MaxAttempts:      3,
			JobTimeout:       30 * time.Minute,
			PollInterval:     2 * time.Second,
		},
		Archive: ArchiveConfig{Dir: "archives"},
	}

	for _, base := range configPaths {
		path := filepath.Join(base, "common.yaml")
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			yaml.Unmarshal(data, cfg)
			break
		}
	}

	return cfg
}

// DatabaseURL 构建 PostgreSQL 连接字符串
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User, c.Database.Password, c.Database.Host, c.Database.Port,
		c.Database.Name, c.Database.SSLMode)
}

// RedisAddr 返回 Redis 地址
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsTest 是否为测试环境
func (c *Config) IsTest() bool {
	return c.Env == EnvTest
}

// validate 验证并填充调度器默认值
func (d *DispatcherConfig) validate() {
	if d.ConcurrencyLimit <= 0 {
		d.ConcurrencyLimit = 8
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = 3
	}
	if d.JobTimeout <= 0 {
		d.JobTimeout = 30 * time.Minute
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 2 * time.Second
	}
}
