// Package config 加载服务配置：默认值 -> YAML 文件 -> .env -> 环境变量
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 兼容旧部署的单 Key 环境变量，按顺序追加到 Key 列表末尾
var legacyKeyVars = []string{"GEMINI_API_KEY", "GEMINI_API_KEY_1", "GEMINI_API_KEY_2"}

const defaultConfigFile = "config.yaml"

type Config struct {
	Port         int      `yaml:"port" env:"PORT"`
	Debug        bool     `yaml:"debug" env:"DEBUG"`
	APIKeys      []string `yaml:"api_keys" env:"GEMINI_API_KEYS" envSeparator:","`
	SecretKey    string   `yaml:"-" env:"RELAY_SECRET_KEY"`
	Models       []string `yaml:"models" env:"GEMINI_MODELS" envSeparator:","`
	TitleModel   string   `yaml:"title_model" env:"TITLE_MODEL"`
	DatabasePath string   `yaml:"database_path" env:"DATABASE_PATH"`

	Prompt   PromptConfig   `yaml:"prompt"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

type PromptConfig struct {
	Instruction     string `yaml:"instruction" env:"PROMPT_INSTRUCTION"`
	QuestionPrefix  string `yaml:"question_prefix" env:"PROMPT_QUESTION_PREFIX"`
	DefaultTitle    string `yaml:"default_title" env:"DEFAULT_TITLE"`
	MaxHistoryTurns int    `yaml:"max_history_turns" env:"MAX_HISTORY_TURNS"` // 0 = 不限制
}

type UpstreamConfig struct {
	Driver  string        `yaml:"driver" env:"UPSTREAM_DRIVER"` // rest | sdk
	BaseURL string        `yaml:"base_url" env:"UPSTREAM_BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"UPSTREAM_TIMEOUT"` // 单个候选模型的超时
}

type ServerConfig struct {
	RateLimit       float64       `yaml:"rate_limit" env:"RATE_LIMIT"` // 每个 IP 每秒请求数，<= 0 关闭
	RateBurst       int           `yaml:"rate_burst" env:"RATE_BURST"`
	MaxUploadMB     int64         `yaml:"max_upload_mb" env:"MAX_UPLOAD_MB"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

type LogConfig struct {
	File      string `yaml:"file" env:"LOG_FILE"`
	MaxSizeMB int    `yaml:"max_size_mb" env:"LOG_MAX_SIZE_MB"`
}

// Default 默认配置
func Default() Config {
	return Config{
		Port:         8000,
		Models:       []string{"gemini-1.5-flash", "gemini-2.0-flash", "gemini-flash-latest"},
		DatabasePath: "relay.db",
		Prompt: PromptConfig{
			Instruction:    "詳細に日本語で回答してください。",
			QuestionPrefix: "質問: ",
			DefaultTitle:   "チャット履歴",
		},
		Upstream: UpstreamConfig{
			Driver:  "rest",
			BaseURL: "https://generativelanguage.googleapis.com",
			Timeout: 60 * time.Second,
		},
		Server: ServerConfig{
			RateLimit:       10,
			RateBurst:       20,
			MaxUploadMB:     20,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			MaxSizeMB: 50,
		},
	}
}

// Load 读取 .env 后按层合并配置
// YAML 路径来自 RELAY_CONFIG，未设置时若当前目录存在 config.yaml 则使用它
func Load() (Config, error) {
	// .env 不存在是正常情况
	_ = godotenv.Load()

	path, explicit := os.LookupEnv("RELAY_CONFIG")
	if !explicit {
		path = defaultConfigFile
	}
	return load(path, explicit)
}

func load(path string, explicit bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("op=config.Load: parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return Config{}, fmt.Errorf("op=config.Load: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}

	for _, name := range legacyKeyVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.APIKeys = append(cfg.APIKeys, v)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// normalize 去掉空白项和重复的 Key，保持原有顺序
func (c *Config) normalize() {
	c.APIKeys = compact(c.APIKeys)
	c.Models = compact(c.Models)
	c.TitleModel = strings.TrimSpace(c.TitleModel)
	if c.TitleModel == "" && len(c.Models) > 0 {
		c.TitleModel = c.Models[0]
	}
	c.Upstream.Driver = strings.ToLower(strings.TrimSpace(c.Upstream.Driver))
}

func compact(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// Validate 检查启动必需的配置；Key 为空不算错误，首次请求时才报错
func (c Config) Validate() error {
	if len(c.Models) == 0 {
		return errors.New("at least one model must be configured")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	switch c.Upstream.Driver {
	case "rest", "sdk":
	default:
		return fmt.Errorf("unknown upstream driver %q", c.Upstream.Driver)
	}
	if c.Prompt.MaxHistoryTurns < 0 {
		return errors.New("max_history_turns must not be negative")
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("max_upload_mb must be positive")
	}
	return nil
}

// MaxUploadBytes 上传大小上限（字节）
func (c Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
