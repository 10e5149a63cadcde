package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// 支持的上游提供商。
const (
	ProviderCompletion = "completion"
	ProviderOpenAI     = "openai"
	ProviderAnthropic  = "anthropic"
	// ProviderEcho 不访问网络，只用于本地联调。
	ProviderEcho = "echo"
)

// 支持的会话存储后端。
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config 全局配置
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// PingInterval 是 WebSocket 通道的心跳间隔。
	PingInterval time.Duration `yaml:"ping_interval"`
	CORS         CORSConfig    `yaml:"cors"`
}

// CORSConfig 跨域白名单；"*" 表示允许任意来源。
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LLMConfig 上游补全接口配置
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // "completion", "openai" or "anthropic"
	APIURL      string  `yaml:"api_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// Timeout 为 0 时不设超时，上游挂起会一直阻塞该请求。
	Timeout time.Duration `yaml:"timeout"`
}

type SessionConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
	// TTL 为 0 表示会话永不过期（进程内无限增长）。
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
	Output string `yaml:"output"` // "stdout", "stderr" or a file path
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DefaultConfig 返回一份可直接使用的默认配置（凭证除外）。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  30 * time.Second,
			PingInterval: 30 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		LLM: LLMConfig{
			Provider: ProviderCompletion,
		},
		Session: SessionConfig{
			Backend:       BackendMemory,
			SQLitePath:    "data/sessions.db",
			SweepSchedule: "@every 10m",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load 从文件加载配置。path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnv 用环境变量覆盖敏感信息与部署相关项。
func applyEnv(cfg *Config) error {
	if url := os.Getenv("LLM_API_URL"); url != "" {
		cfg.LLM.APIURL = url
	}

	// 提供商专属的 key 优先级低于通用的 LLM_API_KEY。
	switch cfg.LLM.Provider {
	case ProviderOpenAI:
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	case ProviderAnthropic:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.LLM.APIKey = key
		}
	}
	if key := os.Getenv("LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	if host := os.Getenv("HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		cfg.Server.Port = p
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.CORS.AllowedOrigins = splitList(origins)
	}
	if backend := os.Getenv("SESSION_BACKEND"); backend != "" {
		cfg.Session.Backend = backend
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}

	switch c.LLM.Provider {
	case ProviderCompletion:
		if c.LLM.APIURL == "" {
			return errors.New("llm api_url is required (set LLM_API_URL env var or config)")
		}
	case ProviderOpenAI, ProviderAnthropic:
		if c.LLM.Model == "" {
			return fmt.Errorf("llm model is required for provider %s", c.LLM.Provider)
		}
	case ProviderEcho:
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.LLM.APIKey == "" && c.LLM.Provider != ProviderEcho {
		return errors.New("llm api key is required (set LLM_API_KEY env var or config)")
	}
	if c.LLM.Timeout < 0 {
		return errors.New("llm timeout must not be negative")
	}

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.SQLitePath == "" {
			return errors.New("session sqlite_path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("unsupported session backend: %q", c.Session.Backend)
	}
	if c.Session.TTL < 0 {
		return errors.New("session ttl must not be negative")
	}
	if c.Session.TTL > 0 {
		if _, err := cron.ParseStandard(c.Session.SweepSchedule); err != nil {
			return fmt.Errorf("invalid session sweep_schedule: %w", err)
		}
	}
	return nil
}
