package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chat-relay/server/internal/config"
)

// Logger 持有 zerolog 实例以及可能打开的日志文件。
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New 按配置创建 logger，并设置为全局 log.Logger。
func New(cfg config.LoggingConfig) (*Logger, error) {
	var (
		out  io.Writer
		file *os.File
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out, file = f, f
	}

	logger := newLogger(out, cfg)
	log.Logger = logger
	SetLevel(cfg.Level)

	return &Logger{Logger: logger, file: file}, nil
}

func newLogger(out io.Writer, cfg config.LoggingConfig) zerolog.Logger {
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    out != os.Stdout && out != os.Stderr,
		}
	}
	return zerolog.New(out).
		With().
		Timestamp().
		Logger()
}

// ParseLevel 解析日志级别，无法识别时回退到 info。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetLevel 调整全局日志级别，用于配置热更新。
// 只改 zerolog 的全局级别（原子操作），不替换 log.Logger，请求路径上的读取无需加锁。
func SetLevel(level string) {
	zerolog.SetGlobalLevel(ParseLevel(level))
}

// Close 关闭日志文件（如果有）。
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
