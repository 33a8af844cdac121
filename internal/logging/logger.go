// Package logging builds the logrus logger shared by the server, trimmer and CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/any-hub/imgcache/internal/config"
)

// defaultRotateMB 是未配置 LogMaxSize 时单个日志文件的轮转阈值。
const defaultRotateMB = 100

// New 创建 JSON 格式的 logger 并同步到 logrus 全局实例。
// 日志文件不可用时退回 stdout，并在新 logger 上记录一次 log_sink_fallback。
func New(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	sink, sinkErr := openSink(cfg)
	logger := &logrus.Logger{
		Out:       sink,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	promote(logger)

	if sinkErr != nil {
		logger.WithFields(logrus.Fields{
			"action":   "log_sink_fallback",
			"log_file": cfg.LogFilePath,
			"error":    sinkErr.Error(),
		}).Warn("log file unavailable, writing to stdout")
	}
	return logger, nil
}

// Discard 返回丢弃所有输出的 logger。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// parseLevel 容忍大小写与空白，空值视为 info。
func parseLevel(raw string) (logrus.Level, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return 0, fmt.Errorf("无法解析日志级别 %q: %w", raw, err)
	}
	return level, nil
}

// openSink 选择日志输出：未配置文件时为 stdout，目录无法创建时也退回 stdout 并返回原因。
func openSink(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return rotator(cfg), nil
}

func rotator(cfg config.GlobalConfig) *lumberjack.Logger {
	sizeMB := cfg.LogMaxSize
	if sizeMB <= 0 {
		sizeMB = defaultRotateMB
	}
	backups := cfg.LogMaxBackups
	if backups < 0 {
		backups = 0
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    sizeMB,
		MaxBackups: backups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}
}

// promote 让直接调用 logrus 包级函数的代码与 logger 输出一致。
func promote(logger *logrus.Logger) {
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
}
