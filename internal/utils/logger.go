package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// base 所有组件共享的logrus实例
var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05",
	})
	if os.Getenv("DEBUG") == "true" {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

type Logger struct {
	name  string
	entry *logrus.Entry
}

func NewLogger(name string) *Logger {
	return &Logger{
		name:  name,
		entry: base.WithField("component", name),
	}
}

// NewLoggerWith 使用指定的logrus实例创建日志器（测试中配合hooks/test使用）
func NewLoggerWith(name string, l *logrus.Logger) *Logger {
	return &Logger{
		name:  name,
		entry: l.WithField("component", name),
	}
}

// SetDebug 开启或关闭全局调试日志
func SetDebug(enabled bool) {
	if enabled {
		base.SetLevel(logrus.DebugLevel)
		return
	}
	base.SetLevel(logrus.InfoLevel)
}

// SetOutput 重定向全局日志输出
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// WithField 返回附带额外字段的日志器
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		name:  l.name,
		entry: l.entry.WithField(key, value),
	}
}
