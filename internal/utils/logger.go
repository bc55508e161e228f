package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logMu  sync.RWMutex
	logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// InitLogger configures the global logger. When file is empty logs go to
// stdout only, otherwise they are written to stdout and a rotated file.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var out io.Writer = os.Stdout
	if file != "" {
		out = zerolog.MultiLevelWriter(os.Stdout, &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		})
	}

	logMu.Lock()
	logger = zerolog.New(out).With().Timestamp().Str("service", "clientdash").Logger()
	logMu.Unlock()

	SetLogLevel(level)
}

// SetLogLevel changes the minimum level. Unknown levels fall back to info.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logMu.Lock()
	logger = logger.Level(lvl)
	logMu.Unlock()
}

// SetLoggerForTest replaces the global logger.
func SetLoggerForTest(l zerolog.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func Debug(msg string, kv ...any) { write(zerolog.DebugLevel, msg, kv) }
func Info(msg string, kv ...any)  { write(zerolog.InfoLevel, msg, kv) }
func Warn(msg string, kv ...any)  { write(zerolog.WarnLevel, msg, kv) }
func Error(msg string, kv ...any) { write(zerolog.ErrorLevel, msg, kv) }

// write emits msg with kv interpreted as alternating key/value pairs.
// A trailing key without value is logged under "extra".
func write(level zerolog.Level, msg string, kv []any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()

	ev := l.WithLevel(level)
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			ev = ev.Interface("extra", kv[i])
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		if err, ok := kv[i+1].(error); ok {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
