// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level written: trace, debug, info, warn, error or critical.
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	// File enables a rotating file sink in addition to stderr when set.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	// RotateDaily also starts a new file on the first write of each local day.
	RotateDaily bool `mapstructure:"rotate_daily"`
}

// New builds a zap.Logger configured for development or production.
func New(cfg Config) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(level.zapLevel())

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCfg := encCfg
	var consoleEnc zapcore.Encoder
	if cfg.Development {
		consoleCfg.EncodeLevel = colorLevelEncoder
		consoleEnc = zapcore.NewConsoleEncoder(consoleCfg)
	} else {
		consoleCfg.EncodeLevel = levelEncoder
		consoleEnc = zapcore.NewJSONEncoder(consoleCfg)
	}
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), atom),
	}

	if cfg.File != "" {
		fileCfg := encCfg
		fileCfg.EncodeLevel = levelEncoder
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		var sink zapcore.WriteSyncer = zapcore.AddSync(rotator)
		if cfg.RotateDaily {
			sink = zapcore.AddSync(newDailyRotator(rotator, time.Now))
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), sink, atom))
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// rotator is the part of lumberjack.Logger the daily trigger needs.
type rotator interface {
	Write(p []byte) (int, error)
	Rotate() error
}

// dailyRotator rotates the wrapped file when a write lands on a new local day.
type dailyRotator struct {
	mu  sync.Mutex
	out rotator
	now func() time.Time
	day string
}

func newDailyRotator(out rotator, now func() time.Time) *dailyRotator {
	return &dailyRotator{out: out, now: now, day: dayOf(now())}
}

func (d *dailyRotator) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if today := dayOf(d.now()); today != d.day {
		if err := d.out.Rotate(); err != nil {
			return 0, fmt.Errorf("rotate log file: %w", err)
		}
		d.day = today
	}
	return d.out.Write(p)
}

func dayOf(t time.Time) string {
	return t.Local().Format(time.DateOnly)
}

// Level is one of the severities accepted by Log.
type Level int8

// Supported levels, lowest first.
const (
	TraceLevel Level = iota
	DebugLevel
	InfoLevel
	WarnLevel
	ErrorLevel
	CriticalLevel
)

// zapTraceLevel sits one step below zap's debug level.
const zapTraceLevel = zapcore.DebugLevel - 1

var levelNames = map[Level]string{
	TraceLevel:    "TRACE",
	DebugLevel:    "DEBUG",
	InfoLevel:     "INFO",
	WarnLevel:     "WARN",
	ErrorLevel:    "ERROR",
	CriticalLevel: "CRITICAL",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int8(l))
}

// ParseLevel converts a case-insensitive level name. An empty string means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return TraceLevel, nil
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "critical", "crit":
		return CriticalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// zapLevel maps to the zap severity. Critical shares zap's error severity;
// zap's higher levels panic or exit.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case TraceLevel:
		return zapTraceLevel
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel, CriticalLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log writes msg at level. Delivery failures are ignored.
func Log(logger *zap.Logger, level Level, msg string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	if level == CriticalLevel {
		fields = append(fields, zap.Bool("critical", true))
	}
	if ce := logger.Check(level.zapLevel(), msg); ce != nil {
		ce.Write(fields...)
	}
}

// Trace logs msg below debug level.
func Trace(logger *zap.Logger, msg string, fields ...zap.Field) {
	Log(logger, TraceLevel, msg, fields...)
}

func levelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == zapTraceLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

func colorLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l == zapTraceLevel {
		enc.AppendString("\x1b[90mTRACE\x1b[0m")
		return
	}
	zapcore.CapitalColorLevelEncoder(l, enc)
}
