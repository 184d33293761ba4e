package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/itbees/mdbctl/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	logger *zap.Logger
	sugar  *zap.SugaredLogger
	once   sync.Once
	mu     sync.RWMutex

	moduleLoggers map[string]*zap.Logger
)

// Init builds the process-wide logger from cfg. Safe to call more than once;
// only the first call takes effect.
func Init(cfg *config.LogConfig) error {
	var err error
	once.Do(func() {
		moduleLoggers = make(map[string]*zap.Logger)

		level := parseLevel(cfg.Level)

		encoderConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		}

		var encoder zapcore.Encoder
		if cfg.Format == "json" {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		} else {
			encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		}

		var cores []zapcore.Core

		if cfg.Output == "stdout" || cfg.Output == "both" {
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
		}

		if cfg.Output == "file" || cfg.Output == "both" {
			logDir := cfg.File.Path
			if err = os.MkdirAll(logDir, 0755); err != nil {
				return
			}

			fileWriter := &lumberjack.Logger{
				Filename:   filepath.Join(logDir, cfg.File.Filename),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level))

			errorWriter := &lumberjack.Logger{
				Filename:   filepath.Join(logDir, "error.log"),
				MaxSize:    cfg.File.MaxSize,
				MaxAge:     cfg.File.MaxAge,
				MaxBackups: cfg.File.MaxBackups,
				Compress:   cfg.File.Compress,
			}
			cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(errorWriter), zapcore.ErrorLevel))
		}

		core := zapcore.NewTee(cores...)

		logger = zap.New(
			core,
			zap.AddCaller(),
			zap.AddCallerSkip(1),
			zap.AddStacktrace(zapcore.ErrorLevel),
		)

		sugar = logger.Sugar()

		if cfg.Modules != nil {
			for module, levelStr := range cfg.Modules {
				moduleLevel := parseLevel(levelStr)
				moduleCore := zapcore.NewCore(
					encoder,
					zapcore.NewMultiWriteSyncer(zapcore.AddSync(os.Stdout)),
					moduleLevel,
				)
				moduleLoggers[module] = zap.New(
					moduleCore,
					zap.AddCaller(),
					zap.AddCallerSkip(1),
				)
			}
		}
	})

	return err
}

func parseLevel(levelStr string) zapcore.Level {
	switch levelStr {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger returns the process-wide logger, falling back to a production
// default if Init was never called.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		defaultLogger, _ := zap.NewProduction()
		return defaultLogger
	}
	return logger
}

// GetSugar returns the sugared variant of GetLogger.
func GetSugar() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	if sugar == nil {
		return GetLogger().Sugar()
	}
	return sugar
}

// GetModuleLogger returns the named child logger configured under
// log.modules, or the default logger if none was configured for module.
func GetModuleLogger(module string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if moduleLogger, ok := moduleLoggers[module]; ok {
		return moduleLogger
	}
	return GetLogger()
}

// Component names one of the mdb package's state machines. The poll loop,
// the escrow decision, coin routing, change planning, coin payout, and the
// cashless session all share the "mdb" module level in config, but each is
// its own concurrent state machine with its own failure modes — tagging
// every line with which one produced it is what makes the shared "mdb"
// stream filterable during an incident instead of one undifferentiated feed.
type Component string

const (
	ComponentController    Component = "controller"
	ComponentEscrow        Component = "escrow"
	ComponentCoinHandler   Component = "coinhandler"
	ComponentChangePlanner Component = "changeplanner"
	ComponentPayout        Component = "payout"
	ComponentCashless      Component = "cashless"
	ComponentEventBus      Component = "eventbus"
)

// ForComponent returns the "mdb" module logger with a component field
// attached, so log lines from concurrently running state machines can be
// told apart without splitting them into separate module levels.
func ForComponent(component Component) *zap.Logger {
	return GetModuleLogger("mdb").With(zap.String("component", string(component)))
}

// Sync flushes any buffered log entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()

	if logger != nil {
		return logger.Sync()
	}
	return nil
}

func Debug(msg string, fields ...zap.Field) { GetLogger().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { GetLogger().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { GetLogger().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { GetLogger().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { GetLogger().Fatal(msg, fields...) }

func Debugf(template string, args ...interface{}) { GetSugar().Debugf(template, args...) }
func Infof(template string, args ...interface{})  { GetSugar().Infof(template, args...) }
func Warnf(template string, args ...interface{})  { GetSugar().Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { GetSugar().Errorf(template, args...) }

// With returns a child logger carrying fields.
func With(fields ...zap.Field) *zap.Logger { return GetLogger().With(fields...) }

// WithModule returns the named module logger (see GetModuleLogger).
func WithModule(module string) *zap.Logger { return GetModuleLogger(module) }

// LogError logs err against msg with an attached stack trace at Error level.
func LogError(err error, msg string, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	GetLogger().Error(msg, fields...)
}

// LogPanic records a recovered panic and its stack.
func LogPanic(recovered interface{}, stack []byte) {
	GetLogger().Error("panic recovered",
		zap.Any("panic", recovered),
		zap.ByteString("stack", stack),
	)
}

// LogSerialExchange records one write/read exchange on the ASCII bridge.
func LogSerialExchange(command, response string, success bool) {
	l := GetModuleLogger("serial")
	if success {
		l.Debug("serial_exchange", zap.String("command", command), zap.String("response", response))
	} else {
		l.Warn("serial_exchange_failed", zap.String("command", command), zap.String("response", response))
	}
}

// LogDeviceEvent records an outbound DeviceEvent for the audit trail.
func LogDeviceEvent(kind string, amount int, message string) {
	GetModuleLogger("mdb").Info("device_event",
		zap.String("kind", kind),
		zap.Int("amount", amount),
		zap.String("message", message),
	)
}

// LogDatabaseOperation records a ledger persistence operation.
func LogDatabaseOperation(operation string, table string, duration time.Duration, err error) {
	l := GetModuleLogger("database")
	fields := []zap.Field{
		zap.String("operation", operation),
		zap.String("table", table),
		zap.Duration("duration", duration),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		l.Error("database_operation_failed", fields...)
	} else {
		l.Debug("database_operation", fields...)
	}
}

// SetLevel records levelStr in the loaded config and raises the process-wide
// logger's minimum level to it. It can only raise the level: zap's
// IncreaseLevel ignores a level below the current one, so SetLevel("debug")
// on an info logger changes nothing. Module loggers are not touched, and no
// caller in this repository invokes it.
func SetLevel(levelStr string) {
	mu.Lock()
	defer mu.Unlock()

	cfg := config.Get()
	if cfg == nil {
		return
	}
	cfg.Log.Level = levelStr

	level := parseLevel(levelStr)
	if logger != nil {
		logger = logger.WithOptions(zap.IncreaseLevel(level))
		sugar = logger.Sugar()
	}
}

// Cleanup flushes the logger, reporting any sync failure to stderr since the
// logger itself may no longer be writable during shutdown.
func Cleanup() {
	if err := Sync(); err != nil {
		fmt.Printf("failed to sync logger: %v\n", err)
	}
}
