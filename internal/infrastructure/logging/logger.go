package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const DefaultLogFile = "bdns.log"

var (
	logger  *zap.Logger
	initErr error
	once    sync.Once
)

// InitLogger builds the process logger once. Debug mode also logs to stdout
// and lowers the level to Debug; otherwise only warnings and errors reach the
// log file.
func InitLogger(debug bool, logFile string) (*zap.Logger, error) {
	once.Do(func() {
		logger, initErr = NewConfig(debug, logFile).Build(zap.AddCaller())
		if initErr != nil {
			initErr = fmt.Errorf("build logger: %w", initErr)
		}
	})
	return logger, initErr
}

func NewConfig(debug bool, logFile string) zap.Config {
	config := zap.NewProductionConfig()

	if logFile == "" {
		logFile = DefaultLogFile
	}
	config.OutputPaths = []string{logFile}
	if debug {
		config.OutputPaths = append(config.OutputPaths, "stdout")
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}

	config.EncoderConfig.TimeKey = "ts"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.MessageKey = "msg"
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.StacktraceKey = "stacktrace"
	return config
}
