package configuration

import (
	"github.com/buildbarn/bb-storage/pkg/util"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLoggerFromConfiguration creates a zap logger. Development
// loggers write human readable output, while production loggers write
// JSON.
func NewLoggerFromConfiguration(configuration *LoggingConfiguration) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(configuration.Level)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "Invalid log level %#v", configuration.Level)
	}
	var config zap.Config
	if configuration.Development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.Level = zap.NewAtomicLevelAt(level)
	logger, err := config.Build()
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.Internal, "Failed to create logger")
	}
	return logger, nil
}

type zapErrorLogger struct {
	logger *zap.Logger
}

// NewZapErrorLogger creates an ErrorLogger that writes errors to a zap
// logger at the error level. It can be used to report failures of
// background work, such as writing to the journal.
func NewZapErrorLogger(logger *zap.Logger) util.ErrorLogger {
	return zapErrorLogger{
		logger: logger,
	}
}

func (el zapErrorLogger) Log(err error) {
	el.logger.Error("Background operation failed",
		zap.Error(err),
		zap.Stringer("code", status.Code(err)))
}
