package resources

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Reporter is the sink for download progress. `*zap.SugaredLogger`
// satisfies it.
type Reporter interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// NopReporter discards everything.
func NopReporter() Reporter {
	return zap.NewNop().Sugar()
}

// NewConsoleLogger
// Builds the human readable logger used by the command line tools. Debug
// output is enabled with verbose.
func NewConsoleLogger(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Encoding = "console"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.DisableStacktrace = true
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// RankReporter returns logger for the reporting rank and a no-op sink for
// every other rank.
func RankReporter(logger *zap.Logger, rank int) Reporter {
	if rank != 0 || logger == nil {
		return NopReporter()
	}
	return logger.Sugar()
}
