package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ValidLogLevels is the set of log levels accepted in configuration.
var ValidLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// LoggingConfig is the subset of the logging configuration needed to build component loggers.
type LoggingConfig interface {
	GetComponentLevel(component string) string
	GetDefaultLevel() string
	IsDevelopment() bool
}

// Logger is the sugared zap logger every component logs through.
type Logger struct {
	*zap.SugaredLogger

	component string
}

// NewLogger builds a logger at level. Development mode uses the colored console encoder and
// stack traces on warnings; production mode writes JSON.
func NewLogger(level string, development bool) (*Logger, error) {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{SugaredLogger: z.Sugar()}, nil
}

// NewComponentLoggerFromConfig builds the logger of one component at its configured level. A
// nil cfg logs at info. Levels are validated with the config, so a bad one panics here.
func NewComponentLoggerFromConfig(component string, cfg LoggingConfig) *Logger {
	level, development := "info", false
	if cfg != nil {
		level, development = cfg.GetComponentLevel(component), cfg.IsDevelopment()
	}

	l, err := NewLogger(level, development)
	if err != nil {
		panic(err)
	}
	return l.WithComponent(component)
}

// NewNopLogger discards everything.
func NewNopLogger() *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func newFromCore(core zapcore.Core) *Logger {
	return &Logger{SugaredLogger: zap.New(core).Sugar()}
}

// WithComponent returns a child logger tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		SugaredLogger: l.With("component", component),
		component:     component,
	}
}

func (l *Logger) Component() string {
	return l.component
}

var defaultLogger = sync.OnceValue(func() *Logger {
	l, err := NewLogger("debug", true)
	if err != nil {
		panic(err)
	}
	return l
})

// GetDefaultLogger returns the process-wide debug logger used where no component logger is
// passed in.
func GetDefaultLogger() *Logger {
	return defaultLogger()
}
