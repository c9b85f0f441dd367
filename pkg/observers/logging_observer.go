// Package observers provides observers for monitoring state machine events
package observers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/anggasct/tracklock/pkg/fsm"
)

// LogLevel represents the logging level
type LogLevel int

const (
	// LogError logs only errors
	LogError LogLevel = iota
	// LogWarning logs errors and warnings
	LogWarning
	// LogInfo logs errors, warnings, and info
	LogInfo
	// LogDebug logs errors, warnings, info, and debug
	LogDebug
)

// ParseLogLevel maps a config string onto a LogLevel. Unknown values give LogInfo.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "error":
		return LogError
	case "warn", "warning":
		return LogWarning
	case "debug":
		return LogDebug
	default:
		return LogInfo
	}
}

// SlogLevel returns the matching slog level
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogError:
		return slog.LevelError
	case LogWarning:
		return slog.LevelWarn
	case LogDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// LogFormatter formats log messages
type LogFormatter func(level LogLevel, format string, args ...any) string

// DefaultLogFormatter formats the message without a level tag, since slog adds its own
func DefaultLogFormatter(level LogLevel, format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

// LoggingObserver logs state machine events through a slog.Logger
type LoggingObserver struct {
	level     LogLevel
	prefix    string
	logger    *slog.Logger
	mutex     sync.RWMutex
	formatter LogFormatter
}

// NewLoggingObserver creates a new logging observer. A nil logger falls back to slog.Default.
func NewLoggingObserver(logger *slog.Logger, level LogLevel, prefix string) *LoggingObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{
		level:     level,
		prefix:    prefix,
		logger:    logger,
		formatter: DefaultLogFormatter,
	}
}

// NewDefaultLoggingObserver creates a logging observer with default settings (LogInfo level)
func NewDefaultLoggingObserver() *LoggingObserver {
	return NewLoggingObserver(nil, LogInfo, "StateMachine")
}

// SetFormatter sets the log formatter
func (o *LoggingObserver) SetFormatter(formatter LogFormatter) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.formatter = formatter
}

func (o *LoggingObserver) log(level LogLevel, ctx fsm.Context, format string, args ...any) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	if level > o.level {
		return
	}

	message := ""
	if o.formatter != nil {
		message = o.formatter(level, format, args...)
	} else {
		message = fmt.Sprintf(format, args...)
	}

	attrs := []any{}
	if o.prefix != "" {
		attrs = append(attrs, "component", o.prefix)
	}
	var parent context.Context = context.Background()
	if ctx != nil {
		parent = ctx
		if m := ctx.GetMachine(); m != nil {
			attrs = append(attrs, "machine", m.Name())
		}
	}
	o.logger.Log(parent, level.SlogLevel(), message, attrs...)
}

// OnStateEnter logs state entry
func (o *LoggingObserver) OnStateEnter(state string, ctx fsm.Context) {
	o.log(LogDebug, ctx, "Entering state: %s", state)
}

// OnStateExit logs state exit
func (o *LoggingObserver) OnStateExit(state string, ctx fsm.Context) {
	o.log(LogDebug, ctx, "Exiting state: %s", state)
}

// OnTransition logs transitions
func (o *LoggingObserver) OnTransition(from string, to string, event fsm.Event, ctx fsm.Context) {
	name := ""
	if event != nil {
		name = event.GetName()
	}
	o.log(LogInfo, ctx, "Transition: %s -> %s on event: %s", from, to, name)
}

// OnEventRejected logs rejected events
func (o *LoggingObserver) OnEventRejected(event fsm.Event, reason string, ctx fsm.Context) {
	name := ""
	if event != nil {
		name = event.GetName()
	}
	o.log(LogWarning, ctx, "Event rejected: %s (%s)", name, reason)
}

// OnError logs errors
func (o *LoggingObserver) OnError(err error, ctx fsm.Context) {
	o.log(LogError, ctx, "Error: %v", err)
}

// OnMachineStarted logs machine start
func (o *LoggingObserver) OnMachineStarted(ctx fsm.Context) {
	o.log(LogDebug, ctx, "Machine started")
}

// OnMachineStopped logs machine stop
func (o *LoggingObserver) OnMachineStopped(ctx fsm.Context) {
	o.log(LogDebug, ctx, "Machine stopped")
}
