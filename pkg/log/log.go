package log

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/copycat/copycat/pkg/events"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger with component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithRaftState creates a child logger carrying a node's identity and its
// currently observed term/role, the three fields that recur on nearly
// every Raft log line. Callers re-derive it on each log statement (term
// and role change far more often than the logger itself does) rather
// than caching a stale copy across a role transition.
func WithRaftState(memberID uint32, term uint64, role string) zerolog.Logger {
	return Logger.With().
		Uint32("member_id", memberID).
		Uint64("term", term).
		Str("role", role).
		Logger()
}

// EventSink subscribes to a lifecycle broker and logs every event it
// publishes until ctx is cancelled, at the level appropriate to its
// type (§4.9: the logging layer is one of the broker's consumers).
// Role and membership changes are the events an operator actually scans
// logs for, so they log at Info; everything else (term changes included)
// logs at Debug.
func EventSink(ctx context.Context, broker *events.Broker, logger func() zerolog.Logger) {
	if broker == nil {
		return
	}
	sub := broker.Subscribe()
	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case ev, ok := <-sub:
				if !ok {
					return
				}
				entry := logger().With().Str("event", string(ev.Type)).Logger()
				switch ev.Type {
				case events.EventRoleChanged, events.EventMemberChanged:
					entry.Info().Msg(ev.Message)
				default:
					entry.Debug().Msg(ev.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
