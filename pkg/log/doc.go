/*
Package log provides structured logging for copycat using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level.

# Usage

Initializing the logger:

	import "github.com/copycat/copycat/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	raftLog := log.WithComponent("raft")
	raftLog.Info().Uint64("term", term).Msg("became leader")

	segLog := log.WithComponent("segment")
	segLog.Error().Err(err).Msg("descriptor mismatch on recovery")

Raft state helpers:

	rc.logger().Info().Msg("became leader")
	// equivalent to log.WithRaftState(memberID, term, role).Info()...

Lifecycle events published on a broker can be logged without every
publisher also calling a logger directly:

	log.EventSink(ctx, broker, func() zerolog.Logger { return log.Logger })

# Design

A single package-level zerolog.Logger is initialized once via Init and
shared by every copycat package. Component loggers are cheap child
loggers (`.With().Str("component", ...)`) and carry no allocation
overhead beyond zerolog's own field chaining. Never log secrets (session
keys, submitted operation payloads) at Info level or above; use Debug
for payload contents and only when explicitly enabled.
*/
package log
