/*
Package log provides structured logging for Burrow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	brokerLog := log.WithComponent("broker")
	brokerLog.Info().Str("subscriber_id", id).Msg("subscriber registered")

Request-scoped context:

	jobLog := log.WithRequestID(requestID)
	jobLog.Error().Err(err).Msg("completion failed")

Console output (JSONOutput: false) is intended for interactive development;
production deployments log JSON to stdout and let the host aggregate.
*/
package log
