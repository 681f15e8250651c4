// Package logging provides a minimal logging interface and adapters for channelmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the dispatcher, invoker and tools use for observability. Messages are
// short dotted event names ("delegation.branch.start") followed by key/value
// pairs. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter and ZapAdapter for deployments standardized on those loggers
//   - MeshLogger with component scoping and model/tool call helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.New(&logging.LoggerConfig{Backend: logging.BackendZerolog, Level: logging.LogLevelInfo})
//	mesh := channelmesh.New(messages, agents, mdl, func(o *channelmesh.Options) { o.Logger = logger })
package logging
