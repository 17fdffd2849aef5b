// Package logger provides a small leveled, thread-safe logger.
//
// Each line carries a timestamp, the level, an optional component tag
// (usually a connection id or "server") and the message.
//
// # Basic Usage
//
//	logger.Info("", "listening on %s", addr)
//	logger.Info(connID, "client connected from %s", remote)
//	logger.Error("server", "accept failed: %v", err)
//
// A custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("conn-1", "parsed %q", line)
//
// # Log Levels
//
// Messages below the configured level are dropped:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel converts configuration strings ("debug", "info", ...) to a Level.
package logger
