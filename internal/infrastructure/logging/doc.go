// Package logging provides structured logging using uber/zap.
//
// Two output modes:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Components receive a *Logger through their constructor and derive a named
// child with session or connection fields attached:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	hubLog := logger.Named("hub")
//	hubLog.ForConnection(connID, sessionID).Info("connected")
//
// Tests use logging.NewNop().
package logging
