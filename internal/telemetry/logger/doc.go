// Package logger provides structured logging for authpersist.
//
//   - logger.go: slog-backed logger, level control, package-level helpers
//   - context.go: logger, operation ID and message ID propagation
//   - redact.go: masking of tokens and credentials in log attributes
//
// Output is JSON by default. Access tokens (JWTs), refresh tokens and API
// keys are masked before they reach the handler.
package logger
