// Package logx configures certnotify's structured logging.
//
// It wraps zerolog behind a small Logger value type so that:
//   - console output stays readable (short timestamp + short caller)
//   - file output is JSON
//   - warnings and errors can optionally be mirrored to a chat (min level + rate limit)
package logx
