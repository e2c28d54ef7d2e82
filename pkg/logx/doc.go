// Package logx configures medremind's structured logging.
//
// A small wrapper (logx.Logger) sits on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - stdout free when the process speaks a protocol over stdio (Config.Stderr)
package logx
