// Package logx configures namingpush's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - Console output readable (short timestamp + short caller)
//   - JSON output for collectors (format: json)
//   - An optional append-only JSON file sink
package logx
