// Package log captures a machine-readable protocol trace for mash-sync.
//
// It is separate from operational logging (slog). The subscription engine,
// the transport and the uploader report state changes, decoded messages,
// block-transfer steps and errors as Events to a Logger:
//
//	// Development: trace to the console.
//	cfg.Trace = log.NewSlogAdapter(slog.Default())
//
//	// Production: binary trace file, rotated at 8 MiB.
//	fl, _ := log.NewRotatingFileLogger("/var/log/mash-sync/sync.mtrace", 8<<20)
//	cfg.Trace = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// Trace files are a sequence of CBOR-encoded events with integer keys and
// are read back with Reader, optionally narrowed by a Filter.
package log
