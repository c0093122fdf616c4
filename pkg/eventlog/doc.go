// Package eventlog implements the device event log.
//
// Events are classified by importance. Each importance level owns a
// fixed-size ring buffer and a persisted counter that assigns its event
// ids, so a burst of debug events never evicts critical ones and the ids of
// one level never depend on another. A full ring overwrites its oldest
// events; the log is best-effort telemetry, not a durable ledger.
//
// Event ids are strictly increasing within a level. After an unclean
// restart the counter resumes at its next epoch boundary, which leaves a
// bounded gap in the sequence.
//
// Events are stored as CBOR records:
//
//	{
//	  1: id,             // uint32
//	  2: importance,     // uint8
//	  3: profileId,      // uint32
//	  4: structureType,  // uint16
//	  5: schemaVersion,  // uint16
//	  6: minCompatible,  // uint16
//	  7: timestamp,      // unix milliseconds
//	  8: payload         // CBOR-encoded application data
//	}
package eventlog
