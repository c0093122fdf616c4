// Package persistence provides the durable key/value store used for
// crash-safe counters.
//
// The store holds small unsigned values (persisted counter start values)
// keyed by name. Writes are atomic per value: a power loss mid-write leaves
// either the old or the new value, never a mix. FileStore achieves this by
// writing a temporary file, syncing it and renaming it over the original.
package persistence
