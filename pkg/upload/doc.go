// Package upload streams event log contents to a collector.
//
// An Uploader opens a session with SendInit, waits for SendAccept and
// then sends one Block at a time, each acknowledged by a BlockAck before
// the next is built. Blocks are filled from the most important level
// first. A level's cursor only moves past an event once the block
// carrying it has been acknowledged, so an aborted or failed session
// loses nothing that the log still retains.
//
// Block data is a CBOR Chunk of Segments, optionally compressed with LZ4
// or zstd. Its keyed BLAKE3 digest covers the uncompressed chunk and is
// bound to the session and block counter.
package upload
