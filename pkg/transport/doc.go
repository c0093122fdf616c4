// Package transport carries protocol messages between peers.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│      CBOR Messages             │
//	├────────────────────────────────┤
//	│   Length-Prefix Framing (4B)   │
//	├────────────────────────────────┤
//	│           TCP                  │
//	└────────────────────────────────┘
//
// A Server both accepts and dials connections. Each connection is a Peer
// with its own read goroutine; decoded messages are handed to
// ServerConfig.OnMessage, which is expected to post them to the protocol
// thread. Session security is provided below this package, not by it.
//
// Liveness is not checked here: subscriptions carry their own heartbeats
// and block transfers their own response timeouts.
package transport
