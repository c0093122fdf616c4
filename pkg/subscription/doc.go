// Package subscription implements both ends of a data subscription.
//
// A Handler serves one subscription on the publishing device. It resolves
// the requested paths against the catalog, retains the objects it covers
// and keeps a dirty set of changed paths. After answering the
// SubscribeRequest it primes the subscriber with the full contents of every
// subscribed path, then sends one NotifyRequest at a time as paths turn
// dirty. The next notification waits for the NotifyResponse of the
// previous one.
//
// A Client holds a subscription to a remote publisher and applies the
// received data to local mirror objects. When the subscription fails with a
// recoverable status, or the publisher goes silent for longer than the
// liveness timeout, the client returns to Idle and resubscribes after a
// randomized exponential backoff.
//
// # States
//
// Both sides move through the same states:
//
//	IDLE -> SUBSCRIBE_PENDING -> SUBSCRIBE_IN_PROGRESS -> ESTABLISHED
//	ESTABLISHED -> CANCELING -> IDLE
//	any -> ABORTING -> IDLE
//
// Handlers skip the pending states; they are created in response to a
// request and go straight to ESTABLISHED.
//
// # Liveness
//
// A handler that has sent nothing for a third of the liveness timeout sends
// a Heartbeat, which the client echoes. Each side terminates the
// subscription when it hears nothing from the other for a full liveness
// timeout.
//
// # Threading
//
// The Engine is not safe for concurrent use. Every call, including the
// transport's inbound messages and the timer callbacks, runs on the
// protocol thread of package loop.
package subscription
