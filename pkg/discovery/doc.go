// Package discovery announces and finds sync endpoints with mDNS/DNS-SD.
//
// A sync endpoint advertises the _mashsync._tcp service. The instance name
// is the device name, or MASH-<device-id> when no name is configured.
//
// TXT records:
//
//	DI   device identifier (required)
//	VER  protocol version (required)
//	RL   roles, comma-separated: pub, sub, col (required)
//	PR   published profile ids in hex, comma-separated (optional)
//	DN   device name (optional)
//
// Publishers accept subscriptions, subscribers mirror remote objects and
// collectors accept event log uploads. A device that uploads its event log
// uses FindCollector to locate a destination.
package discovery
