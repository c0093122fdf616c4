// Package model implements in-memory schema objects.
//
// # Objects
//
// An Object holds the current state of one schema-object instance as a set
// of leaf values keyed by property path. Interior nodes and dictionaries
// are assembled on read:
//
//	Measurement (root)
//	├── power        leaf
//	├── energy       interior, optional
//	│   ├── imported leaf
//	│   └── exported leaf, optional
//	├── phases       dictionary
//	│   └── [key]    element
//	│       ├── voltage
//	│       └── current
//	└── status       leaf, nullable, ephemeral
//
// Every mutation bumps the object's data version and is reported to
// subscribers with the path that changed. The subscription engine uses
// these callbacks to mark paths dirty.
//
// # Profiles
//
// The package ships the descriptors of the profiles this stack publishes
// (DeviceInfo and Measurement). Descriptors are registered by profile ID
// so the subscribing side can resolve incoming data.
package model
