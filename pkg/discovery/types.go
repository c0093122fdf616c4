package discovery

import (
	"errors"
	"time"
)

const (
	// ServiceType is the DNS-SD service type of a sync endpoint.
	ServiceType = "_mashsync._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default sync endpoint port.
	DefaultPort = 8765

	// ProtocolVersion is advertised in the VER key.
	ProtocolVersion = 1
)

// TXT record keys.
const (
	TXTKeyDeviceID   = "DI"  // Device identifier (required)
	TXTKeyVersion    = "VER" // Protocol version (required)
	TXTKeyRoles      = "RL"  // Roles, comma-separated (required)
	TXTKeyProfiles   = "PR"  // Published profile ids in hex (optional)
	TXTKeyDeviceName = "DN"  // Device name (optional)
)

const (
	// BrowseTimeout is the default timeout for FindCollector.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63

	// MaxDeviceIDLen bounds the DI value.
	MaxDeviceIDLen = 32
)

// Role is a capability a sync endpoint offers.
type Role string

const (
	// RolePublisher accepts subscriptions.
	RolePublisher Role = "pub"

	// RoleSubscriber mirrors remote objects.
	RoleSubscriber Role = "sub"

	// RoleCollector accepts event log uploads.
	RoleCollector Role = "col"
)

func (r Role) valid() bool {
	switch r {
	case RolePublisher, RoleSubscriber, RoleCollector:
		return true
	}
	return false
}

// SyncInfo is the content of a sync endpoint advertisement.
type SyncInfo struct {
	DeviceID   string
	DeviceName string
	Version    uint8
	Roles      []Role
	Profiles   []uint32

	// Port is the TCP port of the transport server. Zero uses DefaultPort.
	Port uint16
}

// HasRole reports whether the endpoint offers r.
func (i *SyncInfo) HasRole(r Role) bool {
	for _, have := range i.Roles {
		if have == r {
			return true
		}
	}
	return false
}

// Validate checks the fields that are encoded into TXT records.
func (i *SyncInfo) Validate() error {
	if i.DeviceID == "" {
		return ErrMissingRequired
	}
	if len(i.DeviceID) > MaxDeviceIDLen {
		return ErrInvalidDeviceID
	}
	if len(i.Roles) == 0 {
		return ErrMissingRequired
	}
	for _, r := range i.Roles {
		if !r.valid() {
			return ErrInvalidRole
		}
	}
	return nil
}

// SyncService is a browsed sync endpoint.
type SyncService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string
	Info         SyncInfo
}

// Errors.
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInvalidDeviceID     = errors.New("invalid device id")
	ErrInvalidRole         = errors.New("invalid role")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)
