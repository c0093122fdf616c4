package model

import (
	"sort"

	"github.com/mash-protocol/mash-sync/pkg/schema"
)

// Profile IDs.
const (
	ProfileDeviceInfo  uint32 = 0x0001_0001
	ProfileMeasurement uint32 = 0x0001_0002
)

// DeviceInfo paths.
var (
	DeviceInfoVendor   = schema.MakePath(2, 0)
	DeviceInfoSerial   = schema.MakePath(3, 0)
	DeviceInfoFirmware = schema.MakePath(4, 0)
	DeviceInfoLabel    = schema.MakePath(5, 0)
)

// DeviceInfoSchema describes static device identity.
var DeviceInfoSchema = &schema.Descriptor{
	ProfileID: ProfileDeviceInfo,
	Name:      "DeviceInfo",
	Properties: []schema.PropertyInfo{
		{Parent: 1, Tag: 1}, // 2 vendor
		{Parent: 1, Tag: 2}, // 3 serial
		{Parent: 1, Tag: 3}, // 4 firmware
		{Parent: 1, Tag: 4}, // 5 label
	},
	Optional: []byte{0x20},
	Nullable: []byte{0x20},
	Versions: schema.VersionRange{Min: 1, Max: 1},
}

// Measurement paths.
var (
	MeasurementPower    = schema.MakePath(2, 0)
	MeasurementEnergy   = schema.MakePath(3, 0)
	MeasurementImported = schema.MakePath(4, 0)
	MeasurementExported = schema.MakePath(5, 0)
	MeasurementPhases   = schema.MakePath(6, 0)
	MeasurementStatus   = schema.MakePath(10, 0)
)

// MeasurementPhase returns the dictionary element for a phase.
func MeasurementPhase(key uint16) schema.PropertyPathHandle {
	return schema.MakePath(7, key)
}

// MeasurementPhaseVoltage returns the voltage leaf of a phase.
func MeasurementPhaseVoltage(key uint16) schema.PropertyPathHandle {
	return schema.MakePath(8, key)
}

// MeasurementPhaseCurrent returns the current leaf of a phase.
func MeasurementPhaseCurrent(key uint16) schema.PropertyPathHandle {
	return schema.MakePath(9, key)
}

// MeasurementSchema describes live electrical telemetry.
var MeasurementSchema = &schema.Descriptor{
	ProfileID: ProfileMeasurement,
	Name:      "Measurement",
	Properties: []schema.PropertyInfo{
		{Parent: 1, Tag: 1}, // 2 power (mW)
		{Parent: 1, Tag: 2}, // 3 energy
		{Parent: 3, Tag: 1}, // 4 energy.imported (mWh)
		{Parent: 3, Tag: 2}, // 5 energy.exported (mWh)
		{Parent: 1, Tag: 3}, // 6 phases
		{Parent: 6, Tag: 0}, // 7 phases[key]
		{Parent: 7, Tag: 1}, // 8 phases[key].voltage (mV)
		{Parent: 7, Tag: 2}, // 9 phases[key].current (mA)
		{Parent: 1, Tag: 4}, // 10 status
	},
	Optional:   []byte{0x28},
	Nullable:   []byte{0x00, 0x04},
	Dictionary: []byte{0x40},
	Ephemeral:  []byte{0x00, 0x04},
	Versions:   schema.VersionRange{Min: 1, Max: 2},
}

var registry = map[uint32]*schema.Descriptor{
	ProfileDeviceInfo:  DeviceInfoSchema,
	ProfileMeasurement: MeasurementSchema,
}

// Lookup returns the descriptor registered for a profile.
func Lookup(profile uint32) (*schema.Descriptor, bool) {
	d, ok := registry[profile]
	return d, ok
}

// Profiles returns all registered descriptors ordered by profile ID.
func Profiles() []*schema.Descriptor {
	out := make([]*schema.Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProfileID < out[j].ProfileID })
	return out
}
