package main

import (
	"github.com/mash-protocol/mash-sync/pkg/eventlog"
	"github.com/mash-protocol/mash-sync/pkg/model"
)

// Event structure types of the DeviceInfo profile.
const (
	structBoot uint16 = iota + 1
	structSubscription
	structUpload
	structOperator
)

// Event structure types of the Measurement profile.
const (
	structSample uint16 = iota + 1
	structStatus
)

var (
	bootEvent = eventlog.Schema{
		ProfileID:     model.ProfileDeviceInfo,
		StructureType: structBoot,
		Importance:    eventlog.ProductionCritical,
		SchemaVersion: 1,
	}
	subscriptionEvent = eventlog.Schema{
		ProfileID:     model.ProfileDeviceInfo,
		StructureType: structSubscription,
		Importance:    eventlog.Production,
		SchemaVersion: 1,
	}
	uploadEvent = eventlog.Schema{
		ProfileID:     model.ProfileDeviceInfo,
		StructureType: structUpload,
		Importance:    eventlog.Production,
		SchemaVersion: 1,
	}
	sampleEvent = eventlog.Schema{
		ProfileID:     model.ProfileMeasurement,
		StructureType: structSample,
		Importance:    eventlog.Debug,
		SchemaVersion: 1,
	}
	statusEvent = eventlog.Schema{
		ProfileID:     model.ProfileMeasurement,
		StructureType: structStatus,
		Importance:    eventlog.Info,
		SchemaVersion: 1,
	}
)

// operatorEvent returns the schema of a console-logged message.
func operatorEvent(imp eventlog.Importance) eventlog.Schema {
	return eventlog.Schema{
		ProfileID:     model.ProfileDeviceInfo,
		StructureType: structOperator,
		Importance:    imp,
		SchemaVersion: 1,
	}
}

type bootPayload struct {
	Firmware string `cbor:"1,keyasint"`
	Serial   string `cbor:"2,keyasint"`
}

type subscriptionPayload struct {
	Kind           string `cbor:"1,keyasint"`
	Side           string `cbor:"2,keyasint"`
	Peer           string `cbor:"3,keyasint"`
	SubscriptionID uint64 `cbor:"4,keyasint"`
	Reason         string `cbor:"5,keyasint,omitempty"`
}

type uploadPayload struct {
	Destination string `cbor:"1,keyasint"`
	Events      uint64 `cbor:"2,keyasint"`
	Blocks      uint32 `cbor:"3,keyasint"`
	Gaps        uint64 `cbor:"4,keyasint,omitempty"`
	Error       string `cbor:"5,keyasint,omitempty"`
}

type samplePayload struct {
	Power    int64 `cbor:"1,keyasint"`
	Imported int64 `cbor:"2,keyasint"`
	Exported int64 `cbor:"3,keyasint"`
}

type statusPayload struct {
	From string `cbor:"1,keyasint"`
	To   string `cbor:"2,keyasint"`
}

type operatorPayload struct {
	Text string `cbor:"1,keyasint"`
}
