package discovery_test

import (
	"strings"
	"testing"

	"github.com/mash-protocol/mash-sync/pkg/discovery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncTXTRoundTrip(t *testing.T) {
	info := &discovery.SyncInfo{
		DeviceID:   "a1b2c3d4",
		DeviceName: "Wallbox Garage",
		Roles:      []discovery.Role{discovery.RolePublisher, discovery.RoleCollector},
		Profiles:   []uint32{0x0101, 0x2a},
		Port:       9000,
	}

	txt := discovery.EncodeSyncTXT(info)
	assert.Equal(t, "a1b2c3d4", txt[discovery.TXTKeyDeviceID])
	assert.Equal(t, "1", txt[discovery.TXTKeyVersion])
	assert.Equal(t, "pub,col", txt[discovery.TXTKeyRoles])
	assert.Equal(t, "101,2a", txt[discovery.TXTKeyProfiles])

	decoded, err := discovery.DecodeSyncTXT(discovery.StringsToTXTRecords(discovery.TXTRecordsToStrings(txt)))
	require.NoError(t, err)
	assert.Equal(t, info.DeviceID, decoded.DeviceID)
	assert.Equal(t, info.DeviceName, decoded.DeviceName)
	assert.Equal(t, uint8(discovery.ProtocolVersion), decoded.Version)
	assert.Equal(t, info.Roles, decoded.Roles)
	assert.Equal(t, info.Profiles, decoded.Profiles)
	assert.True(t, decoded.HasRole(discovery.RoleCollector))
	assert.False(t, decoded.HasRole(discovery.RoleSubscriber))
}

func TestEncodeSyncTXTOmitsOptionalKeys(t *testing.T) {
	txt := discovery.EncodeSyncTXT(&discovery.SyncInfo{
		DeviceID: "dev",
		Version:  3,
		Roles:    []discovery.Role{discovery.RoleSubscriber},
	})
	assert.Len(t, txt, 3)
	assert.Equal(t, "3", txt[discovery.TXTKeyVersion])
	assert.NotContains(t, txt, discovery.TXTKeyProfiles)
	assert.NotContains(t, txt, discovery.TXTKeyDeviceName)
}

func TestDecodeSyncTXTErrors(t *testing.T) {
	tests := []struct {
		name    string
		txt     discovery.TXTRecordMap
		wantErr error
	}{
		{"MissingDI", discovery.TXTRecordMap{"VER": "1", "RL": "pub"}, discovery.ErrMissingRequired},
		{"EmptyDI", discovery.TXTRecordMap{"DI": "", "VER": "1", "RL": "pub"}, discovery.ErrMissingRequired},
		{"LongDI", discovery.TXTRecordMap{"DI": strings.Repeat("x", 33), "VER": "1", "RL": "pub"}, discovery.ErrInvalidDeviceID},
		{"MissingVER", discovery.TXTRecordMap{"DI": "d", "RL": "pub"}, discovery.ErrMissingRequired},
		{"BadVER", discovery.TXTRecordMap{"DI": "d", "VER": "x", "RL": "pub"}, discovery.ErrInvalidTXTRecord},
		{"ZeroVER", discovery.TXTRecordMap{"DI": "d", "VER": "0", "RL": "pub"}, discovery.ErrInvalidTXTRecord},
		{"MissingRL", discovery.TXTRecordMap{"DI": "d", "VER": "1"}, discovery.ErrMissingRequired},
		{"BadPR", discovery.TXTRecordMap{"DI": "d", "VER": "1", "RL": "pub", "PR": "zz"}, discovery.ErrInvalidTXTRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := discovery.DecodeSyncTXT(tt.txt)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeSyncTXTIgnoresUnknownRoles(t *testing.T) {
	info, err := discovery.DecodeSyncTXT(discovery.TXTRecordMap{"DI": "d", "VER": "2", "RL": "pub, relay ,col"})
	require.NoError(t, err)
	assert.Equal(t, []discovery.Role{discovery.RolePublisher, discovery.RoleCollector}, info.Roles)
}

func TestSyncInfoValidate(t *testing.T) {
	valid := discovery.SyncInfo{DeviceID: "d", Roles: []discovery.Role{discovery.RolePublisher}}
	assert.NoError(t, valid.Validate())

	noRoles := valid
	noRoles.Roles = nil
	assert.ErrorIs(t, noRoles.Validate(), discovery.ErrMissingRequired)

	badRole := valid
	badRole.Roles = []discovery.Role{"relay"}
	assert.ErrorIs(t, badRole.Validate(), discovery.ErrInvalidRole)

	noID := valid
	noID.DeviceID = ""
	assert.ErrorIs(t, noID.Validate(), discovery.ErrMissingRequired)
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "MASH-abc", discovery.InstanceName(&discovery.SyncInfo{DeviceID: "abc"}))
	assert.Equal(t, "Heat Pump", discovery.InstanceName(&discovery.SyncInfo{DeviceID: "abc", DeviceName: "Heat Pump"}))

	long := discovery.InstanceName(&discovery.SyncInfo{DeviceName: strings.Repeat("n", 80)})
	assert.Len(t, long, discovery.MaxInstanceNameLen)
	assert.NoError(t, discovery.ValidateInstanceName(long))
	assert.ErrorIs(t, discovery.ValidateInstanceName(long+"x"), discovery.ErrInstanceNameTooLong)
}

func TestStringsToTXTRecordsFlags(t *testing.T) {
	txt := discovery.StringsToTXTRecords([]string{"DI=a=b", "flag", ""})
	assert.Equal(t, discovery.TXTRecordMap{"DI": "a=b", "flag": ""}, txt)
}
