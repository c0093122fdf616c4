package discovery

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEntry(instance string, text []string, v4 ...string) *zeroconf.ServiceEntry {
	entry := &zeroconf.ServiceEntry{}
	entry.Instance = instance
	entry.HostName = "host.local."
	entry.Port = 8765
	entry.Text = text
	for _, a := range v4 {
		entry.AddrIPv4 = append(entry.AddrIPv4, net.ParseIP(a))
	}
	return entry
}

func TestEntryToService(t *testing.T) {
	entry := testEntry("Wallbox", []string{"DI=abc", "VER=1", "RL=pub,col"}, "192.168.1.10")
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}

	svc := entryToService(entry)
	require.NotNil(t, svc)
	assert.Equal(t, "Wallbox", svc.InstanceName)
	assert.Equal(t, "host.local.", svc.Host)
	assert.Equal(t, uint16(8765), svc.Port)
	assert.Equal(t, []string{"192.168.1.10", "fe80::1"}, svc.Addresses)
	assert.Equal(t, "abc", svc.Info.DeviceID)
	assert.Equal(t, uint16(8765), svc.Info.Port)
	assert.True(t, svc.Info.HasRole(RoleCollector))
}

func TestEntryToServiceRejectsForeignTXT(t *testing.T) {
	assert.Nil(t, entryToService(testEntry("other", []string{"ZI=1234"})))
}

func TestMergeAndRemoveAddresses(t *testing.T) {
	addrs := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addrs)

	addrs = removeAddresses(addrs, testEntry("x", nil, "10.0.0.1"))
	assert.Equal(t, []string{"10.0.0.2"}, addrs)

	addrs = removeAddresses(addrs, testEntry("x", nil, "10.0.0.2"))
	assert.Empty(t, addrs)
}

func TestFindCollectorCanceled(t *testing.T) {
	b := NewBrowser(BrowserConfig{BrowseTimeout: 50 * time.Millisecond})
	defer b.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.FindCollector(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdvertiserLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("registers an mDNS service")
	}
	adv := NewAdvertiser(DefaultAdvertiserConfig())
	defer adv.Stop()

	assert.ErrorIs(t, adv.Update(&SyncInfo{DeviceID: "d", Roles: []Role{RolePublisher}}), ErrNotAdvertising)

	info := &SyncInfo{DeviceID: "d1", Roles: []Role{RolePublisher}, Port: 18765}
	if err := adv.Advertise(context.Background(), info); err != nil {
		t.Skipf("mDNS not available: %v", err)
	}
	got, running := adv.Info()
	assert.True(t, running)
	assert.Equal(t, "d1", got.DeviceID)

	info.Roles = append(info.Roles, RoleCollector)
	require.NoError(t, adv.Update(info))
	got, _ = adv.Info()
	assert.True(t, got.HasRole(RoleCollector))

	adv.Stop()
	adv.Stop()
	_, running = adv.Info()
	assert.False(t, running)
}

func TestAdvertiseValidates(t *testing.T) {
	adv := NewAdvertiser(DefaultAdvertiserConfig())
	err := adv.Advertise(context.Background(), &SyncInfo{Roles: []Role{RolePublisher}})
	assert.ErrorIs(t, err, ErrMissingRequired)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = adv.Advertise(ctx, &SyncInfo{DeviceID: "d", Roles: []Role{RolePublisher}})
	assert.ErrorIs(t, err, context.Canceled)
}
