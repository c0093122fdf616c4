package catalog

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/schema"
	"github.com/mash-protocol/mash-sync/pkg/wire"
)

var self = wire.ResourceID{Kind: wire.ResourceSelf}

func variants(t *testing.T, capacity int) map[string]Catalog {
	t.Helper()
	arr, err := NewArray(Config{Capacity: capacity, LocalDeviceID: 0xd1})
	require.NoError(t, err)
	m, err := NewMap(Config{Capacity: capacity, LocalDeviceID: 0xd1})
	require.NoError(t, err)
	return map[string]Catalog{"array": arr, "map": m}
}

func addMeasurement(t *testing.T, c Catalog, instance uint64) Handle {
	t.Helper()
	h, err := c.Add(self, instance, schema.RootPath, model.NewObject(model.MeasurementSchema))
	require.NoError(t, err)
	return h
}

func TestCatalogRecyclesLowestHandle(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 4; i++ {
				h := addMeasurement(t, c, uint64(i))
				assert.Equal(t, Handle(i), h)
			}
			_, err := c.Add(self, 99, schema.RootPath, model.NewObject(model.MeasurementSchema))
			assert.ErrorIs(t, err, ErrCatalogFull)

			require.NoError(t, c.Remove(1))
			h := addMeasurement(t, c, 10)
			assert.Equal(t, Handle(1), h, "lowest recycled handle must be reused")
		})
	}
}

func TestCatalogRecycleOrder(t *testing.T) {
	for name, c := range variants(t, 8) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 6; i++ {
				addMeasurement(t, c, uint64(i))
			}
			require.NoError(t, c.Remove(4))
			require.NoError(t, c.Remove(2))
			require.NoError(t, c.Remove(5))

			assert.Equal(t, Handle(2), addMeasurement(t, c, 20))
			assert.Equal(t, Handle(4), addMeasurement(t, c, 21))
			assert.Equal(t, Handle(5), addMeasurement(t, c, 22))
			assert.Equal(t, Handle(6), addMeasurement(t, c, 23))
		})
	}
}

func TestCatalogRetainedHandleNotReused(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			h := addMeasurement(t, c, 1)
			require.NoError(t, c.Retain(h))
			require.NoError(t, c.Retain(h))

			require.NoError(t, c.Remove(h))
			_, err := c.Locate(h)
			assert.ErrorIs(t, err, ErrUnknownHandle, "removed object is detached at once")
			assert.ErrorIs(t, c.Remove(h), ErrUnknownHandle, "second remove fails")

			other := addMeasurement(t, c, 2)
			assert.NotEqual(t, h, other, "retained handle must not be reused")

			require.NoError(t, c.Release(h))
			third := addMeasurement(t, c, 3)
			assert.NotEqual(t, h, third, "still retained once")

			require.NoError(t, c.Release(h))
			fourth := addMeasurement(t, c, 4)
			assert.Equal(t, h, fourth, "handle recycled after last release")

			assert.ErrorIs(t, c.Release(other), ErrNotRetained)
		})
	}
}

func TestCatalogAddressing(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			dev := wire.ResourceID{Kind: wire.ResourceDevice, ID: 0xbeef}
			obj := model.NewObject(model.MeasurementSchema)
			h, err := c.Add(dev, 3, schema.RootPath, obj)
			require.NoError(t, err)

			addr, err := c.PathToAddress(schema.ObjectPath{Handle: h, Path: model.MeasurementPhaseVoltage(2)})
			require.NoError(t, err)
			assert.Equal(t, model.ProfileMeasurement, addr.Profile)
			assert.Equal(t, uint64(3), addr.Instance)
			assert.Equal(t, []uint64{3, 2, 1}, addr.Tags)
			require.NotNil(t, addr.Resource)
			assert.Equal(t, dev, *addr.Resource)

			back, versions, err := c.ResolvePath(addr)
			require.NoError(t, err)
			assert.Equal(t, schema.ObjectPath{Handle: h, Path: model.MeasurementPhaseVoltage(2)}, back)
			assert.Equal(t, model.MeasurementSchema.Versions, versions)

			addr.Versions = &wire.VersionRange{Min: 2, Max: 5}
			_, versions, err = c.AddressToHandle(addr)
			require.NoError(t, err)
			assert.Equal(t, schema.VersionRange{Min: 2, Max: 5}, versions)

			located, err := c.Locate(h)
			require.NoError(t, err)
			assert.Same(t, obj, located)
		})
	}
}

func TestCatalogUnknownResource(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			addMeasurement(t, c, 1)

			_, _, err := c.AddressToHandle(wire.Path{Profile: model.ProfileMeasurement, Instance: 2})
			assert.True(t, errors.Is(err, ErrUnknownResource))

			_, _, err = c.AddressToHandle(wire.Path{Profile: model.ProfileDeviceInfo, Instance: 1})
			assert.True(t, errors.Is(err, ErrUnknownResource))
		})
	}
}

func TestCatalogLocalDeviceIsSelf(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			h := addMeasurement(t, c, 0)

			local := wire.ResourceID{Kind: wire.ResourceDevice, ID: 0xd1}
			got, err := c.LocateByID(model.ProfileMeasurement, 0, local)
			require.NoError(t, err)
			assert.Equal(t, h, got)

			addr, err := c.HandleToAddress(h)
			require.NoError(t, err)
			assert.Nil(t, addr.Resource, "self is omitted on the wire")
		})
	}
}

func TestCatalogDuplicate(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			addMeasurement(t, c, 1)
			_, err := c.Add(self, 1, schema.RootPath, model.NewObject(model.MeasurementSchema))
			assert.ErrorIs(t, err, ErrDuplicateObject)
			assert.Equal(t, 1, c.Len())
		})
	}
}

func TestCatalogHandlesAndResolver(t *testing.T) {
	for name, c := range variants(t, 4) {
		t.Run(name, func(t *testing.T) {
			addMeasurement(t, c, 1)
			h, err := c.Add(self, 0, model.DeviceInfoVendor, model.NewObject(model.DeviceInfoSchema))
			require.NoError(t, err)
			addMeasurement(t, c, 2)
			require.NoError(t, c.Remove(0))

			assert.Equal(t, []Handle{1, 2}, c.Handles())
			d, ok := c.Descriptor(h)
			assert.True(t, ok)
			assert.Same(t, model.DeviceInfoSchema, d)

			base, err := c.BasePath(h)
			require.NoError(t, err)
			assert.Equal(t, model.DeviceInfoVendor, base)
		})
	}
}

func TestNewArrayRejectsBadCapacity(t *testing.T) {
	_, err := NewArray(Config{})
	assert.Error(t, err)
	_, err = NewMap(Config{Capacity: -1})
	assert.Error(t, err)
}
