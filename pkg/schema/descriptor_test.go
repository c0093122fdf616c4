package schema_test

import (
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"github.com/mash-protocol/mash-sync/pkg/model"
	"github.com/mash-protocol/mash-sync/pkg/schema"
)

func TestPathHandleParts(t *testing.T) {
	p := schema.MakePath(8, 3)
	if p.Schema() != 8 {
		t.Errorf("Schema() = %d, want 8", p.Schema())
	}
	if p.Key() != 3 {
		t.Errorf("Key() = %d, want 3", p.Key())
	}
	if !schema.RootPath.IsRoot() {
		t.Error("RootPath.IsRoot() = false")
	}
}

func TestDescriptorParent(t *testing.T) {
	d := model.MeasurementSchema

	tests := []struct {
		name string
		path schema.PropertyPathHandle
		want schema.PropertyPathHandle
	}{
		{"root", schema.RootPath, schema.NullPath},
		{"leaf under root", model.MeasurementPower, schema.RootPath},
		{"nested leaf", model.MeasurementImported, model.MeasurementEnergy},
		{"dictionary element", model.MeasurementPhase(3), model.MeasurementPhases},
		{"leaf in element", model.MeasurementPhaseVoltage(3), model.MeasurementPhase(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Parent(tt.path); got != tt.want {
				t.Errorf("Parent(%s) = %s, want %s", tt.path, got, tt.want)
			}
		})
	}
}

func TestDescriptorAncestry(t *testing.T) {
	d := model.MeasurementSchema

	if !d.IsAncestor(schema.RootPath, model.MeasurementPhaseCurrent(2)) {
		t.Error("root should be an ancestor of every path")
	}
	if !d.IsAncestor(model.MeasurementPhases, model.MeasurementPhaseCurrent(2)) {
		t.Error("phases should be an ancestor of phases[2].current")
	}
	if d.IsAncestor(model.MeasurementPhase(1), model.MeasurementPhaseCurrent(2)) {
		t.Error("phases[1] must not be an ancestor of phases[2].current")
	}
	if d.IsAncestor(model.MeasurementPower, model.MeasurementPower) {
		t.Error("IsAncestor must be strict")
	}
	if !d.IsInSubtree(model.MeasurementPower, model.MeasurementPower) {
		t.Error("IsInSubtree must include the node itself")
	}
}

func TestDescriptorValid(t *testing.T) {
	d := model.MeasurementSchema

	if !d.Valid(model.MeasurementPhaseVoltage(9)) {
		t.Error("keyed path under a dictionary should be valid")
	}
	if d.Valid(schema.MakePath(2, 5)) {
		t.Error("keyed path outside a dictionary should be invalid")
	}
	if d.Valid(schema.MakePath(11, 0)) {
		t.Error("schema handle out of range should be invalid")
	}
	if d.Valid(schema.NullPath) {
		t.Error("NullPath should be invalid")
	}
}

func TestDescriptorTags(t *testing.T) {
	d := model.MeasurementSchema

	tests := []struct {
		path schema.PropertyPathHandle
		tags []uint64
	}{
		{schema.RootPath, []uint64{}},
		{model.MeasurementPower, []uint64{1}},
		{model.MeasurementExported, []uint64{2, 2}},
		{model.MeasurementPhase(7), []uint64{3, 7}},
		{model.MeasurementPhaseVoltage(7), []uint64{3, 7, 1}},
	}
	for _, tt := range tests {
		tags, err := d.PathToTags(tt.path)
		if err != nil {
			t.Fatalf("PathToTags(%s) error = %v", tt.path, err)
		}
		if len(tags) != len(tt.tags) || (len(tags) > 0 && !reflect.DeepEqual(tags, tt.tags)) {
			t.Errorf("PathToTags(%s) = %v, want %v", tt.path, tags, tt.tags)
		}

		back, err := d.TagsToPath(tags)
		if err != nil {
			t.Fatalf("TagsToPath(%v) error = %v", tags, err)
		}
		if back != tt.path {
			t.Errorf("TagsToPath(%v) = %s, want %s", tags, back, tt.path)
		}
	}

	if _, err := d.TagsToPath([]uint64{9}); !errors.Is(err, schema.ErrUnknownTag) {
		t.Errorf("TagsToPath unknown tag error = %v, want ErrUnknownTag", err)
	}
	if _, err := d.TagsToPath([]uint64{3, 0}); !errors.Is(err, schema.ErrInvalidKey) {
		t.Errorf("TagsToPath key 0 error = %v, want ErrInvalidKey", err)
	}
}

func TestDescriptorPreOrder(t *testing.T) {
	d := model.MeasurementSchema

	want := []schema.PropertyPathHandle{
		schema.RootPath,
		model.MeasurementPower,
		model.MeasurementEnergy,
		model.MeasurementImported,
		model.MeasurementExported,
		model.MeasurementPhases,
		model.MeasurementPhase(1),
		model.MeasurementPhaseVoltage(1),
		model.MeasurementPhaseCurrent(1),
		model.MeasurementPhase(2),
		model.MeasurementPhaseVoltage(2),
		model.MeasurementStatus,
	}

	got := append([]schema.PropertyPathHandle(nil), want...)
	rand.New(rand.NewSource(7)).Shuffle(len(got), func(i, j int) { got[i], got[j] = got[j], got[i] })
	sort.Slice(got, func(i, j int) bool { return d.Less(got[i], got[j]) })

	if !reflect.DeepEqual(got, want) {
		t.Errorf("pre-order sort = %v, want %v", got, want)
	}
}

func TestDescriptorFlags(t *testing.T) {
	d := model.MeasurementSchema

	if !d.IsDictionary(model.MeasurementPhases.Schema()) {
		t.Error("phases should be a dictionary")
	}
	if !d.IsOptional(model.MeasurementEnergy.Schema()) {
		t.Error("energy should be optional")
	}
	if d.IsOptional(model.MeasurementPower.Schema()) {
		t.Error("power should not be optional")
	}
	if !d.IsNullable(model.MeasurementStatus.Schema()) || !d.IsEphemeral(model.MeasurementStatus.Schema()) {
		t.Error("status should be nullable and ephemeral")
	}
	if !d.IsLeaf(model.MeasurementPower.Schema()) || d.IsLeaf(model.MeasurementPhases.Schema()) {
		t.Error("leaf classification wrong")
	}
}

func TestVersionRangeIntersect(t *testing.T) {
	r, ok := schema.VersionRange{Min: 1, Max: 3}.Intersect(schema.VersionRange{Min: 2, Max: 5})
	if !ok || r != (schema.VersionRange{Min: 2, Max: 3}) {
		t.Errorf("Intersect = %v, %v; want 2-3, true", r, ok)
	}
	if _, ok := (schema.VersionRange{Min: 1, Max: 1}).Intersect(schema.VersionRange{Min: 2, Max: 2}); ok {
		t.Error("disjoint ranges should not intersect")
	}
}

func TestTagMap(t *testing.T) {
	m, err := schema.TagMap(map[any]any{uint64(1): "a", int64(2): "b"})
	if err != nil {
		t.Fatalf("TagMap error = %v", err)
	}
	if m[1] != "a" || m[2] != "b" {
		t.Errorf("TagMap = %v", m)
	}
	if _, err := schema.TagMap(map[any]any{"x": 1}); err == nil {
		t.Error("string key should fail")
	}
	if _, err := schema.TagMap(42); err == nil {
		t.Error("scalar should fail")
	}
}
