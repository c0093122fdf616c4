package schema

import (
	"errors"
	"fmt"
	"sync"
)

// Schema errors.
var (
	ErrInvalidPath = errors.New("invalid property path")
	ErrUnknownTag  = errors.New("unknown context tag")
	ErrInvalidKey  = errors.New("invalid dictionary key")
)

// PropertyInfo is one entry of a generated property map.
type PropertyInfo struct {
	// Parent is the schema handle of the enclosing node.
	Parent SchemaHandle

	// Tag is the context tag of this node within its parent.
	Tag uint8
}

// Descriptor is the generated, read-only description of one schema type.
//
// The bitfields are indexed by schema handle: bit h%8 of byte h/8. They are
// consumed through accessors only.
type Descriptor struct {
	// ProfileID identifies the schema type on the wire.
	ProfileID uint32

	// Name is a human-readable schema name.
	Name string

	// Properties describes schema handles 2..len(Properties)+1.
	Properties []PropertyInfo

	// Bitfields, indexed by schema handle.
	Optional   []byte
	Nullable   []byte
	Dictionary []byte
	Ephemeral  []byte

	// Versions is the range of schema versions this build implements.
	Versions VersionRange

	once     sync.Once
	children map[SchemaHandle][]SchemaHandle
	preorder map[SchemaHandle]int
}

// NumSchemaHandles returns the number of valid schema handles, root included.
func (d *Descriptor) NumSchemaHandles() int {
	return len(d.Properties) + 1
}

func (d *Descriptor) validSchema(s SchemaHandle) bool {
	return s >= rootSchema && int(s) <= len(d.Properties)+1
}

func (d *Descriptor) info(s SchemaHandle) PropertyInfo {
	return d.Properties[s-firstPropertySchema]
}

func bit(field []byte, s SchemaHandle) bool {
	i := int(s) / 8
	if i >= len(field) {
		return false
	}
	return field[i]&(1<<(uint(s)%8)) != 0
}

// IsOptional reports whether the schema handle is optional.
func (d *Descriptor) IsOptional(s SchemaHandle) bool { return bit(d.Optional, s) }

// IsNullable reports whether the schema handle is nullable.
func (d *Descriptor) IsNullable(s SchemaHandle) bool { return bit(d.Nullable, s) }

// IsDictionary reports whether the schema handle is a dictionary.
func (d *Descriptor) IsDictionary(s SchemaHandle) bool { return bit(d.Dictionary, s) }

// IsEphemeral reports whether the schema handle is ephemeral.
func (d *Descriptor) IsEphemeral(s SchemaHandle) bool { return bit(d.Ephemeral, s) }

// Valid reports whether p names a node of this schema.
func (d *Descriptor) Valid(p PropertyPathHandle) bool {
	if p == NullPath || !d.validSchema(p.Schema()) {
		return false
	}
	if p.Key() != 0 && !d.underDictionary(p.Schema()) {
		return false
	}
	return true
}

// underDictionary reports whether s has a dictionary ancestor.
func (d *Descriptor) underDictionary(s SchemaHandle) bool {
	for s > rootSchema {
		parent := d.info(s).Parent
		if d.IsDictionary(parent) {
			return true
		}
		s = parent
	}
	return false
}

// IsDictionaryElement reports whether p is a direct element of a dictionary.
func (d *Descriptor) IsDictionaryElement(p PropertyPathHandle) bool {
	s := p.Schema()
	if s <= rootSchema || !d.validSchema(s) {
		return false
	}
	return d.IsDictionary(d.info(s).Parent)
}

// Parent returns the parent of p, or NullPath for the root.
func (d *Descriptor) Parent(p PropertyPathHandle) PropertyPathHandle {
	s := p.Schema()
	if s <= rootSchema || !d.validSchema(s) {
		return NullPath
	}
	parent := d.info(s).Parent
	if d.IsDictionary(parent) {
		// The dictionary itself is not keyed.
		return MakePath(parent, 0)
	}
	return MakePath(parent, p.Key())
}

// Tag returns the context tag of p within its parent.
func (d *Descriptor) Tag(p PropertyPathHandle) uint8 {
	s := p.Schema()
	if s <= rootSchema || !d.validSchema(s) {
		return 0
	}
	return d.info(s).Tag
}

// IsAncestor reports whether ancestor is a strict ancestor of p.
func (d *Descriptor) IsAncestor(ancestor, p PropertyPathHandle) bool {
	if ancestor == p {
		return false
	}
	for cur := d.Parent(p); cur != NullPath; cur = d.Parent(cur) {
		if cur == ancestor {
			return true
		}
	}
	return false
}

// IsInSubtree reports whether p equals root or lies below it.
func (d *Descriptor) IsInSubtree(root, p PropertyPathHandle) bool {
	return root == p || d.IsAncestor(root, p)
}

// Children returns the child schema handles of s in declaration order.
func (d *Descriptor) Children(s SchemaHandle) []SchemaHandle {
	d.buildIndex()
	return d.children[s]
}

// IsLeaf reports whether s has no children and is not a dictionary.
func (d *Descriptor) IsLeaf(s SchemaHandle) bool {
	return len(d.Children(s)) == 0 && !d.IsDictionary(s)
}

// ChildByTag returns the child of p carrying tag.
func (d *Descriptor) ChildByTag(p PropertyPathHandle, tag uint64) (PropertyPathHandle, error) {
	s := p.Schema()
	if d.IsDictionary(s) {
		return d.DictionaryElement(p, tag)
	}
	for _, c := range d.Children(s) {
		if uint64(d.info(c).Tag) == tag {
			return MakePath(c, p.Key()), nil
		}
	}
	return NullPath, fmt.Errorf("%w: %d under %s", ErrUnknownTag, tag, p)
}

// DictionaryElement returns the element of dictionary p with the given key.
func (d *Descriptor) DictionaryElement(p PropertyPathHandle, key uint64) (PropertyPathHandle, error) {
	s := p.Schema()
	if !d.IsDictionary(s) {
		return NullPath, fmt.Errorf("%w: %s is not a dictionary", ErrInvalidPath, p)
	}
	if key == 0 || key > 0xFFFF {
		return NullPath, fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}
	children := d.Children(s)
	if len(children) != 1 {
		return NullPath, fmt.Errorf("%w: dictionary %d has %d item types", ErrInvalidPath, s, len(children))
	}
	return MakePath(children[0], uint16(key)), nil
}

// PathToTags returns the context tags from the root down to p. Dictionary
// elements contribute their key instead of a tag.
func (d *Descriptor) PathToTags(p PropertyPathHandle) ([]uint64, error) {
	if !d.Valid(p) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
	}
	var rev []uint64
	for cur := p; cur != RootPath; cur = d.Parent(cur) {
		if cur == NullPath {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, p)
		}
		if d.IsDictionaryElement(cur) {
			rev = append(rev, uint64(cur.Key()))
		} else {
			rev = append(rev, uint64(d.Tag(cur)))
		}
	}
	tags := make([]uint64, len(rev))
	for i := range rev {
		tags[i] = rev[len(rev)-1-i]
	}
	return tags, nil
}

// TagsToPath resolves a tag sequence from the root.
func (d *Descriptor) TagsToPath(tags []uint64) (PropertyPathHandle, error) {
	cur := RootPath
	for _, tag := range tags {
		next, err := d.ChildByTag(cur, tag)
		if err != nil {
			return NullPath, err
		}
		cur = next
	}
	return cur, nil
}

// Less orders paths in property-tree pre-order: a node precedes its
// descendants, siblings follow declaration order, dictionary elements
// follow key order.
func (d *Descriptor) Less(a, b PropertyPathHandle) bool {
	if a == b {
		return false
	}
	d.buildIndex()
	ca, cb := d.chain(a), d.chain(b)
	for i := 0; i < len(ca) && i < len(cb); i++ {
		if ca[i] == cb[i] {
			continue
		}
		oa, ob := d.preorder[ca[i].Schema()], d.preorder[cb[i].Schema()]
		if oa != ob {
			return oa < ob
		}
		return ca[i].Key() < cb[i].Key()
	}
	return len(ca) < len(cb)
}

// chain returns the path from the root down to p.
func (d *Descriptor) chain(p PropertyPathHandle) []PropertyPathHandle {
	var rev []PropertyPathHandle
	for cur := p; cur != NullPath; cur = d.Parent(cur) {
		rev = append(rev, cur)
	}
	out := make([]PropertyPathHandle, len(rev))
	for i := range rev {
		out[i] = rev[len(rev)-1-i]
	}
	return out
}

func (d *Descriptor) buildIndex() {
	d.once.Do(func() {
		d.children = make(map[SchemaHandle][]SchemaHandle)
		for i, info := range d.Properties {
			s := SchemaHandle(i) + firstPropertySchema
			d.children[info.Parent] = append(d.children[info.Parent], s)
		}

		d.preorder = make(map[SchemaHandle]int, len(d.Properties)+1)
		next := 0
		var walk func(s SchemaHandle)
		walk = func(s SchemaHandle) {
			d.preorder[s] = next
			next++
			for _, c := range d.children[s] {
				walk(c)
			}
		}
		walk(rootSchema)
	})
}
