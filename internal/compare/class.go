package compare

import (
	"dexdiff/internal/dex"
	"dexdiff/internal/pattern"
)

// classComparer compares one candidate class. It is owned by a single
// goroutine.
type classComparer struct {
	loaders  *pattern.Set
	old, new *side
	// classes whose comparison is in progress, by old type index
	visiting map[uint32]bool
}

type check func() (bool, error)

// all runs checks in order and stops at the first mismatch or error.
func all(checks ...check) (bool, error) {
	for _, f := range checks {
		ok, err := f()
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// offsets decides the comparison of two optional offsets when at least one
// is absent.
func offsets(o, n uint32) (decided, same bool) {
	switch {
	case o == 0 && n == 0:
		return true, true
	case o == 0 || n == 0:
		return true, false
	}
	return false, false
}

func (c *classComparer) sameClass(o, n dex.ClassDef) (bool, error) {
	return all(
		func() (bool, error) { return o.AccessFlags == n.AccessFlags, nil },
		func() (bool, error) { return c.sameInterfaces(o, n) },
		func() (bool, error) { return c.sameString(o.SourceFileIndex, n.SourceFileIndex) },
		func() (bool, error) { return c.sameAnnotationsDirectory(o.AnnotationsOffset, n.AnnotationsOffset) },
		func() (bool, error) { return c.sameClassData(o.ClassDataOffset, n.ClassDataOffset) },
		func() (bool, error) { return c.sameStaticValues(o.StaticValuesOffset, n.StaticValuesOffset) },
	)
}

func (c *classComparer) sameInterfaces(o, n dex.ClassDef) (bool, error) {
	oi, err := c.old.d.InterfacesOf(o)
	if err != nil {
		return false, err
	}
	ni, err := c.new.d.InterfacesOf(n)
	if err != nil {
		return false, err
	}
	if len(oi) != len(ni) {
		return false, nil
	}
	for i := range oi {
		if same, err := c.sameClassByType(uint32(oi[i]), uint32(ni[i])); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// sameClassByType compares the classes behind two type indices. Classes
// defined in neither file compare by descriptor. A loader class on the new
// side always matches since the runtime keeps using the old definition.
func (c *classComparer) sameClassByType(ot, nt uint32) (bool, error) {
	ndesc, err := c.new.d.TypeName(nt)
	if err != nil {
		return false, err
	}
	if c.loaders.Match(ndesc) {
		return true, nil
	}
	ocd, oFound := c.old.byType[ot]
	ncd, nFound := c.new.byType[nt]
	switch {
	case !oFound && !nFound:
		odesc, err := c.old.d.TypeName(ot)
		if err != nil {
			return false, err
		}
		return odesc == ndesc, nil
	case !oFound || !nFound:
		return false, nil
	}
	if c.visiting[ot] {
		return true, nil
	}
	if c.visiting == nil {
		c.visiting = make(map[uint32]bool)
	}
	c.visiting[ot] = true
	defer delete(c.visiting, ot)
	return c.sameClass(ocd, ncd)
}

func (c *classComparer) sameType(o, n uint32) (bool, error) {
	if o == dex.NoIndex || n == dex.NoIndex {
		return o == n, nil
	}
	os, err := c.old.d.TypeName(o)
	if err != nil {
		return false, err
	}
	ns, err := c.new.d.TypeName(n)
	if err != nil {
		return false, err
	}
	return os == ns, nil
}

func (c *classComparer) sameString(o, n uint32) (bool, error) {
	if o == dex.NoIndex || n == dex.NoIndex {
		return o == n, nil
	}
	os, err := c.old.d.String(o)
	if err != nil {
		return false, err
	}
	ns, err := c.new.d.String(n)
	if err != nil {
		return false, err
	}
	return os == ns, nil
}

func (c *classComparer) sameField(o, n uint32) (bool, error) {
	of, err := c.old.d.FieldIdentity(o)
	if err != nil {
		return false, err
	}
	nf, err := c.new.d.FieldIdentity(n)
	if err != nil {
		return false, err
	}
	return of == nf, nil
}

func (c *classComparer) sameMethod(o, n uint32) (bool, error) {
	om, err := c.old.d.MethodIdentity(o)
	if err != nil {
		return false, err
	}
	nm, err := c.new.d.MethodIdentity(n)
	if err != nil {
		return false, err
	}
	return om.Equal(nm), nil
}

func (c *classComparer) sameProto(o, n uint32) (bool, error) {
	op, err := c.old.d.ProtoIdentity(o)
	if err != nil {
		return false, err
	}
	np, err := c.new.d.ProtoIdentity(n)
	if err != nil {
		return false, err
	}
	return op.Equal(np), nil
}

func (c *classComparer) sameClassData(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	ocd, err := c.old.d.ReadClassData(o)
	if err != nil {
		return false, err
	}
	ncd, err := c.new.d.ReadClassData(n)
	if err != nil {
		return false, err
	}
	return all(
		func() (bool, error) { return c.sameFields(ocd.InstanceFields, ncd.InstanceFields) },
		func() (bool, error) { return c.sameFields(ocd.StaticFields, ncd.StaticFields) },
		func() (bool, error) { return c.sameMethods(ocd.DirectMethods, ncd.DirectMethods) },
		func() (bool, error) { return c.sameMethods(ocd.VirtualMethods, ncd.VirtualMethods) },
	)
}

func (c *classComparer) sameFields(o, n []dex.EncodedField) (bool, error) {
	if len(o) != len(n) {
		return false, nil
	}
	for i := range o {
		if o[i].AccessFlags != n[i].AccessFlags {
			return false, nil
		}
		if same, err := c.sameField(o[i].FieldIndex, n[i].FieldIndex); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

func (c *classComparer) sameMethods(o, n []dex.EncodedMethod) (bool, error) {
	if len(o) != len(n) {
		return false, nil
	}
	for i := range o {
		if o[i].AccessFlags != n[i].AccessFlags {
			return false, nil
		}
		same, err := c.sameMethod(o[i].MethodIndex, n[i].MethodIndex)
		if err != nil || !same {
			return false, err
		}
		same, err = c.sameCode(o[i].CodeOffset, n[i].CodeOffset)
		if err != nil {
			om, _ := c.old.d.MethodIdentity(o[i].MethodIndex)
			return false, methodError(om, err)
		}
		if !same {
			return false, nil
		}
	}
	return true, nil
}

func (c *classComparer) sameCode(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	oc, err := c.old.d.ReadCode(o)
	if err != nil {
		return false, err
	}
	nc, err := c.new.d.ReadCode(n)
	if err != nil {
		return false, err
	}
	return all(
		func() (bool, error) {
			return oc.RegistersSize == nc.RegistersSize && oc.InsSize == nc.InsSize, nil
		},
		func() (bool, error) { return c.sameDebugInfo(oc.DebugInfoOffset, nc.DebugInfoOffset) },
		func() (bool, error) { return c.sameInstructions(oc.Instructions, nc.Instructions) },
		func() (bool, error) { return sameTries(oc.Tries, nc.Tries), nil },
		func() (bool, error) { return c.sameCatchHandlers(oc.CatchHandlers, nc.CatchHandlers) },
	)
}

func sameTries(o, n []dex.Try) bool {
	if len(o) != len(n) {
		return false
	}
	for i := range o {
		if o[i] != n[i] {
			return false
		}
	}
	return true
}

func (c *classComparer) sameCatchHandlers(o, n []dex.CatchHandler) (bool, error) {
	if len(o) != len(n) {
		return false, nil
	}
	for i := range o {
		oh, nh := o[i], n[i]
		if oh.CatchAllAddress != nh.CatchAllAddress || len(oh.TypeIndices) != len(nh.TypeIndices) {
			return false, nil
		}
		for j := range oh.TypeIndices {
			if oh.Addresses[j] != nh.Addresses[j] {
				return false, nil
			}
			if same, err := c.sameType(oh.TypeIndices[j], nh.TypeIndices[j]); err != nil || !same {
				return false, err
			}
		}
	}
	return true, nil
}

func (c *classComparer) sameStaticValues(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	ov, err := c.old.d.ReadEncodedArray(o)
	if err != nil {
		return false, err
	}
	nv, err := c.new.d.ReadEncodedArray(n)
	if err != nil {
		return false, err
	}
	return c.sameValues(ov.Values, nv.Values)
}
