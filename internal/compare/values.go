package compare

import (
	"fmt"

	"dexdiff/internal/dex"
)

func (c *classComparer) sameAnnotationsDirectory(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	od, err := c.old.d.ReadAnnotationsDirectory(o)
	if err != nil {
		return false, err
	}
	nd, err := c.new.d.ReadAnnotationsDirectory(n)
	if err != nil {
		return false, err
	}
	return all(
		func() (bool, error) { return c.sameAnnotationSet(od.ClassAnnotationsOffset, nd.ClassAnnotationsOffset) },
		func() (bool, error) { return c.sameMembers(od.Fields, nd.Fields, c.sameField, c.sameAnnotationSet) },
		func() (bool, error) { return c.sameMembers(od.Methods, nd.Methods, c.sameMethod, c.sameAnnotationSet) },
		func() (bool, error) {
			return c.sameMembers(od.Parameters, nd.Parameters, c.sameMethod, c.sameAnnotationSetRefList)
		},
	)
}

// sameMembers compares member annotation lists pairwise in stored order.
func (c *classComparer) sameMembers(o, n []dex.MemberAnnotation, sameMember, sameSet func(o, n uint32) (bool, error)) (bool, error) {
	if len(o) != len(n) {
		return false, nil
	}
	for i := range o {
		if same, err := sameMember(o[i].Index, n[i].Index); err != nil || !same {
			return false, err
		}
		if same, err := sameSet(o[i].Offset, n[i].Offset); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

func (c *classComparer) sameAnnotationSetRefList(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	ol, err := c.old.d.ReadAnnotationSetRefList(o)
	if err != nil {
		return false, err
	}
	nl, err := c.new.d.ReadAnnotationSetRefList(n)
	if err != nil {
		return false, err
	}
	if len(ol.Offsets) != len(nl.Offsets) {
		return false, nil
	}
	for i := range ol.Offsets {
		if same, err := c.sameAnnotationSet(ol.Offsets[i], nl.Offsets[i]); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// sameAnnotationSet compares the annotations in stored order, so two sets
// holding the same annotations in a different order differ.
func (c *classComparer) sameAnnotationSet(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	os, err := c.old.d.ReadAnnotationSet(o)
	if err != nil {
		return false, err
	}
	ns, err := c.new.d.ReadAnnotationSet(n)
	if err != nil {
		return false, err
	}
	if len(os.Offsets) != len(ns.Offsets) {
		return false, nil
	}
	for i := range os.Offsets {
		if same, err := c.sameAnnotation(os.Offsets[i], ns.Offsets[i]); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

func (c *classComparer) sameAnnotation(o, n uint32) (bool, error) {
	oa, err := c.old.d.ReadAnnotation(o)
	if err != nil {
		return false, err
	}
	na, err := c.new.d.ReadAnnotation(n)
	if err != nil {
		return false, err
	}
	if oa.Visibility != na.Visibility {
		return false, nil
	}
	return c.sameEncodedAnnotation(&oa.Value, &na.Value)
}

func (c *classComparer) sameEncodedAnnotation(o, n *dex.EncodedAnnotation) (bool, error) {
	if len(o.Elements) != len(n.Elements) {
		return false, nil
	}
	if same, err := c.sameType(o.TypeIndex, n.TypeIndex); err != nil || !same {
		return false, err
	}
	for i := range o.Elements {
		oe, ne := o.Elements[i], n.Elements[i]
		if same, err := c.sameString(oe.NameIndex, ne.NameIndex); err != nil || !same {
			return false, err
		}
		if same, err := c.sameValue(oe.Value, ne.Value); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

func (c *classComparer) sameValues(o, n []dex.EncodedValue) (bool, error) {
	if len(o) != len(n) {
		return false, nil
	}
	for i := range o {
		if same, err := c.sameValue(o[i], n[i]); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// sameValue compares two encoded values, resolving references to names.
func (c *classComparer) sameValue(o, n dex.EncodedValue) (bool, error) {
	if o.Type != n.Type {
		return false, nil
	}
	switch o.Type {
	case dex.ValueByte, dex.ValueShort, dex.ValueChar, dex.ValueInt, dex.ValueLong:
		return o.Int == n.Int, nil
	case dex.ValueFloat, dex.ValueDouble:
		return o.Bits == n.Bits, nil
	case dex.ValueBoolean:
		return o.Bool == n.Bool, nil
	case dex.ValueNull:
		return true, nil
	case dex.ValueString:
		return c.sameString(o.Index, n.Index)
	case dex.ValueTypeRef:
		return c.sameType(o.Index, n.Index)
	case dex.ValueField, dex.ValueEnum:
		return c.sameField(o.Index, n.Index)
	case dex.ValueMethod:
		return c.sameMethod(o.Index, n.Index)
	case dex.ValueMethodType:
		return c.sameProto(o.Index, n.Index)
	case dex.ValueMethodHandle:
		// method handles have no table in this format version
		return o.Index == n.Index, nil
	case dex.ValueArray:
		return c.sameValues(o.Array, n.Array)
	case dex.ValueAnnotation:
		if o.Annotation == nil || n.Annotation == nil {
			return o.Annotation == n.Annotation, nil
		}
		return c.sameEncodedAnnotation(o.Annotation, n.Annotation)
	}
	return false, fmt.Errorf("%w: %s", dex.ErrUnexpectedEncodedValueTag, o.Type)
}
