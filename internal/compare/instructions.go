package compare

import (
	"bytes"
	"slices"

	"dexdiff/internal/dalvik"
	"dexdiff/internal/dex"
)

// insnComparer compares two method bodies instruction by instruction.
// Branches are followed into their targets once per address pair.
type insnComparer struct {
	c        *classComparer
	old, new dalvik.Stream
	visited  map[[2]uint32]bool
}

func (c *classComparer) sameInstructions(o, n []uint16) (bool, error) {
	if len(o) == 0 || len(n) == 0 {
		return len(o) == len(n), nil
	}
	os, err := dalvik.Decode(o)
	if err != nil {
		return false, err
	}
	ns, err := dalvik.Decode(n)
	if err != nil {
		return false, err
	}
	if len(os) != len(ns) {
		return false, nil
	}
	ic := &insnComparer{c: c, old: os, new: ns, visited: make(map[[2]uint32]bool)}
	for i := range os {
		if same, err := ic.same(&os[i], &ns[i]); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

// sameAt compares the instructions starting at two addresses. Addresses
// that start no instruction on either side match each other.
func (ic *insnComparer) sameAt(oaddr, naddr int32) (bool, error) {
	var o, n *dalvik.Inst
	var oFound, nFound bool
	if oaddr >= 0 {
		o, oFound = ic.old.At(uint32(oaddr))
	}
	if naddr >= 0 {
		n, nFound = ic.new.At(uint32(naddr))
	}
	if !oFound || !nFound {
		return oFound == nFound, nil
	}
	return ic.same(o, n)
}

func (ic *insnComparer) same(o, n *dalvik.Inst) (bool, error) {
	if o.Op.Promoted() != n.Op.Promoted() {
		return false, nil
	}
	if (o.Payload == nil) != (n.Payload == nil) {
		return false, nil
	}
	if o.Payload != nil {
		if ic.visit(o, n) {
			return true, nil
		}
		return ic.samePayload(o, n)
	}
	if !slices.Equal(o.Regs, n.Regs) {
		return false, nil
	}
	switch {
	case o.Format.IsBranch():
		if ic.visit(o, n) {
			return true, nil
		}
		return ic.sameAt(o.Target, n.Target)
	case o.IndexKind != dalvik.IndexNone:
		return ic.sameIndex(o.IndexKind, o.Index, n.Index)
	}
	return o.Literal == n.Literal, nil
}

// visit marks a pair as compared and reports whether it already was.
func (ic *insnComparer) visit(o, n *dalvik.Inst) bool {
	key := [2]uint32{o.Addr, n.Addr}
	if ic.visited[key] {
		return true
	}
	ic.visited[key] = true
	return false
}

func (ic *insnComparer) sameIndex(kind dalvik.IndexKind, o, n uint32) (bool, error) {
	switch kind {
	case dalvik.IndexString:
		return ic.c.sameString(o, n)
	case dalvik.IndexType:
		return ic.c.sameType(o, n)
	case dalvik.IndexField:
		return ic.c.sameField(o, n)
	case dalvik.IndexMethod:
		return ic.c.sameMethod(o, n)
	}
	return o == n, nil
}

func (ic *insnComparer) samePayload(o, n *dalvik.Inst) (bool, error) {
	if o.Format != n.Format {
		return false, nil
	}
	op, np := o.Payload, n.Payload
	switch o.Format {
	case dalvik.FormatPackedSwitchPayload, dalvik.FormatSparseSwitchPayload:
		if op.FirstKey != np.FirstKey || !slices.Equal(op.Keys, np.Keys) || len(op.Targets) != len(np.Targets) {
			return false, nil
		}
		for i := range op.Targets {
			if same, err := ic.sameAt(op.Targets[i], np.Targets[i]); err != nil || !same {
				return false, err
			}
		}
		return true, nil
	case dalvik.FormatFillArrayDataPayload:
		return op.ElementWidth == np.ElementWidth &&
			op.ElementCount == np.ElementCount &&
			bytes.Equal(op.Data, np.Data), nil
	}
	return false, dex.ErrMalformedEncoding
}
