package compare

import "dexdiff/internal/dex"

// sameDebugInfo replays both op streams token by token. Local variable
// names, types and source files are compared by value.
func (c *classComparer) sameDebugInfo(o, n uint32) (bool, error) {
	if decided, same := offsets(o, n); decided {
		return same, nil
	}
	od, err := c.old.d.ReadDebugInfo(o)
	if err != nil {
		return false, err
	}
	nd, err := c.new.d.ReadDebugInfo(n)
	if err != nil {
		return false, err
	}
	if od.LineStart != nd.LineStart || len(od.ParameterNames) != len(nd.ParameterNames) {
		return false, nil
	}
	for i := range od.ParameterNames {
		same, err := c.sameString(uint32(od.ParameterNames[i]), uint32(nd.ParameterNames[i]))
		if err != nil || !same {
			return false, err
		}
	}

	oops, err := od.Ops()
	if err != nil {
		return false, err
	}
	nops, err := nd.Ops()
	if err != nil {
		return false, err
	}
	if len(oops) != len(nops) {
		return false, nil
	}
	for i := range oops {
		if same, err := c.sameDebugOp(oops[i], nops[i]); err != nil || !same {
			return false, err
		}
	}
	return true, nil
}

func (c *classComparer) sameDebugOp(o, n dex.DebugOp) (bool, error) {
	if o.Opcode != n.Opcode {
		return false, nil
	}
	switch o.Opcode {
	case dex.DbgAdvancePC:
		return o.AddrDiff == n.AddrDiff, nil
	case dex.DbgAdvanceLine:
		return o.LineDiff == n.LineDiff, nil
	case dex.DbgStartLocal, dex.DbgStartLocalExtended:
		if o.Register != n.Register {
			return false, nil
		}
		return all(
			func() (bool, error) { return c.sameString(uint32(o.Name), uint32(n.Name)) },
			func() (bool, error) { return c.sameType(uint32(o.Type), uint32(n.Type)) },
			func() (bool, error) {
				if o.Opcode != dex.DbgStartLocalExtended {
					return true, nil
				}
				return c.sameString(uint32(o.Signature), uint32(n.Signature))
			},
		)
	case dex.DbgEndLocal, dex.DbgRestartLocal:
		return o.Register == n.Register, nil
	case dex.DbgSetFile:
		return c.sameString(uint32(o.Name), uint32(n.Name))
	}
	return true, nil
}
