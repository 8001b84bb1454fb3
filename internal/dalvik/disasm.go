package dalvik

import (
	"fmt"
	"strconv"
	"strings"

	"dexdiff/internal/dex"
)

// Resolver turns index operands into names. *dex.Dex implements it.
type Resolver interface {
	String(i uint32) (string, error)
	TypeName(i uint32) (string, error)
	FieldIdentity(i uint32) (dex.FieldRef, error)
	MethodIdentity(i uint32) (dex.MethodRef, error)
}

func hexLit(v int64) string {
	if v < 0 {
		return "-0x" + strconv.FormatUint(uint64(-v), 16)
	}
	return "0x" + strconv.FormatUint(uint64(v), 16)
}

func regList(regs []uint16) string {
	parts := make([]string, len(regs))
	for i, r := range regs {
		parts[i] = "v" + strconv.Itoa(int(r))
	}
	return strings.Join(parts, ", ")
}

// ResolveIndex renders the index operand of in. Unresolvable indices are
// printed raw with their kind.
func ResolveIndex(r Resolver, in *Inst) string {
	raw := fmt.Sprintf("%s@%d", in.IndexKind, in.Index)
	if r == nil {
		return raw
	}
	var (
		s   string
		err error
	)
	switch in.IndexKind {
	case IndexString:
		s, err = r.String(in.Index)
		s = strconv.Quote(s)
	case IndexType:
		s, err = r.TypeName(in.Index)
	case IndexField:
		var f dex.FieldRef
		f, err = r.FieldIdentity(in.Index)
		s = f.String()
	case IndexMethod:
		var m dex.MethodRef
		m, err = r.MethodIdentity(in.Index)
		s = m.String()
	default:
		return ""
	}
	if err != nil {
		return raw
	}
	return s
}

// Text renders in in smali-like syntax. r may be nil, in which case index
// operands are printed raw.
func (in *Inst) Text(r Resolver) string {
	if p := in.Payload; p != nil {
		targets := make([]string, len(p.Targets))
		for i, t := range p.Targets {
			targets[i] = fmt.Sprintf("%04x", t)
		}
		switch in.Format {
		case FormatPackedSwitchPayload:
			return fmt.Sprintf(".packed-switch %s [%s]", hexLit(int64(p.FirstKey)), strings.Join(targets, ", "))
		case FormatSparseSwitchPayload:
			pairs := make([]string, len(p.Keys))
			for i, k := range p.Keys {
				pairs[i] = hexLit(int64(k)) + " -> " + targets[i]
			}
			return ".sparse-switch [" + strings.Join(pairs, ", ") + "]"
		default:
			return fmt.Sprintf(".array-data %d [% x]", p.ElementWidth, p.Data)
		}
	}

	var ops []string
	switch in.Format {
	case Format35c, Format3rc:
		ops = append(ops, "{"+regList(in.Regs)+"}")
	default:
		if len(in.Regs) > 0 {
			ops = append(ops, regList(in.Regs))
		}
	}
	switch {
	case in.IndexKind != IndexNone:
		ops = append(ops, ResolveIndex(r, in))
	case in.Format.IsBranch():
		ops = append(ops, fmt.Sprintf("%04x", in.Target))
	case in.Format == Format11n || in.Format == Format21s || in.Format == Format21h ||
		in.Format == Format31i || in.Format == Format22b || in.Format == Format22s || in.Format == Format51l:
		ops = append(ops, hexLit(in.Literal))
	}
	if len(ops) == 0 {
		return in.Op.Name()
	}
	return in.Op.Name() + " " + strings.Join(ops, ", ")
}

// Listing renders a stream one instruction per line with addresses.
func (s Stream) Listing(r Resolver) string {
	var sb strings.Builder
	for i := range s {
		fmt.Fprintf(&sb, "%04x: %s\n", s[i].Addr, s[i].Text(r))
	}
	return sb.String()
}

var accessNames = []struct {
	flag uint32
	name string
}{
	{dex.AccPublic, "public"},
	{dex.AccPrivate, "private"},
	{dex.AccProtected, "protected"},
	{dex.AccStatic, "static"},
	{dex.AccFinal, "final"},
	{dex.AccSynchronized, "synchronized"},
	{dex.AccNative, "native"},
	{dex.AccInterface, "interface"},
	{dex.AccAbstract, "abstract"},
	{dex.AccStrict, "strictfp"},
	{dex.AccSynthetic, "synthetic"},
	{dex.AccAnnotation, "annotation"},
	{dex.AccEnum, "enum"},
	{dex.AccConstructor, "constructor"},
}

// AccessString renders access flags the way smali does. Bits that mean
// different things on fields and methods (0x40, 0x80) are left out.
func AccessString(flags uint32) string {
	var parts []string
	for _, a := range accessNames {
		if flags&a.flag != 0 {
			parts = append(parts, a.name)
		}
	}
	return strings.Join(parts, " ")
}

// DisassembleClass renders one class definition with all its members and
// method bodies.
func DisassembleClass(d *dex.Dex, cd dex.ClassDef) (string, error) {
	var sb strings.Builder
	desc, err := d.ClassDescriptor(cd)
	if err != nil {
		return "", err
	}
	fmt.Fprintf(&sb, ".class %s\n", strings.TrimSpace(AccessString(cd.AccessFlags)+" "+desc))
	if cd.SupertypeIndex != dex.NoIndex {
		super, err := d.TypeName(cd.SupertypeIndex)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, ".super %s\n", super)
	}
	if cd.SourceFileIndex != dex.NoIndex {
		src, err := d.String(cd.SourceFileIndex)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, ".source %s\n", strconv.Quote(src))
	}
	ifaces, err := d.InterfacesOf(cd)
	if err != nil {
		return "", err
	}
	for _, t := range ifaces {
		name, err := d.TypeName(uint32(t))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, ".implements %s\n", name)
	}

	data, err := d.ClassData(cd)
	if err != nil {
		return "", err
	}
	for _, list := range [][]dex.EncodedField{data.StaticFields, data.InstanceFields} {
		for _, f := range list {
			ref, err := d.FieldIdentity(f.FieldIndex)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "\n.field %s\n", strings.TrimSpace(AccessString(f.AccessFlags)+" "+ref.Name+":"+ref.Type))
		}
	}
	for _, list := range [][]dex.EncodedMethod{data.DirectMethods, data.VirtualMethods} {
		for _, m := range list {
			ref, err := d.MethodIdentity(m.MethodIndex)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&sb, "\n.method %s\n", strings.TrimSpace(AccessString(m.AccessFlags)+" "+ref.Name+ref.Proto.String()))
			code, ok, err := d.Code(m)
			if err != nil {
				return "", err
			}
			if ok {
				fmt.Fprintf(&sb, "    .registers %d\n", code.RegistersSize)
				stream, err := Decode(code.Instructions)
				if err != nil {
					return "", fmt.Errorf("%s: %w", ref, err)
				}
				for _, line := range strings.SplitAfter(stream.Listing(d), "\n") {
					if line != "" {
						sb.WriteString("    " + line)
					}
				}
				for _, t := range code.Tries {
					fmt.Fprintf(&sb, "    .catch %04x-%04x -> handler %d\n", t.StartAddress, t.StartAddress+uint32(t.InstructionCount), t.HandlerIndex)
				}
			}
			sb.WriteString(".end method\n")
		}
	}
	return sb.String(), nil
}
