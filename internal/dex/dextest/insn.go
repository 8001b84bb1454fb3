package dextest

type refKind int

const (
	refNone refKind = iota
	refString
	refType
	refField
	refMethod
)

// Insn is one instruction. Instructions carrying a reference get the
// resolved index patched into their second code unit, and third for the
// 32-bit form, when the file is built.
type Insn struct {
	Units  []uint16
	kind   refKind
	wide   bool
	str    string
	field  FieldRef
	method MethodRef
}

// Raw is an instruction given as code units, without references.
func Raw(units ...uint16) Insn { return Insn{Units: units} }

func op(opcode uint8, hi uint8) uint16 { return uint16(hi)<<8 | uint16(opcode) }

func Nop() Insn        { return Raw(0x0000) }
func ReturnVoid() Insn { return Raw(0x000e) }
func Return(reg uint8) Insn {
	return Raw(op(0x0f, reg))
}

// Const4 is const/4 vA, #lit with lit in [-8, 7].
func Const4(reg uint8, lit int8) Insn {
	return Raw(op(0x12, uint8(lit)<<4|reg&0xf))
}

// Const16 is const/16 vAA, #lit.
func Const16(reg uint8, lit int16) Insn {
	return Raw(op(0x13, reg), uint16(lit))
}

// Const is const vAA, #lit.
func Const(reg uint8, lit int32) Insn {
	return Raw(op(0x14, reg), uint16(lit), uint16(uint32(lit)>>16))
}

func ConstString(reg uint8, s string) Insn {
	return Insn{Units: []uint16{op(0x1a, reg), 0}, kind: refString, str: s}
}

func ConstStringJumbo(reg uint8, s string) Insn {
	return Insn{Units: []uint16{op(0x1b, reg), 0, 0}, kind: refString, str: s, wide: true}
}

func ConstClass(reg uint8, desc string) Insn {
	return Insn{Units: []uint16{op(0x1c, reg), 0}, kind: refType, str: desc}
}

func NewInstance(reg uint8, desc string) Insn {
	return Insn{Units: []uint16{op(0x22, reg), 0}, kind: refType, str: desc}
}

func SGetObject(reg uint8, f FieldRef) Insn {
	return Insn{Units: []uint16{op(0x62, reg), 0}, kind: refField, field: f}
}

func SPut(reg uint8, f FieldRef) Insn {
	return Insn{Units: []uint16{op(0x67, reg), 0}, kind: refField, field: f}
}

// IGet is iget vA, vB, field.
func IGet(a, b uint8, f FieldRef) Insn {
	return Insn{Units: []uint16{op(0x52, b<<4|a&0xf), 0}, kind: refField, field: f}
}

// InvokeStatic is invoke-static {regs}, method with at most five registers.
func InvokeStatic(m MethodRef, regs ...uint8) Insn {
	return invoke(0x71, m, regs)
}

func InvokeVirtual(m MethodRef, regs ...uint8) Insn {
	return invoke(0x6e, m, regs)
}

func InvokeDirect(m MethodRef, regs ...uint8) Insn {
	return invoke(0x70, m, regs)
}

func invoke(opcode uint8, m MethodRef, regs []uint8) Insn {
	r := make([]uint8, 5)
	copy(r, regs)
	first := op(opcode, uint8(len(regs))<<4|r[4]&0xf)
	last := uint16(r[0]&0xf) | uint16(r[1]&0xf)<<4 | uint16(r[2]&0xf)<<8 | uint16(r[3]&0xf)<<12
	return Insn{Units: []uint16{first, 0, last}, kind: refMethod, method: m}
}

// InvokeStaticRange is invoke-static/range {vFirst .. vFirst+count-1}.
func InvokeStaticRange(m MethodRef, first uint16, count uint8) Insn {
	return Insn{Units: []uint16{op(0x77, count), 0, first}, kind: refMethod, method: m}
}

// Goto is goto +off in code units.
func Goto(off int8) Insn { return Raw(op(0x28, uint8(off))) }

func Goto16(off int16) Insn { return Raw(op(0x29, 0), uint16(off)) }

func Goto32(off int32) Insn {
	return Raw(op(0x2a, 0), uint16(off), uint16(uint32(off)>>16))
}

// IfEqz is if-eqz vAA, +off.
func IfEqz(reg uint8, off int16) Insn { return Raw(op(0x38, reg), uint16(off)) }

// AddIntLit8 is add-int/lit8 vAA, vBB, #lit.
func AddIntLit8(a, b uint8, lit int8) Insn {
	return Raw(op(0xd8, a), uint16(uint8(lit))<<8|uint16(b))
}

// PackedSwitch is packed-switch vAA, +off.
func PackedSwitch(reg uint8, off int32) Insn {
	return Raw(op(0x2b, reg), uint16(off), uint16(uint32(off)>>16))
}

// SparseSwitch is sparse-switch vAA, +off.
func SparseSwitch(reg uint8, off int32) Insn {
	return Raw(op(0x2c, reg), uint16(off), uint16(uint32(off)>>16))
}

// FillArrayData is fill-array-data vAA, +off.
func FillArrayData(reg uint8, off int32) Insn {
	return Raw(op(0x26, reg), uint16(off), uint16(uint32(off)>>16))
}

// PackedSwitchPayload lays out a packed-switch table. Targets are relative
// to the switch instruction.
func PackedSwitchPayload(firstKey int32, targets ...int32) Insn {
	u := []uint16{0x0100, uint16(len(targets)), uint16(firstKey), uint16(uint32(firstKey) >> 16)}
	for _, t := range targets {
		u = append(u, uint16(t), uint16(uint32(t)>>16))
	}
	return Raw(u...)
}

// SparseSwitchPayload lays out a sparse-switch table.
func SparseSwitchPayload(keys []int32, targets []int32) Insn {
	u := []uint16{0x0200, uint16(len(keys))}
	for _, k := range keys {
		u = append(u, uint16(k), uint16(uint32(k)>>16))
	}
	for _, t := range targets {
		u = append(u, uint16(t), uint16(uint32(t)>>16))
	}
	return Raw(u...)
}

// FillArrayDataPayload lays out a fill-array-data table of elements of
// width bytes each.
func FillArrayDataPayload(width uint16, data []byte) Insn {
	n := len(data) / int(width)
	u := []uint16{0x0300, width, uint16(n), uint16(uint32(n) >> 16)}
	for i := 0; i < len(data); i += 2 {
		v := uint16(data[i])
		if i+1 < len(data) {
			v |= uint16(data[i+1]) << 8
		}
		u = append(u, v)
	}
	return Raw(u...)
}
