// Package dalvik decodes Dalvik bytecode into instructions with typed
// operands.
package dalvik

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInvalidInstruction is returned for unused opcodes, truncated
// instructions and malformed payloads.
var ErrInvalidInstruction = errors.New("invalid instruction")

// Inst is a decoded instruction. Target is absolute, in code units from
// the start of the method. Payload is set for the pseudo-instructions that
// hold switch tables and array data; their Op is OpNop.
type Inst struct {
	Addr      uint32
	Op        Opcode
	Format    Format
	Index     uint32
	IndexKind IndexKind
	Literal   int64
	Target    int32
	Regs      []uint16
	Payload   *Payload
	Size      int
}

// Payload is the body of a packed-switch, sparse-switch or
// fill-array-data pseudo-instruction. Switch targets are absolute and
// relative to the switch that refers to the table.
type Payload struct {
	FirstKey     int32
	Keys         []int32
	Targets      []int32
	ElementWidth uint16
	ElementCount uint32
	Data         []byte
}

// Stream is a method body in address order.
type Stream []Inst

// At returns the instruction starting at addr.
func (s Stream) At(addr uint32) (*Inst, bool) {
	i := sort.Search(len(s), func(i int) bool { return s[i].Addr >= addr })
	if i < len(s) && s[i].Addr == addr {
		return &s[i], true
	}
	return nil, false
}

func invalid(addr int, format string, args ...any) error {
	return fmt.Errorf("%w at 0x%04x: %s", ErrInvalidInstruction, addr, fmt.Sprintf(format, args...))
}

func payloadUnits(insns []uint16, addr int) (Format, int, error) {
	rest := insns[addr:]
	u32 := func(i int) uint64 { return uint64(rest[i]) | uint64(rest[i+1])<<16 }
	switch rest[0] {
	case 0x0100:
		if len(rest) < 2 {
			break
		}
		return FormatPackedSwitchPayload, 4 + 2*int(rest[1]), nil
	case 0x0200:
		if len(rest) < 2 {
			break
		}
		return FormatSparseSwitchPayload, 2 + 4*int(rest[1]), nil
	case 0x0300:
		if len(rest) < 4 {
			break
		}
		n := (uint64(rest[1])*u32(2) + 1) / 2
		if n > uint64(len(rest)) {
			return 0, 0, invalid(addr, "fill-array-data payload of %d units", n)
		}
		return FormatFillArrayDataPayload, 4 + int(n), nil
	}
	return 0, 0, invalid(addr, "truncated payload")
}

func isPayload(u uint16) bool {
	return u&0xff == 0 && u>>8 >= 1 && u>>8 <= 3
}

// Decode decodes a whole instruction array.
func Decode(insns []uint16) (Stream, error) {
	// switch tables are addressed relative to the switch instruction, so
	// find the owners first
	owner := map[int]int{}
	for addr := 0; addr < len(insns); {
		u := insns[addr]
		var size int
		if isPayload(u) {
			_, n, err := payloadUnits(insns, addr)
			if err != nil {
				return nil, err
			}
			size = n
		} else {
			op := Opcode(u & 0xff)
			if !op.Valid() {
				return nil, invalid(addr, "unused opcode 0x%02x", uint8(op))
			}
			size = op.Format().units()
			if (op == OpPackedSwitch || op == OpSparseSwitch) && addr+3 <= len(insns) {
				off := int32(uint32(insns[addr+1]) | uint32(insns[addr+2])<<16)
				owner[addr+int(off)] = addr
			}
		}
		if addr+size > len(insns) {
			return nil, invalid(addr, "instruction of %d units overruns code of %d", size, len(insns))
		}
		addr += size
	}

	var out Stream
	for addr := 0; addr < len(insns); {
		var in Inst
		var err error
		if isPayload(insns[addr]) {
			base, ok := owner[addr]
			if !ok {
				base = addr
			}
			in, err = decodePayload(insns, addr, base)
		} else {
			in, err = decodeInst(insns, addr)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		addr += in.Size
	}
	return out, nil
}

func decodePayload(insns []uint16, addr, base int) (Inst, error) {
	f, size, err := payloadUnits(insns, addr)
	if err != nil {
		return Inst{}, err
	}
	u := insns[addr : addr+size]
	i32 := func(i int) int32 { return int32(uint32(u[i]) | uint32(u[i+1])<<16) }
	p := &Payload{}
	switch f {
	case FormatPackedSwitchPayload:
		n := int(u[1])
		p.FirstKey = i32(2)
		for i := 0; i < n; i++ {
			p.Targets = append(p.Targets, int32(base)+i32(4+2*i))
		}
	case FormatSparseSwitchPayload:
		n := int(u[1])
		for i := 0; i < n; i++ {
			p.Keys = append(p.Keys, i32(2+2*i))
		}
		for i := 0; i < n; i++ {
			p.Targets = append(p.Targets, int32(base)+i32(2+2*n+2*i))
		}
	case FormatFillArrayDataPayload:
		p.ElementWidth = u[1]
		p.ElementCount = uint32(i32(2))
		n := int(p.ElementWidth) * int(p.ElementCount)
		p.Data = make([]byte, n)
		for i := 0; i < n; i++ {
			w := u[4+i/2]
			if i&1 == 0 {
				p.Data[i] = byte(w)
			} else {
				p.Data[i] = byte(w >> 8)
			}
		}
	}
	return Inst{Addr: uint32(addr), Op: OpNop, Format: f, Payload: p, Size: size}, nil
}

func decodeInst(insns []uint16, addr int) (Inst, error) {
	u0 := insns[addr]
	op := Opcode(u0 & 0xff)
	f := op.Format()
	in := Inst{Addr: uint32(addr), Op: op, Format: f, IndexKind: op.IndexKind(), Size: f.units(), Target: -1}
	u := insns[addr : addr+in.Size]
	aa := u0 >> 8
	a4, b4 := (u0>>8)&0xf, u0>>12
	rel := func(off int32) int32 { return int32(addr) + off }
	u32 := func(i int) uint32 { return uint32(u[i]) | uint32(u[i+1])<<16 }

	switch f {
	case Format10x:
	case Format12x:
		in.Regs = []uint16{a4, b4}
	case Format11n:
		in.Regs = []uint16{a4}
		in.Literal = int64(int8(b4<<4) >> 4)
	case Format11x:
		in.Regs = []uint16{aa}
	case Format10t:
		in.Target = rel(int32(int8(aa)))
	case Format20t:
		in.Target = rel(int32(int16(u[1])))
	case Format22x:
		in.Regs = []uint16{aa, u[1]}
	case Format21t:
		in.Regs = []uint16{aa}
		in.Target = rel(int32(int16(u[1])))
	case Format21s:
		in.Regs = []uint16{aa}
		in.Literal = int64(int16(u[1]))
	case Format21h:
		in.Regs = []uint16{aa}
		if op == OpConstWideHigh16 {
			in.Literal = int64(int16(u[1])) << 48
		} else {
			in.Literal = int64(int16(u[1])) << 16
		}
	case Format21c:
		in.Regs = []uint16{aa}
		in.Index = uint32(u[1])
	case Format23x:
		in.Regs = []uint16{aa, u[1] & 0xff, u[1] >> 8}
	case Format22b:
		in.Regs = []uint16{aa, u[1] & 0xff}
		in.Literal = int64(int8(u[1] >> 8))
	case Format22t:
		in.Regs = []uint16{a4, b4}
		in.Target = rel(int32(int16(u[1])))
	case Format22s:
		in.Regs = []uint16{a4, b4}
		in.Literal = int64(int16(u[1]))
	case Format22c:
		in.Regs = []uint16{a4, b4}
		in.Index = uint32(u[1])
	case Format32x:
		in.Regs = []uint16{u[1], u[2]}
	case Format30t:
		in.Target = rel(int32(u32(1)))
	case Format31t:
		in.Regs = []uint16{aa}
		in.Target = rel(int32(u32(1)))
	case Format31i:
		in.Regs = []uint16{aa}
		in.Literal = int64(int32(u32(1)))
	case Format31c:
		in.Regs = []uint16{aa}
		in.Index = u32(1)
	case Format35c:
		count := int(b4)
		if count > 5 {
			return Inst{}, invalid(addr, "%s with %d registers", op, count)
		}
		in.Index = uint32(u[1])
		all := []uint16{u[2] & 0xf, (u[2] >> 4) & 0xf, (u[2] >> 8) & 0xf, u[2] >> 12, a4}
		in.Regs = all[:count]
	case Format3rc:
		count := int(aa)
		in.Index = uint32(u[1])
		in.Regs = make([]uint16, count)
		for i := range in.Regs {
			in.Regs[i] = u[2] + uint16(i)
		}
	case Format51l:
		in.Regs = []uint16{aa}
		in.Literal = int64(uint64(u32(1)) | uint64(u32(3))<<32)
	default:
		return Inst{}, invalid(addr, "unused opcode 0x%02x", uint8(op))
	}
	return in, nil
}
