package dex

// Debug info opcodes. Any opcode at or above DbgFirstSpecial is a special
// opcode with no operands.
const (
	DbgEndSequence        = 0x00
	DbgAdvancePC          = 0x01
	DbgAdvanceLine        = 0x02
	DbgStartLocal         = 0x03
	DbgStartLocalExtended = 0x04
	DbgEndLocal           = 0x05
	DbgRestartLocal       = 0x06
	DbgSetPrologueEnd     = 0x07
	DbgSetEpilogueBegin   = 0x08
	DbgSetFile            = 0x09
	DbgFirstSpecial       = 0x0a
)

// DebugInfoItem is a debug_info_item. ParameterNames holds string indices
// biased by -1, so NoIndex entries are stored as -1. OpStream is the raw
// state machine program including the terminating DbgEndSequence.
type DebugInfoItem struct {
	LineStart      uint32
	ParameterNames []int32
	OpStream       []byte
}

// DebugOp is one decoded instruction of a debug info program. Name, Type and
// Signature are uleb128p1 string or type indices (-1 when absent).
type DebugOp struct {
	Opcode    uint8
	Register  uint32
	AddrDiff  uint32
	LineDiff  int32
	Name      int32
	Type      int32
	Signature int32
}

func ReadDebugInfoItem(b *Buffer) (DebugInfoItem, error) {
	r := &reader{b: b}
	d := DebugInfoItem{LineStart: r.uleb()}
	n := r.ulebCount()
	if r.err != nil {
		return DebugInfoItem{}, r.err
	}
	d.ParameterNames = make([]int32, n)
	for i := range d.ParameterNames {
		d.ParameterNames[i] = r.ulebp1()
	}
	if r.err != nil {
		return DebugInfoItem{}, r.err
	}
	start := b.Pos()
	for {
		op, err := readDebugOp(b)
		if err != nil {
			return DebugInfoItem{}, err
		}
		if op.Opcode == DbgEndSequence {
			break
		}
	}
	d.OpStream = append([]byte(nil), b.data[start:b.Pos()]...)
	return d, nil
}

func readDebugOp(b *Buffer) (DebugOp, error) {
	r := &reader{b: b}
	op := DebugOp{Opcode: r.u8(), Name: -1, Type: -1, Signature: -1}
	switch op.Opcode {
	case DbgAdvancePC:
		op.AddrDiff = r.uleb()
	case DbgAdvanceLine:
		op.LineDiff = r.sleb()
	case DbgStartLocal, DbgStartLocalExtended:
		op.Register = r.uleb()
		op.Name = r.ulebp1()
		op.Type = r.ulebp1()
		if op.Opcode == DbgStartLocalExtended {
			op.Signature = r.ulebp1()
		}
	case DbgEndLocal, DbgRestartLocal:
		op.Register = r.uleb()
	case DbgSetFile:
		op.Name = r.ulebp1()
	}
	return op, r.err
}

// Ops decodes the op stream up to and including the end of sequence.
func (d DebugInfoItem) Ops() ([]DebugOp, error) {
	b := NewBuffer(d.OpStream)
	var ops []DebugOp
	for b.Remaining() > 0 {
		op, err := readDebugOp(b)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		if op.Opcode == DbgEndSequence {
			break
		}
	}
	return ops, nil
}

func (d DebugInfoItem) ByteCount() int {
	n := ULEB128Size(d.LineStart) + ULEB128Size(uint32(len(d.ParameterNames)))
	for _, p := range d.ParameterNames {
		n += ULEB128Size(uint32(p + 1))
	}
	return n + len(d.OpStream)
}

func (d DebugInfoItem) Encode(b *Buffer) {
	b.WriteULEB128(d.LineStart)
	b.WriteULEB128(uint32(len(d.ParameterNames)))
	for _, p := range d.ParameterNames {
		b.WriteULEB128p1(p)
	}
	b.WriteBytes(d.OpStream)
}

// AppendDebugOp appends the encoding of op to dst.
func AppendDebugOp(dst []byte, op DebugOp) []byte {
	dst = append(dst, op.Opcode)
	switch op.Opcode {
	case DbgAdvancePC:
		dst = AppendULEB128(dst, op.AddrDiff)
	case DbgAdvanceLine:
		dst = AppendSLEB128(dst, op.LineDiff)
	case DbgStartLocal, DbgStartLocalExtended:
		dst = AppendULEB128(dst, op.Register)
		dst = AppendULEB128(dst, uint32(op.Name+1))
		dst = AppendULEB128(dst, uint32(op.Type+1))
		if op.Opcode == DbgStartLocalExtended {
			dst = AppendULEB128(dst, uint32(op.Signature+1))
		}
	case DbgEndLocal, DbgRestartLocal:
		dst = AppendULEB128(dst, op.Register)
	case DbgSetFile:
		dst = AppendULEB128(dst, uint32(op.Name+1))
	}
	return dst
}
