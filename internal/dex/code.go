package dex

// Code is a method body.
type Code struct {
	RegistersSize   uint16
	InsSize         uint16
	OutsSize        uint16
	DebugInfoOffset uint32
	Instructions    []uint16
	Tries           []Try
	CatchHandlers   []CatchHandler
}

// Try covers InstructionCount code units from StartAddress. HandlerIndex
// indexes Code.CatchHandlers.
type Try struct {
	StartAddress     uint32
	InstructionCount uint16
	HandlerIndex     uint16
}

// CatchHandler lists typed handlers in order and an optional catch-all
// address, which is -1 when absent.
type CatchHandler struct {
	TypeIndices     []uint32
	Addresses       []uint32
	CatchAllAddress int32
	// offset of the handler from the start of the handler list
	Offset int
}

func ReadCode(b *Buffer) (Code, error) {
	r := &reader{b: b}
	c := Code{
		RegistersSize: r.u16(),
		InsSize:       r.u16(),
		OutsSize:      r.u16(),
	}
	triesSize := int(r.u16())
	c.DebugInfoOffset = r.u32()
	insnsSize := r.count(2)
	if r.err != nil {
		return Code{}, r.err
	}
	c.Instructions = make([]uint16, insnsSize)
	for i := range c.Instructions {
		c.Instructions[i] = r.u16()
	}
	if triesSize == 0 || r.err != nil {
		return c, r.err
	}
	if insnsSize&1 == 1 {
		r.u16()
	}
	triesStart := b.Pos()
	r.seek(triesStart + 8*triesSize)
	handlersStart := b.Pos()
	nh := r.ulebCount()
	c.CatchHandlers = make([]CatchHandler, 0, nh)
	for i := 0; i < nh && r.err == nil; i++ {
		h := CatchHandler{Offset: b.Pos() - handlersStart}
		size := r.sleb()
		n := size
		if n < 0 {
			n = -n
		}
		if r.err == nil && int(n) > b.Remaining() {
			return Code{}, malformed("catch handler of %d pairs at 0x%x", n, b.Pos())
		}
		h.TypeIndices = make([]uint32, n)
		h.Addresses = make([]uint32, n)
		for j := range h.TypeIndices {
			h.TypeIndices[j] = r.uleb()
			h.Addresses[j] = r.uleb()
		}
		h.CatchAllAddress = -1
		if size <= 0 {
			h.CatchAllAddress = int32(r.uleb())
		}
		c.CatchHandlers = append(c.CatchHandlers, h)
	}
	end := b.Pos()
	r.seek(triesStart)
	c.Tries = make([]Try, triesSize)
	for i := range c.Tries {
		t := Try{StartAddress: r.u32(), InstructionCount: r.u16()}
		off := int(r.u16())
		t.HandlerIndex = 0xffff
		for hi, h := range c.CatchHandlers {
			if h.Offset == off {
				t.HandlerIndex = uint16(hi)
				break
			}
		}
		if r.err == nil && t.HandlerIndex == 0xffff {
			return Code{}, malformed("try %d refers to unknown handler offset %d", i, off)
		}
		c.Tries[i] = t
	}
	r.seek(end)
	return c, r.err
}

func handlerSize(h CatchHandler) int32 {
	if h.CatchAllAddress != -1 {
		return -int32(len(h.TypeIndices))
	}
	return int32(len(h.TypeIndices))
}

func catchHandlerByteCount(h CatchHandler) int {
	n := SLEB128Size(handlerSize(h))
	for i := range h.TypeIndices {
		n += ULEB128Size(h.TypeIndices[i]) + ULEB128Size(h.Addresses[i])
	}
	if h.CatchAllAddress != -1 {
		n += ULEB128Size(uint32(h.CatchAllAddress))
	}
	return n
}

func (c Code) ByteCount() int {
	n := 16 + 2*len(c.Instructions)
	if len(c.Tries) == 0 {
		return n
	}
	if len(c.Instructions)&1 == 1 {
		n += 2
	}
	n += 8 * len(c.Tries)
	n += ULEB128Size(uint32(len(c.CatchHandlers)))
	for _, h := range c.CatchHandlers {
		n += catchHandlerByteCount(h)
	}
	return n
}

// Encode writes the code item. Handler offsets are recomputed, so the Offset
// fields of c.CatchHandlers are ignored.
func (c Code) Encode(b *Buffer) {
	b.WriteUint16(c.RegistersSize)
	b.WriteUint16(c.InsSize)
	b.WriteUint16(c.OutsSize)
	b.WriteUint16(uint16(len(c.Tries)))
	b.WriteUint32(c.DebugInfoOffset)
	b.WriteUint32(uint32(len(c.Instructions)))
	for _, u := range c.Instructions {
		b.WriteUint16(u)
	}
	if len(c.Tries) == 0 {
		return
	}
	if len(c.Instructions)&1 == 1 {
		b.WriteUint16(0)
	}
	triesStart := b.Pos()
	b.WriteBytes(make([]byte, 8*len(c.Tries)))
	handlersStart := b.Pos()
	offsets := make([]int, len(c.CatchHandlers))
	b.WriteULEB128(uint32(len(c.CatchHandlers)))
	for i, h := range c.CatchHandlers {
		offsets[i] = b.Pos() - handlersStart
		b.WriteSLEB128(handlerSize(h))
		for j := range h.TypeIndices {
			b.WriteULEB128(h.TypeIndices[j])
			b.WriteULEB128(h.Addresses[j])
		}
		if h.CatchAllAddress != -1 {
			b.WriteULEB128(uint32(h.CatchAllAddress))
		}
	}
	end := b.Pos()
	b.pos = triesStart
	for _, t := range c.Tries {
		b.WriteUint32(t.StartAddress)
		b.WriteUint16(t.InstructionCount)
		off := 0
		if int(t.HandlerIndex) < len(offsets) {
			off = offsets[t.HandlerIndex]
		}
		b.WriteUint16(uint16(off))
	}
	b.pos = end
}
