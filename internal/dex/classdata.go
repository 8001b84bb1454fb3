package dex

// ClassData holds the members of a class. Field and method indices are
// absolute here; the encoding stores each list as deltas from the previous
// entry, restarting at the first entry of every list.
type ClassData struct {
	StaticFields   []EncodedField
	InstanceFields []EncodedField
	DirectMethods  []EncodedMethod
	VirtualMethods []EncodedMethod
}

type EncodedField struct {
	FieldIndex  uint32
	AccessFlags uint32
}

type EncodedMethod struct {
	MethodIndex uint32
	AccessFlags uint32
	CodeOffset  uint32
}

func ReadClassData(b *Buffer) (ClassData, error) {
	r := &reader{b: b}
	nsf, nif, ndm, nvm := r.ulebCount(), r.ulebCount(), r.ulebCount(), r.ulebCount()
	cd := ClassData{
		StaticFields:   readFields(r, nsf),
		InstanceFields: readFields(r, nif),
		DirectMethods:  readMethods(r, ndm),
		VirtualMethods: readMethods(r, nvm),
	}
	return cd, r.err
}

func readFields(r *reader, n int) []EncodedField {
	if r.err != nil {
		return nil
	}
	out := make([]EncodedField, n)
	var idx uint32
	for i := range out {
		idx += r.uleb()
		out[i] = EncodedField{FieldIndex: idx, AccessFlags: r.uleb()}
	}
	return out
}

func readMethods(r *reader, n int) []EncodedMethod {
	if r.err != nil {
		return nil
	}
	out := make([]EncodedMethod, n)
	var idx uint32
	for i := range out {
		idx += r.uleb()
		out[i] = EncodedMethod{MethodIndex: idx, AccessFlags: r.uleb(), CodeOffset: r.uleb()}
	}
	return out
}

func (c ClassData) ByteCount() int {
	n := ULEB128Size(uint32(len(c.StaticFields))) + ULEB128Size(uint32(len(c.InstanceFields))) +
		ULEB128Size(uint32(len(c.DirectMethods))) + ULEB128Size(uint32(len(c.VirtualMethods)))
	n += fieldsByteCount(c.StaticFields) + fieldsByteCount(c.InstanceFields)
	n += methodsByteCount(c.DirectMethods) + methodsByteCount(c.VirtualMethods)
	return n
}

func fieldsByteCount(fs []EncodedField) int {
	n := 0
	var prev uint32
	for _, f := range fs {
		n += ULEB128Size(f.FieldIndex-prev) + ULEB128Size(f.AccessFlags)
		prev = f.FieldIndex
	}
	return n
}

func methodsByteCount(ms []EncodedMethod) int {
	n := 0
	var prev uint32
	for _, m := range ms {
		n += ULEB128Size(m.MethodIndex-prev) + ULEB128Size(m.AccessFlags) + ULEB128Size(m.CodeOffset)
		prev = m.MethodIndex
	}
	return n
}

func (c ClassData) Encode(b *Buffer) {
	b.WriteULEB128(uint32(len(c.StaticFields)))
	b.WriteULEB128(uint32(len(c.InstanceFields)))
	b.WriteULEB128(uint32(len(c.DirectMethods)))
	b.WriteULEB128(uint32(len(c.VirtualMethods)))
	encodeFields(b, c.StaticFields)
	encodeFields(b, c.InstanceFields)
	encodeMethods(b, c.DirectMethods)
	encodeMethods(b, c.VirtualMethods)
}

func encodeFields(b *Buffer, fs []EncodedField) {
	var prev uint32
	for _, f := range fs {
		b.WriteULEB128(f.FieldIndex - prev)
		b.WriteULEB128(f.AccessFlags)
		prev = f.FieldIndex
	}
}

func encodeMethods(b *Buffer, ms []EncodedMethod) {
	var prev uint32
	for _, m := range ms {
		b.WriteULEB128(m.MethodIndex - prev)
		b.WriteULEB128(m.AccessFlags)
		b.WriteULEB128(m.CodeOffset)
		prev = m.MethodIndex
	}
}
