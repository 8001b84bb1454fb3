package dextest

import (
	"sort"
	"strconv"
	"strings"

	"dexdiff/internal/dex"
)

type writer struct {
	t         *tables
	toc       *dex.TableOfContents
	buf       *dex.Buffer
	typeLists map[string]uint32
}

// per-class offsets produced while writing the data sections
type classLayout struct {
	interfaces   uint32
	annotations  uint32
	classData    uint32
	staticValues uint32
	codes        map[string]uint32
}

// memberSet pairs a field or method index with the position of its
// annotation set in the sets being written.
type memberSet struct {
	index uint32
	set   int
}

func (w *writer) section(st dex.SectionType, n int, item func(i int)) []uint32 {
	if n == 0 {
		return nil
	}
	aligned := w.toc.Section(st).FourByteAligned
	if aligned {
		w.buf.AlignToFourBytesWithZeroFill()
	}
	start := uint32(w.buf.Pos())
	offs := make([]uint32, n)
	for i := 0; i < n; i++ {
		if aligned {
			w.buf.AlignToFourBytesWithZeroFill()
		}
		offs[i] = uint32(w.buf.Pos())
		item(i)
	}
	w.toc.SetPresent(st, start, uint32(n))
	return offs
}

func typeListKey(types []uint16) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.Itoa(int(t))
	}
	return strings.Join(parts, ",")
}

func (w *writer) typeList(names []string) []uint16 {
	out := make([]uint16, len(names))
	for i, n := range names {
		out[i] = uint16(w.t.typeIx[n])
	}
	return out
}

func (w *writer) write(classes []*Class) ([]byte, error) {
	for _, c := range classes {
		if err := validateClass(c); err != nil {
			return nil, err
		}
	}
	t := w.t
	layouts := make([]classLayout, len(classes))
	for i := range layouts {
		layouts[i].codes = map[string]uint32{}
	}

	idSizes := []struct {
		st   dex.SectionType
		n    int
		size int
	}{
		{dex.TypeStringIDs, len(t.strings), 4},
		{dex.TypeTypeIDs, len(t.types), 4},
		{dex.TypeProtoIDs, len(t.protos), 12},
		{dex.TypeFieldIDs, len(t.fields), 8},
		{dex.TypeMethodIDs, len(t.methods), 8},
		{dex.TypeClassDefs, len(classes), 32},
	}
	w.buf.WriteBytes(make([]byte, dex.HeaderSize))
	for _, s := range idSizes {
		if s.n == 0 {
			continue
		}
		w.toc.SetPresent(s.st, uint32(w.buf.Pos()), uint32(s.n))
		w.buf.WriteBytes(make([]byte, s.n*s.size))
	}
	dataOff := w.buf.Pos()

	// type lists
	var lists [][]uint16
	addList := func(names []string) {
		if len(names) == 0 {
			return
		}
		tl := w.typeList(names)
		key := typeListKey(tl)
		if _, ok := w.typeLists[key]; ok {
			return
		}
		w.typeLists[key] = 0
		lists = append(lists, tl)
	}
	for _, p := range t.protos {
		addList(p.params)
	}
	for _, c := range classes {
		addList(c.Interfaces)
	}
	offs := w.section(dex.TypeTypeLists, len(lists), func(i int) {
		dex.TypeList{Types: lists[i]}.Encode(w.buf)
	})
	for i, tl := range lists {
		w.typeLists[typeListKey(tl)] = offs[i]
	}
	listOff := func(names []string) uint32 {
		if len(names) == 0 {
			return 0
		}
		return w.typeLists[typeListKey(w.typeList(names))]
	}

	// annotations, then the sets, ref lists and directories that point at them
	var annItems []dex.Annotation
	annIndex := func(as []Annotation) []int {
		var idx []int
		for _, a := range as {
			idx = append(idx, len(annItems))
			annItems = append(annItems, dex.Annotation{Visibility: a.Visibility, Value: t.annotation(&a)})
		}
		return idx
	}
	type pendingSets struct {
		class   []int
		fields  map[uint32][]int
		methods map[uint32][]int
		params  map[uint32][][]int
	}
	pending := make([]pendingSets, len(classes))
	for ci, c := range classes {
		p := pendingSets{fields: map[uint32][]int{}, methods: map[uint32][]int{}, params: map[uint32][][]int{}}
		p.class = annIndex(c.Annotations)
		for _, list := range [][]Field{c.StaticFields, c.InstanceFields} {
			for _, f := range list {
				if len(f.Annotations) > 0 {
					p.fields[t.fieldIx[FieldRef{Class: c.Descriptor, Name: f.Name, Type: f.Type}]] = annIndex(f.Annotations)
				}
			}
		}
		for _, list := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range list {
				mi := t.method(MethodRef{Class: c.Descriptor, Name: m.Name, Return: m.Return, Params: m.Params})
				if len(m.Annotations) > 0 {
					p.methods[mi] = annIndex(m.Annotations)
				}
				if len(m.ParamAnnotations) > 0 {
					var sets [][]int
					for _, pa := range m.ParamAnnotations {
						sets = append(sets, annIndex(pa))
					}
					p.params[mi] = sets
				}
			}
		}
		pending[ci] = p
	}
	annOffs := w.section(dex.TypeAnnotations, len(annItems), func(i int) { annItems[i].Encode(w.buf) })
	resolve := func(idx []int) []uint32 {
		out := make([]uint32, len(idx))
		for i, x := range idx {
			out[i] = annOffs[x]
		}
		return out
	}

	var sets [][]uint32
	addSet := func(idx []int) int {
		sets = append(sets, resolve(idx))
		return len(sets) - 1
	}
	type setRefs struct {
		class   int
		fields  []memberSet
		methods []memberSet
		params  []struct {
			index uint32
			sets  []int
		}
	}
	refs := make([]setRefs, len(classes))
	for ci, p := range pending {
		r := setRefs{class: -1}
		if len(p.class) > 0 {
			r.class = addSet(p.class)
		}
		for _, fi := range sortedKeys(p.fields) {
			r.fields = append(r.fields, memberSet{index: fi, set: addSet(p.fields[fi])})
		}
		for _, mi := range sortedKeys(p.methods) {
			r.methods = append(r.methods, memberSet{index: mi, set: addSet(p.methods[mi])})
		}
		for _, mi := range sortedKeys(p.params) {
			var ss []int
			for _, pa := range p.params[mi] {
				if len(pa) == 0 {
					ss = append(ss, -1)
					continue
				}
				ss = append(ss, addSet(pa))
			}
			r.params = append(r.params, struct {
				index uint32
				sets  []int
			}{mi, ss})
		}
		refs[ci] = r
	}
	setOffs := w.section(dex.TypeAnnotationSets, len(sets), func(i int) {
		dex.AnnotationSet{Offsets: sets[i]}.Encode(w.buf)
	})

	var refLists [][]uint32
	refListIx := make([]map[uint32]int, len(classes))
	for ci, r := range refs {
		refListIx[ci] = map[uint32]int{}
		for _, p := range r.params {
			l := make([]uint32, len(p.sets))
			for i, s := range p.sets {
				if s >= 0 {
					l[i] = setOffs[s]
				}
			}
			refListIx[ci][p.index] = len(refLists)
			refLists = append(refLists, l)
		}
	}
	refOffs := w.section(dex.TypeAnnotationSetRefLists, len(refLists), func(i int) {
		dex.AnnotationSetRefList{Offsets: refLists[i]}.Encode(w.buf)
	})

	var dirs []dex.AnnotationsDirectory
	dirOwner := []int{}
	for ci, r := range refs {
		if r.class < 0 && len(r.fields) == 0 && len(r.methods) == 0 && len(r.params) == 0 {
			continue
		}
		d := dex.AnnotationsDirectory{}
		if r.class >= 0 {
			d.ClassAnnotationsOffset = setOffs[r.class]
		}
		for _, f := range r.fields {
			d.Fields = append(d.Fields, dex.MemberAnnotation{Index: f.index, Offset: setOffs[f.set]})
		}
		for _, m := range r.methods {
			d.Methods = append(d.Methods, dex.MemberAnnotation{Index: m.index, Offset: setOffs[m.set]})
		}
		for _, p := range r.params {
			d.Parameters = append(d.Parameters, dex.MemberAnnotation{Index: p.index, Offset: refOffs[refListIx[ci][p.index]]})
		}
		dirs = append(dirs, d)
		dirOwner = append(dirOwner, ci)
	}
	dirOffs := w.section(dex.TypeAnnotationsDirs, len(dirs), func(i int) { dirs[i].Encode(w.buf) })
	for i, ci := range dirOwner {
		layouts[ci].annotations = dirOffs[i]
	}

	// string data
	stringOffs := w.section(dex.TypeStringData, len(t.strings), func(i int) {
		dex.StringData{Value: t.strings[i]}.Encode(w.buf)
	})

	// debug info and code
	type body struct {
		class int
		key   string
		code  *Code
	}
	var bodies []body
	for ci, c := range classes {
		for _, list := range [][]Method{c.DirectMethods, c.VirtualMethods} {
			for _, m := range list {
				if m.Code != nil {
					bodies = append(bodies, body{class: ci, key: protoKey(m.Return, m.Params) + m.Name, code: m.Code})
				}
			}
		}
	}
	var debugs []dex.DebugInfoItem
	debugOf := map[int]int{}
	for bi, b := range bodies {
		if b.code.Debug == nil {
			continue
		}
		debugOf[bi] = len(debugs)
		debugs = append(debugs, w.debugInfo(b.code.Debug))
	}
	debugOffs := w.section(dex.TypeDebugInfos, len(debugs), func(i int) { debugs[i].Encode(w.buf) })
	w.section(dex.TypeCodes, len(bodies), func(i int) {
		b := bodies[i]
		var dbg uint32
		if di, ok := debugOf[i]; ok {
			dbg = debugOffs[di]
		}
		layouts[b.class].codes[b.key] = uint32(w.buf.Pos())
		w.code(b.code, dbg).Encode(w.buf)
	})

	// static values
	var arrays []dex.EncodedArray
	arrayOwner := []int{}
	for ci, c := range classes {
		if len(c.StaticValues) == 0 {
			continue
		}
		a := dex.EncodedArray{}
		for _, v := range c.StaticValues {
			a.Values = append(a.Values, t.value(v))
		}
		arrays = append(arrays, a)
		arrayOwner = append(arrayOwner, ci)
	}
	arrOffs := w.section(dex.TypeEncodedArrays, len(arrays), func(i int) { arrays[i].Encode(w.buf) })
	for i, ci := range arrayOwner {
		layouts[ci].staticValues = arrOffs[i]
	}

	// class data
	var datas []dex.ClassData
	dataOwner := []int{}
	for ci, c := range classes {
		if len(c.StaticFields)+len(c.InstanceFields)+len(c.DirectMethods)+len(c.VirtualMethods) == 0 {
			continue
		}
		datas = append(datas, dex.ClassData{
			StaticFields:   w.fields(c, c.StaticFields),
			InstanceFields: w.fields(c, c.InstanceFields),
			DirectMethods:  w.methods(c, c.DirectMethods, layouts[ci].codes),
			VirtualMethods: w.methods(c, c.VirtualMethods, layouts[ci].codes),
		})
		dataOwner = append(dataOwner, ci)
	}
	cdOffs := w.section(dex.TypeClassData, len(datas), func(i int) { datas[i].Encode(w.buf) })
	for i, ci := range dataOwner {
		layouts[ci].classData = cdOffs[i]
	}
	for ci, c := range classes {
		layouts[ci].interfaces = listOff(c.Interfaces)
	}

	// map list
	w.buf.AlignToFourBytesWithZeroFill()
	w.toc.SetPresent(dex.TypeMapList, uint32(w.buf.Pos()), 1)
	w.toc.WriteMap(w.buf)
	fileSize := w.buf.Pos()

	// id sections
	seek := func(st dex.SectionType) {
		_ = w.buf.Seek(int(w.toc.Section(st).Off))
	}
	if len(t.strings) > 0 {
		seek(dex.TypeStringIDs)
		for _, off := range stringOffs {
			w.buf.WriteUint32(off)
		}
	}
	if len(t.types) > 0 {
		seek(dex.TypeTypeIDs)
		for _, ty := range t.types {
			w.buf.WriteUint32(t.stringIx[ty])
		}
	}
	if len(t.protos) > 0 {
		seek(dex.TypeProtoIDs)
		for _, p := range t.protos {
			dex.ProtoID{
				ShortyIndex:      t.stringIx[shorty(p.ret, p.params)],
				ReturnTypeIndex:  t.typeIx[p.ret],
				ParametersOffset: listOff(p.params),
			}.Encode(w.buf)
		}
	}
	if len(t.fields) > 0 {
		seek(dex.TypeFieldIDs)
		for _, f := range t.fields {
			dex.FieldID{
				DeclaringClassIndex: uint16(t.typeIx[f.Class]),
				TypeIndex:           uint16(t.typeIx[f.Type]),
				NameIndex:           t.stringIx[f.Name],
			}.Encode(w.buf)
		}
	}
	if len(t.methods) > 0 {
		seek(dex.TypeMethodIDs)
		for _, m := range t.methods {
			dex.MethodID{
				DeclaringClassIndex: uint16(t.typeIx[m.Class]),
				ProtoIndex:          uint16(t.protoIx[protoKey(m.Return, m.Params)]),
				NameIndex:           t.stringIx[m.Name],
			}.Encode(w.buf)
		}
	}
	if len(classes) > 0 {
		seek(dex.TypeClassDefs)
		for ci, c := range classes {
			l := layouts[ci]
			dex.ClassDef{
				TypeIndex:          t.typeIx[c.Descriptor],
				AccessFlags:        c.Flags,
				SupertypeIndex:     t.optType(c.Super),
				InterfacesOffset:   l.interfaces,
				SourceFileIndex:    t.optString(c.SourceFile),
				AnnotationsOffset:  l.annotations,
				ClassDataOffset:    l.classData,
				StaticValuesOffset: l.staticValues,
			}.Encode(w.buf)
		}
	}

	w.toc.FileSize = uint32(fileSize)
	w.toc.DataOff = uint32(dataOff)
	w.toc.DataSize = uint32(fileSize - dataOff)
	_ = w.buf.Seek(0)
	w.toc.WriteHeader(w.buf)

	data := w.buf.Bytes()[:fileSize]
	dex.FixChecksums(data)
	return data, nil
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (w *writer) fields(c *Class, fs []Field) []dex.EncodedField {
	out := make([]dex.EncodedField, 0, len(fs))
	for _, f := range fs {
		out = append(out, dex.EncodedField{
			FieldIndex:  w.t.fieldIx[FieldRef{Class: c.Descriptor, Name: f.Name, Type: f.Type}],
			AccessFlags: f.Flags,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldIndex < out[j].FieldIndex })
	return out
}

func (w *writer) methods(c *Class, ms []Method, codes map[string]uint32) []dex.EncodedMethod {
	out := make([]dex.EncodedMethod, 0, len(ms))
	for _, m := range ms {
		em := dex.EncodedMethod{
			MethodIndex: w.t.method(MethodRef{Class: c.Descriptor, Name: m.Name, Return: m.Return, Params: m.Params}),
			AccessFlags: m.Flags,
		}
		if m.Code != nil {
			em.CodeOffset = codes[protoKey(m.Return, m.Params)+m.Name]
		}
		out = append(out, em)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MethodIndex < out[j].MethodIndex })
	return out
}

func (w *writer) code(c *Code, debugOff uint32) dex.Code {
	out := dex.Code{
		RegistersSize:   c.Registers,
		InsSize:         c.Ins,
		OutsSize:        c.Outs,
		DebugInfoOffset: debugOff,
	}
	for _, in := range c.Insns {
		units := append([]uint16(nil), in.Units...)
		var idx uint32
		switch in.kind {
		case refString:
			idx = w.t.stringIx[in.str]
		case refType:
			idx = w.t.typeIx[in.str]
		case refField:
			idx = w.t.fieldIx[in.field]
		case refMethod:
			idx = w.t.method(in.method)
		}
		if in.kind != refNone {
			units[1] = uint16(idx)
			if in.wide {
				units[2] = uint16(idx >> 16)
			}
		}
		out.Instructions = append(out.Instructions, units...)
	}
	for _, tr := range c.Tries {
		out.Tries = append(out.Tries, dex.Try{StartAddress: tr.Start, InstructionCount: tr.Count, HandlerIndex: uint16(tr.Handler)})
	}
	for _, h := range c.Handlers {
		ch := dex.CatchHandler{CatchAllAddress: -1, Addresses: append([]uint32{}, h.Addrs...)}
		for _, ty := range h.Types {
			ch.TypeIndices = append(ch.TypeIndices, w.t.typeIx[ty])
		}
		if h.HasCatchAll {
			ch.CatchAllAddress = int32(h.CatchAll)
		}
		out.CatchHandlers = append(out.CatchHandlers, ch)
	}
	if len(out.Tries) == 0 {
		out.CatchHandlers = nil
	}
	return out
}

func (w *writer) debugInfo(d *Debug) dex.DebugInfoItem {
	out := dex.DebugInfoItem{LineStart: d.LineStart}
	for _, n := range d.ParamNames {
		out.ParameterNames = append(out.ParameterNames, int32(w.t.optString(n)))
	}
	var stream []byte
	ended := false
	for _, op := range d.Ops {
		stream = dex.AppendDebugOp(stream, dex.DebugOp{
			Opcode:    op.Opcode,
			Register:  op.Register,
			AddrDiff:  op.AddrDiff,
			LineDiff:  op.LineDiff,
			Name:      int32(w.t.optString(op.Name)),
			Type:      int32(w.t.optType(op.Type)),
			Signature: int32(w.t.optString(op.Signature)),
		})
		ended = op.Opcode == dex.DbgEndSequence
	}
	if !ended {
		stream = append(stream, dex.DbgEndSequence)
	}
	out.OpStream = stream
	return out
}
