package dalvik

import "fmt"

// Format is an instruction format as named in the Dalvik bytecode
// documentation: size in code units, register count and operand kind.
type Format uint8

const (
	FormatUnused Format = iota
	Format10x
	Format12x
	Format11n
	Format11x
	Format10t
	Format20t
	Format22x
	Format21t
	Format21s
	Format21h
	Format21c
	Format23x
	Format22b
	Format22t
	Format22s
	Format22c
	Format32x
	Format30t
	Format31t
	Format31i
	Format31c
	Format35c
	Format3rc
	Format51l
	FormatPackedSwitchPayload
	FormatSparseSwitchPayload
	FormatFillArrayDataPayload
)

var formatNames = [...]string{
	"unused", "10x", "12x", "11n", "11x", "10t", "20t", "22x", "21t", "21s",
	"21h", "21c", "23x", "22b", "22t", "22s", "22c", "32x", "30t", "31t",
	"31i", "31c", "35c", "3rc", "51l", "packed-switch-payload",
	"sparse-switch-payload", "fill-array-data-payload",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// units is the fixed size of a non-payload format in code units.
func (f Format) units() int {
	switch f {
	case Format10x, Format12x, Format11n, Format11x, Format10t:
		return 1
	case Format20t, Format22x, Format21t, Format21s, Format21h, Format21c,
		Format23x, Format22b, Format22t, Format22s, Format22c:
		return 2
	case Format32x, Format30t, Format31t, Format31i, Format31c, Format35c, Format3rc:
		return 3
	case Format51l:
		return 5
	}
	return 0
}

// IsBranch reports whether the format carries a branch target.
func (f Format) IsBranch() bool {
	switch f {
	case Format10t, Format20t, Format21t, Format22t, Format30t, Format31t:
		return true
	}
	return false
}

// IndexKind tells which id table an index operand refers to.
type IndexKind uint8

const (
	IndexNone IndexKind = iota
	IndexString
	IndexType
	IndexField
	IndexMethod
)

func (k IndexKind) String() string {
	switch k {
	case IndexString:
		return "string"
	case IndexType:
		return "type"
	case IndexField:
		return "field"
	case IndexMethod:
		return "method"
	}
	return "none"
}

// Opcode is the low byte of an instruction's first code unit.
type Opcode uint8

const (
	OpNop              Opcode = 0x00
	OpConstHigh16      Opcode = 0x15
	OpConstWideHigh16  Opcode = 0x19
	OpConstString      Opcode = 0x1a
	OpConstStringJumbo Opcode = 0x1b
	OpFillArrayData    Opcode = 0x26
	OpGoto             Opcode = 0x28
	OpGoto16           Opcode = 0x29
	OpGoto32           Opcode = 0x2a
	OpPackedSwitch     Opcode = 0x2b
	OpSparseSwitch     Opcode = 0x2c
)

type opInfo struct {
	name   string
	format Format
	index  IndexKind
}

var opcodes [256]opInfo

func def(op int, name string, f Format, k IndexKind) {
	opcodes[op] = opInfo{name: name, format: f, index: k}
}

func defRange(first int, f Format, k IndexKind, names ...string) {
	for i, n := range names {
		def(first+i, n, f, k)
	}
}

func init() {
	def(0x00, "nop", Format10x, IndexNone)
	def(0x01, "move", Format12x, IndexNone)
	def(0x02, "move/from16", Format22x, IndexNone)
	def(0x03, "move/16", Format32x, IndexNone)
	def(0x04, "move-wide", Format12x, IndexNone)
	def(0x05, "move-wide/from16", Format22x, IndexNone)
	def(0x06, "move-wide/16", Format32x, IndexNone)
	def(0x07, "move-object", Format12x, IndexNone)
	def(0x08, "move-object/from16", Format22x, IndexNone)
	def(0x09, "move-object/16", Format32x, IndexNone)
	defRange(0x0a, Format11x, IndexNone, "move-result", "move-result-wide", "move-result-object", "move-exception")
	def(0x0e, "return-void", Format10x, IndexNone)
	defRange(0x0f, Format11x, IndexNone, "return", "return-wide", "return-object")
	def(0x12, "const/4", Format11n, IndexNone)
	def(0x13, "const/16", Format21s, IndexNone)
	def(0x14, "const", Format31i, IndexNone)
	def(0x15, "const/high16", Format21h, IndexNone)
	def(0x16, "const-wide/16", Format21s, IndexNone)
	def(0x17, "const-wide/32", Format31i, IndexNone)
	def(0x18, "const-wide", Format51l, IndexNone)
	def(0x19, "const-wide/high16", Format21h, IndexNone)
	def(0x1a, "const-string", Format21c, IndexString)
	def(0x1b, "const-string/jumbo", Format31c, IndexString)
	def(0x1c, "const-class", Format21c, IndexType)
	defRange(0x1d, Format11x, IndexNone, "monitor-enter", "monitor-exit")
	def(0x1f, "check-cast", Format21c, IndexType)
	def(0x20, "instance-of", Format22c, IndexType)
	def(0x21, "array-length", Format12x, IndexNone)
	def(0x22, "new-instance", Format21c, IndexType)
	def(0x23, "new-array", Format22c, IndexType)
	def(0x24, "filled-new-array", Format35c, IndexType)
	def(0x25, "filled-new-array/range", Format3rc, IndexType)
	def(0x26, "fill-array-data", Format31t, IndexNone)
	def(0x27, "throw", Format11x, IndexNone)
	def(0x28, "goto", Format10t, IndexNone)
	def(0x29, "goto/16", Format20t, IndexNone)
	def(0x2a, "goto/32", Format30t, IndexNone)
	def(0x2b, "packed-switch", Format31t, IndexNone)
	def(0x2c, "sparse-switch", Format31t, IndexNone)
	defRange(0x2d, Format23x, IndexNone, "cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long")
	defRange(0x32, Format22t, IndexNone, "if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le")
	defRange(0x38, Format21t, IndexNone, "if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez")
	defRange(0x44, Format23x, IndexNone,
		"aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short",
		"aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short")
	defRange(0x52, Format22c, IndexField,
		"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short")
	defRange(0x60, Format21c, IndexField,
		"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short")
	defRange(0x6e, Format35c, IndexMethod,
		"invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface")
	defRange(0x74, Format3rc, IndexMethod,
		"invoke-virtual/range", "invoke-super/range", "invoke-direct/range", "invoke-static/range", "invoke-interface/range")
	defRange(0x7b, Format12x, IndexNone,
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float",
		"long-to-double", "float-to-int", "float-to-long", "float-to-double", "double-to-int",
		"double-to-long", "double-to-float", "int-to-byte", "int-to-char", "int-to-short")
	binops := []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int", "shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long", "or-long", "xor-long", "shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	defRange(0x90, Format23x, IndexNone, binops...)
	for i, n := range binops {
		def(0xb0+i, n+"/2addr", Format12x, IndexNone)
	}
	defRange(0xd0, Format22s, IndexNone,
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16")
	defRange(0xd8, Format22b, IndexNone,
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8",
		"and-int/lit8", "or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8")
}

// Name is the mnemonic of op, or "unused-XX".
func (op Opcode) Name() string {
	if n := opcodes[op].name; n != "" {
		return n
	}
	return fmt.Sprintf("unused-%02x", uint8(op))
}

func (op Opcode) String() string { return op.Name() }

// Format returns the operand format of op.
func (op Opcode) Format() Format { return opcodes[op].format }

// IndexKind returns the id table op's index operand refers to.
func (op Opcode) IndexKind() IndexKind { return opcodes[op].index }

// Valid reports whether op is defined for dex version 035.
func (op Opcode) Valid() bool { return opcodes[op].format != FormatUnused }

// Promoted maps opcodes that differ only in operand width to one
// representative, so that const-string and const-string/jumbo, and the
// three goto forms, compare equal.
func (op Opcode) Promoted() Opcode {
	switch op {
	case OpConstString:
		return OpConstStringJumbo
	case OpGoto, OpGoto16:
		return OpGoto32
	}
	return op
}
