package dex

// File layout constants for the supported dex version.
const (
	Magic       = "dex\n035\x00"
	HeaderSize  = 0x70
	EndianTag   = 0x12345678
	NoIndex     = 0xFFFFFFFF
	PrimaryName = "classes.dex"

	checksumOff  = 8
	signatureOff = 12
	fileSizeOff  = 32
)

// Access flags used by class, field and method definitions.
const (
	AccPublic       uint32 = 0x1
	AccPrivate      uint32 = 0x2
	AccProtected    uint32 = 0x4
	AccStatic       uint32 = 0x8
	AccFinal        uint32 = 0x10
	AccSynchronized uint32 = 0x20
	AccVolatile     uint32 = 0x40
	AccBridge       uint32 = 0x40
	AccTransient    uint32 = 0x80
	AccVarargs      uint32 = 0x80
	AccNative       uint32 = 0x100
	AccInterface    uint32 = 0x200
	AccAbstract     uint32 = 0x400
	AccStrict       uint32 = 0x800
	AccSynthetic    uint32 = 0x1000
	AccAnnotation   uint32 = 0x2000
	AccEnum         uint32 = 0x4000
	AccConstructor  uint32 = 0x10000
)

// Annotation visibilities.
const (
	VisibilityBuild   = 0x00
	VisibilityRuntime = 0x01
	VisibilitySystem  = 0x02
)
