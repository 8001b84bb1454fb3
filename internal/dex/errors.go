package dex

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the readers in this package. Callers match
// them with errors.Is; the wrapped message carries the offending offset.
// The header and map errors also match ErrMalformedEncoding.
var (
	ErrMalformedEncoding         = errors.New("malformed encoding")
	ErrBadMagic                  = errors.New("bad dex magic")
	ErrBadHeader                 = fmt.Errorf("%w: bad header field", ErrMalformedEncoding)
	ErrInconsistentMap           = fmt.Errorf("%w: map list disagrees with header", ErrMalformedEncoding)
	ErrUnsortedMap               = fmt.Errorf("%w: map list is not sorted by offset", ErrMalformedEncoding)
	ErrDuplicateMapEntry         = fmt.Errorf("%w: duplicate map list entry", ErrMalformedEncoding)
	ErrIndexOutOfRange           = errors.New("index out of range")
	ErrUnexpectedEncodedValueTag = errors.New("unexpected encoded value tag")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEncoding, fmt.Sprintf(format, args...))
}

func outOfRange(kind string, idx uint32, n int) error {
	return fmt.Errorf("%w: %s %d (size %d)", ErrIndexOutOfRange, kind, idx, n)
}
