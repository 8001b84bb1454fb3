package patch

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mutate(src []byte, seed int64, edits int) []byte {
	rng := rand.New(rand.NewSource(seed))
	out := append([]byte(nil), src...)
	for i := 0; i < edits; i++ {
		at := rng.Intn(len(out) + 1)
		switch rng.Intn(3) {
		case 0:
			if at < len(out) {
				out[at] ^= byte(rng.Intn(255) + 1)
			}
		case 1:
			ins := make([]byte, rng.Intn(32)+1)
			rng.Read(ins)
			out = append(out[:at], append(ins, out[at:]...)...)
		default:
			end := min(len(out), at+rng.Intn(32))
			out = append(out[:at], out[end:]...)
		}
	}
	return out
}

func TestBSDiffRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 64<<10)
	rng.Read(random)
	text := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 500)

	tests := []struct {
		name     string
		old, new []byte
	}{
		{"both empty", nil, nil},
		{"from empty", nil, []byte("hello, world")},
		{"to empty", []byte("hello, world"), nil},
		{"identical", text, text},
		{"text edits", text, mutate(text, 2, 20)},
		{"random edits", random, mutate(random, 3, 50)},
		{"unrelated", random[:4096], text[:4096]},
		{"appended", text, append(append([]byte(nil), text...), random[:1000]...)},
	}
	var codec BSDiff
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			patch, err := codec.Diff(tt.old, tt.new)
			require.NoError(t, err)
			assert.Equal(t, "BSDIFF40", string(patch[:8]))

			got, err := codec.Patch(tt.old, patch)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tt.new, got), "patched output differs")
		})
	}
}

func TestBSDiffSmallerThanInput(t *testing.T) {
	text := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	next := mutate(text, 4, 5)
	patch, err := BSDiff{}.Diff(text, next)
	require.NoError(t, err)
	assert.Less(t, len(patch), len(next)/10)
}

func TestBSDiffCorrupt(t *testing.T) {
	old := []byte("some old content")
	good, err := BSDiff{}.Diff(old, []byte("some new content"))
	require.NoError(t, err)

	negative := append([]byte(nil), good...)
	offtout(-1, negative[8:])
	oversized := append([]byte(nil), good...)
	offtout(len(good), oversized[16:])

	tests := []struct {
		name  string
		patch []byte
	}{
		{"empty", nil},
		{"short", good[:20]},
		{"magic", append([]byte("BSDIFF41"), good[8:]...)},
		{"negative length", negative},
		{"oversized block", oversized},
		{"truncated", good[:bsdiffHeaderSize+4]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BSDiff{}.Patch(old, tt.patch)
			assert.Error(t, err)
		})
	}
}

func TestOfft(t *testing.T) {
	buf := make([]byte, 8)
	for _, v := range []int{0, 1, -1, 1 << 40, -(1 << 40), 0x7fffffff + 1} {
		offtout(v, buf)
		assert.Equal(t, v, offtin(buf))
	}
}
