package patch

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dsnet/compress/bzip2"
)

// Codec turns an old and a new file into a patch and back.
type Codec interface {
	Diff(old, new []byte) ([]byte, error)
	Patch(old, patch []byte) ([]byte, error)
}

// ErrCorruptPatch is returned by BSDiff.Patch for malformed input.
var ErrCorruptPatch = errors.New("corrupt patch")

var bsdiffMagic = []byte("BSDIFF40")

const bsdiffHeaderSize = 32

// BSDiff is the classic bsdiff 4 format: a 32-byte header followed by
// bzip2 compressed control, diff and extra blocks.
//
//	0   8  "BSDIFF40"
//	8   8  compressed control block length
//	16  8  compressed diff block length
//	24  8  new file length
type BSDiff struct{}

// Diff returns a patch converting old into new.
func (BSDiff) Diff(old, new []byte) ([]byte, error) {
	sa := make([]int, len(old)+1)
	qsufsort(sa, old)

	var ctrl, db, eb bytes.Buffer
	word := make([]byte, 8)
	putCtrl := func(vals ...int) {
		for _, v := range vals {
			offtout(v, word)
			ctrl.Write(word)
		}
	}

	var scan, n, lastscan, lastpos, lastoffset, pos int
	for scan < len(new) {
		oldscore := 0
		scan += n
		scsc := scan
		for ; scan < len(new); scan++ {
			n, pos = search(sa, old, new[scan:], 0, len(old))
			for ; scsc < scan+n; scsc++ {
				if scsc+lastoffset < len(old) && old[scsc+lastoffset] == new[scsc] {
					oldscore++
				}
			}
			if (n == oldscore && n != 0) || n > oldscore+8 {
				break
			}
			if scan+lastoffset < len(old) && old[scan+lastoffset] == new[scan] {
				oldscore--
			}
		}
		if n == oldscore && scan != len(new) {
			continue
		}

		// extend the previous match forwards and the current one backwards
		var lenf, lenb int
		for s, best, i := 0, 0, 0; lastscan+i < scan && lastpos+i < len(old); {
			if old[lastpos+i] == new[lastscan+i] {
				s++
			}
			i++
			if s*2-i > best*2-lenf {
				best, lenf = s, i
			}
		}
		if scan < len(new) {
			for s, best, i := 0, 0, 1; scan >= lastscan+i && pos >= i; i++ {
				if old[pos-i] == new[scan-i] {
					s++
				}
				if s*2-i > best*2-lenb {
					best, lenb = s, i
				}
			}
		}
		if overlap := lastscan + lenf - (scan - lenb); overlap > 0 {
			s, best, lens := 0, 0, 0
			for i := 0; i < overlap; i++ {
				if new[lastscan+lenf-overlap+i] == old[lastpos+lenf-overlap+i] {
					s++
				}
				if new[scan-lenb+i] == old[pos-lenb+i] {
					s--
				}
				if s > best {
					best, lens = s, i+1
				}
			}
			lenf += lens - overlap
			lenb -= lens
		}

		for i := 0; i < lenf; i++ {
			db.WriteByte(new[lastscan+i] - old[lastpos+i])
		}
		extra := (scan - lenb) - (lastscan + lenf)
		eb.Write(new[lastscan+lenf : lastscan+lenf+extra])
		putCtrl(lenf, extra, (pos-lenb)-(lastpos+lenf))

		lastscan = scan - lenb
		lastpos = pos - lenb
		lastoffset = pos - scan
	}

	blocks := make([][]byte, 3)
	for i, raw := range [][]byte{ctrl.Bytes(), db.Bytes(), eb.Bytes()} {
		z, err := compress(raw)
		if err != nil {
			return nil, err
		}
		blocks[i] = z
	}

	out := make([]byte, bsdiffHeaderSize, bsdiffHeaderSize+len(blocks[0])+len(blocks[1])+len(blocks[2]))
	copy(out, bsdiffMagic)
	offtout(len(blocks[0]), out[8:])
	offtout(len(blocks[1]), out[16:])
	offtout(len(new), out[24:])
	for _, b := range blocks {
		out = append(out, b...)
	}
	return out, nil
}

// Patch applies a patch produced by Diff to old.
func (BSDiff) Patch(old, patch []byte) ([]byte, error) {
	if len(patch) < bsdiffHeaderSize || !bytes.Equal(patch[:8], bsdiffMagic) {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptPatch)
	}
	ctrlLen := offtin(patch[8:])
	dataLen := offtin(patch[16:])
	newSize := offtin(patch[24:])
	if ctrlLen < 0 || dataLen < 0 || newSize < 0 ||
		bsdiffHeaderSize+ctrlLen+dataLen > len(patch) {
		return nil, fmt.Errorf("%w: block lengths %d, %d for new size %d", ErrCorruptPatch, ctrlLen, dataLen, newSize)
	}

	ctrlEnd := bsdiffHeaderSize + ctrlLen
	ctrl, err := bzip2.NewReader(bytes.NewReader(patch[bsdiffHeaderSize:ctrlEnd]), nil)
	if err != nil {
		return nil, err
	}
	defer ctrl.Close()
	diff, err := bzip2.NewReader(bytes.NewReader(patch[ctrlEnd:ctrlEnd+dataLen]), nil)
	if err != nil {
		return nil, err
	}
	defer diff.Close()
	extra, err := bzip2.NewReader(bytes.NewReader(patch[ctrlEnd+dataLen:]), nil)
	if err != nil {
		return nil, err
	}
	defer extra.Close()

	out := make([]byte, newSize)
	word := make([]byte, 8)
	var triple [3]int
	oldpos, newpos := 0, 0
	for newpos < newSize {
		for i := range triple {
			if _, err := io.ReadFull(ctrl, word); err != nil {
				return nil, fmt.Errorf("%w: control block: %w", ErrCorruptPatch, err)
			}
			triple[i] = offtin(word)
		}
		add, copyLen, seek := triple[0], triple[1], triple[2]
		if add < 0 || newpos+add > newSize {
			return nil, fmt.Errorf("%w: diff run of %d at %d", ErrCorruptPatch, add, newpos)
		}
		if _, err := io.ReadFull(diff, out[newpos:newpos+add]); err != nil {
			return nil, fmt.Errorf("%w: diff block: %w", ErrCorruptPatch, err)
		}
		for i := 0; i < add; i++ {
			if oldpos+i >= 0 && oldpos+i < len(old) {
				out[newpos+i] += old[oldpos+i]
			}
		}
		newpos += add
		oldpos += add

		if copyLen < 0 || newpos+copyLen > newSize {
			return nil, fmt.Errorf("%w: extra run of %d at %d", ErrCorruptPatch, copyLen, newpos)
		}
		if _, err := io.ReadFull(extra, out[newpos:newpos+copyLen]); err != nil {
			return nil, fmt.Errorf("%w: extra block: %w", ErrCorruptPatch, err)
		}
		newpos += copyLen
		oldpos += seek
	}
	return out, nil
}

func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// search finds the longest prefix of target in old using the suffix array
// sa, returning its length and position.
func search(sa []int, old, target []byte, st, en int) (n, pos int) {
	if en-st < 2 {
		x := matchlen(old[sa[st]:], target)
		y := matchlen(old[sa[en]:], target)
		if x > y {
			return x, sa[st]
		}
		return y, sa[en]
	}
	mid := st + (en-st)/2
	m := min(len(old)-sa[mid], len(target))
	if bytes.Compare(old[sa[mid]:sa[mid]+m], target[:m]) < 0 {
		return search(sa, old, target, mid, en)
	}
	return search(sa, old, target, st, mid)
}

func matchlen(a, b []byte) int {
	i := 0
	for i < len(a) && i < len(b) && a[i] == b[i] {
		i++
	}
	return i
}

// offtout stores x as a sign-magnitude little-endian int64.
func offtout(x int, buf []byte) {
	y := uint64(x)
	if x < 0 {
		y = uint64(-x) | 1<<63
	}
	binary.LittleEndian.PutUint64(buf, y)
}

func offtin(buf []byte) int {
	y := binary.LittleEndian.Uint64(buf)
	v := int(y &^ (1 << 63))
	if y&(1<<63) != 0 {
		return -v
	}
	return v
}

// qsufsort builds the suffix array of buf into sa (Larsson-Sadakane).
func qsufsort(sa []int, buf []byte) {
	var buckets [256]int
	rank := make([]int, len(sa))
	n := len(buf)

	for _, c := range buf {
		buckets[c]++
	}
	for i := 1; i < 256; i++ {
		buckets[i] += buckets[i-1]
	}
	for i := 255; i > 0; i-- {
		buckets[i] = buckets[i-1]
	}
	buckets[0] = 0

	for i, c := range buf {
		buckets[c]++
		sa[buckets[c]] = i
	}
	sa[0] = n
	for i, c := range buf {
		rank[i] = buckets[c]
	}
	rank[n] = 0
	for i := 1; i < 256; i++ {
		if buckets[i] == buckets[i-1]+1 {
			sa[buckets[i]] = -1
		}
	}
	sa[0] = -1

	for h := 1; sa[0] != -(n + 1); h += h {
		run := 0
		i := 0
		for i < n+1 {
			if sa[i] < 0 {
				run -= sa[i]
				i -= sa[i]
				continue
			}
			if run != 0 {
				sa[i-run] = -run
			}
			size := rank[sa[i]] + 1 - i
			split(sa, rank, i, size, h)
			i += size
			run = 0
		}
		if run != 0 {
			sa[i-run] = -run
		}
	}
	for i := 0; i < n+1; i++ {
		sa[rank[i]] = i
	}
}

func split(sa, rank []int, start, n, h int) {
	if n < 16 {
		for k, j := start, 0; k < start+n; k += j {
			j = 1
			x := rank[sa[k]+h]
			for i := 1; k+i < start+n; i++ {
				if rank[sa[k+i]+h] < x {
					x = rank[sa[k+i]+h]
					j = 0
				}
				if rank[sa[k+i]+h] == x {
					sa[k+j], sa[k+i] = sa[k+i], sa[k+j]
					j++
				}
			}
			for i := 0; i < j; i++ {
				rank[sa[k+i]] = k + j - 1
			}
			if j == 1 {
				sa[k] = -1
			}
		}
		return
	}

	x := rank[sa[start+n/2]+h]
	var jj, kk int
	for i := start; i < start+n; i++ {
		switch v := rank[sa[i]+h]; {
		case v < x:
			jj++
		case v == x:
			kk++
		}
	}
	jj += start
	kk += jj

	i, j, k := start, 0, 0
	for i < jj {
		switch v := rank[sa[i]+h]; {
		case v < x:
			i++
		case v == x:
			sa[i], sa[jj+j] = sa[jj+j], sa[i]
			j++
		default:
			sa[i], sa[kk+k] = sa[kk+k], sa[i]
			k++
		}
	}
	for jj+j < kk {
		if rank[sa[jj+j]+h] == x {
			j++
		} else {
			sa[jj+j], sa[kk+k] = sa[kk+k], sa[jj+j]
			k++
		}
	}
	if jj > start {
		split(sa, rank, start, jj-start, h)
	}
	for i := 0; i < kk-jj; i++ {
		rank[sa[jj+i]] = kk - 1
	}
	if jj == kk-1 {
		sa[jj] = -1
	}
	if start+n > kk {
		split(sa, rank, kk, start+n-kk, h)
	}
}
