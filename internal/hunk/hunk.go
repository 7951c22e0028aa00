// Package hunk reads AmigaOS hunk-format executables: the load files the
// debugger pokes into target memory and the source of segment and symbol
// information for breakpoint placement.
package hunk

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	hunkHeader  = 0x3F3
	hunkName    = 0x3E8
	hunkCode    = 0x3E9
	hunkData    = 0x3EA
	hunkBSS     = 0x3EB
	hunkReloc32 = 0x3EC
	hunkSymbol  = 0x3F0
	hunkDebug   = 0x3F1
	hunkEnd     = 0x3F2

	// Top two bits of a size longword are memory placement flags; bit 29 is
	// an advisory flag on block types.
	sizeMask = 0x3FFFFFFF
	typeMask = 0x1FFFFFFF

	memFlagExtended = 0xC0000000
)

// SegmentKind classifies a loadable hunk.
type SegmentKind int

const (
	Code SegmentKind = iota
	Data
	BSS
)

func (k SegmentKind) String() string {
	switch k {
	case Code:
		return "CODE"
	case Data:
		return "DATA"
	case BSS:
		return "BSS"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Symbol is a HUNK_SYMBOL entry: a name and its byte offset within the
// owning segment.
type Symbol struct {
	Name   string
	Offset uint32
}

// Segment is one loadable hunk.
type Segment struct {
	Kind SegmentKind
	// Size is the allocation size in bytes, from the header table. For BSS
	// it exceeds len(Data), which is nil.
	Size uint32
	// Data is the load image for code and data hunks.
	Data []byte
	// Relocs counts 32-bit relocations referencing other hunks.
	Relocs int
	// Symbols are attached HUNK_SYMBOL entries, in file order.
	Symbols []Symbol
}

// File is a parsed hunk executable.
type File struct {
	Segments []Segment
}

// FindSymbol looks a name up across all segments, case-sensitively,
// returning the segment index and symbol.
func (f *File) FindSymbol(name string) (int, Symbol, bool) {
	for i, seg := range f.Segments {
		for _, s := range seg.Symbols {
			if s.Name == name {
				return i, s, true
			}
		}
	}
	return 0, Symbol{}, false
}

// Open reads the executable at path.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// Read parses a hunk executable from r.
func Read(r io.Reader) (*File, error) {
	p := &reader{r: r}

	if magic := p.u32(); p.err != nil || magic != hunkHeader {
		if p.err != nil {
			return nil, p.fail("reading magic")
		}
		return nil, fmt.Errorf("not a hunk executable (magic %#x)", magic)
	}

	// Resident library names; load files have none but the list must still
	// be consumed.
	for {
		n := p.u32()
		if p.err != nil {
			return nil, p.fail("reading resident library table")
		}
		if n == 0 {
			break
		}
		p.skip(int(n) * 4)
	}

	tableSize := p.u32()
	first := p.u32()
	last := p.u32()
	if p.err != nil {
		return nil, p.fail("reading hunk table")
	}
	count := int(last) - int(first) + 1
	if count <= 0 || uint32(count) > tableSize || count > 1<<16 {
		return nil, fmt.Errorf("implausible hunk table: size %d, hunks %d..%d", tableSize, first, last)
	}

	f := &File{Segments: make([]Segment, count)}
	for i := range f.Segments {
		sz := p.u32()
		if sz&memFlagExtended == memFlagExtended {
			p.u32() // explicit memory attributes longword
		}
		f.Segments[i].Size = (sz & sizeMask) * 4
	}
	if p.err != nil {
		return nil, p.fail("reading hunk sizes")
	}

	cur := -1
	for {
		t := p.u32()
		if p.err == io.EOF && cur == count-1 {
			// Trailing END blocks are optional after the last hunk.
			break
		}
		if p.err != nil {
			return nil, p.fail("reading block type")
		}
		switch t & typeMask {
		case hunkCode, hunkData, hunkBSS:
			cur++
			if cur >= count {
				return nil, fmt.Errorf("more hunks than the header table declares (%d)", count)
			}
			seg := &f.Segments[cur]
			n := int(p.u32()&sizeMask) * 4
			switch t & typeMask {
			case hunkCode:
				seg.Kind = Code
				seg.Data = p.bytes(n)
			case hunkData:
				seg.Kind = Data
				seg.Data = p.bytes(n)
			case hunkBSS:
				seg.Kind = BSS
			}
		case hunkReloc32:
			if cur < 0 {
				return nil, fmt.Errorf("relocations before any hunk")
			}
			for {
				n := p.u32()
				if p.err != nil {
					return nil, p.fail("reading relocations")
				}
				if n == 0 {
					break
				}
				p.u32() // referenced hunk number
				p.skip(int(n) * 4)
				f.Segments[cur].Relocs += int(n)
			}
		case hunkSymbol:
			if cur < 0 {
				return nil, fmt.Errorf("symbols before any hunk")
			}
			for {
				n := p.u32()
				if p.err != nil {
					return nil, p.fail("reading symbols")
				}
				if n == 0 {
					break
				}
				name := p.bytes(int(n) * 4)
				off := p.u32()
				f.Segments[cur].Symbols = append(f.Segments[cur].Symbols, Symbol{
					Name:   strings.TrimRight(string(name), "\x00"),
					Offset: off,
				})
			}
		case hunkName, hunkDebug:
			n := p.u32()
			p.skip(int(n) * 4)
		case hunkEnd:
			if cur == count-1 {
				// Peek for more blocks; EOF here is a clean end.
				if !p.more() {
					return f, p.wrapNonEOF()
				}
			}
		default:
			return nil, fmt.Errorf("unsupported hunk block %#x at offset %d", t&typeMask, p.off-4)
		}
		if p.err != nil {
			return nil, p.fail("reading hunk blocks")
		}
	}
	return f, nil
}

type reader struct {
	r    io.Reader
	off  int
	err  error
	peek []byte
}

func (p *reader) u32() uint32 {
	var buf [4]byte
	p.read(buf[:])
	if p.err != nil {
		return 0
	}
	return binary.BigEndian.Uint32(buf[:])
}

func (p *reader) bytes(n int) []byte {
	if p.err != nil || n < 0 {
		return nil
	}
	buf := make([]byte, n)
	p.read(buf)
	if p.err != nil {
		return nil
	}
	return buf
}

func (p *reader) skip(n int) {
	p.bytes(n)
}

func (p *reader) read(buf []byte) {
	if p.err != nil {
		return
	}
	n := 0
	if len(p.peek) > 0 {
		n = copy(buf, p.peek)
		p.peek = p.peek[n:]
	}
	if n < len(buf) {
		m, err := io.ReadFull(p.r, buf[n:])
		n += m
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				err = io.EOF
			}
			p.err = err
		}
	}
	p.off += n
}

// more reports whether any byte follows, buffering it for the next read.
func (p *reader) more() bool {
	if p.err != nil || len(p.peek) > 0 {
		return len(p.peek) > 0
	}
	var one [1]byte
	n, err := p.r.Read(one[:])
	if n == 1 {
		p.peek = append(p.peek, one[0])
		return true
	}
	if err != nil && err != io.EOF {
		p.err = err
	}
	return false
}

func (p *reader) wrapNonEOF() error {
	if p.err != nil && p.err != io.EOF {
		return p.fail("reading hunk blocks")
	}
	return nil
}

func (p *reader) fail(what string) error {
	return fmt.Errorf("%s at offset %d: truncated file (%v)", what, p.off, p.err)
}
