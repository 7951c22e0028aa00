package hunk

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type builder struct {
	buf bytes.Buffer
}

func (b *builder) u32(v uint32) *builder {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	b.buf.Write(tmp[:])
	return b
}

func (b *builder) raw(data []byte) *builder {
	b.buf.Write(data)
	return b
}

func (b *builder) name(s string) *builder {
	// Longword count, then NUL-padded characters.
	n := (len(s) + 3) / 4
	b.u32(uint32(n))
	padded := make([]byte, n*4)
	copy(padded, s)
	b.buf.Write(padded)
	return b
}

// testExecutable builds a minimal three-hunk load file: code with a symbol
// table and relocations, data, and bss.
func testExecutable() []byte {
	var b builder
	b.u32(hunkHeader)
	b.u32(0)       // no resident libraries
	b.u32(3)       // table size
	b.u32(0)       // first hunk
	b.u32(2)       // last hunk
	b.u32(2)       // code: 2 longwords
	b.u32(1)       // data: 1 longword
	b.u32(4)       // bss: 4 longwords

	b.u32(hunkCode).u32(2).raw([]byte{0x4e, 0x71, 0x4e, 0x75, 0x00, 0x00, 0x00, 0x00}) // nop; rts
	b.u32(hunkReloc32)
	b.u32(1).u32(1).u32(4) // one reloc into hunk 1, at offset 4
	b.u32(0)
	b.u32(hunkSymbol)
	b.name("_start").u32(0)
	b.name("_exit").u32(2)
	b.u32(0)
	b.u32(hunkEnd)

	b.u32(hunkData).u32(1).raw([]byte{0xde, 0xad, 0xbe, 0xef})
	b.u32(hunkEnd)

	b.u32(hunkBSS).u32(4)
	b.u32(hunkEnd)
	return b.buf.Bytes()
}

func TestReadExecutable(t *testing.T) {
	f, err := Read(bytes.NewReader(testExecutable()))
	require.NoError(t, err)
	require.Len(t, f.Segments, 3)

	code := f.Segments[0]
	assert.Equal(t, Code, code.Kind)
	assert.Equal(t, uint32(8), code.Size)
	assert.Equal(t, []byte{0x4e, 0x71, 0x4e, 0x75, 0x00, 0x00, 0x00, 0x00}, code.Data)
	assert.Equal(t, 1, code.Relocs)
	require.Len(t, code.Symbols, 2)
	assert.Equal(t, Symbol{Name: "_start", Offset: 0}, code.Symbols[0])
	assert.Equal(t, Symbol{Name: "_exit", Offset: 2}, code.Symbols[1])

	data := f.Segments[1]
	assert.Equal(t, Data, data.Kind)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data.Data)

	bss := f.Segments[2]
	assert.Equal(t, BSS, bss.Kind)
	assert.Equal(t, uint32(16), bss.Size)
	assert.Nil(t, bss.Data)
}

func TestFindSymbol(t *testing.T) {
	f, err := Read(bytes.NewReader(testExecutable()))
	require.NoError(t, err)

	seg, sym, ok := f.FindSymbol("_exit")
	require.True(t, ok)
	assert.Equal(t, 0, seg)
	assert.Equal(t, uint32(2), sym.Offset)

	_, _, ok = f.FindSymbol("_EXIT")
	assert.False(t, ok, "symbol lookup is case-sensitive")
}

func TestReadRejectsBadMagic(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte{0x7f, 'E', 'L', 'F', 0, 0, 0, 0}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a hunk executable")
}

func TestReadRejectsTruncated(t *testing.T) {
	full := testExecutable()
	for _, cut := range []int{3, 7, 20, len(full) / 2} {
		_, err := Read(bytes.NewReader(full[:cut]))
		assert.Error(t, err, "cut at %d", cut)
	}
}

func TestReadExtendedMemoryFlags(t *testing.T) {
	var b builder
	b.u32(hunkHeader)
	b.u32(0)
	b.u32(1).u32(0).u32(0)
	b.u32(1 | 0xC0000000) // extended flags: extra attribute longword follows
	b.u32(0x00010002)
	b.u32(hunkCode).u32(1).raw([]byte{0x4e, 0x75, 0x00, 0x00})
	b.u32(hunkEnd)

	f, err := Read(bytes.NewReader(b.buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, f.Segments, 1)
	assert.Equal(t, uint32(4), f.Segments[0].Size)
}
