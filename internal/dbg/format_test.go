package dbg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvdjg/mcp-winuae-emu/internal/amiga"
	"github.com/dvdjg/mcp-winuae-emu/internal/hunk"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

func TestFormatRegisters(t *testing.T) {
	var rf rsp.RegisterFile
	rf[rsp.D0] = 0xDEADBEEF
	rf[rsp.A7] = 0x00080000
	rf[rsp.SR] = 0x2704 // supervisor, Z set
	rf[rsp.PC] = 0x00FC00D2

	out := FormatRegisters(rf)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "D0=DEADBEEF D1=00000000"))
	assert.Contains(t, lines[1], "A7=00080000")
	assert.Equal(t, "SR=2704 -S--Z-- PC=00FC00D2", lines[2])
}

func TestSRFlags(t *testing.T) {
	assert.Equal(t, "-------", srFlags(0x0000))
	assert.Equal(t, "TSXNZVC", srFlags(0xA01F))
	assert.Equal(t, "----Z--", srFlags(0x0004))
}

func TestHexDump(t *testing.T) {
	data := make([]byte, 20)
	copy(data, "Hello, Amiga!")
	data[13] = 0x00
	out := HexDump(0xC00100, data)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "00C00100 "))
	assert.True(t, strings.HasPrefix(lines[1], "00C00110 "))
	assert.Contains(t, lines[0], "48 65 6C 6C 6F")
	assert.True(t, strings.HasSuffix(lines[0], "Hello, Amiga!..."))
	// short final row keeps the gutter aligned
	assert.True(t, strings.HasSuffix(lines[1], "...."))
}

func TestFormatCopper(t *testing.T) {
	ops := amiga.DecodeCopperList(0x20000, []byte{
		0x01, 0x80, 0x0F, 0x00, // MOVE COLOR00,$0F00
		0xFF, 0xFF, 0xFF, 0xFE, // END
	}, 0)
	out := FormatCopper(ops)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "00020000")
	assert.Contains(t, lines[0], "MOVE COLOR00,$0F00")
	assert.Contains(t, lines[1], "END")
}

func TestFormatStop(t *testing.T) {
	assert.Equal(t, "already stopped", FormatStop(rsp.StopReply{Raw: "S00", Synthetic: true}))
	assert.Equal(t, `stopped (SIGTRAP, raw "S05")`, FormatStop(rsp.StopReply{Raw: "S05", Signal: 5}))
	assert.Equal(t, `stopped (signal 31, raw "S1f")`, FormatStop(rsp.StopReply{Raw: "S1f", Signal: 31}))
}

func TestFormatHunks(t *testing.T) {
	f := &hunk.File{Segments: []hunk.Segment{
		{Kind: hunk.Code, Size: 8, Relocs: 1, Symbols: []hunk.Symbol{
			{Name: "_start", Offset: 0},
			{Name: "_exit", Offset: 4},
		}},
		{Kind: hunk.BSS, Size: 16},
	}}
	out := FormatHunks(f)
	assert.Contains(t, out, "segment 0: CODE")
	assert.Contains(t, out, "1 relocs")
	assert.Contains(t, out, "00000004 _exit")
	assert.Contains(t, out, "segment 1: BSS")
	assert.Equal(t, 1, strings.Count(out, "relocs"), "BSS line has no reloc suffix")
}

func TestDetachWithoutAttach(t *testing.T) {
	d := New(rsp.Options{})
	assert.False(t, d.Attached())
	assert.NoError(t, d.Detach())
	_, err := d.Registers()
	assert.ErrorIs(t, err, ErrNotAttached)
}
