package dbg

import (
	"fmt"
	"strings"

	"github.com/dvdjg/mcp-winuae-emu/internal/amiga"
	"github.com/dvdjg/mcp-winuae-emu/internal/hunk"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

// FormatRegisters renders the register file the way the WinUAE debugger
// prints it: data registers, address registers, then SR with decoded
// condition codes and PC.
func FormatRegisters(rf rsp.RegisterFile) string {
	var b strings.Builder
	for i := 0; i < 8; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "D%d=%08X", i, rf[rsp.D0+rsp.Register(i)])
	}
	b.WriteByte('\n')
	for i := 0; i < 8; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "A%d=%08X", i, rf[rsp.A0+rsp.Register(i)])
	}
	b.WriteByte('\n')
	sr := rf[rsp.SR]
	fmt.Fprintf(&b, "SR=%04X %s PC=%08X\n", sr&0xFFFF, srFlags(uint16(sr)), rf[rsp.PC])
	return b.String()
}

// srFlags decodes the 68000 status register condition codes plus the
// supervisor and trace bits, upper case when set.
func srFlags(sr uint16) string {
	flag := func(bit uint, set, clear byte) byte {
		if sr&(1<<bit) != 0 {
			return set
		}
		return clear
	}
	return string([]byte{
		flag(15, 'T', '-'),
		flag(13, 'S', '-'),
		flag(4, 'X', '-'),
		flag(3, 'N', '-'),
		flag(2, 'Z', '-'),
		flag(1, 'V', '-'),
		flag(0, 'C', '-'),
	})
}

// HexDump renders memory in the canonical 16-bytes-per-row layout with an
// address column and an ASCII gutter.
func HexDump(addr uint32, data []byte) string {
	var b strings.Builder
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		fmt.Fprintf(&b, "%08X ", addr+uint32(off))
		for i := 0; i < 16; i++ {
			if i == 8 {
				b.WriteByte(' ')
			}
			if i < len(row) {
				fmt.Fprintf(&b, " %02X", row[i])
			} else {
				b.WriteString("   ")
			}
		}
		b.WriteString("  ")
		for _, c := range row {
			if c >= 0x20 && c < 0x7F {
				b.WriteByte(c)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatCopper renders a decoded Copper list one instruction per line with
// the address each word pair was fetched from.
func FormatCopper(ops []amiga.CopperOp) string {
	var b strings.Builder
	for _, op := range ops {
		fmt.Fprintf(&b, "%08X  %04X %04X  %s\n", op.Addr, op.IR1, op.IR2, op.String())
	}
	return b.String()
}

// FormatStop summarizes a stop reply for display.
func FormatStop(s rsp.StopReply) string {
	if s.Synthetic {
		return "already stopped"
	}
	if name := signalName(s.Signal); name != "" {
		return fmt.Sprintf("stopped (%s, raw %q)", name, s.Raw)
	}
	return fmt.Sprintf("stopped (signal %d, raw %q)", s.Signal, s.Raw)
}

func signalName(sig int) string {
	switch sig {
	case 2:
		return "SIGINT"
	case 5:
		return "SIGTRAP"
	case 11:
		return "SIGSEGV"
	}
	return ""
}

// FormatHunks renders the segment table of a parsed executable, one line
// per segment plus its symbols indented beneath it.
func FormatHunks(f *hunk.File) string {
	var b strings.Builder
	for i, seg := range f.Segments {
		fmt.Fprintf(&b, "segment %d: %-4s %6d bytes", i, seg.Kind, seg.Size)
		if n := seg.Relocs; n > 0 {
			fmt.Fprintf(&b, ", %d relocs", n)
		}
		b.WriteByte('\n')
		for _, sym := range seg.Symbols {
			fmt.Fprintf(&b, "    %08X %s\n", sym.Offset, sym.Name)
		}
	}
	return b.String()
}
