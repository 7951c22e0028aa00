// Package amiga holds static knowledge about the Amiga chipset: custom
// register names and Copper list decoding. Everything here is pure table
// lookup over bytes already fetched from the target.
package amiga

import "fmt"

// CustomBase is the custom chip register block.
const CustomBase = 0xDFF000

var customRegs = map[uint16]string{
	0x000: "BLTDDAT", 0x002: "DMACONR", 0x004: "VPOSR", 0x006: "VHPOSR",
	0x008: "DSKDATR", 0x00A: "JOY0DAT", 0x00C: "JOY1DAT", 0x00E: "CLXDAT",
	0x010: "ADKCONR", 0x012: "POT0DAT", 0x014: "POT1DAT", 0x016: "POTGOR",
	0x018: "SERDATR", 0x01A: "DSKBYTR", 0x01C: "INTENAR", 0x01E: "INTREQR",
	0x020: "DSKPTH", 0x022: "DSKPTL", 0x024: "DSKLEN", 0x026: "DSKDAT",
	0x028: "REFPTR", 0x02A: "VPOSW", 0x02C: "VHPOSW", 0x02E: "COPCON",
	0x030: "SERDAT", 0x032: "SERPER", 0x034: "POTGO", 0x036: "JOYTEST",
	0x038: "STREQU", 0x03A: "STRVBL", 0x03C: "STRHOR", 0x03E: "STRLONG",
	0x040: "BLTCON0", 0x042: "BLTCON1", 0x044: "BLTAFWM", 0x046: "BLTALWM",
	0x048: "BLTCPTH", 0x04A: "BLTCPTL", 0x04C: "BLTBPTH", 0x04E: "BLTBPTL",
	0x050: "BLTAPTH", 0x052: "BLTAPTL", 0x054: "BLTDPTH", 0x056: "BLTDPTL",
	0x058: "BLTSIZE", 0x05A: "BLTCON0L", 0x05C: "BLTSIZV", 0x05E: "BLTSIZH",
	0x060: "BLTCMOD", 0x062: "BLTBMOD", 0x064: "BLTAMOD", 0x066: "BLTDMOD",
	0x070: "BLTCDAT", 0x072: "BLTBDAT", 0x074: "BLTADAT",
	0x078: "SPRHDAT", 0x07A: "BPLHDAT", 0x07C: "DENISEID", 0x07E: "DSKSYNC",
	0x080: "COP1LCH", 0x082: "COP1LCL", 0x084: "COP2LCH", 0x086: "COP2LCL",
	0x088: "COPJMP1", 0x08A: "COPJMP2", 0x08C: "COPINS",
	0x08E: "DIWSTRT", 0x090: "DIWSTOP", 0x092: "DDFSTRT", 0x094: "DDFSTOP",
	0x096: "DMACON", 0x098: "CLXCON", 0x09A: "INTENA", 0x09C: "INTREQ",
	0x09E: "ADKCON",
	0x100: "BPLCON0", 0x102: "BPLCON1", 0x104: "BPLCON2", 0x106: "BPLCON3",
	0x108: "BPL1MOD", 0x10A: "BPL2MOD", 0x10C: "BPLCON4", 0x10E: "CLXCON2",
	0x1DC: "BEAMCON0", 0x1DE: "HSSTRT", 0x1E0: "VSSTRT", 0x1E2: "HCENTER",
	0x1E4: "DIWHIGH", 0x1FC: "FMODE", 0x1FE: "NO-OP",
}

// RegisterName resolves a custom chip register by absolute address or by
// offset into the custom block. Banked registers (colors, bitplane and
// sprite pointers, audio channels) are derived; anything else falls back to
// the raw offset.
func RegisterName(addr uint32) string {
	switch {
	case addr < 0x200:
		return offsetName(uint16(addr))
	case addr >= CustomBase && addr < CustomBase+0x200:
		return offsetName(uint16(addr - CustomBase))
	default:
		return fmt.Sprintf("$%06X", addr)
	}
}

func offsetName(off uint16) string {
	off &^= 1 // registers are word addressed
	if name, ok := customRegs[off]; ok {
		return name
	}
	switch {
	case off >= 0x0A0 && off < 0x0E0: // audio channels, 0x10 apart
		ch := (off - 0x0A0) / 0x10
		sub := off & 0x0E
		names := map[uint16]string{0x0: "LCH", 0x2: "LCL", 0x4: "LEN", 0x6: "PER", 0x8: "VOL", 0xA: "DAT"}
		if n, ok := names[sub]; ok {
			return fmt.Sprintf("AUD%d%s", ch, n)
		}
	case off >= 0x0E0 && off < 0x100: // bitplane pointers
		pl := (off - 0x0E0) / 4
		if off%4 < 2 {
			return fmt.Sprintf("BPL%dPTH", pl+1)
		}
		return fmt.Sprintf("BPL%dPTL", pl+1)
	case off >= 0x110 && off < 0x120: // bitplane data
		return fmt.Sprintf("BPL%dDAT", (off-0x110)/2+1)
	case off >= 0x120 && off < 0x140: // sprite pointers
		sp := (off - 0x120) / 4
		if off%4 < 2 {
			return fmt.Sprintf("SPR%dPTH", sp)
		}
		return fmt.Sprintf("SPR%dPTL", sp)
	case off >= 0x140 && off < 0x180: // sprite control/data
		sp := (off - 0x140) / 8
		sub := off & 0x6
		names := [4]string{"POS", "CTL", "DATA", "DATB"}
		return fmt.Sprintf("SPR%d%s", sp, names[sub/2])
	case off >= 0x180 && off < 0x1C0: // palette
		return fmt.Sprintf("COLOR%02d", (off-0x180)/2)
	}
	return fmt.Sprintf("$%03X", off)
}
