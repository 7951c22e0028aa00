package amiga

import (
	"encoding/binary"
	"fmt"
)

// CopperOpKind tags one decoded Copper instruction.
type CopperOpKind int

const (
	CopperMove CopperOpKind = iota
	CopperWait
	CopperSkip
	CopperEnd
)

// CopperOp is one decoded Copper instruction: two words starting at Addr.
type CopperOp struct {
	Kind CopperOpKind
	Addr uint32
	IR1  uint16
	IR2  uint16

	// MOVE fields.
	Reg   uint16 // destination offset into the custom block
	Value uint16

	// WAIT/SKIP fields.
	VP, HP     uint8 // beam position
	VE, HE     uint8 // comparison enable masks
	BlitFinish bool  // blitter-finished-disable bit clear
}

func (op CopperOp) String() string {
	switch op.Kind {
	case CopperMove:
		return fmt.Sprintf("MOVE %s,$%04X", offsetName(op.Reg), op.Value)
	case CopperWait:
		return fmt.Sprintf("WAIT VP=$%02X VE=$%02X HP=$%02X HE=$%02X BFD=%d", op.VP, op.VE, op.HP, op.HE, boolBit(!op.BlitFinish))
	case CopperSkip:
		return fmt.Sprintf("SKIP VP=$%02X VE=$%02X HP=$%02X HE=$%02X", op.VP, op.VE, op.HP, op.HE)
	case CopperEnd:
		return "END (WAIT $FFFF,$FFFE)"
	}
	return fmt.Sprintf("copper op %d", int(op.Kind))
}

func boolBit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// DecodeCopperList decodes big-endian word pairs fetched from addr. It
// stops at the end-of-list sentinel ($FFFF,$FFFE), after maxOps
// instructions, or when the data runs out.
func DecodeCopperList(addr uint32, data []byte, maxOps int) []CopperOp {
	var ops []CopperOp
	for off := 0; off+4 <= len(data); off += 4 {
		if maxOps > 0 && len(ops) >= maxOps {
			break
		}
		ir1 := binary.BigEndian.Uint16(data[off:])
		ir2 := binary.BigEndian.Uint16(data[off+2:])
		op := decodeCopperPair(addr+uint32(off), ir1, ir2)
		ops = append(ops, op)
		if op.Kind == CopperEnd {
			break
		}
	}
	return ops
}

func decodeCopperPair(addr uint32, ir1, ir2 uint16) CopperOp {
	op := CopperOp{Addr: addr, IR1: ir1, IR2: ir2}
	if ir1&1 == 0 {
		op.Kind = CopperMove
		op.Reg = ir1 & 0x1FE
		op.Value = ir2
		return op
	}
	if ir1 == 0xFFFF && ir2 == 0xFFFE {
		op.Kind = CopperEnd
		return op
	}
	if ir2&1 == 0 {
		op.Kind = CopperWait
	} else {
		op.Kind = CopperSkip
	}
	op.VP = uint8(ir1 >> 8)
	op.HP = uint8(ir1 & 0xFE)
	op.VE = uint8((ir2 >> 8) & 0x7F)
	op.HE = uint8(ir2 & 0xFE)
	op.BlitFinish = ir2&0x8000 == 0
	return op
}
