package rsp

import (
	"fmt"
	"strings"
)

// Register is a positional index into the 68k register file exposed by the
// WinUAE stub. The wire protocol addresses registers by index, not name, so
// the order here is load-bearing.
type Register int

const (
	D0 Register = iota
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
	SR
	PC

	NumRegisters = 18
)

var registerNames = [NumRegisters]string{
	"D0", "D1", "D2", "D3", "D4", "D5", "D6", "D7",
	"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7",
	"SR", "PC",
}

func (r Register) String() string {
	if r < 0 || r >= NumRegisters {
		return fmt.Sprintf("reg(%d)", int(r))
	}
	return registerNames[r]
}

// RegisterByName resolves a register name case-insensitively. "SP" is
// accepted as an alias for A7.
func RegisterByName(name string) (Register, bool) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "SP" {
		return A7, true
	}
	for i, rn := range registerNames {
		if rn == n {
			return Register(i), true
		}
	}
	return 0, false
}

// RegisterFile is the full positional register set: 8 data, 8 address,
// status register, program counter. All values are 32-bit big-endian on the
// wire.
type RegisterFile [NumRegisters]uint32

const registerFileHexLen = NumRegisters * 8

// parseRegisterFile decodes the reply to a 'g' command: 18 fixed-width
// big-endian hex fields. A short reply is a protocol error, not a partial
// result.
func parseRegisterFile(reply string) (RegisterFile, error) {
	var rf RegisterFile
	if len(reply) < registerFileHexLen {
		return rf, fmt.Errorf("register reply too short: got %d hex chars, want %d", len(reply), registerFileHexLen)
	}
	for i := range rf {
		v, err := parseHex32(reply[i*8 : i*8+8])
		if err != nil {
			return rf, fmt.Errorf("register %s: %w", Register(i), err)
		}
		rf[i] = v
	}
	return rf, nil
}

// encode renders the register file for a 'G' command, the exact inverse of
// parseRegisterFile.
func (rf RegisterFile) encode() string {
	var sb strings.Builder
	sb.Grow(registerFileHexLen)
	for _, v := range rf {
		fmt.Fprintf(&sb, "%08x", v)
	}
	return sb.String()
}

// parseHex32 decodes a 32-bit big-endian hex field. The empty string is
// rejected: an empty reply is the protocol's unsupported-command shape, not
// a zero value.
func parseHex32(s string) (uint32, error) {
	if s == "" || len(s) > 8 {
		return 0, fmt.Errorf("invalid hex value %q", s)
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return 0, fmt.Errorf("invalid hex value %q", s)
		}
		v = v<<4 | uint32(hexDigitVal(s[i]))
	}
	return v, nil
}
