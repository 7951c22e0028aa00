// Package rsptest provides a scriptable in-process stand-in for the WinUAE
// GDB stub, used by the protocol client tests. It serves real framing over
// any connection (net.Pipe in practice) and emulates the command subset the
// target speaks: a 68k register file, sparse memory, breakpoints and
// watchpoints, vCont execution and qRcmd.
package rsptest

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// NumRegisters matches the target's positional file: D0-D7, A0-A7, SR, PC.
const NumRegisters = 18

type Target struct {
	mu    sync.Mutex
	noAck bool
	regs  [NumRegisters]uint32
	mem   map[uint32]byte
	bp    map[uint32]bool
	watch map[string]bool

	// Handlers overrides dispatch by command prefix; the longest matching
	// prefix wins. Return the raw reply payload.
	Handlers map[string]func(cmd string) string

	// StopAsync, when non-empty, is sent as an unsolicited packet after a
	// vCont;c instead of the default silence.
	StopAsync string

	// DropWrites makes textual M commands fail with E22 so clients exercise
	// the binary fallback.
	DropWrites bool

	// MonitorOutput maps qRcmd command text to reply text.
	MonitorOutput map[string]string
}

func New() *Target {
	return &Target{
		mem:           make(map[uint32]byte),
		bp:            make(map[uint32]bool),
		watch:         make(map[string]bool),
		MonitorOutput: make(map[string]string),
	}
}

// SetRegister seeds a register value before or during a session.
func (t *Target) SetRegister(idx int, v uint32) {
	t.mu.Lock()
	t.regs[idx] = v
	t.mu.Unlock()
}

// Poke seeds target memory.
func (t *Target) Poke(addr uint32, data []byte) {
	t.mu.Lock()
	for i, b := range data {
		t.mem[addr+uint32(i)] = b
	}
	t.mu.Unlock()
}

// Peek reads back target memory for assertions.
func (t *Target) Peek(addr uint32, n int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, n)
	for i := range out {
		out[i] = t.mem[addr+uint32(i)]
	}
	return out
}

// HasBreakpoint reports whether a breakpoint is currently set.
func (t *Target) HasBreakpoint(addr uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bp[addr]
}

// HasWatchpoint reports whether a kind/addr/len watchpoint is set.
func (t *Target) HasWatchpoint(kind int, addr uint32, length int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watch[watchKey(kind, addr, length)]
}

func watchKey(kind int, addr uint32, length int) string {
	return fmt.Sprintf("%d:%x:%x", kind, addr, length)
}

// Serve handles one session until the connection errors or closes.
func (t *Target) Serve(conn io.ReadWriter) error {
	r := bufio.NewReader(conn)
	for {
		pkt, interrupted, err := readPacket(r)
		if err != nil {
			return err
		}
		if interrupted {
			// Raw 0x03: halt and report.
			if err := t.writePacket(conn, "S02"); err != nil {
				return err
			}
			continue
		}
		t.mu.Lock()
		noAck := t.noAck
		t.mu.Unlock()
		if !noAck {
			if _, err := conn.Write([]byte{'+'}); err != nil {
				return err
			}
		}
		reply, send := t.dispatch(pkt)
		if !send {
			// Fire-and-forget resume; optionally emit an async stop.
			if t.StopAsync != "" {
				if err := t.writePacket(conn, t.StopAsync); err != nil {
					return err
				}
			}
			continue
		}
		if err := t.writePacket(conn, reply); err != nil {
			return err
		}
	}
}

func (t *Target) dispatch(cmd string) (string, bool) {
	if h := t.lookupHandler(cmd); h != nil {
		return h(cmd), true
	}
	switch {
	case cmd == "?":
		return "S05", true
	case strings.HasPrefix(cmd, "qSupported"):
		return "PacketSize=1000;QStartNoAckMode+;swbreak+;hwbreak+", true
	case cmd == "QStartNoAckMode":
		t.mu.Lock()
		t.noAck = true
		t.mu.Unlock()
		return "OK", true
	case cmd == "g":
		return t.readAllRegisters(), true
	case strings.HasPrefix(cmd, "G"):
		return t.writeAllRegisters(cmd[1:]), true
	case strings.HasPrefix(cmd, "p"):
		return t.readRegister(cmd[1:]), true
	case strings.HasPrefix(cmd, "P"):
		return t.writeRegister(cmd[1:]), true
	case strings.HasPrefix(cmd, "m"):
		return t.readMemory(cmd[1:]), true
	case strings.HasPrefix(cmd, "M"):
		if t.DropWrites {
			return "E22", true
		}
		return t.writeMemory(cmd[1:], false), true
	case strings.HasPrefix(cmd, "X"):
		return t.writeMemory(cmd[1:], true), true
	case strings.HasPrefix(cmd, "Z"), strings.HasPrefix(cmd, "z"):
		return t.breakpoint(cmd), true
	case cmd == "vCont;c":
		return "", false
	case cmd == "vCont;s":
		return "S05", true
	case strings.HasPrefix(cmd, "qRcmd,"):
		return t.monitor(cmd[len("qRcmd,"):]), true
	default:
		return "", true
	}
}

func (t *Target) lookupHandler(cmd string) func(string) string {
	var best string
	var fn func(string) string
	for prefix, h := range t.Handlers {
		if strings.HasPrefix(cmd, prefix) && len(prefix) > len(best) {
			best, fn = prefix, h
		}
	}
	return fn
}

func (t *Target) readAllRegisters() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	for _, v := range t.regs {
		fmt.Fprintf(&sb, "%08x", v)
	}
	return sb.String()
}

func (t *Target) writeAllRegisters(data string) string {
	if len(data) != NumRegisters*8 {
		return "E01"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.regs {
		v, err := strconv.ParseUint(data[i*8:i*8+8], 16, 32)
		if err != nil {
			return "E01"
		}
		t.regs[i] = uint32(v)
	}
	return "OK"
}

func (t *Target) readRegister(idxHex string) string {
	idx, err := strconv.ParseUint(idxHex, 16, 32)
	if err != nil || idx >= NumRegisters {
		return "E01"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("%08x", t.regs[idx])
}

func (t *Target) writeRegister(body string) string {
	i := strings.IndexByte(body, '=')
	if i < 0 {
		return "E01"
	}
	idx, err := strconv.ParseUint(body[:i], 16, 32)
	if err != nil || idx >= NumRegisters {
		return "E01"
	}
	v, err := strconv.ParseUint(body[i+1:], 16, 32)
	if err != nil {
		return "E02"
	}
	t.mu.Lock()
	t.regs[idx] = uint32(v)
	t.mu.Unlock()
	return "OK"
}

func (t *Target) readMemory(body string) string {
	parts := strings.SplitN(body, ",", 2)
	if len(parts) != 2 {
		return "E01"
	}
	addr, err1 := strconv.ParseUint(parts[0], 16, 32)
	n, err2 := strconv.ParseUint(parts[1], 16, 32)
	if err1 != nil || err2 != nil {
		return "E01"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = t.mem[uint32(addr)+uint32(i)]
	}
	return hex.EncodeToString(buf)
}

func (t *Target) writeMemory(body string, binary bool) string {
	idx := strings.IndexByte(body, ':')
	if idx < 0 {
		return "E01"
	}
	parts := strings.SplitN(body[:idx], ",", 2)
	if len(parts) != 2 {
		return "E01"
	}
	addr, err1 := strconv.ParseUint(parts[0], 16, 32)
	n, err2 := strconv.ParseUint(parts[1], 16, 32)
	if err1 != nil || err2 != nil {
		return "E01"
	}
	var data []byte
	if binary {
		data = unescape([]byte(body[idx+1:]))
	} else {
		var err error
		data, err = hex.DecodeString(body[idx+1:])
		if err != nil {
			return "E02"
		}
	}
	if uint64(len(data)) != n {
		return "E02"
	}
	t.mu.Lock()
	for i, b := range data {
		t.mem[uint32(addr)+uint32(i)] = b
	}
	t.mu.Unlock()
	return "OK"
}

func (t *Target) breakpoint(cmd string) string {
	parts := strings.Split(cmd, ",")
	if len(parts) != 3 {
		return "E01"
	}
	kind := cmd[1]
	addr, err1 := strconv.ParseUint(parts[1], 16, 32)
	length, err2 := strconv.ParseUint(parts[2], 16, 32)
	if err1 != nil || err2 != nil {
		return "E01"
	}
	set := cmd[0] == 'Z'
	t.mu.Lock()
	defer t.mu.Unlock()
	if kind == '0' {
		if set {
			t.bp[uint32(addr)] = true
		} else {
			delete(t.bp, uint32(addr))
		}
		return "OK"
	}
	if kind < '2' || kind > '4' {
		return "E01"
	}
	key := watchKey(int(kind-'0'), uint32(addr), int(length))
	if set {
		t.watch[key] = true
	} else {
		delete(t.watch, key)
	}
	return "OK"
}

func (t *Target) monitor(hexCmd string) string {
	text, err := hex.DecodeString(hexCmd)
	if err != nil {
		return "E01"
	}
	out, ok := t.MonitorOutput[string(text)]
	if !ok {
		return "E01"
	}
	if out == "" {
		return "OK"
	}
	return hex.EncodeToString([]byte(out))
}

// readPacket extracts the next frame, tolerating interleaved ack bytes. The
// second return is true when a raw interrupt byte arrived instead of a
// frame.
func readPacket(r *bufio.Reader) (string, bool, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", false, err
		}
		switch b {
		case '+', '-':
			continue
		case 0x03:
			return "", true, nil
		case '$':
		default:
			continue
		}
		break
	}
	var data []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", false, err
		}
		if b == '#' {
			break
		}
		data = append(data, b)
	}
	csum := make([]byte, 2)
	if _, err := io.ReadFull(r, csum); err != nil {
		return "", false, err
	}
	return string(data), false, nil
}

func (t *Target) writePacket(w io.Writer, payload string) error {
	var sum byte
	for i := 0; i < len(payload); i++ {
		sum += payload[i]
	}
	_, err := fmt.Fprintf(w, "$%s#%02x", payload, sum)
	return err
}

func unescape(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == 0x7d && i+1 < len(data) {
			i++
			out = append(out, data[i]^0x20)
			continue
		}
		out = append(out, data[i])
	}
	return out
}
