package rsp

import (
	"encoding/hex"
	"fmt"
	"net"
	"time"
)

// Options tunes the protocol client. Zero values select defaults.
type Options struct {
	// ConnectTimeout bounds the TCP dial, distinct from command timeouts.
	ConnectTimeout time.Duration
	// CommandTimeout applies to ordinary request/response exchanges.
	CommandTimeout time.Duration
	// WriteTimeout applies per memory/register write chunk. Writes on this
	// target are empirically much slower than reads, so this is generous.
	WriteTimeout time.Duration
	// StepTimeout bounds a single step, which is expected to complete
	// quickly.
	StepTimeout time.Duration
	// ChunkSize caps the payload of one memory-write command.
	ChunkSize int
	// SettleDelay is the pause after the initial interrupt on connect; the
	// stub only services the protocol once the target is halted.
	SettleDelay time.Duration
	// Logf receives protocol diagnostics (console output, nacks, dropped
	// packets). Nil discards them.
	Logf func(format string, args ...any)
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 3 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.StepTimeout == 0 {
		o.StepTimeout = 5 * time.Second
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = 256
	}
	if o.SettleDelay == 0 {
		o.SettleDelay = 200 * time.Millisecond
	}
	return o
}

// WatchKind selects what kind of memory access trips a watchpoint. The
// values are the wire tags of the Z command.
type WatchKind int

const (
	WatchWrite  WatchKind = 2
	WatchRead   WatchKind = 3
	WatchAccess WatchKind = 4
)

func (k WatchKind) String() string {
	switch k {
	case WatchWrite:
		return "write"
	case WatchRead:
		return "read"
	case WatchAccess:
		return "access"
	}
	return fmt.Sprintf("watchkind(%d)", int(k))
}

// Client is the typed command surface over one stub connection.
type Client struct {
	conn *Conn
	opt  Options

	// features is the raw qSupported reply, kept for diagnostics only.
	features string
}

// Dial connects to the stub at addr and performs the handshake.
func Dial(addr string, opt Options) (*Client, error) {
	opt = opt.withDefaults()
	sock, err := net.DialTimeout("tcp", addr, opt.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("connecting to stub at %s: %w", addr, err)
	}
	return NewClient(sock, opt)
}

// NewClient runs the handshake over an established connection. On failure
// the connection is closed.
func NewClient(sock net.Conn, opt Options) (*Client, error) {
	opt = opt.withDefaults()
	c := &Client{conn: newConn(sock, opt.Logf), opt: opt}
	if err := c.handshake(); err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("stub handshake: %w", err)
	}
	return c, nil
}

// handshake forces the target out of any running state, negotiates features
// and no-ack mode, and queries the halt reason to establish sync.
func (c *Client) handshake() error {
	// The stub drops commands while the target is executing; interrupt
	// first and give it a moment to halt.
	if err := c.conn.Interrupt(); err != nil {
		return err
	}
	time.Sleep(c.opt.SettleDelay)

	features, err := c.conn.Command("qSupported:multiprocess+;swbreak+;hwbreak+", c.opt.CommandTimeout)
	if err != nil {
		return err
	}
	c.features = features

	// Best effort: anything other than an affirmative reply leaves ack
	// mode on.
	if reply, err := c.conn.Command("QStartNoAckMode", c.opt.CommandTimeout); err == nil && reply == "OK" {
		c.conn.setNoAck()
	}

	if _, err := c.conn.Command("?", c.opt.CommandTimeout); err != nil {
		return err
	}
	// The initial interrupt may have parked an unsolicited stop packet in
	// the async slot; the halt-reason query supersedes it.
	c.conn.takeStop()
	return nil
}

// Features returns the raw qSupported response captured during the
// handshake.
func (c *Client) Features() string { return c.features }

// Close tears down the connection, failing any outstanding operations.
func (c *Client) Close() error { return c.conn.Close() }

// Running reports whether the target is believed to be executing.
func (c *Client) Running() bool { return c.conn.Running() }

// ReadRegisters fetches the full register file with a single 'g' command.
func (c *Client) ReadRegisters() (RegisterFile, error) {
	reply, err := c.conn.Command("g", c.opt.CommandTimeout)
	if err != nil {
		return RegisterFile{}, err
	}
	if isErrorReply(reply) {
		return RegisterFile{}, targetErr("reading registers", reply)
	}
	return parseRegisterFile(reply)
}

// ReadRegister reads one register by positional index.
func (c *Client) ReadRegister(r Register) (uint32, error) {
	if r < 0 || r >= NumRegisters {
		return 0, fmt.Errorf("invalid register index %d", int(r))
	}
	reply, err := c.conn.Command(fmt.Sprintf("p%x", int(r)), c.opt.CommandTimeout)
	if err != nil {
		return 0, err
	}
	if isErrorReply(reply) {
		return 0, targetErr(fmt.Sprintf("reading register %s", r), reply)
	}
	v, err := parseHex32(reply)
	if err != nil {
		return 0, fmt.Errorf("reading register %s: %w", r, err)
	}
	return v, nil
}

// WriteRegister sets one register. The reply must be exactly OK.
func (c *Client) WriteRegister(r Register, value uint32) error {
	if r < 0 || r >= NumRegisters {
		return fmt.Errorf("invalid register index %d", int(r))
	}
	reply, err := c.conn.Command(fmt.Sprintf("P%x=%08x", int(r), value), c.opt.WriteTimeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("writing register %s (index %d): unexpected reply %q", r, int(r), reply)
	}
	return nil
}

// WriteRegisters sets any subset of registers, validated against the fixed
// register table before any wire traffic.
func (c *Client) WriteRegisters(values map[Register]uint32) error {
	for r := range values {
		if r < 0 || r >= NumRegisters {
			return fmt.Errorf("invalid register index %d", int(r))
		}
	}
	for r := Register(0); r < NumRegisters; r++ {
		v, ok := values[r]
		if !ok {
			continue
		}
		if err := c.WriteRegister(r, v); err != nil {
			return err
		}
	}
	return nil
}

// WriteAllRegisters replaces the whole register file with a single 'G'
// command.
func (c *Client) WriteAllRegisters(rf RegisterFile) error {
	reply, err := c.conn.Command("G"+rf.encode(), c.opt.WriteTimeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		return fmt.Errorf("writing registers: unexpected reply %q", reply)
	}
	return nil
}

// ReadMemory reads length bytes at addr with one 'm' command.
func (c *Client) ReadMemory(addr uint32, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	reply, err := c.conn.Command(fmt.Sprintf("m%x,%x", addr, length), c.opt.CommandTimeout)
	if err != nil {
		return nil, err
	}
	if isErrorReply(reply) {
		return nil, targetErr(fmt.Sprintf("reading %d bytes at %#x", length, addr), reply)
	}
	data, err := hex.DecodeString(reply)
	if err != nil {
		return nil, fmt.Errorf("reading memory at %#x: malformed reply: %w", addr, err)
	}
	if len(data) != length {
		return nil, fmt.Errorf("reading memory at %#x: got %d bytes, want %d", addr, len(data), length)
	}
	return data, nil
}

// WriteMemory writes data at addr in sequential chunks. Each chunk goes out
// as a textual 'M' command first; if that specific chunk fails the same
// bytes are retried once with the binary 'X' command before the whole write
// aborts. Chunks are never pipelined: each needs its OK before the next is
// sent. Bytes committed by earlier chunks stay written on failure.
func (c *Client) WriteMemory(addr uint32, data []byte) error {
	for off := 0; off < len(data); off += c.opt.ChunkSize {
		end := off + c.opt.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunkAddr := addr + uint32(off)
		if err := c.writeChunk(chunkAddr, data[off:end]); err != nil {
			return fmt.Errorf("writing %d bytes at %#x: %w", end-off, chunkAddr, err)
		}
	}
	return nil
}

func (c *Client) writeChunk(addr uint32, chunk []byte) error {
	cmd := fmt.Sprintf("M%x,%x:%s", addr, len(chunk), hex.EncodeToString(chunk))
	reply, err := c.conn.Command(cmd, c.opt.WriteTimeout)
	if err == nil && reply == "OK" {
		return nil
	}
	// Large textual writes are unreliable on this target; fall back to the
	// binary variant for this one chunk.
	return c.writeChunkBinary(addr, chunk)
}

func (c *Client) writeChunkBinary(addr uint32, chunk []byte) error {
	cmd := append([]byte(fmt.Sprintf("X%x,%x:", addr, len(chunk))), escapeBinary(chunk)...)
	p, err := c.conn.enqueue(fmt.Sprintf("X%x,%x", addr, len(chunk)), c.opt.WriteTimeout)
	if err != nil {
		return err
	}
	if err := c.conn.writeRaw(frame(cmd)); err != nil {
		c.conn.remove(p)
		return err
	}
	out := <-p.ch
	if out.err != nil {
		return out.err
	}
	if isErrorReply(out.payload) {
		return targetErr("binary write", out.payload)
	}
	if out.payload != "OK" {
		return fmt.Errorf("unexpected reply to binary write: %q", out.payload)
	}
	return nil
}

// SetBreakpoint plants a software breakpoint at addr.
func (c *Client) SetBreakpoint(addr uint32) error {
	return c.breakpoint('Z', addr)
}

// ClearBreakpoint removes the software breakpoint at addr.
func (c *Client) ClearBreakpoint(addr uint32) error {
	return c.breakpoint('z', addr)
}

func (c *Client) breakpoint(op byte, addr uint32) error {
	// Kind 2: the only software breakpoint kind this target speaks.
	reply, err := c.conn.Command(fmt.Sprintf("%c0,%x,2", op, addr), c.opt.CommandTimeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		verb := "setting"
		if op == 'z' {
			verb = "clearing"
		}
		return fmt.Errorf("%s breakpoint at %#x: unexpected reply %q", verb, addr, reply)
	}
	return nil
}

// SetWatchpoint arms a watchpoint covering length bytes at addr.
func (c *Client) SetWatchpoint(addr uint32, length int, kind WatchKind) error {
	return c.watchpoint('Z', addr, length, kind)
}

// ClearWatchpoint removes a previously armed watchpoint.
func (c *Client) ClearWatchpoint(addr uint32, length int, kind WatchKind) error {
	return c.watchpoint('z', addr, length, kind)
}

func (c *Client) watchpoint(op byte, addr uint32, length int, kind WatchKind) error {
	if kind != WatchWrite && kind != WatchRead && kind != WatchAccess {
		return fmt.Errorf("invalid watchpoint kind %d", int(kind))
	}
	reply, err := c.conn.Command(fmt.Sprintf("%c%d,%x,%x", op, int(kind), addr, length), c.opt.CommandTimeout)
	if err != nil {
		return err
	}
	if reply != "OK" {
		verb := "setting"
		if op == 'z' {
			verb = "clearing"
		}
		return fmt.Errorf("%s %s watchpoint at %#x: unexpected reply %q", verb, kind, addr, reply)
	}
	return nil
}

// Continue resumes execution without waiting for a reply.
func (c *Client) Continue() error { return c.conn.Continue() }

// Step executes one instruction and returns the stop reply.
func (c *Client) Step() (StopReply, error) { return c.conn.Step(c.opt.StepTimeout) }

// Pause halts the target, or returns immediately if it is already stopped.
func (c *Client) Pause() (StopReply, error) { return c.conn.Pause(c.opt.CommandTimeout) }

// WaitForStop blocks until the target halts or the timeout expires.
func (c *Client) WaitForStop(timeout time.Duration) (StopReply, error) {
	return c.conn.WaitForStop(timeout)
}

// Monitor tunnels a vendor command through qRcmd with a caller-supplied
// timeout: these often run host-side emulator operations (screenshots,
// disassembly, input injection) far slower than ordinary commands. The
// hex-encoded reply is decoded to text.
func (c *Client) Monitor(command string, timeout time.Duration) (string, error) {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	reply, err := c.conn.Command("qRcmd,"+hex.EncodeToString([]byte(command)), timeout)
	if err != nil {
		return "", err
	}
	if isErrorReply(reply) {
		return "", targetErr(fmt.Sprintf("monitor command %q", command), reply)
	}
	if reply == "OK" || reply == "" {
		return "", nil
	}
	text, err := hex.DecodeString(reply)
	if err != nil {
		return "", fmt.Errorf("monitor command %q: malformed reply %q", command, reply)
	}
	return string(text), nil
}
