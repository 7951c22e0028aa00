package rsp

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// StopReply is a parsed S.. or T.. packet reporting that the target halted.
type StopReply struct {
	// Raw is the packet payload as received, e.g. "S05" or "T05swbreak:;".
	Raw string
	// Signal is the two-digit signal code following S or T.
	Signal int
	// Synthetic marks replies fabricated locally (Pause on an already
	// stopped target) that involved no wire traffic.
	Synthetic bool
}

func parseStopReply(payload string) StopReply {
	sr := StopReply{Raw: payload}
	if len(payload) >= 3 && isHexDigit(payload[1]) && isHexDigit(payload[2]) {
		sr.Signal = int(hexDigitVal(payload[1]))<<4 | int(hexDigitVal(payload[2]))
	}
	return sr
}

type pending struct {
	label string
	ch    chan outcome
	timer *time.Timer
}

type outcome struct {
	payload string
	err     error
}

// Conn owns one socket to the stub and multiplexes synchronous command
// exchanges against asynchronous stop notifications. Replies are matched to
// commands strictly in FIFO order: the wire protocol carries no request
// identity, so callers must not overlap commands. A reply arriving after its
// command timed out would be delivered to the next queued command; that is a
// limitation of the protocol itself and is deliberately not papered over
// with invented IDs.
type Conn struct {
	sock io.ReadWriteCloser
	logf func(format string, args ...any)

	wmu sync.Mutex // serializes raw socket writes

	mu      sync.Mutex
	noAck   bool
	running bool
	pending []*pending
	stop    *StopReply // one-slot mailbox for unsolicited stop replies
	closed  error
}

func newConn(sock io.ReadWriteCloser, logf func(string, ...any)) *Conn {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	c := &Conn{sock: sock, logf: logf}
	go c.readLoop()
	return c
}

// Close tears down the socket. Pending requests fail with ErrConnClosed once
// the read loop observes the close.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// Command sends one framed command and blocks until its FIFO-matched reply
// arrives or the timeout fires. A timeout removes only this command's queue
// entry; the connection stays up.
func (c *Conn) Command(cmd string, timeout time.Duration) (string, error) {
	p, err := c.enqueue(cmd, timeout)
	if err != nil {
		return "", err
	}
	if err := c.writeFrame(cmd); err != nil {
		c.remove(p)
		return "", err
	}
	out := <-p.ch
	return out.payload, out.err
}

// Continue resumes execution fire-and-forget: the target will not reply
// until it halts, which may be arbitrarily far in the future. Any stale
// async stop value is cleared first.
func (c *Conn) Continue() error {
	c.mu.Lock()
	if err := c.closed; err != nil {
		c.mu.Unlock()
		return err
	}
	c.stop = nil
	c.running = true
	c.mu.Unlock()
	return c.writeFrame("vCont;c")
}

// Step single-steps and waits for the resulting stop reply.
func (c *Conn) Step(timeout time.Duration) (StopReply, error) {
	c.mu.Lock()
	c.stop = nil
	c.running = true
	c.mu.Unlock()
	reply, err := c.Command("vCont;s", timeout)
	if err != nil {
		return StopReply{}, err
	}
	if !isStopReply(reply) {
		return StopReply{}, fmt.Errorf("unexpected reply to step: %q", reply)
	}
	return parseStopReply(reply), nil
}

// WaitForStop consumes the async stop slot if populated, otherwise blocks
// until the next stop reply arrives. No wire traffic is generated.
func (c *Conn) WaitForStop(timeout time.Duration) (StopReply, error) {
	c.mu.Lock()
	if c.stop != nil {
		sr := *c.stop
		c.stop = nil
		c.mu.Unlock()
		return sr, nil
	}
	if err := c.closed; err != nil {
		c.mu.Unlock()
		return StopReply{}, err
	}
	p := &pending{label: "waiting for target stop", ch: make(chan outcome, 1)}
	p.timer = time.AfterFunc(timeout, func() { c.expire(p) })
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	out := <-p.ch
	if out.err != nil {
		return StopReply{}, out.err
	}
	if !isStopReply(out.payload) {
		return StopReply{}, fmt.Errorf("unexpected packet while waiting for stop: %q", out.payload)
	}
	return parseStopReply(out.payload), nil
}

// Pause halts a running target with the raw interrupt byte. If an async stop
// is already buffered it is consumed instead; if the target is not running a
// synthetic stop reply is returned with no wire traffic.
func (c *Conn) Pause(timeout time.Duration) (StopReply, error) {
	if sr, ok := c.takeStop(); ok {
		return sr, nil
	}
	c.mu.Lock()
	if err := c.closed; err != nil {
		c.mu.Unlock()
		return StopReply{}, err
	}
	if !c.running {
		c.mu.Unlock()
		return StopReply{Raw: "S00", Synthetic: true}, nil
	}
	c.mu.Unlock()

	p, err := c.enqueue("pause interrupt", timeout)
	if err != nil {
		return StopReply{}, err
	}
	if err := c.Interrupt(); err != nil {
		c.remove(p)
		return StopReply{}, err
	}
	out := <-p.ch
	if out.err != nil {
		return StopReply{}, out.err
	}
	if !isStopReply(out.payload) {
		return StopReply{}, fmt.Errorf("unexpected reply to interrupt: %q", out.payload)
	}
	return parseStopReply(out.payload), nil
}

// Interrupt writes the unframed interrupt byte 0x03.
func (c *Conn) Interrupt() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.sock.Write([]byte{interruptByte})
	return err
}

// Running reports whether a resume command is outstanding with no stop
// reply observed yet.
func (c *Conn) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Conn) setNoAck() {
	c.mu.Lock()
	c.noAck = true
	c.mu.Unlock()
}

func (c *Conn) takeStop() (StopReply, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return StopReply{}, false
	}
	sr := *c.stop
	c.stop = nil
	return sr, true
}

func (c *Conn) enqueue(label string, timeout time.Duration) (*pending, error) {
	c.mu.Lock()
	if err := c.closed; err != nil {
		c.mu.Unlock()
		return nil, err
	}
	p := &pending{label: label, ch: make(chan outcome, 1)}
	p.timer = time.AfterFunc(timeout, func() { c.expire(p) })
	c.pending = append(c.pending, p)
	c.mu.Unlock()
	return p, nil
}

// expire removes one specific entry, wherever it sits in the queue, and
// fails its caller with an error naming the command.
func (c *Conn) expire(p *pending) {
	if c.remove(p) {
		p.ch <- outcome{err: &TimeoutError{Command: p.label}}
	}
}

func (c *Conn) remove(p *pending) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.pending {
		if q == p {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Conn) writeFrame(cmd string) error {
	return c.writeRaw(frame([]byte(cmd)))
}

func (c *Conn) writeRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.sock.Write(data); err != nil {
		c.fail(fmt.Errorf("%w: %v", ErrConnClosed, err))
		return ErrConnClosed
	}
	return nil
}

func (c *Conn) readLoop() {
	var p parser
	buf := make([]byte, 4096)
	for {
		n, err := c.sock.Read(buf)
		if n > 0 {
			p.feed(buf[:n])
			for {
				ev, ok := p.next()
				if !ok {
					break
				}
				c.handleEvent(ev)
			}
		}
		if err != nil {
			c.fail(fmt.Errorf("%w: %v", ErrConnClosed, err))
			return
		}
	}
}

func (c *Conn) handleEvent(ev event) {
	switch ev.typ {
	case evAck:
		// The stub acknowledged our last packet; nothing to do.
	case evNack:
		c.logf("rsp: target rejected packet (nack)")
	case evBadFrame:
		c.logf("rsp: dropping packet with bad checksum: %q", ev.payload)
		if !c.ackMode() {
			return
		}
		c.writeControl(nackByte)
	case evFrame:
		if c.ackMode() {
			c.writeControl(ackByte)
		}
		c.dispatch(classify(string(ev.payload)))
	}
}

func (c *Conn) ackMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.noAck
}

func (c *Conn) writeControl(b byte) {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.sock.Write([]byte{b}); err != nil {
		c.logf("rsp: writing control byte: %v", err)
	}
}

func (c *Conn) dispatch(pkt packet) {
	switch pkt.kind {
	case kindConsole:
		c.logf("target: %s", strings.TrimRight(pkt.text, "\r\n"))
	case kindStop:
		c.mu.Lock()
		c.running = false
		if len(c.pending) == 0 {
			// Nobody is waiting: the normal case after a fire-and-forget
			// continue. Park it for a later WaitForStop or Pause.
			sr := parseStopReply(pkt.payload)
			c.stop = &sr
			c.mu.Unlock()
			return
		}
		p := c.popLocked()
		c.mu.Unlock()
		c.resolve(p, pkt.payload)
	case kindReply:
		c.mu.Lock()
		if len(c.pending) == 0 {
			c.mu.Unlock()
			c.logf("rsp: dropping unsolicited reply %q", pkt.payload)
			return
		}
		p := c.popLocked()
		c.mu.Unlock()
		c.resolve(p, pkt.payload)
	}
}

func (c *Conn) popLocked() *pending {
	p := c.pending[0]
	c.pending = c.pending[1:]
	return p
}

func (c *Conn) resolve(p *pending, payload string) {
	p.timer.Stop()
	p.ch <- outcome{payload: payload}
}

// fail rejects every pending request and marks the connection closed. The
// async stop slot and running flag are left alone: a caller reconnecting
// must re-handshake anyway.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed == nil {
		c.closed = err
	}
	pend := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, p := range pend {
		p.timer.Stop()
		p.ch <- outcome{err: err}
	}
}
