package rsp

import (
	"encoding/hex"
	"fmt"
)

const (
	packetStart   = '$'
	packetEnd     = '#'
	ackByte       = '+'
	nackByte      = '-'
	escapeByte    = 0x7d
	escapeMask    = 0x20
	interruptByte = 0x03
)

func checksum(payload []byte) uint8 {
	var sum uint8
	for _, b := range payload {
		sum += b
	}
	return sum
}

// frame wraps a command payload as $payload#xx. The payload is embedded raw:
// binary commands must already be escaped by the caller.
func frame(payload []byte) []byte {
	p := make([]byte, 0, len(payload)+4)
	p = append(p, packetStart)
	p = append(p, payload...)
	p = append(p, packetEnd)
	return append(p, fmt.Sprintf("%02x", checksum(payload))...)
}

// escapeBinary stuffs bytes that are structurally significant to the framing
// layer. 0x23 ('#'), 0x24 ('$') and 0x7d ('}') become 0x7d followed by the
// byte XOR 0x20.
func escapeBinary(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		switch b {
		case escapeByte, packetStart, packetEnd:
			out = append(out, escapeByte, b^escapeMask)
		default:
			out = append(out, b)
		}
	}
	return out
}

func unescapeBinary(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == escapeByte && i+1 < len(data) {
			i++
			out = append(out, data[i]^escapeMask)
			continue
		}
		out = append(out, data[i])
	}
	return out
}

type packetKind int

const (
	// kindConsole is an O<hex> console-output packet. Decoded for
	// diagnostics, never delivered to a resolver.
	kindConsole packetKind = iota
	// kindStop is a stop reply (S.. or T..), synchronous or asynchronous
	// depending on the pending queue.
	kindStop
	// kindReply is anything else: the answer to the oldest pending command.
	kindReply
)

type packet struct {
	kind    packetKind
	payload string
	text    string // decoded console output for kindConsole
}

// classify inspects a validated payload and tags it. The literal reply "OK"
// is not console output: an O packet requires the whole remainder to be hex
// digits and at least one hex pair.
func classify(payload string) packet {
	if len(payload) > 1 && payload[0] == 'O' && isHex(payload[1:]) {
		text, _ := hex.DecodeString(payload[1:])
		return packet{kind: kindConsole, payload: payload, text: string(text)}
	}
	if isStopReply(payload) {
		return packet{kind: kindStop, payload: payload}
	}
	return packet{kind: kindReply, payload: payload}
}

func isStopReply(payload string) bool {
	return len(payload) > 0 && (payload[0] == 'S' || payload[0] == 'T')
}

// isErrorReply reports replies of the shape E<code>.
func isErrorReply(payload string) bool {
	return len(payload) >= 2 && payload[0] == 'E' && isHex(payload[1:])
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return false
		}
	}
	return true
}

func isHexDigit(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'f' || b >= 'A' && b <= 'F'
}

func hexDigitVal(b byte) uint8 {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return b - 'A' + 10
	}
}

type eventType int

const (
	evAck eventType = iota
	evNack
	evFrame    // complete frame, checksum verified
	evBadFrame // complete frame, checksum mismatch
)

type event struct {
	typ     eventType
	payload []byte
}

// parser turns an arbitrarily chunked byte stream into framing events. Bytes
// are accumulated with feed; next extracts at most one event per call and
// returns false when more input is needed. Garbage preceding a packet start
// is discarded.
type parser struct {
	buf []byte
}

func (p *parser) feed(data []byte) {
	p.buf = append(p.buf, data...)
}

func (p *parser) next() (event, bool) {
	for len(p.buf) > 0 {
		switch p.buf[0] {
		case ackByte:
			p.buf = p.buf[1:]
			return event{typ: evAck}, true
		case nackByte:
			p.buf = p.buf[1:]
			return event{typ: evNack}, true
		case packetStart:
			return p.nextFrame()
		default:
			// Garbage between packets: resynchronize on the next '$'.
			p.buf = p.buf[1:]
		}
	}
	return event{}, false
}

func (p *parser) nextFrame() (event, bool) {
	end := -1
	for i := 1; i < len(p.buf); i++ {
		if p.buf[i] == packetEnd {
			end = i
			break
		}
	}
	if end == -1 || end+2 >= len(p.buf) {
		// Terminator or checksum digits not buffered yet.
		return event{}, false
	}
	payload := make([]byte, end-1)
	copy(payload, p.buf[1:end])
	c1, c2 := p.buf[end+1], p.buf[end+2]
	p.buf = p.buf[end+3:]

	if !isHexDigit(c1) || !isHexDigit(c2) {
		return event{typ: evBadFrame, payload: payload}, true
	}
	want := hexDigitVal(c1)<<4 | hexDigitVal(c2)
	if checksum(payload) != want {
		return event{typ: evBadFrame, payload: payload}, true
	}
	return event{typ: evFrame, payload: payload}, true
}
