package rsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChecksumRoundTrip(t *testing.T) {
	payloads := []string{"", "OK", "g", "m1000,4", "qSupported:multiprocess+;swbreak+;hwbreak+", "S05"}
	for i, p := range payloads {
		f := frame([]byte(p))
		var parser parser
		parser.feed(f)
		ev, ok := parser.next()
		assert.True(t, ok, "test #%d", i)
		assert.Equal(t, evFrame, ev.typ, "test #%d", i)
		assert.Equal(t, []byte(p), ev.payload, "test #%d", i)
	}
}

func TestChecksumMutation(t *testing.T) {
	f := frame([]byte("m1000,4"))
	for i := 1; i < len(f)-3; i++ {
		mutated := append([]byte(nil), f...)
		mutated[i] ^= 0x01
		var p parser
		p.feed(mutated)
		ev, ok := p.next()
		if !ok {
			// Mutating a payload byte into '#' shortens the frame; the
			// truncated remainder never completes.
			continue
		}
		assert.Equal(t, evBadFrame, ev.typ, "mutated byte %d", i)
	}
}

func TestKnownChecksums(t *testing.T) {
	assert.Equal(t, []byte("$OK#9a"), frame([]byte("OK")))
	assert.Equal(t, []byte("$S05#b8"), frame([]byte("S05")))
}

var parserTests = []struct {
	name  string
	input string
	want  []event
}{
	{
		name:  "single packet",
		input: "$OK#9a",
		want:  []event{{typ: evFrame, payload: []byte("OK")}},
	},
	{
		name:  "ack then packet",
		input: "+$OK#9a",
		want:  []event{{typ: evAck}, {typ: evFrame, payload: []byte("OK")}},
	},
	{
		name:  "nack is control input",
		input: "-$OK#9a",
		want:  []event{{typ: evNack}, {typ: evFrame, payload: []byte("OK")}},
	},
	{
		name:  "garbage before start is discarded",
		input: "xyz$OK#9a",
		want:  []event{{typ: evFrame, payload: []byte("OK")}},
	},
	{
		name:  "bad checksum",
		input: "$OK#9b",
		want:  []event{{typ: evBadFrame, payload: []byte("OK")}},
	},
	{
		name:  "non-hex checksum",
		input: "$OK#zz",
		want:  []event{{typ: evBadFrame, payload: []byte("OK")}},
	},
	{
		name:  "two packets back to back",
		input: "$S05#b8$OK#9a",
		want: []event{
			{typ: evFrame, payload: []byte("S05")},
			{typ: evFrame, payload: []byte("OK")},
		},
	},
	{
		name:  "empty payload",
		input: "$#00",
		want:  []event{{typ: evFrame, payload: []byte{}}},
	},
}

func TestParser(t *testing.T) {
	for _, test := range parserTests {
		var p parser
		p.feed([]byte(test.input))
		var got []event
		for {
			ev, ok := p.next()
			if !ok {
				break
			}
			got = append(got, ev)
		}
		assert.Equal(t, test.want, got, test.name)
	}
}

// Feeding the same bytes one at a time must yield exactly the same events
// as feeding them whole.
func TestParserChunked(t *testing.T) {
	for _, test := range parserTests {
		for chunk := 1; chunk <= len(test.input); chunk++ {
			var p parser
			var got []event
			data := []byte(test.input)
			for off := 0; off < len(data); off += chunk {
				end := off + chunk
				if end > len(data) {
					end = len(data)
				}
				p.feed(data[off:end])
				for {
					ev, ok := p.next()
					if !ok {
						break
					}
					got = append(got, ev)
				}
			}
			assert.Equal(t, test.want, got, "%s (chunk %d)", test.name, chunk)
		}
	}
}

var classifyTests = []struct {
	payload string
	kind    packetKind
	text    string
}{
	{payload: "O68656c6c6f0a", kind: kindConsole, text: "hello\n"},
	{payload: "OK", kind: kindReply},     // not console output
	{payload: "O", kind: kindReply},      // bare O: remainder must be hex
	{payload: "Odead", kind: kindConsole, text: "\xde\xad"},
	{payload: "S05", kind: kindStop},
	{payload: "T05swbreak:;", kind: kindStop},
	{payload: "E01", kind: kindReply},
	{payload: "deadbeef", kind: kindReply},
	{payload: "", kind: kindReply},
}

func TestClassify(t *testing.T) {
	for i, test := range classifyTests {
		pkt := classify(test.payload)
		assert.Equal(t, test.kind, pkt.kind, "test #%d (%q)", i, test.payload)
		if test.kind == kindConsole {
			assert.Equal(t, test.text, pkt.text, "test #%d", i)
		}
	}
}

func TestBinaryEscapeRoundTrip(t *testing.T) {
	bufs := [][]byte{
		{0x23},
		{0x24},
		{0x7d},
		{0x23, 0x24, 0x7d},
		{0x00, 0x01, 0x23, 0xff, 0x24, 0x7d, 0x7d, 0x20},
		{},
	}
	for i, buf := range bufs {
		esc := escapeBinary(buf)
		assert.Equal(t, buf, unescapeBinary(esc), "test #%d", i)
	}

	// The escape encoding itself is fixed: byte -> 0x7d, byte^0x20.
	assert.Equal(t, []byte{0x7d, 0x03}, escapeBinary([]byte{0x23}))
	assert.Equal(t, []byte{0x7d, 0x04}, escapeBinary([]byte{0x24}))
	assert.Equal(t, []byte{0x7d, 0x5d}, escapeBinary([]byte{0x7d}))
}

func TestErrorReplyShape(t *testing.T) {
	assert.True(t, isErrorReply("E01"))
	assert.True(t, isErrorReply("E22"))
	assert.False(t, isErrorReply("E"))
	assert.False(t, isErrorReply("Equipment"))
	assert.False(t, isErrorReply("OK"))
}
