package rsp

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvdjg/mcp-winuae-emu/internal/rsp/rsptest"
)

func testOptions() Options {
	return Options{
		CommandTimeout: 2 * time.Second,
		WriteTimeout:   2 * time.Second,
		StepTimeout:    2 * time.Second,
		SettleDelay:    time.Millisecond,
	}
}

func newTestClient(t *testing.T, tgt *rsptest.Target) *Client {
	t.Helper()
	cliEnd, tgtEnd := net.Pipe()
	go tgt.Serve(tgtEnd)
	c, err := NewClient(cliEnd, testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandshake(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)
	assert.Contains(t, c.Features(), "QStartNoAckMode+")
	assert.False(t, c.Running())
}

func TestReadRegisters(t *testing.T) {
	tgt := rsptest.New()
	tgt.SetRegister(int(PC), 0x00fc0a2c)
	tgt.SetRegister(int(SR), 0x2700)
	tgt.SetRegister(int(D3), 0xcafebabe)
	c := newTestClient(t, tgt)

	rf, err := c.ReadRegisters()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00fc0a2c), rf[PC])
	assert.Equal(t, uint32(0x2700), rf[SR])
	assert.Equal(t, uint32(0xcafebabe), rf[D3])
}

func TestReadWriteSingleRegister(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	require.NoError(t, c.WriteRegister(A3, 0x00010000))
	v, err := c.ReadRegister(A3)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x00010000), v)

	_, err = c.ReadRegister(Register(18))
	assert.Error(t, err)
}

// An empty reply to a register read is the stub's unsupported-command
// shape; it must surface as an error, not as value zero.
func TestReadRegisterEmptyReply(t *testing.T) {
	tgt := rsptest.New()
	tgt.Handlers = map[string]func(string) string{
		"p": func(string) string { return "" },
	}
	c := newTestClient(t, tgt)

	_, err := c.ReadRegister(D0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "D0")
}

func TestWriteRegisterSubset(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	err := c.WriteRegisters(map[Register]uint32{
		D0: 1,
		PC: 0x1000,
	})
	require.NoError(t, err)

	rf, err := c.ReadRegisters()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rf[D0])
	assert.Equal(t, uint32(0x1000), rf[PC])

	// Validation happens before any wire traffic.
	err = c.WriteRegisters(map[Register]uint32{Register(99): 0})
	assert.Error(t, err)
}

func TestWriteAllRegisters(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	var rf RegisterFile
	for i := range rf {
		rf[i] = uint32(0x100 + i)
	}
	require.NoError(t, c.WriteAllRegisters(rf))

	got, err := c.ReadRegisters()
	require.NoError(t, err)
	assert.Equal(t, rf, got)
}

func TestReadMemory(t *testing.T) {
	tgt := rsptest.New()
	tgt.Poke(0x1000, []byte{0xde, 0xad, 0xbe, 0xef})
	c := newTestClient(t, tgt)

	data, err := c.ReadMemory(0x1000, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, data)
}

func TestReadMemoryTargetError(t *testing.T) {
	tgt := rsptest.New()
	tgt.Handlers = map[string]func(string) string{
		"m": func(string) string { return "E01" },
	}
	c := newTestClient(t, tgt)

	_, err := c.ReadMemory(0xdff000, 2)
	require.Error(t, err)
	var te *TargetError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "01", te.Code)
	assert.Contains(t, err.Error(), "0xdff000")
}

// Writing 300 bytes with chunk size 256 issues exactly two sequential M
// commands: 256 bytes at 0x2000, then 44 bytes at 0x2100.
func TestWriteMemoryChunking(t *testing.T) {
	tgt := rsptest.New()
	var mu sync.Mutex
	var headers []string
	tgt.Handlers = map[string]func(string) string{
		"M": func(cmd string) string {
			mu.Lock()
			headers = append(headers, cmd[:strings.IndexByte(cmd, ':')])
			mu.Unlock()
			return "OK"
		},
	}
	c := newTestClient(t, tgt)

	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, c.WriteMemory(0x2000, data))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"M2000,100", "M2100,2c"}, headers)
}

// A chunk failure aborts the write without issuing the next chunk, and the
// error names the failing chunk's address.
func TestWriteMemoryAbortsOnChunkFailure(t *testing.T) {
	tgt := rsptest.New()
	var mu sync.Mutex
	var attempts []string
	fail := func(cmd string) string {
		mu.Lock()
		attempts = append(attempts, cmd[:strings.IndexByte(cmd, ',')])
		mu.Unlock()
		return "E55"
	}
	tgt.Handlers = map[string]func(string) string{"M": fail, "X": fail}
	c := newTestClient(t, tgt)

	err := c.WriteMemory(0x2000, make([]byte, 300))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x2000")

	mu.Lock()
	defer mu.Unlock()
	// One M attempt plus one X fallback for the first chunk, nothing for
	// the second.
	assert.Equal(t, []string{"M2000", "X2000"}, attempts)
}

// When the textual write fails the same chunk is retried with the binary
// command, including byte-stuffing of structural bytes.
func TestWriteMemoryBinaryFallback(t *testing.T) {
	tgt := rsptest.New()
	tgt.DropWrites = true
	c := newTestClient(t, tgt)

	data := []byte{0x23, 0x24, 0x7d, 0x00, 0xff, 0x7d, 0x23}
	require.NoError(t, c.WriteMemory(0x3000, data))
	assert.Equal(t, data, tgt.Peek(0x3000, len(data)))
}

func TestBreakpoints(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	require.NoError(t, c.SetBreakpoint(0x4000))
	assert.True(t, tgt.HasBreakpoint(0x4000))
	require.NoError(t, c.ClearBreakpoint(0x4000))
	assert.False(t, tgt.HasBreakpoint(0x4000))
}

func TestBreakpointErrorNamesAddress(t *testing.T) {
	tgt := rsptest.New()
	tgt.Handlers = map[string]func(string) string{
		"Z0": func(string) string { return "E01" },
	}
	c := newTestClient(t, tgt)

	err := c.SetBreakpoint(0x4000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0x4000")
}

func TestWatchpoints(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	require.NoError(t, c.SetWatchpoint(0xdff180, 2, WatchWrite))
	assert.True(t, tgt.HasWatchpoint(2, 0xdff180, 2))

	require.NoError(t, c.SetWatchpoint(0x100, 4, WatchRead))
	assert.True(t, tgt.HasWatchpoint(3, 0x100, 4))

	require.NoError(t, c.SetWatchpoint(0x200, 1, WatchAccess))
	assert.True(t, tgt.HasWatchpoint(4, 0x200, 1))

	require.NoError(t, c.ClearWatchpoint(0xdff180, 2, WatchWrite))
	assert.False(t, tgt.HasWatchpoint(2, 0xdff180, 2))

	assert.Error(t, c.SetWatchpoint(0x100, 4, WatchKind(7)))
}

func TestStep(t *testing.T) {
	tgt := rsptest.New()
	c := newTestClient(t, tgt)

	sr, err := c.Step()
	require.NoError(t, err)
	assert.Equal(t, 5, sr.Signal)
	assert.False(t, c.Running())
}

func TestContinueThenWaitForStop(t *testing.T) {
	tgt := rsptest.New()
	tgt.StopAsync = "S05"
	c := newTestClient(t, tgt)

	require.NoError(t, c.Continue())
	sr, err := c.WaitForStop(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "S05", sr.Raw)
	assert.False(t, c.Running())
}

func TestMonitor(t *testing.T) {
	tgt := rsptest.New()
	tgt.MonitorOutput["version"] = "WinUAE 5.0.0"
	tgt.MonitorOutput["reset"] = ""
	c := newTestClient(t, tgt)

	out, err := c.Monitor("version", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "WinUAE 5.0.0", out)

	out, err = c.Monitor("reset", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "", out)

	_, err = c.Monitor("bogus", time.Second)
	var te *TargetError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "bogus")
}
