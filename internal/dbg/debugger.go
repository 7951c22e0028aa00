// Package dbg ties the emulator lifecycle and the protocol client together
// behind the typed operation surface both front ends (MCP tools and the
// interactive shell) consume.
package dbg

import (
	"errors"
	"fmt"
	"time"

	"github.com/dvdjg/mcp-winuae-emu/internal/amiga"
	"github.com/dvdjg/mcp-winuae-emu/internal/emu"
	"github.com/dvdjg/mcp-winuae-emu/internal/hunk"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

// ErrNotAttached guards every operation that needs a live stub connection.
var ErrNotAttached = errors.New("not attached to an emulator (launch or attach first)")

// Debugger owns at most one emulator process and one stub connection at a
// time. Replacing either requires tearing the previous one down first.
type Debugger struct {
	emulator *emu.Emulator // nil when attached to an externally started emulator
	client   *rsp.Client
	rspOpts  rsp.Options
}

func New(opts rsp.Options) *Debugger {
	return &Debugger{rspOpts: opts}
}

// Launch starts a supervised emulator from the given base config and
// connects to its stub.
func (d *Debugger) Launch(binary, config string, port int) error {
	if d.client != nil {
		return errors.New("already attached; detach first")
	}
	e, err := emu.Launch(emu.LaunchOptions{Binary: binary, Config: config, Port: port, RSP: d.rspOpts})
	if err != nil {
		return err
	}
	c, err := e.Connect(d.rspOpts)
	if err != nil {
		e.Stop()
		return err
	}
	d.emulator = e
	d.client = c
	return nil
}

// Attach connects to the stub of an already running emulator.
func (d *Debugger) Attach(addr string) error {
	if d.client != nil {
		return errors.New("already attached; detach first")
	}
	c, err := rsp.Dial(addr, d.rspOpts)
	if err != nil {
		return err
	}
	d.client = c
	return nil
}

// Detach closes the connection and stops the emulator if this debugger
// launched it.
func (d *Debugger) Detach() error {
	var err error
	if d.client != nil {
		err = d.client.Close()
		d.client = nil
	}
	if d.emulator != nil {
		if e := d.emulator.Stop(); err == nil {
			err = e
		}
		d.emulator = nil
	}
	return err
}

// Attached reports whether a stub connection is live.
func (d *Debugger) Attached() bool { return d.client != nil }

func (d *Debugger) conn() (*rsp.Client, error) {
	if d.client == nil {
		return nil, ErrNotAttached
	}
	return d.client, nil
}

func (d *Debugger) Registers() (rsp.RegisterFile, error) {
	c, err := d.conn()
	if err != nil {
		return rsp.RegisterFile{}, err
	}
	return c.ReadRegisters()
}

func (d *Debugger) ReadRegister(name string) (uint32, error) {
	c, err := d.conn()
	if err != nil {
		return 0, err
	}
	r, ok := rsp.RegisterByName(name)
	if !ok {
		return 0, fmt.Errorf("unknown register %q", name)
	}
	return c.ReadRegister(r)
}

// WriteRegisters sets any subset of registers by name.
func (d *Debugger) WriteRegisters(values map[string]uint32) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	byIndex := make(map[rsp.Register]uint32, len(values))
	for name, v := range values {
		r, ok := rsp.RegisterByName(name)
		if !ok {
			return fmt.Errorf("unknown register %q", name)
		}
		byIndex[r] = v
	}
	return c.WriteRegisters(byIndex)
}

func (d *Debugger) ReadMemory(addr uint32, length int) ([]byte, error) {
	c, err := d.conn()
	if err != nil {
		return nil, err
	}
	return c.ReadMemory(addr, length)
}

func (d *Debugger) WriteMemory(addr uint32, data []byte) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.WriteMemory(addr, data)
}

func (d *Debugger) SetBreakpoint(addr uint32) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.SetBreakpoint(addr)
}

func (d *Debugger) ClearBreakpoint(addr uint32) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.ClearBreakpoint(addr)
}

func (d *Debugger) SetWatchpoint(addr uint32, length int, kind rsp.WatchKind) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.SetWatchpoint(addr, length, kind)
}

func (d *Debugger) ClearWatchpoint(addr uint32, length int, kind rsp.WatchKind) error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.ClearWatchpoint(addr, length, kind)
}

func (d *Debugger) Continue() error {
	c, err := d.conn()
	if err != nil {
		return err
	}
	return c.Continue()
}

func (d *Debugger) Step() (rsp.StopReply, error) {
	c, err := d.conn()
	if err != nil {
		return rsp.StopReply{}, err
	}
	return c.Step()
}

func (d *Debugger) Pause() (rsp.StopReply, error) {
	c, err := d.conn()
	if err != nil {
		return rsp.StopReply{}, err
	}
	return c.Pause()
}

func (d *Debugger) WaitForStop(timeout time.Duration) (rsp.StopReply, error) {
	c, err := d.conn()
	if err != nil {
		return rsp.StopReply{}, err
	}
	return c.WaitForStop(timeout)
}

func (d *Debugger) Monitor(command string, timeout time.Duration) (string, error) {
	c, err := d.conn()
	if err != nil {
		return "", err
	}
	return c.Monitor(command, timeout)
}

// Copper reads length bytes at addr and decodes them as a Copper list.
func (d *Debugger) Copper(addr uint32, length int) ([]amiga.CopperOp, error) {
	data, err := d.ReadMemory(addr, length)
	if err != nil {
		return nil, err
	}
	return amiga.DecodeCopperList(addr, data, 0), nil
}

// InspectExecutable parses a hunk executable on the host filesystem. It
// needs no attached emulator.
func (d *Debugger) InspectExecutable(path string) (*hunk.File, error) {
	return hunk.Open(path)
}
