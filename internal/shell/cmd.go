package shell

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dvdjg/mcp-winuae-emu/internal/dbg"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

type command struct {
	aliases []string
	usage   string
	help    string
	fn      func(args []string) error
}

// Commands dispatches console lines to debugger operations. Output goes
// through printf, which rewrites newlines for the raw-mode terminal.
type Commands struct {
	cmds []command
	out  io.Writer
	d    *dbg.Debugger
}

func DebuggerCommands(out io.Writer, d *dbg.Debugger) *Commands {
	c := &Commands{out: out, d: d}
	c.cmds = append(c.cmds,
		command{
			aliases: []string{"help", "h", "?"},
			usage:   "help",
			help:    "list commands",
			fn:      c.help,
		},
		command{
			aliases: []string{"exit", "quit", "q"},
			usage:   "quit",
			help:    "leave the console",
			fn:      c.exit,
		},
		command{
			aliases: []string{"launch"},
			usage:   "launch <config.uae> [binary]",
			help:    "start WinUAE with the debugging stub and attach",
			fn:      c.launch,
		},
		command{
			aliases: []string{"attach"},
			usage:   "attach <host:port>",
			help:    "attach to a running emulator stub",
			fn:      c.attach,
		},
		command{
			aliases: []string{"detach"},
			usage:   "detach",
			help:    "drop the connection, stopping the emulator if launched here",
			fn:      c.detach,
		},
		command{
			aliases: []string{"regs", "r"},
			usage:   "regs",
			help:    "show all registers",
			fn:      c.regs,
		},
		command{
			aliases: []string{"set"},
			usage:   "set <reg> <value>",
			help:    "write a register, e.g. set d0 0xFF",
			fn:      c.set,
		},
		command{
			aliases: []string{"mem", "m"},
			usage:   "mem <addr> [len]",
			help:    "dump memory (default 64 bytes)",
			fn:      c.mem,
		},
		command{
			aliases: []string{"write", "w"},
			usage:   "write <addr> <hexbytes>",
			help:    "write bytes, e.g. write 0x1000 4E714E71",
			fn:      c.write,
		},
		command{
			aliases: []string{"break", "b"},
			usage:   "break <addr>",
			help:    "set a breakpoint",
			fn:      c.breakpoint,
		},
		command{
			aliases: []string{"delete", "d"},
			usage:   "delete <addr>",
			help:    "clear a breakpoint",
			fn:      c.deleteBreakpoint,
		},
		command{
			aliases: []string{"watch"},
			usage:   "watch <addr> [len] [write|read|access]",
			help:    "set a watchpoint",
			fn:      c.watch,
		},
		command{
			aliases: []string{"unwatch"},
			usage:   "unwatch <addr> [len] [write|read|access]",
			help:    "clear a watchpoint (same arguments as watch)",
			fn:      c.unwatch,
		},
		command{
			aliases: []string{"step", "s"},
			usage:   "step",
			help:    "execute one instruction",
			fn:      c.step,
		},
		command{
			aliases: []string{"cont", "c"},
			usage:   "cont",
			help:    "resume execution",
			fn:      c.cont,
		},
		command{
			aliases: []string{"pause", "p"},
			usage:   "pause",
			help:    "interrupt the running target",
			fn:      c.pause,
		},
		command{
			aliases: []string{"wait"},
			usage:   "wait [seconds]",
			help:    "wait for the target to halt (default 30s)",
			fn:      c.wait,
		},
		command{
			aliases: []string{"mon"},
			usage:   "mon <command...>",
			help:    "run a WinUAE console command, e.g. mon v -3",
			fn:      c.monitor,
		},
		command{
			aliases: []string{"copper"},
			usage:   "copper <addr> [len]",
			help:    "disassemble a Copper list (default 256 bytes)",
			fn:      c.copper,
		},
		command{
			aliases: []string{"hunk"},
			usage:   "hunk <path>",
			help:    "inspect a hunk executable on the host",
			fn:      c.hunk,
		},
	)
	return c
}

func (c *Commands) Process(line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return fmt.Errorf("empty command")
	}

	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			if args[0] == alias {
				return cmd.fn(args[1:])
			}
		}
	}
	return fmt.Errorf("unknown command '%s' (try help)", args[0])
}

func (c *Commands) Close() error {
	return c.d.Detach()
}

// printf writes command output, translating newlines so raw terminal mode
// does not stairstep the text.
func (c *Commands) printf(format string, args ...any) error {
	s := fmt.Sprintf(format, args...)
	s = strings.ReplaceAll(s, "\n", "\r\n")
	_, err := io.WriteString(c.out, s)
	return err
}

func parseAddr(s string) (uint32, error) {
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address '%s'", s)
	}
	return uint32(v), nil
}

func parseLen(args []string, idx, def int) (int, error) {
	if idx >= len(args) {
		return def, nil
	}
	n, err := strconv.Atoi(args[idx])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("bad length '%s'", args[idx])
	}
	return n, nil
}

func (c *Commands) help(args []string) error {
	for _, cmd := range c.cmds {
		if err := c.printf("  %-40s %s\n", cmd.usage, cmd.help); err != nil {
			return err
		}
	}
	return nil
}

func (c *Commands) exit(args []string) error {
	return io.EOF
}

func (c *Commands) launch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: launch <config.uae> [binary]")
	}
	binary := ""
	if len(args) > 1 {
		binary = args[1]
	}
	if err := c.d.Launch(binary, args[0], 0); err != nil {
		return err
	}
	return c.printf("attached\n")
}

func (c *Commands) attach(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: attach <host:port>")
	}
	if err := c.d.Attach(args[0]); err != nil {
		return err
	}
	return c.printf("attached to %s\n", args[0])
}

func (c *Commands) detach(args []string) error {
	if err := c.d.Detach(); err != nil {
		return err
	}
	return c.printf("detached\n")
}

func (c *Commands) regs(args []string) error {
	rf, err := c.d.Registers()
	if err != nil {
		return err
	}
	return c.printf("%s", dbg.FormatRegisters(rf))
}

func (c *Commands) set(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: set <reg> <value>")
	}
	value, err := parseAddr(args[1])
	if err != nil {
		return err
	}
	if err := c.d.WriteRegisters(map[string]uint32{args[0]: value}); err != nil {
		return err
	}
	return c.printf("%s = %08X\n", strings.ToUpper(args[0]), value)
}

func (c *Commands) mem(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mem <addr> [len]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	length, err := parseLen(args, 1, 64)
	if err != nil {
		return err
	}
	data, err := c.d.ReadMemory(addr, length)
	if err != nil {
		return err
	}
	return c.printf("%s", dbg.HexDump(addr, data))
}

func (c *Commands) write(args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: write <addr> <hexbytes>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("bad data '%s'", args[1])
	}
	if err := c.d.WriteMemory(addr, data); err != nil {
		return err
	}
	return c.printf("wrote %d bytes at %08X\n", len(data), addr)
}

func (c *Commands) breakpoint(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: break <addr>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if err := c.d.SetBreakpoint(addr); err != nil {
		return err
	}
	return c.printf("breakpoint at %08X\n", addr)
}

func (c *Commands) deleteBreakpoint(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: delete <addr>")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	if err := c.d.ClearBreakpoint(addr); err != nil {
		return err
	}
	return c.printf("breakpoint cleared at %08X\n", addr)
}

func watchKind(args []string, idx int) (rsp.WatchKind, error) {
	if idx >= len(args) {
		return rsp.WatchWrite, nil
	}
	switch strings.ToLower(args[idx]) {
	case "write":
		return rsp.WatchWrite, nil
	case "read":
		return rsp.WatchRead, nil
	case "access":
		return rsp.WatchAccess, nil
	}
	return 0, fmt.Errorf("bad watch kind '%s'", args[idx])
}

func (c *Commands) watch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: watch <addr> [len] [write|read|access]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	length, err := parseLen(args, 1, 1)
	if err != nil {
		return err
	}
	kind, err := watchKind(args, 2)
	if err != nil {
		return err
	}
	if err := c.d.SetWatchpoint(addr, length, kind); err != nil {
		return err
	}
	return c.printf("watchpoint at %08X (%d bytes)\n", addr, length)
}

func (c *Commands) unwatch(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: unwatch <addr> [len] [write|read|access]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	length, err := parseLen(args, 1, 1)
	if err != nil {
		return err
	}
	kind, err := watchKind(args, 2)
	if err != nil {
		return err
	}
	if err := c.d.ClearWatchpoint(addr, length, kind); err != nil {
		return err
	}
	return c.printf("watchpoint cleared at %08X\n", addr)
}

func (c *Commands) step(args []string) error {
	stop, err := c.d.Step()
	if err != nil {
		return err
	}
	return c.showStop(stop)
}

func (c *Commands) cont(args []string) error {
	if err := c.d.Continue(); err != nil {
		return err
	}
	return c.printf("running\n")
}

func (c *Commands) pause(args []string) error {
	stop, err := c.d.Pause()
	if err != nil {
		return err
	}
	return c.showStop(stop)
}

func (c *Commands) wait(args []string) error {
	secs := 30
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("bad timeout '%s'", args[0])
		}
		secs = n
	}
	stop, err := c.d.WaitForStop(time.Duration(secs) * time.Second)
	if err != nil {
		return err
	}
	return c.showStop(stop)
}

func (c *Commands) showStop(stop rsp.StopReply) error {
	if err := c.printf("%s\n", dbg.FormatStop(stop)); err != nil {
		return err
	}
	rf, err := c.d.Registers()
	if err != nil {
		return err
	}
	return c.printf("%s", dbg.FormatRegisters(rf))
}

func (c *Commands) monitor(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: mon <command...>")
	}
	out, err := c.d.Monitor(strings.Join(args, " "), 30*time.Second)
	if err != nil {
		return err
	}
	if out == "" {
		out = "(no output)"
	}
	return c.printf("%s\n", strings.TrimRight(out, "\n"))
}

func (c *Commands) copper(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: copper <addr> [len]")
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		return err
	}
	length, err := parseLen(args, 1, 256)
	if err != nil {
		return err
	}
	ops, err := c.d.Copper(addr, length)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return c.printf("(empty list)\n")
	}
	return c.printf("%s", dbg.FormatCopper(ops))
}

func (c *Commands) hunk(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: hunk <path>")
	}
	f, err := c.d.InspectExecutable(args[0])
	if err != nil {
		return err
	}
	return c.printf("%s", dbg.FormatHunks(f))
}
