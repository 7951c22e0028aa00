// Package mcp exposes the debugger as a set of tools over the Model
// Context Protocol so an AI client can drive the emulator.
package mcp

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/dvdjg/mcp-winuae-emu/internal/dbg"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

const serverName = "winuae-debugger"

// Server wraps one Debugger behind MCP tool handlers. Stdout belongs to the
// protocol transport, so nothing here may print to it.
type Server struct {
	mcp *server.MCPServer
	dbg *dbg.Debugger
}

func NewServer(version string, d *dbg.Debugger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(serverName, version,
			server.WithToolCapabilities(false),
		),
		dbg: d,
	}
	s.registerTools()
	return s
}

// ServeStdio blocks serving the MCP session on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("launch",
		mcp.WithDescription("Launch WinUAE from a base config with the remote debugging stub enabled, then connect to it."),
		mcp.WithString("config", mcp.Required(), mcp.Description("Path to the base .uae configuration file.")),
		mcp.WithString("binary", mcp.Description("Path to the WinUAE executable. Defaults to $WINUAE_BINARY or \"winuae\" on PATH.")),
		mcp.WithNumber("port", mcp.Description("TCP port for the debugging stub (default 2345).")),
	), s.handleLaunch)

	s.mcp.AddTool(mcp.NewTool("attach",
		mcp.WithDescription("Connect to the debugging stub of an already running emulator."),
		mcp.WithString("address", mcp.Required(), mcp.Description("host:port of the stub, e.g. localhost:2345.")),
	), s.handleAttach)

	s.mcp.AddTool(mcp.NewTool("detach",
		mcp.WithDescription("Close the debugger connection and stop the emulator if this server launched it."),
	), s.handleDetach)

	s.mcp.AddTool(mcp.NewTool("read_registers",
		mcp.WithDescription("Read all 68k registers (D0-D7, A0-A7, SR, PC)."),
	), s.handleReadRegisters)

	s.mcp.AddTool(mcp.NewTool("write_register",
		mcp.WithDescription("Write one 68k register by name."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Register name: D0-D7, A0-A7, SP, SR or PC.")),
		mcp.WithString("value", mcp.Required(), mcp.Description("New 32-bit value, hex with optional 0x prefix.")),
	), s.handleWriteRegister)

	s.mcp.AddTool(mcp.NewTool("write_registers",
		mcp.WithDescription("Write several 68k registers in one call."),
		mcp.WithObject("values", mcp.Required(), mcp.Description("Map of register name to hex value, e.g. {\"D0\":\"0xFF\",\"PC\":\"0xC00000\"}.")),
	), s.handleWriteRegisters)

	s.mcp.AddTool(mcp.NewTool("read_memory",
		mcp.WithDescription("Read emulator memory and return a hex+ASCII dump."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Start address, hex with optional 0x prefix.")),
		mcp.WithNumber("length", mcp.Required(), mcp.Description("Number of bytes to read.")),
	), s.handleReadMemory)

	s.mcp.AddTool(mcp.NewTool("write_memory",
		mcp.WithDescription("Write bytes into emulator memory."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Start address, hex with optional 0x prefix.")),
		mcp.WithString("data", mcp.Required(), mcp.Description("Bytes to write as a hex string, e.g. 4E71 for NOP.")),
	), s.handleWriteMemory)

	s.mcp.AddTool(mcp.NewTool("set_breakpoint",
		mcp.WithDescription("Set a software breakpoint at an address."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Breakpoint address, hex.")),
	), s.handleSetBreakpoint)

	s.mcp.AddTool(mcp.NewTool("clear_breakpoint",
		mcp.WithDescription("Remove a software breakpoint."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Breakpoint address, hex.")),
	), s.handleClearBreakpoint)

	s.mcp.AddTool(mcp.NewTool("set_watchpoint",
		mcp.WithDescription("Set a memory watchpoint."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Watched address, hex.")),
		mcp.WithNumber("length", mcp.Description("Watched range in bytes (default 1).")),
		mcp.WithString("kind", mcp.Description("write, read or access (default write).")),
	), s.handleSetWatchpoint)

	s.mcp.AddTool(mcp.NewTool("clear_watchpoint",
		mcp.WithDescription("Remove a memory watchpoint. Arguments must match the set call."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Watched address, hex.")),
		mcp.WithNumber("length", mcp.Description("Watched range in bytes (default 1).")),
		mcp.WithString("kind", mcp.Description("write, read or access (default write).")),
	), s.handleClearWatchpoint)

	s.mcp.AddTool(mcp.NewTool("step",
		mcp.WithDescription("Execute a single instruction and report where the target stopped."),
	), s.handleStep)

	s.mcp.AddTool(mcp.NewTool("continue",
		mcp.WithDescription("Resume execution. Returns immediately; use wait_for_stop to observe the next halt."),
	), s.handleContinue)

	s.mcp.AddTool(mcp.NewTool("pause",
		mcp.WithDescription("Interrupt a running target."),
	), s.handlePause)

	s.mcp.AddTool(mcp.NewTool("wait_for_stop",
		mcp.WithDescription("Wait until the target halts (breakpoint, watchpoint or pause)."),
		mcp.WithNumber("timeout_seconds", mcp.Description("How long to wait (default 30).")),
	), s.handleWaitForStop)

	s.mcp.AddTool(mcp.NewTool("monitor",
		mcp.WithDescription("Run a WinUAE debugger console command and return its output."),
		mcp.WithString("command", mcp.Required(), mcp.Description("Console command, e.g. \"v -3\" or \"e\".")),
	), s.handleMonitor)

	s.mcp.AddTool(mcp.NewTool("inspect_executable",
		mcp.WithDescription("Parse an AmigaOS hunk executable on the host and list its segments and symbols."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Path to the executable on the host filesystem.")),
	), s.handleInspectExecutable)

	s.mcp.AddTool(mcp.NewTool("decode_copper",
		mcp.WithDescription("Read emulator memory and disassemble it as a Copper list."),
		mcp.WithString("address", mcp.Required(), mcp.Description("Copper list address, hex.")),
		mcp.WithNumber("length", mcp.Description("Bytes to fetch (default 256).")),
	), s.handleDecodeCopper)
}

// parseAddr accepts 32-bit hex values with or without a 0x prefix, which is
// how addresses circulate in Amiga documentation ($DFF000 style included).
func parseAddr(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("bad address %q: expected hex", s)
	}
	return uint32(v), nil
}

func parseWatchKind(s string) (rsp.WatchKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "write":
		return rsp.WatchWrite, nil
	case "read":
		return rsp.WatchRead, nil
	case "access":
		return rsp.WatchAccess, nil
	}
	return 0, fmt.Errorf("bad watchpoint kind %q: want write, read or access", s)
}

func toolErr(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func (s *Server) handleLaunch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	config, err := req.RequireString("config")
	if err != nil {
		return toolErr(err)
	}
	binary := req.GetString("binary", "")
	port := req.GetInt("port", 0)
	if err := s.dbg.Launch(binary, config, port); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText("emulator launched and debugger attached"), nil
}

func (s *Server) handleAttach(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := req.RequireString("address")
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.Attach(addr); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText("attached to " + addr), nil
}

func (s *Server) handleDetach(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.dbg.Detach(); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText("detached"), nil
}

func (s *Server) handleReadRegisters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rf, err := s.dbg.Registers()
	if err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(dbg.FormatRegisters(rf)), nil
}

func (s *Server) handleWriteRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return toolErr(err)
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return toolErr(err)
	}
	value, err := parseAddr(raw)
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.WriteRegisters(map[string]uint32{name: value}); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s = %08X", strings.ToUpper(name), value)), nil
}

func (s *Server) handleWriteRegisters(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, ok := req.GetArguments()["values"].(map[string]any)
	if !ok {
		return toolErr(fmt.Errorf("values must be an object of register name to hex value"))
	}
	values := make(map[string]uint32, len(raw))
	for name, v := range raw {
		str, ok := v.(string)
		if !ok {
			return toolErr(fmt.Errorf("value for %s must be a hex string", name))
		}
		u, err := parseAddr(str)
		if err != nil {
			return toolErr(err)
		}
		values[name] = u
	}
	if err := s.dbg.WriteRegisters(values); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d registers", len(values))), nil
}

func (s *Server) handleReadMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawAddr, err := req.RequireString("address")
	if err != nil {
		return toolErr(err)
	}
	addr, err := parseAddr(rawAddr)
	if err != nil {
		return toolErr(err)
	}
	length, err := req.RequireInt("length")
	if err != nil {
		return toolErr(err)
	}
	data, err := s.dbg.ReadMemory(addr, length)
	if err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(dbg.HexDump(addr, data)), nil
}

func (s *Server) handleWriteMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawAddr, err := req.RequireString("address")
	if err != nil {
		return toolErr(err)
	}
	addr, err := parseAddr(rawAddr)
	if err != nil {
		return toolErr(err)
	}
	rawData, err := req.RequireString("data")
	if err != nil {
		return toolErr(err)
	}
	data, err := hex.DecodeString(strings.Map(dropSpace, rawData))
	if err != nil {
		return toolErr(fmt.Errorf("bad data: %w", err))
	}
	if err := s.dbg.WriteMemory(addr, data); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("wrote %d bytes at %08X", len(data), addr)), nil
}

func dropSpace(r rune) rune {
	if r == ' ' || r == '\t' || r == '\n' {
		return -1
	}
	return r
}

func (s *Server) handleSetBreakpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := addrArg(req)
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.SetBreakpoint(addr); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("breakpoint set at %08X", addr)), nil
}

func (s *Server) handleClearBreakpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := addrArg(req)
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.ClearBreakpoint(addr); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("breakpoint cleared at %08X", addr)), nil
}

func addrArg(req mcp.CallToolRequest) (uint32, error) {
	raw, err := req.RequireString("address")
	if err != nil {
		return 0, err
	}
	return parseAddr(raw)
}

func (s *Server) handleSetWatchpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, length, kind, err := watchArgs(req)
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.SetWatchpoint(addr, length, kind); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("watchpoint set at %08X (%d bytes)", addr, length)), nil
}

func (s *Server) handleClearWatchpoint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, length, kind, err := watchArgs(req)
	if err != nil {
		return toolErr(err)
	}
	if err := s.dbg.ClearWatchpoint(addr, length, kind); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("watchpoint cleared at %08X", addr)), nil
}

func watchArgs(req mcp.CallToolRequest) (uint32, int, rsp.WatchKind, error) {
	addr, err := addrArg(req)
	if err != nil {
		return 0, 0, 0, err
	}
	length := req.GetInt("length", 1)
	kind, err := parseWatchKind(req.GetString("kind", "write"))
	if err != nil {
		return 0, 0, 0, err
	}
	return addr, length, kind, nil
}

func (s *Server) handleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stop, err := s.dbg.Step()
	if err != nil {
		return toolErr(err)
	}
	return s.stopResult(stop)
}

func (s *Server) handleContinue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.dbg.Continue(); err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText("running"), nil
}

func (s *Server) handlePause(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stop, err := s.dbg.Pause()
	if err != nil {
		return toolErr(err)
	}
	return s.stopResult(stop)
}

func (s *Server) handleWaitForStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	timeout := time.Duration(req.GetInt("timeout_seconds", 30)) * time.Second
	stop, err := s.dbg.WaitForStop(timeout)
	if err != nil {
		return toolErr(err)
	}
	return s.stopResult(stop)
}

// stopResult reports where the target halted, appending the register file
// so the caller does not need a second round trip for PC.
func (s *Server) stopResult(stop rsp.StopReply) (*mcp.CallToolResult, error) {
	text := dbg.FormatStop(stop)
	if rf, err := s.dbg.Registers(); err == nil {
		text += "\n" + dbg.FormatRegisters(rf)
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleMonitor(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return toolErr(err)
	}
	out, err := s.dbg.Monitor(command, 30*time.Second)
	if err != nil {
		return toolErr(err)
	}
	if out == "" {
		out = "(no output)"
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleInspectExecutable(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return toolErr(err)
	}
	f, err := s.dbg.InspectExecutable(path)
	if err != nil {
		return toolErr(err)
	}
	return mcp.NewToolResultText(dbg.FormatHunks(f)), nil
}

func (s *Server) handleDecodeCopper(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	addr, err := addrArg(req)
	if err != nil {
		return toolErr(err)
	}
	length := req.GetInt("length", 256)
	ops, err := s.dbg.Copper(addr, length)
	if err != nil {
		return toolErr(err)
	}
	if len(ops) == 0 {
		return mcp.NewToolResultText("(empty list)"), nil
	}
	return mcp.NewToolResultText(dbg.FormatCopper(ops)), nil
}
