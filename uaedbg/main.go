package main

import (
	"fmt"
	"os"

	"github.com/dvdjg/mcp-winuae-emu/internal/mcp"
	"github.com/dvdjg/mcp-winuae-emu/internal/shell"
)

func main() {
	// No subcommand means MCP over stdio, which is how tool clients
	// spawn the server.
	if len(os.Args) < 2 {
		mcp.Run(nil)
		return
	}

	switch os.Args[1] {
	case "serve":
		mcp.Run(os.Args[2:])
	case "monitor":
		shell.Run(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, "Usage: uaedbg [serve|monitor]")
		os.Exit(1)
	}
}
