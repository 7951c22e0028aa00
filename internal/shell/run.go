package shell

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dvdjg/mcp-winuae-emu/internal/dbg"
	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

func Run(args []string) {
	var (
		argInit string
		attach  string
		timeout time.Duration
	)
	shFlags := flag.NewFlagSet("monitor", flag.ExitOnError)
	shFlags.StringVar(&argInit, "init", "", "initial command to run")
	shFlags.StringVar(&attach, "attach", "", "attach to a running stub at host:port on startup")
	shFlags.DurationVar(&timeout, "timeout", 0, "override the per-command reply timeout")
	if err := shFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	st := setRawTerminal()
	defer st.Restore()

	d := dbg.New(rsp.Options{CommandTimeout: timeout})
	if attach != "" && argInit == "" {
		argInit = "attach " + attach
	}

	screen := struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}
	s := New(screen, "(uae) ", DebuggerCommands(screen, d))
	if err := s.Run(argInit); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setRawTerminal() *State {
	if !IsTerminal(int(os.Stdout.Fd())) || !IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintln(os.Stderr, "stdin and stdout must be terminals")
		os.Exit(1)
	}

	st, err := TerminalMode(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to get terminal mode:", err)
		os.Exit(1)
	}
	return st
}
