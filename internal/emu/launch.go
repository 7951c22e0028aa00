package emu

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dvdjg/mcp-winuae-emu/internal/rsp"
)

// listenMarker is the log line WinUAE emits once the stub accepts
// connections. Commands sent before this point are lost.
const listenMarker = "GDBSERVER: listening"

// LaunchOptions configures a supervised emulator instance.
type LaunchOptions struct {
	// Binary is the WinUAE executable. Empty falls back to $WINUAE_BINARY,
	// then to "winuae" on PATH.
	Binary string
	// Config is the base .uae configuration to merge debug overrides into.
	Config string
	// Port is the stub's TCP port.
	Port int
	// StartupTimeout bounds the wait for the stub's listen line.
	StartupTimeout time.Duration
	// Client options are forwarded to the protocol layer.
	RSP rsp.Options
}

func (o LaunchOptions) withDefaults() LaunchOptions {
	if o.Binary == "" {
		o.Binary = os.Getenv("WINUAE_BINARY")
	}
	if o.Binary == "" {
		o.Binary = "winuae"
	}
	if o.Port == 0 {
		o.Port = 2345
	}
	if o.StartupTimeout == 0 {
		o.StartupTimeout = 30 * time.Second
	}
	return o
}

// Emulator is a running WinUAE process owned by this bridge.
type Emulator struct {
	proc    *os.Process
	workDir string
	logPath string
	addr    string
}

// Launch merges the debug configuration, starts the emulator, waits for the
// stub to listen and returns the supervised instance. The emulator's own
// output is captured to a log file in a private temp dir, both for
// readiness detection and for post-mortem diagnostics.
func Launch(opt LaunchOptions) (*Emulator, error) {
	opt = opt.withDefaults()

	cfg, err := LoadConfig(opt.Config)
	if err != nil {
		return nil, err
	}
	if err := cfg.checkVersion(); err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp("", "winuae-dbg-*")
	if err != nil {
		return nil, err
	}
	logPath := filepath.Join(workDir, "winuae.log")
	cfg.ApplyDebugOverrides(logPath)
	cfg.Set("debugging_port", fmt.Sprintf("%d", opt.Port))

	cfgPath := filepath.Join(workDir, "debug.uae")
	if err := cfg.Save(cfgPath); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	// The emulator may not honor the logfile key on every platform; capture
	// stdout/stderr into the same file so the marker is seen either way.
	logFile, err := os.Create(logPath)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	cmd := exec.Command(opt.Binary, "-f", cfgPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("starting %s: %w", opt.Binary, err)
	}
	logFile.Close()
	go cmd.Wait() // reap

	e := &Emulator{
		proc:    cmd.Process,
		workDir: workDir,
		logPath: logPath,
		addr:    fmt.Sprintf("localhost:%d", opt.Port),
	}
	if err := awaitMarker(logPath, listenMarker, opt.StartupTimeout); err != nil {
		e.Stop()
		return nil, fmt.Errorf("waiting for GDB stub: %w", err)
	}
	return e, nil
}

// Addr is the stub's dial address.
func (e *Emulator) Addr() string { return e.addr }

// LogPath is the captured emulator log.
func (e *Emulator) LogPath() string { return e.logPath }

// Connect dials the stub with retry: the listener can lag the log line by a
// beat on a loaded host.
func (e *Emulator) Connect(opt rsp.Options) (*rsp.Client, error) {
	return dialRetry(e.addr, opt, 10, 200*time.Millisecond)
}

// Stop terminates the emulator and removes the scratch directory.
func (e *Emulator) Stop() error {
	var err error
	if e.proc != nil {
		err = e.proc.Kill()
		e.proc = nil
	}
	if e.workDir != "" {
		os.RemoveAll(e.workDir)
		e.workDir = ""
	}
	return err
}

func dialRetry(addr string, opt rsp.Options, attempts int, delay time.Duration) (*rsp.Client, error) {
	var err error
	for i := 0; i < attempts; i++ {
		var c *rsp.Client
		c, err = rsp.Dial(addr, opt)
		if err == nil {
			return c, nil
		}
		time.Sleep(delay)
	}
	return nil, err
}

// awaitMarker blocks until the file at path contains marker, using fsnotify
// write events instead of polling. The file's current contents are checked
// first so a marker written before the watch started is not missed.
func awaitMarker(path, marker string, timeout time.Duration) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	if ok, err := fileContains(path, marker); err == nil && ok {
		return nil
	}
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("log watch closed")
			}
			if ev.Name != path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if ok, err := fileContains(path, marker); err == nil && ok {
				return nil
			}
		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("log watch closed")
			}
			return err
		case <-deadline.C:
			return fmt.Errorf("no %q line in %s after %s", marker, path, timeout)
		}
	}
}

func fileContains(path, marker string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(data), marker), nil
}
