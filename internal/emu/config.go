// Package emu launches and supervises a WinUAE process configured for
// remote debugging, and hands the established stub connection to the
// protocol client.
package emu

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// minConfigVersion is the first configuration format shipped with the GDB
// stub. Older configs come from emulator builds that cannot serve the
// debugger.
var minConfigVersion = semver.MustParse("4.0.0")

type entry struct {
	key   string
	value string
}

// Config is an ordered WinUAE key=value configuration. Order is preserved
// on write because WinUAE applies some keys positionally; later duplicates
// win on Set.
type Config struct {
	entries []entry
	idx     map[string]int
}

// LoadConfig reads a .uae configuration file.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := ParseConfig(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return c, nil
}

// ParseConfig reads key=value lines. Comments (';' or '#' prefixed) and
// blank lines are dropped; unknown keys pass through untouched.
func ParseConfig(r io.Reader) (*Config, error) {
	c := &Config{idx: make(map[string]int)}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, ";") || strings.HasPrefix(text, "#") {
			continue
		}
		eq := strings.IndexByte(text, '=')
		if eq < 1 {
			return nil, fmt.Errorf("line %d: not a key=value pair: %q", line, text)
		}
		c.Set(strings.TrimSpace(text[:eq]), strings.TrimSpace(text[eq+1:]))
	}
	return c, sc.Err()
}

// Get returns the value for key and whether it is present.
func (c *Config) Get(key string) (string, bool) {
	i, ok := c.idx[key]
	if !ok {
		return "", false
	}
	return c.entries[i].value, true
}

// Set adds or replaces a key, keeping the original position on replace.
func (c *Config) Set(key, value string) {
	if i, ok := c.idx[key]; ok {
		c.entries[i].value = value
		return
	}
	c.idx[key] = len(c.entries)
	c.entries = append(c.entries, entry{key: key, value: value})
}

// Version parses the config_version key. A missing key returns (nil, nil):
// old configs may omit it and are gated elsewhere.
func (c *Config) Version() (*semver.Version, error) {
	raw, ok := c.Get("config_version")
	if !ok {
		return nil, nil
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("config_version %q: %w", raw, err)
	}
	return v, nil
}

// checkVersion rejects configs predating stub support.
func (c *Config) checkVersion() error {
	v, err := c.Version()
	if err != nil {
		return err
	}
	if v != nil && v.LessThan(minConfigVersion) {
		return fmt.Errorf("config_version %s predates GDB stub support (need >= %s)", v, minConfigVersion)
	}
	return nil
}

// ApplyDebugOverrides forces the keys the stub needs: the debugger feature
// set, a halted start so the first commands are not dropped, and the log
// file WinUAE should append to.
func (c *Config) ApplyDebugOverrides(logPath string) {
	c.Set("debugging_features", "gdbserver")
	c.Set("debugging_trigger", "")
	c.Set("use_debugger", "true")
	if logPath != "" {
		c.Set("win32.logfile", logPath)
		c.Set("write_logfile", "true")
	}
}

// WriteTo renders the configuration in file order.
func (c *Config) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, e := range c.entries {
		m, err := fmt.Fprintf(w, "%s=%s\n", e.key, e.value)
		n += int64(m)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// Save writes the configuration to path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := c.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
