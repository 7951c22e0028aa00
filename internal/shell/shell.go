// Package shell is the interactive debugger console. It owns raw terminal
// mode, line editing with history, and the command table over the debugger.
package shell

import (
	"bufio"
	"bytes"
	"container/list"
	"fmt"
	"io"
)

const (
	keyCtrlC     = 3
	keyCtrlD     = 4
	keyEscape    = 27
	keyBackspace = 127

	historyLimit = 100
)

var (
	escRed   = []byte{keyEscape, '[', '3', '1', 'm'}
	escReset = []byte{keyEscape, '[', '0', 'm'}

	keyUp     = []byte{keyEscape, '[', 'A'}
	keyDown   = []byte{keyEscape, '[', 'B'}
	keyLeft   = []byte{keyEscape, '[', 'D'}
	keyRight  = []byte{keyEscape, '[', 'C'}
	keyHome   = []byte{keyEscape, '[', 'H'}
	keyEnd    = []byte{keyEscape, '[', 'F'}
	keyDelete = []byte{keyEscape, '[', '3', '~'}

	crlf = []byte{'\r', '\n'}
)

// Shell reads edited lines from a raw-mode terminal and feeds them to the
// command table.
type Shell struct {
	rw          io.ReadWriter
	prompt      string
	line        string
	cmd         *Commands
	r           *bufio.Reader
	history     *list.List
	historyCurr *list.Element
	pos         int
	maxWidth    int
}

func New(rw io.ReadWriter, prompt string, cmd *Commands) *Shell {
	s := &Shell{
		rw:      rw,
		prompt:  prompt,
		cmd:     cmd,
		r:       bufio.NewReaderSize(rw, 256),
		history: list.New(),
	}
	s.historyCurr = s.history.PushBack("") // dummy element
	return s
}

// Run loops until EOF, Ctrl-C at an empty prompt, or a quit command.
func (s *Shell) Run(initCmd string) error {
	if initCmd != "" {
		if err := s.cmd.Process(initCmd); err != nil && err != io.EOF {
			return err
		}
	}
	for {
		line, err := s.readLine()
		if err == io.EOF {
			s.rw.Write(crlf)
			break
		}
		if err != nil {
			s.writeString(fmt.Sprintf("%sread error: %s%s\n", escRed, err, escReset))
			s.r.Reset(s.rw)
			continue
		}

		if line == "" {
			continue
		}

		if err := s.cmd.Process(line); err != nil {
			if err == io.EOF {
				break
			}
			s.writeString(fmt.Sprintf("%s%s%s\r\n", escRed, err, escReset))
		}
	}
	return s.cmd.Close()
}

func (s *Shell) handleEscape() error {
	var seq []byte
	for {
		c, err := s.r.ReadByte()
		if err != nil {
			return err
		}
		seq = append(seq, c)
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '~' {
			break
		}
	}

	var err error
	switch {
	case bytes.Equal(seq, keyUp):
		if s.historyCurr != s.history.Front() {
			s.historyCurr = s.historyCurr.Prev()
			s.line = s.historyCurr.Value.(string)
			err = s.replaceLine()
		} else {
			err = s.beep()
		}
	case bytes.Equal(seq, keyDown):
		if s.historyCurr != s.history.Back() {
			s.historyCurr = s.historyCurr.Next()
			s.line = s.historyCurr.Value.(string)
			err = s.replaceLine()
		} else {
			err = s.beep()
		}
	case bytes.Equal(seq, keyLeft):
		err = s.moveCursor(s.pos - 1)
	case bytes.Equal(seq, keyRight):
		err = s.moveCursor(s.pos + 1)
	case bytes.Equal(seq, keyHome):
		err = s.moveCursor(0)
	case bytes.Equal(seq, keyEnd):
		err = s.moveCursor(s.maxWidth)
	case bytes.Equal(seq, keyDelete):
		err = s.eraseChar()
	default:
		_, err = s.rw.Write(seq)
	}
	return err
}

func (s *Shell) appendHistory() {
	if s.line == "" {
		return
	}
	s.historyCurr = s.history.Back()
	s.history.InsertBefore(s.line, s.history.Back())
	if s.history.Len() > historyLimit {
		s.history.Remove(s.history.Front())
	}
}

func (s *Shell) readLine() (string, error) {
	if err := s.writeString(s.prompt); err != nil {
		return "", err
	}
	s.pos = 0
	s.maxWidth = 0
	s.line = ""
	for {
		b, err := s.r.Peek(1)
		if err != nil {
			return "", err
		}

		if b[0] == keyEscape {
			if err := s.handleEscape(); err != nil {
				return "", err
			}
			continue
		}

		r, _, err := s.r.ReadRune()
		if err != nil {
			return "", err
		}
		switch r {
		case keyCtrlC:
			return "", io.EOF
		case keyCtrlD:
			// EOF at an empty prompt, forward delete otherwise.
			if s.line == "" {
				return "", io.EOF
			}
			if err := s.eraseChar(); err != nil {
				return "", err
			}
		case keyBackspace:
			s.moveCursor(s.pos - 1)
			if err := s.eraseChar(); err != nil {
				return "", err
			}
		case '\r':
		case '\n':
			if _, err := s.rw.Write(crlf); err != nil {
				return "", err
			}
			s.appendHistory()
			return s.line, nil
		default:
			if err := s.writeString(string(r)); err != nil {
				return "", err
			}
			s.line += string(r)
		}
	}
}

func (s *Shell) writeString(str string) error {
	if str == "" {
		return nil
	}
	_, err := s.rw.Write([]byte(str))
	if err == nil {
		s.pos += len(str)
		if s.pos > s.maxWidth {
			s.maxWidth = s.pos
		}
	}
	return err
}

func (s *Shell) replaceLine() error {
	s.moveCursor(0)
	_, err := s.rw.Write([]byte{keyEscape, '[', 'K'})
	if err != nil {
		return err
	}
	s.maxWidth = 0
	return s.writeString(s.line)
}

func (s *Shell) moveCursor(pos int) error {
	if pos < 0 {
		pos = 0
	}
	if pos > s.maxWidth {
		pos = s.maxWidth
	}
	diff := pos - s.pos
	if diff == 0 {
		return nil
	}

	b := []byte{keyEscape, '['}
	if diff < 0 {
		b = append(b, []byte(fmt.Sprintf("%dD", -diff))...)
	} else {
		b = append(b, []byte(fmt.Sprintf("%dC", diff))...)
	}

	_, err := s.rw.Write(b)
	if err == nil {
		s.pos = pos
	}
	return err
}

func (s *Shell) eraseChar() error {
	if s.pos == s.maxWidth || s.maxWidth == 0 {
		return nil
	}
	if _, err := s.rw.Write([]byte{keyEscape, '[', 'P'}); err != nil {
		return err
	}
	s.maxWidth = s.maxWidth - 1
	s.line = s.line[:s.pos] + s.line[s.pos+1:]
	return nil
}

func (s *Shell) beep() error {
	_, err := s.rw.Write([]byte{'\a'})
	return err
}
