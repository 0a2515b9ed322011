package main

import (
	"bufio"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const prompt = "pmp> "

// console is the operator's line interface. On a terminal it runs in raw mode
// with line editing, history and command completion; otherwise it reads plain
// lines so commands can be piped in.
type console struct {
	out      io.Writer
	readLine func() (string, error)
	restore  func()

	// interactive consoles treat end of input as quit.
	interactive bool
}

func newConsole(in *os.File, out io.Writer, commands func() []string) (*console, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		sc := bufio.NewScanner(in)
		return &console{
			out: out,
			readLine: func() (string, error) {
				if sc.Scan() {
					return sc.Text(), nil
				}
				if err := sc.Err(); err != nil {
					return "", err
				}
				return "", io.EOF
			},
			restore: func() {},
		}, nil
	}
	old, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{in, out}, prompt)
	if w, h, err := term.GetSize(fd); err == nil {
		_ = t.SetSize(w, h)
	}
	t.AutoCompleteCallback = func(line string, pos int, key rune) (string, int, bool) {
		return complete(commands(), line, pos, key)
	}
	return &console{
		out:         t,
		readLine:    t.ReadLine,
		restore:     func() { _ = term.Restore(fd, old) },
		interactive: true,
	}, nil
}

// complete expands a unique command name prefix on tab.
func complete(names []string, line string, pos int, key rune) (string, int, bool) {
	if key != '\t' || pos != len(line) || strings.ContainsAny(line, " \t") {
		return "", 0, false
	}
	match := ""
	for _, n := range names {
		if !strings.HasPrefix(n, line) {
			continue
		}
		if match != "" {
			return "", 0, false
		}
		match = n
	}
	if match == "" {
		return "", 0, false
	}
	return match + " ", len(match) + 1, true
}
