// Package command implements the operator commands of the console. They are
// thin wrappers over the operations of the selected relay session.
package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/FalcoGer/pmp/internal/relay"
)

var (
	ErrSyntax         = errors.New("syntax error")
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoSession      = errors.New("no session selected")
	// ErrQuit is returned by quit and exit. The console stops on it.
	ErrQuit = errors.New("quit")
)

// UsageError reports a malformed command together with its usage line.
type UsageError struct {
	Command string
	Usage   string
}

func (e *UsageError) Error() string { return fmt.Sprintf("syntax error: usage: %s", e.Usage) }
func (e *UsageError) Unwrap() error { return ErrSyntax }

type command struct {
	name    string
	usage   string
	help    string
	aliases []string
	run     func(d *Dispatcher, c call) error
}

// call is one parsed command line. rest is everything after the command
// word with its spacing intact.
type call struct {
	cmd  *command
	name string
	args []string
	rest string
}

func (c call) usageError() error {
	return &UsageError{Command: c.name, Usage: expand(c.cmd.usage, c.name)}
}

// expand fills the {cmd} placeholder of usage and help texts with the name
// the command was invoked as.
func expand(text, name string) string { return strings.ReplaceAll(text, "{cmd}", name) }

// Dispatcher runs command lines against a registry and writes their output
// to Out.
type Dispatcher struct {
	reg      *relay.Registry
	out      io.Writer
	readFile func(string) ([]byte, error)
	commands map[string]*command
	names    []string
}

// New returns a dispatcher for reg writing to out.
func New(reg *relay.Registry, out io.Writer) *Dispatcher {
	d := &Dispatcher{reg: reg, out: out, readFile: os.ReadFile, commands: make(map[string]*command)}
	for _, c := range builtins() {
		d.register(c)
	}
	return d
}

func (d *Dispatcher) register(c *command) {
	d.names = append(d.names, c.name)
	d.commands[c.name] = c
	for _, a := range c.aliases {
		d.commands[a] = c
	}
}

// Execute parses and runs one line. Blank lines do nothing.
func (d *Dispatcher) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		name, rest = line[:i], line[i+1:]
	}
	c, ok := d.commands[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	rest = strings.TrimLeft(rest, " \t")
	return c.run(d, call{cmd: c, name: name, args: strings.Fields(rest), rest: rest})
}

// Commands lists every command name and alias, sorted.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.commands))
	for name := range d.commands {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (d *Dispatcher) session() (*relay.Session, error) {
	s := d.reg.Selected()
	if s == nil {
		return nil, ErrNoSession
	}
	return s, nil
}

func (d *Dispatcher) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(d.out, format, args...)
}

// Message renders err the way the console shows it to the operator.
func Message(err error) string {
	var ue *UsageError
	switch {
	case errors.Is(err, relay.ErrNotConnected):
		return "Not connected."
	case errors.As(err, &ue):
		return "Syntax error.\nUsage: " + ue.Usage
	case errors.Is(err, ErrUnknownCommand):
		return fmt.Sprintf("Error: %v. Type help for a list of commands.", err)
	}
	return fmt.Sprintf("Error: %v", err)
}
