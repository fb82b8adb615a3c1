// Package repl implements an interactive Cyclone assembly session.
//
// Lines accumulate into a program buffer; "run" assembles the buffer and
// executes it on a fresh VM.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/akhildatla/cyclone/pkg/compiler"
	"github.com/akhildatla/cyclone/pkg/lexer"
	"github.com/akhildatla/cyclone/pkg/vm"
)

const (
	promptASM    = "asm> "
	promptTokens = "tok> "
)

// DefaultMaxSteps bounds each run so a loop without exit cannot hang the
// session.
const DefaultMaxSteps = 1_000_000

// Mode represents the REPL input mode.
type Mode int

const (
	ModeASM    Mode = iota // Lines are assembly appended to the buffer
	ModeTokens             // Lines are scanned as source and printed as tokens
)

// Option configures a REPL.
type Option func(*REPL)

// WithMaxSteps sets the per-run instruction limit. Zero means unlimited.
func WithMaxSteps(n int64) Option {
	return func(r *REPL) {
		r.maxSteps = n
	}
}

// WithLogger sets the logger handed to each VM.
func WithLogger(l *slog.Logger) Option {
	return func(r *REPL) {
		r.logger = l
	}
}

// REPL provides an interactive Read-Eval-Print Loop.
type REPL struct {
	mode     Mode
	buffer   []string
	history  []string
	last     *vm.VM // VM of the most recent run
	maxSteps int64
	logger   *slog.Logger
	quit     bool
}

// New creates a new REPL instance.
func New(opts ...Option) *REPL {
	r := &REPL{
		mode:     ModeASM,
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMode sets the REPL input mode.
func (r *REPL) SetMode(mode Mode) {
	r.mode = mode
}

// Buffer returns the current program source.
func (r *REPL) Buffer() string {
	return strings.Join(r.buffer, "\n")
}

// Start runs the loop until quit or end of input.
func (r *REPL) Start(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "Cyclone REPL")
	fmt.Fprintln(out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(out)

	for !r.quit {
		if r.mode == ModeTokens {
			fmt.Fprint(out, promptTokens)
		} else {
			fmt.Fprint(out, promptASM)
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()

		if handled := r.handleCommand(line, out); handled {
			continue
		}
		r.eval(line, out)
	}
}

func (r *REPL) handleCommand(line string, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Fprintln(out, "Goodbye!")
		r.quit = true

	case "help", "h", "?":
		r.printHelp(out)

	case "mode":
		r.setMode(parts[1:], out)

	case "run":
		r.run(out)

	case "list":
		if len(r.buffer) == 0 {
			fmt.Fprintln(out, "Buffer is empty")
		}
		for i, l := range r.buffer {
			fmt.Fprintf(out, "%3d  %s\n", i+1, l)
		}

	case "regs":
		r.printRegisters(out)

	case "stack":
		r.printStack(out)

	case "dump":
		if r.last == nil {
			fmt.Fprintln(out, "Nothing has run yet")
		} else if err := r.last.Dump(out); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}

	case "reset", "clear":
		r.buffer = nil
		r.last = nil
		fmt.Fprintln(out, "Buffer cleared")

	case "load":
		if len(parts) != 2 {
			fmt.Fprintln(out, "Usage: load <file.asm>")
		} else {
			r.loadFile(parts[1], out)
		}

	case "history":
		for i, cmd := range r.history {
			fmt.Fprintf(out, "%3d: %s\n", i+1, cmd)
		}

	default:
		return false
	}
	return true
}

func (r *REPL) setMode(args []string, out io.Writer) {
	if len(args) == 0 {
		if r.mode == ModeTokens {
			fmt.Fprintln(out, "Current mode: tokens")
		} else {
			fmt.Fprintln(out, "Current mode: asm")
		}
		return
	}
	switch args[0] {
	case "asm":
		r.mode = ModeASM
		fmt.Fprintln(out, "Switched to assembly mode")
	case "tokens":
		r.mode = ModeTokens
		fmt.Fprintln(out, "Switched to token mode")
	default:
		fmt.Fprintln(out, "Unknown mode. Use 'asm' or 'tokens'")
	}
}

func (r *REPL) eval(input string, out io.Writer) {
	if strings.TrimSpace(input) == "" {
		return
	}
	r.history = append(r.history, input)

	if r.mode == ModeTokens {
		r.evalTokens(input, out)
		return
	}

	// Check the line on its own so mistakes never reach the buffer.
	if _, err := compiler.Compile(input); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.buffer = append(r.buffer, input)
}

func (r *REPL) evalTokens(input string, out io.Writer) {
	lx := lexer.NewLexer("", input)
	for _, tok := range lx.Tokenize() {
		if tok.Type == lexer.TokenEOF {
			break
		}
		fmt.Fprintf(out, "%-8s %-12s %q\n", tok.Pos, tok.Type, tok.Value)
	}
	for _, d := range lx.Errors() {
		fmt.Fprintf(out, "Error: %v\n", d)
	}
}

func (r *REPL) run(out io.Writer) {
	program, err := compiler.Compile(r.Buffer())
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}

	opts := []vm.Option{vm.WithMaxSteps(r.maxSteps)}
	if r.logger != nil {
		opts = append(opts, vm.WithLogger(r.logger))
	}
	machine := vm.NewVM(opts...)
	if err := machine.Load(program); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	r.last = machine

	state, err := machine.Run()
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(out, "=> %s ip=%d steps=%d\n", state, machine.IP(), machine.Steps())
}

func (r *REPL) printRegisters(out io.Writer) {
	if r.last == nil {
		fmt.Fprintln(out, "Nothing has run yet")
		return
	}
	regs := r.last.Registers()
	empty := true
	for i := vm.Register(0); i < vm.NumRegisters; i++ {
		if v := regs.Get(i); !v.IsNone() {
			fmt.Fprintf(out, "  %-4s %s\n", i, v)
			empty = false
		}
	}
	if empty {
		fmt.Fprintln(out, "All registers empty")
	}
}

func (r *REPL) printStack(out io.Writer) {
	if r.last == nil {
		fmt.Fprintln(out, "Nothing has run yet")
		return
	}
	stack := r.last.Stack()
	if len(stack) == 0 {
		fmt.Fprintln(out, "Stack empty")
		return
	}
	// Top first
	for i := len(stack) - 1; i >= 0; i-- {
		fmt.Fprintf(out, "  [%d] %s\n", i, stack[i])
	}
}

func (r *REPL) loadFile(path string, out io.Writer) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}
	if _, err := compiler.Compile(string(data)); err != nil {
		fmt.Fprintf(out, "Error loading %s: %v\n", path, err)
		return
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	r.buffer = append(r.buffer, lines...)
	fmt.Fprintf(out, "Loaded %d lines from %s\n", len(lines), path)
}

func (r *REPL) printHelp(out io.Writer) {
	help := `
Cyclone REPL Commands:
  help, h, ?        Show this help message
  quit, exit, q     Exit the REPL
  mode [asm|tokens] Show or set input mode
  run               Assemble the buffer and run it on a fresh VM
  list              Show the program buffer
  regs              Show non-empty registers after the last run
  stack             Show the stack after the last run (top first)
  dump              Show the full machine state after the last run
  load <file>       Append an assembly file to the buffer
  reset, clear      Clear the program buffer
  history           Show input history

Example:
  MOV rax, 0
  loop: ADD rax, 1
  CMP rax, 10
  JL loop
  HLT
  run
  regs
`
	fmt.Fprint(out, help)
}
