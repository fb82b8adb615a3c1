// Package main provides the CLI entry point for Cyclone.
//
// Usage:
//
//	cyclone interpret program.asm     # Assemble and run
//	cyclone compile program.asm       # Emit NASM x86-64 (out.asm)
//	cyclone build program.asm         # Assemble to bytecode (.cybc)
//	cyclone exec program.cybc         # Run bytecode
//	cyclone disasm program.cybc       # Disassemble bytecode
//	cyclone tokens program.cy         # Scan source and print tokens
//	cyclone trace trace.csv           # Summarize a recorded trace
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tebeka/atexit"

	"github.com/akhildatla/cyclone/pkg/codegen"
	"github.com/akhildatla/cyclone/pkg/compiler"
	"github.com/akhildatla/cyclone/pkg/config"
	"github.com/akhildatla/cyclone/pkg/embed"
	"github.com/akhildatla/cyclone/pkg/lexer"
	"github.com/akhildatla/cyclone/pkg/optimizer"
	"github.com/akhildatla/cyclone/pkg/repl"
	"github.com/akhildatla/cyclone/pkg/trace"
	"github.com/akhildatla/cyclone/pkg/vm"
)

// Version info set by GoReleaser via ldflags
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		atexit.Exit(1)
	}
	atexit.Exit(0)
}

// app carries what every command needs.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("cyclone", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "path to a config file (default: nearest cyclone.toml)")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if global.NArg() < 1 {
		printUsage(stdout)
		return nil
	}
	cmd, cmdArgs := global.Arg(0), global.Args()[1:]

	switch cmd {
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	case "version":
		fmt.Fprintf(stdout, "cyclone version %s\n", version)
		if commit != "none" {
			fmt.Fprintf(stdout, "  commit: %s\n", commit)
		}
		if date != "unknown" {
			fmt.Fprintf(stdout, "  built:  %s\n", date)
		}
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	a := &app{ctx: ctx, cfg: cfg, stdin: stdin, stdout: stdout, stderr: stderr}

	var cmdErr error
	switch cmd {
	case "interpret", "run":
		cmdErr = a.interpretCommand(cmdArgs)
	case "compile":
		cmdErr = a.compileCommand(cmdArgs)
	case "build":
		cmdErr = a.buildCommand(cmdArgs)
	case "exec":
		cmdErr = a.execCommand(cmdArgs)
	case "disasm":
		cmdErr = a.disasmCommand(cmdArgs)
	case "tokens":
		cmdErr = a.tokensCommand(cmdArgs)
	case "trace":
		cmdErr = a.traceCommand(cmdArgs)
	case "repl":
		cmdErr = a.replCommand(cmdArgs)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	if errors.Is(cmdErr, flag.ErrHelp) {
		return nil
	}
	return cmdErr
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return config.Default(), nil
	}
	return config.FindAndLoad(wd)
}

// parseArgs parses fs allowing flags after positional arguments, so both
// "build -o x.cybc a.asm" and "build a.asm -o x.cybc" work.
func parseArgs(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (a *app) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

// ===== Execution =====

type runFlags struct {
	verbose  bool
	traceLog bool
	optimize bool
	maxSteps int64
	timeout  time.Duration
	record   string
}

func (a *app) addRunFlags(fs *flag.FlagSet) *runFlags {
	rf := &runFlags{}
	timeout, _ := a.cfg.Timeout()
	fs.BoolVar(&rf.verbose, "v", false, "verbose output (debug logging)")
	fs.BoolVar(&rf.traceLog, "trace", false, "log every executed instruction")
	fs.BoolVar(&rf.optimize, "O", a.cfg.Optimize.Enabled, "optimize before running")
	fs.Int64Var(&rf.maxSteps, "max-steps", a.cfg.VM.MaxSteps, "instruction limit (0 = unlimited)")
	fs.DurationVar(&rf.timeout, "timeout", timeout, "execution time limit (0 = none)")
	fs.StringVar(&rf.record, "record", "", "record an execution trace to this .csv, .json or .parquet file")
	return rf
}

func (a *app) interpretCommand(args []string) error {
	fs := a.newFlagSet("interpret")
	rf := a.addRunFlags(fs)
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone interpret <file.asm>")
	}

	source, err := os.ReadFile(files[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}
	program, err := compiler.Compile(string(source))
	if err != nil {
		return fmt.Errorf("%s: %w", files[0], err)
	}
	return a.execute(program, rf)
}

func (a *app) execCommand(args []string) error {
	fs := a.newFlagSet("exec")
	rf := a.addRunFlags(fs)
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone exec <file.cybc>")
	}

	program, err := readBytecode(files[0])
	if err != nil {
		return err
	}
	if rf.verbose {
		fmt.Fprintf(a.stdout, "Loaded %d instructions, %d labels\n", len(program.Code), len(program.Labels))
	}
	return a.execute(program, rf)
}

func (a *app) execute(program *vm.Program, rf *runFlags) error {
	logCfg := *a.cfg
	switch {
	case rf.traceLog:
		logCfg.Log.Level = "trace"
	case rf.verbose:
		logCfg.Log.Level = "debug"
	}
	logger, err := logCfg.Logger(a.stderr)
	if err != nil {
		return err
	}

	opts := []embed.Option{
		embed.WithContext(a.ctx),
		embed.WithLogger(logger),
		embed.WithMaxSteps(rf.maxSteps),
		embed.WithTimeout(rf.timeout),
	}
	if rf.optimize {
		opts = append(opts, embed.WithOptimizer(optimizer.WithAllOptimizations()))
	}

	// The fatal fault path leaves through atexit, so the trace is flushed
	// from a handler as well as after a normal return.
	var flush func() error
	recordPath := rf.record
	if recordPath == "" && a.cfg.Trace.Enabled {
		recordPath = a.cfg.Resolve(a.cfg.Trace.Output)
	}
	if recordPath != "" {
		if _, err := trace.FormatFromPath(recordPath); err != nil {
			return err
		}
		rec := trace.NewRecorder()
		opts = append(opts, embed.WithTracer(rec))

		var once sync.Once
		var flushErr error
		flush = func() error {
			once.Do(func() {
				flushErr = rec.Export(context.Background(), recordPath)
			})
			return flushErr
		}
		atexit.Register(func() { _ = flush() })
	}

	result, runErr := embed.ExecuteProgram(program, opts...)
	if result != nil {
		a.printResult(result, rf.verbose)
	}
	if flush != nil {
		if err := flush(); err != nil {
			return fmt.Errorf("writing trace: %w", err)
		}
		if rf.verbose {
			fmt.Fprintf(a.stdout, "Trace: %s\n", recordPath)
		}
	}
	return runErr
}

func (a *app) printResult(r *embed.Result, verbose bool) {
	status := r.State.String()
	if r.Ended {
		status += " (ended)"
	}
	fmt.Fprintf(a.stdout, "%s ip=%d steps=%d\n", status, r.IP, r.Steps)

	for reg := vm.Register(0); reg < vm.NumRegisters; reg++ {
		if v := r.Register(reg); !v.IsNone() {
			fmt.Fprintf(a.stdout, "%s = %s\n", reg, v)
		}
	}
	if len(r.Stack) > 0 {
		items := make([]string, len(r.Stack))
		for i, v := range r.Stack {
			items[i] = v.String()
		}
		fmt.Fprintf(a.stdout, "stack = [%s]\n", strings.Join(items, ", "))
	}
	if verbose && r.Program != nil {
		fmt.Fprintf(a.stdout, "program: %d instructions, %d labels\n", len(r.Program.Code), len(r.Program.Labels))
	}
}

// ===== Artifacts =====

func (a *app) compileCommand(args []string) error {
	fs := a.newFlagSet("compile")
	output := fs.String("o", "", "output file (default: [codegen] output, out.asm)")
	target := fs.String("target", a.cfg.Codegen.Target, "win-x86_64 or linux-x86_64")
	prologue := fs.Bool("prologue", a.cfg.Codegen.Prologue, "emit the bits/section/global header")
	optimize := fs.Bool("O", a.cfg.Optimize.Enabled, "optimize before emitting")
	verbose := fs.Bool("v", false, "verbose output")
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone compile <file.asm> [-o out.asm]")
	}

	t, err := codegen.ParseTarget(*target)
	if err != nil {
		return err
	}
	program, err := a.assembleFile(files[0], *optimize, *verbose)
	if err != nil {
		return err
	}

	asm, err := codegen.Compile(program, codegen.WithTarget(t), codegen.WithPrologue(*prologue))
	if err != nil {
		return fmt.Errorf("compiling: %w", err)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = a.cfg.Resolve(a.cfg.Codegen.Output)
	}
	if err := os.WriteFile(outputPath, []byte(asm), 0644); err != nil {
		return fmt.Errorf("writing assembly: %w", err)
	}

	fmt.Fprintf(a.stdout, "Compiled: %s\n", outputPath)
	return nil
}

func (a *app) buildCommand(args []string) error {
	fs := a.newFlagSet("build")
	output := fs.String("o", "", "output file (default: input with .cybc extension)")
	optimize := fs.Bool("O", a.cfg.Optimize.Enabled, "enable optimizations (constant folding, dead code elimination)")
	verbose := fs.Bool("v", false, "verbose output")
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone build <file.asm> [-o output.cybc]")
	}

	inputPath := files[0]
	outputPath := *output
	if outputPath == "" {
		outputPath = strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".cybc"
	}
	if *verbose {
		fmt.Fprintf(a.stdout, "Building: %s -> %s\n", inputPath, outputPath)
	}

	program, err := a.assembleFile(inputPath, *optimize, *verbose)
	if err != nil {
		return err
	}

	bytecode, err := vm.SerializeProgram(program)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	if err := os.WriteFile(outputPath, bytecode, 0644); err != nil {
		return fmt.Errorf("writing bytecode: %w", err)
	}

	if *verbose {
		fmt.Fprintf(a.stdout, "Built %d instructions, %d labels\n", len(program.Code), len(program.Labels))
		fmt.Fprintf(a.stdout, "Output: %s (%d bytes)\n", outputPath, len(bytecode))
	} else {
		fmt.Fprintf(a.stdout, "Built: %s\n", outputPath)
	}
	return nil
}

func (a *app) assembleFile(path string, optimize, verbose bool) (*vm.Program, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	program, err := compiler.Compile(string(source))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if optimize {
		before := len(program.Code)
		program = optimizer.New(optimizer.WithAllOptimizations()).Optimize(program)
		if verbose {
			fmt.Fprintf(a.stdout, "Optimized: %d -> %d instructions\n", before, len(program.Code))
		}
	}
	return program, nil
}

func readBytecode(path string) (*vm.Program, error) {
	bytecode, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bytecode: %w", err)
	}
	program, err := vm.DeserializeProgram(bytecode)
	if err != nil {
		return nil, fmt.Errorf("deserializing: %w", err)
	}
	return program, nil
}

func (a *app) disasmCommand(args []string) error {
	fs := a.newFlagSet("disasm")
	output := fs.String("o", "", "output file (default: stdout)")
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone disasm <file.cybc> [-o output.asm]")
	}

	program, err := readBytecode(files[0])
	if err != nil {
		return err
	}
	asm := vm.Disassemble(program)

	if *output != "" {
		if err := os.WriteFile(*output, []byte(asm), 0644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}
		fmt.Fprintf(a.stdout, "Disassembled to: %s\n", *output)
		return nil
	}
	fmt.Fprint(a.stdout, asm)
	return nil
}

// ===== Inspection =====

func (a *app) tokensCommand(args []string) error {
	fs := a.newFlagSet("tokens")
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone tokens <file>")
	}

	source, err := os.ReadFile(files[0])
	if err != nil {
		return fmt.Errorf("reading source: %w", err)
	}

	lx := lexer.NewLexer(files[0], string(source))
	for _, tok := range lx.Tokenize() {
		if tok.Type == lexer.TokenEOF {
			break
		}
		fmt.Fprintf(a.stdout, "[%s] %s %s\n", tok.Pos, tok.Type, tok.Value)
	}

	diags := lx.Errors()
	for _, d := range diags {
		fmt.Fprintf(a.stderr, "%s error: %s.\n", d.Pos, d.Message)
	}
	if len(diags) > 0 {
		return fmt.Errorf("%d scan error(s)", len(diags))
	}
	return nil
}

func (a *app) traceCommand(args []string) error {
	fs := a.newFlagSet("trace")
	files, err := parseArgs(fs, args)
	if err != nil {
		return err
	}
	if len(files) != 1 {
		return fmt.Errorf("usage: cyclone trace <file.csv|file.json|file.parquet>")
	}

	df, err := trace.Load(a.ctx, files[0])
	if err != nil {
		return fmt.Errorf("loading trace: %w", err)
	}
	summary, err := trace.Summarize(df)
	if err != nil {
		return err
	}
	summary.Render(a.stdout)
	return nil
}

func (a *app) replCommand(args []string) error {
	fs := a.newFlagSet("repl")
	maxSteps := a.cfg.VM.MaxSteps
	if maxSteps == 0 {
		maxSteps = repl.DefaultMaxSteps
	}
	fs.Int64Var(&maxSteps, "max-steps", maxSteps, "instruction limit per run")
	tokens := fs.Bool("tokens", false, "start in token mode")
	if _, err := parseArgs(fs, args); err != nil {
		return err
	}

	logger, err := a.cfg.Logger(a.stderr)
	if err != nil {
		return err
	}
	r := repl.New(repl.WithMaxSteps(maxSteps), repl.WithLogger(logger))
	if *tokens {
		r.SetMode(repl.ModeTokens)
	}
	r.Start(a.stdin, a.stdout)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `Cyclone - a small register VM with an assembler, bytecode and x86-64 emitter

Usage:
  cyclone [-config file] <command> [arguments]

Commands:
  interpret <file.asm>  Assemble and run a program (alias: run)
  compile <file.asm>    Emit NASM x86-64 assembly
  build <file.asm>      Assemble to bytecode (.cybc)
  exec <file.cybc>      Run bytecode
  disasm <file.cybc>    Disassemble bytecode to assembly
  tokens <file>         Scan a source file and print its tokens
  trace <file>          Summarize a recorded trace (.csv, .json, .parquet)
  repl                  Start interactive REPL
  version               Print version information
  help                  Show this help message

Interpret/Exec Options:
  -v                    Verbose output (debug logging)
  -trace                Log every executed instruction
  -O                    Optimize before running
  -max-steps <n>        Instruction limit (0 = unlimited)
  -timeout <d>          Execution time limit, e.g. 500ms
  -record <file>        Record an execution trace

Compile Options:
  -o <file>             Output file (default: out.asm)
  -target <t>           win-x86_64 (default) or linux-x86_64
  -prologue             Emit bits/section/global header (default: true)
  -O                    Optimize before emitting

Build Options:
  -o <file>             Output file (default: input with .cybc extension)
  -O                    Enable optimizations (constant folding, dead code elimination)
  -v                    Verbose output

Disasm Options:
  -o <file>             Output file (default: stdout)

REPL Options:
  -max-steps <n>        Instruction limit per run
  -tokens               Start in token mode

Configuration is read from the nearest cyclone.toml unless -config is given.

Examples:
  cyclone interpret examples/sum.asm
  cyclone run -record trace.parquet examples/sum.asm
  cyclone trace trace.parquet
  cyclone build examples/sum.asm -o sum.cybc
  cyclone exec sum.cybc
  cyclone compile -target linux-x86_64 examples/hello.asm -o hello.asm`)
}
