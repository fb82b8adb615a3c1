// Package embed provides the Go embedding API for Cyclone.
//
// Pass assembly source, get the final machine state.
//
// Basic usage:
//
//	result, err := embed.Execute(`
//	    MOV rax, 10
//	    ADD rax, 5
//	    HLT
//	`)
//	fmt.Println(result.Registers[vm.RAX]) // 15
//
// With limits:
//
//	result, err := embed.Execute(code,
//	    embed.WithTimeout(time.Second),
//	    embed.WithMaxSteps(10000),
//	)
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/akhildatla/cyclone/pkg/compiler"
	"github.com/akhildatla/cyclone/pkg/optimizer"
	"github.com/akhildatla/cyclone/pkg/vm"
)

// Common errors. They wrap the engine fault, so errors.Is matches both.
var (
	ErrTimeout          = errors.New("execution timeout exceeded")
	ErrInstructionLimit = errors.New("instruction limit exceeded")
)

// Result is the machine state after a run.
type Result struct {
	State     vm.State
	Ended     bool // Ran off the end of the code without HLT
	IP        int
	Steps     int64
	Registers vm.RegisterFile
	Stack     []vm.Value // Bottom first
	Fault     *vm.Fault  // Nil unless State is StateErrored
	Stats     *vm.ExecutionStats
	Program   *vm.Program // What actually ran, after optimization
}

// Register returns the content of r.
func (r *Result) Register(reg vm.Register) vm.Value {
	return r.Registers.Get(reg)
}

// Options configures execution behavior.
type Options struct {
	// Timeout sets maximum execution time. Zero means no timeout.
	Timeout time.Duration

	// MaxSteps limits the number of instructions executed.
	// Zero means unlimited.
	MaxSteps int64

	// Context for cancellation. If nil, context.Background() is used.
	Context context.Context

	Logger       *slog.Logger
	Tracer       vm.Tracer
	FatalHandler func(*vm.Fault)
	Stats        bool

	// Optimizer is applied before execution when set.
	Optimizer *optimizer.Optimizer
}

// Option is a functional option for configuring execution.
type Option func(*Options)

// WithTimeout sets execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithMaxSteps sets the instruction limit.
func WithMaxSteps(n int64) Option {
	return func(o *Options) {
		o.MaxSteps = n
	}
}

// WithContext sets the context for cancellation.
func WithContext(ctx context.Context) Option {
	return func(o *Options) {
		o.Context = ctx
	}
}

// WithLogger sets the VM logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithTracer observes every executed instruction.
func WithTracer(t vm.Tracer) Option {
	return func(o *Options) {
		o.Tracer = t
	}
}

// WithFatalHandler replaces the process exit on an unimplemented opcode.
// The fault is still returned once fn returns.
func WithFatalHandler(fn func(*vm.Fault)) Option {
	return func(o *Options) {
		o.FatalHandler = fn
	}
}

// WithStats collects execution statistics into Result.Stats.
func WithStats() Option {
	return func(o *Options) {
		o.Stats = true
	}
}

// WithOptimizer optimizes the program before running it.
func WithOptimizer(opts ...optimizer.Option) Option {
	return func(o *Options) {
		o.Optimizer = optimizer.New(opts...)
	}
}

// Execute assembles and runs source.
//
// Assembly errors are returned as compiler.Diagnostics with a nil result.
// An engine fault is returned as the error and also in Result.Fault.
func Execute(source string, opts ...Option) (*Result, error) {
	program, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteFile reads an assembly file and executes it.
func ExecuteFile(path string, opts ...Option) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Execute(string(data), opts...)
}

// ExecuteBytecode decodes a serialized program and executes it.
func ExecuteBytecode(data []byte, opts ...Option) (*Result, error) {
	program, err := vm.DeserializeProgram(data)
	if err != nil {
		return nil, err
	}
	return ExecuteProgram(program, opts...)
}

// ExecuteProgram runs an already built program on a fresh VM.
func ExecuteProgram(program *vm.Program, opts ...Option) (*Result, error) {
	options := &Options{
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if program == nil {
		return nil, vm.ErrNilProgram
	}

	if options.Optimizer != nil {
		program = options.Optimizer.Optimize(program)
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	vmOpts := []vm.Option{vm.WithContext(ctx), vm.WithMaxSteps(options.MaxSteps)}
	if options.Logger != nil {
		vmOpts = append(vmOpts, vm.WithLogger(options.Logger))
	}
	if options.Tracer != nil {
		vmOpts = append(vmOpts, vm.WithTracer(options.Tracer))
	}
	if options.FatalHandler != nil {
		vmOpts = append(vmOpts, vm.WithFatalHandler(options.FatalHandler))
	}
	if options.Stats {
		vmOpts = append(vmOpts, vm.WithStats())
	}

	machine := vm.NewVM(vmOpts...)
	if err := machine.Load(program); err != nil {
		return nil, err
	}

	state, err := machine.Run()
	result := &Result{
		State:     state,
		Ended:     machine.Ended(),
		IP:        machine.IP(),
		Steps:     machine.Steps(),
		Registers: machine.Registers(),
		Stack:     machine.Stack(),
		Fault:     machine.Fault(),
		Program:   program,
	}
	if options.Stats {
		result.Stats = machine.Stats()
	}

	if err != nil {
		// Map VM errors to embed package errors
		switch {
		case errors.Is(err, vm.ErrStepLimitExceeded):
			return result, fmt.Errorf("%w: %w", ErrInstructionLimit, err)
		case errors.Is(err, context.DeadlineExceeded):
			return result, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return result, err
	}
	return result, nil
}
