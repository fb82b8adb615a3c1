// Package vm implements the Cyclone virtual machine.
//
// The VM is a register-based bytecode interpreter with:
//   - 16 registers (RAX-R15) holding 64-bit floats or nothing
//   - an operand stack of values
//   - a symbolic label table resolved at use time
//   - a separate call stack for CALL/RET
//
// Basic usage:
//
//	v := vm.NewVM()
//	v.Load(program)
//	state, err := v.Run()
//
// With resource limits and tracing:
//
//	v := vm.NewVM(
//		vm.WithMaxSteps(10000),
//		vm.WithContext(ctx),
//		vm.WithTracer(recorder),
//	)
//
// A VM runs one program once. After it halts, faults or runs off the end
// of its code, Run returns immediately; use a new VM for the next run.
package vm

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/tebeka/atexit"
)

// ExecutionStats contains metrics about VM execution for observability.
type ExecutionStats struct {
	StepsExecuted   int64          // Total instructions dispatched
	ExecutionTimeNs int64          // Wall time spent inside Run
	MaxStackDepth   int            // Peak operand stack depth
	MaxCallDepth    int            // Peak call stack depth
	OpCounts        map[string]int // Count of each opcode executed
}

// comparison is the flag register written by CMP.
type comparison uint8

const (
	cmpNone comparison = iota // No CMP executed yet
	cmpLess
	cmpEqual
	cmpGreater
	cmpUnordered // At least one side was NaN
)

// Option configures a VM.
type Option func(*VM)

// WithLogger sets the logger. Per-instruction records go out at LevelTrace,
// faults at Warn.
func WithLogger(l *slog.Logger) Option {
	return func(vm *VM) {
		if l != nil {
			vm.logger = l
		}
	}
}

// WithTracer registers an observer called after every dispatched instruction.
func WithTracer(t Tracer) Option {
	return func(vm *VM) {
		vm.tracer = t
	}
}

// WithMaxSteps caps the number of dispatched instructions. Zero means no cap.
func WithMaxSteps(n int64) Option {
	return func(vm *VM) {
		vm.maxSteps = n
	}
}

// WithContext makes Run check ctx before every instruction.
func WithContext(ctx context.Context) Option {
	return func(vm *VM) {
		if ctx != nil {
			vm.ctx = ctx
		}
	}
}

// WithFatalHandler replaces the handler invoked for process-fatal faults.
// The default handler logs the fault and exits through atexit.Exit(1).
// If the handler returns, the VM stops in StateErrored.
func WithFatalHandler(fn func(*Fault)) Option {
	return func(vm *VM) {
		vm.fatal = fn
	}
}

// WithStats enables execution statistics collection.
func WithStats() Option {
	return func(vm *VM) {
		vm.EnableStats()
	}
}

// VM represents the virtual machine.
type VM struct {
	registers RegisterFile
	stack     Stack
	calls     []int // Return addresses
	code      []Instruction
	labels    *LabelTable
	ip        int // Instruction pointer
	state     State
	fault     *Fault
	flags     comparison
	sealed    bool // Set by the first step

	// Resource limits
	maxSteps  int64
	stepCount int64
	ctx       context.Context

	logger *slog.Logger
	tracer Tracer
	fatal  func(*Fault)

	// Observability - execution statistics
	stats        ExecutionStats
	statsEnabled bool
}

// NewVM creates a new VM instance with an empty program.
func NewVM(opts ...Option) *VM {
	vm := &VM{
		labels: NewLabelTable(),
		ctx:    context.Background(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// ===== Build phase =====

// Load replaces the VM's program with a copy of p.
func (vm *VM) Load(p *Program) error {
	if vm.sealed {
		return ErrProgramSealed
	}
	if p == nil {
		return ErrNilProgram
	}
	if err := p.CheckTargets(); err != nil {
		return err
	}
	c := p.Clone()
	vm.code = c.Code
	vm.labels = c.Table()
	return nil
}

// Emit appends an instruction to the program.
func (vm *VM) Emit(inst Instruction) error {
	if vm.sealed {
		return ErrProgramSealed
	}
	vm.code = append(vm.code, inst)
	return nil
}

// EmitLabel binds name to the index of the next instruction to be emitted.
func (vm *VM) EmitLabel(name string) (Label, error) {
	if vm.sealed {
		return Label{}, ErrProgramSealed
	}
	return vm.labels.Bind(name, len(vm.code)), nil
}

// EnableStats enables execution statistics collection.
func (vm *VM) EnableStats() {
	vm.statsEnabled = true
	vm.stats = ExecutionStats{
		OpCounts: make(map[string]int),
	}
}

// Stats returns the execution statistics, or nil if stats were not enabled.
func (vm *VM) Stats() *ExecutionStats {
	if !vm.statsEnabled {
		return nil
	}
	return &vm.stats
}

// ===== Execution =====

// Run executes until the program halts, faults or runs off the end of its
// code. It returns the final state and, when errored, the *Fault.
func (vm *VM) Run() (State, error) {
	var startTime time.Time
	if vm.statsEnabled {
		startTime = time.Now()
	}

	for vm.state == StateRunning && vm.ip >= 0 && vm.ip < len(vm.code) {
		if err := vm.Step(); err != nil {
			break
		}
	}

	if vm.statsEnabled {
		vm.stats.ExecutionTimeNs += time.Since(startTime).Nanoseconds()
	}
	return vm.state, vm.err()
}

// Step executes a single instruction. It is a no-op once the VM has
// stopped; the returned error is the VM's fault, if any.
func (vm *VM) Step() error {
	vm.sealed = true
	if vm.state != StateRunning || vm.ip < 0 || vm.ip >= len(vm.code) {
		return vm.err()
	}

	ip := vm.ip
	inst := vm.code[ip]

	if err := vm.ctx.Err(); err != nil {
		return vm.stop(&Fault{Kind: err, IP: ip, Op: inst.Opcode()}, inst)
	}
	if vm.maxSteps > 0 && vm.stepCount >= vm.maxSteps {
		return vm.stop(&Fault{
			Kind:   ErrStepLimitExceeded,
			IP:     ip,
			Op:     inst.Opcode(),
			Detail: fmt.Sprintf("limit %d", vm.maxSteps),
		}, inst)
	}

	vm.stepCount++
	if vm.logger.Enabled(vm.ctx, LevelTrace) {
		vm.logger.Log(vm.ctx, LevelTrace, "exec",
			"ip", ip,
			"op", inst.Opcode().String(),
			"operands", []string{inst.Operand1().String(), inst.Operand2().String()},
		)
	}
	if vm.statsEnabled {
		vm.stats.StepsExecuted++
		vm.stats.OpCounts[inst.Opcode().String()]++
	}

	if f := vm.exec(inst); f != nil {
		if f.Fatal() {
			vm.fatalFault(f)
		}
		return vm.stop(f, inst)
	}

	if vm.statsEnabled {
		vm.stats.MaxStackDepth = max(vm.stats.MaxStackDepth, vm.stack.Len())
		vm.stats.MaxCallDepth = max(vm.stats.MaxCallDepth, len(vm.calls))
	}
	vm.emitStep(ip, inst, nil)
	return nil
}

// stop records f and moves the VM to StateErrored.
func (vm *VM) stop(f *Fault, inst Instruction) error {
	vm.state = StateErrored
	vm.fault = f
	vm.logger.Warn("fault", "ip", f.IP, "op", f.Op.String(), "err", f.Error())
	vm.emitStep(f.IP, inst, f)
	return f
}

func (vm *VM) emitStep(ip int, inst Instruction, f *Fault) {
	if vm.tracer == nil {
		return
	}
	vm.tracer.OnStep(StepEvent{
		Step:  vm.stepCount,
		IP:    ip,
		Inst:  inst,
		SP:    vm.stack.SP(),
		State: vm.state,
		Fault: f,
	})
}

func (vm *VM) fatalFault(f *Fault) {
	if vm.fatal != nil {
		vm.fatal(f)
		return
	}
	vm.logger.Error("fatal fault", "ip", f.IP, "op", f.Op.String(), "err", f.Error())
	fmt.Fprintf(os.Stderr, "fatal: %v\n", f)
	atexit.Exit(1)
}

func (vm *VM) err() error {
	if vm.fault == nil {
		return nil
	}
	return vm.fault
}

func (vm *VM) faultf(kind error, op Opcode, format string, args ...any) *Fault {
	return &Fault{Kind: kind, IP: vm.ip, Op: op, Detail: fmt.Sprintf(format, args...)}
}

// exec applies one instruction. On fault it returns before any mutation.
func (vm *VM) exec(inst Instruction) *Fault {
	op := inst.Opcode()
	if !op.Known() {
		return vm.faultf(ErrUnimplementedOpcode, op, "byte 0x%02X", uint8(op))
	}
	if err := inst.checkOperands(); err != nil {
		return vm.faultf(ErrTypeMismatch, op, "%v", err)
	}

	a, b := inst.Operands()

	switch op {
	case OpNop:
		vm.ip++

	// ===== Data Movement =====
	case OpMov:
		src, f := vm.source(op, b)
		if f != nil {
			return f
		}
		dst, _ := a.Register()
		vm.registers.Set(dst, src)
		vm.ip++

	case OpPush:
		src, f := vm.source(op, a)
		if f != nil {
			return f
		}
		vm.stack.Push(src)
		vm.ip++

	case OpPop:
		v, err := vm.stack.Pop()
		if err != nil {
			return vm.faultf(ErrStackUnderflow, op, "pop into %s", a)
		}
		dst, _ := a.Register()
		vm.registers.Set(dst, v)
		vm.ip++

	// ===== Arithmetic =====
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		src, f := vm.source(op, b)
		if f != nil {
			return f
		}
		dst, _ := a.Register()
		cur, ok := vm.registers.Get(dst).Immediate()
		if !ok {
			return vm.faultf(ErrUnresolvedValue, op, "destination %s is empty", dst)
		}
		x, _ := src.Immediate()
		vm.registers.Set(dst, Imm(arith(op, cur, x)))
		vm.ip++

	// ===== Control Flow =====
	case OpJmp:
		target, f := vm.target(op, a)
		if f != nil {
			return f
		}
		vm.ip = target

	case OpJe, OpJne, OpJg, OpJge, OpJl, OpJle:
		if vm.flags == cmpNone {
			return vm.faultf(ErrNoComparison, op, "")
		}
		target, f := vm.target(op, a)
		if f != nil {
			return f
		}
		if taken(op, vm.flags) {
			vm.ip = target
		} else {
			vm.ip++
		}

	case OpCmp:
		x, f := vm.source(op, a)
		if f != nil {
			return f
		}
		y, f := vm.source(op, b)
		if f != nil {
			return f
		}
		xv, _ := x.Immediate()
		yv, _ := y.Immediate()
		vm.flags = compare(xv, yv)
		vm.ip++

	case OpCall:
		target, f := vm.target(op, a)
		if f != nil {
			return f
		}
		vm.calls = append(vm.calls, vm.ip+1)
		vm.ip = target

	case OpRet:
		if len(vm.calls) == 0 {
			return vm.faultf(ErrCallStackUnderflow, op, "")
		}
		vm.ip = vm.calls[len(vm.calls)-1]
		vm.calls = vm.calls[:len(vm.calls)-1]

	case OpHlt:
		vm.state = StateHalted
	}

	return nil
}

// source resolves a value operand to an Immediate.
func (vm *VM) source(op Opcode, v Value) (Value, *Fault) {
	r := vm.Resolve(v)
	if !r.IsNone() {
		return r, nil
	}
	if name, ok := v.LabelName(); ok {
		return None(), vm.faultf(ErrUndefinedLabel, op, "%q", name)
	}
	return None(), vm.faultf(ErrUnresolvedValue, op, "%s is empty", v)
}

// target looks up a jump destination.
func (vm *VM) target(op Opcode, v Value) (int, *Fault) {
	name, _ := v.LabelName()
	l, ok := vm.labels.ByName(name)
	if !ok {
		return 0, vm.faultf(ErrUndefinedLabel, op, "%q", name)
	}
	if l.Target < 0 || l.Target > len(vm.code) {
		return 0, vm.faultf(ErrUndefinedLabel, op, "%q targets %d", name, l.Target)
	}
	return l.Target, nil
}

func arith(op Opcode, a, b float64) float64 {
	switch op {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	default:
		return math.Mod(a, b)
	}
}

func compare(a, b float64) comparison {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return cmpUnordered
	case a < b:
		return cmpLess
	case a > b:
		return cmpGreater
	default:
		return cmpEqual
	}
}

func taken(op Opcode, c comparison) bool {
	switch op {
	case OpJe:
		return c == cmpEqual
	case OpJne:
		return c != cmpEqual
	case OpJg:
		return c == cmpGreater
	case OpJge:
		return c == cmpGreater || c == cmpEqual
	case OpJl:
		return c == cmpLess
	case OpJle:
		return c == cmpLess || c == cmpEqual
	}
	return false
}

// ===== Inspection =====

// Resolve reduces v to what it denotes right now. It never mutates the VM:
// registers yield their contents, labels yield their target as an
// Immediate, and unknown labels yield None.
func (vm *VM) Resolve(v Value) Value {
	switch v.Kind() {
	case KindRegister:
		r, _ := v.Register()
		if !r.Valid() {
			return None()
		}
		return vm.registers.Get(r)
	case KindLabel:
		name, _ := v.LabelName()
		l, ok := vm.labels.ByName(name)
		if !ok {
			return None()
		}
		return Imm(float64(l.Target))
	default:
		return v
	}
}

// Register returns the contents of register r.
func (vm *VM) Register(r Register) Value {
	if !r.Valid() {
		return None()
	}
	return vm.registers.Get(r)
}

// Registers returns a copy of the register file.
func (vm *VM) Registers() RegisterFile {
	return vm.registers
}

// Stack returns a copy of the operand stack, bottom first.
func (vm *VM) Stack() []Value {
	return vm.stack.Values()
}

// SP returns the stack pointer.
func (vm *VM) SP() int {
	return vm.stack.SP()
}

// IP returns the instruction pointer.
func (vm *VM) IP() int {
	return vm.ip
}

// State returns the run state.
func (vm *VM) State() State {
	return vm.state
}

// Fault returns the fault that stopped the VM, or nil.
func (vm *VM) Fault() *Fault {
	return vm.fault
}

// Ended reports whether execution ran off the end of the code without
// halting or faulting.
func (vm *VM) Ended() bool {
	return vm.state == StateRunning && vm.ip >= len(vm.code)
}

// Steps returns the number of instructions dispatched so far.
func (vm *VM) Steps() int64 {
	return vm.stepCount
}

// Program returns a copy of the loaded program.
func (vm *VM) Program() *Program {
	p := &Program{Code: vm.code, Labels: vm.labels.All()}
	return p.Clone()
}

// Snapshot is a point-in-time copy of the observable machine state.
type Snapshot struct {
	IP        int
	SP        int
	State     State
	Ended     bool
	Steps     int64
	Registers RegisterFile
	Stack     []Value
	CallDepth int
	Fault     *Fault
}

// Snapshot captures the current machine state.
func (vm *VM) Snapshot() Snapshot {
	return Snapshot{
		IP:        vm.ip,
		SP:        vm.stack.SP(),
		State:     vm.state,
		Ended:     vm.Ended(),
		Steps:     vm.stepCount,
		Registers: vm.registers,
		Stack:     vm.stack.Values(),
		CallDepth: len(vm.calls),
		Fault:     vm.fault,
	}
}
