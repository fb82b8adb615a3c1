package vm

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func runProgram(t *testing.T, b *Builder, opts ...Option) *VM {
	t.Helper()
	v := NewVM(opts...)
	if err := v.Load(b.Program()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	_, _ = v.Run()
	return v
}

func expectImm(t *testing.T, v *VM, r Register, want float64) {
	t.Helper()
	got, ok := v.Register(r).Immediate()
	if !ok {
		t.Fatalf("expected %s = %v, got %s", r, want, v.Register(r))
	}
	if got != want {
		t.Errorf("expected %s = %v, got %v", r, want, got)
	}
}

// ===== Scenarios =====

func TestVM_ScenarioA_MovAdd(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Mov(RAX, Imm(5)),
		Mov(RBX, Imm(3)),
		Add(RAX, Reg(RBX)),
		Hlt(),
	))

	if v.State() != StateHalted {
		t.Fatalf("expected halted, got %s", v.State())
	}
	expectImm(t, v, RAX, 8)
}

func TestVM_ScenarioB_PushPop(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Push(Imm(1)),
		Push(Imm(2)),
		Pop(RAX),
		Pop(RBX),
		Hlt(),
	))

	if v.State() != StateHalted {
		t.Fatalf("expected halted, got %s", v.State())
	}
	expectImm(t, v, RAX, 2)
	expectImm(t, v, RBX, 1)
	if v.SP() != 0 || len(v.Stack()) != 0 {
		t.Errorf("expected empty stack, got sp=%d len=%d", v.SP(), len(v.Stack()))
	}
}

func TestVM_ScenarioC_JmpSkips(t *testing.T) {
	var executed []int
	v := runProgram(t, NewBuilder().
		Emit(Jmp("L"), Mov(RAX, Imm(1))).
		Label("L").
		Emit(Mov(RAX, Imm(2)), Hlt()),
		WithTracer(TracerFunc(func(ev StepEvent) { executed = append(executed, ev.IP) })),
	)

	expectImm(t, v, RAX, 2)
	for _, ip := range executed {
		if ip == 1 {
			t.Errorf("instruction 1 should never execute, trace %v", executed)
		}
	}
}

func TestVM_ScenarioD_PopEmpty(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Pop(RAX), Hlt()))

	if v.State() != StateErrored {
		t.Fatalf("expected errored, got %s", v.State())
	}
	if !v.Register(RAX).IsNone() {
		t.Errorf("expected rax to stay none, got %s", v.Register(RAX))
	}
	if v.IP() != 0 {
		t.Errorf("expected ip 0, got %d", v.IP())
	}
	if !errors.Is(v.Fault(), ErrStackUnderflow) {
		t.Errorf("expected stack underflow, got %v", v.Fault())
	}
}

// ===== Opcodes =====

func TestVM_Nop(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Nop(), Nop(), Hlt()))
	if v.State() != StateHalted || v.IP() != 2 {
		t.Errorf("expected halted at 2, got %s at %d", v.State(), v.IP())
	}
}

func TestVM_HaltDoesNotAdvance(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Hlt(), Mov(RAX, Imm(1))))
	if v.IP() != 0 {
		t.Errorf("expected ip 0, got %d", v.IP())
	}
	if !v.Register(RAX).IsNone() {
		t.Error("instruction after HLT should not run")
	}
}

func TestVM_Arithmetic(t *testing.T) {
	tests := []struct {
		name string
		inst Instruction
		a, b float64
		want float64
	}{
		{"add", Add(RAX, Reg(RBX)), 7, 2, 9},
		{"sub", Sub(RAX, Reg(RBX)), 7, 2, 5},
		{"mul", Mul(RAX, Reg(RBX)), 7, 2, 14},
		{"div", Div(RAX, Reg(RBX)), 7, 2, 3.5},
		{"mod", Mod(RAX, Reg(RBX)), 7, 2, 1},
		{"mod negative dividend", Mod(RAX, Reg(RBX)), -7, 2, -1},
		{"mod fractional", Mod(RAX, Reg(RBX)), 5.5, 2, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runProgram(t, NewBuilder().Emit(
				Mov(RAX, Imm(tt.a)),
				Mov(RBX, Imm(tt.b)),
				tt.inst,
				Hlt(),
			))
			expectImm(t, v, RAX, tt.want)
		})
	}
}

func TestVM_DivideByZero(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Mov(RAX, Imm(1)),
		Div(RAX, Imm(0)),
		Mov(RBX, Imm(1)),
		Mod(RBX, Imm(0)),
		Hlt(),
	))

	if v.State() != StateHalted {
		t.Fatalf("expected halted, got %s (%v)", v.State(), v.Fault())
	}
	x, _ := v.Register(RAX).Immediate()
	if !math.IsInf(x, 1) {
		t.Errorf("expected +Inf, got %v", x)
	}
	y, _ := v.Register(RBX).Immediate()
	if !math.IsNaN(y) {
		t.Errorf("expected NaN, got %v", y)
	}
}

func TestVM_MovFromLabel(t *testing.T) {
	v := runProgram(t, NewBuilder().
		Emit(Mov(RAX, LabelRef("here")), Nop()).
		Label("here").
		Emit(Hlt()))
	expectImm(t, v, RAX, 2)
}

func TestVM_LabelAsSource(t *testing.T) {
	v := runProgram(t, NewBuilder().
		Emit(
			Push(LabelRef("end")),
			Mov(RAX, Imm(10)),
			Add(RAX, LabelRef("end")),
			Cmp(Reg(RAX), LabelRef("end")),
		).
		Label("end").
		Emit(Hlt()))

	expectImm(t, v, RAX, 14)
	if stack := v.Stack(); len(stack) != 1 || stack[0] != Imm(4) {
		t.Errorf("expected stack [4], got %v", stack)
	}
}

func TestVM_MovFromRegister(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Mov(R15, Imm(42)),
		Mov(R8, Reg(R15)),
		Hlt(),
	))
	expectImm(t, v, R8, 42)
	expectImm(t, v, R15, 42)
}

func TestVM_PushRegister(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Mov(RCX, Imm(3)),
		Push(Reg(RCX)),
		Hlt(),
	))
	stack := v.Stack()
	if len(stack) != 1 || stack[0] != Imm(3) {
		t.Errorf("expected [3], got %v", stack)
	}
}

func TestVM_CompareAndBranch(t *testing.T) {
	tests := []struct {
		name  string
		a, b  float64
		jump  func(string) Instruction
		taken bool
	}{
		{"je equal", 1, 1, Je, true},
		{"je less", 1, 2, Je, false},
		{"jne equal", 1, 1, Jne, false},
		{"jne greater", 3, 2, Jne, true},
		{"jg greater", 3, 2, Jg, true},
		{"jg equal", 2, 2, Jg, false},
		{"jge equal", 2, 2, Jge, true},
		{"jge less", 1, 2, Jge, false},
		{"jl less", 1, 2, Jl, true},
		{"jl greater", 3, 2, Jl, false},
		{"jle equal", 2, 2, Jle, true},
		{"jle greater", 3, 2, Jle, false},
		{"jne unordered", math.NaN(), 1, Jne, true},
		{"je unordered", math.NaN(), 1, Je, false},
		{"jle unordered", math.NaN(), 1, Jle, false},
		{"jge unordered", 1, math.NaN(), Jge, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runProgram(t, NewBuilder().
				Emit(
					Mov(RAX, Imm(tt.a)),
					Cmp(Reg(RAX), Imm(tt.b)),
					tt.jump("yes"),
					Mov(RBX, Imm(0)),
					Hlt(),
				).
				Label("yes").
				Emit(Mov(RBX, Imm(1)), Hlt()))

			want := 0.0
			if tt.taken {
				want = 1
			}
			expectImm(t, v, RBX, want)
		})
	}
}

func TestVM_ConditionalJumpWithoutCompare(t *testing.T) {
	v := runProgram(t, NewBuilder().Label("L").Emit(Je("L"), Hlt()))
	if !errors.Is(v.Fault(), ErrNoComparison) {
		t.Errorf("expected ErrNoComparison, got %v", v.Fault())
	}
}

func TestVM_Loop(t *testing.T) {
	// rax counts to 10, rbx accumulates 1+2+...+10
	v := runProgram(t, NewBuilder().
		Emit(Mov(RAX, Imm(0)), Mov(RBX, Imm(0))).
		Label("loop").
		Emit(
			Add(RAX, Imm(1)),
			Add(RBX, Reg(RAX)),
			Cmp(Reg(RAX), Imm(10)),
			Jl("loop"),
			Hlt(),
		))

	expectImm(t, v, RAX, 10)
	expectImm(t, v, RBX, 55)
}

func TestVM_CallRet(t *testing.T) {
	v := runProgram(t, NewBuilder().
		Emit(
			Mov(RAX, Imm(2)),
			Call("double"),
			Call("double"),
			Hlt(),
		).
		Label("double").
		Emit(Mul(RAX, Imm(2)), Ret()))

	if v.State() != StateHalted {
		t.Fatalf("expected halted, got %s (%v)", v.State(), v.Fault())
	}
	expectImm(t, v, RAX, 8)
	if v.IP() != 3 {
		t.Errorf("expected ip 3, got %d", v.IP())
	}
	if v.SP() != 0 {
		t.Errorf("call stack should not touch the operand stack, sp=%d", v.SP())
	}
}

func TestVM_RetWithoutCall(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Ret()))
	if !errors.Is(v.Fault(), ErrCallStackUnderflow) {
		t.Errorf("expected ErrCallStackUnderflow, got %v", v.Fault())
	}
}

// ===== Faults =====

func TestVM_Faults(t *testing.T) {
	tests := []struct {
		name string
		code []Instruction
		want error
		ip   int
	}{
		{"mov into immediate", []Instruction{NewInstruction(OpMov, Imm(1), Imm(2))}, ErrTypeMismatch, 0},
		{"jmp to register", []Instruction{NewInstruction(OpJmp, Reg(RAX), None())}, ErrTypeMismatch, 0},
		{"nop with operand", []Instruction{NewInstruction(OpNop, Imm(1), None())}, ErrTypeMismatch, 0},
		{"register out of range", []Instruction{NewInstruction(OpPush, Reg(Register(16)), None())}, ErrTypeMismatch, 0},
		{"mov from empty register", []Instruction{Mov(RAX, Reg(RBX))}, ErrUnresolvedValue, 0},
		{"push empty register", []Instruction{Nop(), Push(Reg(RDX))}, ErrUnresolvedValue, 1},
		{"add to empty destination", []Instruction{Add(RAX, Imm(1))}, ErrUnresolvedValue, 0},
		{"cmp empty register", []Instruction{Cmp(Reg(RAX), Imm(1))}, ErrUnresolvedValue, 0},
		{"jmp undefined", []Instruction{Jmp("nowhere")}, ErrUndefinedLabel, 0},
		{"call undefined", []Instruction{Call("nowhere")}, ErrUndefinedLabel, 0},
		{"mov undefined label", []Instruction{Mov(RAX, LabelRef("nowhere"))}, ErrUndefinedLabel, 0},
		{"pop empty", []Instruction{Pop(RAX)}, ErrStackUnderflow, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := runProgram(t, NewBuilder().Emit(tt.code...))

			if v.State() != StateErrored {
				t.Fatalf("expected errored, got %s", v.State())
			}
			var f *Fault
			if !errors.As(v.Fault(), &f) {
				t.Fatalf("expected *Fault, got %T", v.Fault())
			}
			if !errors.Is(f, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, f)
			}
			if f.IP != tt.ip || v.IP() != tt.ip {
				t.Errorf("expected fault at %d, got fault.IP=%d ip=%d", tt.ip, f.IP, v.IP())
			}
		})
	}
}

func TestVM_FaultDoesNotMutate(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Mov(RAX, Imm(7)),
		Push(Imm(1)),
		Pop(RBX),
		Pop(RAX),
		Hlt(),
	))

	if v.State() != StateErrored || v.IP() != 3 {
		t.Fatalf("expected errored at 3, got %s at %d", v.State(), v.IP())
	}
	expectImm(t, v, RAX, 7)
	expectImm(t, v, RBX, 1)
}

func TestVM_RunReturnsFault(t *testing.T) {
	v := NewVM()
	_ = v.Emit(Pop(RAX))

	state, err := v.Run()
	if state != StateErrored {
		t.Errorf("expected errored, got %s", state)
	}
	if !errors.Is(err, ErrStackUnderflow) {
		t.Errorf("expected stack underflow, got %v", err)
	}
	if !strings.Contains(err.Error(), "ip=0") {
		t.Errorf("expected ip in message, got %q", err.Error())
	}
}

func TestVM_UnimplementedOpcodeIsFatal(t *testing.T) {
	var fatal *Fault
	v := runProgram(t,
		NewBuilder().Emit(Mov(RAX, Imm(1)), NewInstruction(Opcode(0x80), None(), None()), Hlt()),
		WithFatalHandler(func(f *Fault) { fatal = f }),
	)

	if fatal == nil {
		t.Fatal("expected fatal handler to run")
	}
	if !errors.Is(fatal, ErrUnimplementedOpcode) || !fatal.Fatal() {
		t.Errorf("expected unimplemented opcode, got %v", fatal)
	}
	if fatal.IP != 1 {
		t.Errorf("expected fault at 1, got %d", fatal.IP)
	}
	if v.State() != StateErrored {
		t.Errorf("expected errored after handler returns, got %s", v.State())
	}
}

func TestVM_RecoverableFaultSkipsFatalHandler(t *testing.T) {
	called := false
	runProgram(t, NewBuilder().Emit(Pop(RAX)),
		WithFatalHandler(func(*Fault) { called = true }))
	if called {
		t.Error("fatal handler should only run for fatal faults")
	}
}

// ===== Run lifecycle =====

func TestVM_RunOffTheEnd(t *testing.T) {
	v := NewVM()
	_ = v.Emit(Mov(RAX, Imm(1)))

	state, err := v.Run()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != StateRunning {
		t.Errorf("expected running, got %s", state)
	}
	if !v.Ended() {
		t.Error("expected Ended")
	}
}

func TestVM_EmptyProgram(t *testing.T) {
	v := NewVM()
	state, err := v.Run()
	if err != nil || state != StateRunning || !v.Ended() {
		t.Errorf("expected graceful end, got %s %v", state, err)
	}
}

func TestVM_NotResumable(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Hlt()))
	steps := v.Steps()

	state, err := v.Run()
	if state != StateHalted || err != nil {
		t.Errorf("expected halted, got %s %v", state, err)
	}
	if v.Steps() != steps {
		t.Errorf("Run after halt should not dispatch, steps %d -> %d", steps, v.Steps())
	}
}

func TestVM_SealedAfterRun(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Hlt()))

	if err := v.Emit(Nop()); !errors.Is(err, ErrProgramSealed) {
		t.Errorf("Emit: expected ErrProgramSealed, got %v", err)
	}
	if _, err := v.EmitLabel("x"); !errors.Is(err, ErrProgramSealed) {
		t.Errorf("EmitLabel: expected ErrProgramSealed, got %v", err)
	}
	if err := v.Load(&Program{}); !errors.Is(err, ErrProgramSealed) {
		t.Errorf("Load: expected ErrProgramSealed, got %v", err)
	}
}

func TestVM_LoadNil(t *testing.T) {
	if err := NewVM().Load(nil); !errors.Is(err, ErrNilProgram) {
		t.Errorf("expected ErrNilProgram, got %v", err)
	}
}

func TestVM_LoadRejectsLabelTarget(t *testing.T) {
	p := &Program{
		Code:   []Instruction{Jmp("L")},
		Labels: []Label{{Name: "L", Target: -1}},
	}
	v := NewVM()
	if err := v.Load(p); !errors.Is(err, ErrLabelTarget) {
		t.Fatalf("expected ErrLabelTarget, got %v", err)
	}
	if state, err := v.Run(); state != StateRunning || err != nil {
		t.Errorf("expected an empty VM to stop cleanly, got %v, %v", state, err)
	}
}

func TestVM_LoadCopiesProgram(t *testing.T) {
	p := NewBuilder().Emit(Mov(RAX, Imm(1)), Hlt()).Program()
	v := NewVM()
	if err := v.Load(p); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	p.Code[0] = Mov(RAX, Imm(99))

	_, _ = v.Run()
	expectImm(t, v, RAX, 1)
}

func TestVM_EmitLabelBindsNextInstruction(t *testing.T) {
	v := NewVM()
	_ = v.Emit(Nop())
	l, err := v.EmitLabel("second")
	if err != nil {
		t.Fatalf("EmitLabel failed: %v", err)
	}
	if l.Target != 1 || l.ID != 0 {
		t.Errorf("expected target 1 id 0, got %+v", l)
	}
}

func TestVM_DuplicateLabelsShadowed(t *testing.T) {
	v := runProgram(t, NewBuilder().
		Emit(Jmp("L")).
		Label("L").
		Emit(Mov(RAX, Imm(1)), Hlt()).
		Label("L").
		Emit(Mov(RAX, Imm(2)), Hlt()))
	expectImm(t, v, RAX, 1)
}

func TestVM_Step(t *testing.T) {
	v := NewVM()
	_ = v.Emit(Mov(RAX, Imm(1)))
	_ = v.Emit(Hlt())

	if err := v.Step(); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if v.IP() != 1 || v.State() != StateRunning {
		t.Errorf("expected running at 1, got %s at %d", v.State(), v.IP())
	}
	_ = v.Step()
	if v.State() != StateHalted {
		t.Errorf("expected halted, got %s", v.State())
	}
}

// ===== Resource limits =====

func TestVM_InfiniteLoopWithMaxSteps(t *testing.T) {
	v := runProgram(t, NewBuilder().Label("L").Emit(Jmp("L")), WithMaxSteps(100))

	if !errors.Is(v.Fault(), ErrStepLimitExceeded) {
		t.Fatalf("expected ErrStepLimitExceeded, got %v", v.Fault())
	}
	if v.Steps() != 100 {
		t.Errorf("expected 100 steps, got %d", v.Steps())
	}
}

func TestVM_MaxStepsNotReached(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Nop(), Hlt()), WithMaxSteps(2))
	if v.State() != StateHalted {
		t.Errorf("expected halted, got %s (%v)", v.State(), v.Fault())
	}
}

func TestVM_Context_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := runProgram(t, NewBuilder().Label("L").Emit(Jmp("L")), WithContext(ctx))
	if !errors.Is(v.Fault(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", v.Fault())
	}
	if v.Steps() != 0 {
		t.Errorf("expected no steps, got %d", v.Steps())
	}
}

func TestVM_TerminatesWithoutJumps(t *testing.T) {
	// Without control flow every instruction runs at most once.
	code := []Instruction{
		Mov(RAX, Imm(1)), Push(Reg(RAX)), Nop(), Pop(RBX),
		Add(RAX, Reg(RBX)), Mul(RAX, Imm(3)), Sub(RAX, Imm(1)),
	}
	v := runProgram(t, NewBuilder().Emit(code...))
	if v.Steps() > int64(len(code)) {
		t.Errorf("expected at most %d steps, got %d", len(code), v.Steps())
	}
	if !v.Ended() {
		t.Error("expected to run off the end")
	}
}

// ===== Inspection =====

func TestVM_ResolveIsPure(t *testing.T) {
	v := NewVM()
	_, _ = v.EmitLabel("start")
	_ = v.Emit(Mov(RAX, Imm(4)))
	_ = v.Step()

	before := v.Snapshot()
	cases := []struct {
		in   Value
		want Value
	}{
		{None(), None()},
		{Imm(2.5), Imm(2.5)},
		{Reg(RAX), Imm(4)},
		{Reg(RBX), None()},
		{LabelRef("start"), Imm(0)},
		{LabelRef("missing"), None()},
	}
	for _, c := range cases {
		if got := v.Resolve(c.in); got != c.want {
			t.Errorf("Resolve(%s) = %s, want %s", c.in, got, c.want)
		}
	}

	after := v.Snapshot()
	if before.IP != after.IP || before.Registers != after.Registers || before.SP != after.SP {
		t.Error("Resolve mutated the VM")
	}
}

func TestVM_Stats(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(
		Push(Imm(1)),
		Push(Imm(2)),
		Pop(RAX),
		Pop(RBX),
		Hlt(),
	), WithStats())

	stats := v.Stats()
	if stats == nil {
		t.Fatal("expected stats")
	}
	if stats.StepsExecuted != 5 {
		t.Errorf("expected 5 steps, got %d", stats.StepsExecuted)
	}
	if stats.OpCounts["PUSH"] != 2 || stats.OpCounts["HLT"] != 1 {
		t.Errorf("unexpected op counts %v", stats.OpCounts)
	}
	if stats.MaxStackDepth != 2 {
		t.Errorf("expected max stack depth 2, got %d", stats.MaxStackDepth)
	}
}

func TestVM_Stats_Disabled(t *testing.T) {
	v := runProgram(t, NewBuilder().Emit(Hlt()))
	if v.Stats() != nil {
		t.Error("expected nil stats when disabled")
	}
}

func TestVM_TracerSeesFault(t *testing.T) {
	var events []StepEvent
	runProgram(t, NewBuilder().Emit(Push(Imm(1)), Pop(RAX), Pop(RAX)),
		WithTracer(TracerFunc(func(ev StepEvent) { events = append(events, ev) })))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[2]
	if last.Fault == nil || last.State != StateErrored || last.IP != 2 {
		t.Errorf("unexpected last event %+v", last)
	}
	if events[0].SP != 1 || events[1].SP != 0 {
		t.Errorf("unexpected sp trail %d, %d", events[0].SP, events[1].SP)
	}
}

func TestVM_Dump(t *testing.T) {
	v := runProgram(t, NewBuilder().
		Label("start").
		Emit(Mov(RAX, Imm(5)), Push(Imm(9)), Hlt()))

	var buf bytes.Buffer
	if err := v.Dump(&buf); err != nil {
		t.Fatalf("Dump failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"start", "MOV  rax, 5", "rax", "9", "state=halted"} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
}
