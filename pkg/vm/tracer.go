package vm

import "log/slog"

// LevelTrace sits below slog.LevelDebug and carries one record per
// executed instruction.
const LevelTrace slog.Level = slog.LevelDebug - 4

// StepEvent describes one executed (or faulted) instruction.
type StepEvent struct {
	Step  int64       // 1-based count of dispatched instructions
	IP    int         // Index of the instruction
	Inst  Instruction // The instruction itself
	SP    int         // Stack pointer after execution
	State State       // Run state after execution
	Fault *Fault      // Set when the instruction faulted
}

// Tracer observes execution one instruction at a time.
type Tracer interface {
	OnStep(StepEvent)
}

// TracerFunc adapts a plain function to the Tracer interface.
type TracerFunc func(StepEvent)

func (f TracerFunc) OnStep(ev StepEvent) { f(ev) }
