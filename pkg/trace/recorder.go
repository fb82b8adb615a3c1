// Package trace records VM execution one instruction per row and stores
// the result as a DataFrame.
//
// Basic usage:
//
//	rec := trace.NewRecorder()
//	machine := vm.NewVM(vm.WithTracer(rec))
//	machine.Load(program)
//	machine.Run()
//	rec.Export(ctx, "trace.parquet")
package trace

import (
	dataframe "github.com/rocketlaunchr/dataframe-go"

	"github.com/akhildatla/cyclone/pkg/vm"
)

// Column names of a trace frame.
const (
	ColStep     = "step"
	ColIP       = "ip"
	ColOpcode   = "opcode"
	ColOperand1 = "operand1"
	ColOperand2 = "operand2"
	ColSP       = "sp"
	ColState    = "state"
	ColFault    = "fault"
)

// Row is one recorded instruction.
type Row struct {
	Step     int64
	IP       int
	Opcode   string
	Operand1 string
	Operand2 string
	SP       int
	State    string
	Fault    string // Empty unless the instruction faulted
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLimit keeps only the first n rows. Later steps are counted in
// Dropped. Zero means no limit.
func WithLimit(n int) Option {
	return func(r *Recorder) {
		r.limit = n
	}
}

// Recorder is a vm.Tracer that keeps every step in memory.
type Recorder struct {
	rows    []Row
	limit   int
	dropped int64
}

var _ vm.Tracer = (*Recorder)(nil)

// NewRecorder creates an empty recorder.
func NewRecorder(opts ...Option) *Recorder {
	r := &Recorder{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnStep implements vm.Tracer.
func (r *Recorder) OnStep(ev vm.StepEvent) {
	if r.limit > 0 && len(r.rows) >= r.limit {
		r.dropped++
		return
	}
	a, b := ev.Inst.Operands()
	row := Row{
		Step:     ev.Step,
		IP:       ev.IP,
		Opcode:   ev.Inst.Opcode().String(),
		Operand1: a.String(),
		Operand2: b.String(),
		SP:       ev.SP,
		State:    ev.State.String(),
	}
	if ev.Fault != nil {
		row.Fault = ev.Fault.Error()
	}
	r.rows = append(r.rows, row)
}

// Rows returns a copy of the recorded rows.
func (r *Recorder) Rows() []Row {
	out := make([]Row, len(r.rows))
	copy(out, r.rows)
	return out
}

// Len returns the number of recorded rows.
func (r *Recorder) Len() int {
	return len(r.rows)
}

// Dropped returns the number of steps discarded because of WithLimit.
func (r *Recorder) Dropped() int64 {
	return r.dropped
}

// Reset discards every recorded row.
func (r *Recorder) Reset() {
	r.rows = nil
	r.dropped = 0
}

// Frame builds a DataFrame with one row per recorded step.
func (r *Recorder) Frame() *dataframe.DataFrame {
	n := len(r.rows)
	steps := make([]interface{}, n)
	ips := make([]interface{}, n)
	ops := make([]interface{}, n)
	op1s := make([]interface{}, n)
	op2s := make([]interface{}, n)
	sps := make([]interface{}, n)
	states := make([]interface{}, n)
	faults := make([]interface{}, n)

	for i, row := range r.rows {
		steps[i] = row.Step
		ips[i] = int64(row.IP)
		ops[i] = row.Opcode
		op1s[i] = row.Operand1
		op2s[i] = row.Operand2
		sps[i] = int64(row.SP)
		states[i] = row.State
		faults[i] = row.Fault
	}

	init := &dataframe.SeriesInit{Capacity: n}
	return dataframe.NewDataFrame(
		dataframe.NewSeriesInt64(ColStep, init, steps...),
		dataframe.NewSeriesInt64(ColIP, init, ips...),
		dataframe.NewSeriesString(ColOpcode, init, ops...),
		dataframe.NewSeriesString(ColOperand1, init, op1s...),
		dataframe.NewSeriesString(ColOperand2, init, op2s...),
		dataframe.NewSeriesInt64(ColSP, init, sps...),
		dataframe.NewSeriesString(ColState, init, states...),
		dataframe.NewSeriesString(ColFault, init, faults...),
	)
}
