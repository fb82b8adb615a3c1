package trace

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	dataframe "github.com/rocketlaunchr/dataframe-go"
)

var ErrMissingColumn = errors.New("trace is missing column")

// OpCount is the number of times one opcode was executed.
type OpCount struct {
	Opcode string
	Count  int
}

// Summary aggregates a trace.
type Summary struct {
	Steps       int
	OpCounts    []OpCount // Most frequent first
	HottestIP   int       // -1 for an empty trace
	HottestHits int
	MaxSP       int
	FinalState  string
	Faults      []string
}

// Summarize aggregates a trace frame produced by Frame or Load.
func Summarize(df *dataframe.DataFrame) (*Summary, error) {
	if df == nil {
		return nil, ErrEmptyTrace
	}

	ipCol, err := column(df, ColIP)
	if err != nil {
		return nil, err
	}
	opCol, err := column(df, ColOpcode)
	if err != nil {
		return nil, err
	}
	spCol, err := column(df, ColSP)
	if err != nil {
		return nil, err
	}
	stateCol, err := column(df, ColState)
	if err != nil {
		return nil, err
	}
	// Older traces have no fault column.
	faultCol, _ := column(df, ColFault)

	s := &Summary{HottestIP: -1}
	ops := map[string]int{}
	hits := map[int]int{}

	n := df.NRows()
	for row := 0; row < n; row++ {
		s.Steps++

		op := asString(opCol.Value(row))
		ops[op]++

		ip, ok := asInt(ipCol.Value(row))
		if ok {
			hits[ip]++
			if c := hits[ip]; c > s.HottestHits || (c == s.HottestHits && ip < s.HottestIP) {
				s.HottestIP, s.HottestHits = ip, c
			}
		}
		if sp, ok := asInt(spCol.Value(row)); ok && sp > s.MaxSP {
			s.MaxSP = sp
		}
		s.FinalState = asString(stateCol.Value(row))
		if faultCol != nil {
			if f := asString(faultCol.Value(row)); f != "" {
				s.Faults = append(s.Faults, f)
			}
		}
	}

	for op, c := range ops {
		s.OpCounts = append(s.OpCounts, OpCount{Opcode: op, Count: c})
	}
	sort.Slice(s.OpCounts, func(i, j int) bool {
		if s.OpCounts[i].Count != s.OpCounts[j].Count {
			return s.OpCounts[i].Count > s.OpCounts[j].Count
		}
		return s.OpCounts[i].Opcode < s.OpCounts[j].Opcode
	})
	return s, nil
}

// Count returns how many times op was executed.
func (s *Summary) Count(op string) int {
	for _, oc := range s.OpCounts {
		if oc.Opcode == op {
			return oc.Count
		}
	}
	return 0
}

// Render writes the summary as tables.
func (s *Summary) Render(w io.Writer) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Trace")
	t.AppendRow(table.Row{"steps", s.Steps})
	t.AppendRow(table.Row{"final state", s.FinalState})
	if s.HottestIP >= 0 {
		t.AppendRow(table.Row{"hottest ip", fmt.Sprintf("%d (%d hits)", s.HottestIP, s.HottestHits)})
	}
	t.AppendRow(table.Row{"max sp", s.MaxSP})
	t.Render()

	ops := table.NewWriter()
	ops.SetOutputMirror(w)
	ops.SetTitle("Opcodes")
	ops.AppendHeader(table.Row{"Opcode", "Count"})
	for _, oc := range s.OpCounts {
		ops.AppendRow(table.Row{oc.Opcode, oc.Count})
	}
	ops.Render()

	for _, f := range s.Faults {
		fmt.Fprintf(w, "fault: %s\n", f)
	}
}

// column finds a series by name, ignoring case; parquet round trips may
// change it.
func column(df *dataframe.DataFrame, name string) (dataframe.Series, error) {
	for _, s := range df.Series {
		if strings.EqualFold(s.Name(), name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w %q", ErrMissingColumn, name)
}

func asInt(v interface{}) (int, bool) {
	switch x := v.(type) {
	case int64:
		return int(x), true
	case int32:
		return int(x), true
	case int:
		return x, true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	default:
		return 0, false
	}
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}
