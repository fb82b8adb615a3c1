package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// Diagnostic is one assembly error.
type Diagnostic struct {
	Line    int
	Column  int
	Message string
}

func (d Diagnostic) Error() string {
	if d.Column == 0 {
		return fmt.Sprintf("line %d: %s", d.Line, d.Message)
	}
	return fmt.Sprintf("line %d:%d: %s", d.Line, d.Column, d.Message)
}

// Diagnostics collects every error found while assembling a source file.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	if len(ds) == 1 {
		return ds[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d errors:", len(ds))
	for _, d := range ds {
		b.WriteString("\n  ")
		b.WriteString(d.Error())
	}
	return b.String()
}

// Err returns ds as an error, or nil when it is empty.
func (ds Diagnostics) Err() error {
	if len(ds) == 0 {
		return nil
	}
	return ds
}

func (ds *Diagnostics) add(line, col int, format string, args ...any) {
	*ds = append(*ds, Diagnostic{Line: line, Column: col, Message: fmt.Sprintf(format, args...)})
}

// sort orders diagnostics by position; lexer and parser findings are
// recorded in separate passes.
func (ds Diagnostics) sort() {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Line != ds[j].Line {
			return ds[i].Line < ds[j].Line
		}
		return ds[i].Column < ds[j].Column
	})
}
