package vm

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Dump writes the program, labels, registers and stack as tables, followed
// by the instruction pointer and run state.
func (vm *VM) Dump(w io.Writer) error {
	codeTable := table.NewWriter()
	codeTable.SetTitle(fmt.Sprintf("Instructions (%d)", len(vm.code)))
	codeTable.AppendHeader(table.Row{"", "#", "Label", "Instruction"})
	for i, inst := range vm.code {
		marker := ""
		if i == vm.ip {
			marker = ">"
		}
		name := ""
		if l, ok := vm.labels.AtTarget(i); ok {
			name = l.Name
		}
		codeTable.AppendRow(table.Row{marker, i, name, disassembleInstruction(inst)})
	}

	labelTable := table.NewWriter()
	labelTable.SetTitle(fmt.Sprintf("Labels (%d)", vm.labels.Len()))
	labelTable.AppendHeader(table.Row{"ID", "Name", "Target"})
	for _, l := range vm.labels.All() {
		labelTable.AppendRow(table.Row{l.ID, l.Name, l.Target})
	}

	regTable := table.NewWriter()
	regTable.SetTitle("Registers")
	regTable.AppendHeader(table.Row{"Register", "Value"})
	for i, v := range vm.registers {
		if v.IsNone() {
			continue
		}
		regTable.AppendRow(table.Row{Register(i).String(), v.String()})
	}

	stackTable := table.NewWriter()
	stackTable.SetTitle(fmt.Sprintf("Stack (sp=%d)", vm.stack.SP()))
	stackTable.AppendHeader(table.Row{"Slot", "Value"})
	values := vm.stack.Values()
	for i := len(values) - 1; i >= 0; i-- {
		stackTable.AppendRow(table.Row{i, values[i].String()})
	}

	for _, t := range []table.Writer{codeTable, labelTable, regTable, stackTable} {
		if _, err := fmt.Fprintln(w, t.Render()); err != nil {
			return err
		}
	}

	status := fmt.Sprintf("ip=%d state=%s", vm.ip, vm.state)
	if vm.Ended() {
		status += " (ended)"
	}
	if vm.fault != nil {
		status += " fault: " + vm.fault.Error()
	}
	_, err := fmt.Fprintln(w, status)
	return err
}
