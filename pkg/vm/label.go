package vm

// Label binds a symbolic name to an instruction index.
type Label struct {
	Name   string
	ID     int // Ordinal in creation order
	Target int // Instruction index the label points at
}

// LabelTable is the ordered set of label bindings of a program.
//
// Duplicate names are accepted; lookups by name return the first binding
// in insertion order, so later duplicates are shadowed.
type LabelTable struct {
	labels   []Label
	byName   map[string]int // name -> index of first binding
	byTarget map[int]int    // target -> index of first binding
}

// NewLabelTable creates an empty label table.
func NewLabelTable() *LabelTable {
	return &LabelTable{
		byName:   make(map[string]int),
		byTarget: make(map[int]int),
	}
}

// Bind appends a label named name pointing at target and returns it.
func (t *LabelTable) Bind(name string, target int) Label {
	if t.byName == nil {
		t.byName = make(map[string]int)
		t.byTarget = make(map[int]int)
	}

	label := Label{Name: name, ID: len(t.labels), Target: target}
	t.labels = append(t.labels, label)

	if _, ok := t.byName[name]; !ok {
		t.byName[name] = label.ID
	}
	if _, ok := t.byTarget[target]; !ok {
		t.byTarget[target] = label.ID
	}
	return label
}

// ByName returns the first label bound with the given name.
func (t *LabelTable) ByName(name string) (Label, bool) {
	idx, ok := t.byName[name]
	if !ok {
		return Label{}, false
	}
	return t.labels[idx], true
}

// AtTarget returns the first label bound to instruction index ip.
func (t *LabelTable) AtTarget(ip int) (Label, bool) {
	idx, ok := t.byTarget[ip]
	if !ok {
		return Label{}, false
	}
	return t.labels[idx], true
}

// Len returns the number of bindings, duplicates included.
func (t *LabelTable) Len() int {
	return len(t.labels)
}

// All returns a copy of every binding in insertion order.
func (t *LabelTable) All() []Label {
	out := make([]Label, len(t.labels))
	copy(out, t.labels)
	return out
}
