package machine

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/sqlpipe/internal/op"
)

//go:embed schema.cue
var schemaCUE string

//go:embed pipeline.cue
var defaultTableCUE []byte

// DefaultTableName is the file name reported for the embedded table.
const DefaultTableName = "pipeline.cue"

// Transition is one outgoing edge of a state.
type Transition struct {
	Event  Event
	Target State
}

// StateDef describes one state of the table.
type StateDef struct {
	Name  State
	Entry []Action
	On    []Transition
	Final bool
}

// Table is a validated transition table.
type Table struct {
	Source  string
	Initial State
	states  []StateDef
	byName  map[State]int
}

// States returns the state definitions in declaration order.
func (t *Table) States() []StateDef {
	out := make([]StateDef, len(t.states))
	copy(out, t.states)
	return out
}

// State returns the definition of s.
func (t *Table) State(s State) (StateDef, bool) {
	i, ok := t.byName[s]
	if !ok {
		return StateDef{}, false
	}
	return t.states[i], true
}

// Next returns the target of ev from state from.
func (t *Table) Next(from State, ev Event) (State, bool) {
	def, ok := t.State(from)
	if !ok {
		return "", false
	}
	for _, tr := range def.On {
		if tr.Event == ev {
			return tr.Target, true
		}
	}
	return "", false
}

// Source loads a table. It is called by Controller.Initialize.
type Source func() (*Table, error)

// DefaultSource loads the embedded default table.
func DefaultSource() Source {
	return func() (*Table, error) { return DefaultTable() }
}

// FileSource loads the table at path.
func FileSource(path string) Source {
	return func() (*Table, error) { return LoadTableFile(path) }
}

// DefaultTable parses the embedded default table.
func DefaultTable() (*Table, error) {
	return LoadTable(DefaultTableName, defaultTableCUE)
}

// LoadTableFile reads and parses a CUE table from disk.
func LoadTableFile(path string) (*Table, error) {
	src, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, op.NewInitializationError(fmt.Sprintf("transition table not found: %s", path), nil)
	}
	if err != nil {
		return nil, op.NewInitializationError(fmt.Sprintf("read transition table %s", path), err)
	}
	return LoadTable(path, src)
}

// LoadTable parses src as a CUE transition table, unifies it with the
// embedded schema and checks that every target state is defined.
//
// All failures are *op.Error values with code INITIALIZATION.
func LoadTable(name string, src []byte) (*Table, error) {
	if len(src) == 0 {
		return nil, op.NewInitializationError(fmt.Sprintf("transition table is empty: %s", name), nil)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, op.NewInitializationError("compile table schema", formatCUEError(err))
	}

	data := ctx.CompileBytes(src, cue.Filename(name))
	if err := data.Err(); err != nil {
		return nil, op.NewInitializationError("parse transition table", formatCUEError(err))
	}

	v := schema.LookupPath(cue.ParsePath("#Table")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, op.NewInitializationError("invalid transition table", formatCUEError(err))
	}

	t, err := decodeTable(v)
	if err != nil {
		return nil, op.NewInitializationError("invalid transition table", err)
	}
	t.Source = name
	return t, nil
}

func decodeTable(v cue.Value) (*Table, error) {
	t := &Table{byName: make(map[State]int)}

	initial, err := v.LookupPath(cue.ParsePath("initial")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	t.Initial = State(initial)

	statesVal := v.LookupPath(cue.ParsePath("states"))
	iter, err := statesVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		def, err := decodeState(State(iter.Label()), iter.Value())
		if err != nil {
			return nil, err
		}
		t.byName[def.Name] = len(t.states)
		t.states = append(t.states, def)
	}

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func decodeState(name State, v cue.Value) (StateDef, error) {
	def := StateDef{Name: name}

	if entryVal := v.LookupPath(cue.ParsePath("entry")); entryVal.Exists() {
		list, err := entryVal.List()
		if err != nil {
			return def, formatCUEError(err)
		}
		for list.Next() {
			s, err := list.Value().String()
			if err != nil {
				return def, formatCUEError(err)
			}
			def.Entry = append(def.Entry, Action(s))
		}
	}

	if onVal := v.LookupPath(cue.ParsePath("on")); onVal.Exists() {
		list, err := onVal.List()
		if err != nil {
			return def, formatCUEError(err)
		}
		for list.Next() {
			ev, err := list.Value().LookupPath(cue.ParsePath("event")).String()
			if err != nil {
				return def, formatCUEError(err)
			}
			target, err := list.Value().LookupPath(cue.ParsePath("target")).String()
			if err != nil {
				return def, formatCUEError(err)
			}
			def.On = append(def.On, Transition{Event: Event(ev), Target: State(target)})
		}
	}

	if finalVal := v.LookupPath(cue.ParsePath("final")); finalVal.Exists() {
		final, err := finalVal.Bool()
		if err != nil {
			return def, formatCUEError(err)
		}
		def.Final = final
	}

	return def, nil
}

// validate repeats the schema's vocabulary checks and adds the structural
// ones CUE cannot express.
func (t *Table) validate() error {
	if len(t.states) == 0 {
		return &TableError{Field: "states", Message: "no states defined"}
	}
	if _, ok := t.byName[t.Initial]; !ok {
		return &TableError{Field: "initial", Message: fmt.Sprintf("initial state %q is not defined", t.Initial)}
	}

	for _, def := range t.states {
		if !knownStates[def.Name] {
			return &TableError{Field: "states", Message: fmt.Sprintf("unknown state %q", def.Name)}
		}
		for _, a := range def.Entry {
			if !knownActions[a] {
				return &TableError{Field: "states." + string(def.Name) + ".entry", Message: fmt.Sprintf("unknown action %q", a)}
			}
		}
		seen := make(map[Event]bool)
		for _, tr := range def.On {
			field := "states." + string(def.Name) + ".on"
			if !knownEvents[tr.Event] {
				return &TableError{Field: field, Message: fmt.Sprintf("unknown event %q", tr.Event)}
			}
			if seen[tr.Event] {
				return &TableError{Field: field, Message: fmt.Sprintf("event %q handled twice", tr.Event)}
			}
			seen[tr.Event] = true
			if _, ok := t.byName[tr.Target]; !ok {
				return &TableError{Field: field, Message: fmt.Sprintf("target state %q is not defined", tr.Target)}
			}
		}
		if def.Final && len(def.On) > 0 {
			return &TableError{Field: "states." + string(def.Name), Message: "final state has outgoing transitions"}
		}
	}
	return nil
}

// TableError describes a structural problem in a transition table.
type TableError struct {
	Field   string
	Message string
	Pos     string
}

func (e *TableError) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	first := errs[0]
	positions := cueerrors.Positions(first)
	if len(positions) > 0 && positions[0].IsValid() {
		pos := positions[0]
		return &TableError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     fmt.Sprintf("%s:%d:%d", pos.Filename(), pos.Line(), pos.Column()),
		}
	}

	return err
}
