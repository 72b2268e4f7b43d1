package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpipe/internal/machine"
)

// TableDescription is the validate command's view of a table.
type TableDescription struct {
	Source  string             `json:"source"`
	Initial string             `json:"initial"`
	States  []StateDescription `json:"states"`
}

// StateDescription describes one state.
type StateDescription struct {
	Name  string                  `json:"name"`
	Entry []string                `json:"entry,omitempty"`
	On    []TransitionDescription `json:"on,omitempty"`
	Final bool                    `json:"final,omitempty"`
}

// TransitionDescription describes one edge.
type TransitionDescription struct {
	Event  string `json:"event"`
	Target string `json:"target"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [table.cue]",
		Short: "Check a transition table",
		Long: `Load a transition table, check it against the schema and print its
states, entry actions and transitions.

Without an argument the --table file is checked, or the embedded table
when --table is not set.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config.TablePath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	var (
		table *machine.Table
		err   error
	)
	if path == "" {
		formatter.VerboseLog("Checking embedded table %s", machine.DefaultTableName)
		table, err = machine.DefaultTable()
	} else {
		formatter.VerboseLog("Checking %s", path)
		table, err = machine.LoadTableFile(path)
	}
	if err != nil {
		return outputValidateError(formatter, err)
	}

	desc := describeTable(table)
	return formatter.Success(desc, func(w io.Writer) { writeTableText(w, desc) })
}

func describeTable(t *machine.Table) TableDescription {
	desc := TableDescription{Source: t.Source, Initial: string(t.Initial)}
	for _, s := range t.States() {
		sd := StateDescription{Name: string(s.Name), Final: s.Final}
		for _, a := range s.Entry {
			sd.Entry = append(sd.Entry, string(a))
		}
		for _, tr := range s.On {
			sd.On = append(sd.On, TransitionDescription{Event: string(tr.Event), Target: string(tr.Target)})
		}
		desc.States = append(desc.States, sd)
	}
	return desc
}

func writeTableText(w io.Writer, desc TableDescription) {
	fmt.Fprintf(w, "Transition table: %s\n", desc.Source)
	fmt.Fprintf(w, "Initial: %s\n", desc.Initial)
	fmt.Fprintf(w, "States: %d\n\n", len(desc.States))

	for _, s := range desc.States {
		name := s.Name
		if s.Final {
			name += " (final)"
		}
		fmt.Fprintf(w, "  %s\n", name)
		if len(s.Entry) > 0 {
			fmt.Fprintf(w, "    entry: %s\n", strings.Join(s.Entry, ", "))
		}
		for _, tr := range s.On {
			fmt.Fprintf(w, "    %s -> %s\n", tr.Event, tr.Target)
		}
	}
	fmt.Fprintln(w, "\nValid")
}

func outputValidateError(f *OutputFormatter, err error) error {
	var details any
	var tErr *machine.TableError
	if errors.As(err, &tErr) {
		details = map[string]string{"field": tErr.Field, "pos": tErr.Pos}
	}
	if outErr := f.Error(ErrCodeTable, err.Error(), details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "invalid transition table", err)
}
