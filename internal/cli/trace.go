package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlpipe/internal/store"
	"github.com/roach88/sqlpipe/internal/value"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Status string // optional: only queue entries with this status
}

// TraceState is one audit-trail entry.
type TraceState struct {
	Seq       int64  `json:"seq"`
	State     string `json:"state"`
	Timestamp string `json:"timestamp"`
}

// TraceOperation is one queue mirror entry.
type TraceOperation struct {
	OperationID string `json:"operation_id"`
	Type        string `json:"type"`
	Status      string `json:"status"`
	Parameters  string `json:"parameters"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
}

// TraceStats summarizes the trail.
type TraceStats struct {
	States     int `json:"states"`
	Operations int `json:"operations"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Database   string           `json:"database"`
	States     []TraceState     `json:"states"`
	Operations []TraceOperation `json:"operations"`
	Stats      TraceStats       `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the audit trail of a database",
		Long: `Print the states the pipeline entered and the operations it mirrored
into the database given by --db.

The trail is best-effort observability: it is written as the pipeline runs
and is never replayed.

Examples:
  sqlpipe trace --db shop.db
  sqlpipe trace --db shop.db --status pending --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only show operations with this status (pending|processing)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	path := opts.Config.Database

	// Open would create a missing file.
	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("database not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result, err := buildTrace(ctx, st, opts.Status)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read audit trail", err)
	}
	result.Database = path

	return formatter.Success(result, func(w io.Writer) { writeTraceText(w, result, opts.Verbose) })
}

func buildTrace(ctx context.Context, st *store.Store, status string) (TraceResult, error) {
	var result TraceResult

	trail, err := st.ReadStateTrail(ctx)
	if err != nil {
		return result, err
	}
	result.States = make([]TraceState, 0, len(trail))
	for _, r := range trail {
		result.States = append(result.States, TraceState{Seq: r.ID, State: r.State, Timestamp: formatTime(r.Timestamp)})
	}

	mirror, err := st.ReadQueueMirror(ctx)
	if err != nil {
		return result, err
	}
	result.Operations = make([]TraceOperation, 0, len(mirror))
	for _, q := range mirror {
		switch q.Status {
		case "pending":
			result.Stats.Pending++
		case "processing":
			result.Stats.Processing++
		}
		if status != "" && q.Status != status {
			continue
		}
		entry := TraceOperation{
			OperationID: q.OperationID,
			Type:        q.OperationType,
			Status:      q.Status,
			Parameters:  q.Parameters,
			CreatedAt:   formatTime(q.CreatedAt),
		}
		if q.StartedAt != nil {
			entry.StartedAt = formatTime(*q.StartedAt)
		}
		result.Operations = append(result.Operations, entry)
	}

	result.Stats.States = len(result.States)
	result.Stats.Operations = len(mirror)
	return result, nil
}

func writeTraceText(w io.Writer, r TraceResult, verbose bool) {
	fmt.Fprintf(w, "Audit trail for %s\n\n", r.Database)

	fmt.Fprintln(w, "States:")
	if len(r.States) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, s := range r.States {
		fmt.Fprintf(w, "  [%d] %s  %s\n", s.Seq, s.Timestamp, s.State)
	}

	fmt.Fprintln(w, "\nOperations:")
	if len(r.Operations) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, o := range r.Operations {
		fmt.Fprintf(w, "  %s  %-10s %s\n", truncateID(o.OperationID), o.Status, o.Type)
		if verbose {
			fmt.Fprintf(w, "       ID: %s\n", o.OperationID)
			fmt.Fprintf(w, "       Params: %s\n", o.Parameters)
		}
	}

	fmt.Fprintln(w, "\nSummary:")
	fmt.Fprintf(w, "  States:     %d\n", r.Stats.States)
	fmt.Fprintf(w, "  Operations: %d\n", r.Stats.Operations)
	fmt.Fprintf(w, "  Pending:    %d\n", r.Stats.Pending)
	fmt.Fprintf(w, "  Processing: %d\n", r.Stats.Processing)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(value.TimeLayout)
}

// truncateID shortens an ID for display.
func truncateID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}
