package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlpipe/internal/machine"
	"github.com/roach88/sqlpipe/internal/metrics"
	"github.com/roach88/sqlpipe/internal/op"
	"github.com/roach88/sqlpipe/internal/pipeline"
	"github.com/roach88/sqlpipe/internal/retry"
	"github.com/roach88/sqlpipe/internal/value"
	"github.com/roach88/sqlpipe/internal/worker"
)

// ExecOptions holds flags for the exec command.
type ExecOptions struct {
	*RootOptions
	Params  string
	Metrics bool
}

// ExecResult is the outcome of one statement.
type ExecResult struct {
	OperationID string          `json:"operation_id"`
	SQL         string          `json:"sql"`
	Success     bool            `json:"success"`
	Data        json.RawMessage `json:"data,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NewExecCommand creates the exec command.
func NewExecCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExecOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "exec <sql> [sql...]",
		Short: "Run statements through the pipeline",
		Long: `Queue each statement on a fresh pipeline, wait for every completion
and print the results in queue order.

Named parameters (:name) are bound from --params, a JSON object shared by
all statements.

Examples:
  sqlpipe exec --db shop.db "SELECT * FROM products ORDER BY id"
  sqlpipe exec --db shop.db --params '{"id": 1}' "SELECT * FROM users WHERE id = :id"`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Params, "params", "{}", "named parameters as a JSON object")
	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print pipeline metrics after the run")

	return cmd
}

func runExec(opts *ExecOptions, statements []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --params", err)
	}

	cfg := opts.Config
	var table machine.Source
	if cfg.TablePath != "" {
		table = machine.FileSource(cfg.TablePath)
	}

	reg := prometheus.NewRegistry()
	client := worker.New(worker.Config{
		Pipeline: pipeline.Config{
			Database: cfg.Database,
			Retry:    retry.Config{MaxRetries: cfg.MaxRetries, Base: cfg.RetryBase},
			Table:    table,
		},
		JoinTimeout: cfg.JoinTimeout,
	},
		worker.WithLogger(opts.logger(cmd)),
		worker.WithMetrics(metrics.New(reg)),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := client.Start(ctx); err != nil {
		return outputTableError(formatter, err)
	}

	order := make([]string, 0, len(statements))
	sqlByID := make(map[string]string, len(statements))
	for _, sql := range statements {
		id, err := client.Query(sql, params)
		if err != nil {
			client.Close()
			return WrapExitError(ExitCommandError, "failed to queue statement", err)
		}
		formatter.VerboseLog("queued %s: %s", id, sql)
		order = append(order, id)
		sqlByID[id] = sql
	}

	results := make(map[string]ExecResult, len(order))
	var fatal string
	for ev := range client.Events() {
		switch ev.Kind {
		case pipeline.KindCompleted:
			if _, ok := sqlByID[ev.OperationID]; ok {
				results[ev.OperationID] = toExecResult(sqlByID[ev.OperationID], ev.Result)
			}
		case pipeline.KindError:
			if strings.HasPrefix(ev.Error, "retries exhausted") {
				fatal = ev.Error
			}
		case pipeline.KindStateChanged:
			formatter.VerboseLog("state: %s", ev.State)
		}
		if len(results) == len(order) {
			break
		}
	}

	closeErr := client.Close()
	for range client.Events() {
		// Drain until the worker has exited.
	}

	out := make([]ExecResult, 0, len(order))
	failed := 0
	for _, id := range order {
		res, ok := results[id]
		if !ok {
			res = ExecResult{OperationID: id, SQL: sqlByID[id], Error: "no completion received"}
		}
		if !res.Success {
			failed++
		}
		out = append(out, res)
	}

	if err := formatter.Success(out, func(w io.Writer) { writeExecText(w, out) }); err != nil {
		return err
	}
	if opts.Metrics {
		if err := writeMetrics(cmd.ErrOrStderr(), reg); err != nil {
			return WrapExitError(ExitFailure, "failed to write metrics", err)
		}
	}

	switch {
	case fatal != "":
		return NewExitError(ExitFailure, fatal)
	case failed > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d statement(s) failed", failed, len(out)))
	case closeErr != nil:
		return WrapExitError(ExitFailure, "shutdown", closeErr)
	}
	return nil
}

// parseParams decodes a JSON object into request parameters. Integers stay
// integers.
func parseParams(raw string) (op.Params, error) {
	if strings.TrimSpace(raw) == "" {
		return op.Params{}, nil
	}
	v, err := value.Unmarshal([]byte(raw))
	if err != nil {
		return op.Params{}, err
	}
	m, ok := value.AsMap(v)
	if !ok {
		return op.Params{}, fmt.Errorf("want a JSON object, got %s", v.Kind())
	}

	var p op.Params
	for _, f := range m.Fields() {
		if err := p.Set(f.Key, value.Any(f.Value)); err != nil {
			return op.Params{}, err
		}
	}
	return p, nil
}

func toExecResult(sql string, r op.Result) ExecResult {
	res := ExecResult{OperationID: r.OperationID, SQL: sql, Success: r.Success, Error: r.Error}
	if r.Success {
		res.Data = json.RawMessage(value.MarshalString(r.Data))
	}
	return res
}

func writeExecText(w io.Writer, results []ExecResult) {
	for i, r := range results {
		if r.Success {
			fmt.Fprintf(w, "[%d] ok    %s\n", i+1, r.SQL)
			fmt.Fprintf(w, "    %s\n", r.Data)
			continue
		}
		fmt.Fprintf(w, "[%d] FAIL  %s\n", i+1, r.SQL)
		fmt.Fprintf(w, "    %s\n", r.Error)
	}
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// outputTableError reports a transition table that failed to load.
func outputTableError(f *OutputFormatter, err error) error {
	if outErr := f.Error(ErrCodeTable, err.Error(), nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, "invalid transition table", err)
}
