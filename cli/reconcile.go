package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/workflow"
	"github.com/spf13/cobra"
)

type reconcileFlags struct {
	Resume    bool
	FromBlock uint64
	All       bool
}

func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	flags := &reconcileFlags{}
	cmd := &cobra.Command{
		Use:   "reconcile [kind...]",
		Short: "Rebuild entity sets from the ledger and record the run",
		Long: `Reads every record of the given entity kinds from the ledger, falling back
from the aggregate query to indexed events and then raw logs. Each run is
recorded with its checkpoint; --resume continues after the last checkpoint.`,
		Example: `  paddyctl reconcile farmer
  paddyctl reconcile --all --resume
  paddyctl reconcile transaction --from-block 1200 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, flags, cmd, args)
		},
	}
	cmd.Flags().BoolVar(&flags.Resume, "resume", false, "Start after the stored checkpoint")
	cmd.Flags().Uint64Var(&flags.FromBlock, "from-block", 0, "First block to read")
	cmd.Flags().BoolVar(&flags.All, "all", false, "Reconcile every entity kind")
	return cmd
}

type reconcileOutput struct {
	Result *workflow.ReconcileResult `json:"result"`
	Drift  *workflow.DriftReport     `json:"drift,omitempty"`
	Error  string                    `json:"error,omitempty"`
}

func runReconcile(opts *RootOptions, flags *reconcileFlags, cmd *cobra.Command, args []string) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	kinds, err := parseKinds(args)
	if err != nil {
		return err
	}
	if flags.All {
		kinds = ledger.AllKinds()
	}
	if len(kinds) == 0 {
		return &ExitError{Code: ExitCommandError, Message: "name at least one entity kind or pass --all"}
	}

	return withService(cmd, opts, func(ctx context.Context, svc *workflow.Service) error {
		results := make([]reconcileOutput, 0, len(kinds))
		failed := 0
		for _, kind := range kinds {
			out.Logf("reconciling %s", kind)
			res, drift, err := svc.ReconcileKind(ctx, kind, workflow.ReconcileOptions{
				FromBlock:   flags.FromBlock,
				Resume:      flags.Resume,
				TriggeredBy: models.RunTriggeredManual,
			})
			o := reconcileOutput{Result: res, Drift: drift}
			if err != nil {
				failed++
				o.Error = err.Error()
				out.Logf("%s failed: %v", kind, err)
			}
			results = append(results, o)
		}

		if err := out.Success(results, func(w io.Writer) { printReconcile(w, results) }); err != nil {
			return err
		}
		if failed > 0 {
			return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d of %d kinds failed", failed, len(kinds))}
		}
		return nil
	})
}

func printReconcile(w io.Writer, results []reconcileOutput) {
	rows := make([][]string, 0, len(results))
	for _, o := range results {
		if o.Result == nil {
			rows = append(rows, []string{"-", "-", "-", "-", "-", o.Error})
			continue
		}
		r := o.Result
		drift := "-"
		if o.Drift != nil {
			drift = strconv.Itoa(o.Drift.Count())
		}
		rows = append(rows, []string{
			string(r.Kind),
			string(r.Strategy),
			strconv.Itoa(len(r.Records)),
			strconv.Itoa(len(r.Skipped)),
			fmt.Sprintf("%d-%d", r.FromBlock, r.LastBlock),
			drift + " " + o.Error,
		})
	}
	table(w, []string{"KIND", "STRATEGY", "RECORDS", "SKIPPED", "BLOCKS", "DRIFT"}, rows)
}

func NewDriftCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drift [kind...]",
		Short: "Compare ledger ids with the relational store",
		Long: `Lists ids present on the ledger but not locally (MISSING_LOCAL) and the
reverse (MISSING_LEDGER). Findings are stored as reconciliation reports.
With no kinds, every entity kind is checked.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrift(opts, cmd, args)
		},
	}
}

func runDrift(opts *RootOptions, cmd *cobra.Command, args []string) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	kinds, err := parseKinds(args)
	if err != nil {
		return err
	}
	return withService(cmd, opts, func(ctx context.Context, svc *workflow.Service) error {
		report, err := svc.CheckDrift(ctx, kinds...)
		if err != nil {
			return WrapExitError(ExitFailure, "drift check", err)
		}
		return out.Success(report, func(w io.Writer) {
			rows := [][]string{}
			for _, f := range append(report.MissingLocal[:len(report.MissingLocal):len(report.MissingLocal)], report.MissingLedger...) {
				rows = append(rows, []string{f.CheckType, string(f.Kind), f.EntityId})
			}
			for kind, msg := range report.Unreadable {
				rows = append(rows, []string{"UNREADABLE", string(kind), msg})
			}
			if len(rows) == 0 {
				fmt.Fprintln(w, "no drift")
				return
			}
			table(w, []string{"CHECK", "KIND", "ID"}, rows)
		})
	})
}
