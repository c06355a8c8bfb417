package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/models"
	"github.com/paddyledger/paddy_backend/workflow"
	"github.com/spf13/cobra"
)

type listFlags struct {
	Role      string
	PartyId   string
	State     []string
	CheckType string
	Kind      string
	Limit     int
}

func NewListCommand(opts *RootOptions) *cobra.Command {
	flags := &listFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored parties, operations and reconciliation results",
	}
	cmd.PersistentFlags().IntVar(&flags.Limit, "limit", 50, "Maximum rows")

	parties := listSub("parties", "Registered parties", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		var role models.Role
		if flags.Role != "" {
			r, err := models.ParseRole(flags.Role)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid role", Err: err}
			}
			role = r
		}
		rows := svc.ListParties(ctx, role)
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, p := range rows {
				out = append(out, []string{p.ID, string(p.Role), p.DisplayName(), p.District})
			}
			table(w, []string{"ID", "ROLE", "NAME", "DISTRICT"}, out)
		})
	})
	parties.Flags().StringVar(&flags.Role, "role", "", "Only parties of this role")

	transactions := listSub("transactions", "Stock transfers, newest first", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		rows := svc.ListTransactions(ctx, models.HistoryFilter{PartyId: flags.PartyId, Limit: flags.Limit})
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, t := range rows {
				out = append(out, []string{
					t.TransactedAt.Format(time.RFC3339), t.FromPartyId, t.ToPartyId,
					t.Commodity, string(t.Bucket), t.Quantity.String(),
				})
			}
			table(w, []string{"AT", "FROM", "TO", "COMMODITY", "BUCKET", "QUANTITY"}, out)
		})
	})
	transactions.Flags().StringVar(&flags.PartyId, "party", "", "Only transfers touching this party")

	stock := listSub("stock", "Stock balances of one party", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		if flags.PartyId == "" {
			return &ExitError{Code: ExitCommandError, Message: "--party is required"}
		}
		rows, err := svc.GetStock(ctx, flags.PartyId)
		if err != nil {
			return WrapExitError(ExitFailure, "stock", err)
		}
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, b := range rows {
				out = append(out, []string{b.Commodity, string(b.Bucket), b.Amount.String()})
			}
			table(w, []string{"COMMODITY", "BUCKET", "AMOUNT"}, out)
		})
	})
	stock.Flags().StringVar(&flags.PartyId, "party", "", "Party id")

	operations := listSub("operations", "Ledger mirror rows, newest first", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		rows := svc.ListOperations(ctx, flags.Limit, flags.State...)
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, m := range rows {
				block := "-"
				if m.BlockNumber != nil {
					block = strconv.FormatUint(*m.BlockNumber, 10)
				}
				out = append(out, []string{m.OperationRef, m.Kind, m.Mode, m.State, m.EntityId, block})
			}
			table(w, []string{"REF", "KIND", "MODE", "STATE", "ENTITY", "BLOCK"}, out)
		})
	})
	operations.Flags().StringSliceVar(&flags.State, "state", nil, "Only rows in these states")

	reports := listSub("reports", "Reconciliation findings, newest first", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		rows := svc.ListReports(ctx, flags.CheckType, flags.Limit)
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{r.CreatedAt.Format(time.RFC3339), r.CheckType, r.EntityType, r.EntityId})
			}
			table(w, []string{"AT", "CHECK", "KIND", "ID"}, out)
		})
	})
	reports.Flags().StringVar(&flags.CheckType, "check-type", "", "Only this check type, e.g. MISSING_LOCAL")

	runs := listSub("runs", "Reconciliation runs, newest first", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		kind := flags.Kind
		if kind != "" {
			k, ok := ledger.ParseKind(kind)
			if !ok {
				return &ExitError{Code: ExitCommandError, Message: fmt.Sprintf("unknown entity kind %q", kind)}
			}
			kind = string(k)
		}
		rows := svc.ListRuns(ctx, kind, flags.Limit)
		return f.Success(rows, func(w io.Writer) {
			out := make([][]string, 0, len(rows))
			for _, r := range rows {
				out = append(out, []string{
					strconv.FormatUint(uint64(r.ID), 10), r.Kind, r.Status, r.Strategy,
					strconv.Itoa(r.RecordsFound), fmt.Sprintf("%d-%d", r.FromBlock, r.ToBlock),
				})
			}
			table(w, []string{"ID", "KIND", "STATUS", "STRATEGY", "RECORDS", "BLOCKS"}, out)
		})
	})
	runs.Flags().StringVar(&flags.Kind, "kind", "", "Only runs of this entity kind")

	stats := listSub("stats", "Registered parties per role", opts, func(ctx context.Context, svc *workflow.Service, f *formatter) error {
		s := svc.PartyStats(ctx)
		return f.Success(s, func(w io.Writer) {
			out := make([][]string, 0, len(s.ByRole)+1)
			for _, r := range models.AllRoles() {
				out = append(out, []string{string(r), strconv.FormatInt(s.ByRole[r], 10)})
			}
			out = append(out, []string{"total", strconv.FormatInt(s.Total, 10)})
			table(w, []string{"ROLE", "PARTIES"}, out)
		})
	})

	cmd.AddCommand(parties, transactions, stock, operations, reports, runs, stats)
	return cmd
}

func listSub(use, short string, opts *RootOptions, fn func(ctx context.Context, svc *workflow.Service, f *formatter) error) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			return withService(cmd, opts, func(ctx context.Context, svc *workflow.Service) error {
				return fn(ctx, svc, f)
			})
		},
	}
}
