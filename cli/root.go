// Package cli implements paddyctl, the operator command line for the ledger
// backend: reconciliation runs, drift checks, listings and snapshot export.
package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/paddyledger/paddy_backend/config"
	"github.com/paddyledger/paddy_backend/ledger"
	"github.com/paddyledger/paddy_backend/workflow"
	"github.com/spf13/cobra"
)

var ValidFormats = []string{"text", "json"}

// ServiceFactory opens the service the commands run against. The returned
// func releases it.
type ServiceFactory func(ctx context.Context) (*workflow.Service, func(), error)

type RootOptions struct {
	Verbose bool
	Format  string

	// Open defaults to the environment-configured service.
	Open ServiceFactory
}

func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith builds the command tree around opts; tests inject Open.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	if opts.Open == nil {
		opts.Open = openFromEnv
	}

	cmd := &cobra.Command{
		Use:           "paddyctl",
		Short:         "Operate the paddy ledger backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return &ExitError{
					Code:    ExitCommandError,
					Message: fmt.Sprintf("invalid format %q, must be one of: %s", opts.Format, strings.Join(ValidFormats, ", ")),
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "Output format (text|json)")

	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewDriftCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

func openFromEnv(ctx context.Context) (*workflow.Service, func(), error) {
	config.ConnectDatabaseWithRetry()
	return workflow.NewServiceFromEnv(ctx, config.GetDB(), nil)
}

// withService opens the service for the duration of fn.
func withService(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, svc *workflow.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, stop, err := opts.Open(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "open service", err)
	}
	defer stop()
	return fn(ctx, svc)
}

func parseKinds(args []string) ([]ledger.EntityKind, error) {
	kinds := make([]ledger.EntityKind, 0, len(args))
	for _, raw := range args {
		k, ok := ledger.ParseKind(raw)
		if !ok {
			return nil, &ExitError{
				Code:    ExitCommandError,
				Message: fmt.Sprintf("unknown entity kind %q", raw),
				Err:     ledger.ErrUnsupported,
			}
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitCommandError = 2
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitSuccess for nil and ExitFailure for plain errors.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}
