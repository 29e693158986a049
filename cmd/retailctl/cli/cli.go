// Package cli implements the retailctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

// ErrDriftFound is returned by the drift command when any drift is reported.
var ErrDriftFound = errors.New("stock drift found")

// Settler recomputes an order's settlement from its completed payments.
type Settler interface {
	Reconcile(ctx context.Context, orderID int64) (payments.Settlement, error)
}

// DriftScanner reports ledger and area drift.
type DriftScanner interface {
	Scan(ctx context.Context) (jobs.DriftReport, error)
}

// Runtime holds the dependencies a command needs. Close is optional.
type Runtime struct {
	Migrate func(ctx context.Context) ([]string, error)
	Settler Settler
	Drift   DriftScanner
	Enqueue func(ctx context.Context, task string) (string, error)
	Close   func()
}

// Opener builds a Runtime on demand so help and flag errors never dial the database.
type Opener func(ctx context.Context) (*Runtime, error)

// NewRootCommand returns the retailctl command tree.
func NewRootCommand(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "retailctl",
		Short:         "Operator tooling for the retail inventory service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newMigrateCommand(open),
		newReconcileCommand(open),
		newDriftCommand(open),
		newEnqueueCommand(open),
	)
	return root
}

func withRuntime(cmd *cobra.Command, open Opener, fn func(context.Context, *Runtime) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := open(ctx)
	if err != nil {
		return err
	}
	if rt.Close != nil {
		defer rt.Close()
	}
	return fn(ctx, rt)
}

func newMigrateCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if rt.Migrate == nil {
					return errors.New("migrate: not configured")
				}
				applied, err := rt.Migrate(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(applied) == 0 {
					fmt.Fprintln(out, "schema up to date")
					return nil
				}
				for _, name := range applied {
					fmt.Fprintf(out, "applied %s\n", name)
				}
				return nil
			})
		},
	}
}

func newReconcileCommand(open Opener) *cobra.Command {
	var (
		jsonOutput  bool
		concurrency int
	)
	cmd := &cobra.Command{
		Use:   "reconcile ORDER_ID...",
		Short: "Recompute order settlement from completed payments",
		Example: `  retailctl reconcile 41 42
  retailctl reconcile --json 41`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				return errors.New("concurrency must be positive")
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if rt.Settler == nil {
					return errors.New("reconcile: not configured")
				}
				results := make([]payments.Settlement, len(ids))
				g, gctx := errgroup.WithContext(ctx)
				g.SetLimit(concurrency)
				for i, id := range ids {
					g.Go(func() error {
						settlement, err := rt.Settler.Reconcile(gctx, id)
						if err != nil {
							return fmt.Errorf("order %d: %w", id, err)
						}
						results[i] = settlement
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}
				return writeSettlements(cmd.OutOrStdout(), results, jsonOutput)
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print settlements as JSON")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Orders reconciled in parallel")
	return cmd
}

func writeSettlements(w io.Writer, results []payments.Settlement, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, s := range results {
		fmt.Fprintf(w, "order %d status=%s net=%s paid=%s remaining=%s\n",
			s.OrderID, s.Status, s.Net.StringFixed(2), s.Paid.StringFixed(2), s.Remaining.StringFixed(2))
	}
	return nil
}

func newDriftCommand(open Opener) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Report products whose stock disagrees with the ledger or warehouse areas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if rt.Drift == nil {
					return errors.New("drift: not configured")
				}
				report, err := rt.Drift.Scan(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOutput {
					if err := json.NewEncoder(out).Encode(report); err != nil {
						return err
					}
				} else {
					for _, d := range report.Ledger {
						fmt.Fprintf(out, "ledger product=%d code=%s on_hand=%d ledger_sum=%d\n", d.ProductID, d.Code, d.OnHand, d.LedgerSum)
					}
					for _, d := range report.Areas {
						fmt.Fprintf(out, "areas product=%d on_hand=%d area_total=%d\n", d.ProductID, d.OnHand, d.AreaTotal)
					}
					if report.Clean() {
						fmt.Fprintln(out, "no drift")
					}
				}
				if !report.Clean() {
					return ErrDriftFound
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func newEnqueueCommand(open Opener) *cobra.Command {
	return &cobra.Command{
		Use:       "enqueue TASK",
		Short:     "Enqueue a background task for the worker",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskExpireQR, jobs.TaskDriftScan},
		RunE: func(cmd *cobra.Command, args []string) error {
			task := args[0]
			if task != jobs.TaskExpireQR && task != jobs.TaskDriftScan {
				return fmt.Errorf("unsupported task %q", task)
			}
			return withRuntime(cmd, open, func(ctx context.Context, rt *Runtime) error {
				if rt.Enqueue == nil {
					return errors.New("enqueue: not configured")
				}
				id, err := rt.Enqueue(ctx, task)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s\n", task, id)
				return nil
			})
		},
	}
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid order id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// EnqueueWith adapts a jobs.Client to Runtime.Enqueue.
func EnqueueWith(client *jobs.Client) func(context.Context, string) (string, error) {
	return func(ctx context.Context, task string) (string, error) {
		var (
			info *asynq.TaskInfo
			err  error
		)
		switch task {
		case jobs.TaskExpireQR:
			info, err = client.EnqueueExpireQR(ctx, time.Now())
		case jobs.TaskDriftScan:
			info, err = client.EnqueueDriftScan(ctx, time.Now())
		default:
			return "", fmt.Errorf("unsupported task %q", task)
		}
		if err != nil {
			return "", err
		}
		return info.ID, nil
	}
}
