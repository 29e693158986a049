package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/inventory"
	"github.com/odyssey-erp/odyssey-retail/internal/inventory/areas"
	"github.com/odyssey-erp/odyssey-retail/internal/sales/payments"
	sales "github.com/odyssey-erp/odyssey-retail/internal/sales/shared"
	"github.com/odyssey-erp/odyssey-retail/jobs"
)

type stubSettler struct {
	calls atomic.Int32
	fail  int64
}

func (s *stubSettler) Reconcile(_ context.Context, orderID int64) (payments.Settlement, error) {
	s.calls.Add(1)
	if orderID == s.fail {
		return payments.Settlement{}, errors.New("not found")
	}
	return payments.Settlement{
		OrderID:   orderID,
		Status:    sales.OrderStatusPaid,
		Net:       decimal.NewFromInt(100),
		Paid:      decimal.NewFromInt(100),
		Remaining: decimal.Zero,
		FullyPaid: true,
	}, nil
}

type stubScanner struct {
	report jobs.DriftReport
}

func (s stubScanner) Scan(context.Context) (jobs.DriftReport, error) {
	return s.report, nil
}

func run(t *testing.T, rt *Runtime, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(context.Context) (*Runtime, error) {
		return rt, nil
	})
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateReportsAppliedFiles(t *testing.T) {
	closed := false
	rt := &Runtime{
		Migrate: func(context.Context) ([]string, error) { return []string{"0001_init.sql"}, nil },
		Close:   func() { closed = true },
	}
	out, err := run(t, rt, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "applied 0001_init.sql")
	require.True(t, closed)

	rt.Migrate = func(context.Context) ([]string, error) { return nil, nil }
	out, err = run(t, rt, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "schema up to date")
}

func TestReconcileKeepsArgumentOrder(t *testing.T) {
	settler := &stubSettler{}
	out, err := run(t, &Runtime{Settler: settler}, "reconcile", "--json", "7", "3", "9")
	require.NoError(t, err)
	require.EqualValues(t, 3, settler.calls.Load())

	var results []payments.Settlement
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 3)
	require.EqualValues(t, 7, results[0].OrderID)
	require.EqualValues(t, 3, results[1].OrderID)
	require.EqualValues(t, 9, results[2].OrderID)
}

func TestReconcileTextAndErrors(t *testing.T) {
	settler := &stubSettler{fail: 5}
	out, err := run(t, &Runtime{Settler: settler}, "reconcile", "4")
	require.NoError(t, err)
	require.Contains(t, out, "order 4 status=PAID net=100.00 paid=100.00 remaining=0.00")

	_, err = run(t, &Runtime{Settler: settler}, "reconcile", "5")
	require.ErrorContains(t, err, "order 5")

	_, err = run(t, &Runtime{Settler: settler}, "reconcile", "abc")
	require.ErrorContains(t, err, "invalid order id")
}

func TestDriftCommandSignalsFindings(t *testing.T) {
	out, err := run(t, &Runtime{Drift: stubScanner{}}, "drift")
	require.NoError(t, err)
	require.Contains(t, out, "no drift")

	report := jobs.DriftReport{
		Ledger: []inventory.Drift{{ProductID: 1, Code: "SKU-1", OnHand: 4, LedgerSum: 3}},
		Areas:  []areas.Drift{{ProductID: 2, OnHand: 5, AreaTotal: 6}},
	}
	out, err = run(t, &Runtime{Drift: stubScanner{report: report}}, "drift")
	require.ErrorIs(t, err, ErrDriftFound)
	require.Contains(t, out, "ledger product=1 code=SKU-1 on_hand=4 ledger_sum=3")
	require.Contains(t, out, "areas product=2 on_hand=5 area_total=6")
}

func TestHelpDoesNotOpenRuntime(t *testing.T) {
	root := NewRootCommand(func(context.Context) (*Runtime, error) {
		t.Fatal("runtime opened for help")
		return nil, nil
	})
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"reconcile", "--help"})
	require.NoError(t, root.Execute())
}

func TestEnqueueValidatesTask(t *testing.T) {
	var got string
	rt := &Runtime{Enqueue: func(_ context.Context, task string) (string, error) {
		got = task
		return "abc", nil
	}}
	out, err := run(t, rt, "enqueue", jobs.TaskDriftScan)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskDriftScan, got)
	require.Contains(t, out, "id=abc")

	_, err = run(t, rt, "enqueue", "mail:send")
	require.ErrorContains(t, err, "unsupported task")
}
