package progress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

func item(st state.Status, pct int, total int64) state.Item {
	return state.Item{Status: st, ProgressPercent: pct, TotalRecords: total}
}

func TestOverall(t *testing.T) {
	tests := []struct {
		name  string
		items []state.Item
		want  float64
	}{
		{"empty", nil, 0},
		{"all completed", []state.Item{item(state.Completed, 100, 1250), item(state.Completed, 100, 1)}, 100},
		{"zero row item completed", []state.Item{item(state.Completed, 100, 0)}, 100},
		{
			"large table dominates",
			[]state.Item{item(state.Completed, 100, 5000), item(state.Pending, 0, 0)},
			100 * 5000.0 / 5001.0,
		},
		{
			"partial progress",
			[]state.Item{item(state.InProgress, 40, 1000), item(state.Completed, 100, 1000)},
			70,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, Overall(tt.items), 0.0001)
		})
	}
}

func TestOverall_NeverGoesBackwards(t *testing.T) {
	s := state.NewStore([]catalog.Object{
		{Name: "Shippers", Kind: catalog.KindTable, EstimatedRecordCount: catalog.Count(3)},
		{Name: "Orders", Kind: catalog.KindTable, EstimatedRecordCount: catalog.Count(5000)},
		{Name: "TopCustomers", Kind: catalog.KindQuery},
	})
	last := Overall(s.Snapshot())
	require.Zero(t, last)
	step := func(_ state.Item, err error) {
		t.Helper()
		require.NoError(t, err)
		now := Overall(s.Snapshot())
		require.GreaterOrEqual(t, now, last)
		last = now
	}

	step(s.Begin("Shippers", 3))
	step(s.Progress("Shippers", 3))
	step(s.Complete("Shippers"))
	require.InDelta(t, 100*3.0/5004.0, last, 0.0001, "a small table barely moves it")

	step(s.Begin("Orders", 5000))
	step(s.Progress("Orders", 2500))
	require.InDelta(t, 100*2503.0/5004.0, last, 0.0001)
	step(s.Complete("Orders"))
	step(s.Begin("TopCustomers", 1))
	step(s.Complete("TopCustomers"))
	require.Equal(t, 100.0, last)
}

func TestSummarize(t *testing.T) {
	items := []state.Item{
		item(state.Pending, 0, 0),
		item(state.InProgress, 10, 10),
		item(state.Completed, 100, 10),
		item(state.Failed, 30, 10),
		item(state.Cancelled, 0, 10),
		item(state.Completed, 100, 1),
	}
	sum := Summarize(items)
	require.Equal(t, Summary{Total: 6, Pending: 1, InProgress: 1, Completed: 2, Failed: 1, Cancelled: 1}, sum)
	require.Equal(t, sum.Total, sum.Pending+sum.InProgress+sum.Completed+sum.Failed+sum.Cancelled)
	require.Equal(t, 2, sum.Active())
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		name      string
		items     []state.Item
		started   bool
		cancelled bool
		want      SessionStatus
	}{
		{"not started", []state.Item{item(state.Pending, 0, 0)}, false, false, NotStarted},
		{"running", []state.Item{item(state.Completed, 100, 1), item(state.Pending, 0, 0)}, true, false, Running},
		{"completed", []state.Item{item(state.Completed, 100, 1), item(state.Completed, 100, 5)}, true, false, Completed},
		{"failed sibling", []state.Item{item(state.Completed, 100, 1), item(state.Failed, 40, 5)}, true, false, CompletedWithErrors},
		{"cancelled before anything completed", []state.Item{item(state.Cancelled, 0, 0), item(state.Cancelled, 0, 5)}, true, true, Cancelled},
		{"cancelled, still winding down", []state.Item{item(state.InProgress, 10, 10), item(state.Cancelled, 0, 0)}, true, true, Running},
		{"cancelled after a completion", []state.Item{item(state.Completed, 100, 10), item(state.Cancelled, 0, 0)}, true, true, CompletedWithErrors},
		{"cancelled with failure only", []state.Item{item(state.Failed, 0, 10), item(state.Cancelled, 0, 0)}, true, true, Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StatusOf(tt.items, tt.started, tt.cancelled))
		})
	}
}
