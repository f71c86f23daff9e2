// package progress
//
// read only derivations over a snapshot of transfer items
package progress

import (
	"math"

	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

// SessionStatus : derived status of a whole session
type SessionStatus string

const (
	NotStarted          SessionStatus = "NOT_STARTED"
	Running             SessionStatus = "RUNNING"
	Completed           SessionStatus = "COMPLETED"
	CompletedWithErrors SessionStatus = "COMPLETED_WITH_ERRORS"
	Cancelled           SessionStatus = "CANCELLED"
)

// Terminal : true once nothing is left to run
func (s SessionStatus) Terminal() bool {
	return s == Completed || s == CompletedWithErrors || s == Cancelled
}

// Summary : item counts by status. The counts always add up to Total.
type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Active : items still pending or running
func (s Summary) Active() int {
	return s.Pending + s.InProgress
}

// Summarize : counts items by status
func Summarize(items []state.Item) Summary {
	sum := Summary{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case state.Pending:
			sum.Pending++
		case state.InProgress:
			sum.InProgress++
		case state.Completed:
			sum.Completed++
		case state.Failed:
			sum.Failed++
		case state.Cancelled:
			sum.Cancelled++
		}
	}
	return sum
}

// Weight : how much an item counts toward the overall percentage
func Weight(it state.Item) int64 {
	if it.TotalRecords < 1 {
		return 1
	}
	return it.TotalRecords
}

// Overall : weighted completion in [0,100]. Items weigh max(totalRecords,1) so big tables
// dominate the figure. Pending items weigh their catalog estimate.
func Overall(items []state.Item) float64 {
	var done, total float64
	for _, it := range items {
		w := float64(Weight(it))
		total += w
		pct := it.ProgressPercent
		if it.Status == state.Completed {
			pct = 100
		}
		done += w * float64(pct) / 100
	}
	if total == 0 {
		return 0
	}
	return math.Min(100, 100*done/total)
}

// StatusOf : session status from its items.
//
// Cancelled wins when the session was cancelled and no item completed once in-flight work has
// stopped. Otherwise any pending or running item keeps the session running, and a finished
// session is completed only when every item completed.
func StatusOf(items []state.Item, started bool, cancelled bool) SessionStatus {
	if !started {
		return NotStarted
	}
	sum := Summarize(items)
	switch {
	case sum.Active() > 0:
		if cancelled && sum.InProgress == 0 && sum.Completed == 0 {
			return Cancelled
		}
		return Running
	case cancelled && sum.Completed == 0:
		return Cancelled
	case sum.Completed == sum.Total:
		return Completed
	default:
		return CompletedWithErrors
	}
}
