package state

import (
	"time"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
)

// Status : lifecycle of a transfer item
//
//	PENDING -> IN_PROGRESS -> COMPLETED | FAILED | CANCELLED
//	PENDING -> CANCELLED
//	FAILED  -> PENDING (retry only)
type Status string

const (
	Pending    Status = "PENDING"
	InProgress Status = "IN_PROGRESS"
	Completed  Status = "COMPLETED"
	Failed     Status = "FAILED"
	Cancelled  Status = "CANCELLED"
)

// Terminal : no automatic transition leaves a terminal status
func (s Status) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Item : the tracked unit of work, one per selected object
type Item struct {
	Name               string          `json:"name"`
	Kind               catalog.Kind    `json:"kind"`
	Status             Status          `json:"status"`
	ProgressPercent    int             `json:"progress_percent"`
	RecordsTransferred int64           `json:"records_transferred"`
	TotalRecords       int64           `json:"total_records"`
	Error              *errclass.Error `json:"error,omitempty"`
	Attempt            int             `json:"attempt"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	FinishedAt         *time.Time      `json:"finished_at,omitempty"`
}

// Event : one accepted mutation
type Event struct {
	Seq  uint64    `json:"seq"`
	Prev Status    `json:"prev"`
	Item Item      `json:"item"`
	At   time.Time `json:"at"`
}

// expectedTotal : a query or procedure is one unit, a table its estimate when known
func expectedTotal(o catalog.Object) int64 {
	if !o.Kind.RowBearing() {
		return 1
	}
	if o.EstimatedRecordCount != nil && *o.EstimatedRecordCount > 0 {
		return *o.EstimatedRecordCount
	}
	return 0
}

func percent(done, total int64) int {
	if total <= 0 {
		return 100
	}
	p := done * 100 / total
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}
