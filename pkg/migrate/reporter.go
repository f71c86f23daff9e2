package migrate

import (
	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

// logReporter : status changes at info, failures at error, progress ticks at debug
func logReporter(log zerolog.Logger) Reporter {
	return func(sessionID string, e state.Event) {
		var ev *zerolog.Event
		switch {
		case e.Item.Status == state.Failed:
			ev = log.Error()
			if e.Item.Error != nil {
				ev = ev.Str("class", string(e.Item.Error.Class)).Str("error", e.Item.Error.Message)
				if e.Item.Error.RowID != "" {
					ev = ev.Str("row_id", e.Item.Error.RowID)
				}
			}
		case e.Prev == e.Item.Status:
			ev = log.Debug()
		default:
			ev = log.Info()
		}
		ev.
			Str("session", sessionID).
			Uint64("seq", e.Seq).
			Str("object", e.Item.Name).
			Str("from", string(e.Prev)).
			Str("to", string(e.Item.Status)).
			Int("progress", e.Item.ProgressPercent).
			Int64("records", e.Item.RecordsTransferred).
			Int("attempt", e.Item.Attempt).
			Msg("item changed")
	}
}
