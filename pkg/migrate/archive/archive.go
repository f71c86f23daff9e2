// package archive
//
// persists the final snapshot of a session as a name -> item document, partitioned by
// date and run id, and reads it back for resuming
package archive

import (
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/spf13/afero"

	"github.com/baderkha/access-transfer/pkg/migrate"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

const FileName = "snapshot.json"

// Document : what gets written, one entry per item of the session
type Document map[string]state.Item

func NewDocument(snap migrate.Snapshot) Document {
	doc := make(Document, len(snap.Items))
	for _, it := range snap.Items {
		doc[it.Name] = it
	}
	return doc
}

// Key : <prefix>/date=YYYY-MM-DD/run_id=<id>/snapshot.json, dated by the session start
func Key(prefix string, snap migrate.Snapshot, now time.Time) string {
	if snap.StartedAt != nil {
		now = *snap.StartedAt
	}
	return path.Join(prefix, "date="+now.UTC().Format(time.DateOnly), "run_id="+snap.ID, FileName)
}

func encode(snap migrate.Snapshot) ([]byte, error) {
	b, err := json.MarshalIndent(NewDocument(snap), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot %s : %w", snap.ID, err)
	}
	return b, nil
}

// Load : reads a document written by File. The result feeds migrate.WithResume.
func Load(fs afero.Fs, p string) (Document, error) {
	b, err := afero.ReadFile(fs, p)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s : %w", p, err)
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s : %w", p, err)
	}
	for name, it := range doc {
		it.Name = name
		doc[name] = it
	}
	return doc, nil
}
