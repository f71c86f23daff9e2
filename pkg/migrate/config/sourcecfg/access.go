package sourcecfg

import (
	"errors"

	"github.com/hashicorp/go-multierror"
)

// Access : the legacy desktop database we read from. Rows are read through database/sql using
// whichever driver the build registers under Driver (odbc by default).
type Access struct {
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
	// Manifest is the exported object list the catalog is read from
	Manifest     string   `json:"manifest" yaml:"manifest"`
	ObjectList   []string `json:"object_list" yaml:"object_list"`
	QueryLogging bool     `json:"query_log" yaml:"query_log"`
}

// DefaultDriver : database/sql driver name used when none is configured
const DefaultDriver = "odbc"

func (a *Access) Validate() error {
	var finalErr error
	if a.DSN == "" {
		finalErr = multierror.Append(finalErr, errors.New("source dsn is required"))
	}
	if a.Manifest == "" {
		finalErr = multierror.Append(finalErr, errors.New("source manifest is required"))
	}
	return finalErr
}
