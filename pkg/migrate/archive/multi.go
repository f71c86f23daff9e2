package archive

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"github.com/baderkha/access-transfer/pkg/migrate"
)

// Multi : archives to every destination, one failing does not stop the others
type Multi []migrate.Archiver

func (m Multi) Archive(ctx context.Context, snap migrate.Snapshot) error {
	var finalErr error
	for _, a := range m {
		if err := a.Archive(ctx, snap); err != nil {
			finalErr = multierror.Append(finalErr, err)
		}
	}
	return finalErr
}
