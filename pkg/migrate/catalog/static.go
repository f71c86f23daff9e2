package catalog

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// Static : a catalog backed by a fixed list, in listing order
type Static []Object

// ListObjects : returns a copy of the list
func (s Static) ListObjects(ctx context.Context) ([]Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w : %v", ErrSourceUnavailable, err)
	}
	out := make([]Object, len(s))
	copy(out, s)
	return out, nil
}

// Index : keys objects by name
func Index(objs []Object) map[string]Object {
	return lo.KeyBy(objs, func(o Object) string { return o.Name })
}
