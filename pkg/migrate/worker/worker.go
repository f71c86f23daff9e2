// package worker
//
// runs one object's transfer end to end, reporting every step to the state store
package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baderkha/access-transfer/pkg/migrate/catalog"
	"github.com/baderkha/access-transfer/pkg/migrate/connection"
	"github.com/baderkha/access-transfer/pkg/migrate/copier"
	"github.com/baderkha/access-transfer/pkg/migrate/errclass"
	"github.com/baderkha/access-transfer/pkg/migrate/state"
)

// DefaultBatchTimeout : used when Options leaves it unset
const DefaultBatchTimeout = 30 * time.Second

// CancelFlag : cooperative cancellation, polled between batches
type CancelFlag interface {
	Cancelled() bool
}

type Options struct {
	// BatchTimeout bounds every blocking step against the target
	BatchTimeout time.Duration
}

// Worker : stateless between runs, safe to share across goroutines
type Worker struct {
	store   *state.Store
	copiers copier.Registry
	conns   connection.Provider
	opts    Options
	log     zerolog.Logger
}

func New(store *state.Store, copiers copier.Registry, conns connection.Provider, opts Options, log zerolog.Logger) *Worker {
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = DefaultBatchTimeout
	}
	return &Worker{store: store, copiers: copiers, conns: conns, opts: opts, log: log}
}

type run struct {
	*Worker
	ctx    context.Context
	obj    catalog.Object
	cancel CancelFlag
	log    zerolog.Logger
}

// Run : transfers obj with the given batch size and returns the item's final state.
// Failures are recorded on the item, never returned.
func (w *Worker) Run(ctx context.Context, obj catalog.Object, batchSize int, cancel CancelFlag) state.Item {
	r := &run{
		Worker: w,
		ctx:    ctx,
		obj:    obj,
		cancel: cancel,
		log:    w.log.With().Str("object", obj.Name).Str("kind", string(obj.Kind)).Logger(),
	}
	r.execute(batchSize)
	it, _ := w.store.Get(obj.Name)
	return it
}

func (r *run) stopRequested() bool {
	return r.ctx.Err() != nil || (r.cancel != nil && r.cancel.Cancelled())
}

func (r *run) execute(batchSize int) {
	if r.stopRequested() {
		r.cancelItem()
		return
	}
	cp, err := r.copiers.For(r.obj.Kind)
	if err != nil {
		r.beginAndFail(errclass.New(errclass.Unclassified, err))
		return
	}

	total, err := r.resolveTotal(cp)
	if err != nil {
		r.beginAndFail(err)
		return
	}
	it, err := r.store.Begin(r.obj.Name, total)
	if err != nil {
		r.log.Debug().Err(err).Msg("not started")
		return
	}
	r.log.Info().Int64("total_records", total).Int("attempt", it.Attempt).Msg("transfer started")

	// a pending item never holds a connection, only acquire once we are in progress
	var conn *sql.Conn
	if err := r.step(func(ctx context.Context) error {
		var aerr error
		conn, aerr = r.conns.Acquire(ctx)
		return aerr
	}, errclass.ConnectionLost); err != nil {
		r.settle(err)
		return
	}
	defer r.conns.Release(conn)

	if err := r.step(func(ctx context.Context) error {
		return cp.CreateSchema(ctx, r.obj, conn)
	}, errclass.SchemaCreation); err != nil {
		r.settle(err)
		return
	}

	if r.obj.Kind.RowBearing() && total == 0 {
		r.log.Debug().Msg("no rows to copy")
	} else if err := r.copyBatches(cp, conn, batchSize); err != nil {
		r.settle(err)
		return
	}

	if err := r.step(func(ctx context.Context) error {
		return cp.Finalize(ctx, r.obj, conn)
	}, errclass.SchemaCreation); err != nil {
		r.settle(err)
		return
	}
	if it, err = r.store.Complete(r.obj.Name); err != nil {
		r.log.Warn().Err(err).Msg("could not complete")
		return
	}
	r.log.Info().Int64("records", it.RecordsTransferred).Msg("transfer completed")
}

var errCancelled = errors.New("cancelled")

func (r *run) copyBatches(cp copier.Copier, conn *sql.Conn, batchSize int) error {
	var (
		cur       copier.Cursor
		committed int64
	)
	defer func() {
		if cur != nil {
			if err := cur.Close(); err != nil {
				r.log.Warn().Err(err).Msg("closing cursor")
			}
		}
	}()
	for {
		if r.stopRequested() {
			return errCancelled
		}
		var b copier.Batch
		err := r.step(func(ctx context.Context) error {
			var berr error
			b, berr = cp.CopyBatch(ctx, r.obj, cur, batchSize, conn)
			return berr
		}, errclass.Unclassified)
		if b.Next != nil {
			cur = b.Next
		}
		if err != nil {
			return err
		}
		committed += b.Rows
		if _, err := r.store.Progress(r.obj.Name, committed); err != nil {
			return errclass.New(errclass.Unclassified, err)
		}
		if b.Final {
			return nil
		}
	}
}

// step runs one blocking call under the batch deadline. Errors come back classified, with
// fallback used for anything the taxonomy doesn't recognise. A stop requested from the
// parent context comes back as errCancelled.
func (r *run) step(fn func(ctx context.Context) error, fallback errclass.Class) error {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.BatchTimeout)
	defer cancel()
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if r.ctx.Err() != nil {
		return errCancelled
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errclass.New(errclass.Timeout, fmt.Errorf("exceeded %s : %w", r.opts.BatchTimeout, err))
	}
	ce := errclass.Classify(err)
	if ce.Class == errclass.Unclassified && fallback != errclass.Unclassified {
		ce = errclass.New(fallback, err)
	}
	return ce
}

func (r *run) settle(err error) {
	if errors.Is(err, errCancelled) {
		r.cancelItem()
		return
	}
	ce := errclass.Classify(err)
	if _, serr := r.store.Fail(r.obj.Name, ce); serr != nil {
		r.log.Warn().Err(serr).Msg("could not record failure")
		return
	}
	r.log.Error().Str("class", string(ce.Class)).Str("row_id", ce.RowID).Err(err).Msg("transfer failed")
}

func (r *run) cancelItem() {
	if _, err := r.store.Cancel(r.obj.Name); err != nil {
		r.log.Debug().Err(err).Msg("not cancelled")
		return
	}
	r.log.Info().Msg("transfer cancelled")
}

// beginAndFail : for failures found before the item could start, so they still land on it
func (r *run) beginAndFail(cause error) {
	if errors.Is(cause, errCancelled) {
		r.cancelItem()
		return
	}
	// keep the expected total so the item's weight does not change
	pending, _ := r.store.Get(r.obj.Name)
	if _, err := r.store.Begin(r.obj.Name, pending.TotalRecords); err != nil {
		return
	}
	r.settle(cause)
}

// resolveTotal : tables use the catalog estimate or ask the copier, everything else is one unit
func (r *run) resolveTotal(cp copier.Copier) (int64, error) {
	if !r.obj.Kind.RowBearing() {
		return 1, nil
	}
	if r.obj.EstimatedRecordCount != nil {
		return *r.obj.EstimatedRecordCount, nil
	}
	rc, ok := cp.(copier.RowCounter)
	if !ok {
		return 0, fmt.Errorf("%s has no record count and its copier cannot count rows", r.obj.Name)
	}
	var n int64
	err := r.step(func(ctx context.Context) error {
		var cerr error
		n, cerr = rc.CountRows(ctx, r.obj)
		return cerr
	}, errclass.ConnectionLost)
	return n, err
}
